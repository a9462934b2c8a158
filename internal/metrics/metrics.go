// Package metrics exposes the Prometheus instrumentation for the consumer
// engine, following the teacher's promauto-based convention of package-level
// metric variables plus small Record*/Set* helper functions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksDequeued counts every row returned by the dequeue query,
	// whether or not it turned out to be due.
	TasksDequeued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aintq_tasks_dequeued_total",
			Help: "Total number of task rows locked by the dequeue query",
		},
	)

	// TasksCompleted counts tasks whose handler finished, by outcome.
	TasksCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aintq_tasks_completed_total",
			Help: "Total number of tasks run to completion, by outcome",
		},
		[]string{"name", "outcome"},
	)

	// TaskDuration observes handler execution time.
	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aintq_task_duration_seconds",
			Help:    "Task handler execution duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		},
		[]string{"name"},
	)

	// TasksNotFound counts dequeued rows whose name has no registered
	// handler.
	TasksNotFound = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aintq_tasks_handler_not_found_total",
			Help: "Total number of dequeued tasks with no registered handler",
		},
		[]string{"name"},
	)

	// QueueDepth reports the number of rows currently in aintq.tasks, as
	// sampled by the consumer each time it receives a new-task notification.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aintq_queue_depth",
			Help: "Current number of rows in the task table",
		},
	)

	// WorkersIdle reports how many workers are currently parked on the
	// semaphore.
	WorkersIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aintq_workers_idle",
			Help: "Current number of idle workers",
		},
	)

	// WorkersTotal reports how many workers are currently alive.
	WorkersTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aintq_workers_total",
			Help: "Current number of live workers",
		},
	)

	// TickerArmed counts every request to arm the shared ticker for a
	// not-yet-due task, including requests the ticker ignores because a
	// timer with an earlier or equal deadline is already armed.
	TickerArmed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aintq_ticker_armed_total",
			Help: "Total number of requests to arm the deferred-task ticker",
		},
	)

	// NotificationsReceived counts LISTEN/NOTIFY payloads received on the
	// enqueue channel.
	NotificationsReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aintq_notifications_received_total",
			Help: "Total number of new-task notifications received",
		},
	)

	// VacuumRuns counts periodic VACUUM ANALYZE runs triggered by the
	// deletion sequence.
	VacuumRuns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aintq_vacuum_runs_total",
			Help: "Total number of VACUUM ANALYZE runs triggered by the consumer",
		},
	)
)

// RecordDequeue records one dequeue query execution that returned a row.
func RecordDequeue() {
	TasksDequeued.Inc()
}

// RecordTaskCompletion records the outcome and duration of a finished task.
func RecordTaskCompletion(name, outcome string, durationSeconds float64) {
	TasksCompleted.WithLabelValues(name, outcome).Inc()
	TaskDuration.WithLabelValues(name).Observe(durationSeconds)
}

// RecordHandlerNotFound records a dequeued task with no registered handler.
func RecordHandlerNotFound(name string) {
	TasksNotFound.WithLabelValues(name).Inc()
}

// SetQueueDepth sets the queue depth gauge.
func SetQueueDepth(depth float64) {
	QueueDepth.Set(depth)
}

// SetWorkerCounts sets the idle and total worker gauges together.
func SetWorkerCounts(idle, total float64) {
	WorkersIdle.Set(idle)
	WorkersTotal.Set(total)
}

// RecordTickerArmed records one request to arm the ticker.
func RecordTickerArmed() {
	TickerArmed.Inc()
}

// RecordNotification records one LISTEN/NOTIFY payload received.
func RecordNotification() {
	NotificationsReceived.Inc()
}

// RecordVacuum records one periodic VACUUM ANALYZE run.
func RecordVacuum() {
	VacuumRuns.Inc()
}
