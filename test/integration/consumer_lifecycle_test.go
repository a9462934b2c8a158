//go:build integration

// Run with:
//
//	go test -tags integration -v ./test/integration/...
//
// Requires Docker (for testcontainers-go) and a reachable Docker socket.
package integration

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/decentfox/aintq/internal/consumer"
	"github.com/decentfox/aintq/internal/producer"
	"github.com/decentfox/aintq/internal/registry"
	"github.com/decentfox/aintq/internal/store"
)

// setupStore starts a PostgreSQL container, bootstraps the aintq schema
// against it, and returns a ready Store alongside a cleanup closure. Unlike
// the reference this is adapted from, there is no separate migrations
// directory to apply: Store.Bootstrap creates the schema, table, index,
// sequence, and notify trigger in-process.
func setupStore(t *testing.T) (*store.Store, func()) {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := tcpostgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:15-alpine"),
		tcpostgres.WithDatabase("aintq_test"),
		tcpostgres.WithUsername("aintq"),
		tcpostgres.WithPassword("secret"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	st, err := store.Open(ctx, connStr)
	require.NoError(t, err)

	require.NoError(t, st.Bootstrap(ctx))

	cleanup := func() {
		st.Close()
		require.NoError(t, pgContainer.Terminate(ctx))
	}
	return st, cleanup
}

// TestConsumer_EnqueueAndConsume verifies the end-to-end path: a producer
// enqueues a task, the notify trigger wakes an idle worker, the worker
// dequeues, runs the registered handler, and deletes the row.
func TestConsumer_EnqueueAndConsume(t *testing.T) {
	st, cleanup := setupStore(t)
	defer cleanup()

	var mu sync.Mutex
	var gotA, gotB float64
	done := make(chan struct{})

	reg := registry.New()
	reg.RegisterFunc("add", func(ctx context.Context, args []any, kwargs map[string]any) error {
		mu.Lock()
		gotA = args[0].(float64)
		gotB = kwargs["b"].(float64)
		mu.Unlock()
		close(done)
		return nil
	})

	c := consumer.New(st, reg, 2, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- c.Run(ctx) }()

	p := producer.New(st)
	require.NoError(t, p.Enqueue(ctx, "add", []any{float64(3)}, map[string]any{"b": float64(4)}, nil))

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("task was not consumed in time")
	}

	mu.Lock()
	assert.Equal(t, float64(3), gotA)
	assert.Equal(t, float64(4), gotB)
	mu.Unlock()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	require.NoError(t, c.Stop(shutdownCtx))

	select {
	case <-runErrCh:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer run loop did not exit after Stop")
	}
}

// TestConsumer_DeferredTaskWaitsForSchedule verifies a task scheduled in the
// future is not picked up until its delay has elapsed.
func TestConsumer_DeferredTaskWaitsForSchedule(t *testing.T) {
	st, cleanup := setupStore(t)
	defer cleanup()

	var ranAt time.Time
	var mu sync.Mutex
	done := make(chan struct{})

	reg := registry.New()
	reg.RegisterFunc("ping", func(ctx context.Context, args []any, kwargs map[string]any) error {
		mu.Lock()
		ranAt = time.Now()
		mu.Unlock()
		close(done)
		return nil
	})

	c := consumer.New(st, reg, 1, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- c.Run(ctx) }()

	p := producer.New(st)
	enqueuedAt := time.Now()
	require.NoError(t, p.EnqueueAfter(ctx, "ping", 2*time.Second, nil, nil))

	select {
	case <-done:
	case <-time.After(15 * time.Second):
		t.Fatal("deferred task was not consumed in time")
	}

	mu.Lock()
	elapsed := ranAt.Sub(enqueuedAt)
	mu.Unlock()
	assert.GreaterOrEqual(t, elapsed, 1500*time.Millisecond, "task ran before its schedule was due")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	require.NoError(t, c.Stop(shutdownCtx))

	select {
	case <-runErrCh:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer run loop did not exit after Stop")
	}
}

// TestConsumer_UnregisteredHandlerStillDeletesRow verifies a task with no
// matching handler is still removed from the queue rather than retried
// forever, since there is no persisted failure state to recover into.
func TestConsumer_UnregisteredHandlerStillDeletesRow(t *testing.T) {
	st, cleanup := setupStore(t)
	defer cleanup()

	reg := registry.New()
	c := consumer.New(st, reg, 1, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- c.Run(ctx) }()

	p := producer.New(st)
	require.NoError(t, p.Enqueue(ctx, "does-not-exist", nil, nil, nil))

	require.Eventually(t, func() bool {
		var count int
		err := st.Pool().QueryRow(ctx, `SELECT count(*) FROM aintq.tasks`).Scan(&count)
		return err == nil && count == 0
	}, 10*time.Second, 100*time.Millisecond, "row for unregistered handler was never cleaned up")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	require.NoError(t, c.Stop(shutdownCtx))

	select {
	case <-runErrCh:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer run loop did not exit after Stop")
	}
}
