// Package store is the PostgreSQL-backed persistence layer for the task
// queue: connection pooling, the dequeue query, savepoint-scoped task
// execution, the enqueue notification channel, and schema bootstrap.
//
// It follows the pgxpool idioms the rest of the retrieved corpus uses for
// Postgres access (connect, ping, defer Close; pool.QueryRow/Query/Exec with
// ctx first) rather than anything borrowed from the teacher's Redis layer,
// which has no equivalent here.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/decentfox/aintq/internal/task"
)

// sqlStateDuplicateObject and sqlStateDuplicateTable are the Postgres error
// codes raised by CREATE
// INDEX/TRIGGER/FUNCTION statements that target an object which already
// exists. Bootstrap treats them as success, mirroring the source project's
// handling of asyncpg's DuplicateObjectError.
const (
	sqlStateDuplicateObject = "42710"
	sqlStateDuplicateTable  = "42P07"
)

// Store wraps a pgxpool.Pool with the operations the consumer engine and
// producers need.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to dsn, pings the database, and returns a ready Store.
// Callers are expected to have already configured pool sizing through the
// connection string or by calling pgxpool.ParseConfig themselves and using
// OpenWithConfig instead.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: pool.Ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// OpenWithConfig connects using a pre-built pgxpool.Config, letting callers
// tune pool size, min connections, and connect timeout explicitly.
func OpenWithConfig(ctx context.Context, cfg *pgxpool.Config) (*Store, error) {
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: pgxpool.NewWithConfig: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: pool.Ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Pool exposes the underlying pgxpool.Pool for callers (e.g. the consumer's
// dedicated LISTEN connection) that need operations this package does not
// wrap directly.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// dequeueQuery locks and returns the single most eligible task, using
// ctid to identify the row within the current transaction and a
// database-computed delay so that deferred tasks can be rescheduled without
// relying on worker-local clocks.
const dequeueQuery = `
SELECT ctid, id, schedule, name, params,
       EXTRACT(EPOCH FROM (schedule - timezone('UTC', now()))) AS delay
FROM   aintq.tasks
ORDER  BY schedule NULLS FIRST, id
LIMIT  1
FOR UPDATE SKIP LOCKED`

// Dequeue runs the dequeue query against tx and returns the next eligible
// task, or (nil, nil) when the queue is empty. tx must belong to the
// caller's outer per-attempt transaction; locking and deletion both need to
// happen against the same row within it.
func Dequeue(ctx context.Context, tx pgx.Tx) (*task.Task, error) {
	row := tx.QueryRow(ctx, dequeueQuery)

	var t task.Task
	var delay *float64
	if err := row.Scan(&t.CTID, &t.ID, &t.Schedule, &t.Name, &t.Params, &delay); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: dequeue: %w", err)
	}
	t.Delay = delay
	return &t, nil
}

// DeleteTask removes the task identified by ctid. It is called
// unconditionally after an attempt, whether or not the handler succeeded,
// so that a task never runs twice.
func DeleteTask(ctx context.Context, tx pgx.Tx, ctid string) error {
	_, err := tx.Exec(ctx, `DELETE FROM aintq.tasks WHERE ctid = $1`, ctid)
	if err != nil {
		return fmt.Errorf("store: delete task %s: %w", ctid, err)
	}
	return nil
}

// NextDeleteSeq advances the shared deletion-counting sequence and returns
// its new value. The caller uses this to decide when to run a periodic
// VACUUM ANALYZE, the same trigger the source project uses.
func NextDeleteSeq(ctx context.Context, tx pgx.Tx) (int64, error) {
	var seq int64
	err := tx.QueryRow(ctx, `SELECT nextval('aintq.tasks_deletes')`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("store: nextval: %w", err)
	}
	return seq, nil
}

// Vacuum runs VACUUM ANALYZE on the task table. It must run outside any
// transaction, so it is issued directly against the pool rather than a
// *pgx.Tx.
func (s *Store) Vacuum(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `VACUUM ANALYZE aintq.tasks`)
	if err != nil {
		return fmt.Errorf("store: vacuum: %w", err)
	}
	return nil
}

// BeginAttempt starts the outer, per-dequeue-attempt transaction that wraps
// both the dequeue and the final unconditional delete.
func (s *Store) BeginAttempt(ctx context.Context) (pgx.Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: begin attempt: %w", err)
	}
	return tx, nil
}

// RunInSavepoint runs fn inside a savepoint nested within tx. If fn returns
// an error, the savepoint (and only the savepoint) is rolled back; the
// outer transaction remains usable so the caller can still delete the task
// row and commit. This is pgx's equivalent of the source project's nested
// `async with db.transaction()` inside an already-open transaction.
func RunInSavepoint(ctx context.Context, tx pgx.Tx, fn func(ctx context.Context) error) error {
	savepoint, err := tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin savepoint: %w", err)
	}

	if err := fn(ctx); err != nil {
		if rbErr := savepoint.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("store: savepoint rollback: %w (handler error: %v)", rbErr, err)
		}
		return err
	}

	if err := savepoint.Commit(ctx); err != nil {
		return fmt.Errorf("store: savepoint commit: %w", err)
	}
	return nil
}

// CountTasks returns the current number of rows in aintq.tasks, used to
// sample the queue depth gauge. It is a plain unlocked read, not part of any
// worker transaction, so it never contends with dequeue locking.
func (s *Store) CountTasks(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM aintq.tasks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count tasks: %w", err)
	}
	return n, nil
}

// Enqueue inserts a new task row. The insert trigger handles notifying
// listeners; callers do not need to call pg_notify themselves.
func (s *Store) Enqueue(ctx context.Context, name string, params []byte, schedule any) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO aintq.tasks (schedule, name, params)
		VALUES ($1, $2, $3)`,
		schedule, name, params,
	)
	if err != nil {
		return fmt.Errorf("store: enqueue %s: %w", name, err)
	}
	return nil
}

// isDuplicateObject reports whether err is a Postgres error for an object
// that already exists, which Bootstrap treats as a no-op rather than a
// failure.
func isDuplicateObject(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == sqlStateDuplicateObject || pgErr.Code == sqlStateDuplicateTable
}
