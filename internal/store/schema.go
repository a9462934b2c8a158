package store

import (
	"context"
	"fmt"
)

// bootstrapStatements creates the schema, table, indexes, sequence, and
// notify trigger the consumer and producers depend on. Each statement is
// idempotent or has its "already exists" error swallowed by Bootstrap, so
// running it against an already-initialized database is a safe no-op.
var bootstrapStatements = []string{
	`CREATE SCHEMA IF NOT EXISTS aintq`,
	`CREATE TABLE IF NOT EXISTS aintq.tasks (
		id       BIGSERIAL PRIMARY KEY,
		schedule TIMESTAMP,
		name     TEXT NOT NULL,
		params   BYTEA NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS tasks_schedule_index
		ON aintq.tasks (schedule NULLS FIRST, id)`,
	`CREATE SEQUENCE IF NOT EXISTS aintq.tasks_deletes CYCLE`,
	`CREATE OR REPLACE FUNCTION aintq.notify_new_task() RETURNS TRIGGER AS $$
		BEGIN
			PERFORM pg_notify('aintq_enqueue', NEW.ctid::VARCHAR);
			RETURN NULL;
		END
	$$ LANGUAGE plpgsql`,
	`CREATE TRIGGER tasks_insert_notify AFTER INSERT ON aintq.tasks
		FOR EACH ROW EXECUTE PROCEDURE aintq.notify_new_task()`,
}

// EnqueueChannel is the LISTEN/NOTIFY channel new task rows are announced
// on, matching the name baked into the notify_new_task trigger function.
const EnqueueChannel = "aintq_enqueue"

// Bootstrap creates the schema objects the engine needs if they are not
// already present. CREATE TRIGGER has no IF NOT EXISTS form, so its
// DuplicateObject error is caught and ignored explicitly, the same way the
// source project swallows asyncpg.exceptions.DuplicateObjectError around
// its own trigger creation.
func (s *Store) Bootstrap(ctx context.Context) error {
	for _, stmt := range bootstrapStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			if isDuplicateObject(err) {
				continue
			}
			return fmt.Errorf("store: bootstrap: %w", err)
		}
	}
	return nil
}
