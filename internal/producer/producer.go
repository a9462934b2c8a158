// Package producer is the enqueue-side API: encoding a call into the
// wire envelope and inserting it as a task row.
//
// It corresponds to Aintq.execute/Aintq.task in the source project, which
// wraps Task.create in a transaction using pickled args/kwargs. Insertion
// itself needs no explicit transaction here: a single INSERT statement is
// already atomic, and the notify trigger fires from within it regardless.
package producer

import (
	"context"
	"fmt"
	"time"

	"github.com/decentfox/aintq/internal/codec"
	"github.com/decentfox/aintq/internal/store"
)

// Producer enqueues tasks by name against a Store.
type Producer struct {
	store *store.Store
}

// New returns a Producer that inserts task rows through st.
func New(st *store.Store) *Producer {
	return &Producer{store: st}
}

// Enqueue inserts a new task row for the handler registered under name.
// A nil schedule makes the task eligible immediately; a non-nil schedule
// defers it until that time.
func (p *Producer) Enqueue(ctx context.Context, name string, args []any, kwargs map[string]any, schedule *time.Time) error {
	params, err := codec.Encode(args, kwargs)
	if err != nil {
		return fmt.Errorf("producer: encode %s: %w", name, err)
	}

	var scheduleArg any
	if schedule != nil {
		scheduleArg = *schedule
	}

	if err := p.store.Enqueue(ctx, name, params, scheduleArg); err != nil {
		return fmt.Errorf("producer: enqueue %s: %w", name, err)
	}
	return nil
}

// EnqueueAt is a convenience wrapper that enqueues a task deferred until
// when.
func (p *Producer) EnqueueAt(ctx context.Context, name string, when time.Time, args []any, kwargs map[string]any) error {
	return p.Enqueue(ctx, name, args, kwargs, &when)
}

// EnqueueAfter is a convenience wrapper that enqueues a task deferred by
// delay from now.
func (p *Producer) EnqueueAfter(ctx context.Context, name string, delay time.Duration, args []any, kwargs map[string]any) error {
	when := time.Now().UTC().Add(delay)
	return p.Enqueue(ctx, name, args, kwargs, &when)
}
