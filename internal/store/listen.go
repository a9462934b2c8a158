package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Listener holds a dedicated pool connection running LISTEN, and must be
// released via Close when the caller is done. Postgres notifications are
// only delivered on the connection that issued LISTEN, so this connection
// cannot be returned to the pool for reuse while listening.
type Listener struct {
	conn *pgxpool.Conn
}

// Listen acquires a dedicated connection from the pool and issues LISTEN on
// channel. The returned Listener must be closed by the caller.
func (s *Store) Listen(ctx context.Context, channel string) (*Listener, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: acquire listen connection: %w", err)
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf("LISTEN %s", channel)); err != nil {
		conn.Release()
		return nil, fmt.Errorf("store: listen %s: %w", channel, err)
	}
	return &Listener{conn: conn}, nil
}

// WaitForNotification blocks until a notification arrives on the listened
// channel, ctx is done, or an error occurs. The returned payload is the
// ctid of the task row that was just inserted.
func (l *Listener) WaitForNotification(ctx context.Context) (payload string, err error) {
	notification, err := l.conn.Conn().WaitForNotification(ctx)
	if err != nil {
		return "", fmt.Errorf("store: wait for notification: %w", err)
	}
	return notification.Payload, nil
}

// Close releases the dedicated connection back to the pool.
func (l *Listener) Close() {
	l.conn.Release()
}
