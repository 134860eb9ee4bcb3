package trigger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pesio-ai/be-shift-reviews/internal/logger"
)

// PGListener waits for NOTIFY on the change channel over a dedicated pooled
// connection.
type PGListener struct {
	pool    *pgxpool.Pool
	channel string
	conn    *pgxpool.Conn
	log     *logger.Logger
}

// NewPGListener creates a listener for channel. The connection is acquired
// on first use.
func NewPGListener(pool *pgxpool.Pool, channel string, log *logger.Logger) *PGListener {
	return &PGListener{pool: pool, channel: channel, log: log}
}

// Wait returns when a notification arrives or timeout passes. A timeout is
// not an error.
func (l *PGListener) Wait(ctx context.Context, timeout time.Duration) error {
	if l.conn == nil {
		conn, err := l.pool.Acquire(ctx)
		if err != nil {
			return err
		}
		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
			conn.Release()
			return err
		}
		l.conn = conn
		l.log.Debug().Str("channel", l.channel).Msg("Listening for report changes")
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err := l.conn.Conn().WaitForNotification(waitCtx)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(waitCtx.Err(), context.DeadlineExceeded) && !l.conn.Conn().IsClosed():
		return nil
	}

	l.drop()
	return err
}

// Close releases the listening connection.
func (l *PGListener) Close() {
	l.drop()
}

func (l *PGListener) drop() {
	if l.conn == nil {
		return
	}
	if !l.conn.Conn().IsClosed() {
		_, _ = l.conn.Exec(context.Background(), "UNLISTEN *")
	}
	l.conn.Release()
	l.conn = nil
}
