package remote

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
)

// notifyChannel is raised by a trigger on every prompt_saves mutation.
// The payload is advisory only; a notification is merely a hint to run a
// reconciliation pass, never a delta to apply.
const notifyChannel = "prompt_saves_changed"

const (
	listenRetryBase = 5 * time.Second
	listenRetryMax  = time.Minute
)

// Listener subscribes to the realtime change channel on a dedicated
// connection and invokes the callback for every notification. It
// reconnects with a growing delay until the context is cancelled.
type Listener struct {
	dsn    string
	notify func()
}

// NewListener creates a listener that calls notify on every remote
// change notification.
func NewListener(db *DB, notify func()) *Listener {
	return &Listener{dsn: db.ConnectionString(), notify: notify}
}

// Run blocks, listening for notifications until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) {
	delay := listenRetryBase
	for {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			return
		}
		slog.Warn("realtime listener disconnected", "error", err, "retry_in", delay)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		if delay *= 2; delay > listenRetryMax {
			delay = listenRetryMax
		}
	}
}

func (l *Listener) listen(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.dsn)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		return err
	}
	slog.Info("realtime listener connected", "channel", notifyChannel)

	for {
		if _, err := conn.WaitForNotification(ctx); err != nil {
			return err
		}
		slog.Debug("remote change notification received")
		l.notify()
	}
}
