package sync

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vonshlovens/prompit/internal/errs"
	"github.com/vonshlovens/prompit/internal/identity"
	"github.com/vonshlovens/prompit/internal/model"
	"github.com/vonshlovens/prompit/internal/store"
)

// RemoteStore is the remote collaborator contract the sync core depends
// on. *remote.DB implements it; tests substitute a fake.
type RemoteStore interface {
	UpsertRecord(ctx context.Context, r *model.Record) (string, error)
	DeleteRecord(ctx context.Context, localID string, owner model.Owner) error
	ListRecords(ctx context.Context, owner model.Owner) ([]*model.Record, error)

	UpsertFolder(ctx context.Context, f *model.Folder) (string, error)
	DeleteFolder(ctx context.Context, localID string, owner model.Owner) error
	ListFolders(ctx context.Context, owner model.Owner) ([]*model.Folder, error)

	GetDeviceCategories(ctx context.Context, deviceID string) ([]string, error)
	PutDeviceCategories(ctx context.Context, deviceID string, categories []string) error

	ListDeviceOrphans(ctx context.Context, deviceID string) ([]string, error)
	AssignOwner(ctx context.Context, rowIDs []string, userID string) error

	Probe(ctx context.Context, timeout time.Duration) bool
}

// Options tunes the engine's timing.
type Options struct {
	RequestTimeout time.Duration
	ProbeTimeout   time.Duration
	BackoffBase    time.Duration
	BackoffMax     time.Duration
}

// DefaultOptions mirror the config defaults.
func DefaultOptions() Options {
	return Options{
		RequestTimeout: 8 * time.Second,
		ProbeTimeout:   4 * time.Second,
		BackoffBase:    time.Second,
		BackoffMax:     5 * time.Minute,
	}
}

// Engine drains the mutation queue against the remote store. Draining is
// strictly FIFO, one entry at a time; a failing head halts the drain and
// schedules a retry after backoff instead of skipping ahead. All of it
// happens in the background relative to local mutations, which always
// complete optimistically against the store first.
type Engine struct {
	remote RemoteStore
	store  *store.Store
	queue  *Queue
	ids    *identity.Context
	opts   Options

	backoff  *Backoff
	draining atomic.Bool
	online   atomic.Bool

	mu         sync.Mutex
	retryTimer *time.Timer
}

// NewEngine creates a drain engine over the queue.
func NewEngine(rs RemoteStore, st *store.Store, q *Queue, ids *identity.Context, opts Options) *Engine {
	e := &Engine{
		remote:  rs,
		store:   st,
		queue:   q,
		ids:     ids,
		opts:    opts,
		backoff: NewBackoff(opts.BackoffBase, opts.BackoffMax),
	}
	e.online.Store(true)
	return e
}

// Online reports the last known connectivity verdict.
func (e *Engine) Online() bool { return e.online.Load() }

// SetOnline feeds an external connectivity signal. A transition to
// online kicks a drain.
func (e *Engine) SetOnline(ctx context.Context, online bool) {
	was := e.online.Swap(online)
	if online && !was {
		slog.Info("connectivity restored, resuming queue drain")
		e.Process(ctx)
	}
}

// Pending returns the number of queued mutations.
func (e *Engine) Pending() int { return e.queue.Len() }

// Process drains the queue in FIFO order, one entry at a time. Only one
// drain runs at a time; concurrent calls are no-ops. An unreachable
// remote stops the drain without consuming retry budget; a failing head
// entry stays queued and a retry is scheduled after backoff.
func (e *Engine) Process(ctx context.Context) {
	if !e.draining.CompareAndSwap(false, true) {
		return
	}
	defer e.draining.Store(false)

	for {
		entry, ok := e.queue.Head()
		if !ok {
			return
		}
		if ctx.Err() != nil {
			return
		}

		// Connectivity gate: offline is not a failure, so it neither
		// bumps retry counts nor grows the backoff.
		if !e.remote.Probe(ctx, e.opts.ProbeTimeout) {
			e.online.Store(false)
			slog.Debug("remote unreachable, drain suspended", "pending", e.queue.Len())
			return
		}
		e.online.Store(true)

		if err := e.apply(ctx, entry); err != nil {
			e.handleFailure(ctx, entry, err)
			return
		}

		e.backoff.Reset()
		if err := e.queue.Pop(); err != nil {
			slog.Warn("failed to persist queue after pop", "error", err)
		}
		slog.Debug("queue entry applied",
			"operation", entry.Operation, "entity", entry.Entity, "local_id", entry.LocalID)
	}
}

// apply performs one entry's remote call, bounded by the request
// timeout, and settles local status on success. Every post-call store
// mutation revalidates that its target still exists; the user may have
// deleted it while the call was in flight.
func (e *Engine) apply(ctx context.Context, entry model.QueueEntry) error {
	ctx, cancel := context.WithTimeout(ctx, e.opts.RequestTimeout)
	defer cancel()

	switch entry.Entity {
	case model.EntityRecord:
		switch entry.Operation {
		case model.OpDelete:
			return e.remote.DeleteRecord(ctx, entry.LocalID, entry.Record.Owner)
		default:
			remoteID, err := e.remote.UpsertRecord(ctx, entry.Record)
			if err != nil {
				return err
			}
			return e.store.AdoptRemoteID(entry.LocalID, remoteID, entry.Record.UpdatedAt)
		}

	case model.EntityFolder:
		switch entry.Operation {
		case model.OpDelete:
			return e.remote.DeleteFolder(ctx, entry.LocalID, entry.Folder.Owner)
		default:
			remoteID, err := e.remote.UpsertFolder(ctx, entry.Folder)
			if err != nil {
				return err
			}
			return e.store.AdoptFolderRemoteID(entry.LocalID, remoteID)
		}

	case model.EntityCategories:
		return e.remote.PutDeviceCategories(ctx, e.ids.DeviceID(), entry.Categories)
	}

	return nil
}

func (e *Engine) handleFailure(ctx context.Context, entry model.QueueEntry, err error) {
	if err := e.queue.BumpHeadRetry(); err != nil {
		slog.Warn("failed to persist queue retry count", "error", err)
	}

	if entry.Entity == model.EntityRecord && entry.Operation != model.OpDelete {
		// Flag the record, if it still exists locally. The entry stays
		// queued either way.
		if _, ok := e.store.Record(entry.LocalID); ok {
			if serr := e.store.SetRecordStatus(entry.LocalID, model.StatusError); serr != nil {
				slog.Warn("failed to flag record", "local_id", entry.LocalID, "error", serr)
			}
		}
	}

	delay := e.backoff.Next()
	if errors.Is(err, errs.ErrRejected) {
		slog.Error("remote rejected mutation, left queued",
			"operation", entry.Operation, "local_id", entry.LocalID,
			"retry_in", delay, "error", err)
	} else {
		slog.Warn("remote call failed, will retry",
			"operation", entry.Operation, "local_id", entry.LocalID,
			"attempt", entry.RetryCount+1, "retry_in", delay, "error", err)
	}

	e.scheduleRetry(ctx, delay)
}

// scheduleRetry arms a one-shot timer to re-run Process. An already
// armed timer is left alone.
func (e *Engine) scheduleRetry(ctx context.Context, delay time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.retryTimer != nil {
		return
	}
	e.retryTimer = time.AfterFunc(delay, func() {
		e.mu.Lock()
		e.retryTimer = nil
		e.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		e.Process(ctx)
	})
}

// Stop cancels any armed retry timer. In-flight requests are simply
// abandoned; the durable queue resumes them on next launch.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.retryTimer != nil {
		e.retryTimer.Stop()
		e.retryTimer = nil
	}
}
