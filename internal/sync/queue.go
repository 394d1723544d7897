// Package sync is the core of prompit: a durable FIFO mutation queue
// drained against the remote store with retry and backoff, a
// full-collection reconciler using last-write-wins on updated_at, and
// the guest-to-user migration coordinator.
package sync

import (
	"sync"
	"time"

	"github.com/vonshlovens/prompit/internal/model"
	"github.com/vonshlovens/prompit/internal/store"
)

// Queue is the ordered, durable queue of pending remote writes. Entries
// are appended on every local mutation, coalesced for rapid edits, and
// removed only after confirmed remote application. The store persists
// every change so the queue survives restarts.
type Queue struct {
	mu      sync.Mutex
	entries []model.QueueEntry
	store   *store.Store
}

// NewQueue loads the persisted queue from the store.
func NewQueue(st *store.Store) *Queue {
	return &Queue{entries: st.Queue(), store: st}
}

// Enqueue appends an entry. An update (or create) targeting an entity
// that already has a queued create/update is replaced in place: payload
// and timestamp refresh, position and original operation stay. Rapid
// edits therefore occupy one slot and only the latest state is sent.
func (q *Queue) Enqueue(e model.QueueEntry) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	e.EnqueuedAt = time.Now().UTC()

	if e.Operation != model.OpDelete {
		for i, existing := range q.entries {
			if existing.Entity != e.Entity || existing.Operation == model.OpDelete {
				continue
			}
			if existing.Entity != model.EntityCategories && existing.LocalID != e.LocalID {
				continue
			}
			// A queued create stays a create so the first upload still
			// happens; it just carries the newest snapshot.
			e.Operation = existing.Operation
			e.RetryCount = existing.RetryCount
			q.entries[i] = e
			return q.persist()
		}
	}

	q.entries = append(q.entries, e)
	return q.persist()
}

// Head returns the oldest entry without removing it.
func (q *Queue) Head() (model.QueueEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return model.QueueEntry{}, false
	}
	return q.entries[0], true
}

// Pop removes the head after its remote application was confirmed.
func (q *Queue) Pop() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return nil
	}
	q.entries = q.entries[1:]
	return q.persist()
}

// BumpHeadRetry increments the head's retry counter after a failure.
// The entry stays queued.
func (q *Queue) BumpHeadRetry() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return nil
	}
	q.entries[0].RetryCount++
	return q.persist()
}

// Remove drops every queued entry for the given entity. Used when a
// remote deletion propagates: replaying a stale queued update would
// resurrect the row through the idempotent upsert.
func (q *Queue) Remove(entity model.EntityKind, localID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.entries[:0]
	for _, e := range q.entries {
		if e.Entity == entity && e.LocalID == localID {
			continue
		}
		kept = append(kept, e)
	}
	if len(kept) == len(q.entries) {
		return nil
	}
	q.entries = kept
	return q.persist()
}

// HasPending reports whether any entry targets the given entity.
func (q *Queue) HasPending(entity model.EntityKind, localID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.entries {
		if e.Entity == entity && e.LocalID == localID {
			return true
		}
	}
	return false
}

// Len returns the number of queued entries.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Reload re-reads the persisted entries from the store, picking up
// mutations enqueued by another process.
func (q *Queue) Reload() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = q.store.Queue()
	return nil
}

// Entries returns a snapshot of the queue, oldest first.
func (q *Queue) Entries() []model.QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]model.QueueEntry(nil), q.entries...)
}

func (q *Queue) persist() error {
	return q.store.PutQueue(q.entries)
}
