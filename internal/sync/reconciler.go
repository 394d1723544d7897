package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vonshlovens/prompit/internal/identity"
	"github.com/vonshlovens/prompit/internal/model"
	"github.com/vonshlovens/prompit/internal/store"
)

// Reconciler merges a full remote fetch into the local set using
// last-write-wins on updated_at. It runs on session start, after
// authentication, after migration, and opportunistically on realtime
// notifications. It is safe to run interleaved with a queue drain.
type Reconciler struct {
	remote RemoteStore
	store  *store.Store
	queue  *Queue
	ids    *identity.Context
}

// NewReconciler builds a reconciler over the same store and queue the
// engine uses.
func NewReconciler(rs RemoteStore, st *store.Store, q *Queue, ids *identity.Context) *Reconciler {
	return &Reconciler{remote: rs, store: st, queue: q, ids: ids}
}

// Reconcile fetches everything visible to the current owner and merges
// it into the local set, then does the same for folders and the
// category bucket. The merged record list replaces the local one
// atomically.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	start := time.Now()
	owner := r.ids.CurrentOwner()

	if err := r.reconcileRecords(ctx, owner); err != nil {
		return fmt.Errorf("record reconciliation: %w", err)
	}
	if err := r.reconcileFolders(ctx, owner); err != nil {
		return fmt.Errorf("folder reconciliation: %w", err)
	}
	if err := r.reconcileCategories(ctx); err != nil {
		return fmt.Errorf("category reconciliation: %w", err)
	}

	slog.Info("reconciliation completed",
		"owner", string(owner.Kind), "duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (r *Reconciler) reconcileRecords(ctx context.Context, owner model.Owner) error {
	remoteRecords, err := r.remote.ListRecords(ctx, owner)
	if err != nil {
		return err
	}

	byRemoteID := make(map[string]*model.Record, len(remoteRecords))
	byLocalID := make(map[string]*model.Record, len(remoteRecords))
	for _, rec := range remoteRecords {
		byRemoteID[rec.RemoteID] = rec
		byLocalID[rec.LocalID] = rec
	}

	var merged []*model.Record
	var reupload []*model.Record
	var dropped int

	for _, local := range r.store.Records() {
		remote, seen := byRemoteID[local.RemoteID]
		if !seen {
			// The idempotency token catches a record whose first upload
			// landed but whose remote id never made it back (crash
			// between upsert and local adoption).
			remote, seen = byLocalID[local.LocalID]
		}

		switch {
		case seen:
			delete(byRemoteID, remote.RemoteID)
			delete(byLocalID, remote.LocalID)

			if local.UpdatedAt.After(remote.UpdatedAt) {
				// Local wins; the remote copy gets overwritten on the
				// next drain. Skip the re-enqueue when the record is
				// already marked synced: pushing an identical payload
				// again would just ping-pong with the realtime channel.
				local.RemoteID = remote.RemoteID
				if local.SyncStatus != model.StatusSynced {
					local.SyncStatus = model.StatusPending
					reupload = append(reupload, local.Clone())
				}
				merged = append(merged, local)
			} else {
				merged = append(merged, remote)
			}

		case local.RemoteID == "":
			// Never synced; keep as-is.
			merged = append(merged, local)

		default:
			// Orphan: the row vanished remotely, so the deletion
			// propagates and the local copy is dropped, together with
			// any stale queued mutations that would resurrect it
			// through the idempotent upsert.
			dropped++
			if err := r.queue.Remove(model.EntityRecord, local.LocalID); err != nil {
				slog.Warn("failed to purge queue for dropped record",
					"local_id", local.LocalID, "error", err)
			}
		}
	}

	// Remote rows nobody consumed are new records from other devices.
	for _, rec := range remoteRecords {
		if _, ok := byRemoteID[rec.RemoteID]; ok {
			merged = append(merged, rec)
		}
	}

	if err := r.store.ReplaceRecords(merged); err != nil {
		return err
	}

	for _, rec := range reupload {
		if err := r.queue.Enqueue(model.QueueEntry{
			Operation: model.OpUpdate,
			Entity:    model.EntityRecord,
			LocalID:   rec.LocalID,
			Record:    rec,
		}); err != nil {
			return err
		}
	}

	if dropped > 0 {
		slog.Info("remote deletions propagated", "dropped", dropped)
	}
	return nil
}

// reconcileFolders applies the same last-write-wins pass to folders,
// matched by local id. No deeper conflict handling; folders are simple.
func (r *Reconciler) reconcileFolders(ctx context.Context, owner model.Owner) error {
	remoteFolders, err := r.remote.ListFolders(ctx, owner)
	if err != nil {
		return err
	}

	byLocalID := make(map[string]*model.Folder, len(remoteFolders))
	for _, f := range remoteFolders {
		byLocalID[f.LocalID] = f
	}

	var merged []*model.Folder
	for _, local := range r.store.Folders() {
		remote, seen := byLocalID[local.LocalID]
		switch {
		case seen:
			delete(byLocalID, local.LocalID)
			if local.UpdatedAt.After(remote.UpdatedAt) {
				local.RemoteID = remote.RemoteID
				merged = append(merged, local)
			} else {
				merged = append(merged, remote)
			}
		case local.RemoteID == "":
			merged = append(merged, local)
		default:
			// Deleted remotely; drop, and purge stale queued writes.
			if err := r.queue.Remove(model.EntityFolder, local.LocalID); err != nil {
				slog.Warn("failed to purge queue for dropped folder",
					"local_id", local.LocalID, "error", err)
			}
		}
	}
	for _, f := range remoteFolders {
		if _, ok := byLocalID[f.LocalID]; ok {
			merged = append(merged, f)
		}
	}

	return r.store.ReplaceFolders(merged)
}

// reconcileCategories unions the remote bucket into the local label set
// and pushes the union back when the local side knew labels the remote
// did not.
func (r *Reconciler) reconcileCategories(ctx context.Context) error {
	deviceID := r.ids.DeviceID()

	remoteCats, err := r.remote.GetDeviceCategories(ctx, deviceID)
	if err != nil {
		return err
	}

	if _, err := r.store.MergeCategories(remoteCats); err != nil {
		return err
	}

	local := r.store.Categories()
	if len(model.MergeCategories(remoteCats, local)) != len(remoteCats) {
		return r.queue.Enqueue(model.QueueEntry{
			Operation:  model.OpUpdate,
			Entity:     model.EntityCategories,
			Categories: local,
		})
	}
	return nil
}
