package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/vonshlovens/prompit/internal/identity"
	"github.com/vonshlovens/prompit/internal/model"
	"github.com/vonshlovens/prompit/internal/store"
)

// Migrator transfers ownership of device-owned data to a newly
// authenticated user. Both steps are idempotent: step one rides the
// mutation queue's idempotency tokens, step two is guarded by a
// persisted completion marker and a user_id IS NULL predicate.
type Migrator struct {
	remote RemoteStore
	store  *store.Store
	queue  *Queue
	ids    *identity.Context
}

// NewMigrator builds a migration coordinator.
func NewMigrator(rs RemoteStore, st *store.Store, q *Queue, ids *identity.Context) *Migrator {
	return &Migrator{remote: rs, store: st, queue: q, ids: ids}
}

func migrationMarker(userID string) string { return "migrated:" + userID }

// Completed reports whether the remote orphan sweep for userID already
// ran to completion.
func (m *Migrator) Completed(userID string) bool {
	_, done := m.store.Meta(migrationMarker(userID))
	return done
}

// Run re-tags everything the device owns with the user identity.
//
// Step one walks the local set, reassigning owners and enqueueing each
// record and folder as an update; re-running it finds nothing
// device-owned and is a no-op. Step two sweeps the remote store for
// rows this device uploaded under a previous local session (state
// cleared mid-flow) and reassigns them directly.
func (m *Migrator) Run(ctx context.Context, userID string) error {
	device := model.Owner{Kind: model.OwnerDevice, ID: m.ids.DeviceID()}
	user := model.Owner{Kind: model.OwnerUser, ID: userID}

	records, folders, err := m.store.ReassignOwner(device, user)
	if err != nil {
		return fmt.Errorf("local ownership reassignment: %w", err)
	}

	if n := len(records) + len(folders); n > 0 {
		bar := progressbar.NewOptions(n,
			progressbar.OptionSetDescription("Migrating to account"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWidth(40),
			progressbar.OptionClearOnFinish(),
		)

		for _, rec := range records {
			if err := m.queue.Enqueue(model.QueueEntry{
				Operation: model.OpUpdate,
				Entity:    model.EntityRecord,
				LocalID:   rec.LocalID,
				Record:    rec,
			}); err != nil {
				return fmt.Errorf("failed to enqueue migrated record: %w", err)
			}
			bar.Add(1)
		}
		for _, f := range folders {
			if err := m.queue.Enqueue(model.QueueEntry{
				Operation: model.OpUpdate,
				Entity:    model.EntityFolder,
				LocalID:   f.LocalID,
				Folder:    f,
			}); err != nil {
				return fmt.Errorf("failed to enqueue migrated folder: %w", err)
			}
			bar.Add(1)
		}
		bar.Finish()

		slog.Info("local records re-tagged",
			"records", len(records), "folders", len(folders), "user", userID)
	}

	if _, done := m.store.Meta(migrationMarker(userID)); done {
		slog.Debug("remote migration sweep already completed", "user", userID)
		return nil
	}

	orphans, err := m.remote.ListDeviceOrphans(ctx, device.ID)
	if err != nil {
		return fmt.Errorf("remote orphan scan: %w", err)
	}
	if len(orphans) > 0 {
		if err := m.remote.AssignOwner(ctx, orphans, userID); err != nil {
			return fmt.Errorf("remote ownership reassignment: %w", err)
		}
		slog.Info("remote orphans migrated", "count", len(orphans), "user", userID)
	}

	// Marker written only after the sweep succeeded, so a partial
	// failure re-runs it wholesale next time.
	if err := m.store.SetMeta(migrationMarker(userID), time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("failed to persist migration marker: %w", err)
	}

	return nil
}
