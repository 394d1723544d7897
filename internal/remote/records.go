package remote

import (
	"context"
	"fmt"
	"time"

	"github.com/vonshlovens/prompit/internal/model"
)

// ownerColumns maps an owner onto the user_id/device_id pair stored
// remotely. A record carries exactly one of the two.
func ownerColumns(o model.Owner) (userID, deviceID *string) {
	if o.IsUser() {
		return &o.ID, nil
	}
	return nil, &o.ID
}

// UpsertRecord inserts or updates a prompt row keyed by its local_id
// idempotency token and returns the server-assigned row id.
func (db *DB) UpsertRecord(ctx context.Context, r *model.Record) (string, error) {
	userID, deviceID := ownerColumns(r.Owner)

	var remoteID string
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO prompt_saves (
			local_id, user_id, device_id, title, body, tags, category,
			favorite, folder_ref, usage_count, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
		ON CONFLICT (local_id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			device_id = EXCLUDED.device_id,
			title = EXCLUDED.title,
			body = EXCLUDED.body,
			tags = EXCLUDED.tags,
			category = EXCLUDED.category,
			favorite = EXCLUDED.favorite,
			folder_ref = EXCLUDED.folder_ref,
			usage_count = EXCLUDED.usage_count,
			updated_at = EXCLUDED.updated_at
		RETURNING id
	`,
		r.LocalID, userID, deviceID, r.Title, r.Body, model.JoinTags(r.Tags),
		r.Category, r.Favorite, r.FolderRef, r.UsageCount,
		r.CreatedAt, r.UpdatedAt,
	).Scan(&remoteID)
	if err != nil {
		return "", classify(err)
	}

	return remoteID, nil
}

// DeleteRecord removes a prompt row by its idempotency token, scoped to
// the acting owner so one identity can never delete another's rows.
// Deleting an already-absent row succeeds.
func (db *DB) DeleteRecord(ctx context.Context, localID string, owner model.Owner) error {
	var err error
	if owner.IsUser() {
		_, err = db.Pool.Exec(ctx,
			"DELETE FROM prompt_saves WHERE local_id = $1 AND user_id = $2",
			localID, owner.ID)
	} else {
		_, err = db.Pool.Exec(ctx,
			"DELETE FROM prompt_saves WHERE local_id = $1 AND device_id = $2 AND user_id IS NULL",
			localID, owner.ID)
	}
	if err != nil {
		return classify(err)
	}
	return nil
}

// ListRecords fetches every prompt row visible to the owner. Returned
// records carry their remote id and arrive marked synced.
func (db *DB) ListRecords(ctx context.Context, owner model.Owner) ([]*model.Record, error) {
	query := `
		SELECT id, local_id, user_id, device_id, title, body, tags,
			category, favorite, folder_ref, usage_count, created_at, updated_at
		FROM prompt_saves WHERE `
	if owner.IsUser() {
		query += "user_id = $1"
	} else {
		query += "device_id = $1 AND user_id IS NULL"
	}
	query += " ORDER BY created_at DESC"

	rows, err := db.Pool.Query(ctx, query, owner.ID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var records []*model.Record
	for rows.Next() {
		var (
			r        model.Record
			userID   *string
			deviceID *string
			tags     string
		)
		if err := rows.Scan(
			&r.RemoteID, &r.LocalID, &userID, &deviceID, &r.Title, &r.Body,
			&tags, &r.Category, &r.Favorite, &r.FolderRef, &r.UsageCount,
			&r.CreatedAt, &r.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan prompt row: %w", err)
		}
		r.Tags = model.SplitTags(tags)
		switch {
		case userID != nil:
			r.Owner = model.Owner{Kind: model.OwnerUser, ID: *userID}
		case deviceID != nil:
			r.Owner = model.Owner{Kind: model.OwnerDevice, ID: *deviceID}
		}
		r.SyncStatus = model.StatusSynced
		records = append(records, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}

	return records, nil
}

// ListDeviceOrphans returns the row ids of prompts created by the device
// that were never associated with a user. These are the rows a previous
// local session uploaded before its state was cleared.
func (db *DB) ListDeviceOrphans(ctx context.Context, deviceID string) ([]string, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT id FROM prompt_saves WHERE device_id = $1 AND user_id IS NULL",
		deviceID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan orphan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}

	return ids, nil
}

// AssignOwner re-tags rows with the given user id. Used by the migration
// coordinator; re-running it on already-assigned rows is harmless.
func (db *DB) AssignOwner(ctx context.Context, rowIDs []string, userID string) error {
	if len(rowIDs) == 0 {
		return nil
	}

	_, err := db.Pool.Exec(ctx, `
		UPDATE prompt_saves
		SET user_id = $1, device_id = NULL, updated_at = $2
		WHERE id = ANY($3) AND user_id IS NULL
	`, userID, time.Now().UTC(), rowIDs)
	if err != nil {
		return classify(err)
	}
	return nil
}
