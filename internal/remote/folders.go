package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vonshlovens/prompit/internal/errs"
	"github.com/vonshlovens/prompit/internal/model"
)

// UpsertFolder inserts or updates a folder row keyed by its local_id and
// returns the server-assigned row id.
func (db *DB) UpsertFolder(ctx context.Context, f *model.Folder) (string, error) {
	userID, deviceID := ownerColumns(f.Owner)

	var remoteID string
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO prompt_folders (
			local_id, user_id, device_id, name, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6
		)
		ON CONFLICT (local_id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			device_id = EXCLUDED.device_id,
			name = EXCLUDED.name,
			updated_at = EXCLUDED.updated_at
		RETURNING id
	`,
		f.LocalID, userID, deviceID, f.Name, f.CreatedAt, f.UpdatedAt,
	).Scan(&remoteID)
	if err != nil {
		return "", classify(err)
	}

	return remoteID, nil
}

// DeleteFolder removes a folder row by its idempotency token, scoped to
// the acting owner. Records referencing the folder are untouched
// remotely; their folder_ref clears through their own updates.
func (db *DB) DeleteFolder(ctx context.Context, localID string, owner model.Owner) error {
	var err error
	if owner.IsUser() {
		_, err = db.Pool.Exec(ctx,
			"DELETE FROM prompt_folders WHERE local_id = $1 AND user_id = $2",
			localID, owner.ID)
	} else {
		_, err = db.Pool.Exec(ctx,
			"DELETE FROM prompt_folders WHERE local_id = $1 AND device_id = $2 AND user_id IS NULL",
			localID, owner.ID)
	}
	if err != nil {
		return classify(err)
	}
	return nil
}

// ListFolders fetches every folder row visible to the owner.
func (db *DB) ListFolders(ctx context.Context, owner model.Owner) ([]*model.Folder, error) {
	query := `
		SELECT id, local_id, user_id, device_id, name, created_at, updated_at
		FROM prompt_folders WHERE `
	if owner.IsUser() {
		query += "user_id = $1"
	} else {
		query += "device_id = $1 AND user_id IS NULL"
	}

	rows, err := db.Pool.Query(ctx, query, owner.ID)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var folders []*model.Folder
	for rows.Next() {
		var (
			f        model.Folder
			userID   *string
			deviceID *string
		)
		if err := rows.Scan(
			&f.RemoteID, &f.LocalID, &userID, &deviceID, &f.Name,
			&f.CreatedAt, &f.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan folder row: %w", err)
		}
		switch {
		case userID != nil:
			f.Owner = model.Owner{Kind: model.OwnerUser, ID: *userID}
		case deviceID != nil:
			f.Owner = model.Owner{Kind: model.OwnerDevice, ID: *deviceID}
		}
		folders = append(folders, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}

	return folders, nil
}

// GetDeviceCategories reads the per-device category bucket. A device
// with no bucket yet returns an empty list.
func (db *DB) GetDeviceCategories(ctx context.Context, deviceID string) ([]string, error) {
	var joined string
	err := db.Pool.QueryRow(ctx,
		"SELECT categories FROM device_metadata WHERE device_id = $1",
		deviceID).Scan(&joined)
	if err != nil {
		if errors.Is(classify(err), errs.ErrNotFound) {
			return nil, nil
		}
		return nil, classify(err)
	}
	return model.SplitTags(joined), nil
}

// PutDeviceCategories upserts the per-device category bucket.
func (db *DB) PutDeviceCategories(ctx context.Context, deviceID string, categories []string) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO device_metadata (device_id, categories, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (device_id) DO UPDATE SET
			categories = EXCLUDED.categories,
			updated_at = EXCLUDED.updated_at
	`, deviceID, model.JoinTags(categories), time.Now().UTC())
	if err != nil {
		return classify(err)
	}
	return nil
}
