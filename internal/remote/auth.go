package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/vonshlovens/prompit/internal/errs"
)

// challengeTTL is how long a login code stays valid.
const challengeTTL = 10 * time.Minute

// RequestLoginCode starts a passwordless sign-in: a six-digit code is
// generated server-side and stored in login_challenges. Delivering the
// code to the mailbox is the deployment's mailer, not this client.
func (db *DB) RequestLoginCode(ctx context.Context, email string) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO login_challenges (email, code, expires_at, consumed)
		VALUES ($1, lpad(floor(random() * 1000000)::text, 6, '0'), $2, false)
	`, email, time.Now().UTC().Add(challengeTTL))
	if err != nil {
		return classify(err)
	}
	return nil
}

// VerifyLoginCode consumes a pending challenge and, on success, upserts
// the profile row and returns the user id. A wrong, expired, or
// already-used code yields ErrChallengeExpired.
func (db *DB) VerifyLoginCode(ctx context.Context, email, code string) (string, error) {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE login_challenges
		SET consumed = true
		WHERE email = $1 AND code = $2 AND NOT consumed AND expires_at > $3
	`, email, code, time.Now().UTC())
	if err != nil {
		return "", classify(err)
	}
	if tag.RowsAffected() == 0 {
		return "", errs.ErrChallengeExpired
	}

	userID, err := db.UpsertProfile(ctx, email)
	if err != nil {
		return "", fmt.Errorf("profile upsert after verify: %w", err)
	}
	return userID, nil
}

// UpsertProfile creates or refreshes the profile row for an email and
// returns its user id.
func (db *DB) UpsertProfile(ctx context.Context, email string) (string, error) {
	var id string
	err := db.Pool.QueryRow(ctx, `
		INSERT INTO profiles (email, last_login)
		VALUES ($1, $2)
		ON CONFLICT (email) DO UPDATE SET last_login = EXCLUDED.last_login
		RETURNING id
	`, email, time.Now().UTC()).Scan(&id)
	if err != nil {
		return "", classify(err)
	}
	return id, nil
}

// LookupProfile returns the user id for an email, or ErrNotFound.
func (db *DB) LookupProfile(ctx context.Context, email string) (string, error) {
	var id string
	err := db.Pool.QueryRow(ctx,
		"SELECT id FROM profiles WHERE email = $1", email).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", errs.ErrNotFound
	}
	if err != nil {
		return "", classify(err)
	}
	return id, nil
}
