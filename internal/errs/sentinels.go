// Package errs contains sentinel errors shared across layers for stable
// errors.Is mapping.
package errs

import "errors"

var (
	// ErrNotFound indicates the requested record or folder does not exist.
	ErrNotFound = errors.New("not found")

	// ErrOffline indicates the remote store is unreachable. Transient;
	// callers retry with backoff instead of surfacing it.
	ErrOffline = errors.New("remote unreachable")

	// ErrRejected indicates the remote store refused the mutation
	// (validation or permission failure). The entry stays queued.
	ErrRejected = errors.New("rejected by remote")

	// ErrNotAuthenticated indicates an operation that requires a signed-in
	// user was attempted with only a device identity.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrChallengeExpired indicates the login code is wrong, already used,
	// or past its expiry.
	ErrChallengeExpired = errors.New("login code invalid or expired")
)
