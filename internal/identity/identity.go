// Package identity tracks who is acting: an anonymous per-install device
// identifier, or an authenticated user once login succeeds. It is the
// single source of truth for ownership across the store, queue, and
// remote client.
package identity

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vonshlovens/prompit/internal/model"
)

const (
	deviceFile  = "device_id"
	sessionFile = "session.json"
)

// Session is a persisted authenticated session.
type Session struct {
	UserID          string    `json:"user_id"`
	Email           string    `json:"email"`
	AuthenticatedAt time.Time `json:"authenticated_at"`
}

// Context holds the current actor. Transitions go device -> user only;
// signing out clears the session but never rewrites ownership of
// existing records.
type Context struct {
	dir      string
	deviceID string

	mu      sync.RWMutex
	session *Session
}

// Load opens (or initializes) the identity state under dir. A missing or
// corrupt device id is regenerated rather than failing startup; a corrupt
// session file is discarded, dropping back to the device identity.
func Load(dir string) (*Context, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create identity dir: %w", err)
	}

	c := &Context{dir: dir}

	raw, err := os.ReadFile(filepath.Join(dir, deviceFile))
	if err == nil {
		if id, perr := uuid.Parse(string(raw)); perr == nil {
			c.deviceID = id.String()
		}
	}
	if c.deviceID == "" {
		c.deviceID = uuid.NewString()
		if err := os.WriteFile(filepath.Join(dir, deviceFile), []byte(c.deviceID), 0o600); err != nil {
			return nil, fmt.Errorf("failed to persist device id: %w", err)
		}
	}

	if raw, err := os.ReadFile(filepath.Join(dir, sessionFile)); err == nil {
		var s Session
		if json.Unmarshal(raw, &s) == nil && s.UserID != "" {
			c.session = &s
		}
	}

	return c, nil
}

// DeviceID returns the stable anonymous install identifier.
func (c *Context) DeviceID() string { return c.deviceID }

// CurrentOwner returns the acting identity: the user when a session
// exists, the device otherwise.
func (c *Context) CurrentOwner() model.Owner {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session != nil {
		return model.Owner{Kind: model.OwnerUser, ID: c.session.UserID}
	}
	return model.Owner{Kind: model.OwnerDevice, ID: c.deviceID}
}

// Session returns the active session, or nil for a guest.
func (c *Context) Session() *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return nil
	}
	s := *c.session
	return &s
}

// Authenticate records a successful login and persists the session.
func (c *Context) Authenticate(userID, email string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &Session{UserID: userID, Email: email, AuthenticatedAt: time.Now()}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(c.dir, sessionFile), data, 0o600); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}
	c.session = s
	return nil
}

// SignOut clears the persisted session. The device id is untouched and
// ownership of already user-owned records is never rewritten.
func (c *Context) SignOut() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.session = nil
	err := os.Remove(filepath.Join(c.dir, sessionFile))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove session: %w", err)
	}
	return nil
}
