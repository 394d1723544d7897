// Package model defines the domain types shared by the local store, the
// sync engine, and the remote client.
package model

import (
	"strings"
	"time"
)

// SyncStatus tracks where a record stands relative to the remote store.
type SyncStatus string

const (
	StatusLocalOnly SyncStatus = "local-only"
	StatusPending   SyncStatus = "pending"
	StatusSynced    SyncStatus = "synced"
	StatusError     SyncStatus = "error"
)

// OwnerKind distinguishes an anonymous install from a signed-in user.
type OwnerKind string

const (
	OwnerDevice OwnerKind = "device"
	OwnerUser   OwnerKind = "user"
)

// Owner identifies who a record belongs to. Exactly one kind holds at a
// time; migration moves records from device to user, never back.
type Owner struct {
	Kind OwnerKind `json:"kind"`
	ID   string    `json:"id"`
}

func (o Owner) IsUser() bool   { return o.Kind == OwnerUser }
func (o Owner) IsDevice() bool { return o.Kind == OwnerDevice }

// Record is a saved prompt.
type Record struct {
	LocalID    string     `json:"local_id"`
	RemoteID   string     `json:"remote_id,omitempty"`
	Title      string     `json:"title"`
	Body       string     `json:"body"`
	Tags       []string   `json:"tags,omitempty"`
	Category   string     `json:"category"`
	Favorite   bool       `json:"favorite"`
	FolderRef  *string    `json:"folder_ref,omitempty"`
	Owner      Owner      `json:"owner"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	SyncStatus SyncStatus `json:"sync_status"`
	UsageCount int        `json:"usage_count"`
}

// Clone returns a deep copy, used for queue payload snapshots.
func (r *Record) Clone() *Record {
	c := *r
	c.Tags = append([]string(nil), r.Tags...)
	if r.FolderRef != nil {
		ref := *r.FolderRef
		c.FolderRef = &ref
	}
	return &c
}

// Folder groups records. Deleting a folder never deletes its records; it
// only clears their folder_ref.
type Folder struct {
	LocalID   string    `json:"local_id"`
	RemoteID  string    `json:"remote_id,omitempty"`
	Name      string    `json:"name"`
	Owner     Owner     `json:"owner"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a copy for queue payload snapshots.
func (f *Folder) Clone() *Folder {
	c := *f
	return &c
}

// DefaultCategories seeds a fresh install's category set.
var DefaultCategories = []string{"coding", "writing", "art", "other"}

// MergeCategories unions two category lists, deduplicating
// case-insensitively while keeping first-seen spelling and order.
func MergeCategories(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, c := range list {
			c = strings.TrimSpace(c)
			if c == "" {
				continue
			}
			key := strings.ToLower(c)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

// Operation is the kind of remote write a queue entry carries.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// EntityKind is what a queue entry targets.
type EntityKind string

const (
	EntityRecord     EntityKind = "record"
	EntityFolder     EntityKind = "folder"
	EntityCategories EntityKind = "categories"
)

// QueueEntry is one pending remote write. The payload is a full snapshot
// taken at enqueue time, so draining never reads mutable shared state.
type QueueEntry struct {
	Operation  Operation  `json:"operation"`
	Entity     EntityKind `json:"entity"`
	LocalID    string     `json:"local_id"`
	Record     *Record    `json:"record,omitempty"`
	Folder     *Folder    `json:"folder,omitempty"`
	Categories []string   `json:"categories,omitempty"`
	EnqueuedAt time.Time  `json:"enqueued_at"`
	RetryCount int        `json:"retry_count"`
}

// JoinTags serializes tags the way the remote schema stores them.
func JoinTags(tags []string) string {
	return strings.Join(tags, ",")
}

// SplitTags parses the remote tags column back into a list.
func SplitTags(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
