// Package store is the local persistence boundary: the record list,
// folder list, category set, durable mutation queue, and sync metadata
// all live here, as JSON buckets under the state directory. Nothing in
// this package touches the network.
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/vonshlovens/prompit/internal/model"
)

const (
	libraryFile = "library.json"
	queueFile   = "queue.json"
	metaFile    = "meta.json"
	lockFile    = "state.lock"
)

// libraryState is the on-disk shape of the library bucket.
type libraryState struct {
	Records    []*model.Record `json:"records"`
	Folders    []*model.Folder `json:"folders"`
	Categories []string        `json:"categories"`
}

// Store manages local state. All mutations go through its methods so the
// record list and queue are never torn by concurrent access; an advisory
// file lock serializes writers across processes (the daemon and one-shot
// CLI invocations share the same bucket files).
type Store struct {
	dir string
	flk *flock.Flock

	mu     sync.RWMutex
	lib    *libraryState
	queue  []model.QueueEntry
	meta   map[string]string
	dirty  bool
	qDirty bool
	mDirty bool
}

// Open loads the store from dir, creating it on first run. A bucket that
// fails to parse is discarded and reset to its empty default; corruption
// never aborts startup.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	s := &Store{
		dir:  dir,
		flk:  flock.New(filepath.Join(dir, lockFile)),
		lib:  &libraryState{Categories: append([]string(nil), model.DefaultCategories...)},
		meta: make(map[string]string),
	}

	if err := loadBucket(filepath.Join(dir, libraryFile), &s.lib); err != nil {
		slog.Warn("library bucket unreadable, resetting", "error", err)
		s.lib = &libraryState{Categories: append([]string(nil), model.DefaultCategories...)}
	}
	if s.lib.Categories == nil {
		s.lib.Categories = append([]string(nil), model.DefaultCategories...)
	}

	if err := loadBucket(filepath.Join(dir, queueFile), &s.queue); err != nil {
		slog.Warn("queue bucket unreadable, resetting", "error", err)
		s.queue = nil
	}

	if err := loadBucket(filepath.Join(dir, metaFile), &s.meta); err != nil {
		slog.Warn("meta bucket unreadable, resetting", "error", err)
		s.meta = make(map[string]string)
	}
	if s.meta == nil {
		s.meta = make(map[string]string)
	}

	return s, nil
}

func loadBucket(path string, v any) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// Save persists any dirty buckets to disk.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

// saveLocked persists dirty buckets under the cross-process file lock.
// Callers hold s.mu.
func (s *Store) saveLocked() error {
	if err := s.flk.Lock(); err != nil {
		return fmt.Errorf("failed to lock state files: %w", err)
	}
	defer s.flk.Unlock()
	return s.writeDirtyLocked()
}

// writeDirtyLocked writes dirty buckets. Callers hold both s.mu and the
// file lock.
func (s *Store) writeDirtyLocked() error {
	if s.dirty {
		if err := writeBucket(filepath.Join(s.dir, libraryFile), s.lib); err != nil {
			return err
		}
		s.dirty = false
	}
	if s.qDirty {
		if err := writeBucket(filepath.Join(s.dir, queueFile), s.queue); err != nil {
			return err
		}
		s.qDirty = false
	}
	if s.mDirty {
		if err := writeBucket(filepath.Join(s.dir, metaFile), s.meta); err != nil {
			return err
		}
		s.mDirty = false
	}
	return nil
}

// writeBucket writes through a temp file and renames it into place, so
// a reader never sees a half-written bucket.
func writeBucket(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

// LibraryPath returns the library bucket's file path, for the daemon's
// file watcher.
func (s *Store) LibraryPath() string { return filepath.Join(s.dir, libraryFile) }

// Dir returns the state directory the buckets live in.
func (s *Store) Dir() string { return s.dir }

// BucketFiles lists the bucket file names, for the daemon's file
// watcher.
func BucketFiles() []string { return []string{libraryFile, queueFile, metaFile} }

// Reload re-reads all buckets from disk, replacing in-memory state. Used
// when another prompit process modified the files.
func (s *Store) Reload() error {
	fresh, err := Open(s.dir)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.lib = fresh.lib
	s.queue = fresh.queue
	s.meta = fresh.meta
	s.dirty, s.qDirty, s.mDirty = false, false, false
	s.mu.Unlock()
	return nil
}

// bumpUpdated advances a timestamp strictly past prev. Reconciliation
// correctness depends on updated_at never repeating across edits.
func bumpUpdated(prev time.Time) time.Time {
	now := time.Now().UTC()
	if !now.After(prev) {
		now = prev.Add(time.Millisecond)
	}
	return now
}

// ---------- Records ----------

// Records returns a snapshot of all records, newest first.
func (s *Store) Records() []*model.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Record, 0, len(s.lib.Records))
	for _, r := range s.lib.Records {
		out = append(out, r.Clone())
	}
	return out
}

// Record returns a copy of the record with the given local id.
func (s *Store) Record(localID string) (*model.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.lib.Records {
		if r.LocalID == localID {
			return r.Clone(), true
		}
	}
	return nil, false
}

// SaveRecord inserts or replaces a record, bumping updated_at strictly
// past its previous value and persisting. Returns the stored copy.
func (s *Store) SaveRecord(r *model.Record) (*model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := r.Clone()
	for i, existing := range s.lib.Records {
		if existing.LocalID == r.LocalID {
			stored.UpdatedAt = bumpUpdated(existing.UpdatedAt)
			s.lib.Records[i] = stored
			s.dirty = true
			return stored.Clone(), s.saveLocked()
		}
	}

	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	stored.UpdatedAt = bumpUpdated(stored.CreatedAt.Add(-time.Millisecond))
	s.lib.Records = append([]*model.Record{stored}, s.lib.Records...)
	s.dirty = true
	return stored.Clone(), s.saveLocked()
}

// SetRecordStatus flips sync_status without touching updated_at. A no-op
// when the record no longer exists (it may have been deleted while a
// network call was in flight).
func (s *Store) SetRecordStatus(localID string, status model.SyncStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.lib.Records {
		if r.LocalID == localID {
			r.SyncStatus = status
			s.dirty = true
			return s.saveLocked()
		}
	}
	return nil
}

// AdoptRemoteID records the server-assigned id after a first successful
// upload. The status flips to synced only when the local record is still
// at the uploaded revision; a concurrent edit keeps it pending.
func (s *Store) AdoptRemoteID(localID, remoteID string, uploadedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.lib.Records {
		if r.LocalID == localID {
			r.RemoteID = remoteID
			if !r.UpdatedAt.After(uploadedAt) {
				r.SyncStatus = model.StatusSynced
			}
			s.dirty = true
			return s.saveLocked()
		}
	}
	return nil
}

// DeleteRecord removes a record locally and returns the removed copy.
func (s *Store) DeleteRecord(localID string) (*model.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.lib.Records {
		if r.LocalID == localID {
			s.lib.Records = append(s.lib.Records[:i], s.lib.Records[i+1:]...)
			s.dirty = true
			return r, true, s.saveLocked()
		}
	}
	return nil, false, nil
}

// ReplaceRecords atomically swaps in a reconciled record set, sorted
// newest first, and persists. The reconciled set was derived from an
// earlier snapshot, so disk state another process wrote since then is
// folded back in before the wholesale write.
func (s *Store) ReplaceRecords(records []*model.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.flk.Lock(); err != nil {
		return fmt.Errorf("failed to lock state files: %w", err)
	}
	defer s.flk.Unlock()

	var disk libraryState
	if err := loadBucket(filepath.Join(s.dir, libraryFile), &disk); err == nil {
		records = foldForeignRecords(records, s.lib.Records, disk.Records)
	}

	sorted := make([]*model.Record, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})

	s.lib.Records = sorted
	s.dirty = true
	return s.writeDirtyLocked()
}

// foldForeignRecords reapplies disk records written by another process
// after snapshot was loaded: a record the snapshot never saw, or a disk
// copy strictly newer than the snapshot's, wins over the merged set.
func foldForeignRecords(merged, snapshot, disk []*model.Record) []*model.Record {
	known := make(map[string]*model.Record, len(snapshot))
	for _, r := range snapshot {
		known[r.LocalID] = r
	}
	index := make(map[string]int, len(merged))
	for i, r := range merged {
		index[r.LocalID] = i
	}

	for _, d := range disk {
		if prev, ok := known[d.LocalID]; ok && !d.UpdatedAt.After(prev.UpdatedAt) {
			continue
		}
		if i, ok := index[d.LocalID]; ok {
			if d.UpdatedAt.After(merged[i].UpdatedAt) {
				merged[i] = d
			}
			continue
		}
		merged = append(merged, d)
	}
	return merged
}

// ReassignOwner retags every record and folder owned by from with the to
// identity, bumping updated_at and marking them pending. Returns copies
// of the retagged records and folders.
func (s *Store) ReassignOwner(from, to model.Owner) ([]*model.Record, []*model.Folder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var records []*model.Record
	for _, r := range s.lib.Records {
		if r.Owner == from {
			r.Owner = to
			r.UpdatedAt = bumpUpdated(r.UpdatedAt)
			r.SyncStatus = model.StatusPending
			records = append(records, r.Clone())
			s.dirty = true
		}
	}

	var folders []*model.Folder
	for _, f := range s.lib.Folders {
		if f.Owner == from {
			f.Owner = to
			f.UpdatedAt = bumpUpdated(f.UpdatedAt)
			folders = append(folders, f.Clone())
			s.dirty = true
		}
	}

	return records, folders, s.saveLocked()
}

// ---------- Folders ----------

// Folders returns a snapshot of all folders.
func (s *Store) Folders() []*model.Folder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Folder, 0, len(s.lib.Folders))
	for _, f := range s.lib.Folders {
		out = append(out, f.Clone())
	}
	return out
}

// Folder returns a copy of the folder with the given local id.
func (s *Store) Folder(localID string) (*model.Folder, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, f := range s.lib.Folders {
		if f.LocalID == localID {
			return f.Clone(), true
		}
	}
	return nil, false
}

// SaveFolder inserts or replaces a folder and persists.
func (s *Store) SaveFolder(f *model.Folder) (*model.Folder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := f.Clone()
	for i, existing := range s.lib.Folders {
		if existing.LocalID == f.LocalID {
			stored.UpdatedAt = bumpUpdated(existing.UpdatedAt)
			s.lib.Folders[i] = stored
			s.dirty = true
			return stored.Clone(), s.saveLocked()
		}
	}

	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	stored.UpdatedAt = bumpUpdated(stored.CreatedAt.Add(-time.Millisecond))
	s.lib.Folders = append(s.lib.Folders, stored)
	s.dirty = true
	return stored.Clone(), s.saveLocked()
}

// AdoptFolderRemoteID records the server-assigned folder row id.
func (s *Store) AdoptFolderRemoteID(localID, remoteID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.lib.Folders {
		if f.LocalID == localID {
			f.RemoteID = remoteID
			s.dirty = true
			return s.saveLocked()
		}
	}
	return nil
}

// DeleteFolder removes a folder and clears folder_ref on every record
// that pointed at it. Records are never cascade-deleted. Returns the
// removed folder and copies of the records whose ref was cleared.
func (s *Store) DeleteFolder(localID string) (*model.Folder, []*model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed *model.Folder
	for i, f := range s.lib.Folders {
		if f.LocalID == localID {
			removed = f
			s.lib.Folders = append(s.lib.Folders[:i], s.lib.Folders[i+1:]...)
			s.dirty = true
			break
		}
	}
	if removed == nil {
		return nil, nil, nil
	}

	var cleared []*model.Record
	for _, r := range s.lib.Records {
		if r.FolderRef != nil && *r.FolderRef == localID {
			r.FolderRef = nil
			r.UpdatedAt = bumpUpdated(r.UpdatedAt)
			r.SyncStatus = model.StatusPending
			cleared = append(cleared, r.Clone())
		}
	}

	return removed, cleared, s.saveLocked()
}

// ReplaceFolders atomically swaps in a reconciled folder set.
func (s *Store) ReplaceFolders(folders []*model.Folder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lib.Folders = folders
	s.dirty = true
	return s.saveLocked()
}

// ---------- Categories ----------

// Categories returns the current category labels.
func (s *Store) Categories() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.lib.Categories...)
}

// AddCategory appends a label if not already present (case-insensitive).
// Reports whether the set changed.
func (s *Store) AddCategory(name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := model.MergeCategories(s.lib.Categories, []string{name})
	if len(merged) == len(s.lib.Categories) {
		return false, nil
	}
	s.lib.Categories = merged
	s.dirty = true
	return true, s.saveLocked()
}

// MergeCategories unions remote labels into the local set. Reports
// whether anything new arrived.
func (s *Store) MergeCategories(remote []string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := model.MergeCategories(s.lib.Categories, remote)
	if len(merged) == len(s.lib.Categories) {
		return false, nil
	}
	s.lib.Categories = merged
	s.dirty = true
	return true, s.saveLocked()
}

// ---------- Mutation queue ----------

// Queue returns a snapshot of the pending mutation queue.
func (s *Store) Queue() []model.QueueEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]model.QueueEntry(nil), s.queue...)
}

// PutQueue persists the queue. Entries survive process restarts; they
// are only removed after confirmed remote application. Entries another
// process appended to disk since our last load are folded back in so
// the wholesale write cannot drop them.
func (s *Store) PutQueue(entries []model.QueueEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.flk.Lock(); err != nil {
		return fmt.Errorf("failed to lock state files: %w", err)
	}
	defer s.flk.Unlock()

	var disk []model.QueueEntry
	if err := loadBucket(filepath.Join(s.dir, queueFile), &disk); err == nil {
		entries = foldForeignEntries(entries, s.queue, disk)
	}

	s.queue = append([]model.QueueEntry(nil), entries...)
	s.qDirty = true
	return s.writeDirtyLocked()
}

// foldForeignEntries appends queue entries another process enqueued
// after snapshot was loaded. Entries are identified by entity, local id,
// and enqueue time.
func foldForeignEntries(entries, snapshot, disk []model.QueueEntry) []model.QueueEntry {
	key := func(e model.QueueEntry) string {
		return string(e.Entity) + "\x00" + e.LocalID + "\x00" +
			strconv.FormatInt(e.EnqueuedAt.UnixNano(), 10)
	}

	known := make(map[string]struct{}, len(snapshot)+len(entries))
	for _, e := range snapshot {
		known[key(e)] = struct{}{}
	}
	for _, e := range entries {
		known[key(e)] = struct{}{}
	}

	for _, d := range disk {
		if _, ok := known[key(d)]; !ok {
			entries = append(entries, d)
		}
	}
	return entries
}

// ---------- Meta ----------

// Meta returns the value stored under key, if any.
func (s *Store) Meta(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.meta[key]
	return v, ok
}

// SetMeta stores a key/value pair and persists.
func (s *Store) SetMeta(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta[key] = value
	s.mDirty = true
	return s.saveLocked()
}
