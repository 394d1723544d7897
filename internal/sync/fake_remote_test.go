package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vonshlovens/prompit/internal/model"
)

// fakeRemote is an in-memory RemoteStore for engine, reconciler, and
// migration tests. Rows are keyed by local id, mirroring the ON
// CONFLICT (local_id) upsert of the real client.
type fakeRemote struct {
	mu sync.Mutex

	online      bool
	failUpserts int
	failErr     error

	records    map[string]*model.Record
	folders    map[string]*model.Folder
	categories map[string][]string

	upsertCalls int
	deleteCalls int
	assignCalls int
	nextID      int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		online:     true,
		records:    make(map[string]*model.Record),
		folders:    make(map[string]*model.Folder),
		categories: make(map[string][]string),
	}
}

func (f *fakeRemote) newID() string {
	f.nextID++
	return fmt.Sprintf("row-%d", f.nextID)
}

func (f *fakeRemote) UpsertRecord(ctx context.Context, r *model.Record) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upsertCalls++

	if f.failUpserts > 0 {
		f.failUpserts--
		return "", f.failErr
	}

	stored := r.Clone()
	if prev, ok := f.records[r.LocalID]; ok {
		stored.RemoteID = prev.RemoteID
	} else {
		stored.RemoteID = f.newID()
	}
	f.records[r.LocalID] = stored
	return stored.RemoteID, nil
}

func (f *fakeRemote) DeleteRecord(ctx context.Context, localID string, owner model.Owner) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	delete(f.records, localID)
	return nil
}

func (f *fakeRemote) ListRecords(ctx context.Context, owner model.Owner) ([]*model.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Record
	for _, r := range f.records {
		c := r.Clone()
		c.SyncStatus = model.StatusSynced
		out = append(out, c)
	}
	return out, nil
}

func (f *fakeRemote) UpsertFolder(ctx context.Context, fl *model.Folder) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	stored := fl.Clone()
	if prev, ok := f.folders[fl.LocalID]; ok {
		stored.RemoteID = prev.RemoteID
	} else {
		stored.RemoteID = f.newID()
	}
	f.folders[fl.LocalID] = stored
	return stored.RemoteID, nil
}

func (f *fakeRemote) DeleteFolder(ctx context.Context, localID string, owner model.Owner) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.folders, localID)
	return nil
}

func (f *fakeRemote) ListFolders(ctx context.Context, owner model.Owner) ([]*model.Folder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Folder
	for _, fl := range f.folders {
		out = append(out, fl.Clone())
	}
	return out, nil
}

func (f *fakeRemote) GetDeviceCategories(ctx context.Context, deviceID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.categories[deviceID]...), nil
}

func (f *fakeRemote) PutDeviceCategories(ctx context.Context, deviceID string, categories []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.categories[deviceID] = append([]string(nil), categories...)
	return nil
}

func (f *fakeRemote) ListDeviceOrphans(ctx context.Context, deviceID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for _, r := range f.records {
		if r.Owner.IsDevice() && r.Owner.ID == deviceID {
			ids = append(ids, r.RemoteID)
		}
	}
	return ids, nil
}

func (f *fakeRemote) AssignOwner(ctx context.Context, rowIDs []string, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assignCalls++
	want := make(map[string]struct{}, len(rowIDs))
	for _, id := range rowIDs {
		want[id] = struct{}{}
	}
	for _, r := range f.records {
		if _, ok := want[r.RemoteID]; ok && !r.Owner.IsUser() {
			r.Owner = model.Owner{Kind: model.OwnerUser, ID: userID}
			r.UpdatedAt = time.Now().UTC()
		}
	}
	return nil
}

func (f *fakeRemote) Probe(ctx context.Context, timeout time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online
}

func (f *fakeRemote) setOnline(v bool) {
	f.mu.Lock()
	f.online = v
	f.mu.Unlock()
}

func (f *fakeRemote) record(localID string) (*model.Record, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[localID]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}
