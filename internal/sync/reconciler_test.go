package sync

import (
	"context"
	"testing"
	"time"

	"github.com/vonshlovens/prompit/internal/model"
	"github.com/vonshlovens/prompit/internal/store"
)

func newTestReconciler(t *testing.T) (*Reconciler, *fakeRemote, *testFixture) {
	t.Helper()
	st := newTestStore(t)
	fr := newFakeRemote()
	q := NewQueue(st)
	ids := newTestIdentity(t)
	return NewReconciler(fr, st, q, ids), fr, &testFixture{store: st, queue: q}
}

type testFixture struct {
	store *store.Store
	queue *Queue
}

func TestReconcileRemoteWinsWhenNewer(t *testing.T) {
	r, fr, fx := newTestReconciler(t)
	ctx := context.Background()

	local := saveTestRecord(t, fx.store, "a", "stale local")
	st := fx.store
	// Remote copy edited later on another device.
	fr.records["a"] = &model.Record{
		LocalID:   "a",
		RemoteID:  "row-a",
		Title:     "fresher remote",
		Category:  "other",
		Owner:     local.Owner,
		CreatedAt: local.CreatedAt,
		UpdatedAt: local.UpdatedAt.Add(time.Hour),
	}
	st.AdoptRemoteID("a", "row-a", local.UpdatedAt)

	if err := r.Reconcile(ctx); err != nil {
		t.Fatal(err)
	}

	got, ok := st.Record("a")
	if !ok {
		t.Fatal("record vanished")
	}
	if got.Title != "fresher remote" {
		t.Errorf("title = %q, remote edit should win", got.Title)
	}
	if got.SyncStatus != model.StatusSynced {
		t.Errorf("status = %s, want synced", got.SyncStatus)
	}
}

func TestReconcileLocalWinsWhenNewer(t *testing.T) {
	r, fr, fx := newTestReconciler(t)
	ctx := context.Background()
	st := fx.store

	local := saveTestRecord(t, st, "a", "fresh local")
	fr.records["a"] = &model.Record{
		LocalID:   "a",
		RemoteID:  "row-a",
		Title:     "stale remote",
		Category:  "other",
		Owner:     local.Owner,
		CreatedAt: local.CreatedAt,
		UpdatedAt: local.UpdatedAt.Add(-time.Hour),
	}
	// Local has the remote id but is still pending upload.
	st.AdoptRemoteID("a", "row-a", local.UpdatedAt.Add(-2*time.Hour))

	if err := r.Reconcile(ctx); err != nil {
		t.Fatal(err)
	}

	got, _ := st.Record("a")
	if got.Title != "fresh local" {
		t.Errorf("title = %q, local edit should win", got.Title)
	}
	if got.SyncStatus != model.StatusPending {
		t.Errorf("status = %s, want pending for re-upload", got.SyncStatus)
	}
	if !fx.queue.HasPending(model.EntityRecord, "a") {
		t.Error("winning local copy not queued for re-upload")
	}
}

func TestReconcileSyncedLocalWinnerNotReuploaded(t *testing.T) {
	r, fr, fx := newTestReconciler(t)
	ctx := context.Background()
	st := fx.store

	local := saveTestRecord(t, st, "a", "settled")
	fr.records["a"] = &model.Record{
		LocalID:   "a",
		RemoteID:  "row-a",
		Title:     "older remote snapshot",
		Category:  "other",
		Owner:     local.Owner,
		CreatedAt: local.CreatedAt,
		UpdatedAt: local.UpdatedAt.Add(-time.Minute),
	}
	// Already marked synced; re-pushing an identical payload would
	// just ping-pong with the realtime channel.
	st.AdoptRemoteID("a", "row-a", local.UpdatedAt)

	if err := r.Reconcile(ctx); err != nil {
		t.Fatal(err)
	}

	if fx.queue.HasPending(model.EntityRecord, "a") {
		t.Error("synced record should not be re-enqueued")
	}
}

func TestReconcileDropsRemoteOrphans(t *testing.T) {
	r, _, fx := newTestReconciler(t)
	ctx := context.Background()
	st := fx.store

	local := saveTestRecord(t, st, "a", "deleted elsewhere")
	st.AdoptRemoteID("a", "row-a", local.UpdatedAt)
	// A stale queued update that would resurrect the record through
	// the idempotent upsert.
	fx.queue.Enqueue(model.QueueEntry{
		Operation: model.OpUpdate,
		Entity:    model.EntityRecord,
		LocalID:   "a",
		Record:    local,
	})

	if err := r.Reconcile(ctx); err != nil {
		t.Fatal(err)
	}

	if _, ok := st.Record("a"); ok {
		t.Error("remote deletion should remove the local copy")
	}
	if fx.queue.HasPending(model.EntityRecord, "a") {
		t.Error("queued mutations for the dropped record must be purged")
	}
}

func TestReconcileKeepsNeverSyncedRecords(t *testing.T) {
	r, _, fx := newTestReconciler(t)
	ctx := context.Background()

	saveTestRecord(t, fx.store, "a", "offline only")

	if err := r.Reconcile(ctx); err != nil {
		t.Fatal(err)
	}

	if _, ok := fx.store.Record("a"); !ok {
		t.Error("never-synced record must survive reconciliation")
	}
}

func TestReconcileAppendsUnknownRemoteRows(t *testing.T) {
	r, fr, fx := newTestReconciler(t)
	ctx := context.Background()

	owner := model.Owner{Kind: model.OwnerDevice, ID: "dev-1"}
	fr.records["x"] = &model.Record{
		LocalID:   "x",
		RemoteID:  "row-x",
		Title:     "from another device",
		Category:  "coding",
		Owner:     owner,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	if err := r.Reconcile(ctx); err != nil {
		t.Fatal(err)
	}

	got, ok := fx.store.Record("x")
	if !ok {
		t.Fatal("remote row not appended locally")
	}
	if got.SyncStatus != model.StatusSynced {
		t.Errorf("status = %s, want synced", got.SyncStatus)
	}
	if got.RemoteID != "row-x" {
		t.Errorf("remote id = %s, want row-x", got.RemoteID)
	}
}

func TestReconcileMatchesByIdempotencyToken(t *testing.T) {
	r, fr, fx := newTestReconciler(t)
	ctx := context.Background()
	st := fx.store

	// The first upload landed but the process died before adopting the
	// remote id: local has RemoteID == "", remote has the row.
	local := saveTestRecord(t, st, "a", "uploaded then crashed")
	fr.records["a"] = &model.Record{
		LocalID:   "a",
		RemoteID:  "row-a",
		Title:     "uploaded then crashed",
		Category:  "other",
		Owner:     local.Owner,
		CreatedAt: local.CreatedAt,
		UpdatedAt: local.UpdatedAt,
	}

	if err := r.Reconcile(ctx); err != nil {
		t.Fatal(err)
	}

	records := st.Records()
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1 (no duplicate)", len(records))
	}
	if records[0].RemoteID != "row-a" {
		t.Errorf("remote id = %q, want row-a adopted via local_id match", records[0].RemoteID)
	}
}

func TestReconcileFoldersLWW(t *testing.T) {
	r, fr, fx := newTestReconciler(t)
	ctx := context.Background()
	st := fx.store

	local, err := st.SaveFolder(&model.Folder{
		LocalID: "f1",
		Name:    "old name",
		Owner:   model.Owner{Kind: model.OwnerDevice, ID: "dev-1"},
	})
	if err != nil {
		t.Fatal(err)
	}
	st.AdoptFolderRemoteID("f1", "row-f1")

	fr.folders["f1"] = &model.Folder{
		LocalID:   "f1",
		RemoteID:  "row-f1",
		Name:      "renamed elsewhere",
		Owner:     local.Owner,
		CreatedAt: local.CreatedAt,
		UpdatedAt: local.UpdatedAt.Add(time.Hour),
	}

	if err := r.Reconcile(ctx); err != nil {
		t.Fatal(err)
	}

	got, ok := st.Folder("f1")
	if !ok {
		t.Fatal("folder vanished")
	}
	if got.Name != "renamed elsewhere" {
		t.Errorf("name = %q, remote rename should win", got.Name)
	}
}

func TestReconcileCategoriesUnion(t *testing.T) {
	r, fr, fx := newTestReconciler(t)
	ctx := context.Background()

	// Local extra label; remote has one the local side lacks.
	fx.store.AddCategory("poetry")
	ids := r.ids
	fr.categories[ids.DeviceID()] = []string{"coding", "research"}

	if err := r.Reconcile(ctx); err != nil {
		t.Fatal(err)
	}

	cats := fx.store.Categories()
	want := map[string]bool{"poetry": false, "research": false}
	for _, c := range cats {
		if _, ok := want[c]; ok {
			want[c] = true
		}
	}
	for label, seen := range want {
		if !seen {
			t.Errorf("category %q missing after union", label)
		}
	}

	// Local knew a label the remote did not; the union goes back up.
	if !fx.queue.HasPending(model.EntityCategories, "") {
		t.Error("category union not queued for upload")
	}
}
