package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vonshlovens/prompit/internal/identity"
	"github.com/vonshlovens/prompit/internal/model"
	"github.com/vonshlovens/prompit/internal/store"
)

// testOptions keeps retry timers far enough out that they never fire
// mid-test.
func testOptions() Options {
	return Options{
		RequestTimeout: 2 * time.Second,
		ProbeTimeout:   time.Second,
		BackoffBase:    time.Minute,
		BackoffMax:     5 * time.Minute,
	}
}

func newTestIdentity(t *testing.T) *identity.Context {
	t.Helper()
	ids, err := identity.Load(t.TempDir())
	if err != nil {
		t.Fatalf("failed to load identity: %v", err)
	}
	return ids
}

func newTestEngine(t *testing.T) (*Engine, *fakeRemote, *store.Store, *Queue) {
	t.Helper()
	st := newTestStore(t)
	fr := newFakeRemote()
	q := NewQueue(st)
	e := NewEngine(fr, st, q, newTestIdentity(t), testOptions())
	t.Cleanup(e.Stop)
	return e, fr, st, q
}

func saveTestRecord(t *testing.T, st *store.Store, localID, title string) *model.Record {
	t.Helper()
	rec, err := st.SaveRecord(&model.Record{
		LocalID:    localID,
		Title:      title,
		Body:       "body of " + title,
		Category:   "other",
		Owner:      model.Owner{Kind: model.OwnerDevice, ID: "dev-1"},
		SyncStatus: model.StatusPending,
	})
	if err != nil {
		t.Fatalf("failed to save record: %v", err)
	}
	return rec
}

func TestEngineDrainsInOrder(t *testing.T) {
	e, fr, st, q := newTestEngine(t)
	ctx := context.Background()

	a := saveTestRecord(t, st, "a", "first")
	b := saveTestRecord(t, st, "b", "second")
	q.Enqueue(model.QueueEntry{Operation: model.OpCreate, Entity: model.EntityRecord, LocalID: "a", Record: a})
	q.Enqueue(model.QueueEntry{Operation: model.OpCreate, Entity: model.EntityRecord, LocalID: "b", Record: b})
	q.Enqueue(model.QueueEntry{Operation: model.OpDelete, Entity: model.EntityRecord, LocalID: "a", Record: a})

	e.Process(ctx)

	if q.Len() != 0 {
		t.Fatalf("queue not drained, %d left", q.Len())
	}
	if _, ok := fr.record("a"); ok {
		t.Error("record a should have been deleted remotely after its create")
	}
	if _, ok := fr.record("b"); !ok {
		t.Error("record b missing remotely")
	}
}

func TestEngineAdoptsRemoteID(t *testing.T) {
	e, fr, st, q := newTestEngine(t)
	ctx := context.Background()

	rec := saveTestRecord(t, st, "a", "first")
	q.Enqueue(model.QueueEntry{Operation: model.OpCreate, Entity: model.EntityRecord, LocalID: "a", Record: rec})

	e.Process(ctx)

	got, ok := st.Record("a")
	if !ok {
		t.Fatal("record vanished locally")
	}
	if got.RemoteID == "" {
		t.Error("remote id not adopted")
	}
	if got.SyncStatus != model.StatusSynced {
		t.Errorf("status = %s, want synced", got.SyncStatus)
	}

	remote, _ := fr.record("a")
	if remote.RemoteID != got.RemoteID {
		t.Errorf("adopted id %s does not match remote row %s", got.RemoteID, remote.RemoteID)
	}
}

func TestEngineUpsertIsIdempotent(t *testing.T) {
	e, fr, st, q := newTestEngine(t)
	ctx := context.Background()

	rec := saveTestRecord(t, st, "a", "first")

	// The same create applied twice, as after a crash between remote
	// apply and local pop, must not produce a second row.
	q.Enqueue(model.QueueEntry{Operation: model.OpCreate, Entity: model.EntityRecord, LocalID: "a", Record: rec})
	e.Process(ctx)
	firstID, _ := st.Record("a")

	q.Enqueue(model.QueueEntry{Operation: model.OpCreate, Entity: model.EntityRecord, LocalID: "a", Record: rec})
	e.Process(ctx)

	fr.mu.Lock()
	rows := len(fr.records)
	fr.mu.Unlock()
	if rows != 1 {
		t.Fatalf("remote has %d rows, want 1", rows)
	}
	second, _ := st.Record("a")
	if second.RemoteID != firstID.RemoteID {
		t.Errorf("remote id changed across replays: %s then %s", firstID.RemoteID, second.RemoteID)
	}
}

func TestEngineOfflineSuspendsWithoutRetryBudget(t *testing.T) {
	e, fr, st, q := newTestEngine(t)
	ctx := context.Background()

	rec := saveTestRecord(t, st, "a", "first")
	q.Enqueue(model.QueueEntry{Operation: model.OpCreate, Entity: model.EntityRecord, LocalID: "a", Record: rec})

	fr.setOnline(false)
	e.Process(ctx)

	if e.Online() {
		t.Error("engine still reports online")
	}
	if q.Len() != 1 {
		t.Fatalf("queue length = %d, want entry left intact", q.Len())
	}
	head, _ := q.Head()
	if head.RetryCount != 0 {
		t.Errorf("retry count = %d, offline must not consume retry budget", head.RetryCount)
	}
	got, _ := st.Record("a")
	if got.SyncStatus == model.StatusError {
		t.Error("offline must not flag the record as errored")
	}

	// Connectivity returns; the transition kicks a drain.
	fr.setOnline(true)
	e.SetOnline(ctx, true)
	if q.Len() != 0 {
		t.Fatalf("queue not drained after reconnect, %d left", q.Len())
	}
}

func TestEngineFailureKeepsEntryAndFlagsRecord(t *testing.T) {
	e, fr, st, q := newTestEngine(t)
	ctx := context.Background()

	rec := saveTestRecord(t, st, "a", "first")
	q.Enqueue(model.QueueEntry{Operation: model.OpCreate, Entity: model.EntityRecord, LocalID: "a", Record: rec})

	fr.mu.Lock()
	fr.failUpserts = 1
	fr.failErr = errors.New("connection reset")
	fr.mu.Unlock()

	e.Process(ctx)

	if q.Len() != 1 {
		t.Fatalf("failing entry must stay queued, length = %d", q.Len())
	}
	head, _ := q.Head()
	if head.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", head.RetryCount)
	}
	got, _ := st.Record("a")
	if got.SyncStatus != model.StatusError {
		t.Errorf("status = %s, want error", got.SyncStatus)
	}

	// Next attempt succeeds and clears the flag through adoption.
	e.Process(ctx)
	if q.Len() != 0 {
		t.Fatalf("queue not drained after recovery, %d left", q.Len())
	}
	got, _ = st.Record("a")
	if got.SyncStatus != model.StatusSynced {
		t.Errorf("status after recovery = %s, want synced", got.SyncStatus)
	}
}

func TestEngineConcurrentProcessIsSingleDrain(t *testing.T) {
	e, _, st, q := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		id := string(rune('a' + i))
		rec := saveTestRecord(t, st, id, "rec "+id)
		q.Enqueue(model.QueueEntry{Operation: model.OpCreate, Entity: model.EntityRecord, LocalID: id, Record: rec})
	}

	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		go func() {
			e.Process(ctx)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 4; i++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("drain deadlocked")
		}
	}

	if q.Len() != 0 {
		t.Fatalf("queue not drained, %d left", q.Len())
	}
}

func TestEngineCategoriesEntry(t *testing.T) {
	st := newTestStore(t)
	fr := newFakeRemote()
	q := NewQueue(st)
	ids := newTestIdentity(t)
	e := NewEngine(fr, st, q, ids, testOptions())
	t.Cleanup(e.Stop)

	q.Enqueue(model.QueueEntry{
		Operation:  model.OpUpdate,
		Entity:     model.EntityCategories,
		Categories: []string{"coding", "poetry"},
	})
	e.Process(context.Background())

	got, _ := fr.GetDeviceCategories(context.Background(), ids.DeviceID())
	if len(got) != 2 {
		t.Fatalf("remote categories = %v, want 2 labels", got)
	}
}
