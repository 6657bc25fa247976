package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shokaishelf/core/internal/anilist"
	"github.com/shokaishelf/core/internal/logging"
	"github.com/shokaishelf/core/internal/schema"
	"github.com/shokaishelf/core/internal/store"
	"github.com/shokaishelf/core/internal/syncer"
)

// fakeApplier records application order and fails scripted items, keeping
// the store's bookkeeping consistent the way the real applier does
type fakeApplier struct {
	st      *store.Store
	applied []int64
	fail    map[int64]error
}

func newFakeApplier(st *store.Store) *fakeApplier {
	return &fakeApplier{st: st, fail: make(map[int64]error)}
}

func (f *fakeApplier) Apply(ctx context.Context, item *schema.QueueItem) error {
	f.applied = append(f.applied, item.ID)
	if err, ok := f.fail[item.ID]; ok {
		if anilist.Classify(err) != anilist.ClassAuth {
			_ = f.st.MarkFailedContext(ctx, item.ID, err.Error())
		}
		return err
	}
	return f.st.MarkSyncedContext(ctx, item.ID)
}

func (f *fakeApplier) ProcessItem(ctx context.Context, id int64, action schema.Action, payload []byte) error {
	item, err := f.st.ItemContext(ctx, id)
	if err != nil {
		return err
	}
	return f.Apply(ctx, item)
}

var _ syncer.Applier = (*fakeApplier)(nil)

func testStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return st
}

func testManager(t *testing.T, st *store.Store, applier syncer.Applier, online bool) *Manager {
	t.Helper()
	m, err := New(st, applier, StaticProbe(online), nil, &Config{
		AutoSyncInterval: time.Hour,
		ProbeInterval:    time.Hour,
		DebounceInterval: time.Millisecond,
		MaxAttempts:      10,
		Logger:           logging.Discard(),
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	m.setOnline(online)
	return m
}

func enqueueN(t *testing.T, st *store.Store, userID string, n int) []int64 {
	t.Helper()
	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		raw, _ := json.Marshal(&schema.SavePayload{MediaID: 100 + i, Status: schema.StatusCurrent})
		id, err := st.Enqueue(userID, schema.ActionSave, raw)
		if err != nil {
			t.Fatalf("Enqueue() failed: %v", err)
		}
		ids = append(ids, id)
	}
	return ids
}

// TestDrainQueue_AppliesInOrder tests serial in-order application
func TestDrainQueue_AppliesInOrder(t *testing.T) {
	st := testStore(t)
	applier := newFakeApplier(st)
	m := testManager(t, st, applier, true)

	ids := enqueueN(t, st, "alice", 3)

	applied, err := m.DrainQueue(context.Background(), "alice")
	if err != nil {
		t.Fatalf("DrainQueue() failed: %v", err)
	}
	if applied != 3 {
		t.Errorf("applied = %d, want 3", applied)
	}
	if len(applier.applied) != 3 {
		t.Fatalf("applier saw %d items, want 3", len(applier.applied))
	}
	for i, id := range ids {
		if applier.applied[i] != id {
			t.Errorf("position %d: applied %d, want %d", i, applier.applied[i], id)
		}
	}
	if n := st.CountPending("alice"); n != 0 {
		t.Errorf("CountPending() = %d, want 0", n)
	}
}

// TestDrainQueue_FailedItemSkipped tests that one failure does not halt
// the pass
func TestDrainQueue_FailedItemSkipped(t *testing.T) {
	st := testStore(t)
	applier := newFakeApplier(st)
	m := testManager(t, st, applier, true)

	ids := enqueueN(t, st, "alice", 3)
	applier.fail[ids[1]] = &anilist.TransportError{Err: errors.New("connection reset")}

	applied, err := m.DrainQueue(context.Background(), "alice")
	if err != nil {
		t.Fatalf("DrainQueue() failed: %v", err)
	}
	if applied != 2 {
		t.Errorf("applied = %d, want 2", applied)
	}
	if len(applier.applied) != 3 {
		t.Errorf("applier saw %d items, want all 3", len(applier.applied))
	}
	if n := st.CountPending("alice"); n != 1 {
		t.Errorf("CountPending() = %d, want 1", n)
	}

	failed, _ := st.Item(ids[1])
	if failed.Attempts != 1 {
		t.Errorf("failed item attempts = %d, want 1", failed.Attempts)
	}
}

// TestDrainQueue_AuthHaltsPass tests that a credential failure stops the
// pass without touching later items
func TestDrainQueue_AuthHaltsPass(t *testing.T) {
	st := testStore(t)
	applier := newFakeApplier(st)
	m := testManager(t, st, applier, true)

	ids := enqueueN(t, st, "alice", 3)
	applier.fail[ids[0]] = anilist.ErrNotAuthenticated

	_, err := m.DrainQueue(context.Background(), "alice")
	if !errors.Is(err, anilist.ErrNotAuthenticated) {
		t.Fatalf("DrainQueue() error = %v, want ErrNotAuthenticated", err)
	}
	if len(applier.applied) != 1 {
		t.Errorf("applier saw %d items, want 1", len(applier.applied))
	}
	if n := st.CountPending("alice"); n != 3 {
		t.Errorf("CountPending() = %d, want 3 (nothing consumed)", n)
	}
	for _, id := range ids {
		item, _ := st.Item(id)
		if item.Attempts != 0 {
			t.Errorf("item %d attempts = %d, want 0", id, item.Attempts)
		}
	}
}

// TestDrainQueue_Guard tests the at-most-one-drain-per-user rule
func TestDrainQueue_Guard(t *testing.T) {
	st := testStore(t)
	applier := newFakeApplier(st)
	m := testManager(t, st, applier, true)

	enqueueN(t, st, "alice", 2)

	if !m.tryAcquireDrain("alice") {
		t.Fatal("could not take drain guard")
	}
	defer m.releaseDrain("alice")

	applied, err := m.DrainQueue(context.Background(), "alice")
	if err != nil {
		t.Fatalf("DrainQueue() failed: %v", err)
	}
	if applied != 0 {
		t.Errorf("applied = %d while guard held, want 0", applied)
	}
	if len(applier.applied) != 0 {
		t.Error("applier was invoked while guard held")
	}

	// Other users drain independently
	enqueueN(t, st, "bob", 1)
	if applied, _ := m.DrainQueue(context.Background(), "bob"); applied != 1 {
		t.Errorf("bob applied = %d, want 1", applied)
	}
}

// TestDrainQueue_SkipsStalled tests the poison threshold
func TestDrainQueue_SkipsStalled(t *testing.T) {
	st := testStore(t)
	applier := newFakeApplier(st)
	m := testManager(t, st, applier, true)
	m.config.MaxAttempts = 3

	ids := enqueueN(t, st, "alice", 2)
	for i := 0; i < 3; i++ {
		if err := st.MarkFailed(ids[0], "timeout"); err != nil {
			t.Fatalf("MarkFailed() failed: %v", err)
		}
	}

	applied, err := m.DrainQueue(context.Background(), "alice")
	if err != nil {
		t.Fatalf("DrainQueue() failed: %v", err)
	}
	if applied != 1 {
		t.Errorf("applied = %d, want 1", applied)
	}
	for _, id := range applier.applied {
		if id == ids[0] {
			t.Error("stalled item was applied")
		}
	}

	// The stalled item stays pending and is surfaced in status
	status := m.Status("alice")
	if status.Stalled != 1 {
		t.Errorf("Stalled = %d, want 1", status.Stalled)
	}
	if status.Pending != 1 {
		t.Errorf("Pending = %d, want 1", status.Pending)
	}
}

// TestForceSync_Offline tests that force sync is dropped while offline
func TestForceSync_Offline(t *testing.T) {
	st := testStore(t)
	m := testManager(t, st, newFakeApplier(st), false)

	enqueueN(t, st, "alice", 1)

	if m.ForceSync("alice") {
		t.Error("ForceSync() started a drain while offline")
	}
	if n := st.CountPending("alice"); n != 1 {
		t.Errorf("CountPending() = %d, want 1", n)
	}
}

// TestForceSync_WhileDraining tests the dropped-not-queued rule
func TestForceSync_WhileDraining(t *testing.T) {
	st := testStore(t)
	m := testManager(t, st, newFakeApplier(st), true)

	if !m.tryAcquireDrain("alice") {
		t.Fatal("could not take drain guard")
	}
	defer m.releaseDrain("alice")

	if m.ForceSync("alice") {
		t.Error("ForceSync() started a second drain for the same user")
	}
}

// TestForceSync_AfterStop tests that a late force sync is dropped instead
// of spawning a goroutine the shutdown no longer waits for
func TestForceSync_AfterStop(t *testing.T) {
	st := testStore(t)
	m := testManager(t, st, newFakeApplier(st), true)

	enqueueN(t, st, "alice", 1)

	if err := m.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if m.ForceSync("alice") {
		t.Error("ForceSync() started a drain after Stop()")
	}
	if n := st.CountPending("alice"); n != 1 {
		t.Errorf("CountPending() = %d, want 1", n)
	}
}

// TestForceSync_Runs tests a successful background drain
func TestForceSync_Runs(t *testing.T) {
	st := testStore(t)
	applier := newFakeApplier(st)
	m := testManager(t, st, applier, true)

	enqueueN(t, st, "alice", 2)

	if !m.ForceSync("alice") {
		t.Fatal("ForceSync() did not start")
	}

	deadline := time.After(2 * time.Second)
	for st.CountPending("alice") != 0 {
		select {
		case <-deadline:
			t.Fatal("drain did not complete")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// TestStatus tests the state labels
func TestStatus(t *testing.T) {
	st := testStore(t)
	m := testManager(t, st, newFakeApplier(st), false)

	if got := m.Status("alice").State; got != "offline" {
		t.Errorf("State = %q, want offline", got)
	}

	m.setOnline(true)
	if got := m.Status("alice").State; got != "online-idle" {
		t.Errorf("State = %q, want online-idle", got)
	}

	m.tryAcquireDrain("alice")
	if got := m.Status("alice").State; got != "online-syncing" {
		t.Errorf("State = %q, want online-syncing", got)
	}
	m.releaseDrain("alice")
}

// TestSubscribe_NotifyDelivers tests the status push channel
func TestSubscribe_NotifyDelivers(t *testing.T) {
	st := testStore(t)
	m := testManager(t, st, newFakeApplier(st), true)

	ch := m.Subscribe()
	defer m.Unsubscribe(ch)

	enqueueN(t, st, "alice", 1)
	m.Notify("alice")

	select {
	case status := <-ch:
		if status.UserID != "alice" {
			t.Errorf("UserID = %q, want alice", status.UserID)
		}
		if status.Pending != 1 {
			t.Errorf("Pending = %d, want 1", status.Pending)
		}
	case <-time.After(time.Second):
		t.Fatal("no status delivered")
	}
}

// TestManager_StartStop tests the lifecycle
func TestManager_StartStop(t *testing.T) {
	st := testStore(t)
	m := testManager(t, st, newFakeApplier(st), true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	if !m.Online() {
		t.Error("manager offline after start with online probe")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("manager did not stop")
	}
}
