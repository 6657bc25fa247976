package store

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shokaishelf/core/internal/schema"
)

func savePayload(mediaID int) json.RawMessage {
	p := schema.SavePayload{MediaID: mediaID, Status: schema.StatusCurrent, Progress: 3}
	raw, _ := json.Marshal(&p)
	return raw
}

// TestEnqueue_AssignsIncreasingIDs tests that ids grow with enqueue order
func TestEnqueue_AssignsIncreasingIDs(t *testing.T) {
	st := testStore(t)

	first, err := st.Enqueue("alice", schema.ActionSave, savePayload(101))
	if err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	second, err := st.Enqueue("alice", schema.ActionSave, savePayload(102))
	if err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	if second <= first {
		t.Errorf("ids out of order: %d then %d", first, second)
	}
}

// TestEnqueue_RejectsInvalidPayload tests validation at enqueue time
func TestEnqueue_RejectsInvalidPayload(t *testing.T) {
	st := testStore(t)

	tests := []struct {
		name    string
		action  schema.Action
		payload string
	}{
		{"zero media id", schema.ActionSave, `{"media_id":0,"status":"CURRENT"}`},
		{"bad status", schema.ActionSave, `{"media_id":1,"status":"WATCHING"}`},
		{"negative progress", schema.ActionSave, `{"media_id":1,"status":"CURRENT","progress":-1}`},
		{"zero entry id", schema.ActionDelete, `{"entry_id":0}`},
		{"malformed json", schema.ActionSave, `{`},
		{"unknown action", schema.Action("archive"), `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := st.Enqueue("alice", tt.action, []byte(tt.payload))
			if !errors.Is(err, schema.ErrInvalidPayload) {
				t.Errorf("Enqueue() error = %v, want ErrInvalidPayload", err)
			}
		})
	}

	if n := st.CountPending("alice"); n != 0 {
		t.Errorf("CountPending() = %d after rejected enqueues, want 0", n)
	}
}

// TestListPending_FIFO tests that pending items come back in enqueue order
func TestListPending_FIFO(t *testing.T) {
	st := testStore(t)

	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		now := base.Add(time.Duration(i) * time.Second)
		st.SetClock(func() time.Time { return now })
		if _, err := st.Enqueue("alice", schema.ActionSave, savePayload(100+i)); err != nil {
			t.Fatalf("Enqueue() failed: %v", err)
		}
	}

	items, err := st.ListPending("alice")
	if err != nil {
		t.Fatalf("ListPending() failed: %v", err)
	}
	if len(items) != 5 {
		t.Fatalf("ListPending() returned %d items, want 5", len(items))
	}
	for i := 1; i < len(items); i++ {
		if items[i].ID <= items[i-1].ID {
			t.Errorf("items out of order at %d: id %d after %d", i, items[i].ID, items[i-1].ID)
		}
	}
}

// TestListPending_SameTimestamp tests id tiebreak when created_at collides
func TestListPending_SameTimestamp(t *testing.T) {
	st := testStore(t)

	fixed := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	st.SetClock(func() time.Time { return fixed })

	var ids []int64
	for i := 0; i < 3; i++ {
		id, err := st.Enqueue("alice", schema.ActionSave, savePayload(100+i))
		if err != nil {
			t.Fatalf("Enqueue() failed: %v", err)
		}
		ids = append(ids, id)
	}

	items, err := st.ListPending("alice")
	if err != nil {
		t.Fatalf("ListPending() failed: %v", err)
	}
	for i, item := range items {
		if item.ID != ids[i] {
			t.Errorf("position %d: id %d, want %d", i, item.ID, ids[i])
		}
	}
}

// TestMarkSynced tests the pending -> synced transition
func TestMarkSynced(t *testing.T) {
	st := testStore(t)

	id, err := st.Enqueue("alice", schema.ActionSave, savePayload(101))
	if err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}

	if err := st.MarkSynced(id); err != nil {
		t.Fatalf("MarkSynced() failed: %v", err)
	}

	if n := st.CountPending("alice"); n != 0 {
		t.Errorf("CountPending() = %d, want 0", n)
	}

	item, err := st.Item(id)
	if err != nil {
		t.Fatalf("Item() failed: %v", err)
	}
	if item.SyncedAt == nil {
		t.Error("SyncedAt is nil after MarkSynced")
	}
	if item.Pending() {
		t.Error("item still pending after MarkSynced")
	}
}

// TestMarkSynced_Idempotent tests that a second MarkSynced is a no-op
func TestMarkSynced_Idempotent(t *testing.T) {
	st := testStore(t)

	id, err := st.Enqueue("alice", schema.ActionSave, savePayload(101))
	if err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}

	if err := st.MarkSynced(id); err != nil {
		t.Fatalf("First MarkSynced() failed: %v", err)
	}
	first, _ := st.Item(id)

	if err := st.MarkSynced(id); err != nil {
		t.Errorf("Second MarkSynced() failed: %v", err)
	}
	second, _ := st.Item(id)

	if !second.SyncedAt.Equal(*first.SyncedAt) {
		t.Errorf("SyncedAt changed on repeat: %v -> %v", first.SyncedAt, second.SyncedAt)
	}
}

// TestMarkSynced_Unknown tests the error for a nonexistent item
func TestMarkSynced_Unknown(t *testing.T) {
	st := testStore(t)

	err := st.MarkSynced(9999)
	if !errors.Is(err, ErrItemNotFound) {
		t.Errorf("MarkSynced() error = %v, want ErrItemNotFound", err)
	}
}

// TestMarkFailed_KeepsPending tests that a failure records the attempt but
// leaves the item in the queue
func TestMarkFailed_KeepsPending(t *testing.T) {
	st := testStore(t)

	id, err := st.Enqueue("alice", schema.ActionSave, savePayload(101))
	if err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}

	if err := st.MarkFailed(id, "connection refused"); err != nil {
		t.Fatalf("MarkFailed() failed: %v", err)
	}
	if err := st.MarkFailed(id, "server error 502"); err != nil {
		t.Fatalf("Second MarkFailed() failed: %v", err)
	}

	item, err := st.Item(id)
	if err != nil {
		t.Fatalf("Item() failed: %v", err)
	}
	if item.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", item.Attempts)
	}
	if item.LastError != "server error 502" {
		t.Errorf("LastError = %q, want last message", item.LastError)
	}
	if !item.Pending() {
		t.Error("item not pending after MarkFailed")
	}
	if n := st.CountPending("alice"); n != 1 {
		t.Errorf("CountPending() = %d, want 1", n)
	}
}

// TestMarkFailed_Unknown tests the error for a nonexistent item
func TestMarkFailed_Unknown(t *testing.T) {
	st := testStore(t)

	err := st.MarkFailed(9999, "whatever")
	if !errors.Is(err, ErrItemNotFound) {
		t.Errorf("MarkFailed() error = %v, want ErrItemNotFound", err)
	}
}

// TestRemove tests unconditional removal
func TestRemove(t *testing.T) {
	st := testStore(t)

	id, err := st.Enqueue("alice", schema.ActionDelete, []byte(`{"entry_id":55}`))
	if err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}

	if err := st.Remove(id); err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}

	if _, err := st.Item(id); !errors.Is(err, ErrItemNotFound) {
		t.Errorf("Item() error = %v, want ErrItemNotFound", err)
	}

	if err := st.Remove(id); !errors.Is(err, ErrItemNotFound) {
		t.Errorf("Second Remove() error = %v, want ErrItemNotFound", err)
	}
}

// TestCountPending_MatchesList tests count/list consistency
func TestCountPending_MatchesList(t *testing.T) {
	st := testStore(t)

	ids := make([]int64, 0, 4)
	for i := 0; i < 4; i++ {
		id, err := st.Enqueue("alice", schema.ActionSave, savePayload(100+i))
		if err != nil {
			t.Fatalf("Enqueue() failed: %v", err)
		}
		ids = append(ids, id)
	}

	if err := st.MarkSynced(ids[0]); err != nil {
		t.Fatalf("MarkSynced() failed: %v", err)
	}

	items, err := st.ListPending("alice")
	if err != nil {
		t.Fatalf("ListPending() failed: %v", err)
	}
	if count := st.CountPending("alice"); count != len(items) {
		t.Errorf("CountPending() = %d, ListPending() = %d", count, len(items))
	}
	if len(items) != 3 {
		t.Errorf("pending = %d, want 3", len(items))
	}
}

// TestCountStalled tests the attempts threshold
func TestCountStalled(t *testing.T) {
	st := testStore(t)

	id, err := st.Enqueue("alice", schema.ActionSave, savePayload(101))
	if err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := st.MarkFailed(id, "timeout"); err != nil {
			t.Fatalf("MarkFailed() failed: %v", err)
		}
	}

	if n := st.CountStalled("alice", 3); n != 1 {
		t.Errorf("CountStalled(3) = %d, want 1", n)
	}
	if n := st.CountStalled("alice", 4); n != 0 {
		t.Errorf("CountStalled(4) = %d, want 0", n)
	}
}

// TestUsersWithPending tests the distinct-user listing
func TestUsersWithPending(t *testing.T) {
	st := testStore(t)

	if _, err := st.Enqueue("alice", schema.ActionSave, savePayload(101)); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	if _, err := st.Enqueue("alice", schema.ActionSave, savePayload(102)); err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	id, err := st.Enqueue("bob", schema.ActionSave, savePayload(103))
	if err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	if err := st.MarkSynced(id); err != nil {
		t.Fatalf("MarkSynced() failed: %v", err)
	}

	users, err := st.UsersWithPending()
	if err != nil {
		t.Fatalf("UsersWithPending() failed: %v", err)
	}
	if len(users) != 1 || users[0] != "alice" {
		t.Errorf("UsersWithPending() = %v, want [alice]", users)
	}
}

// TestPurgeSynced tests cleanup of old synced items
func TestPurgeSynced(t *testing.T) {
	st := testStore(t)

	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	st.SetClock(func() time.Time { return old })

	id, err := st.Enqueue("alice", schema.ActionSave, savePayload(101))
	if err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	if err := st.MarkSynced(id); err != nil {
		t.Fatalf("MarkSynced() failed: %v", err)
	}
	pendingID, err := st.Enqueue("alice", schema.ActionSave, savePayload(102))
	if err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}

	st.SetClock(func() time.Time { return old.Add(30 * 24 * time.Hour) })

	purged, err := st.PurgeSynced(7 * 24 * time.Hour)
	if err != nil {
		t.Fatalf("PurgeSynced() failed: %v", err)
	}
	if purged != 1 {
		t.Errorf("PurgeSynced() = %d, want 1", purged)
	}

	// Pending items are never purged
	if _, err := st.Item(pendingID); err != nil {
		t.Errorf("pending item was purged: %v", err)
	}
}

// TestItem_PayloadDecodes tests that stored payloads decode by action
func TestItem_PayloadDecodes(t *testing.T) {
	st := testStore(t)

	id, err := st.Enqueue("alice", schema.ActionSave, savePayload(101))
	if err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}

	item, err := st.Item(id)
	if err != nil {
		t.Fatalf("Item() failed: %v", err)
	}
	p, err := item.SavePayload()
	if err != nil {
		t.Fatalf("SavePayload() failed: %v", err)
	}
	if p.MediaID != 101 {
		t.Errorf("MediaID = %d, want 101", p.MediaID)
	}
	if _, err := item.DeletePayload(); err == nil {
		t.Error("DeletePayload() succeeded on a save item")
	}
}
