package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/shokaishelf/core/internal/anilist"
	"github.com/shokaishelf/core/internal/schema"
	"github.com/shokaishelf/core/internal/store"
)

// applier implements the Applier interface.
type applier struct {
	store  *store.Store
	remote Remote
	logger *log.Logger
}

// New creates a new Applier instance.
//
// The store must be initialized and have its schema created before being
// passed here. If logger is nil, a default logger writing to stderr is used.
//
// Example:
//
//	st, err := store.Open(dbPath)
//	if err != nil {
//	    return err
//	}
//	if err := st.InitSchema(); err != nil {
//	    return err
//	}
//	applier := syncer.New(st, anilistClient, nil)
func New(st *store.Store, remote Remote, logger *log.Logger) Applier {
	if logger == nil {
		logger = log.New(os.Stderr, "[syncer] ", log.LstdFlags)
	}
	return &applier{
		store:  st,
		remote: remote,
		logger: logger,
	}
}

// Apply implements Applier.Apply.
func (a *applier) Apply(ctx context.Context, item *schema.QueueItem) error {
	if !item.Pending() {
		// Already synced; replaying is harmless but pointless
		return nil
	}

	err := a.applyRemote(ctx, item)
	if err == nil {
		if err := a.store.MarkSyncedContext(ctx, item.ID); err != nil {
			return fmt.Errorf("failed to mark item %d synced: %w", item.ID, err)
		}
		a.logger.Printf("Applied %s item %d (user %s)", item.Action, item.ID, item.UserID)
		return nil
	}

	switch anilist.Classify(err) {
	case anilist.ClassAuth:
		// Deferred to the auth refresh collaborator; not an attempt
		a.logger.Printf("Item %d blocked on credentials: %v", item.ID, err)
		return err

	case anilist.ClassTerminal:
		msg := "validation: " + err.Error()
		if mErr := a.store.MarkFailedContext(ctx, item.ID, msg); mErr != nil {
			a.logger.Printf("WARNING: failed to record terminal failure for item %d: %v", item.ID, mErr)
		}
		a.logger.Printf("Item %d rejected remotely: %v", item.ID, err)
		return err

	default:
		if mErr := a.store.MarkFailedContext(ctx, item.ID, err.Error()); mErr != nil {
			a.logger.Printf("WARNING: failed to record failure for item %d: %v", item.ID, mErr)
		}
		a.logger.Printf("Item %d failed, will retry: %v", item.ID, err)
		return err
	}
}

// ProcessItem implements Applier.ProcessItem.
func (a *applier) ProcessItem(ctx context.Context, id int64, action schema.Action, payload []byte) error {
	item, err := a.store.ItemContext(ctx, id)
	if err != nil {
		return err
	}

	if item.Action != action {
		return fmt.Errorf("item %d is %s, caller supplied %s", id, item.Action, action)
	}
	if len(payload) > 0 && !payloadEqual(item.Payload, payload) {
		return fmt.Errorf("item %d payload does not match stored payload", id)
	}

	return a.Apply(ctx, item)
}

// applyRemote dispatches the item to the matching remote mutation.
func (a *applier) applyRemote(ctx context.Context, item *schema.QueueItem) error {
	switch item.Action {
	case schema.ActionSave:
		p, err := item.SavePayload()
		if err != nil {
			return &anilist.ValidationError{Message: err.Error()}
		}
		_, err = a.remote.SaveListEntry(ctx, p)
		return err

	case schema.ActionDelete:
		p, err := item.DeletePayload()
		if err != nil {
			return &anilist.ValidationError{Message: err.Error()}
		}
		return a.remote.DeleteListEntry(ctx, p.EntryID)

	default:
		return &anilist.ValidationError{Message: fmt.Sprintf("unknown action %q", item.Action)}
	}
}

// payloadEqual compares two JSON payloads structurally.
func payloadEqual(a, b []byte) bool {
	var av, bv interface{}
	if err := json.Unmarshal(a, &av); err != nil {
		return bytes.Equal(a, b)
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		return false
	}
	ab, _ := json.Marshal(av)
	bb, _ := json.Marshal(bv)
	return bytes.Equal(ab, bb)
}
