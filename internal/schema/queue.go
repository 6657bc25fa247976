package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidPayload marks payloads rejected at enqueue time. Callers can
// distinguish a bad request from a storage failure with errors.Is.
var ErrInvalidPayload = errors.New("invalid payload")

// Action identifies the kind of remote mutation a queue item carries.
type Action string

const (
	// ActionSave upserts a list entry remotely (SaveMediaListEntry).
	ActionSave Action = "save"

	// ActionDelete removes a list entry remotely (DeleteMediaListEntry).
	ActionDelete Action = "delete"
)

// IsValid reports whether the action is a known queue action.
func (a Action) IsValid() bool {
	return a == ActionSave || a == ActionDelete
}

// SavePayload carries the parameters of an upsert-style list mutation.
//
// Re-applying the same SavePayload twice produces the same remote state;
// the queue relies on this when a drain is interrupted and replayed.
type SavePayload struct {
	MediaID     int         `json:"media_id"`
	Status      MediaStatus `json:"status"`
	Progress    int         `json:"progress"`
	Score       float64     `json:"score"`
	StartedAt   *FuzzyDate  `json:"started_at,omitempty"`
	CompletedAt *FuzzyDate  `json:"completed_at,omitempty"`
}

// Validate checks if the SavePayload has valid field values.
func (p *SavePayload) Validate() error {
	if p.MediaID <= 0 {
		return fmt.Errorf("media_id must be positive (got %d)", p.MediaID)
	}
	if !p.Status.IsValid() {
		return fmt.Errorf("invalid status: %q", p.Status)
	}
	if p.Progress < 0 {
		return fmt.Errorf("progress must be non-negative (got %d)", p.Progress)
	}
	if p.Score < 0 {
		return fmt.Errorf("score must be non-negative (got %g)", p.Score)
	}
	return nil
}

// DeletePayload carries the remote entry id of a deletion.
// Deleting an already-deleted entry is not an error remotely.
type DeletePayload struct {
	EntryID int `json:"entry_id"`
}

// Validate checks if the DeletePayload has valid field values.
func (p *DeletePayload) Validate() error {
	if p.EntryID <= 0 {
		return fmt.Errorf("entry_id must be positive (got %d)", p.EntryID)
	}
	return nil
}

// EncodePayload validates a payload against its action and returns the
// JSON encoding stored in the sync_queue table.
func EncodePayload(action Action, payload json.RawMessage) (json.RawMessage, error) {
	switch action {
	case ActionSave:
		var p SavePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("%w: failed to decode save payload: %v", ErrInvalidPayload, err)
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		return json.Marshal(&p)
	case ActionDelete:
		var p DeletePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("%w: failed to decode delete payload: %v", ErrInvalidPayload, err)
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		return json.Marshal(&p)
	default:
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidPayload, action)
	}
}

// QueueItem is one pending or resolved remote mutation.
//
// Items are appended by Enqueue, mutated only by MarkSynced (terminal
// success) or MarkFailed (attempts increment, stays pending), and destroyed
// only by explicit removal or cleanup of already-synced rows.
type QueueItem struct {
	ID        int64           `json:"id"`
	UserID    string          `json:"user_id"`
	Action    Action          `json:"action"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"last_error,omitempty"`
	SyncedAt  *time.Time      `json:"synced_at,omitempty"`
}

// Pending reports whether the item still awaits remote application.
func (q *QueueItem) Pending() bool {
	return q.SyncedAt == nil
}

// Stalled reports whether the item has exhausted the poison threshold and
// needs manual resolution. Stalled items remain pending but are skipped
// during automatic drains.
func (q *QueueItem) Stalled(maxAttempts int) bool {
	return q.Pending() && maxAttempts > 0 && q.Attempts >= maxAttempts
}

// SavePayload decodes the item's payload as a SavePayload.
func (q *QueueItem) SavePayload() (*SavePayload, error) {
	if q.Action != ActionSave {
		return nil, fmt.Errorf("item %d is %s, not %s", q.ID, q.Action, ActionSave)
	}
	var p SavePayload
	if err := json.Unmarshal(q.Payload, &p); err != nil {
		return nil, fmt.Errorf("failed to decode save payload for item %d: %w", q.ID, err)
	}
	return &p, nil
}

// DeletePayload decodes the item's payload as a DeletePayload.
func (q *QueueItem) DeletePayload() (*DeletePayload, error) {
	if q.Action != ActionDelete {
		return nil, fmt.Errorf("item %d is %s, not %s", q.ID, q.Action, ActionDelete)
	}
	var p DeletePayload
	if err := json.Unmarshal(q.Payload, &p); err != nil {
		return nil, fmt.Errorf("failed to decode delete payload for item %d: %w", q.ID, err)
	}
	return &p, nil
}
