// Package syncer applies queued mutations against the remote AniList
// service and records the outcome in the durable queue.
package syncer

import (
	"context"

	"github.com/shokaishelf/core/internal/anilist"
	"github.com/shokaishelf/core/internal/schema"
)

// Remote is the slice of the AniList client the applier needs.
// Both mutations must be safe to call more than once with the same
// arguments; the queue replays items after crashes and does not
// deduplicate logically-identical actions.
type Remote interface {
	// SaveListEntry applies an upsert-style list mutation.
	SaveListEntry(ctx context.Context, p *schema.SavePayload) (*anilist.SavedEntry, error)

	// DeleteListEntry removes a list entry by its remote id.
	// Deleting an already-deleted entry is not an error.
	DeleteListEntry(ctx context.Context, entryID int) error
}

// Applier translates one queued mutation into a remote call and classifies
// the outcome.
//
// Outcome handling:
//   - success: the item is marked synced (terminal)
//   - auth failure: the item is left pending with attempts untouched;
//     the error is returned for the caller to surface
//   - retryable or terminal failure: the failure is recorded via the
//     queue's MarkFailed and the error is returned
//
// A single item's failure never halts a drain pass; the sync manager skips
// past it and retries on the next pass.
type Applier interface {
	// Apply processes one pending queue item end to end.
	Apply(ctx context.Context, item *schema.QueueItem) error

	// ProcessItem is the composite host-bridge operation: it loads the
	// item by id, verifies the supplied action and payload match the
	// stored row, applies it, and marks it synced on success.
	ProcessItem(ctx context.Context, id int64, action schema.Action, payload []byte) error
}
