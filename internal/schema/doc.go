// Package schema defines the data model shared by the cache store,
// mutation queue, and remote applier.
//
// # Overview
//
// Two kinds of rows live in the durable store:
//
//   - CacheEntry: a local mirror of one AniList list row, keyed by
//     (user_id, media_id). Entries are written in bulk by a full library
//     refresh and patched individually after an edit.
//
//   - QueueItem: one remote-bound mutation that could not (or should not)
//     be applied synchronously. The queue is an append-only ordered log;
//     items are only ever marked synced, marked failed, or removed.
//
// # Payloads
//
// Each queue action carries a strongly-typed payload, validated at enqueue
// time rather than at apply time:
//
//	save := &schema.SavePayload{
//	    MediaID:  1535,
//	    Status:   schema.StatusCurrent,
//	    Progress: 12,
//	    Score:    8.5,
//	}
//	if err := save.Validate(); err != nil {
//	    return err
//	}
//
// Payloads are encoded as JSON for storage in the sync_queue table and
// decoded again by the applier when the item is drained.
package schema
