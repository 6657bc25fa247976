package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shokaishelf/core/internal/schema"
)

// Enqueue appends a pending mutation for the user and returns its
// store-assigned id. Ids are monotonically increasing, so replay order is
// enqueue order. The payload is validated against the action before it is
// written; a payload that fails validation never enters the queue.
func (s *Store) Enqueue(userID string, action schema.Action, payload json.RawMessage) (int64, error) {
	return s.EnqueueContext(context.Background(), userID, action, payload)
}

// EnqueueContext appends a pending mutation with context support.
func (s *Store) EnqueueContext(ctx context.Context, userID string, action schema.Action, payload json.RawMessage) (int64, error) {
	if userID == "" {
		return 0, fmt.Errorf("user_id is required")
	}

	encoded, err := schema.EncodePayload(action, payload)
	if err != nil {
		return 0, err
	}

	res, err := s.conn.ExecContext(ctx, `
	INSERT INTO sync_queue (user_id, action, payload, created_at, attempts)
	VALUES (?, ?, ?, ?, 0)
	`, userID, string(action), string(encoded), s.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue %s for user %s: %w", action, userID, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue item id: %w", err)
	}
	return id, nil
}

// ListPending returns the user's pending items (synced_at IS NULL) ordered
// by created_at ascending, id as tiebreak. This drives replay order.
func (s *Store) ListPending(userID string) ([]*schema.QueueItem, error) {
	return s.ListPendingContext(context.Background(), userID)
}

// ListPendingContext returns pending items with context support.
func (s *Store) ListPendingContext(ctx context.Context, userID string) ([]*schema.QueueItem, error) {
	rows, err := s.conn.QueryContext(ctx, `
	SELECT id, user_id, action, payload, created_at, attempts, last_error, synced_at
	FROM sync_queue
	WHERE user_id = ? AND synced_at IS NULL
	ORDER BY created_at ASC, id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending queue: %w", err)
	}
	defer rows.Close()

	return scanItems(rows)
}

// CountPending returns the number of pending items for the user.
//
// This feeds UI badges and must never take a status display down with it:
// on any store error it returns 0 instead of propagating the error.
func (s *Store) CountPending(userID string) int {
	return s.CountPendingContext(context.Background(), userID)
}

// CountPendingContext returns the pending count with context support.
func (s *Store) CountPendingContext(ctx context.Context, userID string) int {
	var count int
	err := s.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sync_queue WHERE user_id = ? AND synced_at IS NULL",
		userID).Scan(&count)
	if err != nil {
		return 0
	}
	return count
}

// CountStalled returns the number of pending items at or past the poison
// threshold. Like CountPending, errors degrade to 0.
func (s *Store) CountStalled(userID string, maxAttempts int) int {
	return s.CountStalledContext(context.Background(), userID, maxAttempts)
}

// CountStalledContext returns the stalled count with context support.
func (s *Store) CountStalledContext(ctx context.Context, userID string, maxAttempts int) int {
	if maxAttempts <= 0 {
		return 0
	}
	var count int
	err := s.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sync_queue WHERE user_id = ? AND synced_at IS NULL AND attempts >= ?",
		userID, maxAttempts).Scan(&count)
	if err != nil {
		return 0
	}
	return count
}

// MarkSynced sets synced_at on the item, making it terminal.
//
// Idempotent: a second call finds synced_at already set and leaves the
// original timestamp in place. Returns ErrItemNotFound for an unknown id.
func (s *Store) MarkSynced(id int64) error {
	return s.MarkSyncedContext(context.Background(), id)
}

// MarkSyncedContext marks an item synced with context support.
func (s *Store) MarkSyncedContext(ctx context.Context, id int64) error {
	res, err := s.conn.ExecContext(ctx,
		"UPDATE sync_queue SET synced_at = ? WHERE id = ? AND synced_at IS NULL",
		s.now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("failed to mark item %d synced: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check mark result: %w", err)
	}
	if affected == 0 {
		// Either already synced (harmless) or unknown id
		exists, err := s.itemExists(ctx, id)
		if err != nil {
			return err
		}
		if !exists {
			return ErrItemNotFound
		}
	}

	return nil
}

// MarkFailed increments attempts and records the failure message.
// The item remains pending and will be retried on a later drain pass,
// until the poison threshold stops it or it is removed manually.
func (s *Store) MarkFailed(id int64, message string) error {
	return s.MarkFailedContext(context.Background(), id, message)
}

// MarkFailedContext records a failure with context support.
func (s *Store) MarkFailedContext(ctx context.Context, id int64, message string) error {
	res, err := s.conn.ExecContext(ctx,
		"UPDATE sync_queue SET attempts = attempts + 1, last_error = ? WHERE id = ?",
		message, id)
	if err != nil {
		return fmt.Errorf("failed to mark item %d failed: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check mark result: %w", err)
	}
	if affected == 0 {
		return ErrItemNotFound
	}

	return nil
}

// Remove hard-deletes a queue item. Used for synced-row cleanup and to
// discard a poison item after user intervention.
func (s *Store) Remove(id int64) error {
	return s.RemoveContext(context.Background(), id)
}

// RemoveContext hard-deletes a queue item with context support.
func (s *Store) RemoveContext(ctx context.Context, id int64) error {
	res, err := s.conn.ExecContext(ctx, "DELETE FROM sync_queue WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to remove item %d: %w", id, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check remove result: %w", err)
	}
	if affected == 0 {
		return ErrItemNotFound
	}

	return nil
}

// Item returns a single queue item by id, synced or not.
// Returns ErrItemNotFound for an unknown id.
func (s *Store) Item(id int64) (*schema.QueueItem, error) {
	return s.ItemContext(context.Background(), id)
}

// ItemContext returns a single queue item with context support.
func (s *Store) ItemContext(ctx context.Context, id int64) (*schema.QueueItem, error) {
	row := s.conn.QueryRowContext(ctx, `
	SELECT id, user_id, action, payload, created_at, attempts, last_error, synced_at
	FROM sync_queue
	WHERE id = ?
	`, id)

	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item %d: %w", id, err)
	}
	return item, nil
}

// PurgeSynced deletes already-synced rows older than now-retention.
// Returns the number of rows removed.
func (s *Store) PurgeSynced(retention time.Duration) (int64, error) {
	return s.PurgeSyncedContext(context.Background(), retention)
}

// PurgeSyncedContext deletes old synced rows with context support.
func (s *Store) PurgeSyncedContext(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.now().Add(-retention).UTC().Format(time.RFC3339Nano)

	res, err := s.conn.ExecContext(ctx,
		"DELETE FROM sync_queue WHERE synced_at IS NOT NULL AND synced_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge synced queue rows: %w", err)
	}

	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged rows: %w", err)
	}
	return removed, nil
}

// UsersWithPending returns the distinct user ids that currently have
// pending queue items. Drives automatic drain scheduling.
func (s *Store) UsersWithPending() ([]string, error) {
	return s.UsersWithPendingContext(context.Background())
}

// UsersWithPendingContext returns users with pending items, with context
// support.
func (s *Store) UsersWithPendingContext(ctx context.Context) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx,
		"SELECT DISTINCT user_id FROM sync_queue WHERE synced_at IS NULL ORDER BY user_id")
	if err != nil {
		return nil, fmt.Errorf("failed to query users with pending items: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var user string
		if err := rows.Scan(&user); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}

	return users, nil
}

// itemExists reports whether a queue row with the id exists at all.
func (s *Store) itemExists(ctx context.Context, id int64) (bool, error) {
	var one int
	err := s.conn.QueryRowContext(ctx,
		"SELECT 1 FROM sync_queue WHERE id = ?", id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check item %d: %w", id, err)
	}
	return true, nil
}

// scanItem scans a single queue item from a row.
func scanItem(row rowScanner) (*schema.QueueItem, error) {
	var item schema.QueueItem
	var action, payload, createdAt string
	var lastError, syncedAt sql.NullString

	err := row.Scan(
		&item.ID,
		&item.UserID,
		&action,
		&payload,
		&createdAt,
		&item.Attempts,
		&lastError,
		&syncedAt,
	)
	if err != nil {
		return nil, err
	}

	item.Action = schema.Action(action)
	item.Payload = json.RawMessage(payload)
	if lastError.Valid {
		item.LastError = lastError.String
	}
	item.SyncedAt = nullStringToTime(syncedAt)

	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		item.CreatedAt = t
	}

	return &item, nil
}

// scanItems scans multiple queue items from query results.
func scanItems(rows *sql.Rows) ([]*schema.QueueItem, error) {
	var items []*schema.QueueItem

	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating queue items: %w", err)
	}

	return items, nil
}
