package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shokaishelf/core/internal/schema"
)

// ReplaceLibrary upserts a batch of entries for a user in one transaction.
//
// Rows are keyed by (media_id, user_id); every row touched gets the same
// cached_at, taken once at the start of the transaction. This is an upsert,
// not a full replace: entries present from a prior refresh but absent from
// the new batch are left in place.
func (s *Store) ReplaceLibrary(userID string, entries []*schema.CacheEntry) error {
	return s.ReplaceLibraryContext(context.Background(), userID, entries)
}

// ReplaceLibraryContext upserts a batch of entries with context support.
func (s *Store) ReplaceLibraryContext(ctx context.Context, userID string, entries []*schema.CacheEntry) error {
	if userID == "" {
		return fmt.Errorf("user_id is required")
	}
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO library_cache (
		media_id, user_id, status, progress, score,
		started_at, completed_at, updated_at, media, cached_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(media_id, user_id) DO UPDATE SET
		status = excluded.status,
		progress = excluded.progress,
		score = excluded.score,
		started_at = excluded.started_at,
		completed_at = excluded.completed_at,
		updated_at = excluded.updated_at,
		media = excluded.media,
		cached_at = excluded.cached_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	// One transaction time for the whole batch
	cachedAt := s.now().UTC().Format(time.RFC3339Nano)

	for i, e := range entries {
		if e == nil {
			return fmt.Errorf("nil entry at index %d", i)
		}
		if err := e.Validate(); err != nil {
			return fmt.Errorf("invalid entry for media %d: %w", e.MediaID, err)
		}

		_, err = stmt.ExecContext(ctx,
			e.MediaID,
			userID,
			string(e.Status),
			e.Progress,
			e.Score,
			fuzzyToNullString(e.StartedAt),
			fuzzyToNullString(e.CompletedAt),
			e.UpdatedAt.UTC().Format(time.RFC3339Nano),
			mediaToNullString(e.Media),
			cachedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert entry for media %d: %w", e.MediaID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Library returns all cached entries for the user, ordered by updated_at
// descending. An unknown user yields an empty slice, never an error.
func (s *Store) Library(userID string) ([]*schema.CacheEntry, error) {
	return s.LibraryContext(context.Background(), userID)
}

// LibraryContext returns all cached entries with context support.
func (s *Store) LibraryContext(ctx context.Context, userID string) ([]*schema.CacheEntry, error) {
	rows, err := s.conn.QueryContext(ctx, `
	SELECT media_id, user_id, status, progress, score,
	       started_at, completed_at, updated_at, media, cached_at
	FROM library_cache
	WHERE user_id = ?
	ORDER BY updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query library: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// Entry is a point lookup of one cached entry.
// Returns (nil, nil) when the entry is absent; absence is not an error.
func (s *Store) Entry(userID string, mediaID int) (*schema.CacheEntry, error) {
	return s.EntryContext(context.Background(), userID, mediaID)
}

// EntryContext is a point lookup with context support.
func (s *Store) EntryContext(ctx context.Context, userID string, mediaID int) (*schema.CacheEntry, error) {
	row := s.conn.QueryRowContext(ctx, `
	SELECT media_id, user_id, status, progress, score,
	       started_at, completed_at, updated_at, media, cached_at
	FROM library_cache
	WHERE user_id = ? AND media_id = ?
	`, userID, mediaID)

	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entry for media %d: %w", mediaID, err)
	}
	return entry, nil
}

// PatchEntry updates only the supplied fields of an existing row and bumps
// cached_at. An empty patch is a no-op. Returns ErrEntryNotFound when the
// row does not exist; patching never creates rows.
func (s *Store) PatchEntry(userID string, mediaID int, patch *schema.EntryPatch) error {
	return s.PatchEntryContext(context.Background(), userID, mediaID, patch)
}

// PatchEntryContext updates only the supplied fields with context support.
func (s *Store) PatchEntryContext(ctx context.Context, userID string, mediaID int, patch *schema.EntryPatch) error {
	if patch.IsEmpty() {
		return nil
	}

	var sets []string
	var args []interface{}

	if patch.Status != nil {
		if !patch.Status.IsValid() {
			return fmt.Errorf("invalid status: %q", *patch.Status)
		}
		sets = append(sets, "status = ?")
		args = append(args, string(*patch.Status))
	}
	if patch.Progress != nil {
		if *patch.Progress < 0 {
			return fmt.Errorf("progress must be non-negative (got %d)", *patch.Progress)
		}
		sets = append(sets, "progress = ?")
		args = append(args, *patch.Progress)
	}
	if patch.Score != nil {
		sets = append(sets, "score = ?")
		args = append(args, *patch.Score)
	}
	if patch.StartedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, fuzzyToNullString(patch.StartedAt))
	}
	if patch.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, fuzzyToNullString(patch.CompletedAt))
	}
	if patch.UpdatedAt != nil {
		sets = append(sets, "updated_at = ?")
		args = append(args, patch.UpdatedAt.UTC().Format(time.RFC3339Nano))
	}

	sets = append(sets, "cached_at = ?")
	args = append(args, s.now().UTC().Format(time.RFC3339Nano))

	query := "UPDATE library_cache SET " + strings.Join(sets, ", ") +
		" WHERE user_id = ? AND media_id = ?"
	args = append(args, userID, mediaID)

	res, err := s.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to patch entry for media %d: %w", mediaID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check patch result: %w", err)
	}
	if affected == 0 {
		return ErrEntryNotFound
	}

	return nil
}

// LastCachedAt returns the newest cached_at across the user's rows,
// or the zero time when the user has no cached rows.
func (s *Store) LastCachedAt(userID string) (time.Time, error) {
	return s.LastCachedAtContext(context.Background(), userID)
}

// LastCachedAtContext returns the newest cached_at with context support.
func (s *Store) LastCachedAtContext(ctx context.Context, userID string) (time.Time, error) {
	var last sql.NullString
	err := s.conn.QueryRowContext(ctx,
		"SELECT MAX(cached_at) FROM library_cache WHERE user_id = ?", userID).Scan(&last)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get last cache time: %w", err)
	}
	if !last.Valid {
		return time.Time{}, nil
	}

	t, err := time.Parse(time.RFC3339Nano, last.String)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse cached_at %q: %w", last.String, err)
	}
	return t, nil
}

// IsValid reports whether the user's cache is younger than the retention
// window: now - max(cached_at) < retention. A user with no cached rows is
// never valid.
func (s *Store) IsValid(userID string, retention time.Duration) (bool, error) {
	return s.IsValidContext(context.Background(), userID, retention)
}

// IsValidContext reports cache validity with context support.
func (s *Store) IsValidContext(ctx context.Context, userID string, retention time.Duration) (bool, error) {
	last, err := s.LastCachedAtContext(ctx, userID)
	if err != nil {
		return false, err
	}
	if last.IsZero() {
		return false, nil
	}
	return s.now().Sub(last) < retention, nil
}

// PurgeExpired deletes cache rows older than now-retention, across all
// users. A storage-growth optimization, not required for correctness.
// Returns the number of rows removed.
func (s *Store) PurgeExpired(retention time.Duration) (int64, error) {
	return s.PurgeExpiredContext(context.Background(), retention)
}

// PurgeExpiredContext deletes expired cache rows with context support.
func (s *Store) PurgeExpiredContext(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.now().Add(-retention).UTC().Format(time.RFC3339Nano)

	res, err := s.conn.ExecContext(ctx,
		"DELETE FROM library_cache WHERE cached_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired cache rows: %w", err)
	}

	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged rows: %w", err)
	}
	return removed, nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanEntry scans a single cache entry from a row.
func scanEntry(row rowScanner) (*schema.CacheEntry, error) {
	var e schema.CacheEntry
	var status string
	var startedAt, completedAt, media sql.NullString
	var updatedAt, cachedAt string

	err := row.Scan(
		&e.MediaID,
		&e.UserID,
		&status,
		&e.Progress,
		&e.Score,
		&startedAt,
		&completedAt,
		&updatedAt,
		&media,
		&cachedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Status = schema.MediaStatus(status)
	e.StartedAt = nullStringToFuzzy(startedAt)
	e.CompletedAt = nullStringToFuzzy(completedAt)
	if media.Valid {
		e.Media = json.RawMessage(media.String)
	}

	if t, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		e.UpdatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, cachedAt); err == nil {
		e.CachedAt = t
	}

	return &e, nil
}

// scanEntries scans multiple cache entries from query results.
func scanEntries(rows *sql.Rows) ([]*schema.CacheEntry, error) {
	var entries []*schema.CacheEntry

	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entries: %w", err)
	}

	return entries, nil
}

// fuzzyToNullString converts a fuzzy date to a nullable JSON string for SQL.
func fuzzyToNullString(d *schema.FuzzyDate) sql.NullString {
	if d == nil || d.IsZero() {
		return sql.NullString{Valid: false}
	}
	b, err := json.Marshal(d)
	if err != nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: string(b), Valid: true}
}

// nullStringToFuzzy converts a nullable SQL string back to a fuzzy date.
func nullStringToFuzzy(ns sql.NullString) *schema.FuzzyDate {
	if !ns.Valid {
		return nil
	}
	var d schema.FuzzyDate
	if err := json.Unmarshal([]byte(ns.String), &d); err != nil {
		return nil
	}
	return &d
}

// mediaToNullString converts the opaque media blob to a nullable string.
func mediaToNullString(media json.RawMessage) sql.NullString {
	if len(media) == 0 {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: string(media), Valid: true}
}
