package schema

import (
	"encoding/json"
	"fmt"
	"time"
)

// MediaStatus is the watch status of a list entry, mirroring the
// AniList MediaListStatus enum.
type MediaStatus string

const (
	StatusCurrent   MediaStatus = "CURRENT"
	StatusPlanning  MediaStatus = "PLANNING"
	StatusCompleted MediaStatus = "COMPLETED"
	StatusDropped   MediaStatus = "DROPPED"
	StatusPaused    MediaStatus = "PAUSED"
	StatusRepeating MediaStatus = "REPEATING"
)

// IsValid reports whether the status is one of the known AniList values.
func (s MediaStatus) IsValid() bool {
	switch s {
	case StatusCurrent, StatusPlanning, StatusCompleted,
		StatusDropped, StatusPaused, StatusRepeating:
		return true
	}
	return false
}

// FuzzyDate is a partial calendar date as used by the AniList API.
// Any component may be zero, meaning "unknown".
type FuzzyDate struct {
	Year  int `json:"year,omitempty"`
	Month int `json:"month,omitempty"`
	Day   int `json:"day,omitempty"`
}

// IsZero reports whether no component of the date is set.
func (d FuzzyDate) IsZero() bool {
	return d.Year == 0 && d.Month == 0 && d.Day == 0
}

// String formats the date as YYYY-MM-DD with zeros for unknown components.
func (d FuzzyDate) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

// CacheEntry is a local mirror of one remote list row.
//
// At most one entry exists per (UserID, MediaID). UpdatedAt is the remote
// revision timestamp; CachedAt is the local write time and is monotonically
// non-decreasing per row.
type CacheEntry struct {
	UserID      string          `json:"user_id"`
	MediaID     int             `json:"media_id"`
	Status      MediaStatus     `json:"status"`
	Progress    int             `json:"progress"`
	Score       float64         `json:"score"`
	StartedAt   *FuzzyDate      `json:"started_at,omitempty"`
	CompletedAt *FuzzyDate      `json:"completed_at,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Media       json.RawMessage `json:"media,omitempty"`
	CachedAt    time.Time       `json:"cached_at"`
}

// Validate checks if the CacheEntry has valid field values.
func (e *CacheEntry) Validate() error {
	if e.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	if e.MediaID <= 0 {
		return fmt.Errorf("media_id must be positive (got %d)", e.MediaID)
	}
	if e.Status != "" && !e.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", e.Status)
	}
	if e.Progress < 0 {
		return fmt.Errorf("progress must be non-negative (got %d)", e.Progress)
	}
	if e.Score < 0 {
		return fmt.Errorf("score must be non-negative (got %g)", e.Score)
	}
	return nil
}

// EntryPatch is a partial update to a cache entry. Nil fields are left
// untouched.
type EntryPatch struct {
	Status      *MediaStatus `json:"status,omitempty"`
	Progress    *int         `json:"progress,omitempty"`
	Score       *float64     `json:"score,omitempty"`
	StartedAt   *FuzzyDate   `json:"started_at,omitempty"`
	CompletedAt *FuzzyDate   `json:"completed_at,omitempty"`
	UpdatedAt   *time.Time   `json:"updated_at,omitempty"`
}

// IsEmpty reports whether the patch carries no fields.
func (p *EntryPatch) IsEmpty() bool {
	return p == nil || (p.Status == nil && p.Progress == nil && p.Score == nil &&
		p.StartedAt == nil && p.CompletedAt == nil && p.UpdatedAt == nil)
}
