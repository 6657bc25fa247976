package schema

import (
	"testing"
	"time"
)

// TestCacheEntry_Validate tests entry validation
func TestCacheEntry_Validate(t *testing.T) {
	valid := CacheEntry{
		UserID:    "alice",
		MediaID:   101,
		Status:    StatusCurrent,
		Progress:  5,
		Score:     8.5,
		UpdatedAt: time.Now(),
	}

	tests := []struct {
		name    string
		mutate  func(e *CacheEntry)
		wantErr bool
	}{
		{"valid", func(e *CacheEntry) {}, false},
		{"empty status allowed", func(e *CacheEntry) { e.Status = "" }, false},
		{"missing user", func(e *CacheEntry) { e.UserID = "" }, true},
		{"zero media id", func(e *CacheEntry) { e.MediaID = 0 }, true},
		{"unknown status", func(e *CacheEntry) { e.Status = "WATCHING" }, true},
		{"negative progress", func(e *CacheEntry) { e.Progress = -1 }, true},
		{"negative score", func(e *CacheEntry) { e.Score = -0.5 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := valid
			tt.mutate(&e)
			err := e.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// TestMediaStatus_IsValid tests the AniList status enum
func TestMediaStatus_IsValid(t *testing.T) {
	for _, s := range []MediaStatus{StatusCurrent, StatusPlanning, StatusCompleted, StatusDropped, StatusPaused, StatusRepeating} {
		if !s.IsValid() {
			t.Errorf("%s reported invalid", s)
		}
	}
	if MediaStatus("WATCHING").IsValid() {
		t.Error("WATCHING reported valid")
	}
	if MediaStatus("").IsValid() {
		t.Error("empty status reported valid")
	}
}

// TestFuzzyDate tests partial date handling
func TestFuzzyDate(t *testing.T) {
	var zero FuzzyDate
	if !zero.IsZero() {
		t.Error("zero date not IsZero")
	}

	d := FuzzyDate{Year: 2026, Month: 1}
	if d.IsZero() {
		t.Error("partial date reported zero")
	}
	if got := d.String(); got != "2026-01-00" {
		t.Errorf("String() = %q, want 2026-01-00", got)
	}
}

// TestEntryPatch_IsEmpty tests empty-patch detection
func TestEntryPatch_IsEmpty(t *testing.T) {
	var nilPatch *EntryPatch
	if !nilPatch.IsEmpty() {
		t.Error("nil patch not empty")
	}
	if !(&EntryPatch{}).IsEmpty() {
		t.Error("zero patch not empty")
	}

	progress := 3
	if (&EntryPatch{Progress: &progress}).IsEmpty() {
		t.Error("patch with field reported empty")
	}
}
