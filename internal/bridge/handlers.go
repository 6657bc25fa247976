package bridge

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/shokaishelf/core/internal/anilist"
	"github.com/shokaishelf/core/internal/schema"
	"github.com/shokaishelf/core/internal/store"
)

// handleCacheLibrary serves the library cache.
//
//	GET  /cache/library?user_id=X        read the cached library
//	POST /cache/library                  replace-refresh the cached library
func (s *Server) handleCacheLibrary(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			writeError(w, http.StatusBadRequest, "user_id is required")
			return
		}
		entries, err := s.store.LibraryContext(r.Context(), userID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"entries": entries})

	case http.MethodPost:
		var req struct {
			UserID  string               `json:"user_id"`
			Entries []*schema.CacheEntry `json:"entries"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.UserID == "" {
			writeError(w, http.StatusBadRequest, "user_id is required")
			return
		}
		if err := s.store.ReplaceLibraryContext(r.Context(), req.UserID, req.Entries); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cached": len(req.Entries)})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleCacheEntry serves single cached entries.
//
//	GET  /cache/entry?user_id=X&media_id=N   read one entry (null when absent)
//	POST /cache/entry                        patch one entry
func (s *Server) handleCacheEntry(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		userID := r.URL.Query().Get("user_id")
		mediaID, err := strconv.Atoi(r.URL.Query().Get("media_id"))
		if userID == "" || err != nil {
			writeError(w, http.StatusBadRequest, "user_id and media_id are required")
			return
		}
		entry, err := s.store.EntryContext(r.Context(), userID, mediaID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		// Absent entries surface as null, not 404, so the shell can
		// distinguish "not cached" from "request failed"
		writeJSON(w, http.StatusOK, map[string]any{"entry": entry})

	case http.MethodPost:
		var req struct {
			UserID  string             `json:"user_id"`
			MediaID int                `json:"media_id"`
			Patch   *schema.EntryPatch `json:"patch"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.UserID == "" || req.MediaID == 0 || req.Patch == nil {
			writeError(w, http.StatusBadRequest, "user_id, media_id, and patch are required")
			return
		}
		err := s.store.PatchEntryContext(r.Context(), req.UserID, req.MediaID, req.Patch)
		if errors.Is(err, store.ErrEntryNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"updated": true})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleCacheValid reports whether the cache is fresh enough to serve.
//
//	GET /cache/valid?user_id=X  ->  {valid, last_cache_time}
func (s *Server) handleCacheValid(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	valid, err := s.store.IsValidContext(r.Context(), userID, s.config.Retention)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	last, err := s.store.LastCachedAtContext(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := map[string]any{"valid": valid}
	if last.IsZero() {
		resp["last_cache_time"] = nil
	} else {
		resp["last_cache_time"] = last.Format(time.RFC3339Nano)
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleQueue serves the mutation queue.
//
//	GET  /queue?user_id=X   list pending items, oldest first
//	POST /queue             enqueue a mutation
func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			writeError(w, http.StatusBadRequest, "user_id is required")
			return
		}
		items, err := s.store.ListPendingContext(r.Context(), userID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})

	case http.MethodPost:
		var req struct {
			UserID  string          `json:"user_id"`
			Action  schema.Action   `json:"action"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.UserID == "" {
			writeError(w, http.StatusBadRequest, "user_id is required")
			return
		}
		id, err := s.store.EnqueueContext(r.Context(), req.UserID, req.Action, req.Payload)
		if errors.Is(err, schema.ErrInvalidPayload) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.manager.Notify(req.UserID)
		writeJSON(w, http.StatusOK, map[string]any{"id": id})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleQueueCount reports the pending count for UI badges.
//
//	GET /queue/count?user_id=X  ->  {count}
func (s *Server) handleQueueCount(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	count := s.store.CountPendingContext(r.Context(), userID)
	writeJSON(w, http.StatusOK, map[string]any{"count": count})
}

// handleMarkSynced marks a queue item as synced.
//
//	POST /queue/synced  {id}
func (s *Server) handleMarkSynced(w http.ResponseWriter, r *http.Request) {
	id, ok := decodeID(w, r)
	if !ok {
		return
	}
	userID, ok := s.itemUser(w, r, id)
	if !ok {
		return
	}
	err := s.store.MarkSyncedContext(r.Context(), id)
	if errors.Is(err, store.ErrItemNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.manager.Notify(userID)
	writeJSON(w, http.StatusOK, map[string]any{"synced": true})
}

// handleMarkFailed records a failed sync attempt; the item stays pending.
//
//	POST /queue/failed  {id, error}
func (s *Server) handleMarkFailed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		ID    int64  `json:"id"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == 0 {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	userID, ok := s.itemUser(w, r, req.ID)
	if !ok {
		return
	}
	err := s.store.MarkFailedContext(r.Context(), req.ID, req.Error)
	if errors.Is(err, store.ErrItemNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.manager.Notify(userID)
	writeJSON(w, http.StatusOK, map[string]any{"failed": true})
}

// handleRemove deletes a queue item regardless of state.
//
//	POST /queue/remove  {id}
func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	id, ok := decodeID(w, r)
	if !ok {
		return
	}
	userID, ok := s.itemUser(w, r, id)
	if !ok {
		return
	}
	err := s.store.RemoveContext(r.Context(), id)
	if errors.Is(err, store.ErrItemNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.manager.Notify(userID)
	writeJSON(w, http.StatusOK, map[string]any{"removed": true})
}

// handleProcess applies a single queue item against the remote API.
//
//	POST /queue/process  {id, action, payload}
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		ID      int64           `json:"id"`
		Action  schema.Action   `json:"action"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == 0 {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	userID, ok := s.itemUser(w, r, req.ID)
	if !ok {
		return
	}
	err := s.applier.ProcessItem(r.Context(), req.ID, req.Action, req.Payload)
	if errors.Is(err, store.ErrItemNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	defer s.manager.Notify(userID)
	if err != nil {
		status := http.StatusBadGateway
		switch anilist.Classify(err) {
		case anilist.ClassAuth:
			status = http.StatusUnauthorized
		case anilist.ClassTerminal:
			status = http.StatusUnprocessableEntity
		}
		writeJSON(w, status, map[string]any{"processed": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"processed": true})
}

// handleForceSync requests an immediate queue drain.
//
//	POST /sync/force  {user_id}  ->  {started}
func (s *Server) handleForceSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	started := s.manager.ForceSync(req.UserID)
	writeJSON(w, http.StatusOK, map[string]any{"started": started})
}

// handleStatus reports the sync manager's view of the world.
//
//	GET /status?user_id=X
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.manager.Status(r.URL.Query().Get("user_id")))
}

// decodeID reads a {id} POST body, writing a 400 on failure.
// itemUser resolves the owning user of a queue item so subscribers can
// be notified after the item changes. Writes a 404 when the item is gone.
func (s *Server) itemUser(w http.ResponseWriter, r *http.Request, id int64) (string, bool) {
	item, err := s.store.ItemContext(r.Context(), id)
	if errors.Is(err, store.ErrItemNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return "", false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return "", false
	}
	return item.UserID, true
}

func decodeID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return 0, false
	}
	var req struct {
		ID int64 `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == 0 {
		writeError(w, http.StatusBadRequest, "id is required")
		return 0, false
	}
	return req.ID, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
