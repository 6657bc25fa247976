// Package anilist provides the remote API client for the AniList GraphQL
// service, plus the error classification the sync layer retries on.
//
// All list mutations exposed here are idempotent from the caller's point
// of view: saving the same entry twice produces the same remote state, and
// deleting an already-deleted entry is not an error. The mutation queue
// depends on this when it replays items after a crash.
package anilist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shokaishelf/core/internal/schema"
)

// DefaultURL is the public AniList GraphQL endpoint.
const DefaultURL = "https://graphql.anilist.co"

const defaultTimeout = 30 * time.Second

// TokenSource supplies the bearer token for authenticated calls.
// Implementations return an error when no credential is available.
type TokenSource interface {
	Token() (string, error)
}

// StaticToken is a TokenSource backed by a fixed string.
// Useful for tests and one-shot CLI invocations.
type StaticToken string

// Token implements TokenSource.
func (t StaticToken) Token() (string, error) {
	if t == "" {
		return "", ErrNotAuthenticated
	}
	return string(t), nil
}

// Client talks to the AniList GraphQL API.
type Client struct {
	url        string
	tokens     TokenSource
	httpClient *http.Client
}

// NewClient creates a new AniList client.
//
// If url is empty, DefaultURL is used. The tokens source is consulted on
// every mutation; queries that do not need auth pass without a token.
func NewClient(url string, tokens TokenSource) *Client {
	if url == "" {
		url = DefaultURL
	}
	return &Client{
		url:    url,
		tokens: tokens,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

// gqlRequest is the JSON body of a GraphQL POST.
type gqlRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

// gqlError is one entry of a GraphQL errors array.
type gqlError struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// gqlResponse is the envelope of a GraphQL reply.
type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []gqlError      `json:"errors"`
}

const saveListEntryMutation = `
mutation ($mediaId: Int, $status: MediaListStatus, $progress: Int, $score: Float, $startedAt: FuzzyDateInput, $completedAt: FuzzyDateInput) {
	SaveMediaListEntry (mediaId: $mediaId, status: $status, progress: $progress, score: $score, startedAt: $startedAt, completedAt: $completedAt) {
		id
		mediaId
		status
		progress
		score
		updatedAt
	}
}`

// SavedEntry is the remote acknowledgement of a SaveListEntry call.
type SavedEntry struct {
	ID        int     `json:"id"`
	MediaID   int     `json:"mediaId"`
	Status    string  `json:"status"`
	Progress  int     `json:"progress"`
	Score     float64 `json:"score"`
	UpdatedAt int64   `json:"updatedAt"`
}

// SaveListEntry applies an upsert-style list mutation remotely.
// AniList creates the entry if absent and updates it otherwise, so
// re-applying the same payload is safe.
func (c *Client) SaveListEntry(ctx context.Context, p *schema.SavePayload) (*SavedEntry, error) {
	if err := p.Validate(); err != nil {
		return nil, &ValidationError{Message: err.Error()}
	}

	vars := map[string]interface{}{
		"mediaId":  p.MediaID,
		"status":   string(p.Status),
		"progress": p.Progress,
		"score":    p.Score,
	}
	if p.StartedAt != nil && !p.StartedAt.IsZero() {
		vars["startedAt"] = fuzzyVars(p.StartedAt)
	}
	if p.CompletedAt != nil && !p.CompletedAt.IsZero() {
		vars["completedAt"] = fuzzyVars(p.CompletedAt)
	}

	data, err := c.do(ctx, saveListEntryMutation, vars, true)
	if err != nil {
		return nil, err
	}

	var out struct {
		SaveMediaListEntry SavedEntry `json:"SaveMediaListEntry"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode save response: %w", err)
	}
	return &out.SaveMediaListEntry, nil
}

const deleteListEntryMutation = `
mutation ($id: Int) {
	DeleteMediaListEntry (id: $id) {
		deleted
	}
}`

// DeleteListEntry removes a list entry remotely by its AniList entry id.
// A not-found reply counts as success: the entry is gone either way.
func (c *Client) DeleteListEntry(ctx context.Context, entryID int) error {
	vars := map[string]interface{}{"id": entryID}

	_, err := c.do(ctx, deleteListEntryMutation, vars, true)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return err
	}
	return nil
}

const listCollectionQuery = `
query ($userName: String) {
	MediaListCollection (userName: $userName, type: ANIME) {
		lists {
			entries {
				id
				mediaId
				status
				progress
				score
				updatedAt
				media {
					id
					title { romaji english native }
					episodes
					coverImage { large }
				}
			}
		}
	}
}`

// listEntry is one raw entry of a MediaListCollection reply.
type listEntry struct {
	ID        int             `json:"id"`
	MediaID   int             `json:"mediaId"`
	Status    string          `json:"status"`
	Progress  int             `json:"progress"`
	Score     float64         `json:"score"`
	UpdatedAt int64           `json:"updatedAt"`
	Media     json.RawMessage `json:"media"`
}

// ListCollection fetches the user's full anime list for a library refresh.
// The media blob is passed through opaquely; the cache store does not
// interpret it.
func (c *Client) ListCollection(ctx context.Context, userName string) ([]*schema.CacheEntry, error) {
	vars := map[string]interface{}{"userName": userName}

	data, err := c.do(ctx, listCollectionQuery, vars, false)
	if err != nil {
		return nil, err
	}

	var out struct {
		MediaListCollection struct {
			Lists []struct {
				Entries []listEntry `json:"entries"`
			} `json:"lists"`
		} `json:"MediaListCollection"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode list collection: %w", err)
	}

	var entries []*schema.CacheEntry
	for _, list := range out.MediaListCollection.Lists {
		for _, e := range list.Entries {
			entries = append(entries, &schema.CacheEntry{
				UserID:    userName,
				MediaID:   e.MediaID,
				Status:    schema.MediaStatus(e.Status),
				Progress:  e.Progress,
				Score:     e.Score,
				UpdatedAt: time.Unix(e.UpdatedAt, 0).UTC(),
				Media:     e.Media,
			})
		}
	}
	return entries, nil
}

const searchQuery = `
query ($search: String) {
	Media (search: $search, type: ANIME) {
		id
		title { romaji english native }
		description
		episodes
		genres
		coverImage { large }
	}
}`

// Media is a search result from the AniList catalog.
type Media struct {
	ID    int `json:"id"`
	Title struct {
		Romaji  string `json:"romaji"`
		English string `json:"english"`
		Native  string `json:"native"`
	} `json:"title"`
	Description string   `json:"description"`
	Episodes    int      `json:"episodes"`
	Genres      []string `json:"genres"`
	CoverImage  struct {
		Large string `json:"large"`
	} `json:"coverImage"`
}

// Search finds one anime by title. No auth required.
func (c *Client) Search(ctx context.Context, title string) (*Media, error) {
	vars := map[string]interface{}{"search": title}

	data, err := c.do(ctx, searchQuery, vars, false)
	if err != nil {
		return nil, err
	}

	var out struct {
		Media *Media `json:"Media"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	return out.Media, nil
}

// do executes one GraphQL request and maps failures onto the error taxonomy.
func (c *Client) do(ctx context.Context, query string, vars map[string]interface{}, needsAuth bool) (json.RawMessage, error) {
	var token string
	if needsAuth {
		if c.tokens == nil {
			return nil, ErrNotAuthenticated
		}
		t, err := c.tokens.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
		}
		token = t
	}

	body, err := json.Marshal(&gqlRequest{Query: query, Variables: vars})
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	var envelope gqlResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		if resp.StatusCode >= 500 {
			return nil, &ServerError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return nil, fmt.Errorf("failed to decode response (status %d): %w", resp.StatusCode, err)
	}

	if len(envelope.Errors) > 0 {
		return nil, classifyGQL(resp.StatusCode, envelope.Errors)
	}
	if resp.StatusCode >= 500 {
		return nil, &ServerError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ServerError{StatusCode: resp.StatusCode, Message: string(raw)}
	}

	return envelope.Data, nil
}

// classifyGQL maps a GraphQL errors array onto the error taxonomy.
// AniList reports the effective status per error entry.
func classifyGQL(httpStatus int, errs []gqlError) error {
	first := errs[0]
	status := first.Status
	if status == 0 {
		status = httpStatus
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrNotAuthenticated, first.Message)
	case status == http.StatusNotFound:
		return &ValidationError{Message: first.Message}
	case status == http.StatusTooManyRequests:
		// Rate limiting clears on its own, so treat it as retryable.
		return &ServerError{StatusCode: status, Message: first.Message}
	case status >= 500:
		return &ServerError{StatusCode: status, Message: first.Message}
	case status >= 400:
		return &ValidationError{Message: first.Message}
	default:
		return &ServerError{StatusCode: status, Message: first.Message}
	}
}

// isNotFound reports whether a classified error is a remote not-found,
// which delete treats as success.
func isNotFound(err error) bool {
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		return false
	}
	return strings.Contains(strings.ToLower(vErr.Message), "not found")
}

// fuzzyVars converts a fuzzy date to AniList's FuzzyDateInput variables.
func fuzzyVars(d *schema.FuzzyDate) map[string]interface{} {
	vars := map[string]interface{}{}
	if d.Year != 0 {
		vars["year"] = d.Year
	}
	if d.Month != 0 {
		vars["month"] = d.Month
	}
	if d.Day != 0 {
		vars["day"] = d.Day
	}
	return vars
}
