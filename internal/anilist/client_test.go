package anilist

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shokaishelf/core/internal/schema"
)

// fakeAPI returns an httptest server that decodes the GraphQL request and
// delegates to reply
func fakeAPI(t *testing.T, reply func(w http.ResponseWriter, req gqlRequest, authz string)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req gqlRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		reply(w, req, r.Header.Get("Authorization"))
	}))
}

// TestSaveListEntry_Success tests a successful upsert mutation
func TestSaveListEntry_Success(t *testing.T) {
	srv := fakeAPI(t, func(w http.ResponseWriter, req gqlRequest, authz string) {
		if authz != "Bearer token-1" {
			t.Errorf("Authorization = %q, want bearer token", authz)
		}
		if req.Variables["mediaId"] != float64(101) {
			t.Errorf("mediaId = %v, want 101", req.Variables["mediaId"])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"SaveMediaListEntry": map[string]any{
					"id": 555, "mediaId": 101, "status": "CURRENT", "progress": 4, "updatedAt": 1760000000,
				},
			},
		})
	})
	defer srv.Close()

	client := NewClient(srv.URL, StaticToken("token-1"))
	saved, err := client.SaveListEntry(context.Background(), &schema.SavePayload{
		MediaID: 101, Status: schema.StatusCurrent, Progress: 4,
	})
	if err != nil {
		t.Fatalf("SaveListEntry() failed: %v", err)
	}
	if saved.ID != 555 || saved.MediaID != 101 {
		t.Errorf("saved = %+v", saved)
	}
}

// TestSaveListEntry_InvalidPayload tests local validation before any request
func TestSaveListEntry_InvalidPayload(t *testing.T) {
	client := NewClient("http://127.0.0.1:0", StaticToken("t"))
	_, err := client.SaveListEntry(context.Background(), &schema.SavePayload{MediaID: 0})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Errorf("error = %v, want ValidationError", err)
	}
}

// TestSaveListEntry_NoToken tests the auth error path
func TestSaveListEntry_NoToken(t *testing.T) {
	client := NewClient("http://127.0.0.1:0", StaticToken(""))
	_, err := client.SaveListEntry(context.Background(), &schema.SavePayload{
		MediaID: 101, Status: schema.StatusCurrent,
	})
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("error = %v, want ErrNotAuthenticated", err)
	}
	if Classify(err) != ClassAuth {
		t.Errorf("Classify() = %v, want ClassAuth", Classify(err))
	}
}

// TestDeleteListEntry_NotFoundIsSuccess tests delete idempotence
func TestDeleteListEntry_NotFoundIsSuccess(t *testing.T) {
	srv := fakeAPI(t, func(w http.ResponseWriter, req gqlRequest, authz string) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data":   nil,
			"errors": []map[string]any{{"message": "Not Found.", "status": 404}},
		})
	})
	defer srv.Close()

	client := NewClient(srv.URL, StaticToken("token-1"))
	if err := client.DeleteListEntry(context.Background(), 555); err != nil {
		t.Errorf("DeleteListEntry() on missing entry = %v, want nil", err)
	}
}

// TestDo_Unauthorized tests that a 401 classifies as an auth failure
func TestDo_Unauthorized(t *testing.T) {
	srv := fakeAPI(t, func(w http.ResponseWriter, req gqlRequest, authz string) {
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data":   nil,
			"errors": []map[string]any{{"message": "Invalid token", "status": 401}},
		})
	})
	defer srv.Close()

	client := NewClient(srv.URL, StaticToken("expired"))
	_, err := client.SaveListEntry(context.Background(), &schema.SavePayload{
		MediaID: 101, Status: schema.StatusCurrent,
	})
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("error = %v, want ErrNotAuthenticated", err)
	}
}

// TestDo_ServerError tests that a 5xx classifies as retryable
func TestDo_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("Bad Gateway"))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, StaticToken("token-1"))
	_, err := client.SaveListEntry(context.Background(), &schema.SavePayload{
		MediaID: 101, Status: schema.StatusCurrent,
	})
	var sErr *ServerError
	if !errors.As(err, &sErr) {
		t.Fatalf("error = %v, want ServerError", err)
	}
	if sErr.StatusCode != http.StatusBadGateway {
		t.Errorf("StatusCode = %d, want 502", sErr.StatusCode)
	}
	if Classify(err) != ClassRetryable {
		t.Errorf("Classify() = %v, want ClassRetryable", Classify(err))
	}
}

// TestDo_RateLimited tests that a 429 classifies as retryable, not terminal
func TestDo_RateLimited(t *testing.T) {
	srv := fakeAPI(t, func(w http.ResponseWriter, req gqlRequest, authz string) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data":   nil,
			"errors": []map[string]any{{"message": "Too Many Requests.", "status": 429}},
		})
	})
	defer srv.Close()

	client := NewClient(srv.URL, StaticToken("token-1"))
	_, err := client.SaveListEntry(context.Background(), &schema.SavePayload{
		MediaID: 101, Status: schema.StatusCurrent,
	})
	var sErr *ServerError
	if !errors.As(err, &sErr) {
		t.Fatalf("error = %v, want ServerError", err)
	}
	if sErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("StatusCode = %d, want 429", sErr.StatusCode)
	}
	if Classify(err) != ClassRetryable {
		t.Errorf("Classify() = %v, want ClassRetryable", Classify(err))
	}
}

// TestDo_TransportError tests connection failures
func TestDo_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	client := NewClient(srv.URL, StaticToken("token-1"))
	_, err := client.SaveListEntry(context.Background(), &schema.SavePayload{
		MediaID: 101, Status: schema.StatusCurrent,
	})
	var tErr *TransportError
	if !errors.As(err, &tErr) {
		t.Fatalf("error = %v, want TransportError", err)
	}
	if Classify(err) != ClassRetryable {
		t.Errorf("Classify() = %v, want ClassRetryable", Classify(err))
	}
}

// TestListCollection tests flattening a MediaListCollection reply
func TestListCollection(t *testing.T) {
	srv := fakeAPI(t, func(w http.ResponseWriter, req gqlRequest, authz string) {
		if authz != "" {
			t.Errorf("list collection sent auth header %q", authz)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"MediaListCollection": map[string]any{
					"lists": []map[string]any{
						{"entries": []map[string]any{
							{"id": 1, "mediaId": 101, "status": "CURRENT", "progress": 4, "updatedAt": 1760000000,
								"media": map[string]any{"id": 101, "episodes": 26}},
						}},
						{"entries": []map[string]any{
							{"id": 2, "mediaId": 202, "status": "COMPLETED", "progress": 12, "updatedAt": 1760000001},
						}},
					},
				},
			},
		})
	})
	defer srv.Close()

	client := NewClient(srv.URL, nil)
	entries, err := client.ListCollection(context.Background(), "alice")
	if err != nil {
		t.Fatalf("ListCollection() failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].MediaID != 101 || entries[0].Status != schema.StatusCurrent {
		t.Errorf("entry 0 = %+v", entries[0])
	}
	if len(entries[0].Media) == 0 {
		t.Error("media blob dropped")
	}
}

// TestClassify tests the error taxonomy mapping
func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"auth sentinel", ErrNotAuthenticated, ClassAuth},
		{"validation", &ValidationError{Message: "bad"}, ClassTerminal},
		{"server", &ServerError{StatusCode: 503}, ClassRetryable},
		{"transport", &TransportError{Err: errors.New("refused")}, ClassRetryable},
		{"unknown", errors.New("mystery"), ClassRetryable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}
