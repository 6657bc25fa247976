// Package auth supplies AniList credentials to the sync layer.
//
// The OAuth flow itself lives in the desktop shell (an external
// collaborator). The shell writes the access token to a file; this package
// reads it on demand and watches it for changes, so queue items that were
// blocked on a missing credential can be drained as soon as a token shows up.
package auth

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// ErrNoToken indicates the token file is absent or empty.
// Callers treat this as NotAuthenticated, not as a failed attempt.
var ErrNoToken = errors.New("no access token available")

// FileTokenSource reads the bearer token from a file on every call.
//
// Reading per call rather than caching means a token refresh by the shell
// takes effect on the next remote call with no coordination needed.
type FileTokenSource struct {
	path string

	mu   sync.Mutex
	last string
}

// NewFileTokenSource creates a token source reading from path.
func NewFileTokenSource(path string) *FileTokenSource {
	return &FileTokenSource{path: path}
}

// Path returns the token file path.
func (s *FileTokenSource) Path() string {
	return s.path
}

// Token implements anilist.TokenSource.
// Returns ErrNoToken when the file is missing or blank.
func (s *FileTokenSource) Token() (string, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return "", ErrNoToken
	}
	if err != nil {
		return "", fmt.Errorf("failed to read token file: %w", err)
	}

	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", ErrNoToken
	}

	s.mu.Lock()
	s.last = token
	s.mu.Unlock()

	return token, nil
}

// Save writes a token to the file with owner-only permissions.
// Used by the login command; the desktop shell writes the same file.
func (s *FileTokenSource) Save(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("token is empty")
	}

	if err := os.WriteFile(s.path, []byte(token+"\n"), 0600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return nil
}
