package auth

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// TokenWatcher watches the token file for changes.
// It uses fsnotify for cross-platform file system event monitoring.
//
// The parent directory is watched rather than the file itself, because the
// shell replaces the token file atomically (write temp + rename) and a
// watch on the old inode would go stale.
type TokenWatcher struct {
	watcher *fsnotify.Watcher
	path    string
	changes chan struct{}
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewTokenWatcher creates a new TokenWatcher for the given token file path.
// The watcher must be started with Start() before it will emit events.
func NewTokenWatcher(path string) (*TokenWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &TokenWatcher{
		watcher: watcher,
		path:    path,
		changes: make(chan struct{}, 1),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching the token file's directory for changes.
func (tw *TokenWatcher) Start() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if tw.running {
		return fmt.Errorf("watcher already running")
	}

	dir := filepath.Dir(tw.path)
	if err := tw.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch token directory %s: %w", dir, err)
	}

	tw.running = true
	tw.wg.Add(1)
	go tw.processEvents()

	return nil
}

// Stop stops watching and cleans up resources.
// It blocks until the event processing goroutine has exited.
func (tw *TokenWatcher) Stop() error {
	tw.mu.Lock()
	if !tw.running {
		tw.mu.Unlock()
		return nil
	}
	tw.running = false
	tw.mu.Unlock()

	close(tw.done)

	if err := tw.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	tw.wg.Wait()

	close(tw.changes)
	close(tw.errors)

	return nil
}

// Changes returns the channel that fires when the token file is created
// or rewritten. The channel has capacity one and coalesces bursts; it is
// closed when the watcher is stopped.
func (tw *TokenWatcher) Changes() <-chan struct{} {
	return tw.changes
}

// Errors returns the channel that emits watcher errors.
// This channel is closed when the watcher is stopped.
func (tw *TokenWatcher) Errors() <-chan error {
	return tw.errors
}

// processEvents is the main event loop converting fsnotify events into
// coalesced change notifications.
func (tw *TokenWatcher) processEvents() {
	defer tw.wg.Done()

	for {
		select {
		case <-tw.done:
			return

		case event, ok := <-tw.watcher.Events:
			if !ok {
				return
			}

			if !tw.isTokenEvent(event) {
				continue
			}

			// Coalesce: drop the notification if one is already queued
			select {
			case tw.changes <- struct{}{}:
			default:
			}

		case err, ok := <-tw.watcher.Errors:
			if !ok {
				return
			}

			select {
			case tw.errors <- err:
			case <-tw.done:
				return
			}
		}
	}
}

// isTokenEvent reports whether the event is a create/write/rename of the
// token file itself. Chmod and events for sibling files are ignored.
func (tw *TokenWatcher) isTokenEvent(event fsnotify.Event) bool {
	if filepath.Base(event.Name) != filepath.Base(tw.path) {
		return false
	}
	return event.Has(fsnotify.Create) || event.Has(fsnotify.Write) || event.Has(fsnotify.Rename)
}

// IsRunning returns true if the watcher is currently running.
func (tw *TokenWatcher) IsRunning() bool {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.running
}
