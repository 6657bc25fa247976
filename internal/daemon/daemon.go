// Package daemon provides the sync manager that owns online/offline state
// and drains the mutation queue against the remote service.
//
// The manager:
//  1. Polls a network probe to track connectivity
//  2. Triggers a debounced drain when connectivity returns
//  3. Periodically drains the queue while online
//  4. Re-triggers drains when the auth token file changes
//  5. Pushes status updates to subscribers
//  6. Handles graceful shutdown
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/shokaishelf/core/internal/anilist"
	"github.com/shokaishelf/core/internal/auth"
	"github.com/shokaishelf/core/internal/store"
	"github.com/shokaishelf/core/internal/syncer"
)

// State is the sync manager's position in the
// Offline -> OnlineIdle -> OnlineSyncing cycle.
type State int

const (
	// StateOffline means the remote service is unreachable; drains are
	// suspended.
	StateOffline State = iota
	// StateOnlineIdle means the service is reachable and no drain is in
	// flight for the user.
	StateOnlineIdle
	// StateOnlineSyncing means a drain is currently applying the user's
	// pending items.
	StateOnlineSyncing
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateOffline:
		return "offline"
	case StateOnlineIdle:
		return "online-idle"
	case StateOnlineSyncing:
		return "online-syncing"
	default:
		return "unknown"
	}
}

// Config holds configuration for the sync manager.
type Config struct {
	// AutoSyncInterval is how often to drain the queue while online.
	AutoSyncInterval time.Duration

	// ProbeInterval is how often to check remote reachability.
	ProbeInterval time.Duration

	// DebounceInterval is how long to wait after connectivity returns
	// before draining. This absorbs flapping links.
	DebounceInterval time.Duration

	// MaxAttempts is the poison threshold: pending items with this many
	// attempts are skipped by drains and surfaced for manual resolution.
	// Zero disables the threshold.
	MaxAttempts int

	// Logger for manager activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		AutoSyncInterval: 5 * time.Minute,
		ProbeInterval:    15 * time.Second,
		DebounceInterval: 2 * time.Second,
		MaxAttempts:      10,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Status is a point-in-time snapshot of sync state for one user.
type Status struct {
	UserID  string `json:"user_id,omitempty"`
	Online  bool   `json:"online"`
	State   string `json:"state"`
	Pending int    `json:"pending"`
	Stalled int    `json:"stalled"`
}

// Manager owns online/offline state and schedules queue drains.
type Manager struct {
	store   *store.Store
	applier syncer.Applier
	probe   NetworkProbe
	tokens  *auth.TokenWatcher
	config  *Config

	stateMu  sync.Mutex
	online   bool
	stopping bool
	draining map[string]bool

	subsMu sync.RWMutex
	subs   map[chan Status]struct{}

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	drainWG sync.WaitGroup
}

// New creates a new sync manager.
//
// The token watcher may be nil, in which case credential changes are only
// picked up on the next scheduled drain.
func New(st *store.Store, applier syncer.Applier, probe NetworkProbe, tokens *auth.TokenWatcher, config *Config) (*Manager, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if applier == nil {
		return nil, fmt.Errorf("applier cannot be nil")
	}
	if probe == nil {
		return nil, fmt.Errorf("probe cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		store:    st,
		applier:  applier,
		probe:    probe,
		tokens:   tokens,
		config:   config,
		draining: make(map[string]bool),
		subs:     make(map[chan Status]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start begins the manager's operation.
//
// This blocks until ctx is cancelled. On entry the probe runs once so the
// first status subscribers see reflects reality rather than a default.
func (m *Manager) Start(ctx context.Context) error {
	m.config.Logger.Println("Starting sync manager")

	// Establish initial connectivity state
	m.setOnline(m.probe.Online(ctx))

	goroutines := 2
	if m.tokens != nil {
		goroutines++
	}
	m.wg.Add(goroutines)
	go m.probeLoop()
	go m.autoSyncLoop()
	if m.tokens != nil {
		go m.tokenLoop()
	}

	select {
	case <-ctx.Done():
		m.config.Logger.Println("Shutdown signal received")
		return m.Stop()
	case <-m.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the manager.
func (m *Manager) Stop() error {
	m.config.Logger.Println("Stopping sync manager")

	m.stateMu.Lock()
	m.stopping = true
	m.stateMu.Unlock()

	m.cancel()
	m.wg.Wait()
	m.drainWG.Wait()

	m.subsMu.Lock()
	for ch := range m.subs {
		close(ch)
	}
	m.subs = make(map[chan Status]struct{})
	m.subsMu.Unlock()

	m.config.Logger.Println("Sync manager stopped")
	return nil
}

// Online reports the last observed connectivity state.
func (m *Manager) Online() bool {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.online
}

// Status returns a snapshot for the given user.
func (m *Manager) Status(userID string) Status {
	m.stateMu.Lock()
	online := m.online
	syncing := m.draining[userID]
	m.stateMu.Unlock()

	state := StateOffline
	if online {
		if syncing {
			state = StateOnlineSyncing
		} else {
			state = StateOnlineIdle
		}
	}

	return Status{
		UserID:  userID,
		Online:  online,
		State:   state.String(),
		Pending: m.store.CountPending(userID),
		Stalled: m.store.CountStalled(userID, m.config.MaxAttempts),
	}
}

// Subscribe registers a status listener. The returned channel receives a
// snapshot after every state transition and drain; it is closed on Stop.
// Slow subscribers miss intermediate updates rather than blocking the
// manager.
func (m *Manager) Subscribe() <-chan Status {
	ch := make(chan Status, 8)
	m.subsMu.Lock()
	m.subs[ch] = struct{}{}
	m.subsMu.Unlock()
	return ch
}

// Unsubscribe removes a previously subscribed listener.
func (m *Manager) Unsubscribe(ch <-chan Status) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for sub := range m.subs {
		if sub == ch {
			delete(m.subs, sub)
			close(sub)
			return
		}
	}
}

// Notify pushes a fresh status snapshot for the user to all subscribers.
// The host bridge calls this after queue-changing operations so UI badges
// stay current without polling.
func (m *Manager) Notify(userID string) {
	status := m.Status(userID)

	m.subsMu.RLock()
	defer m.subsMu.RUnlock()
	for ch := range m.subs {
		select {
		case ch <- status:
		default:
		}
	}
}

// ForceSync triggers an immediate drain for the user.
//
// If a drain is already in flight for the user the call is dropped, not
// queued: the caller re-invokes later if it still needs the effect.
// Returns true if a drain was started.
func (m *Manager) ForceSync(userID string) bool {
	if !m.Online() {
		m.config.Logger.Printf("Force sync for user %s dropped: offline", userID)
		return false
	}

	if !m.tryAcquireDrain(userID) {
		m.config.Logger.Printf("Force sync for user %s dropped: drain already in flight", userID)
		return false
	}

	// The Add must not race Stop's Wait, so stopping is checked under the
	// same lock Stop sets it under.
	m.stateMu.Lock()
	if m.stopping {
		m.stateMu.Unlock()
		m.releaseDrain(userID)
		m.config.Logger.Printf("Force sync for user %s dropped: shutting down", userID)
		return false
	}
	m.drainWG.Add(1)
	m.stateMu.Unlock()

	go func() {
		defer m.drainWG.Done()
		defer m.releaseDrain(userID)
		m.drainLocked(m.ctx, userID)
	}()

	return true
}

// DrainQueue drains the user's pending items synchronously.
// Returns the number of items applied. If a drain is already in flight for
// the user, returns immediately without error.
func (m *Manager) DrainQueue(ctx context.Context, userID string) (int, error) {
	if !m.tryAcquireDrain(userID) {
		return 0, nil
	}
	defer m.releaseDrain(userID)

	return m.drainLocked(ctx, userID)
}

// drainLocked applies the user's pending items strictly in creation order,
// one at a time. The caller must hold the user's drain guard.
//
// A failed item does not halt the pass; it is skipped and retried on the
// next pass. A missing credential halts the pass: no later item can
// succeed without one either, and attempts must stay untouched.
func (m *Manager) drainLocked(ctx context.Context, userID string) (int, error) {
	m.Notify(userID)
	defer m.Notify(userID)

	items, err := m.store.ListPendingContext(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending items: %w", err)
	}
	if len(items) == 0 {
		return 0, nil
	}

	m.config.Logger.Printf("Draining %d pending items for user %s", len(items), userID)

	applied := 0
	skipped := 0
	for _, item := range items {
		select {
		case <-ctx.Done():
			return applied, ctx.Err()
		case <-m.ctx.Done():
			return applied, m.ctx.Err()
		default:
		}

		if item.Stalled(m.config.MaxAttempts) {
			skipped++
			continue
		}

		if err := m.applier.Apply(ctx, item); err != nil {
			if errors.Is(err, auth.ErrNoToken) || isAuthError(err) {
				m.config.Logger.Printf("Drain for user %s paused: not authenticated", userID)
				return applied, err
			}
			// Recorded via MarkFailed by the applier; continue with the
			// next item
			continue
		}
		applied++
	}

	m.config.Logger.Printf("Drain complete for user %s: applied=%d skipped=%d remaining=%d",
		userID, applied, skipped, m.store.CountPending(userID))

	return applied, nil
}

// drainAll drains every user that has pending items.
func (m *Manager) drainAll(ctx context.Context) {
	users, err := m.store.UsersWithPendingContext(ctx)
	if err != nil {
		m.config.Logger.Printf("Failed to list users with pending items: %v", err)
		return
	}

	for _, user := range users {
		if _, err := m.DrainQueue(ctx, user); err != nil {
			m.config.Logger.Printf("Drain for user %s ended early: %v", user, err)
		}
	}
}

// probeLoop polls connectivity and triggers a debounced drain when the
// Offline -> Online transition is observed.
func (m *Manager) probeLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return

		case <-ticker.C:
			online := m.probe.Online(m.ctx)
			if m.setOnline(online) && online {
				m.config.Logger.Println("Connectivity restored, scheduling drain")
				m.wg.Add(1)
				go func() {
					defer m.wg.Done()
					select {
					case <-time.After(m.config.DebounceInterval):
					case <-m.ctx.Done():
						return
					}
					m.drainAll(m.ctx)
				}()
			}
		}
	}
}

// autoSyncLoop periodically drains the queue while online.
func (m *Manager) autoSyncLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.AutoSyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return

		case <-ticker.C:
			if !m.Online() {
				continue
			}
			m.drainAll(m.ctx)
		}
	}
}

// tokenLoop re-triggers drains when the auth token file changes, so items
// that were blocked on NotAuthenticated apply without waiting for the next
// scheduled pass.
func (m *Manager) tokenLoop() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return

		case _, ok := <-m.tokens.Changes():
			if !ok {
				return
			}
			m.config.Logger.Println("Token file changed, scheduling drain")
			if m.Online() {
				m.drainAll(m.ctx)
			}

		case err, ok := <-m.tokens.Errors():
			if !ok {
				return
			}
			m.config.Logger.Printf("Token watcher error: %v", err)
		}
	}
}

// setOnline records a connectivity observation. Returns true if the state
// changed; a change is broadcast to subscribers.
func (m *Manager) setOnline(online bool) bool {
	m.stateMu.Lock()
	changed := m.online != online
	m.online = online
	m.stateMu.Unlock()

	if changed {
		if online {
			m.config.Logger.Println("State: offline -> online")
		} else {
			m.config.Logger.Println("State: online -> offline")
		}
		m.Notify("")
	}
	return changed
}

// tryAcquireDrain takes the per-user drain guard.
// The storage layer alone does not prevent double-application of a queued
// item, so at most one drain may be in flight per user.
func (m *Manager) tryAcquireDrain(userID string) bool {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	if m.draining[userID] {
		return false
	}
	m.draining[userID] = true
	return true
}

// releaseDrain releases the per-user drain guard.
func (m *Manager) releaseDrain(userID string) {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	delete(m.draining, userID)
}

// isAuthError reports whether the applier outcome was an auth failure.
func isAuthError(err error) bool {
	return anilist.Classify(err) == anilist.ClassAuth
}
