// Package bridge exposes the offline core to the desktop shell.
//
// The shell (an Electron renderer, out of scope here) talks to the core
// over a localhost HTTP API that mirrors the cache store, mutation queue,
// and sync manager operations one to one, plus a WebSocket endpoint that
// pushes {online, pending} status updates so UI badges stay current
// without polling.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/shokaishelf/core/internal/daemon"
	"github.com/shokaishelf/core/internal/store"
	"github.com/shokaishelf/core/internal/syncer"
)

// Config holds server configuration.
type Config struct {
	// Port to listen on, bound to localhost only (default: 8790)
	Port int

	// Retention is the cache validity window (default: 7 days)
	Retention time.Duration

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:      8790,
		Retention: 7 * 24 * time.Hour,
		Logger:    log.Default(),
	}
}

// Server is the host bridge: HTTP handlers over the core's operations and
// a WebSocket broadcast of sync status.
type Server struct {
	store   *store.Store
	applier syncer.Applier
	manager *daemon.Manager
	config  *Config

	addr     string
	listener net.Listener
	server   *http.Server

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// NewServer creates a new host bridge server.
func NewServer(st *store.Store, applier syncer.Applier, manager *daemon.Manager, config *Config) (*Server, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if applier == nil {
		return nil, fmt.Errorf("applier cannot be nil")
	}
	if manager == nil {
		return nil, fmt.Errorf("manager cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}
	if config.Retention <= 0 {
		config.Retention = 7 * 24 * time.Hour
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		store:   st,
		applier: applier,
		manager: manager,
		config:  config,
		addr:    fmt.Sprintf("127.0.0.1:%d", config.Port),
		clients: make(map[*websocket.Conn]bool),
		ctx:     ctx,
		cancel:  cancel,
		logger:  config.Logger,
	}, nil
}

// Addr returns the address the server is listening on.
// Only valid after Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Start begins serving. Non-blocking; use Stop to shut down.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/cache/library", s.handleCacheLibrary)
	mux.HandleFunc("/cache/entry", s.handleCacheEntry)
	mux.HandleFunc("/cache/valid", s.handleCacheValid)
	mux.HandleFunc("/queue", s.handleQueue)
	mux.HandleFunc("/queue/count", s.handleQueueCount)
	mux.HandleFunc("/queue/synced", s.handleMarkSynced)
	mux.HandleFunc("/queue/failed", s.handleMarkFailed)
	mux.HandleFunc("/queue/remove", s.handleRemove)
	mux.HandleFunc("/queue/process", s.handleProcess)
	mux.HandleFunc("/sync/force", s.handleForceSync)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	// Forward sync manager status updates to WebSocket clients
	s.wg.Add(1)
	go s.statusLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Host bridge listening on %s", s.addr)
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	s.logger.Println("Stopping host bridge")

	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.wg.Wait()

	s.logger.Println("Host bridge stopped")
	return nil
}

// statusLoop forwards sync manager status updates to connected clients.
func (s *Server) statusLoop() {
	defer s.wg.Done()

	updates := s.manager.Subscribe()
	defer s.manager.Unsubscribe(updates)

	for {
		select {
		case <-s.ctx.Done():
			return

		case status, ok := <-updates:
			if !ok {
				return
			}
			s.broadcast(status)
		}
	}
}

// broadcast sends a status update to all connected WebSocket clients.
func (s *Server) broadcast(status daemon.Status) {
	data, err := json.Marshal(status)
	if err != nil {
		s.logger.Printf("Failed to marshal status: %v", err)
		return
	}

	s.clientsMu.RLock()
	clients := make([]*websocket.Conn, 0, len(s.clients))
	for conn := range s.clients {
		clients = append(clients, conn)
	}
	s.clientsMu.RUnlock()

	// Write outside the read lock to avoid blocking broadcasts
	for _, conn := range clients {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := conn.Write(ctx, websocket.MessageText, data)
		cancel()

		if err != nil {
			s.logger.Printf("Failed to send to client: %v", err)
			s.removeClient(conn)
		}
	}
}

// handleWebSocket upgrades HTTP connections to WebSocket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"}, // localhost only; the listener is not exposed
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("Client connected (total: %d)", clientCount)

	// Send the current status immediately so new clients don't wait for
	// the next transition
	userID := r.URL.Query().Get("user_id")
	initial := s.manager.Status(userID)
	data, _ := json.Marshal(initial)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = conn.Write(ctx, websocket.MessageText, data)
	cancel()

	go s.readLoop(conn)
}

// readLoop keeps the connection alive and handles client disconnects.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		_, _, err := conn.Read(s.ctx)
		if err != nil {
			return
		}
		// Client messages are not processed; the socket is push-only
	}
}

// removeClient safely removes a client connection.
func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("Client disconnected (total: %d)", clientCount)
}

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
