// Package status serves a read-only websocket feed of replica state
// (C11): every connected client receives a snapshot whenever the
// observed view, last-executed sequence number, or store size
// changes. It has no write path into the replica — unlike the
// protocol's own TCP sessions, nothing received over this socket is
// ever admitted into the core.
package status

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"pbftkv/kvstore"
	"pbftkv/replica"
)

// Snapshot is one point-in-time view of replica progress.
type Snapshot struct {
	View         uint64 `json:"view"`
	LastExecuted uint64 `json:"last_executed"`
	StoreSize    int    `json:"store_size"`
}

// Server polls a Replica and kvstore.Store on an interval and fans
// the resulting Snapshot out to every connected websocket client.
type Server struct {
	r        *replica.Replica
	store    *kvstore.Store
	interval time.Duration
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]bool

	quit chan struct{}
}

// NewServer builds a status feed server. It does not start listening
// until ListenAndServe is called.
func NewServer(r *replica.Replica, store *kvstore.Store) *Server {
	return &Server{
		r:        r,
		store:    store,
		interval: time.Second,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]bool),
		quit:    make(chan struct{}),
	}
}

// ListenAndServe blocks serving the /status websocket endpoint on
// addr until the process exits or the listener errors.
func (s *Server) ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)

	go s.pushLoop()

	log.Printf("status feed listening on ws://%s/status", addr)
	return http.ListenAndServe(addr, mux)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("status: upgrade failed: %v", err)
		return
	}

	s.mu.Lock()
	s.clients[conn] = true
	s.mu.Unlock()

	if err := conn.WriteJSON(s.snapshot()); err != nil {
		s.drop(conn)
		return
	}

	// The feed is read-only: drain and discard anything the client
	// sends, purely to detect disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.drop(conn)
			return
		}
	}
}

func (s *Server) drop(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.clients, conn)
	s.mu.Unlock()
	conn.Close()
}

func (s *Server) snapshot() Snapshot {
	return Snapshot{
		View:         s.r.View(),
		LastExecuted: s.r.LastExecuted(),
		StoreSize:    s.store.Size(),
	}
}

func (s *Server) pushLoop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var last Snapshot
	for {
		select {
		case <-ticker.C:
			cur := s.snapshot()
			if cur == last {
				continue
			}
			last = cur
			s.broadcast(cur)
		case <-s.quit:
			return
		}
	}
}

func (s *Server) broadcast(snap Snapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		log.Printf("status: marshal snapshot: %v", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.clients {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			conn.Close()
			delete(s.clients, conn)
		}
	}
}

// Close stops the push loop.
func (s *Server) Close() {
	close(s.quit)
}
