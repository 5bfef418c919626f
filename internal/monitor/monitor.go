// Package monitor serves live bridge status over HTTP for long runs.
package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
)

// Status is one snapshot of the bridge's counters.
type Status struct {
	SessionID string `json:"session_id"`
	Connected bool   `json:"connected"`
	Steps     int64  `json:"steps"`
	Commands  int64  `json:"commands"`
	Vehicles  int    `json:"vehicles"`
}

// StatusFunc produces the current snapshot when the endpoint is hit.
type StatusFunc func() Status

// Monitor exposes bridge status on a local HTTP listener.
type Monitor struct {
	log    *slog.Logger
	status StatusFunc

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// New creates a monitor around a status source.
func New(log *slog.Logger, status StatusFunc) *Monitor {
	return &Monitor{
		log:    log.With("component", "monitor"),
		status: status,
	}
}

// Start binds the listener and serves in the background.
func (m *Monitor) Start(addr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/status", m.serveStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/health", m.serveHealth).Methods(http.MethodGet)

	m.listener = listener
	m.server = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := m.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			m.log.Error("Monitor server stopped", "error", err)
		}
	}()

	m.log.Info("Monitor listening", "addr", listener.Addr().String())

	return nil
}

// Addr returns the bound address, "" before Start.
func (m *Monitor) Addr() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.listener == nil {
		return ""
	}

	return m.listener.Addr().String()
}

func (m *Monitor) serveStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(m.status()); err != nil {
		m.log.Error("Failed to encode status", "error", err)
	}
}

func (m *Monitor) serveHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Stop shuts the server down.
func (m *Monitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.server == nil {
		return nil
	}

	err := m.server.Shutdown(ctx)
	m.server = nil
	m.listener = nil

	return err
}
