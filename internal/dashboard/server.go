// Package dashboard implements the read-only operator status surface
// spec §9 calls for: an HTTP snapshot endpoint plus a WebSocket stream of
// auction-round, solver-competition, settlement, and order-book events.
// It is a thin read-model — nothing here mutates coordinator state. The
// shape is adapted from the teacher's internal/api package (Hub/Client
// fan-out, DashboardEvent envelope, snapshot+websocket handlers); the
// payloads are rewritten for this domain's auction/solver/settlement
// events instead of market-maker fills/positions/quotes.
package dashboard

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"auction-coordinator/internal/config"
)

// Server hosts the dashboard's HTTP+WebSocket routes.
type Server struct {
	httpServer *http.Server
	hub        *Hub
	done       chan struct{}
	logger     *slog.Logger
}

// NewServer wires Handlers and Hub into an http.Server listening on addr.
func NewServer(addr string, provider Provider, cfgSumm ConfigSummary, dashCfg config.DashboardConfig, logger *slog.Logger) *Server {
	logger = logger.With("component", "dashboard_server")
	hub := NewHub(logger)
	handlers := NewHandlers(provider, cfgSumm, dashCfg, hub, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handlers.HandleHealth)
	mux.HandleFunc("/api/snapshot", handlers.HandleSnapshot)
	mux.HandleFunc("/ws", handlers.HandleWebSocket)

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		hub:    hub,
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Broadcast pushes evt to every connected operator client.
func (s *Server) Broadcast(evt Event) { s.hub.Broadcast(evt) }

// Start runs the Hub's fan-out loop and blocks serving HTTP until Stop.
func (s *Server) Start() error {
	go s.hub.Run(s.done)
	s.logger.Info("dashboard server starting", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard: server error: %w", err)
	}
	return nil
}

// Stop gracefully shuts the HTTP server down and stops the Hub.
func (s *Server) Stop() error {
	close(s.done)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
