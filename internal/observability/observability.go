// Package observability builds the process-wide logging and metrics
// stack every other package's components thread through by reference
// (spec §9: "a process-wide metrics registry with explicit
// initialization at startup; no mutable global per round"). It never
// exposes a package-level var — NewLogger and NewMetrics are both called
// once, from cmd/coordinator, and their results passed down.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// LogConfig selects the logger's level and output shape, mirroring the
// teacher's cmd/bot/main.go handler-selection exactly.
type LogConfig struct {
	Level  string
	Format string // "json" or "text"
}

// NewLogger builds the process's single *slog.Logger. Grounded on the
// teacher's cmd/bot/main.go: same level strings, same JSON-vs-text
// handler switch, same os.Stdout sink.
func NewLogger(cfg LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Metrics is the process-wide collector set. Every component that
// reports a metric does so against the *Metrics instance it was
// constructed with, never a package-level prometheus default registry.
type Metrics struct {
	Registry *prometheus.Registry

	AuctionRoundsTotal   *prometheus.CounterVec
	AuctionRoundDuration  prometheus.Histogram
	SettlementAttempts    *prometheus.CounterVec
	ValidationRejections  *prometheus.CounterVec
}

// NewMetrics constructs and registers the full collector set against a
// freshly created registry — never prometheus.DefaultRegisterer, so
// tests and repeated process-local construction never collide on a
// package-level global.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		AuctionRoundsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auction",
			Name:      "rounds_total",
			Help:      "Count of completed auction rounds, labelled by outcome.",
		}, []string{"outcome"}),
		AuctionRoundDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "auction",
			Name:      "round_duration_seconds",
			Help:      "Wall-clock duration of one build-compete-score-encode-submit round.",
			Buckets:   prometheus.DefBuckets,
		}),
		SettlementAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auction",
			Subsystem: "settlement",
			Name:      "attempts_total",
			Help:      "Count of settlement submission attempts, labelled by mempool and terminal state.",
		}, []string{"mempool", "state"}),
		ValidationRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "auction",
			Subsystem: "validate",
			Name:      "rejections_total",
			Help:      "Count of order validation rejections, labelled by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(m.AuctionRoundsTotal, m.AuctionRoundDuration, m.SettlementAttempts, m.ValidationRejections)
	return m
}

// Server exposes /metrics on the configured port (spec §6's
// metrics-port), built on net/http exactly as the teacher's dashboard
// server (internal/api/server.go) builds its own http.Server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer wires a Metrics registry into an HTTP handler on addr
// (":<metrics-port>").
func NewServer(addr string, m *Metrics, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger.With("component", "observability_server"),
	}
}

// Start blocks serving /metrics until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("metrics server starting", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("observability: server error: %w", err)
	}
	return nil
}

// Stop gracefully shuts the metrics server down.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
