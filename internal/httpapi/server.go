// Package httpapi exposes the webhook intake and the operational endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/txclassifier/internal/core/domain"
	"github.com/vietddude/txclassifier/internal/processing/metrics"
	"github.com/vietddude/txclassifier/internal/processing/retry"
)

// Submitter queues work for classification.
type Submitter interface {
	Submit(item domain.WorkItem) domain.Job
}

// JobLister lists active jobs.
type JobLister interface {
	Active() []domain.Job
}

// RetryStats exposes the retry ledger's state.
type RetryStats interface {
	Stats(ctx context.Context) (*retry.Stats, error)
	DeadLetters() []retry.DeadLetter
}

// HistoryStats exposes classification history totals.
type HistoryStats interface {
	Stats(ctx context.Context) (*domain.HistoryStats, error)
}

// Config holds HTTP settings.
type Config struct {
	Port       int
	RateLimit  int
	RateWindow time.Duration
	MaxBody    int64
}

// Deps are the components the API reads from and writes to.
type Deps struct {
	Submitter Submitter
	Jobs      JobLister
	Retries   RetryStats
	History   HistoryStats
	// Health checks backing stores; nil means always healthy.
	Health func(ctx context.Context) error
}

// Server serves the HTTP API.
type Server struct {
	deps    Deps
	cfg     Config
	started time.Time
	server  *http.Server
	log     *slog.Logger
}

// NewServer creates a new API server.
func NewServer(cfg Config, deps Deps) *Server {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 100
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = 15 * time.Minute
	}
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = 5 << 20
	}
	s := &Server{
		deps:    deps,
		cfg:     cfg,
		started: time.Now(),
		log:     slog.Default().With("component", "http"),
	}
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	limiter := newIPLimiter(s.cfg.RateLimit, s.cfg.RateWindow)
	r.With(limiter.middleware).Post("/webhook", s.handleWebhook)

	r.Get("/health", s.handleHealth)
	r.Get("/jobs", s.handleJobs)
	r.Get("/stats", s.handleStats)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// Handler returns the handler the server listens with.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server. It returns nil after Stop.
func (s *Server) Start() error {
	s.log.Info("HTTP server listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var payload webhookPayload
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxBody)
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		metrics.WebhookRequests.WithLabelValues("invalid").Inc()
		http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}

	item, err := payload.workItem()
	if err != nil {
		metrics.WebhookRequests.WithLabelValues("rejected").Inc()
		s.log.Info("Webhook rejected", "reason", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	job := s.deps.Submitter.Submit(item)
	metrics.WebhookRequests.WithLabelValues("queued").Inc()
	s.log.Info("Webhook queued", "job_id", job.ID, "group_id", item.GroupID, "merchant", item.Merchant)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Webhook queued successfully"))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "healthy", http.StatusOK
	response := map[string]any{}
	if s.deps.Health != nil {
		if err := s.deps.Health(r.Context()); err != nil {
			status, code = "unhealthy", http.StatusServiceUnavailable
			response["error"] = err.Error()
		}
	}
	response["status"] = status
	response["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	response["uptime"] = time.Since(s.started).Seconds()
	writeJSON(w, code, response)
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.deps.Jobs.Active()
	if jobs == nil {
		jobs = []domain.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	retries, err := s.deps.Retries.Stats(ctx)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	history, err := s.deps.History.Stats(ctx)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"active_jobs":  len(s.deps.Jobs.Active()),
		"retries":      retries,
		"history":      history,
		"dead_letters": s.deps.Retries.DeadLetters(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
