// Package api exposes the HTTP interface for the ingestion service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"newsriver/internal/dispatch"
	"newsriver/internal/news"
	"newsriver/internal/quota"
)

const dateLayout = "2006-01-02"

// Server wires HTTP handlers to the dispatcher and stores.
type Server struct {
	router     chi.Router
	dispatcher *dispatch.Dispatcher
	store      news.Store
	tracker    news.QuotaTracker
	clock      news.Clock
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes. gatherer backs
// the /metrics endpoint; pass prometheus.DefaultGatherer in production.
func NewServer(
	dispatcher *dispatch.Dispatcher,
	store news.Store,
	tracker news.QuotaTracker,
	clock news.Clock,
	gatherer prometheus.Gatherer,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		dispatcher: dispatcher,
		store:      store,
		tracker:    tracker,
		clock:      clock,
		logger:     logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Route("/ingest/{provider}", func(r chi.Router) {
			r.Post("/bulk", s.submitBulk)
			r.Post("/update", s.submitUpdate)
		})
		r.Get("/runs", s.listRuns)
		r.Get("/quota/{provider}", s.getQuota)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	// The store is the only hard dependency; a cheap read proves it out.
	if _, err := s.store.ListScrapeLogs(r.Context(), 1); err != nil {
		writeError(s.logger, w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ready"})
}

type bulkRequest struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Query    string `json:"query"`
	MaxPages int    `json:"max_pages"`
}

type updateRequest struct {
	Query string `json:"query"`
}

type queuedRun struct {
	RunID string `json:"run_id"`
	Day   string `json:"day,omitempty"`
}

func (s *Server) submitBulk(w http.ResponseWriter, r *http.Request) {
	provider, ok := s.provider(w, r)
	if !ok {
		return
	}

	var req bulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(s.logger, w, http.StatusBadRequest, "invalid JSON")
		return
	}
	from, err := time.Parse(dateLayout, req.From)
	if err != nil {
		writeError(s.logger, w, http.StatusBadRequest, fmt.Sprintf("invalid from date %q", req.From))
		return
	}
	var to time.Time
	if req.To != "" {
		to, err = time.Parse(dateLayout, req.To)
		if err != nil {
			writeError(s.logger, w, http.StatusBadRequest, fmt.Sprintf("invalid to date %q", req.To))
			return
		}
	}

	enqueueCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	reqs, err := s.dispatcher.DispatchBulk(enqueueCtx, provider, from, to, searchQuery(req.Query), req.MaxPages)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusServiceUnavailable
		}
		writeError(s.logger, w, status, err.Error())
		return
	}

	runs := make([]queuedRun, len(reqs))
	for i, qr := range reqs {
		runs[i] = queuedRun{RunID: qr.ID.String(), Day: qr.Day.Format(dateLayout)}
	}
	writeJSON(s.logger, w, http.StatusAccepted, map[string]any{
		"provider": provider,
		"runs":     runs,
	})
}

func (s *Server) submitUpdate(w http.ResponseWriter, r *http.Request) {
	provider, ok := s.provider(w, r)
	if !ok {
		return
	}

	var req updateRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(s.logger, w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}

	enqueueCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	queued, err := s.dispatcher.DispatchIncremental(enqueueCtx, provider, searchQuery(req.Query))
	if err != nil {
		writeError(s.logger, w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(s.logger, w, http.StatusAccepted, map[string]any{
		"provider": provider,
		"run_id":   queued.ID.String(),
	})
}

type runRecord struct {
	ID            int64  `json:"id"`
	SourceID      int64  `json:"source_id"`
	Status        string `json:"status"`
	ArticlesAdded int    `json:"articles_added"`
	ErrorMessage  string `json:"error_message,omitempty"`
	StartedAt     string `json:"started_at"`
	CompletedAt   string `json:"completed_at"`
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if _, err := fmt.Sscanf(raw, "%d", &limit); err != nil || limit <= 0 {
			writeError(s.logger, w, http.StatusBadRequest, "invalid limit")
			return
		}
	}

	logs, err := s.store.ListScrapeLogs(r.Context(), limit)
	if err != nil {
		writeError(s.logger, w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	records := make([]runRecord, len(logs))
	for i, entry := range logs {
		records[i] = runRecord{
			ID:            entry.ID,
			SourceID:      entry.SourceID,
			Status:        string(entry.Status),
			ArticlesAdded: entry.ArticlesAdded,
			ErrorMessage:  entry.ErrorMessage,
			StartedAt:     entry.StartedAt.Format(time.RFC3339),
			CompletedAt:   entry.CompletedAt.Format(time.RFC3339),
		}
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]any{"runs": records})
}

func (s *Server) getQuota(w http.ResponseWriter, r *http.Request) {
	provider, ok := s.provider(w, r)
	if !ok {
		return
	}

	policy := quota.PolicyFor(provider)
	resp := map[string]any{
		"provider":  provider,
		"daily_cap": policy.DailyCap,
	}
	if policy.DailyCap > 0 {
		remaining, err := s.tracker.Remaining(r.Context(), provider, s.clock.Now(), policy.DailyCap)
		if err != nil {
			writeError(s.logger, w, http.StatusInternalServerError, "quota lookup failed")
			return
		}
		resp["remaining"] = remaining
	}
	if policy.MinInterval > 0 {
		resp["min_interval_seconds"] = policy.MinInterval.Seconds()
	}
	writeJSON(s.logger, w, http.StatusOK, resp)
}

func (s *Server) provider(w http.ResponseWriter, r *http.Request) (news.ProviderType, bool) {
	provider := news.ProviderType(chi.URLParam(r, "provider"))
	if !provider.Valid() {
		writeError(s.logger, w, http.StatusNotFound, fmt.Sprintf("unknown provider %q", provider))
		return "", false
	}
	return provider, true
}

// searchQuery maps the free-text query to the shared q parameter all three
// providers accept.
func searchQuery(q string) map[string][]string {
	if q == "" {
		return nil
	}
	return map[string][]string{"q": {q}}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec))
				writeError(s.logger, w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}

func writeError(logger *zap.Logger, w http.ResponseWriter, status int, msg string) {
	writeJSON(logger, w, status, map[string]string{"error": msg})
}
