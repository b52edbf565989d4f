// Package api provides the local status HTTP server. It exposes a liveness
// probe and the recent run history over plain JSON so a developer can ask a
// running watchrun what it is doing without interrupting it.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/watchrun/watchrun/internal/journal"
	"github.com/watchrun/watchrun/internal/watcher"
)

// defaultEventLimit and maxEventLimit bound the /api/v1/events page size.
const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

// Server holds the dependencies needed by the status handlers. The journal
// may be nil when run history is disabled; /api/v1/events then returns an
// empty list.
type Server struct {
	jrnl    *journal.Journal
	logger  *slog.Logger
	started time.Time

	mu         sync.Mutex
	watchCount int
	lastEvent  *watcher.FileChangeEvent
}

// NewServer creates a status Server. jrnl may be nil.
func NewServer(jrnl *journal.Journal, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		jrnl:    jrnl,
		logger:  logger,
		started: time.Now(),
	}
}

// ObserveEvent records the most recent dispatched event for /healthz.
// It is safe to call from the dispatch goroutine.
func (s *Server) ObserveEvent(ev watcher.FileChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastEvent = &ev
}

// SetWatchCount records the current number of registered watches.
func (s *Server) SetWatchCount(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchCount = n
}

// Router returns the configured chi router.
//
// Route layout:
//
//	GET /healthz          – liveness, uptime, watch count, last event
//	GET /api/v1/events    – recent run-history entries (limit query param)
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/events", s.handleGetEvents)
	})

	return r
}

// ListenAndServe serves the router on addr until ctx is cancelled, then shuts
// down gracefully. It blocks; run it on its own goroutine.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// healthzResponse is the /healthz body.
type healthzResponse struct {
	Status        string     `json:"status"`
	UptimeSeconds float64    `json:"uptimeSeconds"`
	WatchCount    int        `json:"watchCount"`
	EventCount    int        `json:"eventCount"`
	LastEventAt   *time.Time `json:"lastEventAt,omitempty"`
	LastEventPath string     `json:"lastEventPath,omitempty"`
}

// handleHealthz responds to GET /healthz with HTTP 200 and a small status
// document; orchestration is not the audience here, the developer is.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	resp := healthzResponse{
		Status:        "ok",
		UptimeSeconds: time.Since(s.started).Seconds(),
		WatchCount:    s.watchCount,
	}
	if s.lastEvent != nil {
		t := s.lastEvent.Timestamp
		resp.LastEventAt = &t
		resp.LastEventPath = s.lastEvent.FilePath
	}
	s.mu.Unlock()

	if s.jrnl != nil {
		resp.EventCount = s.jrnl.Count()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// handleGetEvents responds to GET /api/v1/events.
//
// Supported query parameters:
//
//	limit – maximum number of entries (default 50, max 500)
//
// Returns HTTP 400 for a malformed limit, HTTP 200 with a JSON array of
// journal entries (newest first) on success.
func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "'limit' must be a positive integer")
			return
		}
		if n > maxEventLimit {
			n = maxEventLimit
		}
		limit = n
	}

	var entries []journal.Entry
	if s.jrnl != nil {
		var err error
		entries, err = s.jrnl.Recent(r.Context(), limit)
		if err != nil {
			s.logger.Error("api: query journal", slog.Any("error", err))
			writeError(w, http.StatusInternalServerError, "failed to query run history")
			return
		}
	}

	// Always return a JSON array, not null.
	if entries == nil {
		entries = []journal.Entry{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(entries)
}

// writeError writes an HTTP error response with a JSON body containing an
// "error" field.
func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
