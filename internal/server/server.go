// Package server exposes operational HTTP endpoints for a running
// entrysync service.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cleared-dev/entrysync/internal/buildinfo"
	"github.com/cleared-dev/entrysync/internal/ledger"
	"github.com/cleared-dev/entrysync/internal/lock"
	"github.com/cleared-dev/entrysync/internal/logging"
	"github.com/cleared-dev/entrysync/internal/pipeline"
)

// Runner starts a pipeline pass.
type Runner interface {
	Run(ctx context.Context) (*pipeline.Result, error)
}

// Records reads the sync ledger.
type Records interface {
	ListForEntity(ctx context.Context, entityType string, entityID int64) ([]ledger.SyncRecord, error)
}

// Server is the ops HTTP server.
type Server struct {
	runner  Runner
	records Records
	log     *logging.Logger
	router  *chi.Mux

	mu     sync.Mutex
	server *http.Server

	// runs outlive the request that triggered them
	baseCtx context.Context
	cancel  context.CancelFunc
}

// New creates a Server with its routes registered.
func New(runner Runner, records Records, log *logging.Logger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		runner:  runner,
		records: records,
		log:     log.With("component", "server"),
		router:  chi.NewRouter(),
		baseCtx: ctx,
		cancel:  cancel,
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Post("/runs", s.handleRun)
	s.router.Get("/sync-records/{entityID}", s.handleSyncRecords)
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	s.log.Info("starting server", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and cancels runs started over HTTP.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": buildinfo.Version,
	})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	res, err := s.runner.Run(s.baseCtx)
	switch {
	case errors.Is(err, lock.ErrLocked):
		writeError(w, http.StatusConflict, "a run is already in progress")
	case err != nil:
		s.log.Error("run failed", "request_id", middleware.GetReqID(r.Context()), "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error(), "result": res})
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) handleSyncRecords(w http.ResponseWriter, r *http.Request) {
	entityID, err := strconv.ParseInt(chi.URLParam(r, "entityID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "entity id must be an integer")
		return
	}
	entityType := r.URL.Query().Get("type")
	if entityType == "" {
		entityType = ledger.EntityEntry
	}

	recs, err := s.records.ListForEntity(r.Context(), entityType, entityID)
	if err != nil {
		s.log.Error("listing sync records failed", "entity_id", entityID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not read sync records")
		return
	}
	if recs == nil {
		recs = []ledger.SyncRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
