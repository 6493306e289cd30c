// Package server exposes the worker's HTTP surface: the manual sync trigger,
// run-ledger inspection, health, and Prometheus metrics.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/powersportsmart/catalog-worker/internal/models"
	"github.com/powersportsmart/catalog-worker/internal/service"
)

const triggerSecretHeader = "X-Sync-Secret"

// runLedger is the slice of the sync-run ledger the HTTP surface reads.
type runLedger interface {
	GetLatest(ctx context.Context) (*models.SyncRun, error)
}

// syncRunner starts one synchronization run.
type syncRunner interface {
	RunSync(ctx context.Context, opts service.SyncOptions) (*service.SyncSummary, error)
}

type Server struct {
	processor     syncRunner
	runRepo       runLedger
	triggerSecret string
	log           *zap.SugaredLogger
	registry      *prometheus.Registry
}

func New(processor syncRunner, runRepo runLedger, triggerSecret string, log *zap.SugaredLogger, registry *prometheus.Registry) *Server {
	return &Server{
		processor:     processor,
		runRepo:       runRepo,
		triggerSecret: triggerSecret,
		log:           log,
		registry:      registry,
	}
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Minute))

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	r.Route("/api/sync", func(r chi.Router) {
		r.Post("/", s.handleTriggerSync)
		r.Get("/runs/latest", s.handleLatestRun)
	})

	return r
}

type errResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Help    string `json:"help,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message, help string) {
	render.Status(r, status)
	render.JSON(w, r, errResponse{Error: code, Message: message, Help: help})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "ok"})
}

type triggerRequest struct {
	DateFrom *time.Time `json:"date_from,omitempty"`
	DateTo   *time.Time `json:"date_to,omitempty"`
}

func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	if s.triggerSecret == "" {
		writeError(w, r, http.StatusServiceUnavailable, "trigger_disabled",
			"Manual sync trigger is disabled", "Set SYNC_TRIGGER_SECRET to enable it")
		return
	}
	provided := r.Header.Get(triggerSecretHeader)
	if subtle.ConstantTimeCompare([]byte(provided), []byte(s.triggerSecret)) != 1 {
		writeError(w, r, http.StatusUnauthorized, "unauthorized",
			"Invalid or missing sync secret", "Pass the shared secret in the "+triggerSecretHeader+" header")
		return
	}

	var req triggerRequest
	if r.ContentLength > 0 {
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "bad_request", "Malformed request body", "")
			return
		}
	}
	if req.DateFrom == nil && req.DateTo != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request",
			"date_to requires date_from", "")
		return
	}
	if req.DateFrom != nil && req.DateTo != nil && req.DateTo.Before(*req.DateFrom) {
		writeError(w, r, http.StatusBadRequest, "bad_request",
			"date_to must not precede date_from", "")
		return
	}

	s.log.Infof("Manual sync triggered from %s", r.RemoteAddr)

	summary, err := s.processor.RunSync(r.Context(), service.SyncOptions{
		Trigger:  models.TriggerManual,
		DateFrom: req.DateFrom,
		DateTo:   req.DateTo,
	})
	if err != nil {
		s.writeSyncError(w, r, summary, err)
		return
	}

	render.JSON(w, r, summary)
}

func (s *Server) writeSyncError(w http.ResponseWriter, r *http.Request, summary *service.SyncSummary, err error) {
	var rateLimited *service.RateLimitedError
	switch {
	case errors.Is(err, service.ErrSyncInProgress):
		writeError(w, r, http.StatusConflict, "sync_in_progress",
			"A sync run is already in progress", "Retry after the current run finishes")
	case errors.As(err, &rateLimited):
		writeError(w, r, http.StatusServiceUnavailable, "rate_limited",
			err.Error(), "The marketplace is throttling this account; retry later")
	case errors.Is(err, service.ErrNoListings):
		// The run itself completed; surface the empty result as actionable.
		render.Status(r, http.StatusUnprocessableEntity)
		render.JSON(w, r, map[string]interface{}{
			"error":   "no_listings",
			"message": "Full scan returned no listings",
			"help":    "Verify MARKETPLACE_CLIENT_ID/SECRET and that the seller account has active listings",
			"summary": summary,
		})
	default:
		s.log.Errorf("Manual sync failed: %v", err)
		writeError(w, r, http.StatusInternalServerError, "sync_failed", err.Error(), "")
	}
}

func (s *Server) handleLatestRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runRepo.GetLatest(r.Context())
	if err != nil {
		s.log.Errorf("Failed to read sync ledger: %v", err)
		writeError(w, r, http.StatusInternalServerError, "internal", "Failed to read sync ledger", "")
		return
	}
	if run == nil {
		writeError(w, r, http.StatusNotFound, "not_found", "No sync runs recorded yet", "")
		return
	}
	render.JSON(w, r, run)
}
