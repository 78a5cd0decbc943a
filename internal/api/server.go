// Package api serves the read-mostly operator status surface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/rewired-gh/courtedge/internal/logger"
	"github.com/rewired-gh/courtedge/internal/models"
	"github.com/rewired-gh/courtedge/internal/monitor"
)

// Service is the running monitor as seen by the status surface.
type Service interface {
	Running() bool
	LastSummary() *models.ScanSummary
	StartScan(ctx context.Context, timeout time.Duration) (string, error)
}

// Store is the read side of the opportunity store.
type Store interface {
	Statistics(ctx context.Context) (*models.Statistics, error)
	Active(ctx context.Context, minHoursAhead float64) ([]models.Opportunity, error)
}

// Options configures the router.
type Options struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
	ScanTimeout    time.Duration
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// ScanAccepted is returned by POST /api/v1/scan. The outcome is reported by
// /api/v1/status once the scan with this id finishes.
type ScanAccepted struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Running bool   `json:"running"`
	Uptime  string `json:"uptime"`
}

type handler struct {
	svc         Service
	store       Store
	scanTimeout time.Duration
	started     time.Time
}

// NewRouter creates the chi router with middleware and routes.
func NewRouter(svc Service, store Store, opts Options) *chi.Mux {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = 20 * time.Minute
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}

	h := &handler{svc: svc, store: store, scanTimeout: opts.ScanTimeout, started: time.Now()}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(opts.RequestTimeout))

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	// Routes
	r.Get("/health", h.health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", h.status)
		r.Get("/stats", h.stats)
		r.Get("/opportunities", h.opportunities)
		r.Post("/scan", h.scan)
	})

	return r
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Running: h.svc.Running(),
		Uptime:  time.Since(h.started).Round(time.Second).String(),
	})
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	summary := h.svc.LastSummary()
	if summary == nil {
		respondError(w, http.StatusNotFound, "no scan has completed yet")
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

func (h *handler) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Statistics(r.Context())
	if err != nil {
		logger.Error("Failed to compute statistics: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to compute statistics")
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (h *handler) opportunities(w http.ResponseWriter, r *http.Request) {
	minHours := 0.0
	if raw := r.URL.Query().Get("min_hours"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 {
			respondError(w, http.StatusBadRequest, "min_hours must be a non-negative number")
			return
		}
		minHours = v
	}

	opps, err := h.store.Active(r.Context(), minHours)
	if err != nil {
		logger.Error("Failed to list opportunities: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to list opportunities")
		return
	}
	if opps == nil {
		opps = []models.Opportunity{}
	}
	respondJSON(w, http.StatusOK, opps)
}

// scan starts a cycle in the background; its result appears on /api/v1/status.
func (h *handler) scan(w http.ResponseWriter, r *http.Request) {
	id, err := h.svc.StartScan(r.Context(), h.scanTimeout)
	if errors.Is(err, monitor.ErrScanInProgress) {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		logger.Error("Failed to start scan: %v", err)
		respondError(w, http.StatusInternalServerError, "failed to start scan")
		return
	}
	respondJSON(w, http.StatusAccepted, ScanAccepted{ID: id, Status: "accepted"})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warn("Failed to encode response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    status,
	})
}
