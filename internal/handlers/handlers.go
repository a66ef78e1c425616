package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pulseboard/internal/jobs"
	"pulseboard/internal/kafka"
	"pulseboard/internal/logger"
	"pulseboard/internal/middleware"
)

// Pinger reports whether storage is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// EventPublisher is the optional alert event stream
type EventPublisher interface {
	HealthCheck(ctx context.Context) error
	Stats() kafka.ProducerStats
}

// EvaluationRunner runs and reports evaluation passes
type EvaluationRunner interface {
	Run(ctx context.Context) (jobs.EvaluationResult, error)
	Last() (jobs.EvaluationResult, bool)
	Running() bool
}

// DeliveryRunner runs and reports delivery passes
type DeliveryRunner interface {
	Run(ctx context.Context) (jobs.DeliveryResult, error)
	Last() (jobs.DeliveryResult, bool)
	Running() bool
}

// Config holds the dependencies of the operational HTTP surface
type Config struct {
	Store     Pinger
	Events    EventPublisher // nil when kafka is disabled
	Evaluator EvaluationRunner
	Delivery  DeliveryRunner
	// Bearer token required on /api routes; empty disables the check
	TriggerToken string
	StartedAt    time.Time
}

// Handler serves health, stats, metrics and manual job triggers
type Handler struct {
	cfg Config
}

// NewRouter builds the chi router for the operational surface
func NewRouter(cfg Config) *chi.Mux {
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now()
	}
	h := &Handler{cfg: cfg}

	r := chi.NewRouter()
	r.Use(middleware.Recovery)
	r.Use(middleware.Logging)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/health", h.Health)
	r.Get("/stats", h.Stats)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/jobs", func(r chi.Router) {
		r.Use(middleware.RequireToken(cfg.TriggerToken))
		r.Post("/evaluate", h.TriggerEvaluation)
		r.Post("/deliver", h.TriggerDelivery)
	})
	return r
}

// Health checks storage and, when enabled, the kafka producer
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	if err := h.cfg.Store.Ping(ctx); err != nil {
		checks["storage"] = err.Error()
		healthy = false
	} else {
		checks["storage"] = "ok"
	}

	if h.cfg.Events != nil {
		if err := h.cfg.Events.HealthCheck(ctx); err != nil {
			checks["kafka"] = err.Error()
			healthy = false
		} else {
			checks["kafka"] = "ok"
		}
	}

	status, code := "healthy", http.StatusOK
	if !healthy {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":    status,
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

type jobStats struct {
	Running bool `json:"running"`
	Last    any  `json:"last,omitempty"`
}

// StatsResponse is the body of GET /stats
type StatsResponse struct {
	UptimeSeconds int64                `json:"uptime_seconds"`
	Evaluation    jobStats             `json:"evaluation"`
	Delivery      jobStats             `json:"delivery"`
	Kafka         *kafka.ProducerStats `json:"kafka,omitempty"`
}

// Stats reports the last completed pass of each job
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{
		UptimeSeconds: int64(time.Since(h.cfg.StartedAt).Seconds()),
		Evaluation:    jobStats{Running: h.cfg.Evaluator.Running()},
		Delivery:      jobStats{Running: h.cfg.Delivery.Running()},
	}
	if last, ok := h.cfg.Evaluator.Last(); ok {
		resp.Evaluation.Last = last
	}
	if last, ok := h.cfg.Delivery.Last(); ok {
		resp.Delivery.Last = last
	}
	if h.cfg.Events != nil {
		stats := h.cfg.Events.Stats()
		resp.Kafka = &stats
	}
	writeJSON(w, http.StatusOK, resp)
}

// TriggerEvaluation runs one evaluation pass on demand
func (h *Handler) TriggerEvaluation(w http.ResponseWriter, r *http.Request) {
	res, err := h.cfg.Evaluator.Run(context.WithoutCancel(r.Context()))
	h.writeRunResult(w, r, jobs.EvaluationJob, res, err)
}

// TriggerDelivery runs one delivery pass on demand
func (h *Handler) TriggerDelivery(w http.ResponseWriter, r *http.Request) {
	res, err := h.cfg.Delivery.Run(context.WithoutCancel(r.Context()))
	h.writeRunResult(w, r, jobs.DeliveryJob, res, err)
}

func (h *Handler) writeRunResult(w http.ResponseWriter, r *http.Request, job string, res any, err error) {
	log := logger.WithRequestID(r.Header.Get(middleware.RequestIDHeader))

	switch {
	case errors.Is(err, jobs.ErrPassInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		log.Error().Err(err).Str("job", job).Msg("manual pass failed")
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		log.Info().Str("job", job).Msg("manual pass completed")
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "job": job, "result": res})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
	})
}
