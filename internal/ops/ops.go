// Package ops serves the internal operations surface: liveness, aggregate
// processing stats, and Prometheus metrics.
package ops

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"photomotion/internal/ledger"
	"photomotion/internal/middleware"
	"photomotion/internal/phase"
	"photomotion/internal/stats"
)

// Options carries the read-only views the ops surface exposes.
type Options struct {
	Stats    *stats.Store
	Registry *phase.Registry
	Ledger   ledger.Store
	// Gatherer feeds /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
	Logger   zerolog.Logger
}

type handlers struct {
	stats    *stats.Store
	registry *phase.Registry
	ledger   ledger.Store
	logger   zerolog.Logger
}

// NewRouter builds the ops router.
func NewRouter(opts Options) http.Handler {
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	h := &handlers{
		stats:    opts.Stats,
		registry: opts.Registry,
		ledger:   opts.Ledger,
		logger:   opts.Logger,
	}

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.AccessLog(opts.Logger),
		chimw.Recoverer,
	)

	r.Get("/healthz", h.health)
	r.Get("/v1/stats", h.statsSummary)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return r
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	h.json(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) statsSummary(w http.ResponseWriter, r *http.Request) {
	summary := h.stats.Summary()
	payload := map[string]any{
		"processing": map[string]any{
			"count":           summary.Count,
			"fastest_seconds": summary.Fastest.Seconds(),
			"mean_seconds":    summary.Mean.Seconds(),
			"slowest_seconds": summary.Slowest.Seconds(),
			"recent_seconds":  summary.Recent.Seconds(),
		},
		"active_requests": h.registry.Len(),
	}

	phases := map[string]any{}
	for p, ps := range h.stats.PhaseBreakdown() {
		phases[string(p)] = map[string]any{
			"samples":          ps.Samples,
			"estimate_seconds": ps.Estimate.Seconds(),
		}
	}
	payload["phases"] = phases

	if h.ledger != nil {
		totals, err := h.ledger.Totals(r.Context())
		if err != nil {
			h.logger.Error().Err(err).Msg("ops: ledger totals failed")
			h.json(w, http.StatusInternalServerError, map[string]string{"error": "ledger unavailable"})
			return
		}
		payload["ledger"] = map[string]any{
			"users":  totals.Users,
			"tokens": totals.Tokens,
			"videos": totals.Videos,
		}
	}

	h.json(w, http.StatusOK, payload)
}

func (h *handlers) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
