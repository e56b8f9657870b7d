package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/nidhogg/server-doctor/internal/doctor"
	"github.com/nidhogg/server-doctor/internal/health"
	"github.com/nidhogg/server-doctor/internal/logs"
	"github.com/nidhogg/server-doctor/internal/mcp"
	"github.com/nidhogg/server-doctor/internal/metrics"
	"github.com/nidhogg/server-doctor/internal/notify"
	"github.com/nidhogg/server-doctor/internal/registry"
)

const tokenHeader = "X-MCP-TOKEN"
const webhookHeader = "X-WEBHOOK-URL"

// Ingest alerts fire ahead of the trend thresholds so operators hear about
// pressure before it becomes a pattern.
const (
	alertCPUPercent = 80
	alertMemPercent = 80
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	reg            registry.Registry
	logAgg         *logs.Aggregator
	metricAgg      *metrics.Aggregator
	healthTracker  *health.Tracker
	notifier       *notify.Dispatcher
	doc            *doctor.Doctor
	rpc            *mcp.Server
	publicURL      string
	defaultWebhook string
	logger         *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(
	reg registry.Registry,
	logAgg *logs.Aggregator,
	metricAgg *metrics.Aggregator,
	healthTracker *health.Tracker,
	notifier *notify.Dispatcher,
	doc *doctor.Doctor,
	rpc *mcp.Server,
	publicURL string,
	defaultWebhook string,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		reg:            reg,
		logAgg:         logAgg,
		metricAgg:      metricAgg,
		healthTracker:  healthTracker,
		notifier:       notifier,
		doc:            doc,
		rpc:            rpc,
		publicURL:      publicURL,
		defaultWebhook: defaultWebhook,
		logger:         logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", tokenHeader, webhookHeader},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		r.Post("/servers", h.registerServer)
		r.Get("/servers", h.listServers)
		r.Patch("/servers/{name}/url", h.updateServerURL)
		r.Get("/servers/{name}/diagnose", h.diagnoseServer)

		r.Post("/servers/{name}/ingest/logs", h.ingestLogs)
		r.Post("/servers/{name}/ingest/metrics", h.ingestMetrics)
		r.Post("/servers/{name}/ingest/health", h.ingestHealth)
	})

	// Raw data views backing the MCP tools, handy for curl debugging.
	r.Route("/tool/servers/{name}", func(r chi.Router) {
		r.Get("/errors", h.toolErrors)
		r.Get("/metrics", h.toolMetrics)
		r.Get("/trend-metrics", h.toolTrend)
		r.Get("/health", h.toolHealth)
	})

	r.Get("/mcp/sse", h.handleSSE)
	r.Post("/mcp/sse", h.handleSSE)
	r.Post("/mcp/messages", h.handleMessage)

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "server-doctor"})
}

func (h *Handler) registerServer(w http.ResponseWriter, r *http.Request) {
	var req registry.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	srv, err := h.reg.Register(r.Context(), req)
	if err != nil {
		h.writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, srv)
}

func (h *Handler) listServers(w http.ResponseWriter, r *http.Request) {
	servers, err := h.reg.List(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	// Tokens stay out of the listing.
	for i := range servers {
		servers[i].Token = ""
	}
	writeJSON(w, http.StatusOK, servers)
}

type urlUpdateRequest struct {
	URL string `json:"url"`
}

func (h *Handler) updateServerURL(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !h.authorize(w, r, name) {
		return
	}
	var req urlUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.URL == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "url is required"})
		return
	}
	if err := h.reg.UpdateURL(r.Context(), name, req.URL); err != nil {
		h.writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *Handler) ingestLogs(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !h.authorize(w, r, name) {
		return
	}
	var events []logs.Event
	if err := json.NewDecoder(r.Body).Decode(&events); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	accepted := h.logAgg.Ingest(name, events)
	h.touchHeartbeat(name)

	if errs := logs.ErrorMessages(accepted); len(errs) > 0 {
		h.notifier.EnqueueAlert(h.webhookFor(r), name, logs.AlertText(errs))
	}
	writeJSON(w, http.StatusOK, map[string]any{"accepted": len(accepted)})
}

func (h *Handler) ingestMetrics(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !h.authorize(w, r, name) {
		return
	}
	var raw metrics.RawSample
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	sample := h.metricAgg.Ingest(name, raw)
	h.touchHeartbeat(name)

	if sample.CPUPercent > alertCPUPercent || sample.MemPercent() > alertMemPercent {
		text := fmt.Sprintf("resource pressure detected: CPU %.1f%%, RAM %.1f%% (%.0f/%.0f MB)",
			sample.CPUPercent, sample.MemPercent(), sample.MemUsedMB, sample.MemMaxMB)
		h.notifier.EnqueueAlert(h.webhookFor(r), name, text)
	}
	writeJSON(w, http.StatusOK, sample)
}

func (h *Handler) ingestHealth(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !h.authorize(w, r, name) {
		return
	}
	var e health.Event
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := h.healthTracker.Record(r.Context(), name, e); err != nil {
		h.writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

const diagnoseAckPage = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>diagnosis started</title></head>
<body>
<h1>diagnosis started for %s</h1>
<p>The report will be delivered to the configured webhook shortly. You can close this tab.</p>
</body>
</html>`

func (h *Handler) diagnoseServer(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, err := h.reg.Lookup(r.Context(), name); err != nil {
		h.writeRegistryError(w, err)
		return
	}
	webhook := r.URL.Query().Get("webhook")
	if webhook == "" {
		webhook = h.defaultWebhook
	}
	h.doc.DiagnoseAndReport(name, webhook)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, diagnoseAckPage, name)
}

func (h *Handler) toolErrors(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	writeJSON(w, http.StatusOK, h.logAgg.AnalyzeErrors(name, 100))
}

func (h *Handler) toolMetrics(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	writeJSON(w, http.StatusOK, h.metricAgg.Current(name))
}

func (h *Handler) toolTrend(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	writeJSON(w, http.StatusOK, map[string]string{"server": name, "trend": h.metricAgg.Trend(name)})
}

func (h *Handler) toolHealth(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	report, err := h.healthTracker.StatusReport(r.Context(), name)
	if err != nil {
		h.writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"server": name, "report": report})
}

// authorize checks the ingest token header against the registry.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, name string) bool {
	token := r.Header.Get(tokenHeader)
	if err := h.reg.VerifyToken(r.Context(), name, token); err != nil {
		h.writeRegistryError(w, err)
		return false
	}
	return true
}

// webhookFor picks the per-request alert destination, falling back to the
// configured default.
func (h *Handler) webhookFor(r *http.Request) string {
	if url := r.Header.Get(webhookHeader); url != "" {
		return url
	}
	return h.defaultWebhook
}

// touchHeartbeat records liveness out of band so a slow or contended
// registry write never delays an ingest response.
func (h *Handler) touchHeartbeat(name string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.reg.TouchHeartbeat(ctx, name); err != nil {
			h.logger.Warn("heartbeat update failed", zap.String("server", name), zap.Error(err))
		}
	}()
}

func (h *Handler) writeRegistryError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, registry.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, registry.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, registry.ErrDuplicate):
		status = http.StatusConflict
	case errors.Is(err, registry.ErrInvalidArgument):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
