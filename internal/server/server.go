// Package server wires the HTTP router for the digest ingress surface.
package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/groupmind/digestd/internal/api"
	"github.com/groupmind/digestd/internal/core"
	"github.com/groupmind/digestd/internal/metrics"
)

// Config holds the router options.
type Config struct {
	// APIKey enables Bearer authentication when non-empty. Health and
	// metrics stay open for probes and scrapers.
	APIKey string
}

// NewRouter creates and configures the HTTP router with all digest routes.
func NewRouter(queue api.Queue, limiter api.QuotaReader, events core.EventSubscriber, logger *slog.Logger, cfg Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)
	r.Use(api.RequestID)
	r.Use(api.RequestLogger(logger))
	r.Use(api.ValidateContentType)

	if cfg.APIKey != "" {
		r.Use(api.KeyAuth(cfg.APIKey, "/metrics", "/v1/health"))
	}

	r.Handle("/metrics", promhttp.Handler())

	jobHandler := api.NewJobHandler(queue)
	channelHandler := api.NewChannelHandler(queue)
	quotaHandler := api.NewQuotaHandler(limiter)
	systemHandler := api.NewSystemHandler(queue)
	eventsHandler := api.NewEventsHandler(queue, events)

	r.Get("/v1/health", systemHandler.Health)

	r.Post("/v1/jobs", jobHandler.Create)
	r.Get("/v1/jobs", jobHandler.List)
	r.Get("/v1/jobs/{id}", jobHandler.Get)
	r.Delete("/v1/jobs/{id}", jobHandler.Cancel)
	r.Get("/v1/jobs/{id}/events", eventsHandler.StreamJob)

	r.Get("/v1/channels/{id}/stats", channelHandler.Stats)
	r.Post("/v1/channels/{id}/pause", channelHandler.Pause)
	r.Post("/v1/channels/{id}/resume", channelHandler.Resume)

	r.Get("/v1/quota/{actor}", quotaHandler.Status)

	return r
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		duration := time.Since(start).Seconds()
		path := metricRoutePattern(r)
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, fmt.Sprintf("%d", ww.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, path, fmt.Sprintf("%d", ww.Status())).Observe(duration)
	})
}

func metricRoutePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}
