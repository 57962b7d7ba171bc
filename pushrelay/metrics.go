package pushrelay

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"
)

type breakerReporter interface {
	BreakerState() string
}

type providerHealth struct {
	Healthy      bool   `json:"healthy"`
	BreakerState string `json:"breaker_state,omitempty"`
}

// metricsServer exposes Prometheus metrics and provider health on its own
// listener so scrapes bypass CORS and auth.
type metricsServer struct {
	server *http.Server
	logger *slog.Logger
}

func newMetricsServer(addr string, provider any, logger *slog.Logger) *metricsServer {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /health/provider", providerHealthHandler(provider))

	return &metricsServer{
		server: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		logger: logger.With("component", "MetricsServer"),
	}
}

func (m *metricsServer) start() {
	go func() {
		m.logger.Info("Metrics server starting", "addr", m.server.Addr)
		if err := m.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("Metrics server failed", "err", err)
		}
	}()
}

func (m *metricsServer) shutdown(ctx context.Context) error {
	return m.server.Shutdown(ctx)
}

// providerHealthHandler answers 503 while the provider's circuit is open.
func providerHealthHandler(provider any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reporter, ok := provider.(breakerReporter)
		if !ok {
			response.WriteJSON(w, http.StatusOK, providerHealth{Healthy: true})
			return
		}
		state := reporter.BreakerState()
		if state == "open" {
			response.WriteJSON(w, http.StatusServiceUnavailable, providerHealth{BreakerState: state})
			return
		}
		response.WriteJSON(w, http.StatusOK, providerHealth{Healthy: true, BreakerState: state})
	}
}
