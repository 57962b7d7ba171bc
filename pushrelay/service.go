package pushrelay

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/robfig/cron/v3"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-push-relay/internal/api"
	"github.com/tinywideclouds/go-push-relay/internal/housekeeping"
	"github.com/tinywideclouds/go-push-relay/internal/pipeline"
	"github.com/tinywideclouds/go-push-relay/internal/relay"
	"github.com/tinywideclouds/go-push-relay/pushrelay/config"
)

// Dependencies are the externally constructed parts of the service.
// Consumer and Sweeper are optional.
type Dependencies struct {
	Relay          *relay.Service
	Consumer       messagepipeline.MessageConsumer
	Sweeper        *housekeeping.Sweeper
	AuthMiddleware func(http.Handler) http.Handler
	// Provider is reported on the metrics listener when it exposes a breaker.
	Provider any
}

type Wrapper struct {
	*microservice.BaseServer
	pipelineService *messagepipeline.StreamingService[pipeline.DispatchCommand]
	retention       *cron.Cron
	metrics         *metricsServer
	logger          *slog.Logger
}

// New assembles the service.
func New(cfg *config.Config, deps Dependencies, logger *slog.Logger) (*Wrapper, error) {
	if deps.Relay == nil {
		return nil, fmt.Errorf("relay is required")
	}
	if deps.AuthMiddleware == nil {
		return nil, fmt.Errorf("auth middleware is required")
	}

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	w := &Wrapper{
		BaseServer: baseServer,
		logger:     logger,
	}

	// 2. Pipeline (optional)
	if deps.Consumer != nil {
		processor := pipeline.NewProcessor(deps.Relay, logger)
		streamingService, err := messagepipeline.NewStreamingService(
			messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
			deps.Consumer,
			pipeline.DispatchCommandTransformer,
			processor,
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create streaming service: %w", err)
		}
		w.pipelineService = streamingService
	}

	// 3. Retention (optional)
	if deps.Sweeper != nil && cfg.Retention.Schedule != "" {
		loc, err := cfg.Retention.Location()
		if err != nil {
			return nil, fmt.Errorf("invalid retention timezone: %w", err)
		}
		c, err := deps.Sweeper.Schedule(cfg.Retention.Schedule, loc)
		if err != nil {
			return nil, err
		}
		w.retention = c
	}

	// 4. Metrics listener (optional)
	if cfg.MetricsAddr != "" {
		w.metrics = newMetricsServer(cfg.MetricsAddr, deps.Provider, logger)
	}

	// 5. API
	relayAPI := api.NewRelayAPI(deps.Relay, logger)
	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	for _, route := range relayAPI.Routes() {
		var h http.Handler = route.Handler
		if !route.Public {
			h = deps.AuthMiddleware(h)
		}
		mux.Handle(route.Pattern, corsMiddleware(h))
	}

	// Global OPTIONS for the API namespace (CORS preflight)
	mux.Handle("OPTIONS /api/v1/", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	return w, nil
}

// Start runs the background components, then blocks serving HTTP.
func (w *Wrapper) Start(ctx context.Context) error {
	if w.pipelineService != nil {
		w.logger.Info("Core processing pipeline starting...")
		if err := w.pipelineService.Start(ctx); err != nil {
			return fmt.Errorf("failed to start processing service: %w", err)
		}
	} else {
		w.logger.Info("Ingestion pipeline disabled; serving HTTP only")
	}
	if w.retention != nil {
		w.retention.Start()
		w.logger.Info("Retention sweep scheduled")
	}
	if w.metrics != nil {
		w.metrics.start()
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	w.SetReady(false)
	var finalErr error
	if w.retention != nil {
		stopped := w.retention.Stop()
		select {
		case <-stopped.Done():
		case <-ctx.Done():
			w.logger.Warn("Retention sweep still running at shutdown")
		}
	}
	if w.pipelineService != nil {
		if err := w.pipelineService.Stop(ctx); err != nil {
			w.logger.Error("Processing pipeline shutdown failed.", "err", err)
			finalErr = err
		}
	}
	if w.metrics != nil {
		if err := w.metrics.shutdown(ctx); err != nil {
			w.logger.Error("Metrics server shutdown failed.", "err", err)
			finalErr = err
		}
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
