package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-push-relay/internal/housekeeping"
	"github.com/tinywideclouds/go-push-relay/internal/platform/fcm"
	"github.com/tinywideclouds/go-push-relay/internal/platform/logpush"
	"github.com/tinywideclouds/go-push-relay/internal/storage/cache"
	fsStore "github.com/tinywideclouds/go-push-relay/internal/storage/firestore"
	"github.com/tinywideclouds/go-push-relay/internal/storage/memory"
	"github.com/tinywideclouds/go-push-relay/pkg/push"

	"github.com/tinywideclouds/go-push-relay/pushrelay"
	"github.com/tinywideclouds/go-push-relay/pushrelay/config"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gopkg.in/yaml.v3"
)

//go:embed local.yaml
var configFile []byte

func main() {
	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "info", "INFO":
		logLevel = slog.LevelInfo
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-push-relay")
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, err := config.NewConfigFromYaml(&yamlCfg, logger)
	if err != nil {
		logger.Error("Config mapping failed", "err", err)
		os.Exit(1)
	}
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	// --- Registry Store (Decorated) ---
	store, closeStore, err := newStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("Registry store failed", "err", err)
		os.Exit(1)
	}
	defer closeStore()

	// --- Provider ---
	provider, err := newProvider(ctx, cfg, logger)
	if err != nil {
		logger.Error("Delivery provider failed", "err", err)
		os.Exit(1)
	}

	// --- Auth ---
	authMiddleware, err := newAuthMiddleware(cfg, logger)
	if err != nil {
		logger.Error("Auth middleware failed", "err", err)
		os.Exit(1)
	}

	// --- Consumer (optional) ---
	var consumer messagepipeline.MessageConsumer
	if cfg.IngestionEnabled() {
		psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			logger.Error("PubSub client failed", "err", err)
			os.Exit(1)
		}
		defer psClient.Close()

		consumer, err = newIngestionConsumer(ctx, cfg, psClient, logger)
		if err != nil {
			logger.Error("Ingestion consumer failed", "err", err)
			os.Exit(1)
		}
	}

	// --- Service ---
	service, err := pushrelay.New(cfg, pushrelay.Dependencies{
		Relay:          pushrelay.NewRelay(cfg, store, provider, logger),
		Consumer:       consumer,
		Sweeper:        housekeeping.NewSweeper(store, cfg.Retention.Period(), logger),
		AuthMiddleware: authMiddleware,
		Provider:       provider,
	}, logger)
	if err != nil {
		logger.Error("Service creation failed", "err", err)
		os.Exit(1)
	}

	go func() {
		logger.Info("Starting service...", "addr", cfg.ListenAddr, "store", cfg.StoreType, "provider", cfg.Provider.Type)
		if err := service.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Service shutdown with error", "err", err)
			cancel()
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-shutdown:
		logger.Info("Received shutdown signal.", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("Context cancelled, initiating shutdown.")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := service.Shutdown(shutdownCtx); err != nil {
		logger.Error("Service shutdown failed.", "err", err)
	}
}

func newStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (push.Store, func(), error) {
	var store push.Store
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	switch cfg.StoreType {
	case config.StoreMemory:
		store = memory.NewStore()
		logger.Warn("Registry store is in-memory; data is lost on restart")
	default:
		fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, closeAll, fmt.Errorf("firestore client: %w", err)
		}
		closers = append(closers, func() { _ = fsClient.Close() })
		fs, err := fsStore.NewFirestoreStore(fsClient, logger)
		if err != nil {
			closeAll()
			return nil, func() {}, err
		}
		store = fs
	}
	logger.Info("Registry store initialized", "type", cfg.StoreType)

	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis Cache layer...", "addr", cfg.Redis.Addr)
		redisClient, err := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			closeAll()
			return nil, func() {}, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		store = cache.NewCachedStore(store, redisClient, cfg.Redis.TTL, logger)
		logger.Info("Registry store upgraded", "type", "redis_cached_"+cfg.StoreType)
	}
	return store, closeAll, nil
}

func newProvider(ctx context.Context, cfg *config.Config, logger *slog.Logger) (push.Provider, error) {
	if cfg.Provider.Type == config.ProviderLog {
		logger.Warn("Using log provider; notifications are not delivered")
		return logpush.NewProvider(logger), nil
	}
	client, err := fcm.NewMessagingClient(ctx, cfg.ProjectID, cfg.Provider.CredentialsJSON)
	if err != nil {
		return nil, err
	}
	return fcm.NewClient(client, fcm.DefaultBreakerConfig(), logger), nil
}

func newAuthMiddleware(cfg *config.Config, logger *slog.Logger) (func(http.Handler) http.Handler, error) {
	if cfg.AuthDisabled {
		logger.Warn("Authentication disabled")
		return func(h http.Handler) http.Handler { return h }, nil
	}
	identityURL := cfg.IdentityURL
	if identityURL == "" {
		identityURL = "http://localhost:3000"
	}
	jwksURL, err := middleware.DiscoverAndValidateJWTConfig(identityURL, middleware.RSA256, logger)
	if err != nil {
		return nil, fmt.Errorf("jwt discovery: %w", err)
	}
	return middleware.NewJWKSAuthMiddleware(jwksURL, logger)
}

func newIngestionConsumer(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (messagepipeline.MessageConsumer, error) {
	sub := convertPubsub(cfg.ProjectID, cfg.PubsubConsumerConfig.SubscriptionID, "subscriptions")
	topicID := convertPubsub(cfg.ProjectID, cfg.TopicID, "topics")

	subConfig := &pubsubpb.Subscription{
		Name:               sub,
		Topic:              topicID,
		AckDeadlineSeconds: 10,
	}
	if cfg.SubscriptionDLQTopicID != "" {
		subConfig.DeadLetterPolicy = &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     convertPubsub(cfg.ProjectID, cfg.SubscriptionDLQTopicID, "topics"),
			MaxDeliveryAttempts: 5,
		}
	}
	logger.Debug("Ensuring subscription exists", "sub", subConfig.Name, "topic", subConfig.Topic)
	_, err := psClient.SubscriptionAdminClient.CreateSubscription(ctx, subConfig)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			logger.Debug("Subscription already exists, skipping creation", "sub", subConfig.Name)
		} else {
			logger.Error("Failed to create subscription", "sub", subConfig.Name, "err", err)
			return nil, fmt.Errorf("could not create sub: %s", sub)
		}
	}

	return messagepipeline.NewGooglePubsubConsumer(
		messagepipeline.NewGooglePubsubConsumerDefaults(subConfig.Name), psClient, logger,
	)
}

type PS string

func convertPubsub(project, id string, ps PS) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, ps, id)
}
