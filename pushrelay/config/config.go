package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-push-relay/internal/housekeeping"
)

const (
	StoreFirestore = "firestore"
	StoreMemory    = "memory"

	ProviderFCM = "fcm"
	ProviderLog = "log"
)

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// ProviderConfig selects the delivery provider and carries what browser
// clients need to register with it.
type ProviderConfig struct {
	Type            string
	CredentialsJSON []byte
	CredentialsFile string
	PublicKey       string
	ClientConfig    json.RawMessage
}

type RetentionConfig struct {
	Schedule string
	Days     int
	Timezone string
}

// Period is the retention window as a duration.
func (r RetentionConfig) Period() time.Duration {
	return time.Duration(r.Days) * 24 * time.Hour
}

// Location resolves Timezone, defaulting to UTC.
func (r RetentionConfig) Location() (*time.Location, error) {
	if r.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(r.Timezone)
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID   string
	ListenAddr  string
	MetricsAddr string
	IdentityURL string
	// AuthDisabled skips JWT validation; local runs only.
	AuthDisabled bool
	StoreType    string

	// Ingestion is enabled when SubscriptionID is set.
	TopicID                string
	SubscriptionID         string
	SubscriptionDLQTopicID string
	NumPipelineWorkers     int
	PubsubConsumerConfig   *messagepipeline.GooglePubsubConsumerConfig

	DispatchConcurrency int

	CorsConfig middleware.CorsConfig
	Redis      RedisConfig
	Provider   ProviderConfig
	Retention  RetentionConfig
}

// IngestionEnabled reports whether the Pub/Sub pipeline should run.
func (c *Config) IngestionEnabled() bool {
	return c.SubscriptionID != ""
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	if val := os.Getenv("PROJECT_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "PROJECT_ID", "source", "env")
		cfg.ProjectID = val
	}
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	if val := os.Getenv("METRICS_PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "METRICS_PORT", "source", "env")
		cfg.MetricsAddr = ":" + val
	}
	if val := os.Getenv("IDENTITY_SERVICE_URL"); val != "" {
		logger.Debug("Overriding config value", "key", "IDENTITY_SERVICE_URL", "source", "env")
		cfg.IdentityURL = val
	}
	if val := os.Getenv("AUTH_DISABLED"); val != "" {
		disabled, _ := strconv.ParseBool(val)
		cfg.AuthDisabled = disabled
	}
	if val := os.Getenv("STORE_TYPE"); val != "" {
		logger.Debug("Overriding config value", "key", "STORE_TYPE", "source", "env")
		cfg.StoreType = val
	}
	if val := os.Getenv("SUBSCRIPTION_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_ID", "source", "env")
		cfg.SubscriptionID = val
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(val)
	}
	if val := os.Getenv("SUBSCRIPTION_DLQ_TOPIC_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_DLQ_TOPIC_ID", "source", "env")
		cfg.SubscriptionDLQTopicID = val
	}
	if val := os.Getenv("NUM_PIPELINE_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil && workers > 0 {
			logger.Debug("Overriding config value", "key", "NUM_PIPELINE_WORKERS", "source", "env")
			cfg.NumPipelineWorkers = workers
		}
	}

	// Redis Overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Redis.Enabled = enabled
	}

	// Provider Overrides
	if val := os.Getenv("PROVIDER_TYPE"); val != "" {
		logger.Debug("Overriding config value", "key", "PROVIDER_TYPE", "source", "env")
		cfg.Provider.Type = val
	}
	if val := os.Getenv("FCM_CREDENTIALS_JSON"); val != "" {
		logger.Debug("Overriding config value", "key", "FCM_CREDENTIALS_JSON", "source", "env")
		cfg.Provider.CredentialsJSON = []byte(val)
	}
	if val := os.Getenv("FCM_CREDENTIALS_FILE"); val != "" {
		logger.Debug("Overriding config value", "key", "FCM_CREDENTIALS_FILE", "source", "env")
		cfg.Provider.CredentialsFile = val
	}
	if val := os.Getenv("VAPID_PUBLIC_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_PUBLIC_KEY", "source", "env")
		cfg.Provider.PublicKey = val
	}
	if val := os.Getenv("FCM_CLIENT_CONFIG"); val != "" {
		logger.Debug("Overriding config value", "key", "FCM_CLIENT_CONFIG", "source", "env")
		cfg.Provider.ClientConfig = json.RawMessage(val)
	}

	// Retention Overrides
	if val := os.Getenv("RETENTION_SCHEDULE"); val != "" {
		cfg.Retention.Schedule = val
	}
	if val := os.Getenv("RETENTION_DAYS"); val != "" {
		if days, err := strconv.Atoi(val); err == nil && days > 0 {
			cfg.Retention.Days = days
		}
	}

	// CORS Overrides
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		rawOrigins := strings.Split(corsOrigins, ",")
		var cleanOrigins []string
		for _, o := range rawOrigins {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	}

	// 2. Defaults
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.StoreType == "" {
		cfg.StoreType = StoreFirestore
	}
	if cfg.Provider.Type == "" {
		cfg.Provider.Type = ProviderFCM
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}
	if cfg.Redis.TTL <= 0 {
		cfg.Redis.TTL = 24 * time.Hour
	}
	if cfg.Retention.Days <= 0 {
		cfg.Retention.Days = int(housekeeping.DefaultRetention / (24 * time.Hour))
	}
	if cfg.PubsubConsumerConfig == nil && cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	// 3. Final Validation
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("project_id is required (set via YAML or PROJECT_ID env var)")
	}
	switch cfg.StoreType {
	case StoreFirestore, StoreMemory:
	default:
		return nil, fmt.Errorf("unknown store type %q (want %s or %s)", cfg.StoreType, StoreFirestore, StoreMemory)
	}
	switch cfg.Provider.Type {
	case ProviderFCM, ProviderLog:
	default:
		return nil, fmt.Errorf("unknown provider type %q (want %s or %s)", cfg.Provider.Type, ProviderFCM, ProviderLog)
	}
	if cfg.IngestionEnabled() && cfg.TopicID == "" {
		return nil, fmt.Errorf("topic_id is required when subscription_id is set")
	}
	if len(cfg.Provider.ClientConfig) > 0 && !json.Valid(cfg.Provider.ClientConfig) {
		return nil, fmt.Errorf("provider client_config is not valid JSON")
	}
	if cfg.Retention.Schedule != "" {
		if err := housekeeping.ValidateSchedule(cfg.Retention.Schedule); err != nil {
			return nil, err
		}
	}
	if _, err := cfg.Retention.Location(); err != nil {
		return nil, fmt.Errorf("invalid retention timezone %q: %w", cfg.Retention.Timezone, err)
	}

	// Credentials are read once here; nothing else touches the file.
	if len(cfg.Provider.CredentialsJSON) == 0 && cfg.Provider.CredentialsFile != "" {
		raw, err := os.ReadFile(cfg.Provider.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read provider credentials: %w", err)
		}
		cfg.Provider.CredentialsJSON = raw
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}
