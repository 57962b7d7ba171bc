package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
	TTL      string `yaml:"ttl"`
}

type YamlProviderConfig struct {
	Type            string `yaml:"type"`
	CredentialsFile string `yaml:"credentials_file"`
	PublicKey       string `yaml:"public_key"`
	// ClientConfig is the Firebase web config, written as a YAML mapping.
	ClientConfig map[string]any `yaml:"client_config"`
}

type YamlRetentionConfig struct {
	Schedule string `yaml:"schedule"`
	Days     int    `yaml:"days"`
	Timezone string `yaml:"timezone"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ProjectID              string              `yaml:"project_id"`
	ListenAddr             string              `yaml:"listen_addr"`
	MetricsAddr            string              `yaml:"metrics_addr"`
	IdentityURL            string              `yaml:"identity_url"`
	AuthDisabled           bool                `yaml:"auth_disabled"`
	StoreType              string              `yaml:"store_type"`
	TopicID                string              `yaml:"topic_id"`
	SubscriptionID         string              `yaml:"subscription_id"`
	SubscriptionDLQTopicID string              `yaml:"subscription_dlq_topic_id"`
	NumPipelineWorkers     int                 `yaml:"num_pipeline_workers"`
	DispatchConcurrency    int                 `yaml:"dispatch_concurrency"`
	CorsConfig             YamlCorsConfig      `yaml:"cors"`
	RedisConfig            YamlRedisConfig     `yaml:"redis"`
	ProviderConfig         YamlProviderConfig  `yaml:"provider"`
	RetentionConfig        YamlRetentionConfig `yaml:"retention"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	cfg := &Config{
		ProjectID:    baseCfg.ProjectID,
		ListenAddr:   baseCfg.ListenAddr,
		MetricsAddr:  baseCfg.MetricsAddr,
		IdentityURL:  baseCfg.IdentityURL,
		AuthDisabled: baseCfg.AuthDisabled,
		StoreType:    baseCfg.StoreType,

		TopicID:                baseCfg.TopicID,
		SubscriptionID:         baseCfg.SubscriptionID,
		SubscriptionDLQTopicID: baseCfg.SubscriptionDLQTopicID,
		NumPipelineWorkers:     baseCfg.NumPipelineWorkers,
		DispatchConcurrency:    baseCfg.DispatchConcurrency,

		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
		},
		Provider: ProviderConfig{
			Type:            baseCfg.ProviderConfig.Type,
			CredentialsFile: baseCfg.ProviderConfig.CredentialsFile,
			PublicKey:       baseCfg.ProviderConfig.PublicKey,
		},
		Retention: RetentionConfig{
			Schedule: baseCfg.RetentionConfig.Schedule,
			Days:     baseCfg.RetentionConfig.Days,
			Timezone: baseCfg.RetentionConfig.Timezone,
		},
	}

	if baseCfg.RedisConfig.TTL != "" {
		ttl, err := time.ParseDuration(baseCfg.RedisConfig.TTL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis ttl %q: %w", baseCfg.RedisConfig.TTL, err)
		}
		cfg.Redis.TTL = ttl
	}

	if len(baseCfg.ProviderConfig.ClientConfig) > 0 {
		raw, err := json.Marshal(baseCfg.ProviderConfig.ClientConfig)
		if err != nil {
			return nil, fmt.Errorf("invalid provider client_config: %w", err)
		}
		cfg.Provider.ClientConfig = raw
	}

	if cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"store_type", cfg.StoreType,
		"provider_type", cfg.Provider.Type,
		"subscription_id", cfg.SubscriptionID,
	)

	return cfg, nil
}
