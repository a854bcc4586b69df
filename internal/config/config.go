package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

// Environment represents different deployment environments.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvProduction  Environment = "production"
)

// Config holds configuration for the event-dispatch and pipeline substrate.
// Environment variables are parsed from the CHATCORE_ prefix.
type Config struct {
	Environment Environment `envconfig:"ENVIRONMENT" default:"development"`

	// HTTP Configuration (health/admin surface only).
	HTTPPort int `envconfig:"HTTP_PORT" default:"8080"`

	// Postgres Configuration.
	PostgresDSN    string `envconfig:"POSTGRES_DSN" default:""`
	PostgresMaxConns int32 `envconfig:"POSTGRES_MAX_CONNS" default:"20"`

	// Change-notification channel used by the Event Log subscriber.
	NotifyChannel string `envconfig:"NOTIFY_CHANNEL" default:"outbox_event"`

	// Cursor Lock defaults, overridable per listener in code.
	LeaseDuration     int `envconfig:"LEASE_DURATION_SECONDS" default:"30"`
	LeaseRefresh      int `envconfig:"LEASE_REFRESH_SECONDS" default:"10"`
	LeaseMaxRetries   int `envconfig:"LEASE_MAX_RETRIES" default:"5"`
	LeaseBaseBackoffMs int `envconfig:"LEASE_BASE_BACKOFF_MS" default:"200"`
	CursorBatchSize   int `envconfig:"CURSOR_BATCH_SIZE" default:"100"`

	// Dispatcher debounce tuning.
	DebounceMs     int `envconfig:"DEBOUNCE_MS" default:"500"`
	DebounceMaxWaitMs int `envconfig:"DEBOUNCE_MAX_WAIT_MS" default:"5000"`
	PollIntervalMs int `envconfig:"POLL_INTERVAL_MS" default:"1000"`

	// Job Queue tuning.
	JobBaseBackoffMs int `envconfig:"JOB_BASE_BACKOFF_MS" default:"1000"`
	JobMaxBackoffSec int `envconfig:"JOB_MAX_BACKOFF_SECONDS" default:"300"`
	JobRetryLimit    int `envconfig:"JOB_RETRY_LIMIT" default:"8"`
	JobLeaseSeconds  int `envconfig:"JOB_LEASE_SECONDS" default:"60"`
	JobPollIntervalMs int `envconfig:"JOB_POLL_INTERVAL_MS" default:"500"`
	JobWorkerConcurrency int `envconfig:"JOB_WORKER_CONCURRENCY" default:"4"`

	// Embedding / Search Configuration.
	EmbedProvider string  `envconfig:"EMBED_PROVIDER" default:"ollama"`
	EmbedBaseURL  string  `envconfig:"EMBED_BASE_URL" default:"http://localhost:11434"`
	EmbedModel    string  `envconfig:"EMBED_MODEL" default:"mxbai-embed-large"`
	SearchAlpha   float32 `envconfig:"SEARCH_ALPHA" default:"0.6"`
	WaviateURL    string  `envconfig:"WAVIATE_URL" default:"weaviate:8080"`

	// Model provider (Cost Interceptor) Configuration.
	ModelProviderBaseURL string `envconfig:"MODEL_PROVIDER_BASE_URL" default:"http://localhost:11434/v1"`
	ModelProviderAPIKey  string `envconfig:"MODEL_PROVIDER_API_KEY" default:""`
	ModelProviderTimeoutSeconds int `envconfig:"MODEL_PROVIDER_TIMEOUT_SECONDS" default:"30"`
	DefaultModel         string `envconfig:"DEFAULT_MODEL" default:"gpt-4o-mini"`
	SubstituteModel      string `envconfig:"SUBSTITUTE_MODEL" default:"gpt-4o-mini"`

	// Provider-call rate limiting ahead of the Job Queue's own retry/backoff
	// layer. ModelProviderRateLimitPerSecond <= 0 disables throttling.
	ModelProviderRateLimitPerSecond float64 `envconfig:"MODEL_PROVIDER_RATE_LIMIT_PER_SECOND" default:"5"`
	ModelProviderRateBurst          int     `envconfig:"MODEL_PROVIDER_RATE_BURST" default:"10"`

	// Budget Configuration, all in USD cents unless noted.
	BudgetSoftLimitCents int `envconfig:"BUDGET_SOFT_LIMIT_CENTS" default:"5000"`
	BudgetHardLimitCents int `envconfig:"BUDGET_HARD_LIMIT_CENTS" default:"10000"`
	BudgetWindowHours    int `envconfig:"BUDGET_WINDOW_HOURS" default:"24"`

	BootstrapTimeoutSeconds int `envconfig:"BOOTSTRAP_TIMEOUT_SECONDS" default:"10"`

	// Testing Configuration.
	TestingTempDatabase bool `envconfig:"TESTING_TEMP_DATABASE" default:"true"`
}

// ResolveDefaults validates cross-field invariants after parsing.
func (c *Config) ResolveDefaults() error {
	if c.PostgresMaxConns <= 0 {
		c.PostgresMaxConns = 20
	}
	if c.BudgetHardLimitCents < c.BudgetSoftLimitCents {
		return fmt.Errorf("BUDGET_HARD_LIMIT_CENTS must be >= BUDGET_SOFT_LIMIT_CENTS")
	}
	return nil
}

// New creates a new Config by parsing environment variables.
// Environment variables are prefixed with CHATCORE, e.g. CHATCORE_POSTGRES_DSN.
func New() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("CHATCORE", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.ResolveDefaults(); err != nil {
		return nil, err
	}

	log.Info().
		Str("environment", string(cfg.Environment)).
		Int("http_port", cfg.HTTPPort).
		Str("embed_provider", cfg.EmbedProvider).
		Str("embed_model", cfg.EmbedModel).
		Str("waviate_url", cfg.WaviateURL).
		Str("model_provider_base_url", cfg.ModelProviderBaseURL).
		Int("budget_soft_limit_cents", cfg.BudgetSoftLimitCents).
		Int("budget_hard_limit_cents", cfg.BudgetHardLimitCents).
		Msg("configuration loaded")

	return &cfg, nil
}

// NewForTesting creates a config with sane defaults for tests.
func NewForTesting() *Config {
	cfg := &Config{
		Environment:          EnvTesting,
		HTTPPort:             8080,
		PostgresMaxConns:     5,
		NotifyChannel:        "outbox_event",
		LeaseDuration:        30,
		LeaseRefresh:         10,
		LeaseMaxRetries:      3,
		LeaseBaseBackoffMs:   50,
		CursorBatchSize:      50,
		DebounceMs:           50,
		DebounceMaxWaitMs:    500,
		PollIntervalMs:       200,
		JobBaseBackoffMs:     100,
		JobMaxBackoffSec:     30,
		JobRetryLimit:        5,
		JobLeaseSeconds:      30,
		JobPollIntervalMs:    100,
		JobWorkerConcurrency: 2,
		EmbedProvider:        "ollama",
		EmbedBaseURL:         "http://localhost:11434",
		EmbedModel:           "mxbai-embed-large",
		SearchAlpha:          0.6,
		WaviateURL:           "localhost:8082",
		ModelProviderBaseURL: "http://localhost:11434/v1",
		ModelProviderTimeoutSeconds: 10,
		DefaultModel:         "gpt-4o-mini",
		SubstituteModel:      "gpt-4o-mini",
		ModelProviderRateLimitPerSecond: 0,
		ModelProviderRateBurst:          0,
		BudgetSoftLimitCents: 500,
		BudgetHardLimitCents: 1000,
		BudgetWindowHours:    24,
		BootstrapTimeoutSeconds: 5,
		TestingTempDatabase:  true,
	}
	return cfg
}

// IsTesting returns true if the environment is set to testing.
func (c *Config) IsTesting() bool {
	return c.Environment == EnvTesting
}

// IsProduction returns true if the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// GetHTTPAddr returns the HTTP server listen address.
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}
