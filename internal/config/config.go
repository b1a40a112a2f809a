package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/garyjia/lotus/internal/application/scoring"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig              `mapstructure:"server"`
	Database  DatabaseConfig            `mapstructure:"database"`
	Models    ModelsConfig              `mapstructure:"models"`
	Retry     RetryConfig               `mapstructure:"retry"`
	Inference InferenceConfig           `mapstructure:"inference"`
	Scoring   scoring.ConfidenceWeights `mapstructure:"scoring"`
	Replay    ReplayConfig              `mapstructure:"replay"`
	Upload    UploadConfig              `mapstructure:"upload"`
	Tracing   TracingConfig             `mapstructure:"tracing"`
	Logger    LoggerConfig              `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// ModelConfig describes one OpenAI-compatible chat endpoint
type ModelConfig struct {
	Name    string        `mapstructure:"name"`
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ModelsConfig holds the two model tiers
type ModelsConfig struct {
	Local ModelConfig `mapstructure:"local"`
	Cloud ModelConfig `mapstructure:"cloud"`
}

// RetryConfig holds the gateway retry policy
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	Jitter      bool          `mapstructure:"jitter"`
}

// InferenceConfig holds orchestrator settings
type InferenceConfig struct {
	DailyBudget         int           `mapstructure:"daily_budget"`
	Workers             int           `mapstructure:"workers"`
	MaxCandidateSize    int           `mapstructure:"max_candidate_size"`
	RateLimitRetryAfter time.Duration `mapstructure:"rate_limit_retry_after"`
	PromptsPath         string        `mapstructure:"prompts_path"`
}

// ReplayConfig holds deferred-candidate replay settings
type ReplayConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Schedule  string        `mapstructure:"schedule"`
	Timeout   time.Duration `mapstructure:"timeout"`
	BatchSize int           `mapstructure:"batch_size"`
}

// UploadConfig bounds file uploads
type UploadConfig struct {
	MaxBytes    int64 `mapstructure:"max_bytes"`
	MaxPDFPages int   `mapstructure:"max_pdf_pages"`
}

// TracingConfig selects the span exporter
type TracingConfig struct {
	Exporter    string  `mapstructure:"exporter"`
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
	ServiceName string  `mapstructure:"service_name"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load reads configuration from an optional YAML file, a .env file and the
// environment, in increasing order of precedence. An empty configPath uses
// defaults plus environment only.
func Load(configPath string) (*Config, error) {
	return LoadWithEnvFile(configPath, ".env")
}

// LoadWithEnvFile is Load with an explicit .env path. A missing .env file is
// not an error.
func LoadWithEnvFile(configPath, envFile string) (*Config, error) {
	if envFile != "" {
		// Existing process variables win over .env entries
		if err := gotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix("LOTUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindEnvVars(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Minute)

	// Database defaults
	v.SetDefault("database.path", "data/lotus.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	// Model defaults
	v.SetDefault("models.local.name", "llama3.2:3b")
	v.SetDefault("models.local.base_url", "http://localhost:11434/v1")
	v.SetDefault("models.local.api_key", "")
	v.SetDefault("models.local.timeout", 30*time.Second)
	v.SetDefault("models.cloud.name", "gpt-4o-mini")
	v.SetDefault("models.cloud.base_url", "")
	v.SetDefault("models.cloud.api_key", "")
	v.SetDefault("models.cloud.timeout", 60*time.Second)

	// Retry defaults
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", time.Second)
	v.SetDefault("retry.max_delay", 10*time.Second)
	v.SetDefault("retry.jitter", false)

	// Inference defaults
	v.SetDefault("inference.daily_budget", 50)
	v.SetDefault("inference.workers", 5)
	v.SetDefault("inference.max_candidate_size", 2000)
	v.SetDefault("inference.rate_limit_retry_after", 5*time.Minute)
	v.SetDefault("inference.prompts_path", "")

	// Scoring defaults
	w := scoring.DefaultConfidenceWeights()
	v.SetDefault("scoring.certainty_factor", w.CertaintyFactor)
	v.SetDefault("scoring.default_certainty", w.DefaultCertainty)
	v.SetDefault("scoring.assignee_bonus", w.AssigneeBonus)
	v.SetDefault("scoring.due_date_bonus", w.DueDateBonus)
	v.SetDefault("scoring.exact_citation_bonus", w.ExactCitation)
	v.SetDefault("scoring.fuzzy_citation_bonus", w.FuzzyCitation)
	v.SetDefault("scoring.review_threshold", w.ReviewThreshold)

	// Replay defaults
	v.SetDefault("replay.enabled", true)
	v.SetDefault("replay.schedule", "@every 5m")
	v.SetDefault("replay.timeout", 10*time.Minute)
	v.SetDefault("replay.batch_size", 20)

	// Upload defaults
	v.SetDefault("upload.max_bytes", 10<<20)
	v.SetDefault("upload.max_pdf_pages", 50)

	// Tracing defaults
	v.SetDefault("tracing.exporter", "none")
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.insecure", false)
	v.SetDefault("tracing.sample_ratio", 1.0)
	v.SetDefault("tracing.service_name", "lotus")

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")
}

// bindEnvVars binds the conventional variable names alongside LOTUS_*
func bindEnvVars(v *viper.Viper) {
	_ = v.BindEnv("models.cloud.api_key", "LOTUS_MODELS_CLOUD_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("models.local.base_url", "LOTUS_MODELS_LOCAL_BASE_URL", "OLLAMA_BASE_URL")
	_ = v.BindEnv("inference.daily_budget", "LOTUS_INFERENCE_DAILY_BUDGET", "MAX_CLOUD_CALLS_PER_DAY")
	_ = v.BindEnv("scoring.review_threshold", "LOTUS_SCORING_REVIEW_THRESHOLD", "MIN_CONFIDENCE_THRESHOLD")
	_ = v.BindEnv("database.path", "LOTUS_DATABASE_PATH", "DATABASE_PATH")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Models.Local.Name == "" {
		return fmt.Errorf("models.local.name is required")
	}
	if c.Models.Local.BaseURL == "" {
		return fmt.Errorf("models.local.base_url is required")
	}
	if c.Models.Cloud.Name == "" {
		return fmt.Errorf("models.cloud.name is required")
	}
	if c.Models.Cloud.BaseURL == "" && c.Models.Cloud.APIKey == "" {
		return fmt.Errorf("models.cloud.api_key is required when models.cloud.base_url is not set")
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("retry delays must satisfy 0 <= base_delay <= max_delay")
	}

	if c.Inference.DailyBudget < 0 {
		return fmt.Errorf("inference.daily_budget must not be negative, got %d", c.Inference.DailyBudget)
	}
	if c.Inference.Workers < 1 {
		return fmt.Errorf("inference.workers must be at least 1, got %d", c.Inference.Workers)
	}
	if c.Inference.MaxCandidateSize < 1 {
		return fmt.Errorf("inference.max_candidate_size must be at least 1, got %d", c.Inference.MaxCandidateSize)
	}

	if err := c.Scoring.Validate(); err != nil {
		return fmt.Errorf("scoring: %w", err)
	}

	if c.Replay.Enabled && c.Replay.Schedule == "" {
		return fmt.Errorf("replay.schedule is required when replay is enabled")
	}

	switch strings.ToLower(c.Tracing.Exporter) {
	case "", "none", "stdout":
	case "otlphttp":
		if c.Tracing.Endpoint == "" {
			return fmt.Errorf("tracing.endpoint is required for the otlphttp exporter")
		}
	default:
		return fmt.Errorf("tracing.exporter must be one of none, stdout, otlphttp, got %q", c.Tracing.Exporter)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be between 0 and 1, got %.2f", c.Tracing.SampleRatio)
	}

	return nil
}
