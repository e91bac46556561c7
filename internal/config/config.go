// Package config loads application configuration from an optional YAML file
// and PRREVIEWER_ environment variables.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, so db.path is read from
// PRREVIEWER_DB_PATH.
const EnvPrefix = "PRREVIEWER"

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds the validated application configuration.
type Config struct {
	ListenAddr string
	APIKey     string
	LogLevel   slog.Level
	LogFormat  string

	DB        DBConfig
	SecretKey []byte
	GitHub    GitHubConfig
	Anthropic AnthropicConfig
	Review    ReviewConfig
	Workflow  WorkflowConfig

	SlackWebhookURL string
}

// DBConfig selects the execution-record store.
type DBConfig struct {
	Driver string
	Path   string
	URL    string
}

// GitHubConfig configures the source-control provider.
type GitHubConfig struct {
	// Token is a fallback used when the credential store holds none.
	Token       string
	TokenSecret string
	BaseURL     string
	WebURL      string
}

// AnthropicConfig configures the inference provider.
type AnthropicConfig struct {
	APIKey       string
	APIKeySecret string
	Model        string
	BaseURL      string
}

// ReviewConfig bounds each inference call.
type ReviewConfig struct {
	MaxTokens   int
	Temperature float64
	Concurrency int
}

// WorkflowConfig tunes the orchestrator.
type WorkflowConfig struct {
	Workers       int
	StepTimeout   time.Duration
	SweepInterval time.Duration
}

// SetDefaults registers the default for every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", "127.0.0.1:8080")
	v.SetDefault("api_key", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")

	v.SetDefault("db.driver", DriverSQLite)
	v.SetDefault("db.path", "prreviewer.db")
	v.SetDefault("db.url", "")
	v.SetDefault("secret_key", "")

	v.SetDefault("github.token", "")
	v.SetDefault("github.token_secret", "github_token")
	v.SetDefault("github.base_url", "")
	v.SetDefault("github.web_url", "https://github.com")

	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.api_key_secret", "anthropic_api_key")
	v.SetDefault("anthropic.model", "claude-3-5-sonnet-20240620")
	v.SetDefault("anthropic.base_url", "")

	v.SetDefault("review.max_tokens", 1000)
	v.SetDefault("review.temperature", 0.5)
	v.SetDefault("review.concurrency", 4)

	v.SetDefault("workflow.workers", 4)
	v.SetDefault("workflow.step_timeout", "10m")
	v.SetDefault("workflow.sweep_interval", "30s")

	v.SetDefault("slack.webhook_url", "")
}

// NewViper returns a viper instance with defaults, environment binding, and
// the config file read. An explicit cfgFile must exist; the default
// $HOME/.config/prreviewer/config.yaml is optional.
func NewViper(cfgFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", cfgFile, err)
		}
		return v, nil
	}

	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "prreviewer"))
	}
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

// Load reads every key from v and returns a validated Config.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		ListenAddr: v.GetString("listen_addr"),
		APIKey:     v.GetString("api_key"),
		LogFormat:  strings.ToLower(v.GetString("log_format")),
		DB: DBConfig{
			Driver: strings.ToLower(v.GetString("db.driver")),
			Path:   v.GetString("db.path"),
			URL:    v.GetString("db.url"),
		},
		GitHub: GitHubConfig{
			Token:       v.GetString("github.token"),
			TokenSecret: v.GetString("github.token_secret"),
			BaseURL:     v.GetString("github.base_url"),
			WebURL:      strings.TrimSuffix(v.GetString("github.web_url"), "/"),
		},
		Anthropic: AnthropicConfig{
			APIKey:       v.GetString("anthropic.api_key"),
			APIKeySecret: v.GetString("anthropic.api_key_secret"),
			Model:        v.GetString("anthropic.model"),
			BaseURL:      v.GetString("anthropic.base_url"),
		},
		SlackWebhookURL: v.GetString("slack.webhook_url"),
	}

	if cfg.ListenAddr == "" {
		return nil, errors.New("listen_addr must not be empty")
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(v.GetString("log_level"))); err != nil {
		return nil, fmt.Errorf("log_level: %w", err)
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return nil, fmt.Errorf("log_format must be text or json, got %q", cfg.LogFormat)
	}

	switch cfg.DB.Driver {
	case DriverSQLite:
		if cfg.DB.Path == "" {
			return nil, errors.New("db.path must not be empty for the sqlite driver")
		}
	case DriverPostgres:
		if cfg.DB.URL == "" {
			return nil, errors.New("db.url is required for the postgres driver")
		}
	default:
		return nil, fmt.Errorf("db.driver must be sqlite or postgres, got %q", cfg.DB.Driver)
	}

	key, err := parseSecretKey(v.GetString("secret_key"))
	if err != nil {
		return nil, err
	}
	cfg.SecretKey = key

	if cfg.GitHub.TokenSecret == "" || cfg.Anthropic.APIKeySecret == "" {
		return nil, errors.New("github.token_secret and anthropic.api_key_secret must not be empty")
	}
	if cfg.Anthropic.Model == "" {
		return nil, errors.New("anthropic.model must not be empty")
	}

	if cfg.Review, err = loadReview(v); err != nil {
		return nil, err
	}
	if cfg.Workflow, err = loadWorkflow(v); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadReview(v *viper.Viper) (ReviewConfig, error) {
	r := ReviewConfig{
		MaxTokens:   v.GetInt("review.max_tokens"),
		Temperature: v.GetFloat64("review.temperature"),
		Concurrency: v.GetInt("review.concurrency"),
	}
	if r.MaxTokens < 1 {
		return r, fmt.Errorf("review.max_tokens must be positive, got %d", r.MaxTokens)
	}
	if r.Temperature < 0 || r.Temperature > 1 {
		return r, fmt.Errorf("review.temperature must be between 0 and 1, got %g", r.Temperature)
	}
	if r.Concurrency < 1 {
		return r, fmt.Errorf("review.concurrency must be positive, got %d", r.Concurrency)
	}
	return r, nil
}

func loadWorkflow(v *viper.Viper) (WorkflowConfig, error) {
	w := WorkflowConfig{Workers: v.GetInt("workflow.workers")}
	if w.Workers < 1 {
		return w, fmt.Errorf("workflow.workers must be positive, got %d", w.Workers)
	}

	var err error
	if w.StepTimeout, err = positiveDuration(v, "workflow.step_timeout"); err != nil {
		return w, err
	}
	if w.SweepInterval, err = positiveDuration(v, "workflow.sweep_interval"); err != nil {
		return w, err
	}
	return w, nil
}

func positiveDuration(v *viper.Viper, key string) (time.Duration, error) {
	raw := v.GetString(key)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid duration %q: %w", key, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, d)
	}
	return d, nil
}

// parseSecretKey decodes the hex-encoded AES-256 key. An empty value leaves
// the credential store disabled.
func parseSecretKey(raw string) ([]byte, error) {
	if raw == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("secret_key must be hex-encoded: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("secret_key must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// HasCredentialStore reports whether secrets can be read from the encrypted store.
func (c *Config) HasCredentialStore() bool {
	return len(c.SecretKey) == 32
}
