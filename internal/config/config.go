// Package config provides application configuration with multi-source priority.
//
// Sources (highest to lowest):
//  1. Environment variables
//  2. Config file (~/.repoquery/config.yaml, then ./config.yaml)
//  3. Defaults
//
// Sensitive fields (Postgres password) are masked in MarshalJSON and String,
// so a Config can be logged safely.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

var (
	// ErrMissingAPIKey indicates the generative backend API key is not set.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidDimension indicates the embedding dimension is out of range.
	ErrInvalidDimension = errors.New("invalid embedding dimension")

	// ErrInvalidIndexRoot indicates the index artifact root is not set.
	ErrInvalidIndexRoot = errors.New("invalid index root")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidQuota indicates a tier quota is negative.
	ErrInvalidQuota = errors.New("invalid tier quota")
)

const (
	// DefaultEmbedderModel is the Gemini embedding model used for queries.
	// The offline index must be built with the same model and dimension or
	// similarity scores are meaningless.
	DefaultEmbedderModel = "gemini-embedding-001"

	// DefaultDimension matches the dimension the index artifacts are built with.
	DefaultDimension = 1024

	// DefaultTenant is the catalog partition used when a request names none.
	DefaultTenant = "aws-samples"

	// DefaultTopK is the result count used when a request names none.
	DefaultTopK = 5
)

// Config stores application configuration.
type Config struct {
	// Generative model configuration
	ModelName   string  `mapstructure:"model_name" json:"model_name"`
	Temperature float32 `mapstructure:"temperature" json:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens" json:"max_tokens"`

	// Embedding configuration
	EmbedderModel string `mapstructure:"embedder_model" json:"embedder_model"`
	Dimension     int    `mapstructure:"dimension" json:"dimension"`

	// Catalog configuration
	IndexRoot     string `mapstructure:"index_root" json:"index_root"`
	DefaultTenant string `mapstructure:"default_tenant" json:"default_tenant"`
	DefaultTopK   int    `mapstructure:"default_top_k" json:"default_top_k"`

	// Usage limiter configuration
	AnonymousQuota int    `mapstructure:"anonymous_quota" json:"anonymous_quota"`
	FreeQuota      int    `mapstructure:"free_quota" json:"free_quota"`
	UpgradeURL     string `mapstructure:"upgrade_url" json:"upgrade_url"`

	// Storage configuration
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"postgres_password"` // SENSITIVE: masked in MarshalJSON
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`

	// Serve configuration
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"`
	RateBurst   int      `mapstructure:"rate_burst" json:"rate_burst"`

	// Observability configuration
	OTLP OTLPConfig `mapstructure:"otlp" json:"otlp"`
}

// OTLPConfig configures trace export to a local collector agent.
type OTLPConfig struct {
	AgentHost   string `mapstructure:"agent_host" json:"agent_host"`
	Environment string `mapstructure:"environment" json:"environment"`
	ServiceName string `mapstructure:"service_name" json:"service_name"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > defaults.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".repoquery")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("model_name", "gemini-2.5-flash")
	viper.SetDefault("temperature", 0.7)
	viper.SetDefault("max_tokens", 500)

	viper.SetDefault("embedder_model", DefaultEmbedderModel)
	viper.SetDefault("dimension", DefaultDimension)

	viper.SetDefault("index_root", filepath.Join("data", "indexes"))
	viper.SetDefault("default_tenant", DefaultTenant)
	viper.SetDefault("default_top_k", DefaultTopK)

	viper.SetDefault("anonymous_quota", 3)
	viper.SetDefault("free_quota", 10)
	viper.SetDefault("upgrade_url", "https://repoquery.dev/upgrade")

	viper.SetDefault("postgres_host", "localhost")
	viper.SetDefault("postgres_port", 5432)
	viper.SetDefault("postgres_user", "repoquery")
	viper.SetDefault("postgres_password", "repoquery_dev_password")
	viper.SetDefault("postgres_db_name", "repoquery")
	viper.SetDefault("postgres_ssl_mode", "disable")

	viper.SetDefault("cors_origins", []string{"*"})
	viper.SetDefault("trust_proxy", false)
	viper.SetDefault("rate_burst", 60)

	viper.SetDefault("otlp.agent_host", "localhost:4318")
	viper.SetDefault("otlp.environment", "dev")
	viper.SetDefault("otlp.service_name", "repoquery")
}

// bindEnvVariables binds environment overrides explicitly. GEMINI_API_KEY is
// read directly by the genkit plugin, not via viper; Validate only checks its
// presence.
func bindEnvVariables() {
	mustBind := func(key, envVar string) {
		if err := viper.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("model_name", "REPOQUERY_MODEL_NAME")
	mustBind("embedder_model", "REPOQUERY_EMBEDDER_MODEL")
	mustBind("index_root", "REPOQUERY_INDEX_ROOT")
	mustBind("default_tenant", "REPOQUERY_DEFAULT_TENANT")
	mustBind("cors_origins", "REPOQUERY_CORS_ORIGINS")
	mustBind("trust_proxy", "REPOQUERY_TRUST_PROXY")
	mustBind("rate_burst", "REPOQUERY_RATE_BURST")
	mustBind("otlp.agent_host", "OTLP_AGENT_HOST")
}

// parseDatabaseURL applies DATABASE_URL on top of the individual Postgres
// fields when set. The URL form wins because it is what deploy environments
// inject.
func (c *Config) parseDatabaseURL() error {
	raw := os.Getenv("DATABASE_URL")
	if raw == "" {
		return nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return fmt.Errorf("unsupported DATABASE_URL scheme %q", u.Scheme)
	}

	c.PostgresHost = u.Hostname()
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid DATABASE_URL port: %w", err)
		}
		c.PostgresPort = port
	}
	if u.User != nil {
		c.PostgresUser = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			c.PostgresPassword = pw
		}
	}
	if db := filepath.Base(u.Path); db != "." && db != "/" {
		c.PostgresDBName = db
	}
	if mode := u.Query().Get("sslmode"); mode != "" {
		c.PostgresSSLMode = mode
	}
	return nil
}

// Validate checks configuration invariants. Called by Load; exported so
// serve-mode can re-check after flag overrides.
func (c *Config) Validate() error {
	if c.Dimension < 1 || c.Dimension > 8192 {
		return fmt.Errorf("%w: %d", ErrInvalidDimension, c.Dimension)
	}
	if c.IndexRoot == "" {
		return ErrInvalidIndexRoot
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.AnonymousQuota < 0 || c.FreeQuota < 0 {
		return ErrInvalidQuota
	}
	return nil
}

// ValidateServe checks requirements that only apply when serving queries:
// the generative backend needs credentials.
func (c *Config) ValidateServe() error {
	if os.Getenv("GEMINI_API_KEY") == "" {
		return fmt.Errorf("%w: GEMINI_API_KEY not set", ErrMissingAPIKey)
	}
	return nil
}

// ConnString returns the pgx connection string for the configured database.
func (c *Config) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.PostgresUser),
		url.QueryEscape(c.PostgresPassword),
		c.PostgresHost, c.PostgresPort, c.PostgresDBName, c.PostgresSSLMode)
}

// FullModelName returns the provider-qualified model name for genkit,
// e.g. "googleai/gemini-2.5-flash". A name already containing "/" is
// returned as-is.
func (c *Config) FullModelName() string {
	if strings.Contains(c.ModelName, "/") {
		return c.ModelName
	}
	return "googleai/" + c.ModelName
}

// maskedValue is the placeholder for masked sensitive data.
const maskedValue = "████████"

// maskSecret masks a secret for safe logging. Short secrets are fully masked
// to prevent substring matching; longer ones keep two characters at each end
// for debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with sensitive field masking.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.PostgresPassword = maskSecret(a.PostgresPassword)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
