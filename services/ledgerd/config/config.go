package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"lendledger/storage"
)

const (
	defaultListen        = ":8470"
	defaultDataDir       = "data/ledgerd"
	defaultIdentityClaim = "sub"
	defaultClockSkew     = 2 * time.Minute
	defaultServiceName   = "ledgerd"
)

// Config captures the runtime settings for the ledger daemon.
type Config struct {
	ListenAddress  string              `yaml:"listen"`
	MaxConnections int                 `yaml:"max_connections"`
	DataDir        string              `yaml:"data_dir"`
	Storage        StorageConfig       `yaml:"storage"`
	Genesis        string              `yaml:"genesis"`
	Environment    string              `yaml:"env"`
	TLS            TLSConfig           `yaml:"tls"`
	Auth           AuthConfig          `yaml:"auth"`
	RateLimit      RateLimitConfig     `yaml:"rate_limit"`
	Quota          QuotaConfig         `yaml:"quota"`
	PausedModules  []string            `yaml:"paused_modules"`
	Journal        JournalConfig       `yaml:"journal"`
	Webhook        WebhookConfig       `yaml:"webhook"`
	Log            LogConfig           `yaml:"log"`
	Observability  ObservabilityConfig `yaml:"observability"`
}

// StorageConfig selects the persistent key-value backend.
type StorageConfig struct {
	Engine string `yaml:"engine"`
}

// TLSConfig describes the TLS material for the HTTP listener.
type TLSConfig struct {
	CertPath      string `yaml:"cert"`
	KeyPath       string `yaml:"key"`
	AllowInsecure bool   `yaml:"allow_insecure"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	HMACSecret    string        `yaml:"hmac_secret"`
	Issuer        string        `yaml:"issuer"`
	Audience      string        `yaml:"audience"`
	IdentityClaim string        `yaml:"identity_claim"`
	ClockSkew     time.Duration `yaml:"clock_skew"`
}

// RateLimitConfig bounds requests per client address.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// QuotaConfig bounds ledger calls per caller identity.
type QuotaConfig struct {
	MaxCallsPerMinute uint32 `yaml:"max_calls_per_minute"`
}

// JournalConfig selects the event journal database.
type JournalConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// WebhookConfig forwards committed ledger events to an external endpoint.
type WebhookConfig struct {
	URL     string   `yaml:"url"`
	Secret  string   `yaml:"secret"`
	Actions []string `yaml:"actions"`
}

// Enabled reports whether webhook delivery is configured.
func (cfg WebhookConfig) Enabled() bool {
	return cfg.URL != ""
}

// LogConfig enables a rotating log file next to stdout.
type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// ObservabilityConfig toggles metrics, tracing and request logs. ServiceName
// labels spans and log lines.
type ObservabilityConfig struct {
	Metrics     bool   `yaml:"metrics"`
	Tracing     bool   `yaml:"tracing"`
	LogRequests bool   `yaml:"log_requests"`
	ServiceName string `yaml:"service_name"`
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	cfg := Config{
		ListenAddress: defaultListen,
	}
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// StoragePath returns the on-disk location of the state database.
func (cfg Config) StoragePath() string {
	switch storage.Engine(cfg.Storage.Engine) {
	case storage.EngineBolt:
		return filepath.Join(cfg.DataDir, "state.db")
	default:
		return filepath.Join(cfg.DataDir, "state")
	}
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListen
	}
	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir
	}
	cfg.Storage.Engine = strings.ToLower(strings.TrimSpace(cfg.Storage.Engine))
	if cfg.Storage.Engine == "" {
		cfg.Storage.Engine = string(storage.EngineLevelDB)
	}
	cfg.Genesis = strings.TrimSpace(cfg.Genesis)
	cfg.Environment = strings.TrimSpace(cfg.Environment)
	cfg.TLS.normalize()
	cfg.Auth.normalize()

	modules := make([]string, 0, len(cfg.PausedModules))
	for _, module := range cfg.PausedModules {
		if trimmed := strings.ToLower(strings.TrimSpace(module)); trimmed != "" {
			modules = append(modules, trimmed)
		}
	}
	cfg.PausedModules = modules

	cfg.Journal.Driver = strings.ToLower(strings.TrimSpace(cfg.Journal.Driver))
	cfg.Journal.DSN = strings.TrimSpace(cfg.Journal.DSN)
	if cfg.Journal.Driver == "" {
		cfg.Journal.Driver = "sqlite"
	}
	if cfg.Journal.Driver == "sqlite" && cfg.Journal.DSN == "" {
		cfg.Journal.DSN = filepath.Join(cfg.DataDir, "journal.db")
	}
	cfg.Webhook.URL = strings.TrimSpace(cfg.Webhook.URL)
	cfg.Webhook.Secret = strings.TrimSpace(cfg.Webhook.Secret)
	if env := strings.TrimSpace(os.Getenv("LEDGERD_WEBHOOK_SECRET")); env != "" {
		cfg.Webhook.Secret = env
	}
	cfg.Log.File = strings.TrimSpace(cfg.Log.File)
	cfg.Observability.ServiceName = strings.TrimSpace(cfg.Observability.ServiceName)
	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = defaultServiceName
	}
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	switch storage.Engine(cfg.Storage.Engine) {
	case storage.EngineLevelDB, storage.EngineBolt, storage.EngineMemory:
	default:
		return fmt.Errorf("storage: unsupported engine %q", cfg.Storage.Engine)
	}
	if err := cfg.TLS.validate(); err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	if err := cfg.Auth.validate(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if cfg.MaxConnections < 0 {
		return fmt.Errorf("max_connections must not be negative")
	}
	if cfg.RateLimit.RequestsPerMinute < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit: values must not be negative")
	}
	switch cfg.Journal.Driver {
	case "sqlite":
	case "postgres", "mysql":
		if cfg.Journal.DSN == "" {
			return fmt.Errorf("journal: dsn required for %s", cfg.Journal.Driver)
		}
	default:
		return fmt.Errorf("journal: unsupported driver %q", cfg.Journal.Driver)
	}
	if cfg.Webhook.Enabled() && cfg.Webhook.Secret == "" {
		return fmt.Errorf("webhook: secret required when url is set")
	}
	if cfg.Log.MaxSizeMB < 0 || cfg.Log.MaxBackups < 0 || cfg.Log.MaxAgeDays < 0 {
		return fmt.Errorf("log: rotation values must not be negative")
	}
	return nil
}

func (cfg *TLSConfig) normalize() {
	if cfg == nil {
		return
	}
	cfg.CertPath = strings.TrimSpace(cfg.CertPath)
	cfg.KeyPath = strings.TrimSpace(cfg.KeyPath)
}

func (cfg TLSConfig) validate() error {
	hasCert := cfg.CertPath != ""
	hasKey := cfg.KeyPath != ""
	if hasCert != hasKey {
		return fmt.Errorf("cert and key must either both be provided or both be empty")
	}
	if !cfg.AllowInsecure && !hasCert {
		return fmt.Errorf("cert and key are required unless allow_insecure=true")
	}
	return nil
}

// Enabled reports whether the listener serves TLS.
func (cfg TLSConfig) Enabled() bool {
	return cfg.CertPath != "" && cfg.KeyPath != ""
}

func (cfg *AuthConfig) normalize() {
	if cfg == nil {
		return
	}
	cfg.HMACSecret = strings.TrimSpace(cfg.HMACSecret)
	if env := strings.TrimSpace(os.Getenv("LEDGERD_HMAC_SECRET")); env != "" {
		cfg.HMACSecret = env
	}
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)
	cfg.Audience = strings.TrimSpace(cfg.Audience)
	cfg.IdentityClaim = strings.TrimSpace(cfg.IdentityClaim)
	if cfg.IdentityClaim == "" {
		cfg.IdentityClaim = defaultIdentityClaim
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = defaultClockSkew
	}
}

func (cfg AuthConfig) validate() error {
	if cfg.HMACSecret == "" {
		return fmt.Errorf("hmac_secret is required")
	}
	if len(cfg.HMACSecret) < 16 {
		return fmt.Errorf("hmac_secret must be at least 16 characters")
	}
	return nil
}
