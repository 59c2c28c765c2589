package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"levelbot/adapters/redis"
	"levelbot/adapters/sqlx"
)

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Config holds the complete application configuration
type Config struct {
	Environment Environment `json:"environment" yaml:"environment" env:"LEVELBOT_ENV"`

	// Server configuration
	Server ServerConfig `json:"server" yaml:"server"`

	// Storage configuration
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// Leveling engine tuning
	Leveling LevelingConfig `json:"leveling" yaml:"leveling"`

	// Logging configuration
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Security configuration
	Security SecurityConfig `json:"security" yaml:"security"`

	// Outbound event webhooks
	Webhooks WebhooksConfig `json:"webhooks" yaml:"webhooks"`

	envOverrides []string
}

// EnvOverrides lists the environment variables applied on top of defaults
// and file values.
func (c *Config) EnvOverrides() []string { return c.envOverrides }

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Address           string        `json:"address" yaml:"address" env:"LEVELBOT_SERVER_ADDR"`
	PathPrefix        string        `json:"path_prefix" yaml:"path_prefix" env:"LEVELBOT_SERVER_PATH_PREFIX"`
	CORSOrigin        string        `json:"cors_origin" yaml:"cors_origin" env:"LEVELBOT_SERVER_CORS_ORIGIN"`
	ReadTimeout       time.Duration `json:"read_timeout" yaml:"read_timeout" env:"LEVELBOT_SERVER_READ_TIMEOUT"`
	WriteTimeout      time.Duration `json:"write_timeout" yaml:"write_timeout" env:"LEVELBOT_SERVER_WRITE_TIMEOUT"`
	IdleTimeout       time.Duration `json:"idle_timeout" yaml:"idle_timeout" env:"LEVELBOT_SERVER_IDLE_TIMEOUT"`
	ReadHeaderTimeout time.Duration `json:"read_header_timeout" yaml:"read_header_timeout" env:"LEVELBOT_SERVER_READ_HEADER_TIMEOUT"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout" yaml:"shutdown_timeout" env:"LEVELBOT_SERVER_SHUTDOWN_TIMEOUT"`
}

// StorageConfig holds storage adapter configuration
type StorageConfig struct {
	Adapter string       `json:"adapter" yaml:"adapter" env:"LEVELBOT_STORAGE_ADAPTER"`
	Redis   redis.Config `json:"redis,omitempty" yaml:"redis"`
	SQL     sqlx.Config  `json:"sql,omitempty" yaml:"sql"`
	File    FileConfig   `json:"file,omitempty" yaml:"file"`
}

// FileConfig holds JSON file storage configuration
type FileConfig struct {
	Dir string `json:"dir" yaml:"dir" env:"LEVELBOT_STORAGE_FILE_DIR"`
}

// LevelingConfig tunes cooldowns, the card cache and event dispatch.
type LevelingConfig struct {
	GlobalCooldown time.Duration `json:"global_cooldown" yaml:"global_cooldown" env:"LEVELBOT_LEVELING_GLOBAL_COOLDOWN"`
	GroupCooldown  time.Duration `json:"group_cooldown" yaml:"group_cooldown" env:"LEVELBOT_LEVELING_GROUP_COOLDOWN"`
	CardCacheSize  int           `json:"card_cache_size" yaml:"card_cache_size" env:"LEVELBOT_LEVELING_CARD_CACHE_SIZE"`
	CardCacheTTL   time.Duration `json:"card_cache_ttl" yaml:"card_cache_ttl" env:"LEVELBOT_LEVELING_CARD_CACHE_TTL"`
	// CardDir receives rendered card files; empty keeps cards in memory.
	CardDir  string `json:"card_dir" yaml:"card_dir" env:"LEVELBOT_LEVELING_CARD_DIR"`
	Dispatch string `json:"dispatch" yaml:"dispatch" env:"LEVELBOT_LEVELING_DISPATCH"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string            `json:"level" yaml:"level" env:"LEVELBOT_LOG_LEVEL"`
	Format     string            `json:"format" yaml:"format" env:"LEVELBOT_LOG_FORMAT"`
	Output     string            `json:"output" yaml:"output" env:"LEVELBOT_LOG_OUTPUT"`
	Attributes map[string]string `json:"attributes,omitempty" yaml:"attributes" env:"LEVELBOT_LOG_ATTRIBUTES"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	EnableRateLimit bool            `json:"enable_rate_limit" yaml:"enable_rate_limit" env:"LEVELBOT_SECURITY_RATE_LIMIT_ENABLED"`
	RateLimit       RateLimitConfig `json:"rate_limit,omitempty" yaml:"rate_limit"`
	APIKeys         []string        `json:"api_keys,omitempty" yaml:"api_keys" env:"LEVELBOT_SECURITY_API_KEYS"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute" env:"LEVELBOT_SECURITY_RATE_LIMIT_RPM"`
	BurstSize         int `json:"burst_size" yaml:"burst_size" env:"LEVELBOT_SECURITY_RATE_LIMIT_BURST"`
}

// WebhooksConfig lists endpoints receiving leveling events.
type WebhooksConfig struct {
	Endpoints  []string      `json:"endpoints,omitempty" yaml:"endpoints" env:"LEVELBOT_WEBHOOK_ENDPOINTS"`
	EventTypes []string      `json:"event_types,omitempty" yaml:"event_types" env:"LEVELBOT_WEBHOOK_EVENT_TYPES"`
	Secret     string        `json:"secret,omitempty" yaml:"secret" env:"LEVELBOT_WEBHOOK_SECRET"`
	Timeout    time.Duration `json:"timeout" yaml:"timeout" env:"LEVELBOT_WEBHOOK_TIMEOUT"`
	Retries    int           `json:"retries" yaml:"retries" env:"LEVELBOT_WEBHOOK_RETRIES"`
}

// Validate validates security settings.
func (s SecurityConfig) Validate() error {
	var errs []string
	if s.EnableRateLimit {
		if s.RateLimit.RequestsPerMinute <= 0 {
			errs = append(errs, "rate_limit.requests_per_minute must be > 0 when rate limiting is enabled")
		}
		if s.RateLimit.BurstSize <= 0 {
			errs = append(errs, "rate_limit.burst_size must be > 0 when rate limiting is enabled")
		}
	}
	for i, key := range s.APIKeys {
		if strings.TrimSpace(key) == "" {
			errs = append(errs, fmt.Sprintf("api_keys[%d] is empty", i))
		}
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// LoadDotEnv loads KEY=value pairs from the given files (".env" by default)
// into the process environment without overriding variables already set.
// Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load loads configuration from environment variables and validates it
func Load() (*Config, error) {
	cfg := DefaultConfig()

	// Load from environment variables
	applied, err := loadFromEnv(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	cfg.envOverrides = applied

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

var configExtensions = []string{".json", ".yaml", ".yml"}

// validateConfigPath validates that the config file path is safe
func validateConfigPath(path string) error {
	if path == "" {
		return errors.New("config file path cannot be empty")
	}

	cleanPath := filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(cleanPath))
	known := false
	for _, e := range configExtensions {
		known = known || ext == e
	}
	if !known {
		return fmt.Errorf("config file must have one of the extensions %s", strings.Join(configExtensions, ", "))
	}

	if _, err := os.Stat(cleanPath); err != nil {
		return fmt.Errorf("config file not accessible: %w", err)
	}

	return nil
}

// LoadFromFile loads configuration from a JSON or YAML file
func LoadFromFile(path string) (*Config, error) {
	// Validate the path for security
	if err := validateConfigPath(path); err != nil {
		return nil, fmt.Errorf("invalid config file path: %w", err)
	}

	// Open the file safely after validation
	file, err := os.Open(path) // #nosec G304 - Path validated above
	if err != nil {
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	// Environment variables override file values
	applied, err := loadFromEnv(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}
	cfg.envOverrides = applied

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development
func DefaultConfig() *Config {
	return &Config{
		Environment: EnvDevelopment,
		Server: ServerConfig{
			Address:           ":8080",
			PathPrefix:        "/api",
			CORSOrigin:        "*",
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
		Storage: StorageConfig{
			Adapter: "memory",
			Redis:   redis.DefaultConfig(),
			SQL:     sqlx.DefaultConfig(sqlx.DriverPostgres),
			File: FileConfig{
				Dir: "./data",
			},
		},
		Leveling: LevelingConfig{
			GlobalCooldown: 60 * time.Second,
			GroupCooldown:  30 * time.Second,
			CardCacheSize:  50,
			CardCacheTTL:   5 * time.Minute,
			Dispatch:       "async",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			EnableRateLimit: false,
			RateLimit: RateLimitConfig{
				RequestsPerMinute: 60,
				BurstSize:         10,
			},
			APIKeys: []string{},
		},
		Webhooks: WebhooksConfig{
			Timeout: 2 * time.Second,
			Retries: 1,
		},
	}
}

// Validate validates the configuration and returns detailed error messages
func (c *Config) Validate() error {
	var errs []string

	// Validate environment
	if c.Environment == "" {
		errs = append(errs, "environment cannot be empty")
	}

	// Validate server config
	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	// Validate storage config
	if err := c.Storage.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("storage config: %v", err))
	}

	if err := c.Leveling.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("leveling config: %v", err))
	}

	// Validate logging config
	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("logging config: %v", err))
	}

	// Validate security config
	if err := c.Security.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("security config: %v", err))
	}

	if err := c.Webhooks.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("webhooks config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

const redacted = "[REDACTED]"

// String returns a JSON representation of the config (with secrets redacted)
func (c *Config) String() string {
	// Create a copy for redaction
	cfg := *c

	// Redact sensitive information
	if cfg.Storage.SQL.DSN != "" {
		cfg.Storage.SQL.DSN = redacted
	}
	if cfg.Storage.Redis.Password != "" {
		cfg.Storage.Redis.Password = redacted
	}
	if cfg.Webhooks.Secret != "" {
		cfg.Webhooks.Secret = redacted
	}
	if len(cfg.Security.APIKeys) > 0 {
		keys := make([]string, len(cfg.Security.APIKeys))
		for i := range keys {
			keys[i] = redacted
		}
		cfg.Security.APIKeys = keys
	}

	data, _ := json.MarshalIndent(cfg, "", "  ")
	return string(data)
}
