package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	// Test loading default config
	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Verify defaults
	assert.Equal(t, EnvDevelopment, cfg.Environment)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "memory", cfg.Storage.Adapter)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 60*time.Second, cfg.Leveling.GlobalCooldown)
	assert.Equal(t, 30*time.Second, cfg.Leveling.GroupCooldown)
	assert.Equal(t, "async", cfg.Leveling.Dispatch)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("LEVELBOT_STORAGE_ADAPTER", "redis")
	t.Setenv("LEVELBOT_REDIS_ADDR", "cache:6380")
	t.Setenv("LEVELBOT_LEVELING_GROUP_COOLDOWN", "45s")
	t.Setenv("LEVELBOT_WEBHOOK_ENDPOINTS", "http://a.example/hook, https://b.example/hook")
	t.Setenv("LEVELBOT_LOG_ATTRIBUTES", "service=levelbot,region=eu")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.Storage.Adapter)
	assert.Equal(t, "cache:6380", cfg.Storage.Redis.Addr)
	assert.Equal(t, 45*time.Second, cfg.Leveling.GroupCooldown)
	assert.Equal(t, []string{"http://a.example/hook", "https://b.example/hook"}, cfg.Webhooks.Endpoints)
	assert.Equal(t, map[string]string{"service": "levelbot", "region": "eu"}, cfg.Logging.Attributes)
}

func TestLoadRejectsBadEnv(t *testing.T) {
	t.Setenv("LEVELBOT_LEVELING_GLOBAL_COOLDOWN", "soon")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LEVELBOT_LEVELING_GLOBAL_COOLDOWN")
}

func TestLoadFromFile(t *testing.T) {
	// Create a temporary config file
	configContent := `{
		"environment": "testing",
		"server": {
			"address": ":9090"
		},
		"storage": {
			"adapter": "memory"
		}
	}`

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(configContent), 0o600))

	// Load config from file
	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Verify loaded values
	assert.Equal(t, EnvTesting, cfg.Environment)
	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, "memory", cfg.Storage.Adapter)
	// Unset sections keep their defaults
	assert.Equal(t, 50, cfg.Leveling.CardCacheSize)
}

func TestLoadFromYAMLFile(t *testing.T) {
	configContent := `
environment: staging
storage:
  adapter: sql
  sql:
    driver: mysql
    dsn: "bot:secret@tcp(db:3306)/levelbot"
leveling:
  dispatch: sync
  card_dir: /var/cards
webhooks:
  endpoints:
    - https://hooks.example/levelbot
  secret: s3cret
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(configContent), 0o600))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, EnvStaging, cfg.Environment)
	assert.Equal(t, "sql", cfg.Storage.Adapter)
	assert.EqualValues(t, "mysql", cfg.Storage.SQL.Driver)
	assert.Equal(t, "bot:secret@tcp(db:3306)/levelbot", cfg.Storage.SQL.DSN)
	assert.Equal(t, "sync", cfg.Leveling.Dispatch)
	assert.Equal(t, "/var/cards", cfg.Leveling.CardDir)
	assert.Equal(t, []string{"https://hooks.example/levelbot"}, cfg.Webhooks.Endpoints)
	assert.Equal(t, 60*time.Second, cfg.Leveling.GlobalCooldown)
}

func TestLoadFromFileInvalidContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"storage": {"adapter": "mongo"}}`), 0o600))

	_, err := LoadFromFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "adapter must be one of")

	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o600))
	_, err = LoadFromFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse")
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("LEVELBOT_TEST_DOTENV=from-file\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("LEVELBOT_TEST_DOTENV") })

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from-file", os.Getenv("LEVELBOT_TEST_DOTENV"))

	// Missing files are not an error
	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env")))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError string
	}{
		{
			name:   "defaults",
			mutate: func(*Config) {},
		},
		{
			name:        "empty environment",
			mutate:      func(c *Config) { c.Environment = "" },
			expectError: "environment cannot be empty",
		},
		{
			name:        "empty server address",
			mutate:      func(c *Config) { c.Server.Address = "" },
			expectError: "address cannot be empty",
		},
		{
			name:        "unknown storage adapter",
			mutate:      func(c *Config) { c.Storage.Adapter = "mongo" },
			expectError: "adapter must be one of",
		},
		{
			name: "file adapter without dir",
			mutate: func(c *Config) {
				c.Storage.Adapter = "file"
				c.Storage.File.Dir = ""
			},
			expectError: "dir cannot be empty",
		},
		{
			name: "sql adapter without dsn",
			mutate: func(c *Config) {
				c.Storage.Adapter = "sql"
				c.Storage.SQL.DSN = ""
			},
			expectError: "dsn cannot be empty",
		},
		{
			name:        "negative cooldown",
			mutate:      func(c *Config) { c.Leveling.GlobalCooldown = -time.Second },
			expectError: "global_cooldown cannot be negative",
		},
		{
			name:        "zero cooldowns allowed",
			mutate:      func(c *Config) { c.Leveling.GlobalCooldown, c.Leveling.GroupCooldown = 0, 0 },
			expectError: "",
		},
		{
			name:        "unknown dispatch mode",
			mutate:      func(c *Config) { c.Leveling.Dispatch = "batch" },
			expectError: "dispatch must be one of",
		},
		{
			name:        "invalid log level",
			mutate:      func(c *Config) { c.Logging.Level = "verbose" },
			expectError: "level must be one of",
		},
		{
			name: "rate limit without budget",
			mutate: func(c *Config) {
				c.Security.EnableRateLimit = true
				c.Security.RateLimit.RequestsPerMinute = 0
			},
			expectError: "requests_per_minute",
		},
		{
			name:        "webhook endpoint without scheme",
			mutate:      func(c *Config) { c.Webhooks.Endpoints = []string{"hooks.example"} },
			expectError: "endpoints[0]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.expectError == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func TestConfigStringRedactsSecrets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.SQL.DSN = "postgres://bot:hunter2@db/levelbot"
	cfg.Storage.Redis.Password = "redis-pass"
	cfg.Webhooks.Secret = "hook-secret"
	cfg.Security.APIKeys = []string{"key-one"}

	out := cfg.String()
	for _, secret := range []string{"hunter2", "redis-pass", "hook-secret", "key-one"} {
		assert.False(t, strings.Contains(out, secret), "leaked %s", secret)
	}
	assert.Contains(t, out, redacted)
	// The receiver is untouched
	assert.Equal(t, []string{"key-one"}, cfg.Security.APIKeys)
}

func TestValidateConfigPath(t *testing.T) {
	dir := t.TempDir()
	write := func(name string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte("{}"), 0o600))
		return p
	}

	tests := []struct {
		name        string
		path        string
		expectError bool
	}{
		{name: "valid json file", path: write("config.json")},
		{name: "valid yaml file", path: write("config.yaml")},
		{name: "valid yml file", path: write("config.yml")},
		{name: "empty path", path: "", expectError: true},
		{name: "path traversal", path: "../../../etc/passwd", expectError: true},
		{name: "unsupported extension", path: write("config.txt"), expectError: true},
		{name: "nonexistent file", path: filepath.Join(dir, "nonexistent.json"), expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateConfigPath(tt.path)
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
