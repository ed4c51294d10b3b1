package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
api:
  rest_url: https://api.example.com/v1
  ws_url: wss://ws.example.com/feed
  token: abc
  rate_limit: 10
feed:
  heartbeat_interval: 15s
  keepalive_message: '{"type":"ping"}'
buffers:
  price_flush_interval: 200ms
candles:
  day_offset: 9h
  default_range: 1W
database:
  postgres:
    host: localhost
    port: 5433
    name: prefs
    user: testuser
    password: testpass
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.API.RestURL != "https://api.example.com/v1" {
		t.Errorf("API.RestURL = %q, want %q", cfg.API.RestURL, "https://api.example.com/v1")
	}
	if cfg.API.Token != "abc" {
		t.Errorf("API.Token = %q, want %q", cfg.API.Token, "abc")
	}
	if cfg.API.RateLimit != 10 {
		t.Errorf("API.RateLimit = %v, want 10", cfg.API.RateLimit)
	}
	if cfg.Feed.HeartbeatInterval != 15*time.Second {
		t.Errorf("Feed.HeartbeatInterval = %v, want 15s", cfg.Feed.HeartbeatInterval)
	}
	if cfg.Feed.KeepaliveMessage != `{"type":"ping"}` {
		t.Errorf("Feed.KeepaliveMessage = %q", cfg.Feed.KeepaliveMessage)
	}
	if cfg.Buffers.PriceFlushInterval != 200*time.Millisecond {
		t.Errorf("Buffers.PriceFlushInterval = %v, want 200ms", cfg.Buffers.PriceFlushInterval)
	}
	if cfg.Candles.DayOffset != 9*time.Hour {
		t.Errorf("Candles.DayOffset = %v, want 9h", cfg.Candles.DayOffset)
	}
	if cfg.Database.Postgres.Port != 5433 {
		t.Errorf("Database.Postgres.Port = %d, want 5433", cfg.Database.Postgres.Port)
	}
	if !cfg.Database.Enabled() {
		t.Error("Database.Enabled() = false, want true")
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_API_TOKEN", "secret123")

	yaml := `
api:
  rest_url: https://api.example.com
  ws_url: wss://ws.example.com
  token: ${TEST_API_TOKEN}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.API.Token != "secret123" {
		t.Errorf("API.Token = %q, want %q", cfg.API.Token, "secret123")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("MARKETSYNC_TEST_TOKEN=fromfile\n"), 0644); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("MARKETSYNC_TEST_TOKEN") })

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), envPath); err != nil {
		t.Fatalf("LoadDotEnv failed: %v", err)
	}

	path := writeTempFile(t, "api:\n  token: ${MARKETSYNC_TEST_TOKEN}\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.API.Token != "fromfile" {
		t.Errorf("API.Token = %q, want %q", cfg.API.Token, "fromfile")
	}
}

func TestLoadDotEnvKeepsExisting(t *testing.T) {
	t.Setenv("MARKETSYNC_TEST_EXISTING", "process")

	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	os.WriteFile(envPath, []byte("MARKETSYNC_TEST_EXISTING=file\n"), 0644)

	if err := LoadDotEnv(envPath); err != nil {
		t.Fatalf("LoadDotEnv failed: %v", err)
	}
	if got := os.Getenv("MARKETSYNC_TEST_EXISTING"); got != "process" {
		t.Errorf("env = %q, want %q", got, "process")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
api:
  rest_url: https://api.example.com
  ws_url: wss://ws.example.com
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.API.Timeout != DefaultAPITimeout {
		t.Errorf("API.Timeout = %v, want %v", cfg.API.Timeout, DefaultAPITimeout)
	}
	if cfg.Buffers.PriceFlushInterval != 250*time.Millisecond {
		t.Errorf("Buffers.PriceFlushInterval = %v, want 250ms", cfg.Buffers.PriceFlushInterval)
	}
	if cfg.Refresh.Interval != 750*time.Millisecond {
		t.Errorf("Refresh.Interval = %v, want 750ms", cfg.Refresh.Interval)
	}
	if cfg.Candles.PageSize != 300 {
		t.Errorf("Candles.PageSize = %d, want 300", cfg.Candles.PageSize)
	}
	if cfg.Feed.ReconnectMaxDelay != DefaultReconnectMaxDelay {
		t.Errorf("Feed.ReconnectMaxDelay = %v, want %v", cfg.Feed.ReconnectMaxDelay, DefaultReconnectMaxDelay)
	}
	if cfg.Refresh.SnapshotPollInterval != 0 {
		t.Errorf("Refresh.SnapshotPollInterval = %v, want 0", cfg.Refresh.SnapshotPollInterval)
	}
	if cfg.API.RateBurst != 0 {
		t.Errorf("API.RateBurst = %d, want 0 without a rate limit", cfg.API.RateBurst)
	}
	if cfg.Database.Enabled() || cfg.Database.Postgres.Port != 0 {
		t.Error("database defaults should not apply when no host is set")
	}
}

func TestLoadAndValidate(t *testing.T) {
	path := writeTempFile(t, "api:\n  ws_url: wss://ws.example.com\n")

	if _, err := LoadAndValidate(path); err == nil {
		t.Fatal("LoadAndValidate should fail without rest_url")
	}
}

func TestLoadExampleConfig(t *testing.T) {
	t.Setenv("MARKETSYNC_TOKEN", "secret")
	t.Setenv("MARKETSYNC_DB_HOST", "")
	t.Setenv("MARKETSYNC_REDIS_ADDR", "")

	cfg, err := LoadAndValidate(filepath.Join("..", "..", "configs", "marketsync.example.yaml"))
	if err != nil {
		t.Fatalf("LoadAndValidate() error = %v", err)
	}
	if cfg.API.Token != "secret" {
		t.Errorf("API.Token = %q, want %q", cfg.API.Token, "secret")
	}
	if cfg.Database.Enabled() {
		t.Error("Database.Enabled() = true with empty host")
	}
	if cfg.Buffers.PriceFlushInterval != 250*time.Millisecond {
		t.Errorf("Buffers.PriceFlushInterval = %v, want 250ms", cfg.Buffers.PriceFlushInterval)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load should fail for a missing file")
	}
}

func validConfig() *Config {
	cfg := Default()
	cfg.API.RestURL = "https://api.example.com"
	cfg.API.WSURL = "wss://ws.example.com"
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:    "missing rest url",
			mutate:  func(c *Config) { c.API.RestURL = "" },
			wantErr: "api.rest_url is required",
		},
		{
			name:    "wrong ws scheme",
			mutate:  func(c *Config) { c.API.WSURL = "https://ws.example.com" },
			wantErr: `api.ws_url must be an absolute ws/wss URL, got "https://ws.example.com"`,
		},
		{
			name: "max delay below base",
			mutate: func(c *Config) {
				c.Feed.ReconnectBaseDelay = 10 * time.Second
				c.Feed.ReconnectMaxDelay = time.Second
			},
			wantErr: "feed.reconnect_max_delay (1s) cannot be less than reconnect_base_delay (10s)",
		},
		{
			name:    "bad range",
			mutate:  func(c *Config) { c.Candles.DefaultRange = "2D" },
			wantErr: `candles.default_range must be one of [1D 1W 1M 3M 1Y ALL], got "2D"`,
		},
		{
			name:    "lowercase range",
			mutate:  func(c *Config) { c.Candles.DefaultRange = "1w" },
			wantErr: "",
		},
		{
			name:    "day offset out of range",
			mutate:  func(c *Config) { c.Candles.DayOffset = 15 * time.Hour },
			wantErr: "candles.day_offset must be whole minutes within ±14h, got 15h0m0s",
		},
		{
			name: "missing postgres user",
			mutate: func(c *Config) {
				c.Database.Postgres = DBConfig{Host: "localhost", Name: "db", MaxConns: 4}
			},
			wantErr: "database.postgres.user is required",
		},
		{
			name: "min_conns exceeds max_conns",
			mutate: func(c *Config) {
				c.Database.Postgres = DBConfig{Host: "localhost", Name: "db", User: "user", MaxConns: 5, MinConns: 10}
			},
			wantErr: "database.postgres.min_conns (10) cannot exceed max_conns (5)",
		},
		{
			name:    "negative redis db",
			mutate:  func(c *Config) { c.Database.Redis = RedisConfig{Addr: "localhost:6379", DB: -1} },
			wantErr: "database.redis.db must be >= 0, got -1",
		},
		{
			name:    "negative max message size",
			mutate:  func(c *Config) { c.Feed.MaxMessageSize = -1 },
			wantErr: "feed.max_message_size must be >= 0",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "trace" },
			wantErr: `logging.level must be one of [debug info warn error], got "trace"`,
		},
		{
			name:    "bad health port",
			mutate:  func(c *Config) { c.Health.Port = 70000 },
			wantErr: "health.port must be between 0 and 65535, got 70000",
		},
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
