package config

import "time"

// Config is the root configuration for the sync engine.
type Config struct {
	API      APIConfig      `yaml:"api"`
	Feed     FeedConfig     `yaml:"feed"`
	Buffers  BuffersConfig  `yaml:"buffers"`
	Refresh  RefreshConfig  `yaml:"refresh"`
	Candles  CandlesConfig  `yaml:"candles"`
	Database DatabaseConfig `yaml:"database"`
	Logging  LoggingConfig  `yaml:"logging"`
	Health   HealthConfig   `yaml:"health"`
}

// APIConfig holds REST and feed endpoint settings.
type APIConfig struct {
	RestURL    string        `yaml:"rest_url"`
	WSURL      string        `yaml:"ws_url"`
	Token      string        `yaml:"token"` // Bearer token, empty = anonymous
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	RateLimit  float64       `yaml:"rate_limit"` // Requests per second, 0 = unlimited
	RateBurst  int           `yaml:"rate_burst"`
}

// FeedConfig holds websocket connection manager settings.
type FeedConfig struct {
	HeartbeatInterval       time.Duration `yaml:"heartbeat_interval"`
	KeepaliveMessage        string        `yaml:"keepalive_message"`
	HandshakeTimeout        time.Duration `yaml:"handshake_timeout"`
	WriteTimeout            time.Duration `yaml:"write_timeout"`
	PingTimeout             time.Duration `yaml:"ping_timeout"`
	ReconnectBaseDelay      time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay       time.Duration `yaml:"reconnect_max_delay"`
	MessageBufferSize       int           `yaml:"message_buffer_size"`
	MaxMessageSize          int64         `yaml:"max_message_size"` // Bytes per frame, 0 = unlimited
	NotificationBufferSize  int           `yaml:"notification_buffer_size"`
	NotificationBufferLimit int           `yaml:"notification_buffer_limit"` // Oldest evicted past this
}

// BuffersConfig holds batched update buffer settings.
type BuffersConfig struct {
	PriceFlushInterval     time.Duration `yaml:"price_flush_interval"`
	OrderbookFlushInterval time.Duration `yaml:"orderbook_flush_interval"`
}

// RefreshConfig holds refresh coordinator and snapshot poller settings.
type RefreshConfig struct {
	Interval             time.Duration `yaml:"interval"`
	FetchTimeout         time.Duration `yaml:"fetch_timeout"`
	Concurrency          int           `yaml:"concurrency"`
	SnapshotPollInterval time.Duration `yaml:"snapshot_poll_interval"` // 0 = resync only
	SnapshotConcurrency  int           `yaml:"snapshot_concurrency"`
}

// CandlesConfig holds candle series settings.
type CandlesConfig struct {
	PageSize     int           `yaml:"page_size"`
	DayOffset    time.Duration `yaml:"day_offset"` // UTC offset of the daily bucket boundary
	PrefetchBars int           `yaml:"prefetch_bars"`
	DefaultRange string        `yaml:"default_range"`
}

// DatabaseConfig holds the optional stores for client preferences.
// PostgreSQL wins when postgres.host is set, then Redis when redis.addr is
// set; otherwise preferences are kept in memory.
type DatabaseConfig struct {
	Postgres DBConfig    `yaml:"postgres"`
	Redis    RedisConfig `yaml:"redis"`
}

// Enabled reports whether a PostgreSQL database is configured.
func (d DatabaseConfig) Enabled() bool {
	return d.Postgres.Host != ""
}

// RedisConfig holds a Redis connection.
type RedisConfig struct {
	Addr     string `yaml:"addr"` // host:port, empty = disabled
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Enabled reports whether Redis is configured.
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`  // debug, info, warn, error
	Format     string `yaml:"format"` // text or json
	File       string `yaml:"file"`   // Empty = stdout
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// HealthConfig holds the health/debug HTTP server settings.
type HealthConfig struct {
	Port int `yaml:"port"` // 0 = disabled
}
