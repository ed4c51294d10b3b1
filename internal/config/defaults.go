package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultAPITimeout             = 10 * time.Second
	DefaultMaxRetries             = 3
	DefaultRateBurst              = 5
	DefaultHeartbeatInterval      = 30 * time.Second
	DefaultHandshakeTimeout       = 10 * time.Second
	DefaultWriteTimeout           = 5 * time.Second
	DefaultPingTimeout            = 90 * time.Second
	DefaultReconnectBaseDelay     = 1 * time.Second
	DefaultReconnectMaxDelay      = 30 * time.Second
	DefaultMessageBufferSize      = 10000
	DefaultNotificationBufferSize = 256
	DefaultNotificationLimit      = 10000
	DefaultPriceFlushInterval     = 250 * time.Millisecond
	DefaultOrderbookFlushInterval = 100 * time.Millisecond
	DefaultRefreshInterval        = 750 * time.Millisecond
	DefaultFetchTimeout           = 10 * time.Second
	DefaultRefreshConcurrency     = 4
	DefaultSnapshotConcurrency    = 8
	DefaultCandlePageSize         = 300
	DefaultPrefetchBars           = 50
	DefaultCandleRange            = "1D"
	DefaultDBPort                 = 5432
	DefaultDBSSLMode              = "prefer"
	DefaultMaxConns               = 4
	DefaultMinConns               = 1
	DefaultLogLevel               = "info"
	DefaultLogFormat              = "text"
	DefaultLogMaxSizeMB           = 100
	DefaultLogMaxBackups          = 5
	DefaultLogMaxAgeDays          = 28
	DefaultHealthPort             = 8080
)

// Default returns a config with every default applied and no endpoints set.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero-valued optional fields.
func (c *Config) ApplyDefaults() {
	// API defaults
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}
	if c.API.RateLimit > 0 && c.API.RateBurst == 0 {
		c.API.RateBurst = DefaultRateBurst
	}

	// Feed defaults
	if c.Feed.HeartbeatInterval == 0 {
		c.Feed.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Feed.HandshakeTimeout == 0 {
		c.Feed.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Feed.WriteTimeout == 0 {
		c.Feed.WriteTimeout = DefaultWriteTimeout
	}
	if c.Feed.PingTimeout == 0 {
		c.Feed.PingTimeout = DefaultPingTimeout
	}
	if c.Feed.ReconnectBaseDelay == 0 {
		c.Feed.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Feed.ReconnectMaxDelay == 0 {
		c.Feed.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Feed.MessageBufferSize == 0 {
		c.Feed.MessageBufferSize = DefaultMessageBufferSize
	}
	if c.Feed.NotificationBufferSize == 0 {
		c.Feed.NotificationBufferSize = DefaultNotificationBufferSize
	}
	if c.Feed.NotificationBufferLimit == 0 {
		c.Feed.NotificationBufferLimit = DefaultNotificationLimit
	}

	// Buffer defaults
	if c.Buffers.PriceFlushInterval == 0 {
		c.Buffers.PriceFlushInterval = DefaultPriceFlushInterval
	}
	if c.Buffers.OrderbookFlushInterval == 0 {
		c.Buffers.OrderbookFlushInterval = DefaultOrderbookFlushInterval
	}

	// Refresh defaults
	if c.Refresh.Interval == 0 {
		c.Refresh.Interval = DefaultRefreshInterval
	}
	if c.Refresh.FetchTimeout == 0 {
		c.Refresh.FetchTimeout = DefaultFetchTimeout
	}
	if c.Refresh.Concurrency == 0 {
		c.Refresh.Concurrency = DefaultRefreshConcurrency
	}
	if c.Refresh.SnapshotConcurrency == 0 {
		c.Refresh.SnapshotConcurrency = DefaultSnapshotConcurrency
	}

	// Candle defaults
	if c.Candles.PageSize == 0 {
		c.Candles.PageSize = DefaultCandlePageSize
	}
	if c.Candles.PrefetchBars == 0 {
		c.Candles.PrefetchBars = DefaultPrefetchBars
	}
	if c.Candles.DefaultRange == "" {
		c.Candles.DefaultRange = DefaultCandleRange
	}

	// Database defaults
	if c.Database.Enabled() {
		applyDBDefaults(&c.Database.Postgres)
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = DefaultLogMaxSizeMB
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = DefaultLogMaxBackups
	}
	if c.Logging.MaxAgeDays == 0 {
		c.Logging.MaxAgeDays = DefaultLogMaxAgeDays
	}

	// Health defaults
	if c.Health.Port == 0 {
		c.Health.Port = DefaultHealthPort
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
