package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"
)

var (
	validRanges     = []string{"1D", "1W", "1M", "3M", "1Y", "ALL"}
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validLogFormats = []string{"text", "json"}
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if err := validateURL("api.rest_url", c.API.RestURL, "http", "https"); err != nil {
		return err
	}
	if err := validateURL("api.ws_url", c.API.WSURL, "ws", "wss"); err != nil {
		return err
	}
	if c.API.MaxRetries < 0 {
		return errors.New("api.max_retries must be >= 0")
	}
	if c.API.RateLimit < 0 {
		return errors.New("api.rate_limit must be >= 0")
	}

	if c.Feed.ReconnectBaseDelay <= 0 {
		return errors.New("feed.reconnect_base_delay must be > 0")
	}
	if c.Feed.ReconnectMaxDelay < c.Feed.ReconnectBaseDelay {
		return fmt.Errorf("feed.reconnect_max_delay (%s) cannot be less than reconnect_base_delay (%s)",
			c.Feed.ReconnectMaxDelay, c.Feed.ReconnectBaseDelay)
	}
	if c.Feed.HeartbeatInterval < 0 {
		return errors.New("feed.heartbeat_interval must be >= 0")
	}
	if c.Feed.MaxMessageSize < 0 {
		return errors.New("feed.max_message_size must be >= 0")
	}
	if c.Feed.MessageBufferSize < 1 {
		return errors.New("feed.message_buffer_size must be >= 1")
	}

	if c.Buffers.PriceFlushInterval <= 0 {
		return errors.New("buffers.price_flush_interval must be > 0")
	}
	if c.Buffers.OrderbookFlushInterval <= 0 {
		return errors.New("buffers.orderbook_flush_interval must be > 0")
	}

	if c.Refresh.Interval <= 0 {
		return errors.New("refresh.interval must be > 0")
	}
	if c.Refresh.Concurrency < 1 {
		return errors.New("refresh.concurrency must be >= 1")
	}
	if c.Refresh.SnapshotPollInterval < 0 {
		return errors.New("refresh.snapshot_poll_interval must be >= 0")
	}

	if c.Candles.PageSize < 1 {
		return errors.New("candles.page_size must be >= 1")
	}
	if !slices.Contains(validRanges, strings.ToUpper(c.Candles.DefaultRange)) {
		return fmt.Errorf("candles.default_range must be one of %v, got %q", validRanges, c.Candles.DefaultRange)
	}
	if c.Candles.DayOffset%time.Minute != 0 || c.Candles.DayOffset < -14*time.Hour || c.Candles.DayOffset > 14*time.Hour {
		return fmt.Errorf("candles.day_offset must be whole minutes within ±14h, got %s", c.Candles.DayOffset)
	}

	if c.Database.Enabled() {
		if err := c.Database.Postgres.validate("database.postgres"); err != nil {
			return err
		}
	}

	if c.Database.Redis.DB < 0 {
		return fmt.Errorf("database.redis.db must be >= 0, got %d", c.Database.Redis.DB)
	}

	if !slices.Contains(validLogLevels, c.Logging.Level) {
		return fmt.Errorf("logging.level must be one of %v, got %q", validLogLevels, c.Logging.Level)
	}
	if !slices.Contains(validLogFormats, c.Logging.Format) {
		return fmt.Errorf("logging.format must be one of %v, got %q", validLogFormats, c.Logging.Format)
	}

	if c.Health.Port < 0 || c.Health.Port > 65535 {
		return fmt.Errorf("health.port must be between 0 and 65535, got %d", c.Health.Port)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}

func validateURL(field, raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if !slices.Contains(schemes, u.Scheme) || u.Host == "" {
		return fmt.Errorf("%s must be an absolute %s URL, got %q", field, strings.Join(schemes, "/"), raw)
	}
	return nil
}
