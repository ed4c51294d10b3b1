package prefs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/rickgao/marketsync/internal/model"
)

const redisKeyPrefix = "marketsync:"

// RedisStore keeps preferences in Redis: a hash of scalar settings and a
// list of JSON-encoded watches per profile.
type RedisStore struct {
	client  *redis.Client
	profile string
	logger  *slog.Logger
}

// NewRedisStore creates a RedisStore for profile and checks the connection.
// The store takes ownership of client once it is returned.
func NewRedisStore(ctx context.Context, client *redis.Client, profile string, logger *slog.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if profile == "" {
		profile = "default"
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisStore{client: client, profile: profile, logger: logger}, nil
}

func (s *RedisStore) prefsKey() string   { return redisKeyPrefix + "prefs:" + s.profile }
func (s *RedisStore) watchesKey() string { return redisKeyPrefix + "watches:" + s.profile }

func (s *RedisStore) LastViewedTicker(ctx context.Context) (model.TickerKey, bool, error) {
	value, err := s.client.HGet(ctx, s.prefsKey(), keyLastViewed).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read last viewed ticker: %w", err)
	}
	return model.TickerKey(value), value != "", nil
}

func (s *RedisStore) SetLastViewedTicker(ctx context.Context, ticker model.TickerKey) error {
	if err := s.client.HSet(ctx, s.prefsKey(), keyLastViewed, string(ticker)).Err(); err != nil {
		return fmt.Errorf("write last viewed ticker: %w", err)
	}
	return nil
}

func (s *RedisStore) Watchlist(ctx context.Context) ([]Watch, error) {
	items, err := s.client.LRange(ctx, s.watchesKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read watchlist: %w", err)
	}

	watches := make([]Watch, 0, len(items))
	for _, item := range items {
		var w Watch
		if err := json.Unmarshal([]byte(item), &w); err != nil {
			s.logger.Warn("skipping unreadable watch", "profile", s.profile, "error", err)
			continue
		}
		watches = append(watches, w)
	}
	return watches, nil
}

// SetWatchlist replaces the watchlist atomically.
func (s *RedisStore) SetWatchlist(ctx context.Context, watches []Watch) error {
	items := make([]any, 0, len(watches))
	for _, w := range watches {
		data, err := json.Marshal(w)
		if err != nil {
			return fmt.Errorf("encode watch %s: %w", w.Ticker, err)
		}
		items = append(items, string(data))
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.watchesKey())
		if len(items) > 0 {
			pipe.RPush(ctx, s.watchesKey(), items...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("write watchlist: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() {
	if err := s.client.Close(); err != nil {
		s.logger.Warn("close redis client", "error", err)
	}
}
