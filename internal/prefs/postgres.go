package prefs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/marketsync/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS client_prefs (
	profile     TEXT        NOT NULL,
	key         TEXT        NOT NULL,
	value       TEXT        NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (profile, key)
);
CREATE TABLE IF NOT EXISTS client_watches (
	profile       TEXT    NOT NULL,
	position      INTEGER NOT NULL,
	ticker        TEXT    NOT NULL,
	bar_interval  TEXT    NOT NULL,
	display_range TEXT    NOT NULL,
	PRIMARY KEY (profile, position)
);`

const keyLastViewed = "last_viewed_ticker"

// PGStore keeps preferences in PostgreSQL.
type PGStore struct {
	db      *pgxpool.Pool
	profile string
	logger  *slog.Logger
}

// NewPGStore creates a PGStore for profile and makes sure its tables exist.
// The store takes ownership of db.
func NewPGStore(ctx context.Context, db *pgxpool.Pool, profile string, logger *slog.Logger) (*PGStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if profile == "" {
		profile = "default"
	}
	if _, err := db.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("create prefs schema: %w", err)
	}
	return &PGStore{db: db, profile: profile, logger: logger}, nil
}

func (s *PGStore) LastViewedTicker(ctx context.Context) (model.TickerKey, bool, error) {
	var value string
	err := s.db.QueryRow(ctx,
		`SELECT value FROM client_prefs WHERE profile = $1 AND key = $2`,
		s.profile, keyLastViewed,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read last viewed ticker: %w", err)
	}
	return model.TickerKey(value), value != "", nil
}

func (s *PGStore) SetLastViewedTicker(ctx context.Context, ticker model.TickerKey) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO client_prefs (profile, key, value, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (profile, key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`, s.profile, keyLastViewed, string(ticker))
	if err != nil {
		return fmt.Errorf("write last viewed ticker: %w", err)
	}
	return nil
}

func (s *PGStore) Watchlist(ctx context.Context) ([]Watch, error) {
	rows, err := s.db.Query(ctx,
		`SELECT ticker, bar_interval, display_range FROM client_watches WHERE profile = $1 ORDER BY position`,
		s.profile,
	)
	if err != nil {
		return nil, fmt.Errorf("read watchlist: %w", err)
	}

	watches, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Watch, error) {
		var ticker, interval, rng string
		if err := row.Scan(&ticker, &interval, &rng); err != nil {
			return Watch{}, err
		}
		return Watch{Ticker: model.TickerKey(ticker), Interval: model.Interval(interval), Range: rng}, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan watchlist: %w", err)
	}
	return watches, nil
}

// SetWatchlist replaces the stored watchlist in one transaction.
func (s *PGStore) SetWatchlist(ctx context.Context, watches []Watch) error {
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		batch.Queue(`DELETE FROM client_watches WHERE profile = $1`, s.profile)
		for i, w := range watches {
			batch.Queue(`
				INSERT INTO client_watches (profile, position, ticker, bar_interval, display_range)
				VALUES ($1, $2, $3, $4, $5)
			`, s.profile, i, string(w.Ticker), string(w.Interval), w.Range)
		}

		results := tx.SendBatch(ctx, batch)
		defer results.Close()

		for range batch.Len() {
			if _, err := results.Exec(); err != nil {
				return err
			}
		}
		return results.Close()
	})
	if err != nil {
		return fmt.Errorf("write watchlist: %w", err)
	}

	s.logger.Debug("saved watchlist", "profile", s.profile, "count", len(watches))
	return nil
}

// Close closes the underlying pool.
func (s *PGStore) Close() {
	s.db.Close()
}
