// Package session tracks the authenticated user for the current process.
//
// A session without a token, or whose token is rejected with 401, is
// anonymous: public market data still flows, user-scoped data does not.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/marketsync/internal/api"
	"github.com/rickgao/marketsync/internal/model"
)

// ErrNoSession is returned by Require when no user is signed in.
var ErrNoSession = errors.New("no active session")

// UserFetcher fetches the current user. *api.Client satisfies it.
type UserFetcher interface {
	GetMe(ctx context.Context) (model.User, error)
}

// Session holds the current user identity.
type Session struct {
	client UserFetcher
	logger *slog.Logger

	mu       sync.RWMutex
	user     model.User
	ok       bool
	loadedAt time.Time
}

// New creates an anonymous session.
func New(client UserFetcher, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{client: client, logger: logger}
}

// Load fetches the current user. A 401 leaves the session anonymous and is
// not an error. Other failures leave the previous identity in place.
func (s *Session) Load(ctx context.Context) error {
	user, err := s.client.GetMe(ctx)
	if err != nil {
		if api.IsUnauthorized(err) {
			s.clear()
			s.logger.Info("session is anonymous")
			return nil
		}
		return fmt.Errorf("load session: %w", err)
	}

	s.mu.Lock()
	changed := !s.ok || s.user.ID != user.ID
	s.user = user
	s.ok = true
	s.loadedAt = time.Now()
	s.mu.Unlock()

	if changed {
		s.logger.Info("session loaded", "user_id", user.ID, "nickname", user.Nickname)
	}
	return nil
}

// Refresh re-fetches the current user.
func (s *Session) Refresh(ctx context.Context) error {
	return s.Load(ctx)
}

// UserID returns the signed-in user id.
func (s *Session) UserID() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user.ID, s.ok
}

// User returns the signed-in user.
func (s *Session) User() (model.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user, s.ok
}

// Require returns the user id or ErrNoSession.
func (s *Session) Require() (string, error) {
	id, ok := s.UserID()
	if !ok {
		return "", ErrNoSession
	}
	return id, nil
}

// LoadedAt returns when the identity was last fetched.
func (s *Session) LoadedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadedAt
}

func (s *Session) clear() {
	s.mu.Lock()
	s.user = model.User{}
	s.ok = false
	s.loadedAt = time.Now()
	s.mu.Unlock()
}
