package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/noah-isme/agrimarket-storefront/internal/cache"
	"github.com/noah-isme/agrimarket-storefront/internal/lock"
)

// ErrNotFound is returned for unknown or expired sessions.
var ErrNotFound = errors.New("checkout: session not found")

// Store persists sessions in Redis. Sessions are a serialization of the
// checkout state and expire after the cache TTL.
type Store struct {
	Data    *cache.JSON
	Locker  lock.Locker
	LockTTL time.Duration
}

// Get loads a session.
func (s Store) Get(ctx context.Context, id string) (*Session, error) {
	var sess Session
	ok, err := s.Data.Get(ctx, id, &sess)
	if err != nil {
		return nil, fmt.Errorf("checkout: load session: %w", err)
	}
	if !ok {
		return nil, ErrNotFound
	}
	return &sess, nil
}

// Save writes a session, refreshing its TTL.
func (s Store) Save(ctx context.Context, sess *Session) error {
	if err := s.Data.Set(ctx, sess.ID, sess); err != nil {
		return fmt.Errorf("checkout: save session: %w", err)
	}
	return nil
}

// Update loads the session under its lock, applies fn and saves the result.
// Nothing is saved when fn fails.
func (s Store) Update(ctx context.Context, id string, fn func(*Session) error) (*Session, error) {
	var out *Session
	err := s.Locker.WithLock(ctx, "checkout:lock:"+id, s.LockTTL, func(ctx context.Context) error {
		sess, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(sess); err != nil {
			return err
		}
		if err := s.Save(ctx, sess); err != nil {
			return err
		}
		out = sess
		return nil
	})
	return out, err
}
