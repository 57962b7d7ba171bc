// Package cache adds a Redis read-aside layer in front of the registry's
// per-user token lookups.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-push-relay/pkg/push"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get decodes the value into dest, or returns an error on a miss.
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// CachedStore decorates a push.Store. Each user's full token list is cached;
// project and site filters are applied to the cached list. Every token write
// invalidates the affected users.
type CachedStore struct {
	push.Store
	cache  CacheClient
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedStore(realStore push.Store, cache CacheClient, ttl time.Duration, logger *slog.Logger) *CachedStore {
	return &CachedStore{
		Store:  realStore,
		cache:  cache,
		ttl:    ttl,
		logger: logger.With("component", "CachedStore"),
	}
}

// --- Read path ---

func (s *CachedStore) UserTokens(ctx context.Context, filter push.TokenFilter) ([]push.DeviceToken, error) {
	all, err := s.userTokens(ctx, filter.UserID)
	if err != nil {
		return nil, err
	}
	out := make([]push.DeviceToken, 0, len(all))
	for _, t := range all {
		if filter.Matches(t) {
			out = append(out, t)
		}
	}
	return out, nil
}

// TokensForUsers serves cached users directly and loads the rest in one
// store call.
func (s *CachedStore) TokensForUsers(ctx context.Context, userIDs []string) ([]push.DeviceToken, error) {
	cached := make(map[string][]push.DeviceToken, len(userIDs))
	var missing []string
	for _, id := range userIDs {
		var tokens []push.DeviceToken
		if err := s.cache.Get(ctx, cacheKey(id), &tokens); err == nil {
			cached[id] = tokens
			continue
		}
		missing = append(missing, id)
	}

	if len(missing) > 0 {
		fresh, err := s.Store.TokensForUsers(ctx, missing)
		if err != nil {
			return nil, err
		}
		byUser := make(map[string][]push.DeviceToken, len(missing))
		for _, id := range missing {
			byUser[id] = []push.DeviceToken{}
		}
		for _, t := range fresh {
			byUser[t.UserID] = append(byUser[t.UserID], t)
		}
		for id, tokens := range byUser {
			s.fill(ctx, id, tokens)
			cached[id] = tokens
		}
	}

	var out []push.DeviceToken
	for _, id := range userIDs {
		out = append(out, cached[id]...)
		delete(cached, id)
	}
	return out, nil
}

func (s *CachedStore) userTokens(ctx context.Context, userID string) ([]push.DeviceToken, error) {
	var tokens []push.DeviceToken
	if err := s.cache.Get(ctx, cacheKey(userID), &tokens); err == nil {
		return tokens, nil
	}

	fresh, err := s.Store.UserTokens(ctx, push.TokenFilter{UserID: userID})
	if err != nil {
		return nil, err
	}
	if fresh == nil {
		fresh = []push.DeviceToken{}
	}
	s.fill(ctx, userID, fresh)
	return fresh, nil
}

// fill is best effort; a failed write only costs a later miss.
func (s *CachedStore) fill(ctx context.Context, userID string, tokens []push.DeviceToken) {
	if err := s.cache.Set(ctx, cacheKey(userID), tokens, s.ttl); err != nil {
		s.logger.Warn("Failed to populate token cache", "user", userID, "err", err)
	}
}

// --- Write paths (invalidate on write) ---

// The store write is the source of truth; once it succeeds the call succeeds.
// A failed invalidation leaves a stale entry until the TTL lapses.

func (s *CachedStore) AddToken(ctx context.Context, t push.DeviceToken) (bool, error) {
	created, err := s.Store.AddToken(ctx, t)
	if err != nil || !created {
		return created, err
	}
	s.invalidate(ctx, t.UserID)
	return created, nil
}

func (s *CachedStore) RemoveToken(ctx context.Context, project, site, userID, token string) error {
	if err := s.Store.RemoveToken(ctx, project, site, userID, token); err != nil {
		return err
	}
	s.invalidate(ctx, userID)
	return nil
}

func (s *CachedStore) DeactivateToken(ctx context.Context, token string) ([]string, error) {
	users, err := s.Store.DeactivateToken(ctx, token)
	if err != nil {
		return users, err
	}
	s.invalidate(ctx, users...)
	return users, nil
}

func (s *CachedStore) invalidate(ctx context.Context, userIDs ...string) {
	if len(userIDs) == 0 {
		return
	}
	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = cacheKey(id)
	}
	if err := s.cache.Del(ctx, keys...); err != nil {
		s.logger.Warn("Failed to invalidate token cache", "users", userIDs, "err", err)
	}
}

func cacheKey(userID string) string {
	return fmt.Sprintf("relay:tokens:%s", userID)
}
