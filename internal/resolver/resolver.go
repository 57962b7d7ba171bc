// Package resolver turns an addressee (one user, or a topic audience) into the
// concrete list of live delivery tokens.
package resolver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tinywideclouds/go-push-relay/pkg/push"
)

// Registry is the read side of the store the resolver needs.
type Registry interface {
	UserTokens(ctx context.Context, filter push.TokenFilter) ([]push.DeviceToken, error)
	TokensForUsers(ctx context.Context, userIDs []string) ([]push.DeviceToken, error)
	TopicExists(ctx context.Context, name string) (bool, error)
	Members(ctx context.Context, topic, excludeUserID string) ([]string, error)
}

// UserAddressee identifies a single user's devices. Project and Site narrow
// the lookup when set.
type UserAddressee struct {
	Project string
	Site    string
	UserID  string
}

type Resolver struct {
	store  Registry
	logger *slog.Logger
}

func NewResolver(store Registry, logger *slog.Logger) *Resolver {
	return &Resolver{
		store:  store,
		logger: logger.With("component", "Resolver"),
	}
}

// ForUser returns the user's active tokens, deduplicated, in registration order.
func (r *Resolver) ForUser(ctx context.Context, addr UserAddressee) ([]string, error) {
	if addr.UserID == "" {
		return nil, fmt.Errorf("%w: user_id is required", push.ErrInvalidInput)
	}
	records, err := r.store.UserTokens(ctx, push.TokenFilter{
		Project: addr.Project,
		Site:    addr.Site,
		UserID:  addr.UserID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tokens for user %s: %w", addr.UserID, err)
	}
	return activeTokens(records), nil
}

// ForUserIDs returns the active tokens of all given users.
func (r *Resolver) ForUserIDs(ctx context.Context, userIDs []string) ([]string, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	records, err := r.store.TokensForUsers(ctx, userIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tokens for %d users: %w", len(userIDs), err)
	}
	return activeTokens(records), nil
}

// ForTopic returns the active tokens of every member of the topic except
// excludeUserID. An unknown topic or an empty audience yields an empty list.
func (r *Resolver) ForTopic(ctx context.Context, topicName, excludeUserID string) ([]string, error) {
	name, err := push.RequireTopicName(topicName)
	if err != nil {
		return nil, err
	}
	exists, err := r.store.TopicExists(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to look up topic %s: %w", name, err)
	}
	if !exists {
		r.logger.Debug("Topic not found; nothing to resolve", "topic", name)
		return nil, nil
	}

	members, err := r.store.Members(ctx, name, excludeUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members of topic %s: %w", name, err)
	}
	if len(members) == 0 {
		return nil, nil
	}
	return r.ForUserIDs(ctx, members)
}

func activeTokens(records []push.DeviceToken) []string {
	seen := make(map[string]struct{}, len(records))
	tokens := make([]string, 0, len(records))
	for _, rec := range records {
		if !rec.IsActive || rec.Token == "" {
			continue
		}
		if _, dup := seen[rec.Token]; dup {
			continue
		}
		seen[rec.Token] = struct{}{}
		tokens = append(tokens, rec.Token)
	}
	return tokens
}
