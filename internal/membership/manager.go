// Package membership owns topics, topic memberships and device registration,
// and keeps them consistent with the delivery provider's topic subscriptions.
package membership

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tinywideclouds/go-push-relay/internal/batch"
	"github.com/tinywideclouds/go-push-relay/internal/reconcile"
	"github.com/tinywideclouds/go-push-relay/internal/resolver"
	"github.com/tinywideclouds/go-push-relay/pkg/push"
)

const (
	// MaxTopicBatch is the provider's per-call limit for topic management.
	MaxTopicBatch      = 1000
	defaultConcurrency = 2
)

// Registry is the slice of the store the manager writes to.
type Registry interface {
	EnsureTopic(ctx context.Context, name string) (bool, error)
	TopicExists(ctx context.Context, name string) (bool, error)
	DeleteTopic(ctx context.Context, name string) error
	AddMembership(ctx context.Context, topic, userID string) (bool, error)
	HasMembership(ctx context.Context, topic, userID string) (bool, error)
	RemoveMembership(ctx context.Context, topic, userID string) error
	Members(ctx context.Context, topic, excludeUserID string) ([]string, error)
	UserTopics(ctx context.Context, userID string) ([]string, error)
	AddToken(ctx context.Context, t push.DeviceToken) (bool, error)
	RemoveToken(ctx context.Context, project, site, userID, token string) error
}

// TokenResolver resolves users to their live tokens.
type TokenResolver interface {
	ForUser(ctx context.Context, addr resolver.UserAddressee) ([]string, error)
	ForUserIDs(ctx context.Context, userIDs []string) ([]string, error)
}

// Reconciler applies per-token outcomes to the registry.
type Reconciler interface {
	Reconcile(ctx context.Context, op reconcile.Operation, outcomes []push.Outcome) reconcile.Summary
}

// Device identifies one registered device token.
type Device struct {
	Project string
	Site    string
	UserID  string
	Token   string
}

func (d Device) validate() error {
	switch {
	case d.Project == "":
		return fmt.Errorf("%w: project_name is required", push.ErrInvalidInput)
	case d.Site == "":
		return fmt.Errorf("%w: site_name is required", push.ErrInvalidInput)
	case d.UserID == "":
		return fmt.Errorf("%w: user_id is required", push.ErrInvalidInput)
	case d.Token == "":
		return fmt.Errorf("%w: token is required", push.ErrInvalidInput)
	}
	return nil
}

// Result reports what a membership operation did. Changed is false for
// idempotent no-ops.
type Result struct {
	Topic        string `json:"topic,omitempty"`
	Changed      bool   `json:"changed"`
	Message      string `json:"message"`
	SuccessCount int    `json:"success_count,omitempty"`
	FailureCount int    `json:"failure_count,omitempty"`
}

type Manager struct {
	store       Registry
	provider    push.Provider
	resolver    TokenResolver
	reconciler  Reconciler
	locks       *keyLock
	batchSize   int
	concurrency int
	logger      *slog.Logger
}

// Option tunes a Manager.
type Option func(*Manager)

// WithBatchSize overrides the topic-management chunk size, capped at MaxTopicBatch.
func WithBatchSize(n int) Option {
	return func(m *Manager) {
		if n > 0 && n <= MaxTopicBatch {
			m.batchSize = n
		}
	}
}

func NewManager(store Registry, provider push.Provider, res TokenResolver, rec Reconciler, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:       store,
		provider:    provider,
		resolver:    res,
		reconciler:  rec,
		locks:       newKeyLock(),
		batchSize:   MaxTopicBatch,
		concurrency: defaultConcurrency,
		logger:      logger.With("component", "MembershipManager"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddTopic creates the topic if it does not exist yet.
func (m *Manager) AddTopic(ctx context.Context, topicName string) (*Result, error) {
	name, err := push.RequireTopicName(topicName)
	if err != nil {
		return nil, err
	}
	created, err := m.store.EnsureTopic(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure topic %s: %w", name, err)
	}
	if created {
		m.logger.Info("Topic created", "topic", name)
	}
	return &Result{Topic: name, Changed: created, Message: "OK"}, nil
}

// RemoveTopic unsubscribes every member token from the provider topic and then
// deletes the topic together with its memberships. The local cascade always
// completes; provider batch failures are logged and reconciled.
func (m *Manager) RemoveTopic(ctx context.Context, topicName string) (*Result, error) {
	name, err := push.RequireTopicName(topicName)
	if err != nil {
		return nil, err
	}
	unlock := m.locks.Lock("topic:" + name)
	defer unlock()

	log := m.logger.With("topic", name)

	exists, err := m.store.TopicExists(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to look up topic %s: %w", name, err)
	}
	if !exists {
		return &Result{Topic: name, Message: "topic not found"}, nil
	}

	members, err := m.store.Members(ctx, name, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list members of topic %s: %w", name, err)
	}
	tokens, err := m.resolver.ForUserIDs(ctx, members)
	if err != nil {
		return nil, err
	}

	res := &Result{Topic: name, Changed: true, Message: "OK"}
	if len(tokens) > 0 {
		run := m.topicBatch(ctx, tokens, name, m.provider.UnsubscribeFromTopic)
		if run.Err != nil {
			log.Error("Provider rejected unsubscribe batches; continuing with local cascade",
				"failed_calls", run.FailedCalls, "calls", run.Calls, "err", run.Err)
		}
		m.reconciler.Reconcile(ctx, reconcile.OpUnsubscribe, run.Outcomes)
		res.SuccessCount = push.SuccessCount(run.Outcomes)
		res.FailureCount = len(tokens) - res.SuccessCount
	}

	if err := m.store.DeleteTopic(ctx, name); err != nil {
		return nil, fmt.Errorf("failed to delete topic %s: %w", name, err)
	}
	log.Info("Topic removed", "members", len(members), "tokens", len(tokens))
	return res, nil
}

// Subscribe adds userID to the topic, creating the topic when needed. The
// membership is only recorded once the provider accepted at least one of the
// user's tokens.
func (m *Manager) Subscribe(ctx context.Context, userID, topicName string) (*Result, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", push.ErrInvalidInput)
	}
	name, err := push.RequireTopicName(topicName)
	if err != nil {
		return nil, err
	}
	unlock := m.locks.Lock("topic:" + name)
	defer unlock()

	log := m.logger.With("topic", name, "user", userID)

	if _, err := m.AddTopic(ctx, name); err != nil {
		return nil, err
	}
	member, err := m.store.HasMembership(ctx, name, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to check membership: %w", err)
	}
	if member {
		return &Result{Topic: name, Message: "already subscribed"}, nil
	}

	tokens, err := m.resolver.ForUser(ctx, resolver.UserAddressee{UserID: userID})
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: user %s has no active device tokens", push.ErrNoDeviceTokens, userID)
	}

	run := m.topicBatch(ctx, tokens, name, m.provider.SubscribeToTopic)
	if run.AllFailed() {
		log.Error("Provider rejected subscribe", "err", run.Err)
		return nil, fmt.Errorf("%w: subscribe to %s: %v", push.ErrProviderCall, name, run.Err)
	}
	m.reconciler.Reconcile(ctx, reconcile.OpSubscribe, run.Outcomes)

	success := push.SuccessCount(run.Outcomes)
	if success == 0 {
		log.Error("No device could be subscribed", "tokens", len(tokens))
		return nil, fmt.Errorf("%w: topic %s, user %s, %d tokens", push.ErrSubscriptionFailed, name, userID, len(tokens))
	}

	created, err := m.store.AddMembership(ctx, name, userID)
	if errors.Is(err, push.ErrTopicNotFound) {
		// Deleted by another process between ensure and insert.
		if _, err = m.store.EnsureTopic(ctx, name); err == nil {
			created, err = m.store.AddMembership(ctx, name, userID)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record membership: %w", err)
	}

	log.Info("User subscribed", "success", success, "failure", len(tokens)-success)
	return &Result{
		Topic:        name,
		Changed:      created,
		Message:      "OK",
		SuccessCount: success,
		FailureCount: len(tokens) - success,
	}, nil
}

// Unsubscribe removes userID from the topic. Once a membership exists it is
// always deleted locally, whatever the provider answers.
func (m *Manager) Unsubscribe(ctx context.Context, userID, topicName string) (*Result, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", push.ErrInvalidInput)
	}
	name, err := push.RequireTopicName(topicName)
	if err != nil {
		return nil, err
	}
	unlock := m.locks.Lock("topic:" + name)
	defer unlock()

	log := m.logger.With("topic", name, "user", userID)

	exists, err := m.store.TopicExists(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to look up topic %s: %w", name, err)
	}
	if !exists {
		return &Result{Topic: name, Message: "topic not found"}, nil
	}
	member, err := m.store.HasMembership(ctx, name, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to check membership: %w", err)
	}
	if !member {
		return &Result{Topic: name, Message: "not subscribed"}, nil
	}

	res := &Result{Topic: name, Changed: true, Message: "OK"}
	tokens, err := m.resolver.ForUser(ctx, resolver.UserAddressee{UserID: userID})
	if err != nil {
		log.Error("Failed to resolve tokens; removing membership anyway", "err", err)
	} else if len(tokens) > 0 {
		run := m.topicBatch(ctx, tokens, name, m.provider.UnsubscribeFromTopic)
		if run.Err != nil {
			log.Error("Provider rejected unsubscribe; removing membership anyway", "err", run.Err)
		}
		m.reconciler.Reconcile(ctx, reconcile.OpUnsubscribe, run.Outcomes)
		res.SuccessCount = push.SuccessCount(run.Outcomes)
		res.FailureCount = len(tokens) - res.SuccessCount
	}

	if err := m.store.RemoveMembership(ctx, name, userID); err != nil {
		return nil, fmt.Errorf("failed to remove membership: %w", err)
	}
	log.Info("User unsubscribed")
	return res, nil
}

// AddDevice registers a device token. A newly created token inherits every
// topic subscription its user already has; provider failures there are
// reconciled and logged but do not fail the registration.
func (m *Manager) AddDevice(ctx context.Context, d Device) (*Result, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}
	unlock := m.locks.Lock("device:" + d.UserID + "\x00" + d.Token)
	defer unlock()

	created, err := m.store.AddToken(ctx, push.DeviceToken{
		Project:  d.Project,
		Site:     d.Site,
		UserID:   d.UserID,
		Token:    d.Token,
		IsActive: true,
	})
	log := m.logger.With("user", d.UserID)
	if err != nil && !created {
		return nil, fmt.Errorf("failed to store device token: %w", err)
	}
	if err != nil {
		// The record exists; a retry would see it as already registered and
		// never inherit topics, so inheritance runs now.
		log.Warn("Device token stored with error", "err", err)
	}
	if !created {
		return &Result{Message: "token already registered"}, nil
	}

	topics, err := m.store.UserTopics(ctx, d.UserID)
	if err != nil {
		log.Error("Failed to list user topics for new device", "err", err)
		return &Result{Changed: true, Message: "OK"}, nil
	}

	res := &Result{Changed: true, Message: "OK"}
	for _, topic := range topics {
		outcomes, err := m.provider.SubscribeToTopic(ctx, []string{d.Token}, topic)
		if err != nil {
			res.FailureCount++
			log.Error("Failed to subscribe new device to topic", "topic", topic, "err", err)
			continue
		}
		sum := m.reconciler.Reconcile(ctx, reconcile.OpSubscribe, outcomes)
		n := push.SuccessCount(outcomes)
		res.SuccessCount += n
		if n == 0 {
			res.FailureCount++
		}
		if len(sum.Deactivated) > 0 {
			log.Warn("New device token rejected by provider; skipping remaining topics", "topic", topic)
			break
		}
	}
	log.Info("Device registered", "topics", len(topics), "subscribed", res.SuccessCount)
	return res, nil
}

// RemoveDevice hard-deletes the token record matching all four fields.
func (m *Manager) RemoveDevice(ctx context.Context, d Device) (*Result, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}
	unlock := m.locks.Lock("device:" + d.UserID + "\x00" + d.Token)
	defer unlock()

	if err := m.store.RemoveToken(ctx, d.Project, d.Site, d.UserID, d.Token); err != nil {
		return nil, fmt.Errorf("failed to remove device token: %w", err)
	}
	return &Result{Changed: true, Message: "OK"}, nil
}

type topicCall func(ctx context.Context, tokens []string, topic string) ([]push.Outcome, error)

func (m *Manager) topicBatch(ctx context.Context, tokens []string, topic string, call topicCall) batch.Result {
	return batch.Run(ctx, tokens, m.batchSize, m.concurrency, func(ctx context.Context, chunk []string) ([]push.Outcome, error) {
		return call(ctx, chunk, topic)
	})
}
