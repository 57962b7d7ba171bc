// Package relay is the application-facing surface of the push relay. Each
// method is one externally visible operation; transports (HTTP, Pub/Sub) call
// these and never reach into the core packages directly.
package relay

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/tinywideclouds/go-push-relay/internal/dispatch"
	"github.com/tinywideclouds/go-push-relay/internal/membership"
	"github.com/tinywideclouds/go-push-relay/internal/reconcile"
	"github.com/tinywideclouds/go-push-relay/internal/resolver"
	"github.com/tinywideclouds/go-push-relay/pkg/push"
)

// ClientConfig is handed to browser clients so they can obtain a token.
type ClientConfig struct {
	PublicKey      string          `json:"public_key"`
	ProviderConfig json.RawMessage `json:"provider_config,omitempty"`
}

// TargetResolver resolves addressees to tokens.
type TargetResolver interface {
	ForUser(ctx context.Context, addr resolver.UserAddressee) ([]string, error)
	ForTopic(ctx context.Context, topicName, excludeUserID string) ([]string, error)
}

// Dispatcher sends one notification to a resolved target list.
type Dispatcher interface {
	Send(ctx context.Context, req dispatch.Request) (*push.DispatchResult, error)
}

// Reconciler applies per-token outcomes to the registry.
type Reconciler interface {
	Reconcile(ctx context.Context, op reconcile.Operation, outcomes []push.Outcome) reconcile.Summary
}

// Memberships manages topics and devices.
type Memberships interface {
	AddTopic(ctx context.Context, topicName string) (*membership.Result, error)
	RemoveTopic(ctx context.Context, topicName string) (*membership.Result, error)
	Subscribe(ctx context.Context, userID, topicName string) (*membership.Result, error)
	Unsubscribe(ctx context.Context, userID, topicName string) (*membership.Result, error)
	AddDevice(ctx context.Context, d membership.Device) (*membership.Result, error)
	RemoveDevice(ctx context.Context, d membership.Device) (*membership.Result, error)
}

// UserNotification addresses a single user's devices.
type UserNotification struct {
	Project  string `json:"project_name"`
	Site     string `json:"site_name"`
	UserID   string `json:"user_id"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	DataJSON string `json:"data"`
}

// TopicNotification addresses every member of a topic.
type TopicNotification struct {
	TopicName string `json:"topic_name"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	DataJSON  string `json:"data"`
}

type Service struct {
	clientConfig ClientConfig
	resolver     TargetResolver
	dispatcher   Dispatcher
	reconciler   Reconciler
	members      Memberships
	logger       *slog.Logger
}

func NewService(
	clientConfig ClientConfig,
	res TargetResolver,
	dispatcher Dispatcher,
	rec Reconciler,
	members Memberships,
	logger *slog.Logger,
) *Service {
	return &Service{
		clientConfig: clientConfig,
		resolver:     res,
		dispatcher:   dispatcher,
		reconciler:   rec,
		members:      members,
		logger:       logger.With("component", "RelayService"),
	}
}

// GetConfig returns the client bootstrap configuration.
func (s *Service) GetConfig() ClientConfig {
	return s.clientConfig
}

func (s *Service) AddDevice(ctx context.Context, d membership.Device) (*membership.Result, error) {
	return s.members.AddDevice(ctx, d)
}

func (s *Service) RemoveDevice(ctx context.Context, d membership.Device) (*membership.Result, error) {
	return s.members.RemoveDevice(ctx, d)
}

func (s *Service) AddTopic(ctx context.Context, topicName string) (*membership.Result, error) {
	return s.members.AddTopic(ctx, topicName)
}

func (s *Service) RemoveTopic(ctx context.Context, topicName string) (*membership.Result, error) {
	return s.members.RemoveTopic(ctx, topicName)
}

func (s *Service) Subscribe(ctx context.Context, userID, topicName string) (*membership.Result, error) {
	return s.members.Subscribe(ctx, userID, topicName)
}

func (s *Service) Unsubscribe(ctx context.Context, userID, topicName string) (*membership.Result, error) {
	return s.members.Unsubscribe(ctx, userID, topicName)
}

// SendToUser delivers to every active device of one user.
func (s *Service) SendToUser(ctx context.Context, n UserNotification) (*push.DispatchResult, error) {
	payload, err := ParsePayload(n.DataJSON)
	if err != nil {
		return nil, err
	}
	content := payload.Content(n.Title, n.Body)
	if err := content.Validate(); err != nil {
		return nil, err
	}

	tokens, err := s.resolver.ForUser(ctx, resolver.UserAddressee{
		Project: n.Project,
		Site:    n.Site,
		UserID:  n.UserID,
	})
	if err != nil {
		return nil, err
	}

	return s.send(ctx, dispatch.Request{
		Type:      push.AddresseeUser,
		Recipient: n.UserID,
		Targets:   tokens,
		Content:   content,
	})
}

// SendToTopic delivers to every member of a topic except the sender named by
// from_user in the data JSON.
func (s *Service) SendToTopic(ctx context.Context, n TopicNotification) (*push.DispatchResult, error) {
	payload, err := ParsePayload(n.DataJSON)
	if err != nil {
		return nil, err
	}
	content := payload.Content(n.Title, n.Body)
	if err := content.Validate(); err != nil {
		return nil, err
	}
	name, err := push.RequireTopicName(n.TopicName)
	if err != nil {
		return nil, err
	}

	tokens, err := s.resolver.ForTopic(ctx, name, payload.FromUser)
	if err != nil {
		return nil, err
	}

	return s.send(ctx, dispatch.Request{
		Type:      push.AddresseeTopic,
		Recipient: name,
		Targets:   tokens,
		Content:   content,
	})
}

func (s *Service) send(ctx context.Context, req dispatch.Request) (*push.DispatchResult, error) {
	res, err := s.dispatcher.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(res.Outcomes) > 0 {
		sum := s.reconciler.Reconcile(ctx, reconcile.OpSend, res.Outcomes)
		if len(sum.Deactivated) > 0 {
			s.logger.Info("Deactivated dead tokens after dispatch",
				"type", req.Type, "recipient", req.Recipient, "count", len(sum.Deactivated))
		}
	}
	return res, nil
}
