// Package fcm is the Firebase Cloud Messaging delivery provider.
package fcm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"firebase.google.com/go/v4/messaging"
	"github.com/sony/gobreaker"
	"github.com/tinywideclouds/go-push-relay/pkg/push"
)

// Per-call limits imposed by FCM.
const (
	MaxMulticastTokens = 500
	MaxTopicTokens     = 1000
)

// MessagingClient defines the subset of the Firebase Messaging API we use.
// *messaging.Client satisfies it.
type MessagingClient interface {
	SendEachForMulticast(ctx context.Context, msg *messaging.MulticastMessage) (*messaging.BatchResponse, error)
	SubscribeToTopic(ctx context.Context, tokens []string, topic string) (*messaging.TopicManagementResponse, error)
	UnsubscribeFromTopic(ctx context.Context, tokens []string, topic string) (*messaging.TopicManagementResponse, error)
}

// BreakerConfig tunes the circuit breaker guarding whole FCM calls.
type BreakerConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultBreakerConfig trips after 60% of at least 5 calls fail.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      3,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.6,
		MinRequests:      5,
	}
}

// Client implements push.Provider on FCM.
type Client struct {
	client  MessagingClient
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

func NewClient(client MessagingClient, cfg BreakerConfig, logger *slog.Logger) *Client {
	logger = logger.With("component", "FCMClient")
	settings := gobreaker.Settings{
		Name:        "fcm",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureThreshold
		},
		// A caller giving up says nothing about FCM's health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed", "circuit", name, "from", from.String(), "to", to.String())
		},
	}
	return &Client{
		client:  client,
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
	}
}

// BreakerState reports the circuit breaker state: "closed", "half-open" or "open".
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

// SendMulticast sends msg to up to MaxMulticastTokens tokens.
func (c *Client) SendMulticast(ctx context.Context, msg push.Message, tokens []string) ([]push.Outcome, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	if len(tokens) > MaxMulticastTokens {
		return nil, fmt.Errorf("%w: %d tokens exceeds multicast limit of %d", push.ErrProviderCall, len(tokens), MaxMulticastTokens)
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.client.SendEachForMulticast(ctx, buildMulticast(msg, tokens))
	})
	if err != nil {
		return nil, c.callError("send", err)
	}
	br, ok := out.(*messaging.BatchResponse)
	if !ok || br == nil || len(br.Responses) != len(tokens) {
		return nil, fmt.Errorf("%w: malformed batch response", push.ErrProviderCall)
	}

	outcomes := make([]push.Outcome, len(tokens))
	for i, resp := range br.Responses {
		o := push.Outcome{Token: tokens[i], Success: resp.Success, MessageID: resp.MessageID}
		if !resp.Success {
			o.Reason = sendReason(resp.Error)
			if resp.Error != nil {
				o.Detail = resp.Error.Error()
			}
		}
		outcomes[i] = o
	}
	c.logger.Debug("Multicast sent", "success", br.SuccessCount, "failure", br.FailureCount)
	return outcomes, nil
}

func (c *Client) SubscribeToTopic(ctx context.Context, tokens []string, topic string) ([]push.Outcome, error) {
	return c.manageTopic(ctx, "subscribe", tokens, topic, c.client.SubscribeToTopic)
}

func (c *Client) UnsubscribeFromTopic(ctx context.Context, tokens []string, topic string) ([]push.Outcome, error) {
	return c.manageTopic(ctx, "unsubscribe", tokens, topic, c.client.UnsubscribeFromTopic)
}

type topicFunc func(ctx context.Context, tokens []string, topic string) (*messaging.TopicManagementResponse, error)

func (c *Client) manageTopic(ctx context.Context, op string, tokens []string, topic string, call topicFunc) ([]push.Outcome, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	if len(tokens) > MaxTopicTokens {
		return nil, fmt.Errorf("%w: %d tokens exceeds topic management limit of %d", push.ErrProviderCall, len(tokens), MaxTopicTokens)
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return call(ctx, tokens, topic)
	})
	if err != nil {
		return nil, c.callError(op, err)
	}
	resp, ok := out.(*messaging.TopicManagementResponse)
	if !ok || resp == nil {
		return nil, fmt.Errorf("%w: malformed topic management response", push.ErrProviderCall)
	}

	outcomes := make([]push.Outcome, len(tokens))
	for i, tok := range tokens {
		outcomes[i] = push.Outcome{Token: tok, Success: true}
	}
	for _, info := range resp.Errors {
		if info == nil || info.Index < 0 || info.Index >= len(tokens) {
			continue
		}
		outcomes[info.Index] = push.Outcome{
			Token:  tokens[info.Index],
			Reason: topicReason(info.Reason),
			Detail: info.Reason,
		}
	}
	c.logger.Debug("Topic management call done", "op", op, "topic", topic, "success", resp.SuccessCount, "failure", resp.FailureCount)
	return outcomes, nil
}

func (c *Client) callError(op string, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		c.logger.Warn("FCM call short-circuited", "op", op, "err", err)
		return fmt.Errorf("%w: fcm %s: %v", push.ErrProviderCall, op, err)
	}
	c.logger.Error("FCM call failed", "op", op, "err", err)
	return fmt.Errorf("%w: fcm %s: %w", push.ErrProviderCall, op, err)
}

func buildMulticast(msg push.Message, tokens []string) *messaging.MulticastMessage {
	content := msg.Content
	data := msg.Data
	if data == nil {
		data = content.DataPayload()
	}
	if len(data) == 0 {
		data = nil
	}

	webpush := &messaging.WebpushConfig{
		Notification: &messaging.WebpushNotification{
			Title: content.Title,
			Body:  content.Body,
			Icon:  content.Icon,
		},
	}
	if content.ClickAction != "" {
		webpush.FCMOptions = &messaging.WebpushFCMOptions{Link: content.ClickAction}
	}

	return &messaging.MulticastMessage{
		Tokens: tokens,
		Data:   data,
		Notification: &messaging.Notification{
			Title: content.Title,
			Body:  content.Body,
		},
		Webpush: webpush,
	}
}
