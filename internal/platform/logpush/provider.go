// Package logpush is a push.Provider that delivers nothing. It accepts every
// token and logs what would have been sent, which lets the relay run locally
// without Firebase credentials.
package logpush

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/tinywideclouds/go-push-relay/pkg/push"
)

type Provider struct {
	logger *slog.Logger
	calls  atomic.Int64
}

func NewProvider(logger *slog.Logger) *Provider {
	return &Provider{logger: logger.With("component", "LogProvider")}
}

func (p *Provider) SendMulticast(_ context.Context, msg push.Message, tokens []string) ([]push.Outcome, error) {
	p.calls.Add(1)
	p.logger.Info("Multicast accepted",
		"title", msg.Content.Title,
		"tokens", len(tokens),
		"data_keys", len(msg.Data),
	)
	return accepted(tokens), nil
}

func (p *Provider) SubscribeToTopic(_ context.Context, tokens []string, topic string) ([]push.Outcome, error) {
	p.calls.Add(1)
	p.logger.Info("Topic subscribe accepted", "topic", topic, "tokens", len(tokens))
	return accepted(tokens), nil
}

func (p *Provider) UnsubscribeFromTopic(_ context.Context, tokens []string, topic string) ([]push.Outcome, error) {
	p.calls.Add(1)
	p.logger.Info("Topic unsubscribe accepted", "topic", topic, "tokens", len(tokens))
	return accepted(tokens), nil
}

// Calls reports how many provider calls were made.
func (p *Provider) Calls() int64 {
	return p.calls.Load()
}

func accepted(tokens []string) []push.Outcome {
	out := make([]push.Outcome, len(tokens))
	for i, t := range tokens {
		out[i] = push.Outcome{Token: t, Success: true}
	}
	return out
}
