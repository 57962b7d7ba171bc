// Package reconcile applies provider per-token outcomes back to the registry.
// It is the only writer of DeviceToken.IsActive.
package reconcile

import (
	"context"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/tinywideclouds/go-push-relay/pkg/push"
)

// Operation names the provider call whose outcomes are being reconciled.
type Operation string

const (
	OpSend        Operation = "send"
	OpSubscribe   Operation = "subscribe"
	OpUnsubscribe Operation = "unsubscribe"
)

var (
	tokensDeactivatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_tokens_deactivated_total",
			Help: "Device tokens deactivated after the provider reported them invalid",
		},
		[]string{"operation"},
	)

	transientFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_transient_failures_total",
			Help: "Per-token failures that did not deactivate the token",
		},
		[]string{"operation", "reason"},
	)
)

// TokenDeactivator is the slice of the registry the reconciler writes to.
type TokenDeactivator interface {
	DeactivateToken(ctx context.Context, token string) ([]string, error)
}

// Summary describes what a reconciliation pass did.
type Summary struct {
	Deactivated []string
	Transient   []push.Outcome
}

// Reconciler classifies failed outcomes and soft-deletes dead tokens.
type Reconciler struct {
	store  TokenDeactivator
	logger *slog.Logger
}

func NewReconciler(store TokenDeactivator, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:  store,
		logger: logger.With("component", "Reconciler"),
	}
}

// Reconcile deactivates tokens the provider reported as permanently invalid
// and records every other failure without touching the token. Store errors are
// logged; reconciliation never fails the calling operation.
func (r *Reconciler) Reconcile(ctx context.Context, op Operation, outcomes []push.Outcome) Summary {
	var sum Summary
	seen := make(map[string]struct{})

	for _, o := range outcomes {
		if o.Success {
			continue
		}
		if !IsPermanentlyInvalid(o.Reason) {
			sum.Transient = append(sum.Transient, o)
			transientFailuresTotal.WithLabelValues(string(op), o.Reason).Inc()
			continue
		}
		if _, dup := seen[o.Token]; dup {
			continue
		}
		seen[o.Token] = struct{}{}

		users, err := r.store.DeactivateToken(ctx, o.Token)
		if err != nil {
			r.logger.Error("Failed to deactivate device token", "operation", op, "reason", o.Reason, "err", err)
			continue
		}
		sum.Deactivated = append(sum.Deactivated, o.Token)
		tokensDeactivatedTotal.WithLabelValues(string(op)).Inc()
		r.logger.Info("Deactivated device token", "operation", op, "reason", o.Reason, "users", users)
	}

	if len(sum.Transient) > 0 {
		r.logger.Error("Provider reported non-fatal token failures",
			"operation", op,
			"count", len(sum.Transient),
			"reasons", reasons(sum.Transient),
		)
	}
	return sum
}

// IsPermanentlyInvalid reports whether reason means the token will never be
// deliverable again. Both canonical codes and the SDK's topic-management
// spellings are accepted.
func IsPermanentlyInvalid(reason string) bool {
	switch strings.ToUpper(strings.ReplaceAll(reason, "-", "_")) {
	case push.ReasonUnregistered,
		push.ReasonNotFound,
		push.ReasonSenderIDMismatch,
		"REGISTRATION_TOKEN_NOT_REGISTERED",
		"NOT_REGISTERED",
		"ENTITY_NOT_FOUND":
		return true
	}
	return false
}

func reasons(outcomes []push.Outcome) map[string]int {
	counts := make(map[string]int)
	for _, o := range outcomes {
		counts[o.Reason]++
	}
	return counts
}
