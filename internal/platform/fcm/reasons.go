package fcm

import (
	"firebase.google.com/go/v4/messaging"
	"github.com/tinywideclouds/go-push-relay/pkg/push"
)

// sendReason maps a per-message send error onto a canonical reason code.
func sendReason(err error) string {
	switch {
	case err == nil:
		return push.ReasonUnknown
	case messaging.IsUnregistered(err):
		return push.ReasonUnregistered
	case messaging.IsSenderIDMismatch(err):
		return push.ReasonSenderIDMismatch
	case messaging.IsInvalidArgument(err):
		return push.ReasonInvalidArgument
	case messaging.IsQuotaExceeded(err):
		return push.ReasonQuotaExceeded
	case messaging.IsUnavailable(err):
		return push.ReasonUnavailable
	case messaging.IsInternal(err):
		return push.ReasonInternal
	case messaging.IsThirdPartyAuthError(err):
		return push.ReasonThirdPartyAuth
	default:
		return push.ReasonUnknown
	}
}

// topicReason maps the reason strings of a topic management response.
func topicReason(reason string) string {
	switch reason {
	case "registration-token-not-registered":
		return push.ReasonNotFound
	case "invalid-argument":
		return push.ReasonInvalidArgument
	case "internal-error":
		return push.ReasonInternal
	case "too-many-topics":
		return push.ReasonTooManyTopics
	default:
		return push.ReasonUnknown
	}
}
