package push

import "errors"

// Error kinds surfaced by the relay. Callers test them with errors.Is; the
// concrete errors wrap them with context.
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrProviderInit       = errors.New("provider initialization failed")
	ErrProviderCall       = errors.New("provider call failed")
	ErrNoDeviceTokens     = errors.New("no device tokens")
	ErrSubscriptionFailed = errors.New("subscription failed for every device")
	ErrTopicNotFound      = errors.New("topic not found")
)
