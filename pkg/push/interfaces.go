package push

import (
	"context"
	"time"
)

// Message is what a provider fans out to every target of a multicast.
type Message struct {
	Content NotificationContent
	Data    map[string]string
}

// Provider is the delivery provider capability the core depends on. Every
// call returns one Outcome per input token, index-aligned with tokens, or an
// error when the call as a whole was rejected.
type Provider interface {
	SendMulticast(ctx context.Context, msg Message, tokens []string) ([]Outcome, error)
	SubscribeToTopic(ctx context.Context, tokens []string, topic string) ([]Outcome, error)
	UnsubscribeFromTopic(ctx context.Context, tokens []string, topic string) ([]Outcome, error)
}

// TokenStore persists DeviceToken records.
type TokenStore interface {
	// AddToken inserts t unless a record with the same (UserID, Token) exists.
	// created reports whether a new record was written.
	AddToken(ctx context.Context, t DeviceToken) (created bool, err error)
	// RemoveToken hard-deletes the record matching all four fields. Nothing
	// matching is not an error.
	RemoveToken(ctx context.Context, project, site, userID, token string) error
	// UserTokens returns every record (active or not) matching the filter.
	UserTokens(ctx context.Context, filter TokenFilter) ([]DeviceToken, error)
	// TokensForUsers returns every record belonging to any of userIDs.
	TokensForUsers(ctx context.Context, userIDs []string) ([]DeviceToken, error)
	// DeactivateToken marks every record holding token inactive and returns
	// the users whose records changed.
	DeactivateToken(ctx context.Context, token string) ([]string, error)
}

// TopicStore persists topics and their memberships. Topic names passed in are
// already normalized.
type TopicStore interface {
	EnsureTopic(ctx context.Context, name string) (created bool, err error)
	TopicExists(ctx context.Context, name string) (bool, error)
	// DeleteTopic removes the topic and every membership referencing it atomically.
	DeleteTopic(ctx context.Context, name string) error
	// AddMembership creates the (topic, user) edge unless it exists. It returns
	// ErrTopicNotFound if the topic no longer exists.
	AddMembership(ctx context.Context, topic, userID string) (created bool, err error)
	HasMembership(ctx context.Context, topic, userID string) (bool, error)
	RemoveMembership(ctx context.Context, topic, userID string) error
	// Members lists the topic's user IDs, leaving out excludeUserID when set.
	Members(ctx context.Context, topic, excludeUserID string) ([]string, error)
	// UserTopics lists the topics userID is a member of.
	UserTopics(ctx context.Context, userID string) ([]string, error)
}

// LogStore persists NotificationLog records.
type LogStore interface {
	CreateLog(ctx context.Context, l *NotificationLog) error
	UpdateLog(ctx context.Context, l *NotificationLog) error
	GetLog(ctx context.Context, id string) (*NotificationLog, error)
	// DeleteLogsBefore removes logs last updated before cutoff and returns how many went.
	DeleteLogsBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// Store is the full registry the relay runs against.
type Store interface {
	TokenStore
	TopicStore
	LogStore
}
