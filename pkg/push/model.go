// Package push contains the public domain model and collaborator contracts of
// the push relay: registry records, notification content, per-target outcomes
// and the Store / Provider interfaces the core depends on.
package push

import "time"

// DeviceToken is a registered delivery token for a single user device.
// Identity is (UserID, Token).
type DeviceToken struct {
	Project   string    `json:"project_name" firestore:"project"`
	Site      string    `json:"site_name" firestore:"site"`
	UserID    string    `json:"user_id" firestore:"user_id"`
	Token     string    `json:"token" firestore:"token"`
	IsActive  bool      `json:"is_active" firestore:"is_active"`
	CreatedAt time.Time `json:"created_at" firestore:"created_at"`
	UpdatedAt time.Time `json:"updated_at" firestore:"updated_at"`
}

// Topic is a named broadcast channel. Name is always normalized.
type Topic struct {
	Name      string    `json:"name" firestore:"name"`
	CreatedAt time.Time `json:"created_at" firestore:"created_at"`
}

// Membership is the (topic, user) edge created by a successful subscribe.
type Membership struct {
	Topic     string    `json:"topic" firestore:"topic"`
	UserID    string    `json:"user_id" firestore:"user_id"`
	CreatedAt time.Time `json:"created_at" firestore:"created_at"`
}

// AddresseeType says whether a dispatch went to a single user or a topic audience.
type AddresseeType string

const (
	AddresseeUser  AddresseeType = "user"
	AddresseeTopic AddresseeType = "topic"
)

// LogStatus is the lifecycle state of a NotificationLog.
type LogStatus string

const (
	LogPending LogStatus = "Pending"
	LogSent    LogStatus = "Sent"
	LogFailed  LogStatus = "Failed"
)

// NotificationLog is the audit record of one dispatch.
type NotificationLog struct {
	ID           string        `json:"id" firestore:"id"`
	Type         AddresseeType `json:"type" firestore:"type"`
	Recipient    string        `json:"recipient" firestore:"recipient"`
	Title        string        `json:"title" firestore:"title"`
	Body         string        `json:"body" firestore:"body"`
	Payload      string        `json:"payload" firestore:"payload"`
	Status       LogStatus     `json:"status" firestore:"status"`
	ErrorMessage string        `json:"error_message,omitempty" firestore:"error_message"`
	SuccessCount int           `json:"success_count" firestore:"success_count"`
	FailureCount int           `json:"failure_count" firestore:"failure_count"`
	CreatedAt    time.Time     `json:"created_at" firestore:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at" firestore:"updated_at"`
}

// TokenFilter selects a user's tokens. Project and Site are optional and
// applied independently when set.
type TokenFilter struct {
	Project string
	Site    string
	UserID  string
}

// Matches reports whether t satisfies the filter.
func (f TokenFilter) Matches(t DeviceToken) bool {
	if t.UserID != f.UserID {
		return false
	}
	if f.Project != "" && t.Project != f.Project {
		return false
	}
	if f.Site != "" && t.Site != f.Site {
		return false
	}
	return true
}
