// Package pipeline ingests dispatch commands from Pub/Sub and runs them
// through the relay.
package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/tinywideclouds/go-push-relay/internal/relay"
	"github.com/tinywideclouds/go-push-relay/pkg/push"
)

// DispatchCommand is the JSON body of an ingested message. Type selects the
// addressee; user commands need user_id, topic commands need topic_name.
type DispatchCommand struct {
	Type      push.AddresseeType `json:"type"`
	Project   string             `json:"project_name,omitempty"`
	Site      string             `json:"site_name,omitempty"`
	UserID    string             `json:"user_id,omitempty"`
	TopicName string             `json:"topic_name,omitempty"`
	Title     string             `json:"title"`
	Body      string             `json:"body,omitempty"`
	Data      json.RawMessage    `json:"data,omitempty"`
}

// Validate checks the fields required for the command's type.
func (c *DispatchCommand) Validate() error {
	switch c.Type {
	case push.AddresseeUser:
		if c.UserID == "" {
			return fmt.Errorf("%w: user command without user_id", push.ErrInvalidInput)
		}
	case push.AddresseeTopic:
		if c.TopicName == "" {
			return fmt.Errorf("%w: topic command without topic_name", push.ErrInvalidInput)
		}
	default:
		return fmt.Errorf("%w: unknown command type %q", push.ErrInvalidInput, c.Type)
	}
	if c.Title == "" {
		return fmt.Errorf("%w: title is required", push.ErrInvalidInput)
	}
	return nil
}

func (c *DispatchCommand) userNotification(data string) relay.UserNotification {
	return relay.UserNotification{
		Project:  c.Project,
		Site:     c.Site,
		UserID:   c.UserID,
		Title:    c.Title,
		Body:     c.Body,
		DataJSON: data,
	}
}

func (c *DispatchCommand) topicNotification(data string) relay.TopicNotification {
	return relay.TopicNotification{
		TopicName: c.TopicName,
		Title:     c.Title,
		Body:      c.Body,
		DataJSON:  data,
	}
}
