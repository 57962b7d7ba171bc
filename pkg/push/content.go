package push

import "fmt"

// NotificationContent is the provider-agnostic notification payload.
// Optional fields are omitted from the wire message when empty.
type NotificationContent struct {
	Title       string            `json:"title"`
	Body        string            `json:"body,omitempty"`
	Icon        string            `json:"icon,omitempty"`
	ClickAction string            `json:"click_action,omitempty"`
	BaseURL     string            `json:"base_url,omitempty"`
	Data        map[string]string `json:"data,omitempty"`
}

// Validate checks the fields every dispatch needs.
func (c NotificationContent) Validate() error {
	if c.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	return nil
}

// DataPayload builds the side "data" map sent with the notification. Keys are
// only present when they carry a value.
func (c NotificationContent) DataPayload() map[string]string {
	data := make(map[string]string, len(c.Data)+2)
	for k, v := range c.Data {
		if v != "" {
			data[k] = v
		}
	}
	if c.BaseURL != "" {
		data["base_url"] = c.BaseURL
	}
	if c.ClickAction != "" {
		data["click_action"] = c.ClickAction
	}
	return data
}
