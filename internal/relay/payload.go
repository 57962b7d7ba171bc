package relay

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/tinywideclouds/go-push-relay/pkg/push"
)

// Reserved keys of the caller-supplied data JSON.
const (
	keyIcon        = "notification_icon"
	keyClickAction = "click_action"
	keyBaseURL     = "base_url"
	keyFromUser    = "from_user"
)

// Payload is the parsed form of a send request's data JSON.
type Payload struct {
	Icon        string
	ClickAction string
	BaseURL     string
	FromUser    string
	Extra       map[string]string
}

// ParsePayload decodes the optional data JSON. An empty string is an empty
// payload; anything that is not a JSON object is ErrInvalidInput.
func ParsePayload(dataJSON string) (Payload, error) {
	var p Payload
	if strings.TrimSpace(dataJSON) == "" {
		return p, nil
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(dataJSON), &raw); err != nil {
		return p, fmt.Errorf("%w: data is not a JSON object: %v", push.ErrInvalidInput, err)
	}

	p.Extra = make(map[string]string, len(raw))
	for k, v := range raw {
		s, err := stringValue(v)
		if err != nil {
			return Payload{}, fmt.Errorf("%w: data field %q: %v", push.ErrInvalidInput, k, err)
		}
		switch k {
		case keyIcon:
			p.Icon = s
		case keyClickAction:
			p.ClickAction = NormalizeURL(s)
		case keyBaseURL:
			p.BaseURL = NormalizeURL(s)
		case keyFromUser:
			p.FromUser = s
		default:
			if s != "" {
				p.Extra[k] = s
			}
		}
	}
	return p, nil
}

// DataString accepts the data field of a request either as an encoded JSON
// string or as an inline object and returns it as JSON text.
func DataString(raw json.RawMessage) (string, error) {
	raw = json.RawMessage(strings.TrimSpace(string(raw)))
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("%w: data: %v", push.ErrInvalidInput, err)
		}
		return s, nil
	}
	return string(raw), nil
}

// Content combines the payload with a title and body.
func (p Payload) Content(title, body string) push.NotificationContent {
	return push.NotificationContent{
		Title:       title,
		Body:        body,
		Icon:        p.Icon,
		ClickAction: p.ClickAction,
		BaseURL:     p.BaseURL,
		Data:        p.Extra,
	}
}

// provider data maps only carry strings
func stringValue(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}

// NormalizeURL forces the https scheme and drops any port and user info.
// Path, query and fragment are kept. Input without a scheme is treated as a
// host-relative URL.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		u, err = url.Parse("https://" + strings.TrimPrefix(raw, "//"))
		if err != nil {
			return raw
		}
	}
	out := url.URL{
		Scheme:   "https",
		Host:     u.Hostname(),
		Path:     u.Path,
		RawPath:  u.RawPath,
		RawQuery: u.RawQuery,
		Fragment: u.Fragment,
	}
	return out.String()
}
