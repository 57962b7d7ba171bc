package push

import (
	"fmt"
	"strings"
	"unicode"
)

// MaxTopicNameLength is the longest normalized topic name accepted.
const MaxTopicNameLength = 900

// NormalizeTopicName maps a caller-supplied topic name onto the canonical form
// used for storage, lookups and provider topics: lowercased, whitespace
// removed, restricted to [A-Za-z0-9_~-] and capped at MaxTopicNameLength.
func NormalizeTopicName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if unicode.IsSpace(r) || !allowedTopicRune(r) {
			continue
		}
		b.WriteRune(r)
		if b.Len() == MaxTopicNameLength {
			break
		}
	}
	return b.String()
}

// RequireTopicName normalizes name and rejects names that normalize to nothing.
func RequireTopicName(name string) (string, error) {
	normalized := NormalizeTopicName(name)
	if normalized == "" {
		return "", fmt.Errorf("%w: topic name %q is empty after normalization", ErrInvalidInput, name)
	}
	return normalized, nil
}

func allowedTopicRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '_', r == '~', r == '-':
		return true
	}
	return false
}
