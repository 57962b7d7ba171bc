package push_test

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-relay/pkg/push"
)

var topicCharset = regexp.MustCompile(`^[A-Za-z0-9_~-]*$`)

func TestNormalizeTopicName(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "already canonical", input: "project-updates", expected: "project-updates"},
		{name: "case and punctuation", input: "My Topic!", expected: "mytopic"},
		{name: "surrounding whitespace", input: "  Alerts \t", expected: "alerts"},
		{name: "internal whitespace", input: "a b\tc\nd", expected: "abcd"},
		{name: "allowed symbols kept", input: "A_b~C-d", expected: "a_b~c-d"},
		{name: "non ascii stripped", input: "café/π.topic", expected: "caftopic"},
		{name: "empty", input: "   ", expected: ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, push.NormalizeTopicName(tc.input))
		})
	}
}

func TestNormalizeTopicName_Properties(t *testing.T) {
	inputs := []string{
		"My Topic!",
		"my-topic",
		"  ÜBER   topic ~~ ",
		"Kİ mixed",
		strings.Repeat("Ab c!", 400),
		strings.Repeat("x", 2000),
		"",
	}

	for _, in := range inputs {
		once := push.NormalizeTopicName(in)
		assert.Equal(t, once, push.NormalizeTopicName(once), "normalization must be idempotent for %q", in)
		assert.LessOrEqual(t, len(once), push.MaxTopicNameLength)
		assert.Regexp(t, topicCharset, once)
	}
}

func TestNormalizeTopicName_DistinctNames(t *testing.T) {
	// Hyphens survive normalization, so these name two different topics.
	assert.Equal(t, "mytopic", push.NormalizeTopicName("My Topic!"))
	assert.Equal(t, "my-topic", push.NormalizeTopicName("my-topic"))
	assert.NotEqual(t, push.NormalizeTopicName("My Topic!"), push.NormalizeTopicName("my-topic"))
	assert.Equal(t, push.NormalizeTopicName("My Topic!"), push.NormalizeTopicName("MYTOPIC"))
}

func TestNormalizeTopicName_Truncates(t *testing.T) {
	got := push.NormalizeTopicName(strings.Repeat("ab", 600))
	assert.Len(t, got, push.MaxTopicNameLength)
}

func TestRequireTopicName(t *testing.T) {
	name, err := push.RequireTopicName(" Team Chat ")
	require.NoError(t, err)
	assert.Equal(t, "teamchat", name)

	_, err = push.RequireTopicName("!!!")
	require.Error(t, err)
	assert.ErrorIs(t, err, push.ErrInvalidInput)
}
