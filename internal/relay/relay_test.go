package relay_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-relay/internal/dispatch"
	"github.com/tinywideclouds/go-push-relay/internal/membership"
	"github.com/tinywideclouds/go-push-relay/internal/reconcile"
	"github.com/tinywideclouds/go-push-relay/internal/relay"
	"github.com/tinywideclouds/go-push-relay/internal/resolver"
	"github.com/tinywideclouds/go-push-relay/internal/storage/memory"
	"github.com/tinywideclouds/go-push-relay/pkg/push"
)

type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) SendMulticast(ctx context.Context, msg push.Message, tokens []string) ([]push.Outcome, error) {
	args := m.Called(ctx, msg, tokens)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]push.Outcome), args.Error(1)
}

func (m *MockProvider) SubscribeToTopic(ctx context.Context, tokens []string, topic string) ([]push.Outcome, error) {
	args := m.Called(ctx, tokens, topic)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]push.Outcome), args.Error(1)
}

func (m *MockProvider) UnsubscribeFromTopic(ctx context.Context, tokens []string, topic string) ([]push.Outcome, error) {
	args := m.Called(ctx, tokens, topic)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]push.Outcome), args.Error(1)
}

type harness struct {
	store    *memory.Store
	provider *MockProvider
	svc      *relay.Service
}

func newHarness() *harness {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.NewStore()
	provider := new(MockProvider)
	res := resolver.NewResolver(store, logger)
	rec := reconcile.NewReconciler(store, logger)
	svc := relay.NewService(
		relay.ClientConfig{PublicKey: "BPubKey", ProviderConfig: json.RawMessage(`{"projectId":"demo"}`)},
		res,
		dispatch.NewEngine(provider, store, logger),
		rec,
		membership.NewManager(store, provider, res, rec, logger),
		logger,
	)
	return &harness{store: store, provider: provider, svc: svc}
}

func (h *harness) addDevice(t *testing.T, user, token string) {
	t.Helper()
	_, err := h.svc.AddDevice(context.Background(), membership.Device{Project: "p", Site: "s", UserID: user, Token: token})
	require.NoError(t, err)
}

func (h *harness) token(t *testing.T, user, token string) push.DeviceToken {
	t.Helper()
	tokens, err := h.store.UserTokens(context.Background(), push.TokenFilter{UserID: user})
	require.NoError(t, err)
	for _, tok := range tokens {
		if tok.Token == token {
			return tok
		}
	}
	t.Fatalf("token %s not stored", token)
	return push.DeviceToken{}
}

func TestGetConfig(t *testing.T) {
	h := newHarness()
	cfg := h.svc.GetConfig()
	assert.Equal(t, "BPubKey", cfg.PublicKey)
	assert.JSONEq(t, `{"projectId":"demo"}`, string(cfg.ProviderConfig))
}

func TestSendToUser(t *testing.T) {
	ctx := context.Background()

	t.Run("no tokens", func(t *testing.T) {
		h := newHarness()

		res, err := h.svc.SendToUser(ctx, relay.UserNotification{Project: "p", Site: "s", UserID: "nobody", Title: "Hi"})

		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Zero(t, res.SuccessCount)
		assert.Zero(t, res.FailureCount)
		h.provider.AssertNotCalled(t, "SendMulticast", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("unregistered token is deactivated", func(t *testing.T) {
		h := newHarness()
		h.addDevice(t, "alice", "dead")
		h.addDevice(t, "alice", "alive")

		h.provider.On("SendMulticast", mock.Anything, mock.Anything, []string{"dead", "alive"}).Return([]push.Outcome{
			{Reason: push.ReasonUnregistered},
			{Success: true, MessageID: "m-1"},
		}, nil)

		res, err := h.svc.SendToUser(ctx, relay.UserNotification{
			Project: "p", Site: "s", UserID: "alice",
			Title: "Invoice overdue", Body: "INV-001",
			DataJSON: `{"click_action":"http://erp.example.com:8000/app/invoice/INV-001"}`,
		})

		require.NoError(t, err)
		assert.Equal(t, 1, res.SuccessCount)
		assert.Equal(t, 1, res.FailureCount)
		assert.False(t, h.token(t, "alice", "dead").IsActive)
		assert.True(t, h.token(t, "alice", "alive").IsActive)

		entry, err := h.store.GetLog(ctx, res.LogID)
		require.NoError(t, err)
		assert.Equal(t, push.LogFailed, entry.Status)
		assert.Equal(t, 1, entry.SuccessCount)
		assert.Equal(t, 1, entry.FailureCount)
	})

	t.Run("transient failure keeps token", func(t *testing.T) {
		h := newHarness()
		h.addDevice(t, "bob", "b1")
		h.provider.On("SendMulticast", mock.Anything, mock.Anything, []string{"b1"}).Return([]push.Outcome{
			{Reason: push.ReasonInternal},
		}, nil)

		res, err := h.svc.SendToUser(ctx, relay.UserNotification{Project: "p", Site: "s", UserID: "bob", Title: "Hi"})

		require.NoError(t, err)
		assert.Equal(t, push.StatusFailed, res.Status)
		assert.True(t, h.token(t, "bob", "b1").IsActive)
	})

	t.Run("deactivated tokens are not targeted again", func(t *testing.T) {
		h := newHarness()
		h.addDevice(t, "carol", "c1")
		_, err := h.store.DeactivateToken(ctx, "c1")
		require.NoError(t, err)

		res, err := h.svc.SendToUser(ctx, relay.UserNotification{Project: "p", Site: "s", UserID: "carol", Title: "Hi"})
		require.NoError(t, err)
		assert.Equal(t, push.StatusNoTargets, res.Status)
	})

	t.Run("malformed data", func(t *testing.T) {
		h := newHarness()
		_, err := h.svc.SendToUser(ctx, relay.UserNotification{UserID: "alice", Title: "Hi", DataJSON: "{"})
		assert.ErrorIs(t, err, push.ErrInvalidInput)
	})

	t.Run("provider down", func(t *testing.T) {
		h := newHarness()
		h.addDevice(t, "dave", "d1")
		h.provider.On("SendMulticast", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("503"))

		_, err := h.svc.SendToUser(ctx, relay.UserNotification{Project: "p", Site: "s", UserID: "dave", Title: "Hi"})
		assert.ErrorIs(t, err, push.ErrProviderCall)
		assert.True(t, h.token(t, "dave", "d1").IsActive)
	})
}

func TestSendToTopic(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.addDevice(t, "alice", "a1")
	h.addDevice(t, "bob", "b1")

	h.provider.On("SubscribeToTopic", mock.Anything, mock.Anything, "general").Return([]push.Outcome{{Success: true}}, nil)
	_, err := h.svc.Subscribe(ctx, "alice", "General")
	require.NoError(t, err)
	_, err = h.svc.Subscribe(ctx, "bob", "general")
	require.NoError(t, err)

	h.provider.On("SendMulticast", mock.Anything, mock.MatchedBy(func(msg push.Message) bool {
		return msg.Content.Title == "New message"
	}), []string{"b1"}).Return([]push.Outcome{{Success: true}}, nil).Once()

	res, err := h.svc.SendToTopic(ctx, relay.TopicNotification{
		TopicName: "GENERAL",
		Title:     "New message",
		DataJSON:  `{"from_user":"alice"}`,
	})

	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.SuccessCount)
	h.provider.AssertExpectations(t)

	t.Run("unknown topic has no targets", func(t *testing.T) {
		res, err := h.svc.SendToTopic(ctx, relay.TopicNotification{TopicName: "ghost", Title: "x"})
		require.NoError(t, err)
		assert.Equal(t, push.StatusNoTargets, res.Status)
	})
}
