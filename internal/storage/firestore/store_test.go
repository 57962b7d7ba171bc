//go:build integration

package firestore_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/illmade-knight/go-test/emulators"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fs "github.com/tinywideclouds/go-push-relay/internal/storage/firestore"
	"github.com/tinywideclouds/go-push-relay/pkg/push"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupSuite(t *testing.T) (context.Context, *fs.FirestoreStore) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	t.Cleanup(cancel)

	projectID := "test-push-relay"
	conn := emulators.SetupFirestoreEmulator(t, ctx, emulators.GetDefaultFirestoreConfig(projectID))
	client, err := firestore.NewClient(ctx, projectID, conn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := fs.NewFirestoreStore(client, newTestLogger())
	require.NoError(t, err)
	return ctx, store
}

func TestFirestoreStore_Integration(t *testing.T) {
	ctx, store := setupSuite(t)

	t.Run("Token Lifecycle", func(t *testing.T) {
		tok := push.DeviceToken{Project: "erp", Site: "site-a", UserID: "alice", Token: "tok-1", IsActive: true}

		created, err := store.AddToken(ctx, tok)
		require.NoError(t, err)
		assert.True(t, created)

		created, err = store.AddToken(ctx, tok)
		require.NoError(t, err)
		assert.False(t, created, "second add is a no-op")

		tokens, err := store.UserTokens(ctx, push.TokenFilter{UserID: "alice", Project: "erp"})
		require.NoError(t, err)
		require.Len(t, tokens, 1)
		assert.True(t, tokens[0].IsActive)

		tokens, err = store.UserTokens(ctx, push.TokenFilter{UserID: "alice", Project: "other"})
		require.NoError(t, err)
		assert.Empty(t, tokens)

		users, err := store.DeactivateToken(ctx, "tok-1")
		require.NoError(t, err)
		assert.Equal(t, []string{"alice"}, users)

		users, err = store.DeactivateToken(ctx, "tok-1")
		require.NoError(t, err)
		assert.Empty(t, users, "already inactive")

		require.NoError(t, store.RemoveToken(ctx, "wrong", "site-a", "alice", "tok-1"))
		tokens, err = store.UserTokens(ctx, push.TokenFilter{UserID: "alice"})
		require.NoError(t, err)
		assert.Len(t, tokens, 1, "project mismatch keeps the record")

		require.NoError(t, store.RemoveToken(ctx, "erp", "site-a", "alice", "tok-1"))
		tokens, err = store.UserTokens(ctx, push.TokenFilter{UserID: "alice"})
		require.NoError(t, err)
		assert.Empty(t, tokens)
	})

	t.Run("Tokens For Many Users", func(t *testing.T) {
		var users []string
		for i := 0; i < 35; i++ {
			u := "bulk-" + string(rune('a'+i%26)) + string(rune('0'+i/26))
			users = append(users, u)
			_, err := store.AddToken(ctx, push.DeviceToken{Project: "p", Site: "s", UserID: u, Token: u + "-tok", IsActive: true})
			require.NoError(t, err)
		}
		tokens, err := store.TokensForUsers(ctx, users)
		require.NoError(t, err)
		assert.Len(t, tokens, 35)
	})

	t.Run("Topic And Membership Cascade", func(t *testing.T) {
		created, err := store.EnsureTopic(ctx, "ops")
		require.NoError(t, err)
		assert.True(t, created)

		created, err = store.AddMembership(ctx, "ops", "alice")
		require.NoError(t, err)
		assert.True(t, created)
		created, err = store.AddMembership(ctx, "ops", "alice")
		require.NoError(t, err)
		assert.False(t, created)
		_, err = store.AddMembership(ctx, "ops", "bob")
		require.NoError(t, err)

		members, err := store.Members(ctx, "ops", "alice")
		require.NoError(t, err)
		assert.Equal(t, []string{"bob"}, members)

		topics, err := store.UserTopics(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, []string{"ops"}, topics)

		require.NoError(t, store.DeleteTopic(ctx, "ops"))

		exists, err := store.TopicExists(ctx, "ops")
		require.NoError(t, err)
		assert.False(t, exists)
		members, err = store.Members(ctx, "ops", "")
		require.NoError(t, err)
		assert.Empty(t, members)

		_, err = store.AddMembership(ctx, "ops", "carol")
		assert.ErrorIs(t, err, push.ErrTopicNotFound)

		topics, err = store.UserTopics(ctx, "bob")
		require.NoError(t, err)
		assert.Empty(t, topics, "no membership may outlive its topic")

		// A repeated delete is a clean no-op sweep.
		require.NoError(t, store.DeleteTopic(ctx, "ops"))
	})

	t.Run("Delete Topic Surfaces Failed Sweep", func(t *testing.T) {
		_, err := store.EnsureTopic(ctx, "sweep")
		require.NoError(t, err)
		_, err = store.AddMembership(ctx, "sweep", "alice")
		require.NoError(t, err)

		cancelled, cancelNow := context.WithCancel(ctx)
		cancelNow()
		err = store.DeleteTopic(cancelled, "sweep")
		require.Error(t, err)

		// Nothing was lost: the retry clears both documents.
		require.NoError(t, store.DeleteTopic(ctx, "sweep"))
		members, err := store.Members(ctx, "sweep", "")
		require.NoError(t, err)
		assert.Empty(t, members)
	})

	t.Run("Log Lifecycle And Retention", func(t *testing.T) {
		entry := &push.NotificationLog{ID: "log-1", Type: push.AddresseeUser, Recipient: "alice", Title: "Hi", Status: push.LogPending}
		require.NoError(t, store.CreateLog(ctx, entry))

		entry.Status = push.LogFailed
		entry.ErrorMessage = "UNREGISTERED"
		entry.FailureCount = 1
		require.NoError(t, store.UpdateLog(ctx, entry))

		got, err := store.GetLog(ctx, "log-1")
		require.NoError(t, err)
		assert.Equal(t, push.LogFailed, got.Status)
		assert.Equal(t, 1, got.FailureCount)

		n, err := store.DeleteLogsBefore(ctx, time.Now().Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		assert.Eventually(t, func() bool {
			_, err := store.GetLog(ctx, "log-1")
			return err != nil
		}, 5*time.Second, 100*time.Millisecond)
	})
}
