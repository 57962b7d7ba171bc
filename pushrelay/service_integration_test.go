//go:build integration

package pushrelay_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/google/uuid"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/illmade-knight/go-test/emulators"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/tinywideclouds/go-push-relay/internal/membership"
	"github.com/tinywideclouds/go-push-relay/internal/pipeline"
	"github.com/tinywideclouds/go-push-relay/internal/platform/logpush"
	fsStore "github.com/tinywideclouds/go-push-relay/internal/storage/firestore"
	"github.com/tinywideclouds/go-push-relay/pkg/push"
	"github.com/tinywideclouds/go-push-relay/pushrelay"
	"github.com/tinywideclouds/go-push-relay/pushrelay/config"
)

func TestPushRelay_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	t.Cleanup(cancel)

	logger := newTestLogger()
	projectID := "test-project-integ"

	// 1. Emulators
	pubsubConn := emulators.SetupPubsubEmulator(t, ctx, emulators.GetDefaultPubsubConfig(projectID))
	psClient, err := pubsub.NewClient(ctx, projectID, pubsubConn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = psClient.Close() })

	fsConn := emulators.SetupFirestoreEmulator(t, ctx, emulators.GetDefaultFirestoreConfig(projectID))
	fsClient, err := firestore.NewClient(ctx, projectID, fsConn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fsClient.Close() })

	store, err := fsStore.NewFirestoreStore(fsClient, logger)
	require.NoError(t, err)

	startService := func(t *testing.T, subID string) *logpush.Provider {
		t.Helper()
		cfg := &config.Config{ProjectID: projectID, ListenAddr: ":0", NumPipelineWorkers: 2}
		provider := logpush.NewProvider(logger)

		consumer, err := messagepipeline.NewGooglePubsubConsumer(
			messagepipeline.NewGooglePubsubConsumerDefaults(subID), psClient, logger,
		)
		require.NoError(t, err)

		svc, err := pushrelay.New(cfg, pushrelay.Dependencies{
			Relay:          pushrelay.NewRelay(cfg, store, provider, logger),
			Consumer:       consumer,
			AuthMiddleware: noopAuth,
		}, logger)
		require.NoError(t, err)

		svcCtx, svcCancel := context.WithCancel(ctx)
		go func() {
			if err := svc.Start(svcCtx); err != nil && !errors.Is(err, context.Canceled) {
				t.Logf("service.Start() returned an error: %v", err)
			}
		}()
		t.Cleanup(func() {
			svcCancel()
			_ = svc.Shutdown(context.Background())
		})
		return provider
	}

	t.Run("Full Lifecycle: Register -> Ingest -> Dispatch", func(t *testing.T) {
		topicID := "push-success-" + uuid.NewString()
		subID := topicID + "-sub"
		createPubsubResources(t, ctx, psClient, projectID, topicID, subID, nil)

		userID := "integ-user-" + uuid.NewString()
		_, err := store.AddToken(ctx, push.DeviceToken{
			Project: "p", Site: "s", UserID: userID, Token: "web-token-999", IsActive: true,
		})
		require.NoError(t, err)

		provider := startService(t, subID)

		cmd := pipeline.DispatchCommand{Type: push.AddresseeUser, UserID: userID, Title: "Hello"}
		payload, err := json.Marshal(cmd)
		require.NoError(t, err)
		_, err = psClient.Publisher(topicID).Publish(ctx, &pubsub.Message{Data: payload}).Get(ctx)
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			return provider.Calls() == 1
		}, 15*time.Second, 100*time.Millisecond)
	})

	t.Run("Device Add Joins Existing Topics", func(t *testing.T) {
		cfg := &config.Config{ProjectID: projectID}
		provider := logpush.NewProvider(logger)
		relay := pushrelay.NewRelay(cfg, store, provider, logger)

		userID := "member-" + uuid.NewString()
		_, err := relay.AddDevice(ctx, membership.Device{Project: "p", Site: "s", UserID: userID, Token: "t1"})
		require.NoError(t, err)
		_, err = relay.AddTopic(ctx, "Integration News")
		require.NoError(t, err)
		_, err = relay.Subscribe(ctx, userID, "integration news")
		require.NoError(t, err)

		res, err := relay.AddDevice(ctx, membership.Device{Project: "p", Site: "s", UserID: userID, Token: "t2"})
		require.NoError(t, err)
		assert.True(t, res.Changed)
		// subscribe t1, then subscribe t2 on device add
		assert.Equal(t, int64(2), provider.Calls())

		_, err = relay.RemoveTopic(ctx, "integrationnews")
		require.NoError(t, err)
		topics, err := store.UserTopics(ctx, userID)
		require.NoError(t, err)
		assert.Empty(t, topics)
	})

	t.Run("Poison Pill Goes To DLQ", func(t *testing.T) {
		runID := uuid.NewString()
		mainTopicID := "push-main-" + runID
		dlqTopicID := "push-dlq-" + runID

		createPubsubResources(t, ctx, psClient, projectID, dlqTopicID, dlqTopicID+"-sub", nil)
		createPubsubResources(t, ctx, psClient, projectID, mainTopicID, mainTopicID+"-sub", &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     fmt.Sprintf("projects/%s/topics/%s", projectID, dlqTopicID),
			MaxDeliveryAttempts: 5,
		})

		provider := startService(t, mainTopicID+"-sub")

		poisonPayload := []byte(`{"this is not valid json"`)
		_, err := psClient.Publisher(mainTopicID).Publish(ctx, &pubsub.Message{Data: poisonPayload}).Get(ctx)
		require.NoError(t, err)

		dlqSub := psClient.Subscriber(dlqTopicID + "-sub")
		var wg sync.WaitGroup
		wg.Add(1)
		var receivedMsg *pubsub.Message
		go func() {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, 20*time.Second)
			defer cancel()
			err := dlqSub.Receive(cctx, func(ctx context.Context, msg *pubsub.Message) {
				msg.Ack()
				receivedMsg = msg
				cancel()
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				t.Errorf("DLQ Receive returned an unexpected error: %v", err)
			}
		}()
		wg.Wait()

		require.NotNil(t, receivedMsg, "Did not receive message on the DLQ subscription")
		assert.Equal(t, poisonPayload, receivedMsg.Data)
		assert.Zero(t, provider.Calls(), "provider should not be called for a poison pill message")
	})
}

func createPubsubResources(t *testing.T, ctx context.Context, client *pubsub.Client, projectID, topicID, subID string, dlq *pubsubpb.DeadLetterPolicy) {
	t.Helper()
	topicName := fmt.Sprintf("projects/%s/topics/%s", projectID, topicID)
	_, err := client.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: topicName})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.TopicAdminClient.DeleteTopic(context.Background(), &pubsubpb.DeleteTopicRequest{Topic: topicName})
	})

	subName := fmt.Sprintf("projects/%s/subscriptions/%s", projectID, subID)
	sub := &pubsubpb.Subscription{
		Name:               subName,
		Topic:              topicName,
		AckDeadlineSeconds: 10,
		DeadLetterPolicy:   dlq,
		RetryPolicy: &pubsubpb.RetryPolicy{
			MinimumBackoff: &durationpb.Duration{Seconds: 1},
		},
	}
	_, err = client.SubscriptionAdminClient.CreateSubscription(ctx, sub)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.SubscriptionAdminClient.DeleteSubscription(context.Background(), &pubsubpb.DeleteSubscriptionRequest{Subscription: subName})
	})
}
