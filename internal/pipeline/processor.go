package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-push-relay/internal/relay"
	"github.com/tinywideclouds/go-push-relay/pkg/push"
)

// Sender is the part of the relay the pipeline drives.
type Sender interface {
	SendToUser(ctx context.Context, n relay.UserNotification) (*push.DispatchResult, error)
	SendToTopic(ctx context.Context, n relay.TopicNotification) (*push.DispatchResult, error)
}

// NewProcessor runs each command through the relay. Invalid commands are
// logged and acknowledged; any other failure is returned so the message is
// redelivered.
func NewProcessor(sender Sender, logger *slog.Logger) messagepipeline.StreamProcessor[DispatchCommand] {
	logger = logger.With("component", "DispatchProcessor")

	return func(ctx context.Context, original messagepipeline.Message, cmd *DispatchCommand) error {
		procLogger := logger.With(
			"type", cmd.Type,
			"pubsub_msg_id", original.ID,
		)

		data, err := relay.DataString(cmd.Data)
		if err != nil {
			procLogger.Warn("Dropping command with unusable data", "err", err)
			return nil
		}

		var res *push.DispatchResult
		switch cmd.Type {
		case push.AddresseeTopic:
			res, err = sender.SendToTopic(ctx, cmd.topicNotification(data))
		default:
			res, err = sender.SendToUser(ctx, cmd.userNotification(data))
		}

		if err != nil {
			if errors.Is(err, push.ErrInvalidInput) {
				procLogger.Warn("Dropping invalid command", "err", err)
				return nil
			}
			procLogger.Error("Dispatch failed; message will be redelivered", "err", err)
			return err
		}

		switch res.Status {
		case push.StatusNoTargets:
			procLogger.Info("No devices for addressee; dropping notification.")
		default:
			procLogger.Info("Dispatched",
				"status", res.Status,
				"log_id", res.LogID,
				"success", res.SuccessCount,
				"failure", res.FailureCount,
			)
		}
		return nil
	}
}
