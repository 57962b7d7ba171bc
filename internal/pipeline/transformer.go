package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
)

// DispatchCommandTransformer unmarshals and validates a raw payload. Invalid
// messages are skipped so the streaming service can route them to the DLQ.
func DispatchCommandTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*DispatchCommand, bool, error) {
	var cmd DispatchCommand
	if err := json.Unmarshal(msg.Payload, &cmd); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal dispatch command from message %s: %w", msg.ID, err)
	}
	if err := cmd.Validate(); err != nil {
		return nil, true, fmt.Errorf("invalid dispatch command in message %s: %w", msg.ID, err)
	}
	return &cmd, false, nil
}
