package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/tinywideclouds/go-push-relay/pkg/push"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func (s *FirestoreStore) logRef(id string) *firestore.DocumentRef {
	return s.client.Collection(logsCollection).Doc(id)
}

func (s *FirestoreStore) CreateLog(ctx context.Context, l *push.NotificationLog) error {
	if l.ID == "" {
		return fmt.Errorf("%w: log id is required", push.ErrInvalidInput)
	}
	now := s.now()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	l.UpdatedAt = now
	if _, err := s.logRef(l.ID).Create(ctx, l); err != nil {
		return fmt.Errorf("failed to create notification log: %w", err)
	}
	return nil
}

func (s *FirestoreStore) UpdateLog(ctx context.Context, l *push.NotificationLog) error {
	l.UpdatedAt = s.now()
	_, err := s.logRef(l.ID).Update(ctx, []firestore.Update{
		{Path: "status", Value: l.Status},
		{Path: "error_message", Value: l.ErrorMessage},
		{Path: "success_count", Value: l.SuccessCount},
		{Path: "failure_count", Value: l.FailureCount},
		{Path: "updated_at", Value: l.UpdatedAt},
	})
	if err != nil {
		return fmt.Errorf("failed to update notification log %s: %w", l.ID, err)
	}
	return nil
}

func (s *FirestoreStore) GetLog(ctx context.Context, id string) (*push.NotificationLog, error) {
	snap, err := s.logRef(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, fmt.Errorf("notification log %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get notification log: %w", err)
	}
	var l push.NotificationLog
	if err := snap.DataTo(&l); err != nil {
		return nil, fmt.Errorf("failed to decode notification log: %w", err)
	}
	return &l, nil
}

func (s *FirestoreStore) DeleteLogsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	return s.deleteQuery(ctx, s.client.Collection(logsCollection).Where("updated_at", "<", cutoff))
}
