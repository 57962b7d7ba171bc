package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"cloud.google.com/go/firestore"
	"github.com/tinywideclouds/go-push-relay/pkg/push"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func (s *FirestoreStore) topicRef(name string) *firestore.DocumentRef {
	return s.client.Collection(topicsCollection).Doc(docID(name))
}

func (s *FirestoreStore) memberRef(topic, userID string) *firestore.DocumentRef {
	return s.client.Collection(membersCollection).Doc(docID(topic, userID))
}

func (s *FirestoreStore) EnsureTopic(ctx context.Context, name string) (bool, error) {
	_, err := s.topicRef(name).Create(ctx, push.Topic{Name: name, CreatedAt: s.now()})
	if status.Code(err) == codes.AlreadyExists {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create topic: %w", err)
	}
	return true, nil
}

func (s *FirestoreStore) TopicExists(ctx context.Context, name string) (bool, error) {
	_, err := s.topicRef(name).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get topic: %w", err)
	}
	return true, nil
}

// DeleteTopic removes the topic document first so concurrent AddMembership
// transactions fail, then sweeps the topic's membership documents. The sweep
// runs even when the topic document is already gone, so a repeated call
// clears memberships left by an interrupted one.
func (s *FirestoreStore) DeleteTopic(ctx context.Context, name string) error {
	if _, err := s.topicRef(name).Delete(ctx); err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("failed to delete topic: %w", err)
	}
	n, err := s.deleteQuery(ctx, s.client.Collection(membersCollection).Where("topic", "==", name))
	if err != nil {
		return fmt.Errorf("failed to delete memberships of topic %s: %w", name, err)
	}
	s.logger.Debug("Topic deleted", "topic", name, "memberships", n)
	return nil
}

var errTopicGone = errors.New("topic gone")

func (s *FirestoreStore) AddMembership(ctx context.Context, topic, userID string) (bool, error) {
	created := false
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		created = false
		if _, err := tx.Get(s.topicRef(topic)); err != nil {
			if status.Code(err) == codes.NotFound {
				return errTopicGone
			}
			return err
		}
		ref := s.memberRef(topic, userID)
		_, err := tx.Get(ref)
		if err == nil {
			return nil
		}
		if status.Code(err) != codes.NotFound {
			return err
		}
		created = true
		return tx.Create(ref, push.Membership{Topic: topic, UserID: userID, CreatedAt: s.now()})
	})
	if errors.Is(err, errTopicGone) {
		return false, fmt.Errorf("add membership %s/%s: %w", topic, userID, push.ErrTopicNotFound)
	}
	if err != nil {
		return false, fmt.Errorf("failed to add membership: %w", err)
	}
	return created, nil
}

func (s *FirestoreStore) HasMembership(ctx context.Context, topic, userID string) (bool, error) {
	_, err := s.memberRef(topic, userID).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get membership: %w", err)
	}
	return true, nil
}

func (s *FirestoreStore) RemoveMembership(ctx context.Context, topic, userID string) error {
	if _, err := s.memberRef(topic, userID).Delete(ctx); err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("failed to delete membership: %w", err)
	}
	return nil
}

func (s *FirestoreStore) Members(ctx context.Context, topic, excludeUserID string) ([]string, error) {
	memberships, err := s.memberships(ctx, s.client.Collection(membersCollection).Where("topic", "==", topic))
	if err != nil {
		return nil, err
	}
	users := make([]string, 0, len(memberships))
	for _, m := range memberships {
		if excludeUserID != "" && m.UserID == excludeUserID {
			continue
		}
		users = append(users, m.UserID)
	}
	sort.Strings(users)
	return users, nil
}

func (s *FirestoreStore) UserTopics(ctx context.Context, userID string) ([]string, error) {
	memberships, err := s.memberships(ctx, s.client.Collection(membersCollection).Where("user_id", "==", userID))
	if err != nil {
		return nil, err
	}
	topics := make([]string, 0, len(memberships))
	for _, m := range memberships {
		topics = append(topics, m.Topic)
	}
	sort.Strings(topics)
	return topics, nil
}

func (s *FirestoreStore) memberships(ctx context.Context, q firestore.Query) ([]push.Membership, error) {
	iter := q.Documents(ctx)
	defer iter.Stop()

	var out []push.Membership
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}
		var m push.Membership
		if err := doc.DataTo(&m); err != nil {
			s.logger.Warn("Skipping malformed membership", "doc_id", doc.Ref.ID, "err", err)
			continue
		}
		out = append(out, m)
	}
	return out, nil
}
