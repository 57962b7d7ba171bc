package firestore

import (
	"context"
	"fmt"
	"sort"

	"cloud.google.com/go/firestore"
	"github.com/tinywideclouds/go-push-relay/pkg/push"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func (s *FirestoreStore) tokenRef(userID, token string) *firestore.DocumentRef {
	return s.client.Collection(tokensCollection).Doc(docID(userID, token))
}

// AddToken relies on Create failing with AlreadyExists for idempotency.
func (s *FirestoreStore) AddToken(ctx context.Context, t push.DeviceToken) (bool, error) {
	now := s.now()
	t.CreatedAt, t.UpdatedAt = now, now

	_, err := s.tokenRef(t.UserID, t.Token).Create(ctx, t)
	if status.Code(err) == codes.AlreadyExists {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create device token: %w", err)
	}
	return true, nil
}

func (s *FirestoreStore) RemoveToken(ctx context.Context, project, site, userID, token string) error {
	ref := s.tokenRef(userID, token)
	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return nil
		}
		if err != nil {
			return err
		}
		var existing push.DeviceToken
		if err := snap.DataTo(&existing); err != nil {
			return err
		}
		if existing.Project != project || existing.Site != site {
			return nil
		}
		return tx.Delete(ref)
	})
}

func (s *FirestoreStore) UserTokens(ctx context.Context, filter push.TokenFilter) ([]push.DeviceToken, error) {
	q := s.client.Collection(tokensCollection).Where("user_id", "==", filter.UserID)
	if filter.Project != "" {
		q = q.Where("project", "==", filter.Project)
	}
	if filter.Site != "" {
		q = q.Where("site", "==", filter.Site)
	}
	tokens, err := s.collectTokens(ctx, q)
	if err != nil {
		return nil, err
	}
	sortByCreated(tokens)
	return tokens, nil
}

func (s *FirestoreStore) TokensForUsers(ctx context.Context, userIDs []string) ([]push.DeviceToken, error) {
	var all []push.DeviceToken
	for _, chunk := range chunkStrings(userIDs, maxInValues) {
		q := s.client.Collection(tokensCollection).Where("user_id", "in", chunk)
		tokens, err := s.collectTokens(ctx, q)
		if err != nil {
			return nil, err
		}
		all = append(all, tokens...)
	}
	sortByCreated(all)
	return all, nil
}

// DeactivateToken flips is_active on every record holding token. Already
// inactive records are not touched.
func (s *FirestoreStore) DeactivateToken(ctx context.Context, token string) ([]string, error) {
	q := s.client.Collection(tokensCollection).
		Where("token", "==", token).
		Where("is_active", "==", true)

	var users []string
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		users = users[:0]
		docs, err := tx.Documents(q).GetAll()
		if err != nil {
			return err
		}
		now := s.now()
		for _, doc := range docs {
			var t push.DeviceToken
			if err := doc.DataTo(&t); err != nil {
				return err
			}
			if err := tx.Update(doc.Ref, []firestore.Update{
				{Path: "is_active", Value: false},
				{Path: "updated_at", Value: now},
			}); err != nil {
				return err
			}
			users = append(users, t.UserID)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to deactivate token: %w", err)
	}
	return users, nil
}

func (s *FirestoreStore) collectTokens(ctx context.Context, q firestore.Query) ([]push.DeviceToken, error) {
	iter := q.Documents(ctx)
	defer iter.Stop()

	var tokens []push.DeviceToken
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}
		var t push.DeviceToken
		if err := doc.DataTo(&t); err != nil {
			s.logger.Warn("Skipping malformed device token", "doc_id", doc.Ref.ID, "err", err)
			continue
		}
		tokens = append(tokens, t)
	}
	return tokens, nil
}

func sortByCreated(tokens []push.DeviceToken) {
	sort.SliceStable(tokens, func(i, j int) bool {
		return tokens[i].CreatedAt.Before(tokens[j].CreatedAt)
	})
}
