// Package memory provides an in-process implementation of push.Store. It backs
// the "memory" store type for local runs and is the registry used by unit tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tinywideclouds/go-push-relay/pkg/push"
)

type tokenKey struct {
	userID string
	token  string
}

type memberKey struct {
	topic  string
	userID string
}

// Store is a mutex-guarded registry. Records are returned by value so callers
// cannot mutate stored state.
type Store struct {
	mu      sync.RWMutex
	now     func() time.Time
	tokens  map[tokenKey]push.DeviceToken
	order   []tokenKey
	topics  map[string]push.Topic
	members map[memberKey]push.Membership
	logs    map[string]push.NotificationLog
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		now:     time.Now,
		tokens:  make(map[tokenKey]push.DeviceToken),
		topics:  make(map[string]push.Topic),
		members: make(map[memberKey]push.Membership),
		logs:    make(map[string]push.NotificationLog),
	}
}

// WithClock replaces the time source; used by retention tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// --- Tokens ---

func (s *Store) AddToken(_ context.Context, t push.DeviceToken) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := tokenKey{userID: t.UserID, token: t.Token}
	if _, ok := s.tokens[key]; ok {
		return false, nil
	}
	now := s.now()
	t.CreatedAt, t.UpdatedAt = now, now
	s.tokens[key] = t
	s.order = append(s.order, key)
	return true, nil
}

func (s *Store) RemoveToken(_ context.Context, project, site, userID, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := tokenKey{userID: userID, token: token}
	existing, ok := s.tokens[key]
	if !ok || existing.Project != project || existing.Site != site {
		return nil
	}
	delete(s.tokens, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Store) UserTokens(_ context.Context, filter push.TokenFilter) ([]push.DeviceToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []push.DeviceToken
	for _, key := range s.order {
		if t := s.tokens[key]; filter.Matches(t) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Store) TokensForUsers(_ context.Context, userIDs []string) ([]push.DeviceToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		wanted[id] = struct{}{}
	}
	var out []push.DeviceToken
	for _, key := range s.order {
		if _, ok := wanted[key.userID]; ok {
			out = append(out, s.tokens[key])
		}
	}
	return out, nil
}

func (s *Store) DeactivateToken(_ context.Context, token string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var users []string
	for _, key := range s.order {
		t := s.tokens[key]
		if t.Token != token || !t.IsActive {
			continue
		}
		t.IsActive = false
		t.UpdatedAt = s.now()
		s.tokens[key] = t
		users = append(users, t.UserID)
	}
	return users, nil
}

// --- Topics ---

func (s *Store) EnsureTopic(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.topics[name]; ok {
		return false, nil
	}
	s.topics[name] = push.Topic{Name: name, CreatedAt: s.now()}
	return true, nil
}

func (s *Store) TopicExists(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.topics[name]
	return ok, nil
}

func (s *Store) DeleteTopic(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.members {
		if key.topic == name {
			delete(s.members, key)
		}
	}
	delete(s.topics, name)
	return nil
}

func (s *Store) AddMembership(_ context.Context, topic, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.topics[topic]; !ok {
		return false, fmt.Errorf("add membership %s/%s: %w", topic, userID, push.ErrTopicNotFound)
	}
	key := memberKey{topic: topic, userID: userID}
	if _, ok := s.members[key]; ok {
		return false, nil
	}
	s.members[key] = push.Membership{Topic: topic, UserID: userID, CreatedAt: s.now()}
	return true, nil
}

func (s *Store) HasMembership(_ context.Context, topic, userID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.members[memberKey{topic: topic, userID: userID}]
	return ok, nil
}

func (s *Store) RemoveMembership(_ context.Context, topic, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.members, memberKey{topic: topic, userID: userID})
	return nil
}

func (s *Store) Members(_ context.Context, topic, excludeUserID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var users []string
	for key := range s.members {
		if key.topic == topic && (excludeUserID == "" || key.userID != excludeUserID) {
			users = append(users, key.userID)
		}
	}
	sort.Strings(users)
	return users, nil
}

func (s *Store) UserTopics(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var topics []string
	for key := range s.members {
		if key.userID == userID {
			topics = append(topics, key.topic)
		}
	}
	sort.Strings(topics)
	return topics, nil
}

// MembershipCount counts membership rows referencing topic.
func (s *Store) MembershipCount(topic string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for key := range s.members {
		if key.topic == topic {
			n++
		}
	}
	return n
}

// --- Logs ---

func (s *Store) CreateLog(_ context.Context, l *push.NotificationLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l.ID == "" {
		return fmt.Errorf("%w: log id is required", push.ErrInvalidInput)
	}
	now := s.now()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	l.UpdatedAt = now
	s.logs[l.ID] = *l
	return nil
}

func (s *Store) UpdateLog(_ context.Context, l *push.NotificationLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.logs[l.ID]; !ok {
		return fmt.Errorf("notification log %s not found", l.ID)
	}
	l.UpdatedAt = s.now()
	s.logs[l.ID] = *l
	return nil
}

func (s *Store) GetLog(_ context.Context, id string) (*push.NotificationLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.logs[id]
	if !ok {
		return nil, fmt.Errorf("notification log %s not found", id)
	}
	return &l, nil
}

func (s *Store) DeleteLogsBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, l := range s.logs {
		if l.UpdatedAt.Before(cutoff) {
			delete(s.logs, id)
			n++
		}
	}
	return n, nil
}
