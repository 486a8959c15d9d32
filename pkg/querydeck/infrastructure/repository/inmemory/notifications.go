package inmemory

import (
	"context"
	"sort"

	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/model"
	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/repository"
)

// FindPreferences returns the owner's preferences or ErrPreferencesNotFound.
func (s *Store) FindPreferences(ctx context.Context, ownerID string) (*model.NotificationPreferences, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.preferences[ownerID]
	if !ok {
		return nil, repository.ErrPreferencesNotFound
	}
	cp := *p
	cp.PushTokens = append([]string(nil), p.PushTokens...)
	return &cp, nil
}

// SavePreferences inserts or replaces the owner's preferences.
func (s *Store) SavePreferences(ctx context.Context, p *model.NotificationPreferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	cp.PushTokens = append([]string(nil), p.PushTokens...)
	s.preferences[p.OwnerID] = &cp
	return nil
}

// SaveNotification inserts or replaces a history entry.
func (s *Store) SaveNotification(ctx context.Context, n *model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *n
	cp.Outcomes = append([]model.ChannelOutcome(nil), n.Outcomes...)
	s.notifications[n.ID] = &cp
	return nil
}

// ListNotificationsByOwner returns the owner's notifications newest first.
func (s *Store) ListNotificationsByOwner(ctx context.Context, ownerID string, limit int) ([]*model.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*model.Notification{}
	for _, n := range s.notifications {
		if n.OwnerID == ownerID {
			cp := *n
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkNotificationRead flags a notification as read.
func (s *Store) MarkNotificationRead(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok {
		return repository.ErrNotificationNotFound
	}
	n.Read = true
	return nil
}
