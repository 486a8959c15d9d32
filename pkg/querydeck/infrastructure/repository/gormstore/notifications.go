package gormstore

import (
	"context"

	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/model"
	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/repository"
)

// FindPreferences returns ErrPreferencesNotFound when the owner has never saved any.
func (s *Store) FindPreferences(ctx context.Context, ownerID string) (*model.NotificationPreferences, error) {
	var entity PreferencesEntity
	if err := s.conn(ctx).Where("owner_id = ?", ownerID).Take(&entity).Error; err != nil {
		return nil, translate(err, repository.ErrPreferencesNotFound, "failed to find preferences of %s", ownerID)
	}
	return toDomainPreferences(&entity)
}

// SavePreferences inserts or replaces the preferences of one owner.
func (s *Store) SavePreferences(ctx context.Context, p *model.NotificationPreferences) error {
	entity, err := fromDomainPreferences(p)
	if err != nil {
		return err
	}
	return translate(s.conn(ctx).Save(entity).Error, nil, "failed to save preferences of %s", p.OwnerID)
}

// SaveNotification appends a notification to the owner's history.
func (s *Store) SaveNotification(ctx context.Context, n *model.Notification) error {
	entity, err := fromDomainNotification(n)
	if err != nil {
		return err
	}
	return translate(s.conn(ctx).Create(entity).Error, nil, "failed to save notification %s", n.ID)
}

// ListNotificationsByOwner returns the history newest first.
func (s *Store) ListNotificationsByOwner(ctx context.Context, ownerID string, limit int) ([]*model.Notification, error) {
	q := s.conn(ctx).Where("owner_id = ?", ownerID).Order("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var entities []NotificationEntity
	if err := q.Find(&entities).Error; err != nil {
		return nil, translate(err, nil, "failed to list notifications of %s", ownerID)
	}
	out := make([]*model.Notification, 0, len(entities))
	for i := range entities {
		n, err := toDomainNotification(&entities[i])
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// MarkNotificationRead sets the read flag.
func (s *Store) MarkNotificationRead(ctx context.Context, id string) error {
	res := s.conn(ctx).Model(&NotificationEntity{}).Where("id = ?", id).Update("is_read", true)
	if res.Error != nil {
		return translate(res.Error, nil, "failed to mark notification %s read", id)
	}
	if res.RowsAffected == 0 {
		ok, err := s.exists(ctx, &NotificationEntity{}, "id = ?", id)
		if err != nil {
			return translate(err, nil, "failed to check notification %s", id)
		}
		if !ok {
			return repository.ErrNotificationNotFound
		}
	}
	return nil
}
