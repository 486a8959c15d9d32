package gormstore

import (
	"context"

	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/model"
	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/repository"
)

// SaveConnection inserts or replaces a connection configuration.
func (s *Store) SaveConnection(ctx context.Context, c *model.ConnectionConfig) error {
	return translate(s.conn(ctx).Save(fromDomainConnection(c)).Error, nil, "failed to save connection %s", c.ID)
}

// FindConnectionByID returns one connection configuration.
func (s *Store) FindConnectionByID(ctx context.Context, id string) (*model.ConnectionConfig, error) {
	var entity ConnectionEntity
	if err := s.conn(ctx).Where("id = ?", id).Take(&entity).Error; err != nil {
		return nil, translate(err, repository.ErrConnectionNotFound, "failed to find connection %s", id)
	}
	return toDomainConnection(&entity), nil
}

func (s *Store) listConnections(ctx context.Context, query string, args ...interface{}) ([]*model.ConnectionConfig, error) {
	q := s.conn(ctx).Order("id ASC")
	if query != "" {
		q = q.Where(query, args...)
	}
	var entities []ConnectionEntity
	if err := q.Find(&entities).Error; err != nil {
		return nil, translate(err, nil, "failed to list connections")
	}
	out := make([]*model.ConnectionConfig, 0, len(entities))
	for i := range entities {
		out = append(out, toDomainConnection(&entities[i]))
	}
	return out, nil
}

// ListConnections lists every connection ordered by id.
func (s *Store) ListConnections(ctx context.Context) ([]*model.ConnectionConfig, error) {
	return s.listConnections(ctx, "")
}

// ListConnectionsByOwner lists the connections of one owner.
func (s *Store) ListConnectionsByOwner(ctx context.Context, ownerID string) ([]*model.ConnectionConfig, error) {
	return s.listConnections(ctx, "owner_id = ?", ownerID)
}

// DeleteConnection removes a configuration.
func (s *Store) DeleteConnection(ctx context.Context, id string) error {
	res := s.conn(ctx).Where("id = ?", id).Delete(&ConnectionEntity{})
	if res.Error != nil {
		return translate(res.Error, nil, "failed to delete connection %s", id)
	}
	if res.RowsAffected == 0 {
		return repository.ErrConnectionNotFound
	}
	return nil
}
