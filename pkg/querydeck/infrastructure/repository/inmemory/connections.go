package inmemory

import (
	"context"
	"sort"

	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/model"
	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/repository"
)

// SaveConnection inserts or replaces a connection configuration.
func (s *Store) SaveConnection(ctx context.Context, c *model.ConnectionConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.connections[c.ID] = &cp
	return nil
}

// FindConnectionByID returns a copy of the configuration.
func (s *Store) FindConnectionByID(ctx context.Context, id string) (*model.ConnectionConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.connections[id]
	if !ok {
		return nil, repository.ErrConnectionNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Store) listConnections(match func(*model.ConnectionConfig) bool) []*model.ConnectionConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*model.ConnectionConfig{}
	for _, c := range s.connections {
		if match(c) {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListConnections lists every connection ordered by id.
func (s *Store) ListConnections(ctx context.Context) ([]*model.ConnectionConfig, error) {
	return s.listConnections(func(*model.ConnectionConfig) bool { return true }), nil
}

// ListConnectionsByOwner lists the connections of one owner.
func (s *Store) ListConnectionsByOwner(ctx context.Context, ownerID string) ([]*model.ConnectionConfig, error) {
	return s.listConnections(func(c *model.ConnectionConfig) bool { return c.OwnerID == ownerID }), nil
}

// DeleteConnection removes a configuration.
func (s *Store) DeleteConnection(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.connections[id]; !ok {
		return repository.ErrConnectionNotFound
	}
	delete(s.connections, id)
	return nil
}
