package connector

import (
	"context"

	"github.com/tigerroll/querydeck/pkg/querydeck/adapter/database/pool"
	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/model"
	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/repository"
	"github.com/tigerroll/querydeck/pkg/querydeck/support/util/exception"
)

// Console runs owner-checked operations directly against a target connection:
// connection tests and single-row edits by primary key.
type Console struct {
	connections repository.Connections
	resolver    *PoolResolver
}

// NewConsole creates a Console.
func NewConsole(connections repository.Connections, resolver *PoolResolver) *Console {
	return &Console{connections: connections, resolver: resolver}
}

func (c *Console) authorize(ctx context.Context, principal, connectionID string) (*model.ConnectionConfig, error) {
	if principal == "" {
		return nil, exception.NewAuthError(moduleName, "request is not authenticated")
	}
	cfg, err := c.connections.FindConnectionByID(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if cfg.OwnerID != principal {
		return nil, exception.NewAuthError(moduleName, "connection %s does not belong to %s", connectionID, principal)
	}
	return cfg, nil
}

func (c *Console) pool(ctx context.Context, principal, connectionID string) (*pool.Pool, error) {
	if _, err := c.authorize(ctx, principal, connectionID); err != nil {
		return nil, err
	}
	p, _, err := c.resolver.Resolve(ctx, connectionID)
	return p, err
}

// TestConnection opens a single-use connection to connectionID and reports the server version.
func (c *Console) TestConnection(ctx context.Context, principal, connectionID string) (*pool.ServerInfo, error) {
	cfg, err := c.authorize(ctx, principal, connectionID)
	if err != nil {
		return nil, err
	}
	return c.resolver.Test(ctx, cfg)
}

// UpdateRow updates the row of table identified by pk.
func (c *Console) UpdateRow(ctx context.Context, principal, connectionID, table string, pk, values map[string]interface{}) (int64, error) {
	p, err := c.pool(ctx, principal, connectionID)
	if err != nil {
		return 0, err
	}
	return pool.UpdateRow(ctx, p, table, pk, values)
}

// InsertRow inserts values into table and returns the last insert id.
func (c *Console) InsertRow(ctx context.Context, principal, connectionID, table string, values map[string]interface{}) (int64, error) {
	p, err := c.pool(ctx, principal, connectionID)
	if err != nil {
		return 0, err
	}
	return pool.InsertRow(ctx, p, table, values)
}

// DeleteRow deletes the row of table identified by pk.
func (c *Console) DeleteRow(ctx context.Context, principal, connectionID, table string, pk map[string]interface{}) (int64, error) {
	p, err := c.pool(ctx, principal, connectionID)
	if err != nil {
		return 0, err
	}
	return pool.DeleteRow(ctx, p, table, pk)
}
