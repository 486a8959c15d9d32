package connector

import (
	"context"
	"time"

	"github.com/tigerroll/querydeck/pkg/querydeck/core/config"
	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/model"
	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/repository"
	"github.com/tigerroll/querydeck/pkg/querydeck/support/util/exception"
	"github.com/tigerroll/querydeck/pkg/querydeck/support/util/logger"
)

// SeedConnections stores every connection declared in configuration, keyed by its name.
// Existing entries keep their creation time. It returns the number of connections stored.
func SeedConnections(ctx context.Context, connections repository.Connections, entries []config.ConnectionEntry, now time.Time) (int, error) {
	for _, e := range entries {
		if e.Host == "" || e.Database == "" || e.User == "" {
			return 0, exception.NewValidationError(moduleName, "connection %q requires host, database and user", e.Name)
		}
		if e.Owner == "" {
			return 0, exception.NewValidationError(moduleName, "connection %q has no owner", e.Name)
		}
		c := &model.ConnectionConfig{
			ID:                e.Name,
			Name:              e.Name,
			OwnerID:           e.Owner,
			Host:              e.Host,
			Port:              e.Port,
			Database:          e.Database,
			User:              e.User,
			EncryptedPassword: e.Password,
			SSL:               e.SSL,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		existing, err := connections.FindConnectionByID(ctx, c.ID)
		switch {
		case err == nil:
			c.CreatedAt = existing.CreatedAt
		case exception.IsKind(err, exception.KindNotFound):
		default:
			return 0, err
		}
		if err := connections.SaveConnection(ctx, c); err != nil {
			return 0, err
		}
		logger.Debugf("connector: seeded connection %s (%s)", c.ID, c)
	}
	return len(entries), nil
}
