package connector_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/querydeck/pkg/querydeck/adapter/database/connector"
	"github.com/tigerroll/querydeck/pkg/querydeck/core/config"
	"github.com/tigerroll/querydeck/pkg/querydeck/infrastructure/repository/inmemory"
	"github.com/tigerroll/querydeck/pkg/querydeck/support/util/exception"
)

func TestSeedConnections(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore()
	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	entries := []config.ConnectionEntry{
		{Name: "reporting", Host: "db.internal", Port: 3306, Database: "sales", User: "reader", Password: "iv:tag:ct", Owner: "alice"},
	}

	n, err := connector.SeedConnections(ctx, store, entries, first)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	entries[0].Host = "db2.internal"
	_, err = connector.SeedConnections(ctx, store, entries, first.Add(time.Hour))
	require.NoError(t, err)

	c, err := store.FindConnectionByID(ctx, "reporting")
	require.NoError(t, err)
	assert.Equal(t, "db2.internal", c.Host)
	assert.Equal(t, "alice", c.OwnerID)
	assert.Equal(t, "iv:tag:ct", c.EncryptedPassword)
	assert.Equal(t, first, c.CreatedAt)
	assert.Equal(t, first.Add(time.Hour), c.UpdatedAt)
}

func TestSeedConnections_Invalid(t *testing.T) {
	store := inmemory.NewStore()
	_, err := connector.SeedConnections(context.Background(), store,
		[]config.ConnectionEntry{{Name: "x", Host: "h", Database: "d", User: "u"}}, time.Now())
	assert.True(t, errors.Is(err, exception.ErrValidation))

	_, err = connector.SeedConnections(context.Background(), store,
		[]config.ConnectionEntry{{Name: "x", Owner: "alice"}}, time.Now())
	assert.True(t, errors.Is(err, exception.ErrValidation))
}
