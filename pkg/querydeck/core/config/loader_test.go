package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/querydeck/pkg/querydeck/core/config"
)

const sampleYAML = `
querydeck:
  system:
    timezone: Asia/Tokyo
    logging:
      level: DEBUG
  vault:
    secret: ${QD_TEST_SECRET}
    salt: pepper
  pool:
    connection_limit: 8
  connections:
    reporting:
      host: db.internal
      port: "3307"
      database: sales
      user: reader
      encrypted_password: "aa:bb:cc"
`

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := config.LoadConfig("/nonexistent/.env", nil)
	require.NoError(t, err)

	assert.Equal(t, "UTC", cfg.QueryDeck.System.Timezone)
	assert.Equal(t, 5, cfg.QueryDeck.Pool.ConnectionLimit)
	assert.Equal(t, 60000, cfg.QueryDeck.Pool.QueryTimeoutMs)
	assert.Equal(t, 3, cfg.QueryDeck.Retry.MaxAttempts)
	assert.Equal(t, 500, cfg.QueryDeck.Retention.BatchSize)
	assert.Equal(t, 3, cfg.QueryDeck.Executor.SampleRows)
	assert.Equal(t, "memory", cfg.QueryDeck.Store.Type)
}

func TestLoadConfig_YAMLAndEnv(t *testing.T) {
	t.Setenv("QD_TEST_SECRET", "a-very-long-test-secret")
	t.Setenv("QUERYDECK_POOL_QUERY_TIMEOUT_MS", "15000")
	t.Setenv("QUERYDECK_CONNECTIONS_REPORTING_SSL", "true")

	cfg, err := config.LoadConfig("/nonexistent/.env", config.EmbeddedConfig(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "Asia/Tokyo", cfg.QueryDeck.System.Timezone)
	assert.Equal(t, "DEBUG", cfg.QueryDeck.System.Logging.Level)
	assert.Equal(t, "console", cfg.QueryDeck.System.Logging.Format, "defaults survive a partial document")
	assert.Equal(t, "a-very-long-test-secret", cfg.QueryDeck.Vault.Secret)
	assert.Equal(t, 8, cfg.QueryDeck.Pool.ConnectionLimit)
	assert.Equal(t, 15000, cfg.QueryDeck.Pool.QueryTimeoutMs)
	assert.Empty(t, cfg.Warnings())

	conns, err := cfg.DecodeConnections()
	require.NoError(t, err)
	require.Len(t, conns, 1)
	assert.Equal(t, config.ConnectionEntry{
		Name:     "reporting",
		Host:     "db.internal",
		Port:     3307,
		Database: "sales",
		User:     "reader",
		Password: "aa:bb:cc",
		SSL:      true,
	}, conns[0])
}

func TestConfig_Warnings(t *testing.T) {
	cfg := config.NewConfig()
	cfg.QueryDeck.Vault.Secret = "short"
	cfg.QueryDeck.Pool.ConnectionLimit = 50

	w := cfg.Warnings()
	assert.Len(t, w, 3)
	assert.Contains(t, w[0], "shorter than")
}

func TestDecodeConnections_RejectsUnknownKeys(t *testing.T) {
	cfg := config.NewConfig()
	cfg.QueryDeck.Connections["bad"] = map[string]interface{}{"hots": "typo"}

	_, err := cfg.DecodeConnections()
	assert.Error(t, err)
}
