// Package connector turns a stored connection configuration into a live pool.
// It is the only place where a connection password is decrypted.
package connector

import (
	"context"

	"github.com/tigerroll/querydeck/pkg/querydeck/adapter/database/pool"
	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/model"
	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/repository"
	"github.com/tigerroll/querydeck/pkg/querydeck/support/util/exception"
	"github.com/tigerroll/querydeck/pkg/querydeck/support/util/logger"
)

const moduleName = "connector"

// Decrypter recovers a plaintext password from vault ciphertext.
type Decrypter interface {
	Decrypt(ciphertext string) (string, error)
}

// Resolver resolves connection ids to pooled connections.
type Resolver interface {
	// Resolve returns the pool for connectionID together with its configuration.
	Resolve(ctx context.Context, connectionID string) (*pool.Pool, *model.ConnectionConfig, error)
}

// PoolResolver is the default Resolver backed by a connection repository, a vault and a pool registry.
type PoolResolver struct {
	connections repository.Connections
	vault       Decrypter
	registry    *pool.Registry
	options     pool.Options
}

// NewPoolResolver creates a PoolResolver.
//
// Parameters:
//
//	connections: Repository holding the target connection configurations.
//	vault: Decrypts the stored passwords.
//	registry: The process-wide pool registry.
//	options: Pool options applied to every pool created through this resolver.
//
// Returns:
//
//	A new PoolResolver instance.
func NewPoolResolver(connections repository.Connections, vault Decrypter, registry *pool.Registry, options pool.Options) *PoolResolver {
	return &PoolResolver{
		connections: connections,
		vault:       vault,
		registry:    registry,
		options:     options,
	}
}

// Resolve looks up the connection, decrypts its password and returns the cached or newly built pool.
// A decrypt failure is reported as a CredentialError.
func (r *PoolResolver) Resolve(ctx context.Context, connectionID string) (*pool.Pool, *model.ConnectionConfig, error) {
	cfg, err := r.connections.FindConnectionByID(ctx, connectionID)
	if err != nil {
		return nil, nil, err
	}
	creds, err := r.Credentials(cfg)
	if err != nil {
		return nil, cfg, err
	}
	p, err := r.registry.GetPool(ctx, creds, r.options)
	if err != nil {
		return nil, cfg, err
	}
	return p, cfg, nil
}

// Credentials decrypts the password of cfg into pool credentials.
func (r *PoolResolver) Credentials(cfg *model.ConnectionConfig) (pool.Credentials, error) {
	password, err := r.vault.Decrypt(cfg.EncryptedPassword)
	if err != nil {
		logger.Warnf("connector: cannot decrypt password of connection %s (%s)", cfg.ID, cfg)
		return pool.Credentials{}, exception.NewCredentialError(moduleName, "failed to decrypt connection password", err)
	}
	return CredentialsOf(cfg, password), nil
}

// Test opens a single-use connection for cfg and reports the server version.
func (r *PoolResolver) Test(ctx context.Context, cfg *model.ConnectionConfig) (*pool.ServerInfo, error) {
	creds, err := r.Credentials(cfg)
	if err != nil {
		return nil, err
	}
	return r.registry.TestConnection(ctx, creds)
}

// CredentialsOf builds pool credentials from cfg with an already decrypted password.
func CredentialsOf(cfg *model.ConnectionConfig, password string) pool.Credentials {
	port := cfg.Port
	if port == 0 {
		port = 3306
	}
	return pool.Credentials{
		Host:     cfg.Host,
		Port:     port,
		Database: cfg.Database,
		User:     cfg.User,
		Password: password,
		SSL:      cfg.SSL,
	}
}

var _ Resolver = (*PoolResolver)(nil)
