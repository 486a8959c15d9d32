package vault

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/querydeck/pkg/querydeck/core/config"
	"github.com/tigerroll/querydeck/pkg/querydeck/support/util/logger"
)

// VaultParams defines the dependencies for NewVaultProvider.
type VaultParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	Config    *config.Config
}

// NewVaultProvider derives the vault keys from configuration and self-tests them on start.
// A failed self-test is logged; stored credentials simply fail to decrypt later.
func NewVaultProvider(p VaultParams) (*Vault, error) {
	v, err := New(p.Config.QueryDeck.Vault.Secret, p.Config.QueryDeck.Vault.Salt)
	if err != nil {
		return nil, err
	}
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if err := v.Verify(); err != nil {
				logger.Warnf("vault: self-test failed: %v", err)
				return nil
			}
			logger.Debugf("vault: self-test passed")
			return nil
		},
	})
	return v, nil
}

// Module provides the Vault.
var Module = fx.Options(
	fx.Provide(NewVaultProvider),
)
