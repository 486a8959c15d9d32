package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tigerroll/querydeck/internal/app"
	"github.com/tigerroll/querydeck/pkg/querydeck/adapter/database/connector"
	"github.com/tigerroll/querydeck/pkg/querydeck/core/domain/repository"
	"github.com/tigerroll/querydeck/pkg/querydeck/security/vault"
)

func newVaultCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vault",
		Short: "Manage encrypted connection passwords",
	}
	cmd.AddCommand(newVaultVerifyCmd(), newVaultEncryptCmd(), newVaultReEncryptCmd())
	return cmd
}

func openVault() (*vault.Vault, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return vault.New(cfg.QueryDeck.Vault.Secret, cfg.QueryDeck.Vault.Salt)
}

func newVaultVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check that the configured secret can round-trip a value",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := openVault()
			if err != nil {
				return err
			}
			if err := v.Verify(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "vault OK")
			return nil
		},
	}
}

func newVaultEncryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt [plaintext]",
		Short: "Encrypt a password for use as encrypted_password",
		Long:  "Encrypt a password for use as encrypted_password. Without an argument the first line of stdin is read.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := openVault()
			if err != nil {
				return err
			}
			var plain string
			if len(args) == 1 {
				plain = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return errors.New("no plaintext given")
				}
				plain = strings.TrimRight(line, "\r\n")
			}
			out, err := v.Encrypt(plain)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
}

func newVaultReEncryptCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "reencrypt",
		Short: "Rewrite stored legacy connection passwords in the current format",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			var (
				store repository.Store
				v     *vault.Vault
			)
			return app.Run(cmd.Context(), cfg, func(ctx context.Context) error {
				report, err := connector.ReEncryptPasswords(ctx, store, v, all, time.Now())
				if report != nil {
					if perr := printJSON(cmd, report); perr != nil {
						return perr
					}
				}
				return err
			}, &store, &v)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Also rewrite ciphertexts already in the current format")
	return cmd
}
