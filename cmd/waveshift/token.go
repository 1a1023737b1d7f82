package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bnema/waveshift/config"
	"github.com/bnema/waveshift/internal/service"
)

func newTokenCommand() *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for an owner",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.AuthSecret == "" {
				return errors.New("AUTH_SECRET is required to sign tokens")
			}
			// Tokens carry their issue time; the server applies TOKEN_TTL.
			token, err := service.NewAuthService(cfg.AuthSecret, cfg.TokenTTL).GenerateToken(owner)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Owner id the token is issued to")
	_ = cmd.MarkFlagRequired("owner")

	return cmd
}
