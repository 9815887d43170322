package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"agora/internal/app/user"
	"agora/internal/configs"
	"agora/internal/pkg/auth/jwt"
)

const redacted = "<redacted>"

func newTokenCmd(load func() (*configs.AppConfig, error)) *cobra.Command {
	var (
		identity user.Identity
		ttl      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a signed token with the configured secret (development only)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if !cfg.IsDevelopment() {
				return errors.New("tokens can only be minted in the development environment")
			}
			if identity.ID == "" {
				return errors.New("--user is required")
			}

			token, err := jwt.GenerateToken(identity, cfg.JWTSecret, ttl)
			if err != nil {
				return fmt.Errorf("sign token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&identity.ID, "user", "", "user id carried by the token")
	cmd.Flags().StringVar(&identity.Nickname, "nickname", "", "display name (defaults to the user id)")
	cmd.Flags().StringSliceVar(&identity.Roles, "role", nil, "role to grant, repeatable")
	cmd.Flags().DurationVar(&ttl, "ttl", jwt.DefaultTokenTTL, "token lifetime")
	return cmd
}

func newConfigCmd(load func() (*configs.AppConfig, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML with secrets redacted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			out := *cfg
			if out.JWTSecret != "" {
				out.JWTSecret = redacted
			}
			if out.DeadLetterSecretAccessKey != "" {
				out.DeadLetterSecretAccessKey = redacted
			}

			data, err := yaml.Marshal(out)
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
