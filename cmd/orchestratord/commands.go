package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/orchestrator/internal/auth"
	"github.com/example/orchestrator/internal/config"
)

// buildServeCmd creates the "serve" command that starts the orchestrator
// service and blocks until SIGINT/SIGTERM.
func buildServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the orchestrator service",
		Long: `Start the orchestrator service.

The server will:
1. Load configuration from the environment (plus CONFIG_FILE, if set)
2. Connect to Redis and the graph store
3. Construct one backend client per configured model provider
4. Start the HTTP/WebSocket gateway

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

// buildAdminTokenCmd creates the "admin-token" command, which mints a
// bearer token for the gateway's admin surface using the configured
// ADMIN_JWT_SECRET.
func buildAdminTokenCmd() *cobra.Command {
	var (
		subject string
		expiry  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "admin-token",
		Short: "Mint a bearer token for the admin API surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			svc := auth.NewJWTService(cfg.Auth.AdminJWTSecret, expiry)
			if !svc.Enabled() {
				return fmt.Errorf("ADMIN_JWT_SECRET is not set")
			}
			token, err := svc.Generate(auth.Principal{Subject: subject})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "admin", "Token subject claim")
	cmd.Flags().DurationVar(&expiry, "expiry", 24*time.Hour, "Token lifetime")
	return cmd
}
