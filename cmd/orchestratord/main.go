// Package main is the CLI entry point for orchestratord, the AI request
// orchestrator service.
//
// Start the server:
//
//	orchestratord serve
//
// Mint a bearer token for the admin surface:
//
//	orchestratord admin-token --subject ops
//
// Configuration comes from environment variables (see internal/config),
// optionally supplemented by a YAML file named in CONFIG_FILE.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "orchestratord",
		Short:         "AI request orchestrator service",
		Long:          "orchestratord fronts a staged cognitive pipeline: it classifies each request,\nfans out to a council of model backends, synthesizes a final answer, and can\ndispatch budget-gated agent tools, streaming phase events over WebSocket.",
		Version:       version + " (" + commit + ")",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(buildServeCmd(), buildAdminTokenCmd())
	return root
}
