package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/znz-systems/mailmind/internal/config"
	"github.com/znz-systems/mailmind/internal/database"
	"github.com/znz-systems/mailmind/migrations"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:           "mailmind",
	Short:         "Mailbox sync and AI assistant",
	Long:          "Syncs a Microsoft 365 mailbox, enriches messages with AI, and answers questions about them.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		return database.RunMigrations(migrations.FS, cfg.DatabaseURL)
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync <user-id>",
	Short: "Sync one user's mailbox",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.db.Close()

		n, err := a.sync.SyncUser(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("syncing user %s: %w", args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "synced %d new messages\n", n)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "optional config file (yaml, json or toml); environment variables take precedence")
	rootCmd.AddCommand(serveCmd, migrateCmd, syncCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}
