// Command migrate applies the alert_contexts schema migrations against
// the configured durable backend (sqlite or postgres). It is a separate
// binary from cmd/server so migrations can run as a one-shot job ahead
// of a deployment, rather than racing multiple server replicas against
// the same schema on startup.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/w3f/ack-escalation/internal/config"
	"github.com/w3f/ack-escalation/internal/logging"
	"github.com/w3f/ack-escalation/internal/store/migrations"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations to the configured storage backend",
		RunE:  runMigrate,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (defaults to environment variables only)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(cfg.Log)
	ctx := context.Background()

	switch cfg.Storage.Backend {
	case config.StorageBackendPostgres:
		dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			cfg.Storage.Postgres.User, cfg.Storage.Postgres.Password,
			cfg.Storage.Postgres.Host, cfg.Storage.Postgres.Port,
			cfg.Storage.Postgres.Database, cfg.Storage.Postgres.SSLMode)
		db, err := sql.Open("pgx", dsn)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		defer db.Close()
		if err := migrations.Run(ctx, db, "postgres"); err != nil {
			return fmt.Errorf("run postgres migrations: %w", err)
		}
	case config.StorageBackendSQLite, config.StorageBackendMemory:
		// The sqlite backend creates its own schema inline on first
		// connection (internal/store/sqlite.New); the memory backend has
		// no schema at all. Neither needs goose.
		logger.Info("backend manages its own schema, nothing to migrate", "backend", cfg.Storage.Backend)
		return nil
	default:
		return fmt.Errorf("unknown storage.backend %q", cfg.Storage.Backend)
	}

	logger.Info("migrations applied", "backend", cfg.Storage.Backend)
	return nil
}
