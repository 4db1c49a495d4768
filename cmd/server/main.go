// Command server runs the alert escalation engine: the webhook listener,
// the Escalation Scheduler, the Acknowledgement Handler, and every
// configured notification adapter, all wired together by internal/app.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/w3f/ack-escalation/internal/app"
	"github.com/w3f/ack-escalation/internal/config"
	"github.com/w3f/ack-escalation/internal/logging"
)

const (
	serviceName    = "ack-escalation"
	serviceVersion = "0.1.0"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:     "ack-escalation",
		Short:   "Alert escalation engine: ingest, escalate, acknowledge",
		Version: serviceVersion,
		RunE:    runServer,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (defaults to environment variables only)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(cfg.Log)
	logger.Info("starting "+serviceName, "version", serviceVersion, "storage_backend", cfg.Storage.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}

	go application.Run(ctx)

	<-ctx.Done()
	logger.Info("shutdown signal received, draining")

	if err := application.Shutdown(cfg.Server.GracefulShutdownTimeout); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info(serviceName + " exited cleanly")
	return nil
}
