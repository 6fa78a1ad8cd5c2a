package app

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/toolhive-pattern-catalog/internal/app"
	"github.com/stacklok/toolhive-pattern-catalog/internal/config"
)

// defaultGracefulTimeout is Kubernetes-friendly shutdown time
const defaultGracefulTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the pattern catalog server",
		Long: `Start the pattern catalog server.

The server requires a configuration file (--config) that specifies:
- Storage backend (memory or database)
- Build system driver (http or local)
- Orchestrator, signal verification and telemetry settings`,
		RunE: runServe,
	}

	cmd.Flags().String("address", ":8080", "Address to listen on")
	cmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")

	if err := viper.BindPFlag("address", cmd.Flags().Lookup("address")); err != nil {
		slog.Error("Failed to bind address flag", "error", err)
	}
	if err := viper.BindPFlag("config", cmd.Flags().Lookup("config")); err != nil {
		slog.Error("Failed to bind config flag", "error", err)
	}
	if err := cmd.MarkFlagRequired("config"); err != nil {
		slog.Error("Failed to mark config flag as required", "error", err)
	}
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	address := viper.GetString("address")
	configPath := viper.GetString("config")

	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	slog.Info("Loaded configuration",
		"path", configPath,
		"storage", cfg.GetStorageType(),
		"build_system", cfg.BuildSystem.Type)

	patternApp, err := app.NewPatternApp(ctx,
		app.WithConfig(cfg),
		app.WithAddress(address),
	)
	if err != nil {
		return fmt.Errorf("failed to build application: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- patternApp.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	var startErr error
	select {
	case sig := <-quit:
		slog.Info("Received shutdown signal", "signal", sig.String())
	case startErr = <-errCh:
		if startErr != nil {
			slog.Error("Server stopped unexpectedly", "error", startErr)
		}
	}

	if err := patternApp.Stop(defaultGracefulTimeout); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		if startErr == nil {
			return err
		}
	}
	return startErr
}
