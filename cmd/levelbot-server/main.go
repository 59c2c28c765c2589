package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"levelbot/config"
)

func main() {
	path := flag.String("config", "", "path to a JSON or YAML config file")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before configuration")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load env file: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	app, cleanup, err := BuildApp(ctx, configPath(*path))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize app: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	cfg := app.Config

	app.Logger.Info("starting levelbot server",
		"environment", cfg.Environment,
		"address", cfg.Server.Address,
		"storage_adapter", cfg.Storage.Adapter,
		"dispatch", cfg.Leveling.Dispatch)
	if vars := cfg.EnvOverrides(); len(vars) > 0 {
		app.Logger.Info("configuration overridden from environment", "vars", vars)
	}
	app.Logger.Debug("effective configuration", "config", cfg.String())

	srv := app.Server
	errCh := make(chan error, 1)

	// Start server in a goroutine
	go func() {
		app.Logger.Info("server listening", "address", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Setup graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		app.Logger.Error("failed to start server", "error", err)
		cleanup()
		os.Exit(1)
	}

	app.Logger.Info("shutting down server", "timeout", cfg.Server.ShutdownTimeout)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		app.Logger.Error("error during server shutdown", "error", err)
	}

	// Drain queued events before the stores close
	app.Service.Close()
	slog.Info("server stopped")
}
