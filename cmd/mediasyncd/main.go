package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"mediasync/internal/app"
	"mediasync/internal/cloudstore"
	"mediasync/internal/cloudstore/migrations"
	"mediasync/internal/config"
	"mediasync/internal/objectstore"
	"mediasync/internal/server"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "mediasyncd",
	Short: "Media library sync gateway",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := server.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		logger, logCloser, err := app.NewDaemonLogger(cfg.LogDir)
		if err != nil {
			return fmt.Errorf("creating logger: %w", err)
		}
		defer logCloser.Close()

		store, err := cloudstore.Open(cfg.DBDSN)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer store.Close()

		objects, err := objectstore.NewStoreFromConfig(cmd.Context(), config.ObjectStoreConfig{
			Type:        cfg.ObjectStoreType,
			FSRoot:      cfg.StorageRoot,
			S3Bucket:    cfg.S3Bucket,
			S3Prefix:    cfg.S3Prefix,
			S3Region:    cfg.S3Region,
			S3Endpoint:  cfg.S3Endpoint,
			S3AccessKey: cfg.S3AccessKey,
			S3SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			return fmt.Errorf("creating object store: %w", err)
		}

		srv, err := server.NewServer(cmd.Context(), cfg, store, objects, logger)
		if err != nil {
			return fmt.Errorf("creating server: %w", err)
		}

		httpServer := &http.Server{
			Addr:    cfg.Bind,
			Handler: srv.Router(),
		}

		errCh := make(chan error, 1)
		go func() {
			logger.Info("listening", "addr", cfg.Bind)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-errCh:
			return fmt.Errorf("server failed: %w", err)
		case sig := <-stop:
			logger.Info("shutting down", "signal", sig.String())
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

// dsn resolves the database DSN for migrate commands without requiring the
// full serve configuration.
func dsn() (string, error) {
	_ = godotenv.Load()
	if v := os.Getenv("MEDIASYNC_DB_DSN"); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("MEDIASYNC_DB_DSN is required")
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := dsn()
		if err != nil {
			return err
		}
		if err := migrations.Up(d); err != nil {
			return fmt.Errorf("migrating up: %w", err)
		}
		fmt.Println("Migrations applied.")
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back all migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := dsn()
		if err != nil {
			return err
		}
		if err := migrations.Down(d); err != nil {
			return fmt.Errorf("migrating down: %w", err)
		}
		fmt.Println("Migrations rolled back.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	rootCmd.AddCommand(migrateCmd)
}
