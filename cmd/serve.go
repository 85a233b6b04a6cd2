package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/uma-tools/receipt-merger/internal/config"
	"github.com/uma-tools/receipt-merger/internal/handlers"
	"github.com/uma-tools/receipt-merger/internal/staging"
	"github.com/uma-tools/receipt-merger/internal/storage"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var (
		port      string
		tempDir   string
		staticDir string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the receipts merge server",
		Long: `Starts the merge endpoint and serves the web client.

Uploaded screenshots are staged under the temp directory for the duration of
one request and removed before the response is sent.`,
		Example: `  # Start server on default port 8888
  receipts serve

  # Start server on custom port with a config file
  receipts serve --port 3000 --config receipts.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(root.configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if cmd.Flags().Changed("temp-dir") {
				cfg.TempDir = tempDir
			}
			if cmd.Flags().Changed("static-dir") {
				cfg.StaticDir = staticDir
			}
			if !root.verbose {
				level, err := config.ParseLevel(cfg.LogLevel)
				if err != nil {
					return err
				}
				logLevel.Set(level)
			}

			locks := storage.New()
			handler, err := handlers.New(cfg, handlers.WithStagingOptions(staging.WithLockStore(locks)))
			if err != nil {
				return err
			}

			addr := cfg.Addr()
			server := &http.Server{
				Addr:              addr,
				Handler:           handler.Routes(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			// Start server in goroutine
			serverErr := make(chan error, 1)
			go func() {
				slog.Info("Receipts server available",
					"addr", addr,
					"url", "http://localhost"+addr,
					"temp_dir", cfg.TempDir,
					"compose_workers", cfg.ComposeWorkers)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
			}()

			// Wait for context cancellation (Ctrl+C) or server error
			select {
			case <-cmd.Context().Done():
				slog.Info("Shutting down server...", "in_flight", locks.Len())
				slog.Debug("Requests staged at shutdown", "tokens", locks.Active())
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					slog.Error("Server shutdown failed", "err", err, "still_staged", locks.Active())
					return err
				}
				slog.Info("Server stopped")
				return nil
			case err := <-serverErr:
				return err
			}
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", config.DefaultPort, "Port to listen on")
	cmd.Flags().StringVar(&tempDir, "temp-dir", config.DefaultTempDir, "Directory for per-request staging")
	cmd.Flags().StringVar(&staticDir, "static-dir", config.DefaultStaticDir, "Directory of web client assets")

	return cmd
}
