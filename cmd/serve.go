package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/lehigh-university-libraries/linecrop/internal/config"
	"github.com/lehigh-university-libraries/linecrop/internal/detect"
	"github.com/lehigh-university-libraries/linecrop/internal/handlers"
	"github.com/lehigh-university-libraries/linecrop/internal/history"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var port string
	var host string
	var root string
	var configPath string
	var historyPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the line selection API",
		Long: `Starts an HTTP API for choosing crop lines interactively.

Upload a reference image, tune detection parameters, pick two lines by
number or by clicking near them, preview the crop, then run a batch over a
folder on the server with the same selection.`,
		Example: `  # Start server on default port 8888
  linecrop serve

  # Start server on custom port with saved defaults
  linecrop serve --port 3000 --config clipper.json

  # Accept batches for folders under /srv/shots from other machines
  linecrop serve --host 0.0.0.0 --root /srv/shots`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				cfg config.File
				err error
			)
			if configPath != "" {
				cfg, err = config.Load(configPath)
			} else {
				cfg, err = config.LoadOrDefault(config.Path())
			}
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			rootDir, err := filepath.Abs(root)
			if err != nil {
				return err
			}
			opts := []handlers.Option{
				handlers.WithDefaults(cfg.Params, cfg.Rule),
				handlers.WithRoot(rootDir),
			}
			if historyPath != "" {
				store, err := history.Open(historyPath)
				if err != nil {
					return err
				}
				defer store.Close()
				opts = append(opts, handlers.WithHistory(store))
			}
			handler := handlers.New(detect.New(), opts...)

			addr := net.JoinHostPort(host, port)
			server := &http.Server{
				Addr:              addr,
				Handler:           handler.Routes(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			// Start server in goroutine
			serverErr := make(chan error, 1)
			go func() {
				slog.Info("linecrop API available", "addr", addr, "root", rootDir, "url", "http://"+addr)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
			}()

			// Wait for context cancellation (Ctrl+C) or server error
			select {
			case <-cmd.Context().Done():
				slog.Info("Shutting down server...")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := server.Shutdown(shutdownCtx); err != nil {
					slog.Error("Server shutdown failed", "err", err)
					return err
				}
				slog.Info("Server stopped")
				return nil
			case err := <-serverErr:
				return err
			}
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "8888", "Port to listen on")
	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Address to bind; use 0.0.0.0 to accept remote clients")
	cmd.Flags().StringVar(&root, "root", ".", "Batch source and output folders must lie under this directory")
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file with default parameters and naming rule")
	cmd.Flags().StringVar(&historyPath, "history", history.DefaultPath(), "Run history database (empty to disable)")

	return cmd
}
