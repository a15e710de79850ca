package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/sonocloud/sonoviewer/internal/archive"
	"github.com/sonocloud/sonoviewer/internal/config"
	"github.com/sonocloud/sonoviewer/internal/dicomweb"
	"github.com/sonocloud/sonoviewer/internal/engine"
	"github.com/sonocloud/sonoviewer/internal/handlers"
	"github.com/sonocloud/sonoviewer/internal/resolve"
	"github.com/sonocloud/sonoviewer/internal/state"
	"github.com/sonocloud/sonoviewer/internal/thumbs"
)

func newServeCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the viewer backend HTTP server",
		Long: `Starts the viewer backend on the specified port.

The server exposes study search, image resolution, thumbnails, annotation
sync, exports and snapshot archival for the browser viewer shell.`,
		Example: `  # Start server on default port 8080
  sonoviewer serve

  # Start server on custom port
  sonoviewer serve --port 3000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromEnv()

			classes, err := config.LoadClasses(cfg.ClassFile)
			if err != nil {
				return err
			}

			store := state.New(classes)
			client := dicomweb.NewClient(cfg.DICOMWebBase, cfg.RestBase, cfg.Username, cfg.Password)
			pipeline := resolve.NewPipeline(client, engine.NewCache(), slog.Default())

			thumbDir, err := os.MkdirTemp("", "sonoviewer-thumbs-")
			if err != nil {
				return err
			}
			defer os.RemoveAll(thumbDir)
			pool := thumbs.NewPool(thumbs.NewFetcher(client, slog.Default()), store, slog.Default(), thumbDir)
			defer pool.Close()

			snapshots, err := archive.Open(cfg.ArchivePath)
			if err != nil {
				return err
			}
			defer snapshots.Close()

			handler := handlers.New(store, client, pipeline, pool, snapshots)
			defer handler.Close()

			// Set up routes
			mux := http.NewServeMux()
			handler.Routes(mux)

			addr := ":" + port
			server := &http.Server{
				Addr:    addr,
				Handler: mux,
			}

			// Start server in goroutine
			serverErr := make(chan error, 1)
			go func() {
				slog.Info("Sonoviewer backend available", "addr", addr, "orthanc", cfg.DICOMWebBase)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
			}()

			// Wait for context cancellation (Ctrl+C) or server error
			select {
			case <-cmd.Context().Done():
				slog.Info("Shutting down server...")
				// Give server 5 seconds to shut down gracefully
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

	cmd.Flags().StringVarP(&port, "port", "p", "8080", "Port to listen on")

	return cmd
}
