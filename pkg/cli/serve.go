package cli

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/husmancristian/TA_TESTMANAGER/pkg/api"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *App) serve(ctx context.Context) error {
	logger := a.Logger
	cfg := a.Config
	logger.Info("Starting Test Manager Server...", slog.String("log_level", cfg.LogLevel), slog.String("storage", cfg.StorageDriver))

	// --- Dependency Injection ---
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	publisher, err := a.openPublisher()
	if err != nil {
		return err
	}
	defer publisher.Close()

	artifactStore, err := a.openArtifacts(ctx)
	if err != nil {
		return err
	}

	apiHandler := api.NewAPI(a.newEngine(store, publisher), store, artifactStore, logger, cfg)
	router := api.SetupRouter(apiHandler, cfg)
	logger.Info("API router configured")

	// --- HTTP Server Setup ---
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  cfg.RequestTimeout + (5 * time.Second), // Slightly longer than handler timeout
		WriteTimeout: cfg.RequestTimeout + (5 * time.Second),
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if cfg.TLSEnabled() {
			logger.Info("Server starting on address", slog.String("protocol", "https"), slog.String("address", server.Addr))
			err = server.ListenAndServeTLS(cfg.CertFile, cfg.KeyFile)
		} else {
			logger.Info("Server starting on address", slog.String("protocol", "http"), slog.String("address", server.Addr))
			err = server.ListenAndServe()
		}
		if errors.Is(err, syscall.EADDRINUSE) {
			logger.Error("Port is already in use. Is another instance of the server already running?", slog.String("address", server.Addr))
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown signal received, starting graceful shutdown...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server graceful shutdown failed", slog.String("error", err.Error()))
			return err
		}
		logger.Info("Server gracefully stopped")
		return nil
	})

	err = g.Wait()
	logger.Info("Shutdown complete.")
	return err
}
