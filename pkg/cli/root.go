// Package cli wires configuration, storage, events and artifacts into the
// testmanager commands.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/husmancristian/TA_TESTMANAGER/pkg/config"
	"github.com/husmancristian/TA_TESTMANAGER/pkg/engine"
	"github.com/husmancristian/TA_TESTMANAGER/pkg/events"
	"github.com/husmancristian/TA_TESTMANAGER/pkg/events/rabbitmq"
	"github.com/husmancristian/TA_TESTMANAGER/pkg/mcpserver"
	"github.com/husmancristian/TA_TESTMANAGER/pkg/storage"
	"github.com/husmancristian/TA_TESTMANAGER/pkg/storage/artifacts"
	"github.com/husmancristian/TA_TESTMANAGER/pkg/storage/persistent"
	"github.com/husmancristian/TA_TESTMANAGER/pkg/storage/sqlite"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// Version is reported by the MCP server and the root command.
var Version = "dev"

// App holds what every command needs. Config is loaded lazily by PersistentPreRunE.
type App struct {
	Config *config.Config
	Logger *slog.Logger
	Fs     afero.Fs
	Stdout io.Writer
	Stderr io.Writer

	// loadConfig is replaced in tests.
	loadConfig func() (*config.Config, error)
}

// NewApp returns an App bound to the real filesystem and standard streams.
func NewApp(logger *slog.Logger) *App {
	return &App{
		Logger:     logger,
		Fs:         afero.NewOsFs(),
		Stdout:     os.Stdout,
		Stderr:     os.Stderr,
		loadConfig: config.Load,
	}
}

// NewRootCommand builds the command tree.
func NewRootCommand(a *App) *cobra.Command {
	root := &cobra.Command{
		Use:           "testmanager",
		Short:         "Test case management and session execution server",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			a.Config = cfg
			// Only the server logs to stdout. Other commands own it for CSV output or MCP.
			out := a.Stderr
			if cmd.Name() == "serve" {
				out = a.Stdout
			}
			a.Logger = newLogger(out, cfg.LogLevel)
			return nil
		},
	}
	root.SetOut(a.Stdout)
	root.SetErr(a.Stderr)

	root.AddCommand(
		newServeCommand(a),
		newMigrateCommand(a),
		newMCPCommand(a),
		newCSVCommand(a),
		newEventsCommand(a),
	)
	return root
}

// Execute runs the root command with ctx.
func Execute(ctx context.Context, a *App) error {
	return NewRootCommand(a).ExecuteContext(ctx)
}

func newLogger(w io.Writer, level string) *slog.Logger {
	logLevel := slog.LevelInfo // Default
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: logLevel}))
}

// openStore connects the configured storage driver and applies the schema.
func (a *App) openStore(ctx context.Context) (storage.Store, error) {
	var (
		store storage.Store
		err   error
	)
	switch a.Config.StorageDriver {
	case config.DriverPostgres:
		store, err = persistent.NewStore(ctx, a.Config.Postgres_DSN, a.Logger)
	default:
		store, err = sqlite.NewStore(a.Config.SQLite_Path, a.Logger)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", a.Config.StorageDriver, err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to migrate %s store: %w", a.Config.StorageDriver, err)
	}
	return store, nil
}

// openPublisher connects to RabbitMQ, or returns a no-op publisher when no URL is configured.
func (a *App) openPublisher() (events.Publisher, error) {
	if a.Config.RabbitMQ_URL == "" {
		a.Logger.Info("RABBITMQ_URL not set, session events are not published")
		return events.Noop{}, nil
	}
	broker, err := rabbitmq.NewBroker(a.Config.RabbitMQ_URL, a.Config.EventsExchange, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize RabbitMQ broker: %w", err)
	}
	return broker, nil
}

// openArtifacts connects to MinIO, or keeps artifacts in memory when no endpoint is configured.
func (a *App) openArtifacts(ctx context.Context) (storage.ArtifactStore, error) {
	if a.Config.MinIO_Endpoint == "" {
		a.Logger.Warn("MINIO_ENDPOINT not set, artifacts are kept in memory")
		return artifacts.NewMemory(), nil
	}
	store, err := artifacts.NewMinIOStore(ctx,
		a.Config.MinIO_Endpoint,
		a.Config.MinIO_AccessKey,
		a.Config.MinIO_SecretKey,
		a.Config.MinIO_BucketName,
		a.Config.MinIO_UseSSL,
		a.Logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize MinIO: %w", err)
	}
	return store, nil
}

func (a *App) newEngine(store storage.Store, publisher events.Publisher) *engine.Engine {
	return engine.New(store, a.Logger,
		engine.WithPublisher(publisher),
		engine.WithStrictScope(a.Config.StrictScope),
	)
}

func newMigrateCommand(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "schema is up to date (%s)\n", a.Config.StorageDriver)
			return nil
		},
	}
}

func newMCPCommand(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the session tools over MCP on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
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

			return mcpserver.NewServer(a.newEngine(store, publisher), store, a.Logger, Version).Run(ctx)
		},
	}
}
