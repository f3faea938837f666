package cmd

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jmswen/knowledge/internal/config"
	"github.com/jmswen/knowledge/internal/engine"
	"github.com/jmswen/knowledge/internal/logging"
	"github.com/jmswen/knowledge/internal/mcp"
	"github.com/jmswen/knowledge/internal/parse"
	"github.com/jmswen/knowledge/internal/telemetry"
)

func newServeCmd() *cobra.Command {
	var offline bool
	var noWatch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the engine to AI clients over the Model Context Protocol",
		Long: `Start the MCP server over stdio, exposing search, ask, and status
tools plus a resource per indexed document. While serving, the engine
watches the corpus directory and keeps the indexes synchronized as
files are added, modified, or deleted.

Stdout carries only the protocol stream; diagnostics go to the log
file (run with --debug, or see 'knowledge-logs').`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			root, err := config.FindEngineRoot(".")
			if err != nil {
				return err
			}
			return runServeWithOptions(cmd.Context(), root, offline, noWatch)
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "Use static embeddings")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "Disable file watching while serving")

	return cmd
}

// runServe is the smart-default entry: serve with watching enabled.
func runServe(ctx context.Context, root string, offline bool) error {
	return runServeWithOptions(ctx, root, offline, false)
}

func runServeWithOptions(ctx context.Context, root string, offline, noWatch bool) error {
	cfg, err := config.Load(root)
	if err != nil {
		return err
	}

	// Stdout carries the protocol stream; route all logging to file.
	if cleanup, err := logging.SetupMCPModeWithLevel(cfg.Server.LogLevel); err == nil {
		defer cleanup()
	}

	eng, err := engine.Open(ctx, root, cfg, engine.Options{Offline: offline})
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	server, err := mcp.NewServer(eng)
	if err != nil {
		return err
	}

	// Query telemetry rides in the same database as the metadata.
	if metaDB := eng.MetaDB(); metaDB != nil {
		if err := telemetry.InitTelemetrySchema(metaDB); err != nil {
			slog.Warn("telemetry schema init failed", slog.String("error", err.Error()))
		} else if ms, err := telemetry.NewSQLiteMetricsStore(metaDB); err == nil {
			metrics := telemetry.NewQueryMetrics(ms)
			defer func() { _ = metrics.Close() }()
			server.SetMetrics(metrics)
		}
	}

	if err := server.RegisterResources(ctx); err != nil {
		slog.Warn("resource registration failed", slog.String("error", err.Error()))
	}

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if !noWatch {
		ws := engine.NewWatchSync(eng, parse.NewTextParser())
		go func() {
			if err := ws.Watch(serveCtx, root); err != nil {
				slog.Warn("file watching stopped", slog.String("error", err.Error()))
			}
		}()
	}

	return server.Serve(serveCtx, cfg.Server.Transport)
}
