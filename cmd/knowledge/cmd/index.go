package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmswen/knowledge/internal/config"
	"github.com/jmswen/knowledge/internal/engine"
	"github.com/jmswen/knowledge/internal/index"
	"github.com/jmswen/knowledge/internal/parse"
	"github.com/jmswen/knowledge/internal/preflight"
	"github.com/jmswen/knowledge/internal/ui"
)

// indexOptions configures one ingest run.
type indexOptions struct {
	Offline   bool
	SkipCheck bool
	Plain     bool
	Quiet     bool
	Workers   int
}

func newIndexCmd() *cobra.Command {
	opts := indexOptions{}

	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Ingest a document collection into the engine",
		Long: `Scan a directory for documents, parse and chunk each one, embed the
chunks, and mirror them into the metadata database, the dense vector
index, and the BM25 keyword index.

Re-running index on the same directory is incremental: unchanged chunks
keep their ids and embeddings, only added and removed content touches
the indexes.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			root, err := config.FindEngineRoot(path)
			if err != nil {
				return err
			}
			return runIndex(cmd.Context(), root, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Offline, "offline", false, "Use static embeddings (skip model download)")
	cmd.Flags().BoolVar(&opts.SkipCheck, "skip-check", false, "Skip pre-flight system checks")
	cmd.Flags().BoolVar(&opts.Plain, "plain", false, "Plain-text progress output (no TUI)")
	cmd.Flags().IntVar(&opts.Workers, "workers", 0, "Concurrent document pipelines (0 = config default)")

	return cmd
}

// runIndex performs one full ingest run over root.
func runIndex(ctx context.Context, root string, opts indexOptions) error {
	cfg, err := config.Load(root)
	if err != nil {
		return err
	}
	dataDir := resolveDataDir(root, cfg)

	if !opts.SkipCheck && preflight.NeedsCheck(dataDir) {
		out := io.Writer(os.Stderr)
		if opts.Quiet {
			out = io.Discard
		}
		checker := preflight.New(
			preflight.WithOffline(opts.Offline),
			preflight.WithOutput(out),
		)
		results := checker.RunAll(ctx, root)
		if checker.HasCriticalFailures(results) {
			checker.PrintResults(results)
			return fmt.Errorf("system check failed; run 'knowledge doctor' for details")
		}
		// Best effort; a missing marker only re-runs the checks.
		_ = preflight.MarkPassed(dataDir)
	}

	eng, err := engine.Open(ctx, root, cfg, engine.Options{Offline: opts.Offline})
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	var rendererOut io.Writer = os.Stdout
	if opts.Quiet {
		rendererOut = io.Discard
	}
	renderer := ui.NewRenderer(ui.NewConfig(rendererOut,
		ui.WithForcePlain(opts.Plain || opts.Quiet),
		ui.WithProjectDir(root),
	))

	workers := opts.Workers
	if workers <= 0 {
		workers = cfg.Pipeline.MaxConcurrent
	}

	deps := index.RunnerDependencies{
		Renderer: renderer,
		Config:   cfg,
		Meta:     eng.Meta,
		Dense:    eng.Dense,
		Sparse:   eng.Sparse,
		Embedder: eng.Embedder,
		Parser:   parse.NewTextParser(),
		Workers:  workers,
	}
	if cfg.Generator.TitleModel != "" {
		deps.Generator = eng.Generator
	}

	runner, err := index.NewRunner(deps)
	if err != nil {
		return err
	}

	result, err := runner.Run(ctx, index.RunnerConfig{
		RootDir: root,
		DataDir: dataDir,
	})
	if err != nil {
		return err
	}

	if !opts.Quiet {
		fmt.Fprintf(os.Stderr, "Indexed %d documents (%d chunks) in %s; %d failed, %d skipped\n",
			result.Documents, result.Chunks, result.Duration.Round(timeRound), result.Failed, result.Skipped)
	}
	return nil
}
