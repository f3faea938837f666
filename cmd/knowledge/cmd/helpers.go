package cmd

import (
	"context"
	"path/filepath"
	"time"

	"github.com/jmswen/knowledge/internal/config"
	"github.com/jmswen/knowledge/internal/engine"
)

// timeRound is the display granularity for durations in CLI output.
const timeRound = 10 * time.Millisecond

// resolveDataDir resolves the configured data directory against root.
func resolveDataDir(root string, cfg *config.Config) string {
	if filepath.IsAbs(cfg.Paths.DataDir) {
		return cfg.Paths.DataDir
	}
	return filepath.Join(root, cfg.Paths.DataDir)
}

// openEngine locates the engine root, loads configuration, and
// constructs the engine. Callers must Close it.
func openEngine(ctx context.Context, opts engine.Options) (*engine.Engine, error) {
	root, err := config.FindEngineRoot(".")
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}
	return engine.Open(ctx, root, cfg, opts)
}
