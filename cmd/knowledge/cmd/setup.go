package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jmswen/knowledge/configs"
	"github.com/jmswen/knowledge/internal/config"
	"github.com/jmswen/knowledge/internal/lifecycle"
	"github.com/jmswen/knowledge/internal/output"
)

func newSetupCmd() *cobra.Command {
	var skipModels bool
	var yes bool

	cmd := &cobra.Command{
		Use:   "setup [path]",
		Short: "Prepare a directory as a knowledge corpus",
		Long: `Write a commented .knowledge.yaml into the target directory, create
the uploads and data directories, and make sure the configured models
are available in Ollama (pulling them when missing).`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := output.New(os.Stdout)

			root := "."
			if len(args) > 0 {
				root = args[0]
			}
			absRoot, err := filepath.Abs(root)
			if err != nil {
				return err
			}

			configPath := filepath.Join(absRoot, ".knowledge.yaml")
			if _, err := os.Stat(configPath); os.IsNotExist(err) {
				if err := os.WriteFile(configPath, []byte(configs.EngineConfigTemplate), 0o644); err != nil {
					return fmt.Errorf("write %s: %w", configPath, err)
				}
				out.Successf("Created %s", configPath)
			} else {
				out.Statusf("", "Config already exists: %s", configPath)
			}

			cfg, err := config.Load(absRoot)
			if err != nil {
				return err
			}
			for _, dir := range []string{resolveDataDir(absRoot, cfg), filepath.Join(absRoot, cfg.Paths.UploadsDir)} {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("create %s: %w", dir, err)
				}
			}
			out.Success("Created data and uploads directories")

			if skipModels {
				return nil
			}

			mgr := lifecycle.NewOllamaManagerWithHost(cfg.Embeddings.OllamaHost)
			opts := lifecycle.DefaultEnsureOpts()
			opts.Stdout = os.Stdout
			opts.Stderr = os.Stderr
			if !yes && lifecycle.IsTTY() {
				choice, err := promptModels(out, cfg)
				if err != nil || !choice {
					out.Statusf("", "Skipping model setup; run 'knowledge setup' again or use --offline commands")
					return nil
				}
			}

			for _, model := range []string{cfg.Embeddings.Model, cfg.Generator.Model} {
				if model == "" {
					continue
				}
				out.Statusf("", "Ensuring model %s is available...", model)
				if err := mgr.EnsureReady(ctx, model, opts); err != nil {
					out.Warningf("Model %s unavailable: %v", model, err)
				}
			}

			out.Success("Setup complete. Run 'knowledge index' to ingest documents.")
			return nil
		},
	}

	cmd.Flags().BoolVar(&skipModels, "skip-models", false, "Skip Ollama model checks and pulls")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Assume yes for prompts")

	return cmd
}

// promptModels asks whether to download the configured models now.
func promptModels(out *output.Writer, cfg *config.Config) (bool, error) {
	out.Statusf("", "This will ensure Ollama has %q and %q.", cfg.Embeddings.Model, cfg.Generator.Model)
	fmt.Print("Proceed? [Y/n] ")
	var line string
	_, _ = fmt.Scanln(&line)
	switch line {
	case "", "y", "Y", "yes", "Yes":
		return true, nil
	}
	return false, nil
}
