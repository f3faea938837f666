package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmswen/knowledge/internal/config"
	"github.com/jmswen/knowledge/internal/lifecycle"
	"github.com/jmswen/knowledge/internal/preflight"
)

func newDoctorCmd() *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose the environment and model runtime",
		Long: `Run the full pre-flight check suite (disk, memory, permissions, file
descriptors, embedding model availability) plus an Ollama runtime
status report, and print actionable results.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			root, err := config.FindEngineRoot(".")
			if err != nil {
				root, _ = os.Getwd()
			}
			cfg, err := config.Load(root)
			if err != nil {
				return err
			}

			checker := preflight.New(
				preflight.WithOffline(offline),
				preflight.WithVerbose(true),
				preflight.WithOutput(os.Stdout),
			)
			results := checker.RunAll(ctx, root)
			checker.PrintResults(results)

			// Ollama runtime status for the configured models.
			mgr := lifecycle.NewOllamaManagerWithHost(cfg.Embeddings.OllamaHost)
			status, err := mgr.Status(ctx, cfg.Embeddings.Model)
			if err != nil {
				fmt.Printf("\nOllama: status unavailable: %v\n", err)
			} else {
				fmt.Println("\nOllama:")
				fmt.Printf("  installed: %v\n", status.Installed)
				fmt.Printf("  running:   %v\n", status.Running)
				fmt.Printf("  embedding model %q available: %v\n", cfg.Embeddings.Model, status.HasModel)
				if status.Running {
					hasGen := false
					for _, m := range status.Models {
						if m == cfg.Generator.Model {
							hasGen = true
							break
						}
					}
					fmt.Printf("  generator model %q available: %v\n", cfg.Generator.Model, hasGen)
				}
			}

			if checker.HasCriticalFailures(results) {
				return fmt.Errorf("critical checks failed")
			}
			fmt.Printf("\n%s\n", checker.SummaryStatus(results))
			return nil
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "Skip model-runtime checks")

	return cmd
}
