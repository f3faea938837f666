package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmswen/knowledge/internal/engine"
)

func newRebuildCmd() *cobra.Command {
	var offline bool
	var force bool

	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the dense and sparse indexes from stored chunks",
		Long: `Clear the BM25 index, re-embed every stored chunk in batches, and
upsert the results into the vector index. This is the recovery path for
a degraded 'knowledge status' report and the migration path after
changing the embedding model.

The engine holds an exclusive lock for the duration; ingest traffic is
rejected while the rebuild runs.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			if !force {
				fmt.Print("Rebuilding re-embeds every chunk and may take a while. Continue? [y/N] ")
				reader := bufio.NewReader(os.Stdin)
				line, _ := reader.ReadString('\n')
				if answer := strings.ToLower(strings.TrimSpace(line)); answer != "y" && answer != "yes" {
					fmt.Println("Aborted.")
					return nil
				}
			}

			eng, err := openEngine(ctx, engine.Options{Offline: offline})
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			if err := eng.Synchronizer.RebuildAll(ctx); err != nil {
				return err
			}
			if err := eng.Persist(); err != nil {
				return err
			}

			report, err := eng.Synchronizer.CheckConsistency(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Rebuild complete: %d chunks, dense=%d, sparse=%d, status=%s\n",
				report.MetaStoreChunks, report.DenseIndexSize, report.SparseIndexSize, report.Status)
			return nil
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "Use static embeddings")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Skip the confirmation prompt")

	return cmd
}
