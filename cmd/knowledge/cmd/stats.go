package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmswen/knowledge/internal/engine"
	"github.com/jmswen/knowledge/internal/model"
)

func newStatsCmd() *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show corpus statistics",
		Long:  `Print document and chunk counts, index sizes, and a per-status breakdown.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			eng, err := openEngine(ctx, engine.Options{Offline: offline, ReadOnly: true})
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			docs, err := eng.Meta.ListDocuments(ctx)
			if err != nil {
				return err
			}
			chunks, err := eng.Meta.CountChunks(ctx)
			if err != nil {
				return err
			}

			byStatus := map[model.Status]int{}
			var totalBytes int64
			for _, d := range docs {
				byStatus[d.Status]++
				totalBytes += d.Size
			}

			fmt.Printf("Documents:    %d (%s)\n", len(docs), humanBytes(totalBytes))
			fmt.Printf("Chunks:       %d\n", chunks)
			fmt.Printf("Dense index:  %d vectors (%d dims)\n", eng.Dense.Count(), eng.Embedder.Dimensions())
			fmt.Printf("Sparse index: %d entries\n", eng.Sparse.Count())
			for _, s := range []model.Status{model.StatusPending, model.StatusParsing, model.StatusEmbedding, model.StatusCompleted, model.StatusFailed} {
				if n := byStatus[s]; n > 0 {
					fmt.Printf("  %-10s %d\n", s+":", n)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "Use static embeddings")

	return cmd
}

// humanBytes renders a byte count with a binary unit suffix.
func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
