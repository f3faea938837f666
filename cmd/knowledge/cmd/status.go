package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jmswen/knowledge/internal/engine"
	"github.com/jmswen/knowledge/internal/model"
	"github.com/jmswen/knowledge/internal/ui"
)

func newStatusCmd() *cobra.Command {
	var offline bool
	var verbose bool
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index consistency and document processing status",
		Long: `Report counts across the metadata database, the dense vector index,
and the BM25 keyword index, classify their agreement, and list any
documents whose processing did not complete.

A degraded or critical status is recoverable with 'knowledge rebuild'.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			eng, err := openEngine(ctx, engine.Options{Offline: offline, ReadOnly: true})
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			report, err := eng.Synchronizer.CheckConsistency(ctx)
			if err != nil {
				return err
			}

			dataDir := resolveDataDir(eng.Root, eng.Config)
			info := ui.StatusInfo{
				CorpusName:     filepath.Base(eng.Root),
				TotalDocuments: report.CompletedDocuments,
				TotalChunks:    report.MetaStoreChunks,
				Consistency:    string(report.Status),
				DenseEntries:   report.DenseIndexSize,
				SparseEntries:  report.SparseIndexSize,
				MetadataSize:   fileSize(filepath.Join(dataDir, "knowledge.db")),
				BM25Size:       fileSize(filepath.Join(dataDir, "bm25_index.bin")),
				VectorSize:     fileSize(filepath.Join(dataDir, "vectors.hnsw")),
				EmbedderType:   string(eng.Config.Embeddings.Provider),
				EmbedderModel:  eng.Config.Embeddings.Model,
				EmbedderStatus: "ready",
			}
			info.TotalSize = info.MetadataSize + info.BM25Size + info.VectorSize
			if info.EmbedderType == "" {
				info.EmbedderType = "auto"
			}
			if offline {
				info.EmbedderType = "static"
				info.EmbedderStatus = "offline"
			}

			renderer := ui.NewStatusRenderer(os.Stdout, false)
			if jsonOut {
				if err := renderer.RenderJSON(info); err != nil {
					return err
				}
			} else if err := renderer.Render(info); err != nil {
				return err
			}

			if verbose {
				docs, err := eng.Meta.ListDocuments(ctx)
				if err != nil {
					return err
				}
				for _, d := range docs {
					switch d.Status {
					case model.StatusFailed:
						fmt.Printf("  failed: %s: %s\n", d.Filename, d.Message)
					case model.StatusCompleted:
					default:
						fmt.Printf("  %s: %s (%.0f%%)\n", d.Status, d.Filename, d.Progress*100)
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "Use static embeddings")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "List unfinished and failed documents")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON status")

	return cmd
}

// fileSize returns a file's size in bytes, or 0 when absent.
func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
