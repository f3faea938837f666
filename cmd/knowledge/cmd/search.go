package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmswen/knowledge/internal/engine"
	"github.com/jmswen/knowledge/internal/search"
)

// searchResultJSON is the retrieval wire shape.
type searchResultJSON struct {
	ChunkID    int64   `json:"chunk_id"`
	DocumentID int64   `json:"document_id"`
	Filename   string  `json:"filename"`
	Preview    string  `json:"preview"`
	Score      float64 `json:"score"`
}

func newSearchCmd() *cobra.Command {
	var limit int
	var docID int64
	var quick bool
	var jsonOut bool
	var offline bool

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexed documents",
		Long: `Run a hybrid search over the indexed corpus: dense vector similarity
and BM25 keyword scores are fused by reciprocal rank fusion, then a
cross-encoder reranker (when available) refines the head of the list.

--quick skips fusion and reranking entirely and serves raw dense
similarity, trading quality for latency.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.TrimSpace(strings.Join(args, " "))
			if query == "" {
				return fmt.Errorf("empty query")
			}

			ctx := cmd.Context()
			eng, err := openEngine(ctx, engine.Options{Offline: offline, ReadOnly: true})
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			var results []*search.SearchResult
			if quick {
				results, err = eng.QuickSearch(ctx, query, limit)
			} else {
				var filter *int64
				if docID > 0 {
					filter = &docID
				}
				results, err = eng.Search(ctx, query, limit, filter)
			}
			if err != nil {
				return err
			}

			if jsonOut {
				out := make([]searchResultJSON, 0, len(results))
				for _, r := range results {
					out = append(out, searchResultJSON{
						ChunkID:    r.ChunkID,
						DocumentID: r.DocumentID,
						Filename:   r.Filename,
						Preview:    r.Preview,
						Score:      r.Score,
					})
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}

			if len(results) == 0 {
				fmt.Println("No results.")
				return nil
			}
			for i, r := range results {
				fmt.Printf("%2d. [%.4f] %s (doc %d, chunk %d)\n", i+1, r.Score, r.Filename, r.DocumentID, r.ChunkID)
				if r.Preview != "" {
					fmt.Printf("    %s\n", r.Preview)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum results (0 = config default)")
	cmd.Flags().Int64Var(&docID, "doc", 0, "Restrict to one document id")
	cmd.Flags().BoolVar(&quick, "quick", false, "Dense-only low-latency search (no fusion, no rerank)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit JSON results")
	cmd.Flags().BoolVar(&offline, "offline", false, "Use static embeddings")

	return cmd
}
