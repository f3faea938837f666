package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmswen/knowledge/internal/engine"
)

func newAskCmd() *cobra.Command {
	var conversationID string
	var offline bool
	var showCitations bool

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question grounded in the indexed documents",
		Long: `Retrieve the most relevant passages for the question, pack them into a
length-bounded context, and stream the language model's answer. The
answer cites passages as [1], [2], ... referring to the source list
printed after the response.

Pass --conversation to continue an earlier exchange; up to the
configured number of prior turns is replayed into the prompt.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.TrimSpace(strings.Join(args, " "))
			if question == "" {
				return fmt.Errorf("empty question")
			}

			ctx := cmd.Context()
			eng, err := openEngine(ctx, engine.Options{Offline: offline})
			if err != nil {
				return err
			}
			defer func() { _ = eng.Close() }()

			final, convID, err := eng.Ask(ctx, conversationID, question, func(tok string) {
				fmt.Print(tok)
			})
			if err != nil {
				return err
			}
			fmt.Println()

			if showCitations && len(final.Citations) > 0 {
				fmt.Println("\nSources:")
				for _, c := range final.Citations {
					fmt.Printf("  [%d] %s (chunk %d)\n", c.Number, c.Filename, c.ChunkID)
				}
			}
			fmt.Fprintf(os.Stderr, "\nconversation: %s\n", convID)
			return nil
		},
	}

	cmd.Flags().StringVar(&conversationID, "conversation", "", "Continue an existing conversation id")
	cmd.Flags().BoolVar(&offline, "offline", false, "Use static embeddings")
	cmd.Flags().BoolVar(&showCitations, "citations", true, "Print the source list after the answer")

	return cmd
}
