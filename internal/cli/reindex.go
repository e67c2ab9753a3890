package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var reindexReset bool

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the vector index",
	Long: `Loads the reference questions and the source document, splits them into chunks
and stores their embeddings. With --reset=false new entries are appended.`,
	Args: cobra.NoArgs,
	RunE: runReindex,
}

func init() {
	reindexCmd.Flags().BoolVar(&reindexReset, "reset", true, "clear the index before indexing")
	rootCmd.AddCommand(reindexCmd)
}

func runReindex(cmd *cobra.Command, _ []string) error {
	s, err := requireServices()
	if err != nil {
		return err
	}

	last := ""
	report, err := s.Indexer.Reindex(cmd.Context(), reindexReset, func(stage string, done, total int) {
		if stage != last {
			cmd.Printf("%s...\n", stage)
			last = stage
		}
		if stage == "embedding" || stage == "indexing" {
			cmd.Printf("  %d/%d chunks\n", done, total)
		}
	})
	if err != nil {
		return fmt.Errorf("reindex failed: %w", err)
	}

	cmd.Printf("Indexed %d reference questions and %d source chunks (%d entries total).\n",
		report.References, report.SourceChunks, report.IndexCount)
	if report.SourceMissing {
		cmd.Println("Warning: source document not found; only reference questions were indexed.")
	}
	return nil
}
