package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	askResults int
	askJSON    bool
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask the assistant a question",
	Args:  cobra.ExactArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().IntVarP(&askResults, "n-results", "n", 0, "documents to retrieve (0 = configured default)")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "output the result as JSON")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	s, err := requireServices()
	if err != nil {
		return err
	}

	res := s.Pipeline.Query(cmd.Context(), args[0], askResults)

	if askJSON {
		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	cmd.Printf("Category: %s\n\n%s\n", res.Cluster, res.Answer)
	if len(res.Degraded) > 0 {
		cmd.Printf("\n(degraded: %s)\n", strings.Join(res.Degraded, ", "))
	}
	if len(res.Sources) > 0 {
		cmd.Println("\nSources:")
		for i, src := range res.Sources {
			where := src.Metadata.Source
			if src.Metadata.PageNumber != nil {
				where = fmt.Sprintf("%s p.%d", where, *src.Metadata.PageNumber)
			}
			cmd.Printf("  [%d] %s (distance %.3f)\n", i+1, where, src.Distance)
		}
	}
	return nil
}
