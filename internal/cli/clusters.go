package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var (
	retrainMinQuestions int
	retrainClusters     int
	clustersSave        bool
)

var retrainCmd = &cobra.Command{
	Use:   "retrain",
	Short: "Refit the question clusters on stored query history",
	Args:  cobra.NoArgs,
	RunE:  runRetrain,
}

var clustersCmd = &cobra.Command{
	Use:   "clusters",
	Short: "Show the cluster model state",
	Args:  cobra.NoArgs,
	RunE:  runClusters,
}

func init() {
	retrainCmd.Flags().IntVar(&retrainMinQuestions, "min-questions", 20, "minimum stored questions required")
	retrainCmd.Flags().IntVarP(&retrainClusters, "clusters", "k", 0, "number of clusters (0 = keep current)")
	clustersCmd.Flags().BoolVar(&clustersSave, "save", false, "persist the model to disk")
	rootCmd.AddCommand(retrainCmd, clustersCmd)
}

func runRetrain(cmd *cobra.Command, _ []string) error {
	s, err := requireServices()
	if err != nil {
		return err
	}

	report, err := s.Clusters.Retrain(cmd.Context(), retrainMinQuestions, retrainClusters)
	if err != nil {
		return fmt.Errorf("retrain failed: %w", err)
	}

	cmd.Printf("Retrained on %d questions into %d clusters; %d stored queries relabeled.\n",
		report.Samples, report.Info.NClusters, report.Relabeled)
	if !report.Saved {
		cmd.Println("Warning: model was not saved.")
	}
	return nil
}

func runClusters(cmd *cobra.Command, _ []string) error {
	s, err := requireServices()
	if err != nil {
		return err
	}

	if clustersSave {
		if err := s.Clusters.Save(); err != nil {
			return fmt.Errorf("save failed: %w", err)
		}
		cmd.Println("Model saved.")
	}

	info := s.Clusters.Info()
	cmd.Printf("Status: %s\nClusters: %d\nReference questions: %d\nCategories: %d\n",
		info.Status, info.NClusters, info.NQuestions, info.NCategories)

	ids := make([]int, 0, len(info.Distribution))
	for id := range info.Distribution {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		cmd.Printf("  cluster %d: %d questions\n", id, info.Distribution[id])
	}
	return nil
}
