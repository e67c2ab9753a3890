// Package cli implements the helpdeskctl administration commands.
package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/arturoeanton/go-helpdesk-rag/internal/cluster"
	"github.com/arturoeanton/go-helpdesk-rag/internal/domain"
	"github.com/arturoeanton/go-helpdesk-rag/internal/service"
)

// Reindexer rebuilds the vector index.
type Reindexer interface {
	Reindex(ctx context.Context, reset bool, progress service.ProgressFunc) (*service.IndexReport, error)
}

// Answerer runs the retrieval pipeline.
type Answerer interface {
	Query(ctx context.Context, question string, nResults int) service.Result
}

// ClusterAdmin manages the cluster model.
type ClusterAdmin interface {
	Retrain(ctx context.Context, minQuestions, nClusters int) (*service.RetrainReport, error)
	Info() cluster.Info
	Save() error
}

// UserAdmin changes user roles.
type UserAdmin interface {
	SetRole(ctx context.Context, email, role string) (*domain.User, error)
}

// Services are the backends the commands drive.
type Services struct {
	Indexer  Reindexer
	Pipeline Answerer
	Clusters ClusterAdmin
	Users    UserAdmin
}

// Loader builds the services on first use and returns a cleanup func.
type Loader func(ctx context.Context) (*Services, func(), error)

var (
	services *Services
	loader   Loader
	cleanup  = func() {}
)

var errNotConfigured = errors.New("services not configured")

var rootCmd = &cobra.Command{
	Use:          "helpdeskctl",
	Short:        "Administer the IT support assistant",
	Long:         `helpdeskctl rebuilds the document index, asks questions, maintains the question clusters and grants admin access.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if services != nil || loader == nil {
			return nil
		}
		s, done, err := loader(cmd.Context())
		if err != nil {
			return err
		}
		services, cleanup = s, done
		return nil
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		cleanup()
	},
}

// SetLoader registers how services are built.
func SetLoader(l Loader) {
	loader = l
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func requireServices() (*Services, error) {
	if services == nil {
		return nil, errNotConfigured
	}
	return services, nil
}
