package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/arturoeanton/go-helpdesk-rag/internal/cluster"
	"github.com/arturoeanton/go-helpdesk-rag/internal/port"
)

// RetrainReport summarizes a retrain run.
type RetrainReport struct {
	Samples   int          `json:"samples"`
	Relabeled int          `json:"relabeled"`
	Info      cluster.Info `json:"info"`
	Saved     bool         `json:"saved"`
}

// ClusterService runs administrative operations on the cluster assigner.
type ClusterService struct {
	assigner  *cluster.Assigner
	queries   port.QueryStore
	modelPath string
}

// NewClusterService creates a cluster service. An empty modelPath disables saving.
func NewClusterService(assigner *cluster.Assigner, queries port.QueryStore, modelPath string) *ClusterService {
	return &ClusterService{assigner: assigner, queries: queries, modelPath: modelPath}
}

// Info returns assigner diagnostics.
func (s *ClusterService) Info() cluster.Info {
	return s.assigner.Info()
}

// Save persists the current model.
func (s *ClusterService) Save() error {
	if s.modelPath == "" {
		return fmt.Errorf("save model: no model path configured")
	}
	return s.assigner.Save(s.modelPath)
}

// Retrain refits the model on every stored question and relabels the stored
// queries with the new model. nClusters <= 0 keeps the current count.
func (s *ClusterService) Retrain(ctx context.Context, minQuestions, nClusters int) (*RetrainReport, error) {
	records, err := s.queries.ListAllQuestions(ctx)
	if err != nil {
		return nil, fmt.Errorf("retrain: %w", err)
	}
	if len(records) < minQuestions {
		return nil, fmt.Errorf("retrain: %d stored questions, need %d: %w", len(records), minQuestions, port.ErrNotEnoughSamples)
	}

	questions := make([]string, len(records))
	for i, r := range records {
		questions[i] = r.Question
	}
	if err := s.assigner.Retrain(ctx, questions, nClusters); err != nil {
		return nil, err
	}

	report := &RetrainReport{Samples: len(records)}
	for _, r := range records {
		label := s.assigner.Classify(ctx, r.Question)
		if label == r.Cluster {
			continue
		}
		if err := s.queries.UpdateQueryCluster(ctx, r.ID, label); err != nil {
			return nil, fmt.Errorf("retrain: relabel %s: %w", r.ID, err)
		}
		report.Relabeled++
	}

	if s.modelPath != "" {
		if err := s.assigner.Save(s.modelPath); err != nil {
			slog.Error("save retrained cluster model", "path", s.modelPath, "error", err)
		} else {
			report.Saved = true
		}
	}

	report.Info = s.assigner.Info()
	slog.Info("cluster model retrained", "samples", report.Samples, "relabeled", report.Relabeled)
	return report, nil
}
