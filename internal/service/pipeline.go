package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/arturoeanton/go-helpdesk-rag/internal/domain"
	"github.com/arturoeanton/go-helpdesk-rag/internal/port"
)

// Fixed answers.
const (
	InvalidQuestionAnswer = "Please provide a valid question."
	contextSeparator      = "\n\n---\n\n"
)

// Degraded stage names reported in Result.Degraded.
const (
	StageSearch   = "search"
	StageGenerate = "generate"
)

// ClusterAssigner labels questions with a category.
type ClusterAssigner interface {
	Assign(ctx context.Context, question string) string
}

// Searcher finds the nearest indexed chunks for a query.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]domain.SearchResult, error)
}

// AnswerGenerator produces the final answer from a question and its context.
type AnswerGenerator interface {
	Generate(ctx context.Context, question, contextText string) (string, error)
}

// PipelineConfig holds the retrieval policy.
type PipelineConfig struct {
	// RelevanceThreshold is the cosine distance below which a result counts as relevant.
	// It is calibrated for one embedding model and must be retuned when the model changes.
	RelevanceThreshold float64
	// MinContextResults is the number of nearest results kept when too few pass the threshold.
	MinContextResults int
	DefaultNResults   int
}

// Result is the outcome of a pipeline query.
type Result struct {
	Answer        string                `json:"answer"`
	Cluster       string                `json:"cluster"`
	Sources       []domain.SearchResult `json:"sources"`
	ContextChunks int                   `json:"context_chunks"`
	Degraded      []string              `json:"degraded,omitempty"`
	Latency       time.Duration         `json:"-"`
}

// Pipeline answers questions: classify, retrieve, filter, generate.
// It performs no persistence.
type Pipeline struct {
	assigner  ClusterAssigner
	searcher  Searcher
	generator AnswerGenerator
	cfg       PipelineConfig
}

// NewPipeline wires the pipeline stages.
func NewPipeline(assigner ClusterAssigner, searcher Searcher, generator AnswerGenerator, cfg PipelineConfig) *Pipeline {
	if cfg.DefaultNResults <= 0 {
		cfg.DefaultNResults = 30
	}
	if cfg.MinContextResults <= 0 {
		cfg.MinContextResults = 5
	}
	if cfg.RelevanceThreshold <= 0 {
		cfg.RelevanceThreshold = 0.5
	}
	return &Pipeline{assigner: assigner, searcher: searcher, generator: generator, cfg: cfg}
}

// Query runs the pipeline. Only a blank question short-circuits; every other
// stage failure degrades to a fallback value recorded in Result.Degraded.
func (p *Pipeline) Query(ctx context.Context, question string, nResults int) Result {
	start := time.Now()
	question = strings.TrimSpace(question)
	if question == "" {
		return Result{Answer: InvalidQuestionAnswer, Cluster: domain.ClusterUncategorized, Sources: []domain.SearchResult{}}
	}
	if nResults <= 0 {
		nResults = p.cfg.DefaultNResults
	}

	res := Result{Cluster: p.assigner.Assign(ctx, question), Sources: []domain.SearchResult{}}

	hits, err := p.searcher.Search(ctx, question, nResults)
	if err != nil {
		slog.Warn("retrieval failed", "error", err, "provider_unavailable", isUnavailable(err))
		res.Degraded = append(res.Degraded, StageSearch)
		hits = nil
	}

	if len(hits) == 0 {
		res.Answer = notFoundAnswer(question)
		res.Latency = time.Since(start)
		return res
	}

	selected := SelectContext(hits, p.cfg.RelevanceThreshold, p.cfg.MinContextResults)
	res.Sources = selected
	res.ContextChunks = len(selected)

	answer, err := p.generator.Generate(ctx, question, BuildContext(selected))
	if err != nil {
		slog.Warn("generation degraded to fallback", "error", err, "provider_unavailable", isUnavailable(err))
		res.Degraded = append(res.Degraded, StageGenerate)
	}
	res.Answer = answer
	res.Latency = time.Since(start)

	slog.Info("query answered",
		"cluster", res.Cluster,
		"hits", len(hits),
		"context_chunks", res.ContextChunks,
		"degraded", res.Degraded,
		"latency_ms", res.Latency.Milliseconds(),
	)
	return res
}

// SelectContext keeps results closer than threshold. When fewer than minResults
// pass, it keeps the minResults nearest results instead.
func SelectContext(results []domain.SearchResult, threshold float64, minResults int) []domain.SearchResult {
	sorted := make([]domain.SearchResult, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Distance < sorted[j].Distance })

	kept := make([]domain.SearchResult, 0, len(sorted))
	for _, r := range sorted {
		if r.Distance < threshold {
			kept = append(kept, r)
		}
	}
	if len(kept) >= minResults {
		return kept
	}
	return sorted[:min(minResults, len(sorted))]
}

// BuildContext joins chunk texts, each prefixed by its provenance marker.
func BuildContext(results []domain.SearchResult) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		parts = append(parts, provenance(r.Metadata)+"\n"+strings.TrimSpace(r.Text))
	}
	return strings.Join(parts, contextSeparator)
}

func provenance(m domain.ChunkMetadata) string {
	switch {
	case m.Category != nil && (m.Source == domain.SourcePredefined || m.PageNumber == nil):
		return fmt.Sprintf("[Reference - %s]", *m.Category)
	case m.PageNumber != nil && m.Chapter != nil:
		return fmt.Sprintf("[Page %d - %s]", *m.PageNumber, *m.Chapter)
	case m.PageNumber != nil:
		return fmt.Sprintf("[Page %d]", *m.PageNumber)
	case m.Source != "":
		return fmt.Sprintf("[%s]", m.Source)
	default:
		return "[Source]"
	}
}

func notFoundAnswer(question string) string {
	return fmt.Sprintf("Sorry, I couldn't find any information about \"%s\" in the IT support documentation.", question)
}

func isUnavailable(err error) bool {
	return errors.Is(err, port.ErrProviderUnavailable)
}
