// Package cluster maps questions to topical categories with a k-means model
// seeded by labelled reference questions and updated online.
package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/arturoeanton/go-helpdesk-rag/internal/domain"
	"github.com/arturoeanton/go-helpdesk-rag/internal/port"
)

const (
	DefaultClusters = 5
	seed            = 42
	maxIterations   = 100
)

// Status of the assigner model.
type Status string

const (
	StatusUninitialized Status = "not_initialized"
	StatusFitting       Status = "fitting"
	StatusReady         Status = "initialized"
)

// Info is a diagnostic snapshot of the assigner.
type Info struct {
	Status       Status      `json:"status"`
	NClusters    int         `json:"n_clusters"`
	NQuestions   int         `json:"n_questions"`
	Distribution map[int]int `json:"cluster_distribution,omitempty"`
	NCategories  int         `json:"n_categories,omitempty"`
}

// Assigner labels questions with a category. Exact reference matches win;
// other questions go to the nearest centroid, which is then nudged toward them.
type Assigner struct {
	embedder   port.Embedder
	refs       []domain.ReferenceQuestion
	byQuestion map[string]string

	mu            sync.Mutex
	status        Status
	k             int
	model         *KMeans
	refEmbeddings [][]float64
	refClusters   []int
}

// Option configures the assigner.
type Option func(*Assigner)

// WithClusters sets the number of clusters.
func WithClusters(k int) Option {
	return func(a *Assigner) {
		if k > 0 {
			a.k = k
		}
	}
}

// NewAssigner builds an assigner over the reference set. When modelPath names an
// existing saved model it is loaded; otherwise the model is fitted on the reference
// questions. A failed fit leaves the assigner uninitialized.
func NewAssigner(ctx context.Context, embedder port.Embedder, refs []domain.ReferenceQuestion, modelPath string, opts ...Option) *Assigner {
	a := &Assigner{
		embedder:   embedder,
		refs:       refs,
		byQuestion: make(map[string]string, len(refs)),
		status:     StatusUninitialized,
		k:          DefaultClusters,
	}
	for _, opt := range opts {
		opt(a)
	}
	for _, r := range refs {
		a.byQuestion[strings.TrimSpace(r.Question)] = r.Category
	}

	if modelPath != "" {
		err := a.Load(modelPath)
		if err == nil {
			slog.Info("cluster model loaded", "path", modelPath, "n_clusters", a.k)
			return a
		}
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("cluster model load failed, refitting", "path", modelPath, "error", err)
		}
	}

	if err := a.fitReferences(ctx); err != nil {
		slog.Error("cluster model initialization failed", "error", err)
	}
	return a
}

func (a *Assigner) fitReferences(ctx context.Context) error {
	if len(a.refs) == 0 {
		return fmt.Errorf("fit: no reference questions: %w", port.ErrClusteringUnfit)
	}

	a.mu.Lock()
	a.status = StatusFitting
	a.mu.Unlock()

	model, refEmb, refClusters, err := a.fitOn(ctx, questionsOf(a.refs), nil, a.k)
	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		a.status = StatusUninitialized
		return err
	}
	a.model, a.refEmbeddings, a.refClusters = model, refEmb, refClusters
	a.status = StatusReady

	slog.Info("cluster model fitted", "n_questions", len(a.refs), "distribution", distribution(refClusters))
	return nil
}

// fitOn embeds samples, fits k clusters and assigns each reference question to one.
// refEmb may be nil, in which case the reference questions are embedded as well.
func (a *Assigner) fitOn(ctx context.Context, samples []string, refEmb [][]float64, k int) (*KMeans, [][]float64, []int, error) {
	if len(samples) < k {
		return nil, nil, nil, fmt.Errorf("fit %d clusters on %d samples: %w", k, len(samples), port.ErrNotEnoughSamples)
	}

	vecs, err := a.embedder.EmbedBatch(ctx, samples)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("embed samples: %w", err)
	}
	if len(vecs) != len(samples) {
		return nil, nil, nil, fmt.Errorf("embed samples: got %d vectors for %d texts: %w", len(vecs), len(samples), port.ErrClusteringUnfit)
	}
	points := make([][]float64, len(vecs))
	for i, v := range vecs {
		points[i] = toFloat64(v)
	}

	model, err := fitKMeans(points, k, maxIterations, rand.New(rand.NewSource(seed)))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("fit: %v: %w", err, port.ErrClusteringUnfit)
	}

	if refEmb == nil {
		if sameQuestions(samples, a.refs) {
			refEmb = points
		} else {
			refVecs, err := a.embedder.EmbedBatch(ctx, questionsOf(a.refs))
			if err != nil {
				return nil, nil, nil, fmt.Errorf("embed reference questions: %w", err)
			}
			refEmb = make([][]float64, len(refVecs))
			for i, v := range refVecs {
				refEmb[i] = toFloat64(v)
			}
		}
	}

	refClusters := make([]int, len(refEmb))
	for i, e := range refEmb {
		c, err := model.Predict(e)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("assign reference %d: %v: %w", i, err, port.ErrClusteringUnfit)
		}
		refClusters[i] = c
	}

	return model, refEmb, refClusters, nil
}

// Assign returns the category for question and folds the question into the
// model with one online update. It never fails: problems degrade to
// domain.ClusterUncategorized.
func (a *Assigner) Assign(ctx context.Context, question string) string {
	return a.label(ctx, question, true)
}

func (a *Assigner) label(ctx context.Context, question string, update bool) string {
	question = strings.TrimSpace(question)
	if question == "" {
		return domain.ClusterUncategorized
	}

	if category, ok := a.byQuestion[question]; ok {
		return category
	}

	if a.Status() != StatusReady {
		slog.Warn("cluster model not initialized")
		return domain.ClusterUncategorized
	}

	vec, err := a.embedder.Embed(ctx, question)
	if err != nil {
		slog.Warn("cluster embedding failed", "error", err)
		return domain.ClusterUncategorized
	}
	x := toFloat64(vec)

	a.mu.Lock()
	defer a.mu.Unlock()

	c, err := a.model.Predict(x)
	if err != nil {
		slog.Warn("cluster prediction failed", "error", err)
		return domain.ClusterUncategorized
	}
	if update {
		if err := a.model.PartialFit(x); err != nil {
			slog.Warn("cluster online update failed", "error", err)
		}
	}

	return a.categoryFor(c)
}

// Classify labels question like Assign but leaves the model untouched.
func (a *Assigner) Classify(ctx context.Context, question string) string {
	return a.label(ctx, question, false)
}

// categoryFor resolves a cluster index by majority vote of the reference
// questions assigned to it. Ties go to the category seen first. Caller holds mu.
func (a *Assigner) categoryFor(c int) string {
	counts := map[string]int{}
	best, bestN := "", 0
	for i, rc := range a.refClusters {
		if rc != c || i >= len(a.refs) {
			continue
		}
		cat := a.refs[i].Category
		counts[cat]++
		if counts[cat] > bestN {
			best, bestN = cat, counts[cat]
		}
	}
	if bestN == 0 {
		return fmt.Sprintf("Cluster_%d", c)
	}
	return best
}

// Retrain refits the model on an arbitrary question set and replaces its state.
// k <= 0 keeps the current cluster count.
func (a *Assigner) Retrain(ctx context.Context, questions []string, k int) error {
	a.mu.Lock()
	if k <= 0 {
		k = a.k
	}
	refEmb := a.refEmbeddings
	a.mu.Unlock()

	clean := make([]string, 0, len(questions))
	for _, q := range questions {
		if q = strings.TrimSpace(q); q != "" {
			clean = append(clean, q)
		}
	}

	model, refEmb, refClusters, err := a.fitOn(ctx, clean, refEmb, k)
	if err != nil {
		return fmt.Errorf("retrain: %w", err)
	}

	a.mu.Lock()
	a.k = k
	a.model, a.refEmbeddings, a.refClusters = model, refEmb, refClusters
	a.status = StatusReady
	a.mu.Unlock()

	slog.Info("cluster model retrained", "n_samples", len(clean), "n_clusters", k, "distribution", distribution(refClusters))
	return nil
}

// Status reports the current model state.
func (a *Assigner) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// Info returns diagnostics about the model.
func (a *Assigner) Info() Info {
	a.mu.Lock()
	defer a.mu.Unlock()

	info := Info{Status: a.status, NClusters: a.k, NQuestions: len(a.refs)}
	if a.status != StatusReady {
		return info
	}
	info.Distribution = distribution(a.refClusters)

	cats := map[string]struct{}{}
	for _, r := range a.refs {
		cats[r.Category] = struct{}{}
	}
	info.NCategories = len(cats)
	return info
}

type savedModel struct {
	NClusters     int         `json:"n_clusters"`
	Model         *KMeans     `json:"model"`
	RefQuestions  []string    `json:"reference_questions"`
	RefClusters   []int       `json:"reference_clusters"`
	RefEmbeddings [][]float64 `json:"reference_embeddings,omitempty"`
}

// Save writes the model state as JSON. Only a ready model can be saved.
func (a *Assigner) Save(path string) error {
	a.mu.Lock()
	if a.status != StatusReady {
		a.mu.Unlock()
		return fmt.Errorf("save: %w", port.ErrClusteringUnfit)
	}
	data, err := json.Marshal(savedModel{
		NClusters:     a.k,
		Model:         a.model,
		RefQuestions:  questionsOf(a.refs),
		RefClusters:   a.refClusters,
		RefEmbeddings: a.refEmbeddings,
	})
	a.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encode model: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create model dir: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write model: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("write model: %w", err)
	}
	return nil
}

// Load replaces the model state with one written by Save. The saved reference
// assignments must match the current reference set.
func (a *Assigner) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read model: %w", err)
	}
	var s savedModel
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decode model: %w", err)
	}
	if s.Model == nil || len(s.Model.Centroids) != s.NClusters || len(s.Model.Counts) != s.NClusters {
		return fmt.Errorf("load: inconsistent centroids: %w", port.ErrClusteringUnfit)
	}
	if !sameQuestions(s.RefQuestions, a.refs) || len(s.RefClusters) != len(a.refs) {
		return fmt.Errorf("load: reference questions changed: %w", port.ErrClusteringUnfit)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.k = s.NClusters
	a.model = s.Model
	a.refClusters = s.RefClusters
	a.refEmbeddings = s.RefEmbeddings
	a.status = StatusReady
	return nil
}

func questionsOf(refs []domain.ReferenceQuestion) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.Question
	}
	return out
}

func sameQuestions(qs []string, refs []domain.ReferenceQuestion) bool {
	if len(qs) != len(refs) {
		return false
	}
	for i := range qs {
		if qs[i] != refs[i].Question {
			return false
		}
	}
	return true
}

func distribution(labels []int) map[int]int {
	d := make(map[int]int)
	for _, l := range labels {
		d[l]++
	}
	return d
}

// Categories returns the distinct reference categories in sorted order.
func (a *Assigner) Categories() []string {
	seen := map[string]struct{}{}
	for _, r := range a.refs {
		seen[r.Category] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
