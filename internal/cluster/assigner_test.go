package cluster

import (
	"context"
	"errors"
	"hash/fnv"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arturoeanton/go-helpdesk-rag/internal/adapter/ai"
	"github.com/arturoeanton/go-helpdesk-rag/internal/domain"
	"github.com/arturoeanton/go-helpdesk-rag/internal/port"
)

// groupEmbedder places every text near the axis of the first keyword it contains.
type groupEmbedder struct {
	keywords []string
	calls    atomic.Int32
	fail     bool
}

func (e *groupEmbedder) vector(text string) []float32 {
	v := make([]float32, len(e.keywords))
	for i, kw := range e.keywords {
		if strings.Contains(strings.ToLower(text), kw) {
			v[i] = 10
			break
		}
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(text))
	for i := range v {
		v[i] += float32((h.Sum32()>>uint(i*4))&0xf) / 200
	}
	return v
}

func (e *groupEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	if e.fail {
		return nil, port.ErrProviderUnavailable
	}
	return e.vector(text), nil
}

func (e *groupEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	e.calls.Add(1)
	if e.fail {
		return nil, port.ErrProviderUnavailable
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

var testRefs = []domain.ReferenceQuestion{
	{Question: "How to fix a printer jam?", Category: "Hardware"},
	{Question: "Why is the printer offline?", Category: "Hardware"},
	{Question: "How to install printer drivers?", Category: "Hardware"},
	{Question: "How to reset a network router?", Category: "Networking"},
	{Question: "Why is the network slow?", Category: "Networking"},
	{Question: "How to configure network DNS?", Category: "Networking"},
	{Question: "How to choose a strong password?", Category: "Security"},
	{Question: "How often should a password change?", Category: "Security"},
	{Question: "What is password hashing?", Category: "Security"},
}

func newTestEmbedder() *groupEmbedder {
	return &groupEmbedder{keywords: []string{"printer", "network", "password", "backup"}}
}

func TestAssigner_ReferenceShortcut(t *testing.T) {
	emb := newTestEmbedder()
	a := NewAssigner(context.Background(), emb, testRefs, "", WithClusters(3))
	require.Equal(t, StatusReady, a.Status())
	before := emb.calls.Load()

	first := a.Assign(context.Background(), "  Why is the network slow?  ")
	second := a.Assign(context.Background(), "Why is the network slow?")

	assert.Equal(t, "Networking", first)
	assert.Equal(t, first, second)
	assert.Equal(t, before, emb.calls.Load(), "reference questions must not be embedded")
}

func TestAssigner_BlankQuestion(t *testing.T) {
	emb := newTestEmbedder()
	a := NewAssigner(context.Background(), emb, testRefs, "", WithClusters(3))
	before := emb.calls.Load()

	assert.Equal(t, domain.ClusterUncategorized, a.Assign(context.Background(), "   "))
	assert.Equal(t, before, emb.calls.Load())
}

func TestAssigner_NearestCategory(t *testing.T) {
	a := NewAssigner(context.Background(), newTestEmbedder(), testRefs, "", WithClusters(3))

	assert.Equal(t, "Hardware", a.Assign(context.Background(), "my printer prints blank pages"))
	assert.Equal(t, "Security", a.Assign(context.Background(), "I forgot my password"))
	assert.Equal(t, "Networking", a.Assign(context.Background(), "wifi network keeps dropping"))
}

func TestAssigner_OnlineUpdateMovesCentroid(t *testing.T) {
	a := NewAssigner(context.Background(), newTestEmbedder(), testRefs, "", WithClusters(3))
	a.mu.Lock()
	total := 0
	for _, n := range a.model.Counts {
		total += n
	}
	a.mu.Unlock()

	a.Assign(context.Background(), "printer out of toner")

	a.mu.Lock()
	defer a.mu.Unlock()
	after := 0
	for _, n := range a.model.Counts {
		after += n
	}
	assert.Equal(t, total+1, after)
}

func TestAssigner_FitFailureDegrades(t *testing.T) {
	emb := newTestEmbedder()
	emb.fail = true
	a := NewAssigner(context.Background(), emb, testRefs, "", WithClusters(3))

	assert.Equal(t, StatusUninitialized, a.Status())
	assert.Equal(t, domain.ClusterUncategorized, a.Assign(context.Background(), "printer is smoking"))
	assert.Equal(t, "Security", a.Assign(context.Background(), "What is password hashing?"))
	assert.Equal(t, StatusUninitialized, a.Info().Status)
}

func TestAssigner_TooManyClusters(t *testing.T) {
	a := NewAssigner(context.Background(), newTestEmbedder(), testRefs, "", WithClusters(20))

	assert.Equal(t, StatusUninitialized, a.Status())
}

func TestAssigner_EmbedFailureAtAssign(t *testing.T) {
	emb := newTestEmbedder()
	a := NewAssigner(context.Background(), emb, testRefs, "", WithClusters(3))
	emb.fail = true

	assert.Equal(t, domain.ClusterUncategorized, a.Assign(context.Background(), "printer is smoking"))
}

func TestAssigner_Retrain(t *testing.T) {
	ctx := context.Background()
	a := NewAssigner(ctx, newTestEmbedder(), testRefs, "", WithClusters(3))

	t.Run("not enough samples", func(t *testing.T) {
		err := a.Retrain(ctx, []string{"printer", "  ", "network"}, 3)
		require.ErrorIs(t, err, port.ErrNotEnoughSamples)
		assert.Equal(t, StatusReady, a.Status(), "failed retrain keeps the old model")
	})

	t.Run("unlabelled cluster gets synthetic label", func(t *testing.T) {
		history := []string{
			"printer jam", "printer toner", "network down", "network cable",
			"password expired", "password manager", "backup failed", "backup schedule",
		}
		require.NoError(t, a.Retrain(ctx, history, 4))

		assert.Equal(t, 4, a.Info().NClusters)
		assert.True(t, strings.HasPrefix(a.Assign(ctx, "restore from backup"), "Cluster_"))
		assert.Equal(t, "Hardware", a.Assign(ctx, "printer noise"))
	})
}

func TestAssigner_Info(t *testing.T) {
	a := NewAssigner(context.Background(), newTestEmbedder(), testRefs, "", WithClusters(3))

	info := a.Info()

	assert.Equal(t, StatusReady, info.Status)
	assert.Equal(t, 3, info.NClusters)
	assert.Equal(t, len(testRefs), info.NQuestions)
	assert.Equal(t, 3, info.NCategories)
	total := 0
	for _, n := range info.Distribution {
		total += n
	}
	assert.Equal(t, len(testRefs), total)
	assert.Equal(t, []string{"Hardware", "Networking", "Security"}, a.Categories())
}

func TestAssigner_SaveLoad(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "models", "clusters.json")

	a := NewAssigner(ctx, newTestEmbedder(), testRefs, path, WithClusters(3))
	require.NoError(t, a.Save(path))

	emb := newTestEmbedder()
	loaded := NewAssigner(ctx, emb, testRefs, path, WithClusters(5))

	assert.Equal(t, StatusReady, loaded.Status())
	assert.Equal(t, 3, loaded.Info().NClusters, "saved cluster count wins")
	assert.Zero(t, emb.calls.Load(), "loading must not refit")
	assert.Equal(t, "Hardware", loaded.Assign(ctx, "printer on fire"))
}

func TestAssigner_LoadRejectsChangedReferences(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "clusters.json")
	require.NoError(t, NewAssigner(ctx, newTestEmbedder(), testRefs, "", WithClusters(3)).Save(path))

	other := NewAssigner(ctx, newTestEmbedder(), testRefs[:6], "", WithClusters(2))
	err := other.Load(path)

	require.ErrorIs(t, err, port.ErrClusteringUnfit)
}

func TestAssigner_SaveUninitialized(t *testing.T) {
	emb := newTestEmbedder()
	emb.fail = true
	a := NewAssigner(context.Background(), emb, testRefs, "")

	err := a.Save(filepath.Join(t.TempDir(), "clusters.json"))

	assert.True(t, errors.Is(err, port.ErrClusteringUnfit))
}

func TestAssigner_ConcurrentAssign(t *testing.T) {
	ctx := context.Background()
	a := NewAssigner(ctx, newTestEmbedder(), testRefs, "", WithClusters(3))

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q := []string{"printer %d", "network %d", "password %d"}[i%3]
			assert.NotEqual(t, domain.ClusterUncategorized, a.Assign(ctx, strings.Replace(q, "%d", string(rune('a'+i)), 1)))
		}(i)
	}
	wg.Wait()
}

func TestAssigner_ClassifyDoesNotUpdate(t *testing.T) {
	a := NewAssigner(context.Background(), newTestEmbedder(), testRefs, "", WithClusters(3))
	a.mu.Lock()
	before := append([]int(nil), a.model.Counts...)
	a.mu.Unlock()

	assert.Equal(t, "Hardware", a.Classify(context.Background(), "printer out of paper"))

	a.mu.Lock()
	defer a.mu.Unlock()
	assert.Equal(t, before, a.model.Counts)
}

// stalledEmbedder blocks until the caller's context ends.
type stalledEmbedder struct{}

func (stalledEmbedder) Embed(ctx context.Context, _ string) ([]float32, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (stalledEmbedder) EmbedBatch(ctx context.Context, _ []string) ([][]float32, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestAssigner_BoundedEmbedderDoesNotHang(t *testing.T) {
	emb := ai.WithTimeout(stalledEmbedder{}, 50*time.Millisecond)
	a := NewAssigner(context.Background(), emb, testRefs, "", WithClusters(3))

	done := make(chan string, 1)
	go func() { done <- a.Assign(context.Background(), "my backup failed") }()

	select {
	case got := <-done:
		assert.Equal(t, domain.ClusterUncategorized, got)
	case <-time.After(3 * time.Second):
		t.Fatal("Assign blocked past the provider timeout")
	}
}
