package service

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/arturoeanton/go-helpdesk-rag/internal/domain"
	"github.com/arturoeanton/go-helpdesk-rag/internal/port"
)

type stubAssigner struct {
	label string
	calls atomic.Int32
}

func (s *stubAssigner) Assign(context.Context, string) string {
	s.calls.Add(1)
	return s.label
}

type stubSearcher struct {
	results []domain.SearchResult
	err     error
	calls   atomic.Int32
	lastK   int
}

func (s *stubSearcher) Search(_ context.Context, _ string, k int) ([]domain.SearchResult, error) {
	s.calls.Add(1)
	s.lastK = k
	if s.err != nil {
		return nil, s.err
	}
	return s.results, nil
}

type stubGenerator struct {
	answer      string
	err         error
	calls       atomic.Int32
	lastContext string
}

func (s *stubGenerator) Generate(_ context.Context, _, contextText string) (string, error) {
	s.calls.Add(1)
	s.lastContext = contextText
	return s.answer, s.err
}

type stubChatModel struct {
	answer string
	err    error
	calls  atomic.Int32
	last   port.ChatRequest
}

func (m *stubChatModel) ModelName() string { return "stub" }

func (m *stubChatModel) Chat(_ context.Context, req port.ChatRequest) (string, error) {
	m.calls.Add(1)
	m.last = req
	return m.answer, m.err
}

// memIndex is an in-memory port.VectorIndex recording what it stores.
type memIndex struct {
	mu      sync.Mutex
	chunks  []domain.Chunk
	resets  int
	adds    int
	failAdd error
}

func (m *memIndex) Add(_ context.Context, chunks []domain.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAdd != nil {
		return m.failAdd
	}
	m.adds++
	m.chunks = append(m.chunks, chunks...)
	return nil
}

func (m *memIndex) AddEntries(_ context.Context, entries []domain.IndexEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAdd != nil {
		return m.failAdd
	}
	m.adds++
	for _, e := range entries {
		m.chunks = append(m.chunks, domain.Chunk{Text: e.Text, Metadata: e.Metadata})
	}
	return nil
}

func (m *memIndex) Search(context.Context, string, int) ([]domain.SearchResult, error) {
	return nil, nil
}

func (m *memIndex) Count(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.chunks), nil
}

func (m *memIndex) Reset(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets++
	m.chunks = nil
	return nil
}

// wordEmbedder hashes words into a small normalized bag-of-words vector.
type wordEmbedder struct{}

func (wordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, 16)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(w))
		v[h.Sum32()%16]++
	}
	var norm float64
	for _, x := range v {
		norm += float64(x * x)
	}
	if norm == 0 {
		v[0] = 1
		return v, nil
	}
	for i := range v {
		v[i] /= float32(math.Sqrt(norm))
	}
	return v, nil
}

func (e wordEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = e.Embed(ctx, t)
	}
	return out, nil
}

// downEmbedder fails every call after the first ok batches.
type downEmbedder struct {
	wordEmbedder
	ok      int
	batches atomic.Int32
}

func (e *downEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if int(e.batches.Add(1)) > e.ok {
		return nil, port.ErrProviderUnavailable
	}
	return e.wordEmbedder.EmbedBatch(ctx, texts)
}

// memQueries is an in-memory port.QueryStore.
type memQueries struct {
	mu      sync.Mutex
	records []domain.QueryRecord
}

func (m *memQueries) CreateQuery(_ context.Context, q *domain.QueryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, *q)
	return nil
}

func (m *memQueries) ListQueriesByUser(_ context.Context, userID string, _, _ int) ([]domain.QueryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.QueryRecord
	for _, r := range m.records {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memQueries) ListAllQuestions(context.Context) ([]domain.QueryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.QueryRecord(nil), m.records...), nil
}

func (m *memQueries) UpdateQueryCluster(_ context.Context, id, cluster string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.records {
		if m.records[i].ID == id {
			m.records[i].Cluster = cluster
		}
	}
	return nil
}

// memUsers is an in-memory port.UserStore.
type memUsers struct {
	mu    sync.Mutex
	users map[string]*domain.User
}

func newMemUsers() *memUsers {
	return &memUsers{users: make(map[string]*domain.User)}
}

func (m *memUsers) CreateUser(_ context.Context, u *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.Email]; ok {
		return port.ErrUserExists
	}
	u.ID = "id-" + u.Email
	cp := *u
	m.users[u.Email] = &cp
	return nil
}

func (m *memUsers) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[email]
	if !ok {
		return nil, port.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == id {
			cp := *u
			return &cp, nil
		}
	}
	return nil, port.ErrUserNotFound
}

func (m *memUsers) SetUserRole(_ context.Context, id, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == id {
			u.Role = role
			return nil
		}
	}
	return port.ErrUserNotFound
}

func (m *memUsers) ListUsers(context.Context, int, int) ([]domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, *u)
	}
	return out, nil
}

func intPtr(n int) *int       { return &n }
func strPtr(s string) *string { return &s }
