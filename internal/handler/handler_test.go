package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"hash/fnv"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arturoeanton/go-helpdesk-rag/internal/adapter/store"
	"github.com/arturoeanton/go-helpdesk-rag/internal/cluster"
	"github.com/arturoeanton/go-helpdesk-rag/internal/domain"
	"github.com/arturoeanton/go-helpdesk-rag/internal/ingest"
	"github.com/arturoeanton/go-helpdesk-rag/internal/middleware"
	"github.com/arturoeanton/go-helpdesk-rag/internal/service"
	"github.com/arturoeanton/go-helpdesk-rag/pkg/config"
)

// textEmbedder maps each text to a deterministic unit vector.
type textEmbedder struct{}

func (textEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()
	v := make([]float32, 16)
	var norm float64
	for i := range v {
		seed = seed*6364136223846793005 + 1442695040888963407
		f := float64(int64(seed>>11)%2001-1000) / 1000
		v[i] = float32(f)
		norm += f * f
	}
	for i := range v {
		v[i] /= float32(math.Sqrt(norm))
	}
	return v, nil
}

func (e textEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = e.Embed(ctx, t)
	}
	return out, nil
}

type fixedAnswerer struct{}

func (fixedAnswerer) Query(_ context.Context, q string, _ int) service.Result {
	if strings.TrimSpace(q) == "" {
		return service.Result{Answer: service.InvalidQuestionAnswer, Cluster: domain.ClusterUncategorized}
	}
	return service.Result{
		Answer:  "Restart the router.",
		Cluster: "Networking",
		Sources: []domain.SearchResult{{ID: "doc_0", Text: "router", Distance: 0.1}},
		Latency: 12 * time.Millisecond,
	}
}

type testEnv struct {
	app     *fiber.App
	store   *store.SQLStore
	jwtCfg  middleware.JWTConfig
	auth    *service.AuthService
	indexer *service.Indexer
}

func newTestEnv(t *testing.T, adminEmails ...string) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := store.Open(ctx, "sqlite://:memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	index, err := store.NewChromemIndex("", "test_docs", textEmbedder{})
	require.NoError(t, err)

	cfg := &config.Config{AppName: "test", JWTSecret: "secret", JWTIssuer: "helpdesk-rag", JWTExpiration: 30, AdminEmails: adminEmails}
	authService := service.NewAuthService(db, cfg)
	assigner := cluster.NewAssigner(ctx, textEmbedder{}, ingest.LoadReferenceQuestions(), "")
	indexer := service.NewIndexer(index, textEmbedder{}, ingest.NewLoader(ingest.NewSplitter()), "")
	clusters := service.NewClusterService(assigner, db, "")
	tracker := NewJobTracker()

	app := fiber.New()
	v1 := app.Group("/api/v1")
	NewHealthHandler(cfg.AppName, index, assigner.Status).Register(v1)
	NewAuthHandler(authService).Register(v1)

	api := v1.Group("", middleware.JWTMiddleware(authService.JWTConfig()))
	NewQueryHandler(fixedAnswerer{}, db).Register(api)
	NewUserHandler(db).Register(api)
	NewJobsHandler(tracker).Register(api)

	admin := api.Group("", middleware.RequireRole(domain.RoleAdmin))
	NewAdminHandler(indexer, clusters, tracker).Register(admin)
	NewAuditHandler(db).Register(admin)

	return &testEnv{app: app, store: db, jwtCfg: authService.JWTConfig(), auth: authService, indexer: indexer}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.app.Test(req, fiber.TestConfig{Timeout: 10 * time.Second})
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(data) > 0 {
		_ = json.Unmarshal(data, &out)
	}
	return resp, out
}

func (e *testEnv) adminToken(t *testing.T) string {
	t.Helper()
	token, err := middleware.GenerateJWT(&domain.User{ID: "admin-1", Email: "root@example.com", Role: domain.RoleAdmin}, e.jwtCfg)
	require.NoError(t, err)
	return token
}

func (e *testEnv) login(t *testing.T) string {
	t.Helper()
	e.register(t, "ana@example.com")
	return e.signIn(t, "ana@example.com")
}

func (e *testEnv) register(t *testing.T, email string) {
	t.Helper()
	resp, _ := e.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
		"email": email, "password": "correct-horse", "name": "Ana",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func (e *testEnv) signIn(t *testing.T, email string) string {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email": email, "password": "correct-horse",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token, ok := body["access_token"].(string)
	require.True(t, ok)
	return token
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.do(t, http.MethodGet, "/api/v1/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
	assert.EqualValues(t, 0, body["indexed_documents"])
}

func TestAuthFlow(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)
	assert.NotEmpty(t, token)

	t.Run("duplicate email", func(t *testing.T) {
		resp, _ := env.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
			"email": "ana@example.com", "password": "correct-horse",
		})
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("short password", func(t *testing.T) {
		resp, _ := env.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]string{
			"email": "bob@example.com", "password": "short",
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("wrong password", func(t *testing.T) {
		resp, _ := env.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
			"email": "ana@example.com", "password": "nope-nope",
		})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("me", func(t *testing.T) {
		resp, body := env.do(t, http.MethodGet, "/api/v1/users/me", token, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "ana@example.com", body["email"])
		assert.NotContains(t, body, "password_hash")
	})
}

func TestQueryAndHistory(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	resp, _ := env.do(t, http.MethodPost, "/api/v1/query", "", map[string]any{"question": "wifi?"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := env.do(t, http.MethodPost, "/api/v1/query", token, map[string]any{"question": "wifi?", "n_results": 5})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Restart the router.", body["answer"])
	assert.Equal(t, "Networking", body["cluster"])
	assert.EqualValues(t, 12, body["latency_ms"])
	assert.NotEmpty(t, body["id"])
	assert.Len(t, body["sources"], 1)

	resp, _ = env.do(t, http.MethodPost, "/api/v1/query", token, map[string]any{"question": "x", "n_results": -1})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = env.do(t, http.MethodPost, "/api/v1/query", token, map[string]any{"question": "   "})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, service.InvalidQuestionAnswer, body["answer"])

	resp, body = env.do(t, http.MethodGet, "/api/v1/queries", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["count"])
}

func TestUsersList(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	resp, body := env.do(t, http.MethodGet, "/api/v1/users", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["count"])
}

func TestAdminRequiresRole(t *testing.T) {
	env := newTestEnv(t)
	token := env.login(t)

	resp, _ := env.do(t, http.MethodPost, "/api/v1/admin/reindex", token, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAdminReindexJob(t *testing.T) {
	env := newTestEnv(t)
	token := env.adminToken(t)

	resp, body := env.do(t, http.MethodPost, "/api/v1/admin/reindex", token, map[string]bool{"reset": true})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	jobID, ok := body["job_id"].(string)
	require.True(t, ok)

	var job map[string]any
	require.Eventually(t, func() bool {
		_, job = env.do(t, http.MethodGet, "/api/v1/jobs/"+jobID, token, nil)
		return job["status"] == JobComplete || job["status"] == JobError
	}, 10*time.Second, 20*time.Millisecond)

	assert.Equal(t, JobComplete, job["status"])
	result, ok := job["result"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 117, result["index_count"])
	assert.Equal(t, true, result["source_missing"])

	resp, body = env.do(t, http.MethodGet, "/api/v1/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 117, body["indexed_documents"])

	resp, _ = env.do(t, http.MethodGet, "/api/v1/jobs/missing", token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdminClusters(t *testing.T) {
	env := newTestEnv(t)
	token := env.adminToken(t)

	resp, body := env.do(t, http.MethodGet, "/api/v1/admin/clusters", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(cluster.StatusReady), body["status"])

	resp, _ = env.do(t, http.MethodPost, "/api/v1/admin/retrain", token, map[string]int{"min_questions": 5})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "no stored questions yet")

	resp, _ = env.do(t, http.MethodPost, "/api/v1/admin/clusters/save", token, nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode, "no model path configured")
}

func TestAuditLogs(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.WriteAudit("u1", domain.AuditActionQuery, "api", "/api/v1/query", "{}", "127.0.0.1", "test"))

	resp, body := env.do(t, http.MethodGet, "/api/v1/audit/logs?action=query", env.adminToken(t), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["count"])
}

func TestJobTracker_Notifies(t *testing.T) {
	tr := NewJobTracker()
	tr.CreateJob("j1", "reindex")
	ch := tr.Subscribe("j1")

	tr.UpdateProgress("j1", "indexing", 50, 100)
	update := <-ch
	assert.Equal(t, "indexing", update.Stage)
	assert.Equal(t, 50, update.Progress)

	tr.Complete("j1", map[string]int{"n": 1})
	update = <-ch
	assert.Equal(t, JobComplete, update.Status)
	tr.Unsubscribe("j1", ch)

	job, ok := tr.GetJob("j1")
	require.True(t, ok)
	assert.False(t, job.CompletedAt.IsZero())
}

func TestAdminProvisioning(t *testing.T) {
	t.Run("promoted user reaches admin routes after login", func(t *testing.T) {
		env := newTestEnv(t)
		env.register(t, "ops@example.com")
		stale := env.signIn(t, "ops@example.com")

		_, err := env.auth.SetRole(context.Background(), "ops@example.com", domain.RoleAdmin)
		require.NoError(t, err)

		resp, _ := env.do(t, http.MethodPost, "/api/v1/admin/reindex", stale, nil)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode, "old token keeps the old role")

		token := env.signIn(t, "ops@example.com")
		resp, body := env.do(t, http.MethodPost, "/api/v1/admin/reindex", token, nil)
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
		waitForJob(t, env, token, body["job_id"].(string))
	})

	t.Run("configured admin email", func(t *testing.T) {
		env := newTestEnv(t, "root@example.com")
		env.register(t, "root@example.com")
		token := env.signIn(t, "root@example.com")

		resp, body := env.do(t, http.MethodGet, "/api/v1/users/me", token, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, domain.RoleAdmin, body["role"])

		resp, body = env.do(t, http.MethodPost, "/api/v1/admin/reindex", token, nil)
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
		waitForJob(t, env, token, body["job_id"].(string))
	})
}

func TestAdminReindex_SlotTaken(t *testing.T) {
	env := newTestEnv(t)
	token := env.adminToken(t)

	run, err := env.indexer.Start()
	require.NoError(t, err)

	resp, body := env.do(t, http.MethodPost, "/api/v1/admin/reindex", token, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.NotEmpty(t, body["error"])

	_, err = run.Run(context.Background(), true, nil)
	require.NoError(t, err)

	resp, body = env.do(t, http.MethodPost, "/api/v1/admin/reindex", token, nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	waitForJob(t, env, token, body["job_id"].(string))
}

func waitForJob(t *testing.T, env *testEnv, token, jobID string) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, job := env.do(t, http.MethodGet, "/api/v1/jobs/"+jobID, token, nil)
		return job["status"] == JobComplete || job["status"] == JobError
	}, 10*time.Second, 20*time.Millisecond)
}
