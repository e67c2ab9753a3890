package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CHUNK_SIZE", "")
	t.Setenv("LLM_PROVIDER", "")
	t.Setenv("ADMIN_EMAILS", "")

	cfg := Load()

	assert.Equal(t, 300, cfg.ChunkSize)
	assert.Equal(t, 50, cfg.ChunkOverlap)
	assert.Equal(t, 30, cfg.DefaultNResults)
	assert.Equal(t, 5, cfg.MinContextResults)
	assert.Equal(t, "it_support_docs", cfg.CollectionName)
	assert.Equal(t, ProviderGemini, cfg.LLMProvider)
	assert.Equal(t, 60*time.Second, cfg.ProviderTimeout)
	assert.Empty(t, cfg.AdminEmails)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("CHUNK_SIZE", "500")
	t.Setenv("RELEVANCE_THRESHOLD", "0.35")
	t.Setenv("MCP_ENABLED", "false")
	t.Setenv("EMBED_PROVIDER", "GEMINI")
	t.Setenv("N_CLUSTERS", "not-a-number")
	t.Setenv("ADMIN_EMAILS", " Root@Example.com, ,ops@example.com")

	cfg := Load()

	assert.Equal(t, 500, cfg.ChunkSize)
	assert.InDelta(t, 0.35, cfg.RelevanceThreshold, 1e-9)
	assert.False(t, cfg.MCPEnabled)
	assert.Equal(t, ProviderGemini, cfg.EmbedProvider)
	assert.Equal(t, 5, cfg.NClusters, "invalid ints fall back to the default")
	assert.Equal(t, []string{"root@example.com", "ops@example.com"}, cfg.AdminEmails)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			JWTSecret:          "secret",
			EmbedProvider:      ProviderOllama,
			LLMProvider:        ProviderOllama,
			VectorBackend:      BackendChromem,
			ChunkSize:          300,
			ChunkOverlap:       50,
			RelevanceThreshold: 0.5,
			NClusters:          5,
			MaxAnswerChars:     2000,
		}
	}

	t.Run("valid", func(t *testing.T) {
		require.NoError(t, valid().Validate())
	})

	t.Run("missing jwt secret", func(t *testing.T) {
		cfg := valid()
		cfg.JWTSecret = ""
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "JWT_SECRET")
	})

	t.Run("gemini without key", func(t *testing.T) {
		cfg := valid()
		cfg.LLMProvider = ProviderGemini
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "GEMINI_API_KEY")
	})

	t.Run("gemini with key", func(t *testing.T) {
		cfg := valid()
		cfg.LLMProvider = ProviderGemini
		cfg.GeminiAPIKey = "key"
		require.NoError(t, cfg.Validate())
	})

	t.Run("overlap not smaller than size", func(t *testing.T) {
		cfg := valid()
		cfg.ChunkOverlap = 300
		require.Error(t, cfg.Validate())
	})

	t.Run("unknown backend", func(t *testing.T) {
		cfg := valid()
		cfg.VectorBackend = "faiss"
		require.Error(t, cfg.Validate())
	})
}

func TestDSN_MasksCredentials(t *testing.T) {
	cfg := &Config{DatabaseURL: "postgres://user:pw@db:5432/helpdesk"}
	assert.Equal(t, "postgres://***@db:5432/helpdesk", cfg.DSN())

	cfg.DatabaseURL = "sqlite://helpdesk.db"
	assert.Equal(t, "sqlite://helpdesk.db", cfg.DSN())
}
