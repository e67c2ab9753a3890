// Package mcp exposes the help-desk assistant to external agents over the
// Model Context Protocol (streamable HTTP transport).
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/arturoeanton/go-helpdesk-rag/internal/domain"
	"github.com/arturoeanton/go-helpdesk-rag/internal/middleware"
	"github.com/arturoeanton/go-helpdesk-rag/internal/service"
)

// Version is the MCP server version.
const Version = "1.0.0"

const defaultSearchLimit = 10

// ErrMissingPipeline is returned when the server is built without a pipeline.
var ErrMissingPipeline = errors.New("mcp: pipeline is required")

// Answerer runs the full retrieval pipeline.
type Answerer interface {
	Query(ctx context.Context, question string, nResults int) service.Result
}

// Classifier labels a question without updating the model.
type Classifier interface {
	Classify(ctx context.Context, question string) string
}

// Searcher finds the nearest indexed chunks.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]domain.SearchResult, error)
}

// Deps are the services exposed as tools. Audit is optional.
type Deps struct {
	Pipeline   Answerer
	Classifier Classifier
	Searcher   Searcher
	Audit      middleware.AuditWriter
}

// Server implements the Model Context Protocol server.
type Server struct {
	deps   Deps
	port   string
	server *mcp.Server
}

// NewServer creates a new MCP server listening on port once started.
func NewServer(deps Deps, port string) (*Server, error) {
	if deps.Pipeline == nil {
		return nil, ErrMissingPipeline
	}
	s := &Server{
		deps:   deps,
		port:   port,
		server: mcp.NewServer(&mcp.Implementation{Name: "helpdesk-rag", Version: Version}, nil),
	}
	s.registerTools()
	return s, nil
}

// Handler returns the streamable HTTP handler serving this server.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.server
	}, nil)
}

// Start serves MCP on the configured port until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/mcp", s.Handler())

	httpServer := &http.Server{
		Addr:              ":" + s.port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	slog.Info("MCP server starting", "port", s.port)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

// AskInput is the input of ask_it_support.
type AskInput struct {
	Question string `json:"question" jsonschema:"the IT support question to answer"`
	NResults int    `json:"n_results,omitempty" jsonschema:"number of documents to retrieve (default 30)"`
}

// AskOutput is the output of ask_it_support.
type AskOutput struct {
	Answer   string   `json:"answer"`
	Cluster  string   `json:"cluster"`
	Sources  []Source `json:"sources"`
	Degraded []string `json:"degraded,omitempty"`
}

// ClassifyInput is the input of classify_question.
type ClassifyInput struct {
	Question string `json:"question" jsonschema:"the question to categorize"`
}

// ClassifyOutput is the output of classify_question.
type ClassifyOutput struct {
	Cluster string `json:"cluster"`
}

// SearchInput is the input of search_documents.
type SearchInput struct {
	Query string `json:"query" jsonschema:"text to search the IT support documentation for"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of results (default 10)"`
}

// SearchOutput is the output of search_documents.
type SearchOutput struct {
	Results []Source `json:"results"`
	Count   int      `json:"count"`
}

// Source is one retrieved chunk.
type Source struct {
	ID       string  `json:"id"`
	Text     string  `json:"text"`
	Source   string  `json:"source,omitempty"`
	Page     *int    `json:"page,omitempty"`
	Chapter  *string `json:"chapter,omitempty"`
	Category *string `json:"category,omitempty"`
	Distance float64 `json:"distance"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "ask_it_support",
		Description: "Answer an IT support question from the indexed documentation",
	}, s.handleAsk)

	if s.deps.Classifier != nil {
		mcp.AddTool(s.server, &mcp.Tool{
			Name:        "classify_question",
			Description: "Return the IT support category of a question",
		}, s.handleClassify)
	}

	if s.deps.Searcher != nil {
		mcp.AddTool(s.server, &mcp.Tool{
			Name:        "search_documents",
			Description: "Semantic search over the IT support documentation",
		}, s.handleSearch)
	}
}

func (s *Server) handleAsk(ctx context.Context, _ *mcp.CallToolRequest, in AskInput) (*mcp.CallToolResult, AskOutput, error) {
	if strings.TrimSpace(in.Question) == "" {
		return nil, AskOutput{}, errors.New("question is required")
	}
	s.audit("ask_it_support", in.Question)

	res := s.deps.Pipeline.Query(ctx, in.Question, in.NResults)
	return nil, AskOutput{
		Answer:   res.Answer,
		Cluster:  res.Cluster,
		Sources:  toSources(res.Sources),
		Degraded: res.Degraded,
	}, nil
}

func (s *Server) handleClassify(ctx context.Context, _ *mcp.CallToolRequest, in ClassifyInput) (*mcp.CallToolResult, ClassifyOutput, error) {
	s.audit("classify_question", in.Question)
	return nil, ClassifyOutput{Cluster: s.deps.Classifier.Classify(ctx, in.Question)}, nil
}

func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, in SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	if strings.TrimSpace(in.Query) == "" {
		return nil, SearchOutput{}, errors.New("query is required")
	}
	limit := in.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	s.audit("search_documents", in.Query)

	results, err := s.deps.Searcher.Search(ctx, in.Query, limit)
	if err != nil {
		return nil, SearchOutput{}, fmt.Errorf("search documents: %w", err)
	}
	out := toSources(results)
	return nil, SearchOutput{Results: out, Count: len(out)}, nil
}

func (s *Server) audit(tool, input string) {
	if s.deps.Audit == nil {
		return
	}
	go func() {
		if err := s.deps.Audit.WriteAudit("mcp", domain.AuditActionMCPCall, "tool", tool, input, "", "mcp"); err != nil {
			slog.Error("failed to write audit log", "tool", tool, "error", err)
		}
	}()
}

func toSources(results []domain.SearchResult) []Source {
	out := make([]Source, len(results))
	for i, r := range results {
		out[i] = Source{
			ID:       r.ID,
			Text:     r.Text,
			Source:   r.Metadata.Source,
			Page:     r.Metadata.PageNumber,
			Chapter:  r.Metadata.Chapter,
			Category: r.Metadata.Category,
			Distance: r.Distance,
		}
	}
	return out
}
