package handler

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/arturoeanton/go-helpdesk-rag/internal/domain"
	"github.com/arturoeanton/go-helpdesk-rag/internal/middleware"
	"github.com/arturoeanton/go-helpdesk-rag/internal/port"
	"github.com/arturoeanton/go-helpdesk-rag/internal/service"
)

// Answerer runs the retrieval pipeline.
type Answerer interface {
	Query(ctx context.Context, question string, nResults int) service.Result
}

// QueryHandler answers questions and serves the caller's history.
type QueryHandler struct {
	pipeline Answerer
	queries  port.QueryStore
}

// NewQueryHandler creates a new query handler.
func NewQueryHandler(pipeline Answerer, queries port.QueryStore) *QueryHandler {
	return &QueryHandler{pipeline: pipeline, queries: queries}
}

// Register sets up query routes.
func (h *QueryHandler) Register(router fiber.Router) {
	router.Post("/query", h.Query)
	router.Get("/queries", h.History)
}

type queryResponse struct {
	domain.QueryRecord
	Sources  []domain.SearchResult `json:"sources"`
	Degraded []string              `json:"degraded,omitempty"`
}

// Query answers a question and persists the exchange.
func (h *QueryHandler) Query(c fiber.Ctx) error {
	uc := middleware.GetUserContext(c)
	if uc == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	var body struct {
		Question string `json:"question"`
		NResults int    `json:"n_results"`
	}
	if err := c.Bind().JSON(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if body.NResults < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "n_results must not be negative"})
	}
	middleware.SetAuditAction(c, domain.AuditActionQuery)

	res := h.pipeline.Query(c.Context(), body.Question, body.NResults)

	// blank questions are answered but never recorded
	if strings.TrimSpace(body.Question) == "" {
		return c.JSON(fiber.Map{"answer": res.Answer, "cluster": res.Cluster, "sources": []domain.SearchResult{}})
	}

	rec := domain.QueryRecord{
		ID:        uuid.NewString(),
		UserID:    uc.UserID,
		Question:  body.Question,
		Answer:    res.Answer,
		Cluster:   res.Cluster,
		LatencyMS: res.Latency.Milliseconds(),
		CreatedAt: time.Now().UTC(),
	}
	if err := h.queries.CreateQuery(c.Context(), &rec); err != nil {
		slog.Error("failed to persist query", "user_id", uc.UserID, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to save query"})
	}

	return c.JSON(queryResponse{QueryRecord: rec, Sources: res.Sources, Degraded: res.Degraded})
}

// History lists the caller's past questions, newest first.
func (h *QueryHandler) History(c fiber.Ctx) error {
	uc := middleware.GetUserContext(c)
	if uc == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	limit, offset := pageParams(c)
	records, err := h.queries.ListQueriesByUser(c.Context(), uc.UserID, limit, offset)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	if records == nil {
		records = []domain.QueryRecord{}
	}
	return c.JSON(fiber.Map{"queries": records, "count": len(records)})
}

// pageParams reads limit and offset query parameters, clamped to sane bounds.
func pageParams(c fiber.Ctx) (int, int) {
	limit, err := strconv.Atoi(c.Query("limit", "50"))
	if err != nil || limit <= 0 || limit > 500 {
		limit = 50
	}
	offset, err := strconv.Atoi(c.Query("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}
