package handler

import (
	"context"
	"log/slog"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/arturoeanton/go-helpdesk-rag/internal/domain"
	"github.com/arturoeanton/go-helpdesk-rag/internal/middleware"
	"github.com/arturoeanton/go-helpdesk-rag/internal/service"
)

// defaultMinQuestions is the stored-question floor for retraining when the request omits it.
const defaultMinQuestions = 20

// AdminHandler exposes index and cluster maintenance.
type AdminHandler struct {
	indexer  *service.Indexer
	clusters *service.ClusterService
	tracker  *JobTracker
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(indexer *service.Indexer, clusters *service.ClusterService, tracker *JobTracker) *AdminHandler {
	return &AdminHandler{indexer: indexer, clusters: clusters, tracker: tracker}
}

// Register sets up admin routes.
func (h *AdminHandler) Register(router fiber.Router) {
	admin := router.Group("/admin")
	admin.Post("/reindex", h.Reindex)
	admin.Post("/retrain", h.Retrain)
	admin.Get("/clusters", h.ClusterInfo)
	admin.Post("/clusters/save", h.SaveClusters)
}

// Reindex starts a background rebuild of the vector index and returns its job id.
func (h *AdminHandler) Reindex(c fiber.Ctx) error {
	var body struct {
		Reset *bool `json:"reset"`
	}
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&body); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
	}
	reset := body.Reset == nil || *body.Reset
	middleware.SetAuditAction(c, domain.AuditActionReindex)

	run, err := h.indexer.Start()
	if err != nil {
		return errorJSON(c, err)
	}

	jobID := uuid.NewString()
	h.tracker.CreateJob(jobID, "reindex")

	go func() {
		report, err := run.Run(context.Background(), reset, func(stage string, done, total int) {
			h.tracker.UpdateProgress(jobID, stage, done, total)
		})
		if err != nil {
			slog.Error("reindex job failed", "job_id", jobID, "error", err)
			h.tracker.Fail(jobID, err)
			return
		}
		h.tracker.Complete(jobID, report)
	}()

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"job_id": jobID})
}

// Retrain refits the cluster model on stored questions.
func (h *AdminHandler) Retrain(c fiber.Ctx) error {
	body := struct {
		MinQuestions int `json:"min_questions"`
		NClusters    int `json:"n_clusters"`
	}{MinQuestions: defaultMinQuestions}
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&body); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
		}
	}
	if body.MinQuestions < 1 {
		body.MinQuestions = 1
	}
	middleware.SetAuditAction(c, domain.AuditActionRetrain)

	report, err := h.clusters.Retrain(c.Context(), body.MinQuestions, body.NClusters)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(report)
}

// ClusterInfo returns cluster model diagnostics.
func (h *AdminHandler) ClusterInfo(c fiber.Ctx) error {
	return c.JSON(h.clusters.Info())
}

// SaveClusters persists the cluster model.
func (h *AdminHandler) SaveClusters(c fiber.Ctx) error {
	if err := h.clusters.Save(); err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(fiber.Map{"saved": true})
}
