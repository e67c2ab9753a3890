package handler

import (
	"context"

	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/go-helpdesk-rag/internal/cluster"
)

// Counter reports the number of indexed entries.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

// HealthHandler reports service liveness and component state.
type HealthHandler struct {
	appName string
	index   Counter
	status  func() cluster.Status
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(appName string, index Counter, status func() cluster.Status) *HealthHandler {
	return &HealthHandler{appName: appName, index: index, status: status}
}

// Register sets up the health route.
func (h *HealthHandler) Register(router fiber.Router) {
	router.Get("/health", h.Health)
}

// Health always answers 200; component problems are reported in the body.
func (h *HealthHandler) Health(c fiber.Ctx) error {
	resp := fiber.Map{
		"status": "healthy",
		"app":    h.appName,
	}
	if n, err := h.index.Count(c.Context()); err != nil {
		resp["status"] = "degraded"
		resp["index_error"] = err.Error()
	} else {
		resp["indexed_documents"] = n
	}
	if h.status != nil {
		resp["clusters"] = h.status()
	}
	return c.JSON(resp)
}
