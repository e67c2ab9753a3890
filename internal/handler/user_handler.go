package handler

import (
	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/go-helpdesk-rag/internal/domain"
	"github.com/arturoeanton/go-helpdesk-rag/internal/middleware"
	"github.com/arturoeanton/go-helpdesk-rag/internal/port"
)

// UserHandler lists registered users.
type UserHandler struct {
	users port.UserStore
}

// NewUserHandler creates a new user handler.
func NewUserHandler(users port.UserStore) *UserHandler {
	return &UserHandler{users: users}
}

// Register sets up user routes.
func (h *UserHandler) Register(router fiber.Router) {
	router.Get("/users", h.List)
	router.Get("/users/me", h.Me)
}

// List returns a page of users. Password hashes are never serialized.
func (h *UserHandler) List(c fiber.Ctx) error {
	limit, offset := pageParams(c)
	users, err := h.users.ListUsers(c.Context(), limit, offset)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	if users == nil {
		users = []domain.User{}
	}
	return c.JSON(fiber.Map{"users": users, "count": len(users)})
}

// Me returns the authenticated user.
func (h *UserHandler) Me(c fiber.Ctx) error {
	uc := middleware.GetUserContext(c)
	if uc == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}
	user, err := h.users.GetUserByID(c.Context(), uc.UserID)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(user)
}
