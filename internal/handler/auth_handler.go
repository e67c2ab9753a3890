package handler

import (
	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/go-helpdesk-rag/internal/domain"
	"github.com/arturoeanton/go-helpdesk-rag/internal/middleware"
	"github.com/arturoeanton/go-helpdesk-rag/internal/service"
)

// AuthHandler handles authentication endpoints.
type AuthHandler struct {
	authService *service.AuthService
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(authService *service.AuthService) *AuthHandler {
	return &AuthHandler{authService: authService}
}

// Register sets up auth routes.
func (h *AuthHandler) Register(router fiber.Router) {
	auth := router.Group("/auth")
	auth.Post("/register", h.SignUp)
	auth.Post("/login", h.Login)
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// SignUp creates a new user account.
func (h *AuthHandler) SignUp(c fiber.Ctx) error {
	var body credentials
	if err := c.Bind().JSON(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	middleware.SetAuditAction(c, domain.AuditActionRegister)

	user, err := h.authService.Register(c.Context(), body.Email, body.Password, body.Name)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(user)
}

// Login exchanges email and password for a bearer token.
func (h *AuthHandler) Login(c fiber.Ctx) error {
	var body credentials
	if err := c.Bind().JSON(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	middleware.SetAuditAction(c, domain.AuditActionLogin)

	token, user, err := h.authService.Login(c.Context(), body.Email, body.Password)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(fiber.Map{
		"access_token": token,
		"token_type":   "bearer",
		"user":         user,
	})
}
