package handler

import (
	"errors"

	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/go-helpdesk-rag/internal/port"
)

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, port.ErrInvalidInput), errors.Is(err, port.ErrNotEnoughSamples):
		return fiber.StatusBadRequest
	case errors.Is(err, port.ErrInvalidCredentials), errors.Is(err, port.ErrUnauthorized),
		errors.Is(err, port.ErrTokenExpired), errors.Is(err, port.ErrTokenInvalid):
		return fiber.StatusUnauthorized
	case errors.Is(err, port.ErrUserNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, port.ErrUserExists), errors.Is(err, port.ErrReindexInProgress):
		return fiber.StatusConflict
	case errors.Is(err, port.ErrProviderUnavailable):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, port.ErrClusteringUnfit), errors.Is(err, port.ErrNoDocuments):
		return fiber.StatusUnprocessableEntity
	default:
		return fiber.StatusInternalServerError
	}
}

func errorJSON(c fiber.Ctx, err error) error {
	return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error()})
}
