package middleware

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v3"
)

// AuditWriter defines how audit records are persisted.
type AuditWriter interface {
	WriteAudit(userID, action, resource, resourceID, details, ip, userAgent string) error
}

// Audit action recorded for requests that do not set their own.
const actionHTTPRequest = "http_request"

const auditActionKey = "audit_action"

// SetAuditAction overrides the action recorded for the current request.
func SetAuditAction(c fiber.Ctx, action string) {
	c.Locals(auditActionKey, action)
}

// AuditMiddleware writes one audit record per request.
func AuditMiddleware(writer AuditWriter) fiber.Handler {
	return func(c fiber.Ctx) error {
		start := time.Now()

		// Fiber reuses the context after the handler returns
		method := c.Method()
		path := c.Path()
		ip := c.IP()
		userAgent := c.Get("User-Agent")

		err := c.Next()

		userID := "anonymous"
		if uc := GetUserContext(c); uc != nil {
			userID = uc.UserID
		}
		action := actionHTTPRequest
		if a, ok := c.Locals(auditActionKey).(string); ok && a != "" {
			action = a
		}

		detailsJSON, _ := json.Marshal(map[string]any{
			"method":      method,
			"path":        path,
			"status":      c.Response().StatusCode(),
			"duration_ms": time.Since(start).Milliseconds(),
		})

		go func() {
			if writeErr := writer.WriteAudit(
				userID,
				action,
				"api",
				path,
				string(detailsJSON),
				ip,
				userAgent,
			); writeErr != nil {
				slog.Error("failed to write audit log", "error", writeErr)
			}
		}()

		return err
	}
}
