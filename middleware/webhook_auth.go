// middleware/webhook_auth.go
package middleware

import (
	"log"
	"os"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// WebhookAuthMiddleware validates the shared service token on every request.
// Signature verification of provider deliveries happens upstream; this only
// keeps strangers off the service.
func WebhookAuthMiddleware() fiber.Handler {
	expectedToken := os.Getenv("WEBHOOK_SERVICE_TOKEN")
	if expectedToken == "" {
		log.Fatal("❌ WEBHOOK_SERVICE_TOKEN is not set — service cannot authenticate deliveries")
	}

	return func(c *fiber.Ctx) error {
		token := c.Get("X-Service-Token")
		if token == "" {
			authHeader := c.Get("Authorization")
			token = strings.TrimPrefix(authHeader, "Bearer ")
		}

		if token != expectedToken {
			log.Printf("🚫 [WEBHOOK_AUTH] Invalid or missing token for %s", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid service token",
			})
		}

		return c.Next()
	}
}
