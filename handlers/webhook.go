// handlers/webhook.go
package handlers

import (
	"encoding/json"
	"errors"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"salon-referral-system/models"
	"salon-referral-system/services"
	"salon-referral-system/utils"
)

// Provider event types accepted on the webhook endpoint.
const (
	EventCustomerCreated  = "customer.created"
	EventBookingCreated   = "booking.created"
	EventPaymentCompleted = "payment.completed"
)

type WebhookHandler struct {
	DB       *gorm.DB
	Engine   *services.RewardEngine
	Resolver *services.ReferralResolver
	Recorder *services.PipelineRecorder
}

func SetupWebhookRoutes(app *fiber.App, h *WebhookHandler) {
	app.Post("/webhooks/events", h.HandleProviderEvent)

	// Internal read API for operators.
	app.Get("/s/referrals/:code", h.ResolveReferralCode)
	app.Get("/s/customers/:id", h.GetCustomer)
	app.Get("/s/runs/:correlationId", h.GetPipelineRun)
}

// HandleProviderEvent is the single intake for provider webhooks. Input errors
// are logged and acknowledged with 200 so the provider does not redeliver
// garbage; pipeline errors return 500 so the provider redelivers the event.
func (h *WebhookHandler) HandleProviderEvent(c *fiber.Ctx) error {
	body := c.Body()

	var raw rawEvent
	if err := json.Unmarshal(body, &raw); err != nil {
		log.Printf("[WEBHOOK] dropping unparseable payload: %v", err)
		return c.JSON(fiber.Map{"status": "dropped"})
	}

	eventType := firstOf(raw.EventType, raw.Type)
	correlationID := firstOf(raw.EventID, raw.ID)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	h.archivePayload(c, correlationID, body)

	var err error
	switch eventType {
	case EventCustomerCreated:
		err = h.Engine.HandleCustomerCreated(c.Context(), adaptCustomerEvent(raw, correlationID))
	case EventBookingCreated:
		err = h.Engine.HandleBookingCreated(c.Context(), adaptBookingEvent(raw, correlationID))
	case EventPaymentCompleted:
		err = h.Engine.HandlePaymentCompleted(c.Context(), adaptPaymentEvent(raw, correlationID))
	default:
		log.Printf("[WEBHOOK] ignoring event type %q (correlation %s)", eventType, correlationID)
		return c.JSON(fiber.Map{"status": "ignored"})
	}

	if errors.Is(err, services.ErrInvalidEvent) {
		log.Printf("[WEBHOOK] dropping malformed %s event (correlation %s)", eventType, correlationID)
		return c.JSON(fiber.Map{"status": "dropped"})
	}
	if err != nil {
		log.Printf("[WEBHOOK] %s event failed (correlation %s): %v", eventType, correlationID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":          "event processing failed",
			"correlation_id": correlationID,
		})
	}

	return c.JSON(fiber.Map{"status": "ok", "correlation_id": correlationID})
}

// archivePayload stores the raw delivery for reconciliation. Best effort.
func (h *WebhookHandler) archivePayload(c *fiber.Ctx, correlationID string, body []byte) {
	if !utils.ArchiveEnabled() {
		return
	}
	url, err := utils.UploadSnapshot(c.Context(), correlationID, body)
	if err != nil {
		log.Printf("[WEBHOOK] payload archive failed for %s: %v", correlationID, err)
		return
	}
	h.Recorder.SetArchiveURL(correlationID, url)
}

func (h *WebhookHandler) ResolveReferralCode(c *fiber.Ctx) error {
	rec, err := h.Resolver.Resolve(c.Params("code"))
	if errors.Is(err, services.ErrReferrerNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "code not found"})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "lookup failed"})
	}
	return c.JSON(fiber.Map{
		"customer_id":     rec.ID,
		"name":            rec.Name,
		"total_referrals": rec.TotalReferrals,
	})
}

func (h *WebhookHandler) GetCustomer(c *fiber.Ctx) error {
	var rec models.CustomerReferral
	if err := h.DB.First(&rec, "id = ?", c.Params("id")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "customer not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}
	return c.JSON(rec)
}

func (h *WebhookHandler) GetPipelineRun(c *fiber.Ctx) error {
	var run models.PipelineRun
	if err := h.DB.First(&run, "correlation_id = ?", c.Params("correlationId")).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "run not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}
	return c.JSON(run)
}
