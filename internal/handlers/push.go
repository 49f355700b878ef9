package handlers

import (
	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/gofiber/fiber/v2"

	"github.com/agentdeck/agentdeck/internal/services"
)

// PushHandler serves push-subscription registration
type PushHandler struct {
	push *services.PushService
}

// NewPushHandler creates the push API handler
func NewPushHandler(push *services.PushService) *PushHandler {
	return &PushHandler{push: push}
}

// GetVAPIDPublicKey returns the key browsers use to subscribe
func (h *PushHandler) GetVAPIDPublicKey(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"publicKey": h.push.VAPIDPublicKey()})
}

// Subscribe stores a browser push subscription
func (h *PushHandler) Subscribe(c *fiber.Ctx) error {
	var sub webpush.Subscription
	if err := c.BodyParser(&sub); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid subscription"})
	}
	if sub.Endpoint == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "endpoint is required"})
	}
	h.push.Subscribe(sub)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": "subscribed"})
}
