package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Reg-Kris/pyairtable-automation-service/internal/middleware"
	"github.com/Reg-Kris/pyairtable-automation-service/internal/models"
)

// IngestEventRequest represents a domain event submitted over HTTP. Events
// with a trigger key the engine does not know are accepted and ignored; the
// shared event store carries more event types than automations react to.
type IngestEventRequest struct {
	EventType models.TriggerKey `json:"event_type" validate:"required,max=100"`
	EntityID  uint              `json:"entity_id,omitempty"`
	Payload   models.JSONMap    `json:"payload"`
	Source    string            `json:"source,omitempty" validate:"max=50"`
}

// IngestEvent handles POST /api/v1/events
func (h *Handlers) IngestEvent(c *fiber.Ctx) error {
	orgID, err := h.getOrgIDFromContext(c)
	if err != nil {
		return err
	}

	var req IngestEventRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := h.validate.Struct(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	payload := req.Payload
	if payload == nil {
		payload = models.JSONMap{}
	}

	source := req.Source
	if source == "" {
		source = "api"
	}

	event := &models.Event{
		OrgID:     orgID,
		EventType: req.EventType,
		EntityID:  req.EntityID,
		Payload:   payload,
		ActorID:   middleware.GetUserID(c),
		Source:    source,
	}

	if err := h.services.Engine.IngestEvent(c.Context(), event); err != nil {
		return h.respondServiceError(c, err, "Failed to ingest event")
	}

	h.logger.Debug("event ingested",
		zap.Uint("org_id", orgID),
		zap.Uint("event_id", event.ID),
		zap.String("event_type", string(event.EventType)))

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"event_id": event.ID,
	})
}
