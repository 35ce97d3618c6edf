package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"alfredoptarigan/entity-brain/internal/services"
)

// InternalHandler exposes the out-of-band triggers for schedulers and cron.
type InternalHandler struct {
	poller     services.OCRPollCoordinator
	reconciler services.StaleJobReconciler
}

func NewInternalHandler(poller services.OCRPollCoordinator, reconciler services.StaleJobReconciler) *InternalHandler {
	return &InternalHandler{poller: poller, reconciler: reconciler}
}

// HandlePollOCR handles POST /internal/ocr/poll
func (h *InternalHandler) HandlePollOCR(c *fiber.Ctx) error {
	summary, err := h.poller.PollOutstandingOCR(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(summary)
}

// HandleReconcile handles POST /internal/reconcile[?entity_id=]
func (h *InternalHandler) HandleReconcile(c *fiber.Ctx) error {
	var entityID *uuid.UUID
	if raw := c.Query("entity_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid entity_id format")
		}
		entityID = &id
	}

	outcomes, err := h.reconciler.ReconcileStaleJobs(c.UserContext(), entityID)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"count":    len(outcomes),
		"outcomes": outcomes,
	})
}
