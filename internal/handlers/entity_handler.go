package handlers

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"alfredoptarigan/entity-brain/internal/models"
	"alfredoptarigan/entity-brain/internal/repositories"
)

type EntityHandler struct {
	entityRepo repositories.EntityRepository
}

func NewEntityHandler(entityRepo repositories.EntityRepository) *EntityHandler {
	return &EntityHandler{entityRepo: entityRepo}
}

// HandleCreateEntity handles POST /entities
func (h *EntityHandler) HandleCreateEntity(c *fiber.Ctx) error {
	var req models.CreateEntityRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request payload",
		})
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "name is required",
		})
	}

	kind := models.EntityKind(req.Kind)
	switch kind {
	case models.EntityKindFund, models.EntityKindTender, models.EntityKindKnowledgeBase:
	case "":
		kind = models.EntityKindKnowledgeBase
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "kind must be one of fund, tender, knowledge_base",
		})
	}

	entity := models.Entity{
		ID:        uuid.New(),
		Name:      name,
		Kind:      kind,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := h.entityRepo.Create(c.UserContext(), &entity); err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(entity)
}

// HandleGetEntity handles GET /entities/:id
func (h *EntityHandler) HandleGetEntity(c *fiber.Ctx) error {
	entityID, err := parseID(c, "id")
	if err != nil {
		return err
	}

	entity, err := h.entityRepo.FindByID(c.UserContext(), entityID)
	if err != nil {
		return err
	}

	return c.JSON(entity)
}
