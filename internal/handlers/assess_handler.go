package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"alfredoptarigan/entity-brain/internal/models"
	"alfredoptarigan/entity-brain/internal/repositories"
	"alfredoptarigan/entity-brain/internal/services"
)

type AssessHandler struct {
	docRepo    repositories.DocumentRepository
	brains     services.BrainBuilder
	assessment services.AssessmentService
}

func NewAssessHandler(
	docRepo repositories.DocumentRepository,
	brains services.BrainBuilder,
	assessment services.AssessmentService,
) *AssessHandler {
	return &AssessHandler{
		docRepo:    docRepo,
		brains:     brains,
		assessment: assessment,
	}
}

// HandleAssess handles POST /entities/:id/assess
func (h *AssessHandler) HandleAssess(c *fiber.Ctx) error {
	entityID, err := parseID(c, "id")
	if err != nil {
		return err
	}

	var req models.AssessRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request payload",
		})
	}

	ctx := c.UserContext()
	content := strings.TrimSpace(req.Content)
	identifier := req.Identifier

	if content == "" {
		if req.DocumentID == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "content or document_id is required",
			})
		}

		docID, err := uuid.Parse(req.DocumentID)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid document ID format",
			})
		}

		doc, err := h.docRepo.FindByID(ctx, docID)
		if err != nil {
			return err
		}
		// Documents of other entities are reported as missing.
		if doc.EntityID != entityID {
			return repositories.ErrDocumentNotFound
		}
		if !doc.IsAnalyzed() {
			return fiber.NewError(fiber.StatusConflict, "document has not been analyzed yet")
		}
		content = doc.Text()
		if identifier == "" {
			identifier = doc.ID.String()
		}
	}

	if identifier == "" {
		identifier = "submission"
	}
	content = services.CleanText(content)

	brain, err := h.brains.Build(ctx, entityID, content)
	if err != nil {
		return err
	}

	return c.JSON(h.assessment.Assess(ctx, content, brain, identifier))
}
