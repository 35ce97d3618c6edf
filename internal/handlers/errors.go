package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"alfredoptarigan/entity-brain/internal/models"
	"alfredoptarigan/entity-brain/internal/repositories"
	"alfredoptarigan/entity-brain/internal/services"
)

// ErrorHandler renders errors returned by handlers, mapping pipeline sentinels to
// status codes.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := StatusFor(err)

	return c.Status(code).JSON(fiber.Map{
		"error": err.Error(),
		"code":  code,
	})
}

func StatusFor(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, repositories.ErrJobNotFound),
		errors.Is(err, repositories.ErrEntityNotFound),
		errors.Is(err, repositories.ErrDocumentNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, repositories.ErrStaleJob),
		errors.Is(err, services.ErrEntityNotReady):
		return fiber.StatusConflict
	case errors.Is(err, services.ErrNoDocuments),
		errors.Is(err, services.ErrUnsupportedJobType):
		return fiber.StatusUnprocessableEntity
	default:
		return fiber.StatusInternalServerError
	}
}

func parseID(c *fiber.Ctx, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params(name))
	if err != nil {
		return uuid.Nil, fiber.NewError(fiber.StatusBadRequest, "invalid "+name+" format")
	}
	return id, nil
}
