package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"alfredoptarigan/entity-brain/internal/models"
	"alfredoptarigan/entity-brain/internal/services"
)

type JobHandler struct {
	jobService services.JobService
}

func NewJobHandler(jobService services.JobService) *JobHandler {
	return &JobHandler{jobService: jobService}
}

// HandleCreateJob handles POST /entities/:id/jobs
func (h *JobHandler) HandleCreateJob(c *fiber.Ctx) error {
	entityID, err := parseID(c, "id")
	if err != nil {
		return err
	}

	var req models.CreateJobRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request payload",
		})
	}

	jobType := models.JobType(req.Type)
	if jobType == "" {
		jobType = models.JobTypeDocumentAnalysis
	}

	docIDs := make([]uuid.UUID, 0, len(req.DocumentIDs))
	for _, raw := range req.DocumentIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid document ID format: " + raw,
			})
		}
		docIDs = append(docIDs, id)
	}

	job, err := h.jobService.CreateJob(c.UserContext(), entityID, jobType, docIDs)
	if err != nil {
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(models.NewJobStatusResponse(job))
}

// HandleGetJob handles GET /jobs/:id
func (h *JobHandler) HandleGetJob(c *fiber.Ctx) error {
	jobID, err := parseID(c, "id")
	if err != nil {
		return err
	}

	job, err := h.jobService.GetJobStatus(c.UserContext(), jobID)
	if err != nil {
		return err
	}

	return c.JSON(job)
}

// HandleResumeJob handles POST /jobs/:id/resume
func (h *JobHandler) HandleResumeJob(c *fiber.Ctx) error {
	jobID, err := parseID(c, "id")
	if err != nil {
		return err
	}

	source := models.SourceManual
	var req models.ResumeJobRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request payload",
			})
		}
		if req.Source != "" {
			source = models.ResumeSource(req.Source)
			if !source.IsValid() {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Unknown resume source",
				})
			}
		}
	}

	job, err := h.jobService.ResumeJob(c.UserContext(), jobID, source)
	if err != nil {
		return err
	}

	return c.JSON(models.NewJobStatusResponse(job))
}

// HandleEntityProgress handles GET /entities/:id/progress
func (h *JobHandler) HandleEntityProgress(c *fiber.Ctx) error {
	entityID, err := parseID(c, "id")
	if err != nil {
		return err
	}

	progress, err := h.jobService.GetEntityProgress(c.UserContext(), entityID)
	if err != nil {
		return err
	}

	return c.JSON(progress)
}
