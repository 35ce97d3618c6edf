package handlers

import (
	"fmt"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"alfredoptarigan/entity-brain/internal/models"
	"alfredoptarigan/entity-brain/internal/repositories"
	"alfredoptarigan/entity-brain/internal/services"
)

type UploadHandler struct {
	docRepo        repositories.DocumentRepository
	entityRepo     repositories.EntityRepository
	storageService services.StorageService
	jobService     services.JobService
	maxFileSize    int64
}

func NewUploadHandler(
	docRepo repositories.DocumentRepository,
	entityRepo repositories.EntityRepository,
	storageService services.StorageService,
	jobService services.JobService,
	maxFileSize int64,
) *UploadHandler {
	return &UploadHandler{
		docRepo:        docRepo,
		entityRepo:     entityRepo,
		storageService: storageService,
		jobService:     jobService,
		maxFileSize:    maxFileSize,
	}
}

// HandleUpload handles POST /entities/:id/documents. Files that fail to upload are
// reported and left out of the analysis job; the first analysis pass runs in the request.
func (h *UploadHandler) HandleUpload(c *fiber.Ctx) error {
	entityID, err := parseID(c, "id")
	if err != nil {
		return err
	}

	if _, err := h.entityRepo.FindByID(c.UserContext(), entityID); err != nil {
		return err
	}

	form, err := c.MultipartForm()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "failed to parse multipart form",
		})
	}

	files := form.File["files"]
	if len(files) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "No files uploaded. Please upload one or more documents as 'files'.",
		})
	}

	ctx := c.UserContext()
	var (
		uploaded []models.UploadResponse
		failures []models.UploadFailure
		docIDs   []uuid.UUID
	)

	for _, file := range files {
		if file.Size > h.maxFileSize {
			failures = append(failures, models.UploadFailure{
				OriginalName: file.Filename,
				Error:        fmt.Sprintf("file too large. Max size: %d bytes", h.maxFileSize),
			})
			continue
		}

		filename, key, err := h.storageService.SaveFile(ctx, file, entityID)
		if err != nil {
			failures = append(failures, models.UploadFailure{OriginalName: file.Filename, Error: err.Error()})
			continue
		}

		doc := models.Document{
			ID:               uuid.New(),
			EntityID:         entityID,
			Filename:         filename,
			OriginalFileName: file.Filename,
			ContentType:      file.Header.Get("Content-Type"),
			BlobKey:          key,
			AnalysisStatus:   models.AnalysisPending,
			CreatedAt:        time.Now(),
			UpdatedAt:        time.Now(),
		}

		if err := h.docRepo.Create(ctx, &doc); err != nil {
			// Cleanup uploaded file if database insert fails
			if delErr := h.storageService.DeleteFile(ctx, key); delErr != nil {
				log.Printf("⚠️  Failed to clean up %s: %v\n", key, delErr)
			}
			failures = append(failures, models.UploadFailure{OriginalName: file.Filename, Error: "failed to save document record"})
			continue
		}

		docIDs = append(docIDs, doc.ID)
		uploaded = append(uploaded, models.UploadResponse{
			ID:           doc.ID.String(),
			Filename:     doc.Filename,
			OriginalName: doc.OriginalFileName,
			ContentType:  doc.ContentType,
		})
	}

	if len(docIDs) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":    "No documents could be stored",
			"failures": failures,
		})
	}

	job, err := h.jobService.CreateJob(ctx, entityID, models.JobTypeDocumentAnalysis, docIDs)
	if err != nil {
		return err
	}

	// The reconciler picks the job up if this pass does not get through.
	if resumed, err := h.jobService.ResumeJob(ctx, job.ID, models.SourceUpload); err != nil {
		log.Printf("⚠️  First analysis pass for job %s did not finish: %v\n", job.ID, err)
	} else if resumed != nil {
		job = resumed
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"message":   "Files uploaded successfully",
		"documents": uploaded,
		"failures":  failures,
		"job":       models.NewJobStatusResponse(job),
	})
}
