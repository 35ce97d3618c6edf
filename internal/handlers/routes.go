package handlers

import "github.com/gofiber/fiber/v2"

func RegisterRoutes(
	api fiber.Router,
	entity *EntityHandler,
	upload *UploadHandler,
	jobs *JobHandler,
	internal *InternalHandler,
	assess *AssessHandler,
) {
	api.Post("/entities", entity.HandleCreateEntity)
	api.Get("/entities/:id", entity.HandleGetEntity)

	entities := api.Group("/entities/:id")
	entities.Post("/documents", upload.HandleUpload)
	entities.Post("/jobs", jobs.HandleCreateJob)
	entities.Get("/progress", jobs.HandleEntityProgress)
	entities.Post("/assess", assess.HandleAssess)

	api.Get("/jobs/:id", jobs.HandleGetJob)
	api.Post("/jobs/:id/resume", jobs.HandleResumeJob)

	api.Post("/internal/ocr/poll", internal.HandlePollOCR)
	api.Post("/internal/reconcile", internal.HandleReconcile)
}
