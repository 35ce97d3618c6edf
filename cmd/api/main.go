package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"alfredoptarigan/entity-brain/internal/config"
	"alfredoptarigan/entity-brain/internal/handlers"
	"alfredoptarigan/entity-brain/internal/services"
)

func main() {
	// Load configuration
	cfg := config.Load()
	log.Println("✅ Config loaded successfully")

	// Initialize database
	db, err := config.InitDatabase(cfg)
	if err != nil {
		log.Fatalf("❌ Failed to initialize database: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pipeline, err := services.NewPipeline(ctx, cfg, db)
	if err != nil {
		log.Fatalf("❌ Failed to initialize pipeline: %v", err)
	}

	// Optional in-process sweeper for long-lived deployments
	pipeline.Sweeper.Start(ctx)

	// Initialize Handlers
	uploadHandler := handlers.NewUploadHandler(
		pipeline.Documents,
		pipeline.Entities,
		pipeline.Storage,
		pipeline.Jobs,
		cfg.Storage.MaxFileSize,
	)
	entityHandler := handlers.NewEntityHandler(pipeline.Entities)
	jobHandler := handlers.NewJobHandler(pipeline.Jobs)
	internalHandler := handlers.NewInternalHandler(pipeline.Poller, pipeline.Reconciler)
	assessHandler := handlers.NewAssessHandler(pipeline.Documents, pipeline.Brains, pipeline.Assessment)
	log.Println("✅ Handlers initialized")

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "Entity Brain API",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		BodyLimit:    int(cfg.Storage.MaxFileSize) * 10,
		ErrorHandler: handlers.ErrorHandler,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} - ${latency} ${method} ${path}\n",
		TimeFormat: "2006-01-02 15:04:05",
	}))

	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))

	app.Get("/metrics", adaptor.HTTPHandler(services.MetricsHandler()))

	// Routes
	api := app.Group("/api/v1")

	// Health check
	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now(),
		})
	})

	handlers.RegisterRoutes(api, entityHandler, uploadHandler, jobHandler, internalHandler, assessHandler)

	// Root route
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"message": "Entity Brain API",
			"version": "1.0.0",
			"endpoints": []string{
				"POST /api/v1/entities",
				"GET /api/v1/entities/:id",
				"POST /api/v1/entities/:id/documents",
				"POST /api/v1/entities/:id/jobs",
				"GET /api/v1/entities/:id/progress",
				"POST /api/v1/entities/:id/assess",
				"GET /api/v1/jobs/:id",
				"POST /api/v1/jobs/:id/resume",
				"POST /api/v1/internal/ocr/poll",
				"POST /api/v1/internal/reconcile",
			},
		})
	})

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("\n🛑 Shutting down server...")
		pipeline.Sweeper.Stop()
		cancel()
		if err := app.Shutdown(); err != nil {
			log.Printf("❌ Server forced to shutdown: %v", err)
		}
	}()

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Server.Port)
	log.Printf("🚀 Server starting on %s\n", addr)

	if err := app.Listen(addr); err != nil {
		log.Fatalf("❌ Failed to start server: %v", err)
	}
}
