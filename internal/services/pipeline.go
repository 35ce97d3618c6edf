package services

import (
	"context"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"alfredoptarigan/entity-brain/internal/config"
	"alfredoptarigan/entity-brain/internal/repositories"
)

// Pipeline is the wired set of services shared by the API server and the sweep script.
type Pipeline struct {
	Documents  repositories.DocumentRepository
	Entities   repositories.EntityRepository
	Storage    StorageService
	Jobs       JobService
	Poller     OCRPollCoordinator
	Reconciler StaleJobReconciler
	Sweeper    Sweeper
	Brains     BrainBuilder
	Assessment AssessmentService
}

func NewPipeline(ctx context.Context, cfg *config.Config, db *gorm.DB) (*Pipeline, error) {
	jobRepo := repositories.NewJobRepository(db)
	docRepo := repositories.NewDocumentRepository(db)
	entityRepo := repositories.NewEntityRepository(db)
	log.Println("✅ Repositories initialized successfully")

	storageService, err := NewStorageService(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	if err := storageService.EnsureUploadDir(); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}

	awsCfg, err := LoadAWSConfig(ctx, cfg.OCR.Region)
	if err != nil {
		return nil, err
	}
	ocrGateway := NewTextractGateway(awsCfg)

	geminiService, err := NewGeminiService(cfg.Gemini)
	if err != nil {
		return nil, err
	}
	log.Println("✅ Gemini AI initialized successfully")

	qdrantService, err := NewQdrantService(cfg.Qdrant)
	if err != nil {
		return nil, err
	}
	log.Println("✅ Qdrant initialized successfully")

	analysis := NewAnalysisStage(
		jobRepo,
		docRepo,
		storageService,
		NewExtractorService(),
		ocrGateway,
		cfg.Worker.Concurrency,
		cfg.Pipeline.MaxSubmitAttempts,
	)
	indexing := NewIndexingStage(
		jobRepo,
		docRepo,
		entityRepo,
		geminiService,
		qdrantService,
		NewTextChunker(cfg.Pipeline.ChunkSize, cfg.Pipeline.ChunkOverlap),
		cfg.Worker.Concurrency,
		cfg.Worker.RetryMaxAttempts,
		cfg.Worker.RetryInitialDelay,
	)
	jobService := NewJobService(jobRepo, docRepo, entityRepo, analysis, indexing, qdrantService.IndexName)

	poller := NewOCRPollCoordinator(jobRepo, ocrGateway, jobService, cfg.OCR.PollTimeout, cfg.OCR.BatchSize, cfg.Worker.Concurrency)
	reconciler := NewStaleJobReconciler(jobRepo, jobService, cfg.Pipeline.ReconcileGrace, cfg.Pipeline.ProcessingGrace, cfg.Pipeline.ReconcileLimit)
	log.Println("✅ Pipeline services initialized")

	breaker := NewCircuitBreaker(newBreakerStore(cfg.Assessment), cfg.Assessment.FailureThreshold, cfg.Assessment.RecoveryTimeout)

	return &Pipeline{
		Documents:  docRepo,
		Entities:   entityRepo,
		Storage:    storageService,
		Jobs:       jobService,
		Poller:     poller,
		Reconciler: reconciler,
		Sweeper:    NewSweeper(poller, reconciler, cfg.Worker.SweepInterval),
		Brains:     NewBrainBuilder(entityRepo, geminiService, qdrantService, cfg.Brain.TemplateDir, cfg.Brain.RulesFile, cfg.Brain.Passages),
		Assessment: NewAssessmentService(geminiService, breaker, cfg.Assessment.AICallTimeout),
	}, nil
}

func newBreakerStore(cfg config.AssessmentConfig) BreakerStore {
	if cfg.BreakerStore != "redis" {
		return NewMemoryBreakerStore()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	log.Printf("✅ Breaker state shared through Redis at %s\n", cfg.RedisAddr)
	return NewRedisBreakerStore(client, cfg.InstanceName)
}
