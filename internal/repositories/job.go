package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"alfredoptarigan/entity-brain/internal/models"
)

var (
	ErrJobNotFound  = errors.New("job not found")
	ErrStaleJob     = errors.New("job was modified concurrently")
	ErrDuplicateJob = errors.New("job already exists")
)

type JobRepository interface {
	Create(ctx context.Context, job *models.Job) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
	FindByParent(ctx context.Context, parentID uuid.UUID) (*models.Job, error)
	FindLatestByEntity(ctx context.Context, entityID uuid.UUID, jobType models.JobType) (*models.Job, error)
	Save(ctx context.Context, job *models.Job) error
	FindWithOutstandingOCR(ctx context.Context, limit int) ([]models.Job, error)
	FindStalePending(ctx context.Context, createdBefore time.Time, entityID *uuid.UUID, limit int) ([]models.Job, error)
	FindStaleProcessing(ctx context.Context, updatedBefore time.Time, entityID *uuid.UUID, limit int) ([]models.Job, error)
	FindUnchainedAnalyses(ctx context.Context, completedBefore time.Time, entityID *uuid.UUID, limit int) ([]models.Job, error)
}

type jobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) JobRepository {
	return &jobRepository{db: db}
}

func (r *jobRepository) Create(ctx context.Context, job *models.Job) error {
	if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateJob
		}
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (r *jobRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	var job models.Job
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to find job: %w", err)
	}
	return &job, nil
}

func (r *jobRepository) FindByParent(ctx context.Context, parentID uuid.UUID) (*models.Job, error) {
	var job models.Job
	if err := r.db.WithContext(ctx).Where("parent_job_id = ?", parentID).First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to find child job: %w", err)
	}
	return &job, nil
}

func (r *jobRepository) FindLatestByEntity(ctx context.Context, entityID uuid.UUID, jobType models.JobType) (*models.Job, error) {
	var job models.Job
	err := r.db.WithContext(ctx).
		Where("entity_id = ? AND type = ?", entityID, jobType).
		Order("created_at DESC").
		First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to find job for entity: %w", err)
	}
	return &job, nil
}

// Save writes the job if nobody else has written it since it was loaded.
// Progress is merged with GREATEST so a stale writer can never lower it.
func (r *jobRepository) Save(ctx context.Context, job *models.Job) error {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND version = ?", job.ID, job.Version).
		Updates(map[string]interface{}{
			"status":          job.Status,
			"progress":        gorm.Expr("GREATEST(progress, ?)", job.Progress),
			"total_units":     job.TotalUnits,
			"processed_units": gorm.Expr("GREATEST(processed_units, ?)", job.ProcessedUnits),
			"outstanding_ocr": job.OutstandingOCR,
			"metadata":        job.Metadata,
			"error_message":   job.ErrorMessage,
			"started_at":      job.StartedAt,
			"completed_at":    job.CompletedAt,
			"version":         gorm.Expr("version + 1"),
			"updated_at":      now,
		})

	if result.Error != nil {
		return fmt.Errorf("failed to save job: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return ErrStaleJob
	}

	job.Version++
	job.UpdatedAt = now
	return nil
}

func (r *jobRepository) FindWithOutstandingOCR(ctx context.Context, limit int) ([]models.Job, error) {
	var jobs []models.Job
	err := r.db.WithContext(ctx).
		Where("status IN ? AND outstanding_ocr > 0", []models.JobStatus{models.JobStatusPending, models.JobStatusProcessing}).
		Order("updated_at ASC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find jobs with outstanding ocr: %w", err)
	}
	return jobs, nil
}

func (r *jobRepository) FindStalePending(ctx context.Context, createdBefore time.Time, entityID *uuid.UUID, limit int) ([]models.Job, error) {
	query := r.db.WithContext(ctx).
		Where("status = ? AND outstanding_ocr = 0 AND created_at < ?", models.JobStatusPending, createdBefore)
	if entityID != nil {
		query = query.Where("entity_id = ?", *entityID)
	}

	var jobs []models.Job
	if err := query.Order("created_at ASC").Limit(limit).Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to find stale jobs: %w", err)
	}
	return jobs, nil
}

// FindStaleProcessing returns PROCESSING jobs with nothing left to poll that
// have not been written since updatedBefore.
func (r *jobRepository) FindStaleProcessing(ctx context.Context, updatedBefore time.Time, entityID *uuid.UUID, limit int) ([]models.Job, error) {
	query := r.db.WithContext(ctx).
		Where("status = ? AND outstanding_ocr = 0 AND updated_at < ?", models.JobStatusProcessing, updatedBefore)
	if entityID != nil {
		query = query.Where("entity_id = ?", *entityID)
	}

	var jobs []models.Job
	if err := query.Order("updated_at ASC").Limit(limit).Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to find stalled processing jobs: %w", err)
	}
	return jobs, nil
}

// FindUnchainedAnalyses returns completed analysis jobs that never got an indexing child.
func (r *jobRepository) FindUnchainedAnalyses(ctx context.Context, completedBefore time.Time, entityID *uuid.UUID, limit int) ([]models.Job, error) {
	query := r.db.WithContext(ctx).
		Where("type = ? AND status = ? AND completed_at < ?", models.JobTypeDocumentAnalysis, models.JobStatusCompleted, completedBefore).
		Where("NOT EXISTS (SELECT 1 FROM jobs AS child WHERE child.parent_job_id = jobs.id)")
	if entityID != nil {
		query = query.Where("entity_id = ?", *entityID)
	}

	var jobs []models.Job
	if err := query.Order("completed_at ASC").Limit(limit).Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("failed to find unchained analysis jobs: %w", err)
	}
	return jobs, nil
}
