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

var ErrDocumentNotFound = errors.New("document not found")

type DocumentRepository interface {
	Create(ctx context.Context, document *models.Document) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Document, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Document, error)
	SaveExtraction(ctx context.Context, id uuid.UUID, text string) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	MarkIndexed(ctx context.Context, ids []uuid.UUID, at time.Time) error
}

type documentRepository struct {
	db *gorm.DB
}

func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

// Create implements DocumentRepository.
func (d *documentRepository) Create(ctx context.Context, document *models.Document) error {
	if err := d.db.WithContext(ctx).Create(document).Error; err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}

	return nil
}

// FindByID implements DocumentRepository.
func (d *documentRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	var doc models.Document
	if err := d.db.WithContext(ctx).Where("id = ?", id).First(&doc).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDocumentNotFound
		}

		return nil, fmt.Errorf("failed to find document: %w", err)
	}

	return &doc, nil
}

// FindByIDs implements DocumentRepository.
func (d *documentRepository) FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Document, error) {
	var docs []models.Document
	if err := d.db.WithContext(ctx).Where("id IN ?", ids).Find(&docs).Error; err != nil {
		return nil, fmt.Errorf("failed to find documents: %w", err)
	}

	return docs, nil
}

func (d *documentRepository) SaveExtraction(ctx context.Context, id uuid.UUID, text string) error {
	result := d.db.WithContext(ctx).Model(&models.Document{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"extracted_text":  text,
			"analysis_status": models.AnalysisAnalyzed,
			"analysis_error":  nil,
			"updated_at":      time.Now(),
		})

	if result.Error != nil {
		return fmt.Errorf("failed to save extraction: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return ErrDocumentNotFound
	}

	return nil
}

// MarkFailed never downgrades a document that already has extracted text.
func (d *documentRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	result := d.db.WithContext(ctx).Model(&models.Document{}).
		Where("id = ? AND analysis_status <> ?", id, models.AnalysisAnalyzed).
		Updates(map[string]interface{}{
			"analysis_status": models.AnalysisFailed,
			"analysis_error":  reason,
			"updated_at":      time.Now(),
		})

	if result.Error != nil {
		return fmt.Errorf("failed to mark document failed: %w", result.Error)
	}

	return nil
}

func (d *documentRepository) MarkIndexed(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	result := d.db.WithContext(ctx).Model(&models.Document{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{
			"indexed_at": at,
			"updated_at": time.Now(),
		})

	if result.Error != nil {
		return fmt.Errorf("failed to mark documents indexed: %w", result.Error)
	}

	return nil
}
