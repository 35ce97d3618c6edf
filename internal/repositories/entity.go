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

var ErrEntityNotFound = errors.New("entity not found")

type EntityRepository interface {
	Create(ctx context.Context, entity *models.Entity) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Entity, error)
	MarkReady(ctx context.Context, id uuid.UUID, indexName string) error
}

type entityRepository struct {
	db *gorm.DB
}

func NewEntityRepository(db *gorm.DB) EntityRepository {
	return &entityRepository{db: db}
}

func (r *entityRepository) Create(ctx context.Context, entity *models.Entity) error {
	if err := r.db.WithContext(ctx).Create(entity).Error; err != nil {
		return fmt.Errorf("failed to create entity: %w", err)
	}
	return nil
}

func (r *entityRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Entity, error) {
	var entity models.Entity
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&entity).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEntityNotFound
		}
		return nil, fmt.Errorf("failed to find entity: %w", err)
	}
	return &entity, nil
}

func (r *entityRepository) MarkReady(ctx context.Context, id uuid.UUID, indexName string) error {
	result := r.db.WithContext(ctx).Model(&models.Entity{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"ready":      true,
			"index_name": indexName,
			"updated_at": time.Now(),
		})

	if result.Error != nil {
		return fmt.Errorf("failed to mark entity ready: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return ErrEntityNotFound
	}

	return nil
}
