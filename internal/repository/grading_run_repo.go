package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/models"
)

const maxRecentRuns = 100

// GradingRunRepository persists grading run summaries.
type GradingRunRepository interface {
	Create(ctx context.Context, run *models.GradingRun) error
	GetByID(ctx context.Context, id string) (models.GradingRun, error)
	ListRecent(ctx context.Context, limit int) ([]models.GradingRun, error)
}

type gradingRunRepository struct {
	db *gorm.DB
}

// NewGradingRunRepository constructs a repository backed by GORM.
func NewGradingRunRepository(db *gorm.DB) GradingRunRepository {
	return &gradingRunRepository{db: db}
}

func (r *gradingRunRepository) Create(ctx context.Context, run *models.GradingRun) error {
	return r.db.WithContext(ctx).Create(run).Error
}

func (r *gradingRunRepository) GetByID(ctx context.Context, id string) (models.GradingRun, error) {
	var run models.GradingRun
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&run).Error
	return run, err
}

// ListRecent returns the newest runs first. limit is clamped to [1, 100].
func (r *gradingRunRepository) ListRecent(ctx context.Context, limit int) ([]models.GradingRun, error) {
	if limit <= 0 || limit > maxRecentRuns {
		limit = maxRecentRuns
	}
	var runs []models.GradingRun
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&runs).Error
	return runs, err
}
