package repository

import (
	"context"
	"errors"
	"time"

	"abstream/model"

	"gorm.io/gorm"
)

// JobRepository persists transcoding job rows. The most recent row by
// created_at is authoritative for a chapter; updates are by primary key.
type JobRepository interface {
	Create(ctx context.Context, job *model.TranscodingJob) error
	UpdateProgress(ctx context.Context, id int64, progress int) error
	MarkCompleted(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, errorMessage string) error
	LatestByChapter(ctx context.Context, chapterID string) (*model.TranscodingJob, error)
}

type mysqlJobRepository struct {
	db *gorm.DB
}

// NewMySQLJobRepository creates a JobRepository backed by MySQL.
func NewMySQLJobRepository(db *gorm.DB) JobRepository {
	return &mysqlJobRepository{db: db}
}

func (r *mysqlJobRepository) Create(ctx context.Context, job *model.TranscodingJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *mysqlJobRepository) UpdateProgress(ctx context.Context, id int64, progress int) error {
	return r.db.WithContext(ctx).Model(&model.TranscodingJob{}).
		Where("id = ?", id).
		Update("progress", progress).Error
}

func (r *mysqlJobRepository) MarkCompleted(ctx context.Context, id int64) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.TranscodingJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       model.JobStatusCompleted,
			"progress":     100,
			"completed_at": &now,
		}).Error
}

func (r *mysqlJobRepository) MarkFailed(ctx context.Context, id int64, errorMessage string) error {
	now := time.Now()
	return r.db.WithContext(ctx).Model(&model.TranscodingJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        model.JobStatusFailed,
			"error_message": errorMessage,
			"completed_at":  &now,
		}).Error
}

func (r *mysqlJobRepository) LatestByChapter(ctx context.Context, chapterID string) (*model.TranscodingJob, error) {
	var job model.TranscodingJob
	err := r.db.WithContext(ctx).
		Where("chapter_id = ?", chapterID).
		Order("created_at DESC").
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}
