package repository

import (
	"context"
	"errors"

	"abstream/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RenditionRepository persists per-bitrate rendition rows. Writes are
// serialized by the unique (chapter_id, bitrate) constraint; the last
// writer wins for mutable fields.
type RenditionRepository interface {
	Upsert(ctx context.Context, r *model.Rendition) error
	Get(ctx context.Context, chapterID string, bitrate int) (*model.Rendition, error)
	ListByChapter(ctx context.Context, chapterID string) ([]model.Rendition, error)
	ListCompleted(ctx context.Context, chapterID string) ([]model.Rendition, error)
	CompletedBitrates(ctx context.Context, chapterID string) ([]int, error)
	DeleteByChapter(ctx context.Context, chapterID string) (int64, error)
}

type mysqlRenditionRepository struct {
	db *gorm.DB
}

// NewMySQLRenditionRepository creates a RenditionRepository backed by MySQL.
func NewMySQLRenditionRepository(db *gorm.DB) RenditionRepository {
	return &mysqlRenditionRepository{db: db}
}

func (r *mysqlRenditionRepository) Upsert(ctx context.Context, rendition *model.Rendition) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "chapter_id"}, {Name: "bitrate"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"playlist_url", "segments_path", "storage_provider", "status", "updated_at",
		}),
	}).Create(rendition).Error
}

func (r *mysqlRenditionRepository) Get(ctx context.Context, chapterID string, bitrate int) (*model.Rendition, error) {
	var rendition model.Rendition
	err := r.db.WithContext(ctx).
		Where("chapter_id = ? AND bitrate = ?", chapterID, bitrate).
		First(&rendition).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rendition, nil
}

func (r *mysqlRenditionRepository) ListByChapter(ctx context.Context, chapterID string) ([]model.Rendition, error) {
	var renditions []model.Rendition
	err := r.db.WithContext(ctx).
		Where("chapter_id = ?", chapterID).
		Order("bitrate ASC").
		Find(&renditions).Error
	return renditions, err
}

func (r *mysqlRenditionRepository) ListCompleted(ctx context.Context, chapterID string) ([]model.Rendition, error) {
	var renditions []model.Rendition
	err := r.db.WithContext(ctx).
		Where("chapter_id = ? AND status = ?", chapterID, model.RenditionStatusCompleted).
		Order("bitrate ASC").
		Find(&renditions).Error
	return renditions, err
}

func (r *mysqlRenditionRepository) CompletedBitrates(ctx context.Context, chapterID string) ([]int, error) {
	var bitrates []int
	err := r.db.WithContext(ctx).Model(&model.Rendition{}).
		Where("chapter_id = ? AND status = ?", chapterID, model.RenditionStatusCompleted).
		Order("bitrate ASC").
		Pluck("bitrate", &bitrates).Error
	return bitrates, err
}

func (r *mysqlRenditionRepository) DeleteByChapter(ctx context.Context, chapterID string) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("chapter_id = ?", chapterID).
		Delete(&model.Rendition{})
	return res.RowsAffected, res.Error
}
