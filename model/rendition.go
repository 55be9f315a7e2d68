package model

import "time"

// Rendition status values.
const (
	RenditionStatusProcessing = "processing"
	RenditionStatusCompleted  = "completed"
	RenditionStatusFailed     = "failed"
)

// Rendition is one completed bitrate version of a chapter: a variant
// playlist plus its MPEG-TS segments in object storage. At most one row
// exists per (chapter_id, bitrate).
type Rendition struct {
	ID              int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	ChapterID       string    `json:"chapterId" gorm:"size:64;not null;uniqueIndex:uq_chapter_bitrate,priority:1"`
	Bitrate         int       `json:"bitrate" gorm:"not null;uniqueIndex:uq_chapter_bitrate,priority:2"`
	PlaylistURL     string    `json:"playlistUrl" gorm:"size:767"`
	SegmentsPath    string    `json:"segmentsPath" gorm:"size:767"`
	StorageProvider string    `json:"storageProvider" gorm:"size:32"`
	Status          string    `json:"status" gorm:"size:16;not null"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// TableName keeps the legacy table name.
func (Rendition) TableName() string { return "transcoded_chapters" }
