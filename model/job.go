package model

import "time"

// Job status values. A job row tracks one pass of a chapter through the
// transcoding pipeline; the most recent row by CreatedAt is authoritative
// for a chapter.
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// TranscodingJob is the bookkeeping row for one transcode pass of a chapter.
type TranscodingJob struct {
	ID           int64      `json:"id" gorm:"primaryKey;autoIncrement"`
	ChapterID    string     `json:"chapterId" gorm:"size:64;index;not null"`
	Status       string     `json:"status" gorm:"size:16;not null;default:pending"`
	Progress     int        `json:"progress" gorm:"not null;default:0"`
	StartedAt    *time.Time `json:"startedAt"`
	CompletedAt  *time.Time `json:"completedAt"`
	ErrorMessage string     `json:"errorMessage,omitempty" gorm:"type:text"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// TableName keeps the legacy table name.
func (TranscodingJob) TableName() string { return "transcoding_jobs" }

// IsTerminal reports whether the job reached a final state.
func (j *TranscodingJob) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}
