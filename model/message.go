package model

import (
	"fmt"
	"time"
)

// Priority levels for intake messages, mapped to numeric queue priority.
const (
	PriorityHigh   = "high"
	PriorityNormal = "normal"
	PriorityLow    = "low"
)

// QueuePriority maps an intake priority to the numeric priority used by
// the work queues. Unknown values fall back to normal.
func QueuePriority(priority string) int {
	switch priority {
	case PriorityHigh:
		return 10
	case PriorityLow:
		return 1
	default:
		return 5
	}
}

// Chapter is the external chapter payload carried inside intake messages.
// The chapter itself is owned by the upstream service; this system only
// references it by ID and source file path.
type Chapter struct {
	ID            string    `json:"id"`
	AudiobookID   string    `json:"audiobook_id"`
	Title         string    `json:"title"`
	Description   string    `json:"description,omitempty"`
	ChapterNumber int       `json:"chapter_number"`
	Duration      float64   `json:"duration"`
	FilePath      string    `json:"file_path"`
	FileSize      int64     `json:"file_size"`
	StartPosition float64   `json:"start_position"`
	EndPosition   float64   `json:"end_position"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ChapterTranscodeRequest is the intake message consumed from the
// priority-routed transcode topics.
type ChapterTranscodeRequest struct {
	Chapter    Chapter   `json:"chapter"`
	Bitrates   []int     `json:"bitrates"`
	Priority   string    `json:"priority"`
	UserID     string    `json:"user_id,omitempty"`
	RetryCount int       `json:"retry_count,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// MessageID builds the dedup message id for an intake request.
func (r *ChapterTranscodeRequest) MessageID() string {
	return fmt.Sprintf("%s-%d", r.Chapter.ID, r.Timestamp.UnixMilli())
}

// BitrateJob is the unit of work for one bitrate pipeline.
type BitrateJob struct {
	ChapterID       string `json:"chapter_id"`
	InputPath       string `json:"input_path"`
	OutputDir       string `json:"output_dir"`
	Bitrate         int    `json:"bitrate"`
	SegmentDuration int    `json:"segment_duration"`
	UserID          string `json:"user_id,omitempty"`
}

// MasterJob is the fan-in step that assembles the master playlist once
// variant renditions start completing.
type MasterJob struct {
	ChapterID       string `json:"chapter_id"`
	OutputDir       string `json:"output_dir"`
	VariantBitrates []int  `json:"variant_bitrates"`
}

// ChapterDeletion is consumed from the deletion topic when a chapter is
// removed upstream.
type ChapterDeletion struct {
	ChapterID string    `json:"chapter_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ChapterOutputDir is the object-store prefix holding all artifacts of a
// chapter.
func ChapterOutputDir(chapterID string) string {
	return fmt.Sprintf("bit_transcode/%s", chapterID)
}

// BitrateOutputDir is the object-store prefix for one bitrate rendition.
func BitrateOutputDir(chapterID string, bitrate int) string {
	return fmt.Sprintf("bit_transcode/%s/%dk", chapterID, bitrate)
}

// BitrateJobID builds the deduplicating job id for a bitrate job.
func BitrateJobID(chapterID string, bitrate int, ts time.Time) string {
	return fmt.Sprintf("%s-%dk-%d", chapterID, bitrate, ts.UnixMilli())
}

// SegmentID builds the cache-facing segment identifier, e.g.
// "chapter42_128_003".
func SegmentID(chapterID string, bitrate, index int) string {
	return fmt.Sprintf("%s_%d_%03d", chapterID, bitrate, index)
}
