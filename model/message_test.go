package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestQueuePriority(t *testing.T) {
	assert.Equal(t, 10, QueuePriority(PriorityHigh))
	assert.Equal(t, 5, QueuePriority(PriorityNormal))
	assert.Equal(t, 1, QueuePriority(PriorityLow))
	assert.Equal(t, 5, QueuePriority("unknown"))
}

func TestOutputPaths(t *testing.T) {
	assert.Equal(t, "bit_transcode/ch42", ChapterOutputDir("ch42"))
	assert.Equal(t, "bit_transcode/ch42/128k", BitrateOutputDir("ch42", 128))
}

func TestSegmentID(t *testing.T) {
	assert.Equal(t, "ch42_128_000", SegmentID("ch42", 128, 0))
	assert.Equal(t, "ch42_64_007", SegmentID("ch42", 64, 7))
	assert.Equal(t, "ch42_256_123", SegmentID("ch42", 256, 123))
}

func TestBitrateJobID(t *testing.T) {
	ts := time.UnixMilli(1700000000000)
	assert.Equal(t, "ch42-128k-1700000000000", BitrateJobID("ch42", 128, ts))
}

func TestMessageID(t *testing.T) {
	req := ChapterTranscodeRequest{
		Chapter:   Chapter{ID: "ch42"},
		Timestamp: time.UnixMilli(1700000000000),
	}
	assert.Equal(t, "ch42-1700000000000", req.MessageID())
}

func TestJobIsTerminal(t *testing.T) {
	assert.False(t, (&TranscodingJob{Status: JobStatusPending}).IsTerminal())
	assert.False(t, (&TranscodingJob{Status: JobStatusProcessing}).IsTerminal())
	assert.True(t, (&TranscodingJob{Status: JobStatusCompleted}).IsTerminal())
	assert.True(t, (&TranscodingJob{Status: JobStatusFailed}).IsTerminal())
}
