package queue

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextBackoff(t *testing.T) {
	base := 30 * time.Second
	assert.Equal(t, 30*time.Second, NextBackoff(base, 1))
	assert.Equal(t, 60*time.Second, NextBackoff(base, 2))
	assert.Equal(t, 120*time.Second, NextBackoff(base, 3))
	assert.Equal(t, 30*time.Second, NextBackoff(base, 0))
}

func TestPermanentError(t *testing.T) {
	cause := errors.New("input file missing")
	wrapped := Permanent(cause)

	assert.True(t, IsPermanent(wrapped))
	assert.ErrorIs(t, wrapped, cause)
	assert.Equal(t, cause.Error(), wrapped.Error())

	assert.False(t, IsPermanent(cause))
	assert.Nil(t, Permanent(nil))

	// Wrapping survives another layer of context.
	outer := errors.Join(errors.New("stage source"), wrapped)
	assert.True(t, IsPermanent(outer))
}

func TestJobDecodePayload(t *testing.T) {
	type payload struct {
		ChapterID string `json:"chapter_id"`
		Bitrate   int    `json:"bitrate"`
	}

	raw, err := json.Marshal(payload{ChapterID: "ch42", Bitrate: 128})
	require.NoError(t, err)

	job := &Job{ID: "ch42-128k-1", Payload: raw}
	var got payload
	require.NoError(t, job.DecodePayload(&got))
	assert.Equal(t, "ch42", got.ChapterID)
	assert.Equal(t, 128, got.Bitrate)

	bad := &Job{ID: "x", Payload: []byte("{not json")}
	assert.Error(t, bad.DecodePayload(&got))
}

func TestQueueForBitrate(t *testing.T) {
	assert.Equal(t, "transcode:64k", QueueForBitrate(64))
	assert.Equal(t, "transcode:128k", QueueForBitrate(128))
	assert.Equal(t, "transcode:256k", QueueForBitrate(256))
	assert.Equal(t, "transcode:master", QueueMaster)
}

func TestWaitingScore_PriorityBeforeFIFO(t *testing.T) {
	now := time.Now()
	later := now.Add(time.Minute)

	// Higher priority sorts first even when enqueued later.
	assert.Less(t, waitingScore(10, later), waitingScore(5, now))
	// Same priority keeps FIFO order.
	assert.Less(t, waitingScore(5, now), waitingScore(5, later))
}
