package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "development", cfg.AppEnv)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, "8080", cfg.StreamingPort)
	assert.Equal(t, []int{64, 128, 256}, cfg.TranscodingBitrates)
	assert.Equal(t, 10, cfg.HLSSegmentDuration)
	assert.Equal(t, time.Hour, cfg.QueueJobTimeout)
	assert.Equal(t, 3, cfg.QueueMaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.QueueBackoffDelay)
	assert.Equal(t, "local", cfg.StorageProvider)
	assert.Equal(t, time.Hour, cfg.StreamingCacheTTL)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("STREAMING_PORT", "9090")
	t.Setenv("TRANSCODING_BITRATES", "96, 192")
	t.Setenv("QUEUE_BACKOFF_DELAY", "5")
	t.Setenv("STORAGE_PROVIDER", "s3")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")

	cfg := Load()

	assert.False(t, cfg.IsDevelopment())
	assert.Equal(t, "9090", cfg.StreamingPort)
	assert.Equal(t, []int{96, 192}, cfg.TranscodingBitrates)
	assert.Equal(t, 5*time.Second, cfg.QueueBackoffDelay)
	assert.Equal(t, "s3", cfg.StorageProvider)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
}

func TestLoad_MalformedNumbersFallBack(t *testing.T) {
	t.Setenv("HLS_SEGMENT_DURATION", "ten")
	t.Setenv("TRANSCODING_BITRATES", "64,notanumber,256")

	cfg := Load()

	assert.Equal(t, 10, cfg.HLSSegmentDuration)
	assert.Equal(t, []int{64, 256}, cfg.TranscodingBitrates)
}

func TestFFprobePathDerivedFromFFmpeg(t *testing.T) {
	t.Setenv("FFMPEG_PATH", "/opt/media/ffmpeg")

	cfg := Load()

	assert.Equal(t, "/opt/media/ffmpeg", cfg.FFmpegPath)
	assert.Equal(t, "/opt/media/ffprobe", cfg.FFprobePath)
}
