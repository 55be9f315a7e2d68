package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config stores the application configuration. Values come from the
// environment (optionally via a .env file) with sensible defaults for
// local development.
type Config struct {
	// AppEnv selects local vs remote input staging: "development" mirrors
	// source files from object storage onto local disk before encoding.
	AppEnv string

	// HTTP
	StreamingPort string
	ClientURL     string
	CORSOrigins   []string

	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Kafka broker for intake and deletion topics
	KafkaBrokers  []string
	KafkaClientID string

	// Work queue policy (per-bitrate queues and master queue)
	QueueJobTimeout   time.Duration
	QueueMaxAttempts  int
	QueueBackoffDelay time.Duration

	// Object storage
	StorageProvider string // "local" or "s3"
	LocalStorageDir string
	MinioEndpoint   string
	MinioAccessKey  string
	MinioSecretKey  string
	MinioBucket     string
	MinioRegion     string
	MinioUseSSL     bool

	// Encoder
	FFmpegPath  string
	FFprobePath string

	// HLS
	HLSSegmentDuration  int
	TranscodingBitrates []int

	// Streaming read path
	StreamingCacheTTL   time.Duration
	PreloadSegmentCount int
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

// getEnvBool gets an environment variable as bool or returns a default value.
func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return fallback
}

// getEnvList splits a comma separated environment variable.
func getEnvList(key, fallback string) []string {
	raw := getEnv(key, fallback)
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getEnvIntList splits a comma separated environment variable into ints,
// dropping entries that do not parse.
func getEnvIntList(key, fallback string) []int {
	var out []int
	for _, p := range getEnvList(key, fallback) {
		if v, err := strconv.Atoi(p); err == nil {
			out = append(out, v)
		}
	}
	return out
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override variables already set in the environment.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}

	ffmpegPath := getEnv("FFMPEG_PATH", "ffmpeg")
	ffprobePath := getEnv("FFPROBE_PATH", strings.Replace(ffmpegPath, "ffmpeg", "ffprobe", 1))

	return &Config{
		AppEnv: getEnv("APP_ENV", "development"),

		StreamingPort: getEnv("STREAMING_PORT", "8080"),
		ClientURL:     getEnv("CLIENT_URL", "http://localhost:3000"),
		CORSOrigins:   getEnvList("CORS_ORIGINS", "*"),

		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     getEnv("DB_NAME", "abstream"),

		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		KafkaBrokers:  getEnvList("KAFKA_BROKERS", "127.0.0.1:9092"),
		KafkaClientID: getEnv("KAFKA_CLIENT_ID", "abstream"),

		QueueJobTimeout:   time.Duration(getEnvInt("QUEUE_JOB_TIMEOUT", 3600)) * time.Second,
		QueueMaxAttempts:  getEnvInt("QUEUE_MAX_ATTEMPTS", 3),
		QueueBackoffDelay: time.Duration(getEnvInt("QUEUE_BACKOFF_DELAY", 30)) * time.Second,

		StorageProvider: getEnv("STORAGE_PROVIDER", "local"),
		LocalStorageDir: getEnv("LOCAL_STORAGE_DIR", "storage"),
		MinioEndpoint:   getEnv("MINIO_ENDPOINT", "127.0.0.1:9000"),
		MinioAccessKey:  getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey:  getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:     getEnv("MINIO_BUCKET", "abstream"),
		MinioRegion:     getEnv("MINIO_REGION", "us-east-1"),
		MinioUseSSL:     getEnvBool("MINIO_USE_SSL", false),

		FFmpegPath:  ffmpegPath,
		FFprobePath: ffprobePath,

		HLSSegmentDuration:  getEnvInt("HLS_SEGMENT_DURATION", 10),
		TranscodingBitrates: getEnvIntList("TRANSCODING_BITRATES", "64,128,256"),

		StreamingCacheTTL:   time.Duration(getEnvInt("STREAMING_CACHE_TTL", 3600)) * time.Second,
		PreloadSegmentCount: getEnvInt("PRELOAD_SEGMENT_COUNT", 5),
	}
}

// IsDevelopment reports whether the service runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}
