package cmd

import (
	"abstream/broker"
	"abstream/cache"
	"abstream/config"
	"abstream/db"
	"abstream/logger"
	"abstream/repository"
	"abstream/storage"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// deps bundles the process-wide dependencies. They are built once at
// startup and injected into whatever the subcommand runs; shutdown happens
// in close(), in reverse order.
type deps struct {
	cfg        *config.Config
	gdb        *gorm.DB
	redis      *redis.Client
	store      storage.Store
	broker     *broker.Client
	jobs       repository.JobRepository
	renditions repository.RenditionRepository
	streams    *cache.StreamCache
}

func buildDeps() *deps {
	cfg := config.Load()

	logger.InitLogger(logger.Config{
		Level:      logger.LogLevel(getLogLevel(cfg)),
		OutputPath: "logs/abstream.log",
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     14,
		Compress:   true,
	})

	gdb, err := db.Connect(cfg)
	if err != nil {
		logger.Fatal("database connection failed", logger.ErrorField(err))
	}
	if err := db.AutoMigrate(gdb); err != nil {
		logger.Fatal("database migration failed", logger.ErrorField(err))
	}

	redisClient, err := cache.ConnectRedis(cfg)
	if err != nil {
		logger.Fatal("redis connection failed", logger.ErrorField(err))
	}

	store, err := storage.New(cfg)
	if err != nil {
		logger.Fatal("storage init failed", logger.ErrorField(err))
	}

	brokerClient := broker.NewClient(cfg)
	if err := brokerClient.EnsureTopology(); err != nil {
		// The read path works without the broker; workers will surface
		// errors on their own.
		logger.Warn("broker topology setup failed", logger.ErrorField(err))
	}

	return &deps{
		cfg:        cfg,
		gdb:        gdb,
		redis:      redisClient,
		store:      store,
		broker:     brokerClient,
		jobs:       repository.NewMySQLJobRepository(gdb),
		renditions: repository.NewMySQLRenditionRepository(gdb),
		streams:    cache.NewStreamCache(redisClient, cfg.StreamingCacheTTL),
	}
}

func (d *deps) close() {
	d.broker.Close()
	if err := d.redis.Close(); err != nil {
		logger.Warn("redis close failed", logger.ErrorField(err))
	}
	if err := db.Close(d.gdb); err != nil {
		logger.Warn("database close failed", logger.ErrorField(err))
	}
}

func getLogLevel(cfg *config.Config) string {
	if cfg.IsDevelopment() {
		return "debug"
	}
	return "info"
}
