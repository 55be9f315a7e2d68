package server

import (
	"context"
	"net/http"
	"time"

	"abstream/broker"
	"abstream/storage"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// HealthHandler reports per-component health. Database and storage are
// required by the read path; cache and broker are advisory (reads fall
// through to storage, and the read path does not depend on the broker).
type HealthHandler struct {
	db     *gorm.DB
	redis  *redis.Client
	broker *broker.Client
	store  storage.Store
}

// NewHealthHandler wires the health checks.
func NewHealthHandler(db *gorm.DB, redisClient *redis.Client, brokerClient *broker.Client, store storage.Store) *HealthHandler {
	return &HealthHandler{db: db, redis: redisClient, broker: brokerClient, store: store}
}

type componentStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Handle answers GET /health.
func (h *HealthHandler) Handle(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	components := map[string]componentStatus{
		"database": h.checkDB(ctx),
		"cache":    h.checkRedis(ctx),
		"storage":  h.checkStorage(ctx),
		"broker":   h.checkBroker(ctx),
	}

	healthy := components["database"].Status == "up" && components["storage"].Status == "up"
	status := http.StatusOK
	overall := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "unhealthy"
	}

	writeJSON(w, status, map[string]interface{}{
		"status":     overall,
		"components": components,
		"timestamp":  time.Now().UTC(),
	})
}

func (h *HealthHandler) checkDB(ctx context.Context) componentStatus {
	if h.db == nil {
		return componentStatus{Status: "down", Error: "not configured"}
	}
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		return componentStatus{Status: "down", Error: err.Error()}
	}
	return componentStatus{Status: "up"}
}

func (h *HealthHandler) checkRedis(ctx context.Context) componentStatus {
	if h.redis == nil {
		return componentStatus{Status: "down", Error: "not configured"}
	}
	if err := h.redis.Ping(ctx).Err(); err != nil {
		return componentStatus{Status: "down", Error: err.Error()}
	}
	return componentStatus{Status: "up"}
}

func (h *HealthHandler) checkStorage(ctx context.Context) componentStatus {
	if h.store == nil {
		return componentStatus{Status: "down", Error: "not configured"}
	}
	if err := h.store.Test(ctx); err != nil {
		return componentStatus{Status: "down", Error: err.Error()}
	}
	return componentStatus{Status: "up"}
}

func (h *HealthHandler) checkBroker(ctx context.Context) componentStatus {
	if h.broker == nil {
		return componentStatus{Status: "down", Error: "not configured"}
	}
	if err := h.broker.Ping(ctx); err != nil {
		return componentStatus{Status: "down", Error: err.Error()}
	}
	return componentStatus{Status: "up"}
}
