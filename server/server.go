package server

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"abstream/broker"
	"abstream/cache"
	"abstream/config"
	"abstream/logger"
	"abstream/repository"
	"abstream/storage"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Server hosts the streaming read path.
type Server struct {
	cfg     *config.Config
	streams *StreamHandler
	health  *HealthHandler
}

// Deps carries the shared process dependencies into NewServer.
type Deps struct {
	Config     *config.Config
	DB         *gorm.DB
	Redis      *redis.Client
	Broker     *broker.Client
	Store      storage.Store
	Jobs       repository.JobRepository
	Renditions repository.RenditionRepository
	Streams    *cache.StreamCache
}

// NewServer wires the handlers.
func NewServer(d Deps) *Server {
	return &Server{
		cfg:     d.Config,
		streams: NewStreamHandler(d.Config, d.Jobs, d.Renditions, d.Store, d.Streams),
		health:  NewHealthHandler(d.DB, d.Redis, d.Broker, d.Store),
	}
}

// Router builds the HTTP routing table.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(corsMiddleware)

	// Health stays outside the auth requirement.
	router.HandleFunc("/health", s.health.Handle).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/stream/health", s.health.Handle).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1/stream").Subrouter()
	api.Use(authMiddleware)
	api.HandleFunc("/chapters/{chapter_id}/master.m3u8", s.streams.GetMasterPlaylist).Methods(http.MethodGet)
	api.HandleFunc("/chapters/{chapter_id}/{bitrate}/playlist.m3u8", s.streams.GetVariantPlaylist).Methods(http.MethodGet)
	api.HandleFunc("/chapters/{chapter_id}/{bitrate}/segments/{segment_id}", s.streams.GetSegment).Methods(http.MethodGet)
	api.HandleFunc("/chapters/{chapter_id}/status", s.streams.GetStreamingStatus).Methods(http.MethodGet)
	api.HandleFunc("/chapters/{chapter_id}/preload", s.streams.PreloadChapter).Methods(http.MethodPost)
	api.HandleFunc("/analytics", s.streams.GetAnalytics).Methods(http.MethodGet)

	return router
}

// Start runs the HTTP server until SIGTERM/SIGINT, then shuts down
// gracefully.
func (s *Server) Start() error {
	httpServer := &http.Server{
		Addr:         ":" + s.cfg.StreamingPort,
		Handler:      s.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("streaming server listening", logger.String("port", s.cfg.StreamingPort))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-stop:
	}

	logger.Info("shutting down streaming server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(ctx)
}

// corsMiddleware applies the permissive CORS policy every response needs;
// players fetch playlists and segments cross-origin with range requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS, HEAD")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Range, user_id")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Range")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// authMiddleware requires the user_id header set by the trusted upstream.
func authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get("user_id"))
		if userID == "" {
			writeJSONError(w, http.StatusUnauthorized, "user_id header required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("write response failed", logger.ErrorField(err))
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
