package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"abstream/config"
)

// ErrNotFound is returned when an object does not exist in the store.
var ErrNotFound = errors.New("storage: object not found")

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ContentType  string
	ETag         string
}

// Store is the uniform object-store interface. Keys are slash-separated
// paths relative to the bucket (or local root). Concurrent readers are
// safe; writers must use disjoint key prefixes.
type Store interface {
	// Provider returns the provider name recorded on rendition rows.
	Provider() string

	Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	UploadFile(ctx context.Context, key, localPath, contentType string) error
	Download(ctx context.Context, key string) ([]byte, error)
	DownloadFile(ctx context.Context, key, localPath string) error
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every object under the prefix and returns the
	// number of objects deleted.
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	Exists(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	URL(key string) string
	Copy(ctx context.Context, srcKey, dstKey string) error
	Move(ctx context.Context, srcKey, dstKey string) error
	Metadata(ctx context.Context, key string) (*ObjectInfo, error)
	// Test verifies that the store is reachable and writable.
	Test(ctx context.Context) error
}

// New selects the concrete provider from configuration.
func New(cfg *config.Config) (Store, error) {
	switch cfg.StorageProvider {
	case "local":
		return NewLocalStore(cfg.LocalStorageDir)
	case "s3":
		return NewMinioStore(cfg)
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.StorageProvider)
	}
}
