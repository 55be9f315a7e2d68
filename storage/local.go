package storage

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// LocalStore implements Store on the local filesystem. Writers to
// disjoint key prefixes are safe across processes; a rename into place
// keeps partially written objects invisible to readers.
type LocalStore struct {
	root string
}

// NewLocalStore creates a LocalStore rooted at dir.
func NewLocalStore(dir string) (*LocalStore, error) {
	if dir == "" {
		dir = "storage"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create storage root %s: %w", dir, err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	return &LocalStore{root: abs}, nil
}

func (s *LocalStore) Provider() string { return "local" }

// Root returns the absolute directory the store writes under.
func (s *LocalStore) Root() string { return s.root }

func (s *LocalStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(strings.TrimPrefix(key, "/")))
}

func (s *LocalStore) Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	dst := s.path(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("create dir for %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload_*")
	if err != nil {
		return fmt.Errorf("stage %s: %w", key, err)
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", key, err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("finalize %s: %w", key, err)
	}
	return nil
}

func (s *LocalStore) UploadFile(ctx context.Context, key, localPath, contentType string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer src.Close()
	return s.Upload(ctx, key, src, -1, contentType)
}

func (s *LocalStore) Download(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

func (s *LocalStore) DownloadFile(ctx context.Context, key, localPath string) error {
	// Destination may equal the stored path when local staging is skipped.
	if s.path(key) == localPath {
		if _, err := os.Stat(localPath); os.IsNotExist(err) {
			return ErrNotFound
		} else if err != nil {
			return err
		}
		return nil
	}

	data, err := s.Download(ctx, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return fmt.Errorf("create dir for %s: %w", localPath, err)
	}
	return os.WriteFile(localPath, data, 0644)
}

func (s *LocalStore) Delete(ctx context.Context, key string) error {
	err := os.Remove(s.path(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *LocalStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	objects, err := s.List(ctx, prefix)
	if err != nil {
		return 0, err
	}
	for _, obj := range objects {
		if err := s.Delete(ctx, obj.Key); err != nil {
			return 0, err
		}
	}
	// Drop directories left empty by the deletes.
	dir := s.path(prefix)
	if fi, err := os.Stat(dir); err == nil && fi.IsDir() {
		_ = os.RemoveAll(dir)
	}
	return len(objects), nil
}

func (s *LocalStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(s.path(key))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", key, err)
	}
	return true, nil
}

func (s *LocalStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	base := s.path(prefix)

	var objects []ObjectInfo
	err := filepath.Walk(base, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() || strings.HasPrefix(info.Name(), ".upload_") {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		objects = append(objects, ObjectInfo{
			Key:          filepath.ToSlash(rel),
			Size:         info.Size(),
			LastModified: info.ModTime(),
			ContentType:  mime.TypeByExtension(filepath.Ext(path)),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

func (s *LocalStore) URL(key string) string {
	return "/" + strings.TrimPrefix(key, "/")
}

func (s *LocalStore) Copy(ctx context.Context, srcKey, dstKey string) error {
	data, err := s.Download(ctx, srcKey)
	if err != nil {
		return err
	}
	return s.Upload(ctx, dstKey, strings.NewReader(string(data)), int64(len(data)), "")
}

func (s *LocalStore) Move(ctx context.Context, srcKey, dstKey string) error {
	dst := s.path(dstKey)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("create dir for %s: %w", dstKey, err)
	}
	if err := os.Rename(s.path(srcKey), dst); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("move %s to %s: %w", srcKey, dstKey, err)
	}
	return nil
}

func (s *LocalStore) Metadata(ctx context.Context, key string) (*ObjectInfo, error) {
	fi, err := os.Stat(s.path(key))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", key, err)
	}
	return &ObjectInfo{
		Key:          key,
		Size:         fi.Size(),
		LastModified: fi.ModTime(),
		ContentType:  mime.TypeByExtension(filepath.Ext(key)),
	}, nil
}

func (s *LocalStore) Test(ctx context.Context) error {
	key := "health/storage-check.txt"
	body := "storage check " + time.Now().Format(time.RFC3339)
	if err := s.Upload(ctx, key, strings.NewReader(body), int64(len(body)), "text/plain"); err != nil {
		return err
	}
	return s.Delete(ctx, key)
}
