// ABOUTME: Filesystem-backed blob store
// ABOUTME: Objects live at <root>/<bucket>/<key> with the content type kept in a sidecar file

package blob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

const contentTypeSuffix = ".content-type"

// DiskStore stores objects in a local directory.
type DiskStore struct {
	root   string
	logger *slog.Logger
}

// NewDiskStore creates the root directory if needed.
func NewDiskStore(root string, logger *slog.Logger) (*DiskStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("creating blob directory: %w", err)
	}
	return &DiskStore{
		root:   root,
		logger: logger.With("component", "blob", "backend", "disk"),
	}, nil
}

func (d *DiskStore) objectPath(bucket, key string) string {
	return filepath.Join(d.root, bucket, filepath.FromSlash(key))
}

// Put writes the object atomically via a temp file and rename.
func (d *DiskStore) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	if err := ValidateKey(bucket, key); err != nil {
		return err
	}
	if len(data) > MaxObjectSize {
		return ErrTooLarge
	}

	p := d.objectPath(bucket, key)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return fmt.Errorf("creating object directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".upload-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing object: %w", err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("moving object into place: %w", err)
	}

	if contentType != "" {
		if err := os.WriteFile(p+contentTypeSuffix, []byte(contentType), 0644); err != nil {
			return fmt.Errorf("writing content type: %w", err)
		}
	}

	d.logger.Debug("stored object", "bucket", bucket, "key", key, "size", len(data))
	return nil
}

// Get opens an object for reading.
func (d *DiskStore) Get(ctx context.Context, bucket, key string) (*Object, error) {
	if err := ValidateKey(bucket, key); err != nil {
		return nil, err
	}

	p := d.objectPath(bucket, key)
	f, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("opening object: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat object: %w", err)
	}
	if info.IsDir() {
		f.Close()
		return nil, ErrNotFound
	}

	contentType := "application/octet-stream"
	if ct, err := os.ReadFile(p + contentTypeSuffix); err == nil && len(ct) > 0 {
		contentType = string(ct)
	}

	return &Object{Body: f, ContentType: contentType, Size: info.Size()}, nil
}

// compile-time check
var _ Store = (*DiskStore)(nil)
