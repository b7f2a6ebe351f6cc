// ABOUTME: Blob storage interface for avatar uploads and the object path scheme
// ABOUTME: Backed by a local directory or an S3-compatible bucket

package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"
	"time"
)

// AvatarBucket is the bucket profile pictures are uploaded to.
const AvatarBucket = "avatars"

// AvatarPrefix is the key prefix of every profile picture.
const AvatarPrefix = "profile_pictures"

// MaxObjectSize bounds a single upload.
const MaxObjectSize = 5 << 20

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = errors.New("object not found")

// ErrInvalidKey is returned for bucket names or keys that could escape the
// store's namespace.
var ErrInvalidKey = errors.New("invalid object key")

// ErrTooLarge is returned when an upload exceeds MaxObjectSize.
var ErrTooLarge = errors.New("object too large")

// Object is an object opened for reading.
type Object struct {
	Body        io.ReadCloser
	ContentType string
	Size        int64
}

// Store persists uploaded objects.
type Store interface {
	// Put writes data under bucket/key, replacing any existing object.
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) error

	// Get opens an object. Returns ErrNotFound if it does not exist.
	Get(ctx context.Context, bucket, key string) (*Object, error)
}

// AvatarKey returns the key a profile picture named filename is stored
// under: profile_pictures/<unix-millis>.<ext>.
func AvatarKey(filename string, now time.Time) string {
	name := strconv.FormatInt(now.UnixMilli(), 10)
	if i := strings.LastIndex(filename, "."); i >= 0 && i < len(filename)-1 {
		name += "." + strings.ToLower(filename[i+1:])
	}
	return AvatarPrefix + "/" + name
}

// PublicURL returns the address an object is served from by the gateway.
func PublicURL(baseURL, bucket, key string) string {
	return strings.TrimRight(baseURL, "/") + "/storage/v1/object/public/" + bucket + "/" + key
}

// ValidateKey rejects empty names and keys that are not clean relative paths.
func ValidateKey(bucket, key string) error {
	if bucket == "" || strings.ContainsAny(bucket, "/\\") || bucket == "." || bucket == ".." {
		return fmt.Errorf("%w: bucket %q", ErrInvalidKey, bucket)
	}
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") || path.Clean(key) != key {
		return fmt.Errorf("%w: key %q", ErrInvalidKey, key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." {
			return fmt.Errorf("%w: key %q", ErrInvalidKey, key)
		}
	}
	return nil
}
