// ABOUTME: Tests for blob key rules and the disk and S3 stores
// ABOUTME: The S3 store runs against an in-memory fake of the object API

package blob

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAvatarKey(t *testing.T) {
	now := time.UnixMilli(1700000000123)

	assert.Equal(t, "profile_pictures/1700000000123.png", AvatarKey("me.PNG", now))
	assert.Equal(t, "profile_pictures/1700000000123.jpg", AvatarKey("holiday.photo.jpg", now))
	assert.Equal(t, "profile_pictures/1700000000123", AvatarKey("noext", now))
	assert.Equal(t, "profile_pictures/1700000000123", AvatarKey("trailing.", now))
}

func TestPublicURL(t *testing.T) {
	assert.Equal(t,
		"http://localhost:8080/storage/v1/object/public/avatars/profile_pictures/1.png",
		PublicURL("http://localhost:8080/", "avatars", "profile_pictures/1.png"))
}

func TestValidateKey(t *testing.T) {
	assert.NoError(t, ValidateKey("avatars", "profile_pictures/1.png"))

	bad := []struct{ bucket, key string }{
		{"", "a.png"},
		{"..", "a.png"},
		{"a/b", "a.png"},
		{"avatars", ""},
		{"avatars", "/etc/passwd"},
		{"avatars", "../secret"},
		{"avatars", "a/../../b"},
		{"avatars", "a//b"},
	}
	for _, tc := range bad {
		assert.ErrorIs(t, ValidateKey(tc.bucket, tc.key), ErrInvalidKey, "%s/%s", tc.bucket, tc.key)
	}
}

func TestDiskStore_PutGet(t *testing.T) {
	store, err := NewDiskStore(t.TempDir(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "avatars", "profile_pictures/1.png", []byte("png-bytes"), "image/png"))

	obj, err := store.Get(ctx, "avatars", "profile_pictures/1.png")
	require.NoError(t, err)
	defer obj.Body.Close()

	data, err := io.ReadAll(obj.Body)
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))
	assert.Equal(t, "image/png", obj.ContentType)
	assert.Equal(t, int64(9), obj.Size)
}

func TestDiskStore_GetMissing(t *testing.T) {
	store, err := NewDiskStore(t.TempDir(), nil)
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "avatars", "nope.png")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.Get(context.Background(), "avatars", "profile_pictures")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDiskStore_RejectsLargeAndInvalid(t *testing.T) {
	store, err := NewDiskStore(t.TempDir(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	assert.ErrorIs(t, store.Put(ctx, "avatars", "big.bin", make([]byte, MaxObjectSize+1), ""), ErrTooLarge)
	assert.ErrorIs(t, store.Put(ctx, "avatars", "../escape", []byte("x"), ""), ErrInvalidKey)
}

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	k := aws.ToString(in.Bucket) + ":" + aws.ToString(in.Key)
	f.objects[k] = data
	f.types[k] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := aws.ToString(in.Bucket) + ":" + aws.ToString(in.Key)
	data, ok := f.objects[k]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{
		Body:        io.NopCloser(bytes.NewReader(data)),
		ContentType: aws.String(f.types[k]),
	}, nil
}

func TestS3Store_PutGet(t *testing.T) {
	fake := newFakeS3()
	store := newS3Store(fake, "chatroom", slog.New(slog.DiscardHandler))
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "avatars", "profile_pictures/2.jpg", []byte("jpeg"), "image/jpeg"))
	assert.Contains(t, fake.objects, "chatroom:avatars/profile_pictures/2.jpg")

	obj, err := store.Get(ctx, "avatars", "profile_pictures/2.jpg")
	require.NoError(t, err)
	defer obj.Body.Close()
	data, _ := io.ReadAll(obj.Body)
	assert.Equal(t, "jpeg", string(data))
	assert.Equal(t, "image/jpeg", obj.ContentType)

	_, err = store.Get(ctx, "avatars", "missing.jpg")
	assert.ErrorIs(t, err, ErrNotFound)
}
