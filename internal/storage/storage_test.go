package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clipgen/internal/domain"
)

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	key, err := store.Write(ctx, "/jobs/abc/./input", []byte("png"))
	require.NoError(t, err)
	assert.Equal(t, "jobs/abc/input", key)
	_, err = os.Stat(filepath.Join(dir, "jobs", "abc", "input"))
	require.NoError(t, err)

	data, err := store.Read(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "png", string(data))

	require.NoError(t, store.Delete(ctx, key))
	_, err = store.Read(ctx, key)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, key), domain.ErrNotFound)
}

func TestFileStoreRejectsTraversal(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	for _, key := range []string{"", "..", "../etc/passwd", "a/../../b"} {
		_, err := store.Write(context.Background(), key, []byte("x"))
		assert.Error(t, err, key)
	}
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "jobs/j1/input", InputKey("j1"))
	assert.Equal(t, "jobs/j1/output.mp4", OutputKey("j1"))
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
	data, ok := f.objects[aws.ToString(in.Bucket)+":"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(string(data)))}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[aws.ToString(in.Bucket)+":"+aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Bucket)+":"+aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3StoreRoundTrip(t *testing.T) {
	fake := newFakeS3()
	store, err := NewS3Store(context.Background(), S3Options{Bucket: "clips", Prefix: "/dev/", Client: fake})
	require.NoError(t, err)
	ctx := context.Background()

	key, err := store.Write(ctx, OutputKey("j1"), []byte("mp4"))
	require.NoError(t, err)
	assert.Equal(t, "jobs/j1/output.mp4", key)
	assert.Contains(t, fake.objects, "clips:dev/jobs/j1/output.mp4")
	assert.Equal(t, domain.ContentType, fake.types["clips:dev/jobs/j1/output.mp4"])

	data, err := store.Read(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "mp4", string(data))

	require.NoError(t, store.Delete(ctx, key))
	_, err = store.Read(ctx, key)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, key), domain.ErrNotFound)
}

func TestS3StoreRequiresBucket(t *testing.T) {
	_, err := NewS3Store(context.Background(), S3Options{Client: newFakeS3()})
	assert.Error(t, err)
}
