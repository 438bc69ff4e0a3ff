package assets

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePNG(t *testing.T, dir, name string) string {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestInspect(t *testing.T) {
	dir := t.TempDir()
	path := writePNG(t, dir, "avatar.png")

	f, err := Inspect(path, 0)
	require.NoError(t, err)
	assert.Equal(t, "image/png", f.ContentType)
	assert.Equal(t, ".png", f.Extension)
	assert.Equal(t, "avatar.png", f.OriginalFilename)
	assert.Len(t, f.SHA, 32)
	assert.True(t, strings.HasPrefix(f.Key(), "original/"+f.SHA[:2]+"/"))

	// Одинаковое содержимое - одинаковый хеш
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	copyPath := filepath.Join(dir, "copy.bin")
	require.NoError(t, os.WriteFile(copyPath, data, 0o644))
	g, err := Inspect(copyPath, 0)
	require.NoError(t, err)
	assert.Equal(t, f.SHA, g.SHA)
	assert.Equal(t, ".png", g.Extension)
}

func TestInspect_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Inspect(filepath.Join(dir, "missing.png"), 0)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = Inspect(dir, 0)
	assert.ErrorIs(t, err, ErrNotFound)

	txt := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(txt, []byte("just text"), 0o644))
	_, err = Inspect(txt, 0)
	assert.ErrorIs(t, err, ErrUnsupportedType)

	path := writePNG(t, dir, "big.png")
	_, err = Inspect(path, 8)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestLocalStore_Upload(t *testing.T) {
	src := t.TempDir()
	root := t.TempDir()
	path := writePNG(t, src, "a.png")

	store := NewLocalStore(root, "/uploads/", 0)

	a, err := store.Upload(context.Background(), path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(a.URL, "/uploads/original/"))
	assert.FileExists(t, filepath.Join(root, filepath.FromSlash(strings.TrimPrefix(a.URL, "/uploads/"))))

	// Повторная загрузка - тот же результат
	b, err := store.Upload(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

type fakeUploader struct {
	inputs []*s3.PutObjectInput
	body   []byte
	err    error
}

func (f *fakeUploader) Upload(ctx context.Context, in *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.inputs = append(f.inputs, in)
	f.body, _ = io.ReadAll(in.Body)
	return &manager.UploadOutput{Location: "https://bucket.s3/" + aws.ToString(in.Key)}, nil
}

func TestS3Store_Upload(t *testing.T) {
	path := writePNG(t, t.TempDir(), "a.png")
	up := &fakeUploader{}

	store := NewS3StoreWithUploader(up, S3Config{Bucket: "forum", Prefix: "/uploads/"}, 0)
	a, err := store.Upload(context.Background(), path)
	require.NoError(t, err)

	require.Len(t, up.inputs, 1)
	in := up.inputs[0]
	assert.Equal(t, "forum", aws.ToString(in.Bucket))
	assert.Equal(t, "image/png", aws.ToString(in.ContentType))
	assert.True(t, strings.HasPrefix(aws.ToString(in.Key), "uploads/original/"))
	assert.Equal(t, a.Size, int64(len(up.body)))
	assert.Equal(t, "https://bucket.s3/"+aws.ToString(in.Key), a.URL)

	store = NewS3StoreWithUploader(up, S3Config{Bucket: "forum", PublicURL: "https://cdn.example.com/"}, 0)
	a, err = store.Upload(context.Background(), path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(a.URL, "https://cdn.example.com/original/"))
}

func TestS3Store_UploadError(t *testing.T) {
	path := writePNG(t, t.TempDir(), "a.png")
	cause := io.ErrUnexpectedEOF

	store := NewS3StoreWithUploader(&fakeUploader{err: cause}, S3Config{Bucket: "forum"}, 0)
	_, err := store.Upload(context.Background(), path)
	assert.ErrorIs(t, err, cause)

	_, err = NewS3Store(context.Background(), S3Config{}, 0)
	assert.Error(t, err)
}
