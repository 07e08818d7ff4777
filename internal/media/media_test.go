package media

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blogdesk/api/internal/errs"
	"blogdesk/api/internal/logging"
)

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	var buf bytes.Buffer
	img := imaging.New(width, height, color.NRGBA{R: 200, G: 40, B: 40, A: 255})
	require.NoError(t, imaging.Encode(&buf, img, imaging.PNG))
	return buf.Bytes()
}

type fakeBucket struct {
	objects map[string][]byte
	types   map[string]string
	err     error
}

func (f *fakeBucket) PutObject(_ context.Context, bucket, name string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if f.err != nil {
		return minio.UploadInfo{}, f.err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	if int64(len(data)) != size {
		return minio.UploadInfo{}, errors.New("size mismatch")
	}
	f.objects[bucket+"/"+name] = data
	f.types[bucket+"/"+name] = opts.ContentType
	return minio.UploadInfo{Bucket: bucket, Key: name, Size: size}, nil
}

func newFakeBucket() *fakeBucket {
	return &fakeBucket{objects: map[string][]byte{}, types: map[string]string{}}
}

func TestPrepareDownscalesWideImages(t *testing.T) {
	img, err := Prepare(pngBytes(t, 2000, 1000), "image/png")
	require.NoError(t, err)
	assert.Equal(t, 1600, img.Width)
	assert.Equal(t, 800, img.Height)
	assert.Equal(t, ".png", img.Ext)

	decoded, err := imaging.Decode(bytes.NewReader(img.Data))
	require.NoError(t, err)
	assert.Equal(t, 1600, decoded.Bounds().Dx())
}

func TestPrepareKeepsSmallImages(t *testing.T) {
	data := pngBytes(t, 300, 200)
	img, err := Prepare(data, "")
	require.NoError(t, err)
	assert.Equal(t, "image/png", img.ContentType)
	assert.Equal(t, data, img.Data)
	assert.Equal(t, 300, img.Width)
}

func TestPrepareRejects(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		contentType string
	}{
		{name: "empty", data: nil, contentType: "image/png"},
		{name: "not an image", data: []byte("hello world"), contentType: ""},
		{name: "svg", data: []byte("<svg></svg>"), contentType: "image/svg+xml"},
		{name: "corrupt png", data: []byte("\x89PNG\r\n\x1a\nbroken"), contentType: "image/png"},
		{name: "too large", data: make([]byte, MaxUploadBytes+1), contentType: "image/gif"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Prepare(tc.data, tc.contentType)
			assert.True(t, errs.Is(err, errs.Validation), "got %v", err)
		})
	}
}

func TestMinioStoreUpload(t *testing.T) {
	bucket := newFakeBucket()
	s := newMinioStore(bucket, "images", "https://cdn.example.com/", logging.Discard())
	s.now = func() time.Time { return time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC) }

	url, err := s.Upload(context.Background(), pngBytes(t, 40, 40), "image/png")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "https://cdn.example.com/images/images/2026/03/img_"), url)
	assert.True(t, strings.HasSuffix(url, ".png"), url)
	require.Len(t, bucket.objects, 1)
	for key, ct := range bucket.types {
		assert.Equal(t, "image/png", ct, key)
	}
}

func TestMinioStoreUploadFailureIsNetwork(t *testing.T) {
	bucket := newFakeBucket()
	bucket.err = errors.New("connection reset")
	s := newMinioStore(bucket, "images", "http://localhost:9000", logging.Discard())

	_, err := s.Upload(context.Background(), pngBytes(t, 10, 10), "image/png")
	assert.True(t, errs.Is(err, errs.Network))
}
