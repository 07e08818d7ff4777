package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"

	"blogdesk/api/internal/errs"
	"blogdesk/api/internal/logging"
	"blogdesk/api/internal/util"
)

// objectPutter is the part of *minio.Client uploads use.
type objectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicURL is the base of the URLs handed out. It defaults to the endpoint.
	PublicURL string
}

// MinioStore keeps images in a MinIO bucket.
type MinioStore struct {
	client    objectPutter
	bucket    string
	publicURL string
	now       func() time.Time
	log       *logrus.Entry
}

// NewMinioStore connects to MinIO and creates the bucket when it is missing.
func NewMinioStore(ctx context.Context, cfg MinioConfig, logger logrus.FieldLogger) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}

	publicURL := cfg.PublicURL
	if publicURL == "" {
		publicURL = client.EndpointURL().String()
	}
	return newMinioStore(client, cfg.Bucket, publicURL, logger), nil
}

func newMinioStore(client objectPutter, bucket, publicURL string, logger logrus.FieldLogger) *MinioStore {
	return &MinioStore{
		client:    client,
		bucket:    bucket,
		publicURL: strings.TrimRight(publicURL, "/"),
		now:       time.Now,
		log:       logging.Component(logger, "media"),
	}
}

// Upload stores an image and returns its public URL.
func (s *MinioStore) Upload(ctx context.Context, data []byte, contentType string) (string, error) {
	img, err := Prepare(data, contentType)
	if err != nil {
		return "", err
	}
	name := fmt.Sprintf("images/%s/%s%s", s.now().UTC().Format("2006/01"), util.NewID("img"), img.Ext)
	_, err = s.client.PutObject(ctx, s.bucket, name, bytes.NewReader(img.Data), int64(len(img.Data)), minio.PutObjectOptions{
		ContentType:  img.ContentType,
		CacheControl: "public, max-age=31536000, immutable",
	})
	if err != nil {
		return "", errs.E(errs.Network, "media.upload", "store image", err)
	}
	s.log.WithFields(logrus.Fields{
		"object": name,
		"bytes":  len(img.Data),
		"width":  img.Width,
	}).Info("image stored")
	return s.publicURL + "/" + s.bucket + "/" + name, nil
}
