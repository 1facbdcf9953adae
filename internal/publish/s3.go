package publish

import (
	"context"
	"fmt"
	"path"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"tractkit/internal/config"
	"tractkit/internal/services"
)

// objectClient is the subset of *minio.Client used here.
type objectClient interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	FPutObject(ctx context.Context, bucketName, objectName, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// ReportStore uploads report files to an S3-compatible bucket.
type ReportStore struct {
	client objectClient
	bucket string
	prefix string
}

// NewReportStore connects to the configured object storage endpoint.
func NewReportStore(cfg config.Storage) (*ReportStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "publish", "object storage", "create client", err)
	}
	return newReportStore(client, cfg.Bucket, cfg.Prefix), nil
}

func newReportStore(client objectClient, bucket, prefix string) *ReportStore {
	return &ReportStore{client: client, bucket: bucket, prefix: prefix}
}

// EnsureBucket creates the bucket when it does not exist yet.
func (s *ReportStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return services.Wrap(services.ErrTransient, "publish", "object storage", "check bucket "+s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return services.Wrap(services.ErrTransient, "publish", "object storage", "create bucket "+s.bucket, err)
	}
	return nil
}

// Key returns the object key a local report file is stored under.
func (s *ReportStore) Key(localPath string) string {
	name := filepath.Base(localPath)
	if s.prefix == "" {
		return name
	}
	return path.Join(s.prefix, name)
}

// Upload stores the file at localPath, replacing an existing object of the same name.
func (s *ReportStore) Upload(ctx context.Context, localPath string) (string, error) {
	if err := s.EnsureBucket(ctx); err != nil {
		return "", err
	}
	key := s.Key(localPath)
	if _, err := s.client.FPutObject(ctx, s.bucket, key, localPath, minio.PutObjectOptions{ContentType: "text/csv"}); err != nil {
		return "", services.Wrap(services.ErrTransient, "publish", "object storage", fmt.Sprintf("upload %s", key), err)
	}
	return key, nil
}

// Check reports whether the endpoint is reachable with the configured credentials.
func (s *ReportStore) Check(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucket)
	return err
}
