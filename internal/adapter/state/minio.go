package state

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOConfig locates the bucket holding pipeline state.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// Prefix is prepended to every object name.
	Prefix string
}

// MinIOBlobs stores blobs as objects. A single PutObject replaces an object
// atomically, so no temp-and-rename step is needed.
type MinIOBlobs struct {
	client *minio.Client
	bucket string
	prefix string
	logger *slog.Logger
}

// NewMinIOBlobs connects to the bucket, creating it when missing.
func NewMinIOBlobs(ctx context.Context, cfg MinIOConfig, logger *slog.Logger) (*MinIOBlobs, error) {
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
		logger.Info("created state bucket", "bucket", cfg.Bucket)
	}
	return &MinIOBlobs{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix, logger: logger}, nil
}

// Read downloads the object or returns ErrNotFound.
func (b *MinIOBlobs) Read(ctx context.Context, name string) ([]byte, error) {
	obj, err := b.client.GetObject(ctx, b.bucket, b.prefix+name, minio.GetObjectOptions{})
	if err != nil {
		return nil, b.wrap("get", name, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, b.wrap("read", name, err)
	}
	return data, nil
}

// Write uploads the object, replacing any previous version.
func (b *MinIOBlobs) Write(ctx context.Context, name string, data []byte) error {
	_, err := b.client.PutObject(ctx, b.bucket, b.prefix+name, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType(name),
	})
	if err != nil {
		b.logger.Error("failed to store state object", "bucket", b.bucket, "name", name, "error", err)
		return fmt.Errorf("put %s: %w", name, err)
	}
	return nil
}

func (b *MinIOBlobs) wrap(op, name string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return ErrNotFound
	}
	return fmt.Errorf("%s %s: %w", op, name, err)
}

func contentType(name string) string {
	switch {
	case strings.HasSuffix(name, ".json"):
		return "application/json"
	case strings.HasSuffix(name, ".parquet"):
		return "application/vnd.apache.parquet"
	default:
		return "application/octet-stream"
	}
}
