package objectclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	cfg "github.com/markdave123-py/kbparse/internal/config"
	"github.com/markdave123-py/kbparse/internal/core"
)

type MinioClient struct {
	client   *minio.Client
	endpoint string
	secure   bool
}

var _ core.ObjectClient = (*MinioClient)(nil)

func NewMinioClient(cfg *cfg.Config) (core.ObjectClient, error) {
	if cfg.MinioEndpoint == "" {
		return nil, fmt.Errorf("MINIO_ENDPOINT not set")
	}
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioSecure,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &MinioClient{client: client, endpoint: cfg.MinioEndpoint, secure: cfg.MinioSecure}, nil
}

func (c *MinioClient) BucketExists(ctx context.Context, bucket string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	ok, err := c.client.BucketExists(ctx, bucket)
	if err != nil {
		return false, fmt.Errorf("minio bucket exists %q: %w", bucket, err)
	}
	return ok, nil
}

func (c *MinioClient) MakeBucket(ctx context.Context, bucket string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := c.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("minio make bucket %q: %w", bucket, err)
	}
	return nil
}

func (c *MinioClient) SetBucketPolicy(ctx context.Context, bucket, policy string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := c.client.SetBucketPolicy(ctx, bucket, policy); err != nil {
		return fmt.Errorf("minio set policy %q: %w", bucket, err)
	}
	return nil
}

// UploadFile stores data and returns the object URL.
func (c *MinioClient) UploadFile(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	_, err := c.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("minio upload failed: %w", err)
	}
	return c.ObjectURL(bucket, key), nil
}

func (c *MinioClient) DeleteFile(ctx context.Context, bucket, key string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := c.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("minio delete failed: %w", err)
	}
	return nil
}

func (c *MinioClient) GetFile(ctx context.Context, bucket, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	obj, err := c.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("minio get failed: %w", err)
	}
	defer obj.Close()

	body, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read object %s/%s: %w", bucket, key, err)
	}
	return body, nil
}

func (c *MinioClient) ObjectURL(bucket, key string) string {
	scheme := "http"
	if c.secure {
		scheme = "https"
	}
	u := url.URL{Scheme: scheme, Host: c.endpoint, Path: "/" + bucket + "/" + key}
	return u.String()
}
