// Package storage wraps the S3-compatible bucket that holds portfolio images.
package storage

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Config struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Region        string
	UseSSL        bool
	Bucket        string
	PublicBaseURL string
}

type Object struct {
	Key          string
	Size         int64
	LastModified time.Time
}

type Client struct {
	client *minio.Client
	bucket string
	URLMapper
}

func New(cfg Config) (*Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &Client{
		client:    client,
		bucket:    cfg.Bucket,
		URLMapper: NewURLMapper(cfg.PublicBaseURL, cfg.Bucket),
	}, nil
}

func (c *Client) Bucket() string {
	return c.bucket
}

// EnsureBucket creates the bucket on first start against a fresh MinIO.
func (c *Client) EnsureBucket(ctx context.Context) error {
	exists, err := c.client.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := c.client.MakeBucket(ctx, c.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	log.Info("created storage bucket", "bucket", c.bucket)
	return nil
}

// List returns every object under prefix, sorted by key.
func (c *Client) List(ctx context.Context, prefix string) ([]Object, error) {
	objects := make([]Object, 0)
	for info := range c.client.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if info.Err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, info.Err)
		}
		objects = append(objects, Object{Key: info.Key, Size: info.Size, LastModified: info.LastModified})
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

func (c *Client) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	_, err := c.client.PutObject(ctx, c.bucket, key, body, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (c *Client) Remove(ctx context.Context, key string) error {
	if err := c.client.RemoveObject(ctx, c.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

// RemovePrefix deletes every object under prefix and reports how many were
// removed.
func (c *Client) RemovePrefix(ctx context.Context, prefix string) (int, error) {
	objects, err := c.List(ctx, prefix)
	if err != nil {
		return 0, err
	}
	objectsCh := make(chan minio.ObjectInfo, len(objects))
	for _, object := range objects {
		objectsCh <- minio.ObjectInfo{Key: object.Key}
	}
	close(objectsCh)

	removed := len(objects)
	for result := range c.client.RemoveObjects(ctx, c.bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		if result.Err != nil {
			removed--
			log.Warn("remove object failed", "key", result.ObjectName, "err", result.Err)
		}
	}
	return removed, nil
}
