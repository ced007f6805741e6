// Package blobstore implements the content-addressed object storage client
// (C4) used to download model weights and upload job result artifacts.
package blobstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"inferno/core/config"
)

// Client streams files to and from an S3-compatible object store.
type Client struct {
	s3     *s3.Client
	bucket string
	prefix string
	logger *slog.Logger
}

// New builds a Client from the blob-store configuration group. A non-empty
// Endpoint makes this work against any S3-compatible store (MinIO, R2, GCS
// interop) as well as AWS S3 itself.
func New(ctx context.Context, cfg config.BlobStore, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("blobstore: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = &cfg.Endpoint
			o.UsePathStyle = true
		}
	})

	return &Client{s3: client, bucket: cfg.Bucket, prefix: cfg.Prefix, logger: logger}, nil
}

// ObjectPath composes the canonical, content-addressed key for a blob from
// its hash, a path prefix, and a file extension. Two callers computing the
// same triple address the same object.
func ObjectPath(prefix, hash, extension string) string {
	return prefix + hash + "." + extension
}

// Download streams objectPath from the bucket to fsPath.
func (c *Client) Download(ctx context.Context, objectPath, fsPath string) error {
	start := time.Now()

	out, err := c.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &c.bucket,
		Key:    &objectPath,
	})
	if err != nil {
		return fmt.Errorf("blobstore: get object %s: %w", objectPath, err)
	}
	defer out.Body.Close()

	f, err := os.Create(fsPath)
	if err != nil {
		return fmt.Errorf("blobstore: create %s: %w", fsPath, err)
	}
	defer f.Close()

	n, err := io.Copy(f, out.Body)
	if err != nil {
		return fmt.Errorf("blobstore: write %s: %w", fsPath, err)
	}

	c.logger.Info("blobstore: downloaded", "object", objectPath, "bytes", n, "duration", time.Since(start))
	return nil
}

// Upload streams fsPath to objectPath in the bucket with the given
// content type.
func (c *Client) Upload(ctx context.Context, objectPath, fsPath, contentType string) error {
	start := time.Now()

	f, err := os.Open(fsPath)
	if err != nil {
		return fmt.Errorf("blobstore: open %s: %w", fsPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("blobstore: stat %s: %w", fsPath, err)
	}

	_, err = c.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &c.bucket,
		Key:           &objectPath,
		Body:          f,
		ContentType:   &contentType,
		ContentLength: &info.Size,
	})
	if err != nil {
		return fmt.Errorf("blobstore: put object %s: %w", objectPath, err)
	}

	c.logger.Info("blobstore: uploaded", "object", objectPath, "bytes", info.Size, "duration", time.Since(start))
	return nil
}
