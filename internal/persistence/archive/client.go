// Package archive moves retention-expired risk metrics and price history to
// S3-compatible cold storage (Cloudflare R2 in production) before the sqlite
// store prunes them. The staging/checksum/upload flow is grounded on the
// teacher's R2BackupService; the S3 client itself is written directly
// against aws-sdk-go-v2 since no wrapper source for it shipped in the
// retrieval pack alongside the service that calls it.
package archive

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ClientConfig describes how to reach the R2/S3-compatible bucket.
type ClientConfig struct {
	AccountID       string // R2 account id; forms the endpoint URL
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
}

// Client uploads and lists archive objects in a single bucket.
type Client struct {
	s3     *s3.Client
	bucket string
}

// NewClient builds an R2-compatible S3 client from static credentials. R2
// has no regional concept; "auto" is its documented placeholder region.
func NewClient(ctx context.Context, cfg ClientConfig) (*Client, error) {
	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion("auto"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})

	return &Client{s3: client, bucket: cfg.Bucket}, nil
}

// Upload streams r (size bytes) to the bucket under key, using the
// multipart manager so archive batches larger than a single PUT still
// upload cleanly.
func (c *Client) Upload(ctx context.Context, key string, r io.Reader, size int64) error {
	uploader := manager.NewUploader(c.s3)
	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          r,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

// ObjectInfo describes a single archived object.
type ObjectInfo struct {
	Key          string
	SizeBytes    int64
	LastModified string
}

// List enumerates objects under a key prefix.
func (c *Client) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	out, err := c.s3.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("list %s*: %w", prefix, err)
	}

	objects := make([]ObjectInfo, 0, len(out.Contents))
	for _, obj := range out.Contents {
		if obj.Key == nil {
			continue
		}
		info := ObjectInfo{Key: *obj.Key}
		if obj.Size != nil {
			info.SizeBytes = *obj.Size
		}
		if obj.LastModified != nil {
			info.LastModified = obj.LastModified.Format("2006-01-02T15:04:05Z07:00")
		}
		objects = append(objects, info)
	}
	return objects, nil
}

// Delete removes a single object, used by retention rotation.
func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}
