// Package s3 implements blob storage on S3-compatible services for archived
// funding-rate history.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/carrydesk/carrybot/internal/domain"
)

// ClientConfig holds connection parameters for the blob client.
type ClientConfig struct {
	Region          string
	Bucket          string
	Endpoint        string // non-empty for S3-compatible stores (MinIO etc.)
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// Client implements domain.BlobWriter and domain.BlobReader on one bucket.
type Client struct {
	s3cli    *s3.Client
	uploader *manager.Uploader
	bucket   string
}

// New creates a blob client. Empty credentials fall back to the default AWS
// credential chain.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3: bucket must be set")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3: load aws config: %w", err)
	}

	s3cli := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &Client{
		s3cli:    s3cli,
		uploader: manager.NewUploader(s3cli),
		bucket:   cfg.Bucket,
	}, nil
}

// Write uploads one object.
func (c *Client) Write(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := c.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(c.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3: write %s: %w", key, err)
	}
	return nil
}

// Read downloads one object.
func (c *Client) Read(ctx context.Context, key string) ([]byte, error) {
	out, err := c.s3cli.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("s3: read %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("s3: read body of %s: %w", key, err)
	}
	return data, nil
}

// List returns all object keys under a prefix.
func (c *Client) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	paginator := s3.NewListObjectsV2Paginator(c.s3cli, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3: list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

var (
	_ domain.BlobWriter = (*Client)(nil)
	_ domain.BlobReader = (*Client)(nil)
)
