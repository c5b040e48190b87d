package chart

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BaSui01/finrag/config"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Uploader stores a rendered chart and returns a reference to it.
type Uploader interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// FileUploader writes charts under a local directory.
type FileUploader struct {
	Dir string
}

// Upload implements Uploader. The returned reference is the file path.
func (u FileUploader) Upload(ctx context.Context, key string, data []byte, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path := filepath.Join(u.Dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create chart dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write chart: %w", err)
	}
	return path, nil
}

// PutObjectAPI is the part of the S3 client the uploader needs.
type PutObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Uploader puts charts into a bucket.
type S3Uploader struct {
	client    PutObjectAPI
	bucket    string
	prefix    string
	publicURL string
}

// NewS3Uploader builds a client from the default AWS credential chain.
// S3Endpoint switches to path-style addressing for S3-compatible stores.
func NewS3Uploader(ctx context.Context, cfg config.ChartConfig) (*S3Uploader, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3UploaderWithClient(client, cfg.S3Bucket, cfg.S3Prefix, cfg.PublicURL), nil
}

// NewS3UploaderWithClient wraps an existing client.
func NewS3UploaderWithClient(client PutObjectAPI, bucket, prefix, publicURL string) *S3Uploader {
	return &S3Uploader{client: client, bucket: bucket, prefix: prefix, publicURL: strings.TrimSuffix(publicURL, "/")}
}

// Upload implements Uploader. Returns the public URL when configured,
// otherwise an s3:// reference.
func (u *S3Uploader) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	objectKey := u.prefix + key
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(objectKey),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put s3://%s/%s: %w", u.bucket, objectKey, err)
	}
	if u.publicURL != "" {
		return u.publicURL + "/" + objectKey, nil
	}
	return fmt.Sprintf("s3://%s/%s", u.bucket, objectKey), nil
}
