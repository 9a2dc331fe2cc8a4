// Package objectstore uploads chat attachments to an S3-compatible bucket
// (MinIO in development) and hands out presigned download URLs.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
)

// DefaultURLExpiry is how long a presigned download URL stays valid.
const DefaultURLExpiry = time.Hour

// Config locates the bucket.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	// Secure selects https when Endpoint carries no scheme.
	Secure bool
}

// Upload describes a stored object.
type Upload struct {
	FileName string `json:"file_name"`
	FileURL  string `json:"file_url"`
}

// Store is an S3 bucket client.
type Store struct {
	client    *s3.Client
	presign   *s3.PresignClient
	bucket    string
	region    string
	urlExpiry time.Duration
	logger    *slog.Logger
}

// New builds a path-style client for cfg.
func New(cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("objectstore: bucket is required")
	}
	if cfg.Endpoint == "" {
		return nil, errors.New("objectstore: endpoint is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	endpoint := cfg.Endpoint
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		scheme := "http"
		if cfg.Secure {
			scheme = "https"
		}
		endpoint = scheme + "://" + endpoint
	}

	creds := aws.NewCredentialsCache(aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
		return aws.Credentials{
			AccessKeyID:     cfg.AccessKey,
			SecretAccessKey: cfg.SecretKey,
			Source:          "openchatroom",
		}, nil
	}))

	client := s3.New(s3.Options{
		Region:       region,
		BaseEndpoint: aws.String(endpoint),
		UsePathStyle: true,
		Credentials:  creds,
	})

	return &Store{
		client:    client,
		presign:   s3.NewPresignClient(client),
		bucket:    cfg.Bucket,
		region:    region,
		urlExpiry: DefaultURLExpiry,
		logger:    logger.With(slog.String("component", "objectstore")),
	}, nil
}

// EnsureBucket creates the bucket unless it already exists. A failure is
// logged and returned; restricted credentials may still be able to upload.
func (s *Store) EnsureBucket(ctx context.Context) error {
	if _, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err == nil {
		s.logger.Info("bucket exists", slog.String("bucket", s.bucket))
		return nil
	}

	input := &s3.CreateBucketInput{Bucket: aws.String(s.bucket)}
	if s.region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(s.region),
		}
	}
	if _, err := s.client.CreateBucket(ctx, input); err != nil {
		s.logger.Warn("could not verify or create bucket",
			slog.String("bucket", s.bucket), slog.Any("error", err))
		return fmt.Errorf("create bucket %q: %w", s.bucket, err)
	}
	s.logger.Info("bucket created", slog.String("bucket", s.bucket))
	return nil
}

// Upload stores data under a unique name derived from name and returns it
// with a presigned download URL.
func (s *Store) Upload(ctx context.Context, name string, data []byte, contentType string) (Upload, error) {
	key := objectKey(name)
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
	}); err != nil {
		return Upload{}, fmt.Errorf("put object %q: %w", key, err)
	}

	url, err := s.PresignedURL(ctx, key)
	if err != nil {
		return Upload{}, err
	}
	return Upload{FileName: key, FileURL: url}, nil
}

// PresignedURL returns a time-limited GET URL for key.
func (s *Store) PresignedURL(ctx context.Context, key string) (string, error) {
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.urlExpiry))
	if err != nil {
		return "", fmt.Errorf("presign %q: %w", key, err)
	}
	return req.URL, nil
}

func objectKey(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" || base == "" {
		base = "file"
	}
	return uuid.NewString() + "-" + base
}
