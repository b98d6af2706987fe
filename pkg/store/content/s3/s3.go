// Package s3 stores content as objects in an S3 bucket.
//
// Objects do not support partial writes, so WriteAt and Truncate are
// read-modify-write cycles. Reads use ranged GETs. The store suits the
// modest file sizes of a reference namespace, not large-object workloads.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/marmos91/authproxy/internal/logger"
	"github.com/marmos91/authproxy/pkg/store/content"
)

// Config holds the S3 store options.
type Config struct {
	Region          string `mapstructure:"region" validate:"required"`
	Bucket          string `mapstructure:"bucket" validate:"required"`
	KeyPrefix       string `mapstructure:"key_prefix"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`

	// MaxRetries bounds SDK retries for transient failures. Default: 10.
	MaxRetries int `mapstructure:"max_retries" validate:"min=0"`
}

// Metrics receives per-request observations.
type Metrics interface {
	ObserveOperation(operation string, duration time.Duration, err error)
	RecordBytes(operation string, bytes int64)
}

type noopMetrics struct{}

func (noopMetrics) ObserveOperation(string, time.Duration, error) {}
func (noopMetrics) RecordBytes(string, int64)                     {}

// Store implements content.Store on a bucket. A per-identifier lock orders
// read-modify-write cycles issued by this process.
type Store struct {
	client    *s3.Client
	bucket    string
	keyPrefix string
	metrics   Metrics

	locks sync.Map // id -> *sync.Mutex
}

var _ content.Store = (*Store)(nil)

// NewClient builds an S3 client. A custom endpoint switches to path-style
// addressing, as S3-compatible services expect.
func NewClient(ctx context.Context, config Config) (*s3.Client, error) {
	opts := []func(*awsConfig.LoadOptions) error{
		awsConfig.WithRegion(config.Region),
	}

	if config.AccessKeyID != "" && config.SecretAccessKey != "" {
		opts = append(opts, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(config.AccessKeyID, config.SecretAccessKey, ""),
		))
	}

	maxRetries := config.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	opts = append(opts, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	cfg, err := awsConfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		if config.Endpoint != "" {
			o.BaseEndpoint = aws.String(config.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// New verifies bucket access and returns a store. The bucket must exist.
func New(ctx context.Context, client *s3.Client, config Config, metrics Metrics) (*Store, error) {
	if client == nil {
		return nil, errors.New("S3 client is required")
	}
	if config.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	if metrics == nil {
		metrics = noopMetrics{}
	}

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(config.Bucket)}); err != nil {
		return nil, fmt.Errorf("failed to access bucket %s: %w", config.Bucket, err)
	}

	logger.Info("S3 content store ready: bucket=%s prefix=%q", config.Bucket, config.KeyPrefix)

	return &Store{
		client:    client,
		bucket:    config.Bucket,
		keyPrefix: config.KeyPrefix,
		metrics:   metrics,
	}, nil
}

func (s *Store) key(id string) string {
	if s.keyPrefix == "" {
		return id
	}
	return path.Join(s.keyPrefix, id)
}

func (s *Store) lock(id string) func() {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (s *Store) observe(op string, start time.Time, err error) {
	s.metrics.ObserveOperation(op, time.Since(start), err)
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}

func isInvalidRange(err error) bool {
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "InvalidRange"
}

func (s *Store) ReadAt(ctx context.Context, id string, p []byte, offset int64) (n int, err error) {
	if len(p) == 0 {
		_, err := s.Size(ctx, id)
		return 0, err
	}

	start := time.Now()
	defer func() { s.observe("GetObject", start, err) }()

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", offset, offset+int64(len(p))-1)),
	})
	if err != nil {
		if isNotFound(err) {
			return 0, fmt.Errorf("read %s: %w", id, content.ErrContentNotFound)
		}
		if isInvalidRange(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read %s: %w", id, err)
	}
	defer out.Body.Close()

	n, err = io.ReadFull(out.Body, p)
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		err = nil
	}
	s.metrics.RecordBytes("read", int64(n))
	return n, err
}

// load returns the whole object, or nil when it does not exist.
func (s *Store) load(ctx context.Context, id string) (data []byte, err error) {
	start := time.Now()
	defer func() { s.observe("GetObject", start, err) }()

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("load %s: %w", id, err)
	}
	defer out.Body.Close()

	return io.ReadAll(out.Body)
}

func (s *Store) store(ctx context.Context, id string, data []byte) (err error) {
	start := time.Now()
	defer func() { s.observe("PutObject", start, err) }()

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(id)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return fmt.Errorf("store %s: %w", id, err)
	}
	s.metrics.RecordBytes("write", int64(len(data)))
	return nil
}

func (s *Store) WriteAt(ctx context.Context, id string, data []byte, offset int64) error {
	defer s.lock(id)()

	buf, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	return s.store(ctx, id, content.Splice(buf, data, offset))
}

func (s *Store) Truncate(ctx context.Context, id string, size int64) error {
	defer s.lock(id)()

	buf, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if buf != nil && int64(len(buf)) == size {
		return nil
	}
	return s.store(ctx, id, content.Resize(buf, size))
}

func (s *Store) Size(ctx context.Context, id string) (size int64, err error) {
	start := time.Now()
	defer func() { s.observe("HeadObject", start, err) }()

	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil {
		if isNotFound(err) {
			return 0, fmt.Errorf("size %s: %w", id, content.ErrContentNotFound)
		}
		return 0, fmt.Errorf("size %s: %w", id, err)
	}
	return aws.ToInt64(out.ContentLength), nil
}

func (s *Store) Delete(ctx context.Context, id string) (err error) {
	start := time.Now()
	defer func() { s.observe("DeleteObject", start, err) }()

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(id)),
	})
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	s.locks.Delete(id)
	return nil
}
