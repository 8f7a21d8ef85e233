package tally

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"
)

var _ Store = (*S3Store)(nil)

// S3ClientConfig describes how to reach the bucket. Endpoint and the static
// keys are optional; when Endpoint is set path-style addressing is used so
// that S3-compatible servers such as MinIO work.
type S3ClientConfig struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

func NewS3Client(ctx context.Context, c S3ClientConfig) (*s3.Client, error) {
	var fns []func(*awsConfig.LoadOptions) error
	if c.Region != "" {
		fns = append(fns, awsConfig.WithRegion(c.Region))
	}
	if c.AccessKeyID != "" {
		fns = append(fns, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKeyID, c.SecretAccessKey, ""),
		))
	}

	sdkConfig, err := awsConfig.LoadDefaultConfig(ctx, fns...)
	if err != nil {
		return nil, fmt.Errorf("config.LoadDefaultConfig: %w", err)
	}

	return s3.NewFromConfig(sdkConfig, func(o *s3.Options) {
		if c.Endpoint != "" {
			o.UsePathStyle = true
			o.BaseEndpoint = aws.String(c.Endpoint)
		}
	}), nil
}

// S3Store keeps the record as a JSON object in a bucket. Object storage has no
// read-modify-write primitive here, so increments are serialized inside this
// process only; run a single instance per object.
type S3Store struct {
	client *s3.Client
	bucket string
	key    string
	logger *zap.SugaredLogger
	mu     sync.RWMutex
}

func NewS3Store(client *s3.Client, bucket, key string, opts ...Option) *S3Store {
	o := newStoreOptions(opts)
	return &S3Store{
		client: client,
		bucket: bucket,
		key:    key,
		logger: o.logger.With(zap.String("store", "s3"), zap.String("bucket", bucket), zap.String("key", key)),
	}
}

func (s *S3Store) Load(ctx context.Context) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.get(ctx)
}

func (s *S3Store) Increment(ctx context.Context, day time.Weekday) (Record, error) {
	if err := checkWeekday(day); err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.get(ctx)
	if err != nil {
		return Record{}, err
	}
	next, err := cur.Inc(day)
	if err != nil {
		return Record{}, err
	}

	b, err := Marshal(next)
	if err != nil {
		return Record{}, err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key),
		Body:        bytes.NewReader(b),
		ContentType: aws.String("application/json; charset=utf-8"),
	})
	if err != nil {
		return Record{}, fmt.Errorf("PutObject: %w", err)
	}
	return next, nil
}

func (s *S3Store) Close() error {
	return nil
}

func (s *S3Store) get(ctx context.Context) (Record, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return Record{}, nil
		}
		return Record{}, fmt.Errorf("GetObject: %w", err)
	}
	defer out.Body.Close()

	b, err := io.ReadAll(out.Body)
	if err != nil {
		return Record{}, fmt.Errorf("io.ReadAll: %w", err)
	}
	rec, err := Unmarshal(b)
	if err != nil {
		s.logger.Warnf("Unmarshal: %v, using zero record", err)
		return Record{}, nil
	}
	return rec, nil
}

func isS3NotFound(err error) bool {
	var noKey *s3types.NoSuchKey
	var notFound *s3types.NotFound
	if errors.As(err, &noKey) || errors.As(err, &notFound) {
		return true
	}
	// Some S3-compatible servers return the code without the typed error.
	var ae smithy.APIError
	return errors.As(err, &ae) && ae.ErrorCode() == "NoSuchKey"
}
