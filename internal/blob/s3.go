// ABOUTME: S3-compatible blob store built on aws-sdk-go-v2
// ABOUTME: Buckets map onto key prefixes of a single configured S3 bucket

package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Config selects the bucket and endpoint of an S3Store.
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string // empty for AWS; set for MinIO and friends

	// Static credentials. When empty the default AWS credential chain is used.
	AccessKeyID     string
	SecretAccessKey string

	UsePathStyle bool
}

// objectAPI is the part of the S3 client the store calls.
type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Store stores objects in an S3 bucket under "<bucket>/<key>".
type S3Store struct {
	client objectAPI
	bucket string
	logger *slog.Logger
}

// NewS3Store loads AWS configuration and builds the S3 client.
func NewS3Store(ctx context.Context, cfg S3Config, logger *slog.Logger) (*S3Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}

	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return newS3Store(client, cfg.Bucket, logger), nil
}

func newS3Store(client objectAPI, bucket string, logger *slog.Logger) *S3Store {
	return &S3Store{
		client: client,
		bucket: bucket,
		logger: logger.With("component", "blob", "backend", "s3"),
	}
}

func (s *S3Store) objectKey(bucket, key string) string {
	return bucket + "/" + key
}

// Put uploads the object.
func (s *S3Store) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	if err := ValidateKey(bucket, key); err != nil {
		return err
	}
	if len(data) > MaxObjectSize {
		return ErrTooLarge
	}

	in := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(bucket, key)),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}

	if _, err := s.client.PutObject(ctx, in); err != nil {
		return fmt.Errorf("putting s3 object: %w", err)
	}

	s.logger.Debug("stored object", "bucket", bucket, "key", key, "size", len(data))
	return nil
}

// Get downloads the object.
func (s *S3Store) Get(ctx context.Context, bucket, key string) (*Object, error) {
	if err := ValidateKey(bucket, key); err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(bucket, key)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting s3 object: %w", err)
	}

	contentType := aws.ToString(out.ContentType)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &Object{Body: out.Body, ContentType: contentType, Size: -1}, nil
}

// compile-time check
var _ Store = (*S3Store)(nil)
