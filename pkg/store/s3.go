package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/Mindburn-Labs/lattice/pkg/contracts"
)

// s3API is the subset of *s3.Client the store uses.
type s3API interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Config locates the audit bucket.
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string // optional, for MinIO or LocalStack
	Prefix   string
}

// S3AuditStore writes one JSON object per session.
type S3AuditStore struct {
	client s3API
	bucket string
	prefix string
}

// NewS3AuditStore loads the default AWS credential chain.
func NewS3AuditStore(ctx context.Context, cfg S3Config) (*S3AuditStore, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3AuditStore(client, cfg.Bucket, cfg.Prefix), nil
}

func newS3AuditStore(client s3API, bucket, prefix string) *S3AuditStore {
	return &S3AuditStore{client: client, bucket: bucket, prefix: prefix}
}

// Append uploads the entry unless an object for the session already exists.
func (s *S3AuditStore) Append(ctx context.Context, e contracts.AuditEntry) error {
	key := objectKey(s.prefix, e.SessionID)

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return nil
	}
	if !isS3NotFound(err) {
		return fmt.Errorf("s3 head %s: %w", key, err)
	}

	doc, err := encodeEntry(e)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader([]byte(doc)),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"audit-id":     e.AuditID,
			"content-hash": e.ContentHash,
		},
	})
	if err != nil {
		return fmt.Errorf("s3 put failed: %w", err)
	}
	return nil
}

// Get downloads the entry recorded for sessionID.
func (s *S3AuditStore) Get(ctx context.Context, sessionID string) (contracts.AuditEntry, error) {
	key := objectKey(s.prefix, sessionID)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return contracts.AuditEntry{}, ErrNotFound
		}
		return contracts.AuditEntry{}, fmt.Errorf("s3 get failed for %s: %w", key, err)
	}
	defer func() { _ = out.Body.Close() }()

	raw, err := io.ReadAll(out.Body)
	if err != nil {
		return contracts.AuditEntry{}, fmt.Errorf("s3 read %s: %w", key, err)
	}
	return decodeEntry(raw)
}

func (s *S3AuditStore) Close() error { return nil }

func isS3NotFound(err error) bool {
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	return errors.As(err, &nf) || errors.As(err, &nsk)
}
