// Package storage archives expired sync runs to S3-compatible object storage
// before they are purged from the database.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/erp/marketsync/internal/domain/integration"
	infraconfig "github.com/erp/marketsync/internal/infrastructure/config"
)

// s3API is the subset of *s3.Client the archiver calls
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

// archivedRun is the JSON line written for one sync run
type archivedRun struct {
	ID         uuid.UUID                   `json:"id"`
	Mode       integration.SyncMode        `json:"mode"`
	Accounts   []integration.AccountID     `json:"accounts"`
	Strategy   string                      `json:"strategy"`
	Options    integration.SyncRunOptions  `json:"options"`
	Status     integration.SyncRunStatus   `json:"status"`
	Canceled   bool                        `json:"canceled"`
	Counts     integration.SyncCounts      `json:"counts"`
	Errors     []integration.SyncItemError `json:"errors"`
	Flagged    []integration.FlaggedItem   `json:"flagged"`
	Warnings   []string                    `json:"warnings"`
	StartedAt  time.Time                   `json:"started_at"`
	FinishedAt *time.Time                  `json:"finished_at,omitempty"`
}

// S3SyncRunArchiver writes batches of sync runs as newline-delimited JSON objects
type S3SyncRunArchiver struct {
	client s3API
	bucket string
	prefix string
	now    func() time.Time
	logger *zap.Logger
}

// S3ArchiverOption is a functional option for configuring S3SyncRunArchiver
type S3ArchiverOption func(*S3SyncRunArchiver)

// WithLogger sets a custom logger
func WithLogger(logger *zap.Logger) S3ArchiverOption {
	return func(a *S3SyncRunArchiver) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithClock replaces the time source used in object keys
func WithClock(now func() time.Time) S3ArchiverOption {
	return func(a *S3SyncRunArchiver) {
		if now != nil {
			a.now = now
		}
	}
}

// NewS3SyncRunArchiver creates an archiver from configuration. It works with
// AWS S3 and S3-compatible stores such as MinIO.
func NewS3SyncRunArchiver(ctx context.Context, cfg *infraconfig.ArchiveConfig, opts ...S3ArchiverOption) (*S3SyncRunArchiver, error) {
	if cfg == nil {
		return nil, errors.New("archive configuration is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("archive bucket is required")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return newS3SyncRunArchiver(client, cfg.Bucket, cfg.Prefix, opts...), nil
}

func newS3SyncRunArchiver(client s3API, bucket, prefix string, opts ...S3ArchiverOption) *S3SyncRunArchiver {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	a := &S3SyncRunArchiver{
		client: client,
		bucket: bucket,
		prefix: prefix,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// EnsureBucket creates the bucket if it doesn't exist
func (a *S3SyncRunArchiver) EnsureBucket(ctx context.Context) error {
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(a.bucket)})
	if err == nil {
		return nil
	}

	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noSuchBucket) {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	a.logger.Info("Creating archive bucket", zap.String("bucket", a.bucket))
	_, err = a.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(a.bucket)})
	if err != nil {
		var alreadyOwned *types.BucketAlreadyOwnedByYou
		if errors.As(err, &alreadyOwned) {
			return nil
		}
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

// ObjectKey returns the key a batch archived at t is written to
func (a *S3SyncRunArchiver) ObjectKey(t time.Time, batch uuid.UUID) string {
	t = t.UTC()
	return fmt.Sprintf("%s%04d/%02d/%02d/%s.jsonl", a.prefix, t.Year(), t.Month(), t.Day(), batch)
}

// ArchiveSyncRuns implements integration.SyncRunArchiver
func (a *S3SyncRunArchiver) ArchiveSyncRuns(ctx context.Context, runs []integration.SyncRun) error {
	if len(runs) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range runs {
		r := &runs[i]
		if err := enc.Encode(archivedRun{
			ID:         r.ID,
			Mode:       r.Mode,
			Accounts:   r.Accounts,
			Strategy:   r.Strategy,
			Options:    r.Options,
			Status:     r.Status,
			Canceled:   r.Canceled,
			Counts:     r.Counts,
			Errors:     r.Errors,
			Flagged:    r.Flagged,
			Warnings:   r.Warnings,
			StartedAt:  r.StartedAt,
			FinishedAt: r.FinishedAt,
		}); err != nil {
			return fmt.Errorf("failed to encode sync run %s: %w", r.ID, err)
		}
	}

	key := a.ObjectKey(a.now(), uuid.New())
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload sync run archive %s: %w", key, err)
	}

	a.logger.Info("Archived sync runs",
		zap.String("bucket", a.bucket),
		zap.String("key", key),
		zap.Int("runs", len(runs)),
	)
	return nil
}

var _ integration.SyncRunArchiver = (*S3SyncRunArchiver)(nil)
