// Package storage archives settlement receipts in S3-compatible object storage.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/claimflow/backend/internal/domain/settlement"
	"github.com/claimflow/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

var _ settlement.ReceiptArchive = (*S3ReceiptArchive)(nil)

const receiptContentType = "application/json"

// S3ReceiptArchive stores settlement receipts as JSON objects.
// It works against AWS S3 and S3-compatible servers (MinIO, RustFS).
type S3ReceiptArchive struct {
	client *s3.Client
	bucket string
	prefix string
	logger *zap.Logger
}

// S3ReceiptArchiveOption configures an S3ReceiptArchive
type S3ReceiptArchiveOption func(*S3ReceiptArchive)

// WithLogger sets the archive logger
func WithLogger(logger *zap.Logger) S3ReceiptArchiveOption {
	return func(a *S3ReceiptArchive) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewS3ReceiptArchive creates an archive from configuration
func NewS3ReceiptArchive(cfg *config.StorageConfig, opts ...S3ReceiptArchiveOption) (*S3ReceiptArchive, error) {
	if cfg == nil {
		return nil, errors.New("storage configuration is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("storage bucket is required")
	}
	if cfg.AccessKeyID == "" {
		return nil, errors.New("storage access key is required")
	}
	if cfg.SecretAccessKey == "" {
		return nil, errors.New("storage secret key is required")
	}

	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "http://localhost:9000"
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}
	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("invalid storage endpoint: %w", err)
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		o.BaseEndpoint = aws.String(endpoint)
	})

	archive := &S3ReceiptArchive{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(archive)
	}
	return archive, nil
}

// EnsureBucket creates the bucket if it does not exist
func (a *S3ReceiptArchive) EnsureBucket(ctx context.Context) error {
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(a.bucket),
	})
	if err == nil {
		return nil
	}

	var notFound *types.NotFound
	if !errors.As(err, &notFound) {
		a.logger.Debug("HeadBucket failed, attempting to create bucket",
			zap.String("bucket", a.bucket),
			zap.Error(err))
	}

	_, err = a.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(a.bucket),
	})
	if err != nil {
		var owned *types.BucketAlreadyOwnedByYou
		var exists *types.BucketAlreadyExists
		if errors.As(err, &owned) || errors.As(err, &exists) {
			return nil
		}
		return fmt.Errorf("failed to create bucket %s: %w", a.bucket, err)
	}

	a.logger.Info("Created receipt bucket", zap.String("bucket", a.bucket))
	return nil
}

// Key returns the object key of a receipt.
// Receipts are partitioned by settlement date.
func (a *S3ReceiptArchive) Key(claimNumber string, receipt *settlement.Receipt) string {
	name := fmt.Sprintf("%s-%s.json", claimNumber, receipt.TransactionRef)
	key := path.Join(receipt.SettledAt.UTC().Format("2006/01/02"), name)
	if a.prefix != "" {
		key = path.Join(a.prefix, key)
	}
	return key
}

// Put stores the receipt. An existing object with the same key is left untouched.
func (a *S3ReceiptArchive) Put(ctx context.Context, claimNumber string, receipt *settlement.Receipt) (string, error) {
	if receipt == nil || receipt.TransactionRef == "" {
		return "", errors.New("receipt with a transaction reference is required")
	}
	if claimNumber == "" {
		return "", errors.New("claim number is required")
	}

	key := a.Key(claimNumber, receipt)
	exists, err := a.ObjectExists(ctx, key)
	if err != nil {
		return "", err
	}
	if exists {
		a.logger.Debug("Receipt already archived", zap.String("key", key))
		return key, nil
	}

	body, err := json.Marshal(receipt)
	if err != nil {
		return "", fmt.Errorf("failed to encode receipt: %w", err)
	}

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(receiptContentType),
		Metadata: map[string]string{
			"claim-number":    claimNumber,
			"transaction-ref": receipt.TransactionRef,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload receipt %s: %w", key, err)
	}

	a.logger.Info("Archived settlement receipt",
		zap.String("key", key),
		zap.String("claim_number", claimNumber),
		zap.String("transaction_ref", receipt.TransactionRef))
	return key, nil
}

// ObjectExists checks if an object exists in storage
func (a *S3ReceiptArchive) ObjectExists(ctx context.Context, key string) (bool, error) {
	_, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		if strings.Contains(err.Error(), "NotFound") || strings.Contains(err.Error(), "404") {
			return false, nil
		}
		return false, fmt.Errorf("failed to check object existence: %w", err)
	}
	return true, nil
}

// Bucket returns the configured bucket name
func (a *S3ReceiptArchive) Bucket() string {
	return a.bucket
}
