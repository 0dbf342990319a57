// Package s3 provides an S3-compatible blob storage backend with metrics.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/vwake01/ai-dial-core/internal/logging"
	"github.com/vwake01/ai-dial-core/internal/metrics"
	"github.com/vwake01/ai-dial-core/internal/storage"
)

// Config holds S3 connection settings.
type Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
}

// Backend implements storage.BlobStore using S3/MinIO.
type Backend struct {
	client *awss3.Client
	bucket string
}

// New creates a new S3 backend.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	resolver := aws.EndpointResolverWithOptionsFunc(
		func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL:               cfg.Endpoint,
				HostnameImmutable: true,
			}, nil
		},
	)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithEndpointResolverWithOptions(resolver),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		o.UsePathStyle = true
	})

	backend := &Backend{
		client: client,
		bucket: cfg.Bucket,
	}

	if err := backend.ensureBucket(ctx); err != nil {
		logging.Error("bucket check failed", zap.Error(err))
	}

	return backend, nil
}

func (b *Backend) ensureBucket(ctx context.Context) error {
	start := time.Now()
	_, err := b.client.HeadBucket(ctx, &awss3.HeadBucketInput{
		Bucket: aws.String(b.bucket),
	})
	if err != nil {
		_, createErr := b.client.CreateBucket(ctx, &awss3.CreateBucketInput{
			Bucket: aws.String(b.bucket),
		})
		if createErr != nil {
			metrics.RecordBlobOperation("create_bucket", time.Since(start), false)
			return fmt.Errorf("bucket %s does not exist and cannot create: %w", b.bucket, createErr)
		}
		metrics.RecordBlobOperation("create_bucket", time.Since(start), true)
		logging.Info("created S3 bucket", zap.String("bucket", b.bucket))
	}
	return nil
}

// isNotFound reports whether err is an S3 missing-object error.
func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NotFound" || code == "NoSuchKey"
	}
	return false
}

// Exists checks if an object exists in S3.
func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	start := time.Now()

	_, err := b.client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			metrics.RecordBlobOperation("head_object", time.Since(start), true)
			return false, nil
		}
		metrics.RecordBlobOperation("head_object", time.Since(start), false)
		return false, fmt.Errorf("head object %s: %w", key, err)
	}

	metrics.RecordBlobOperation("head_object", time.Since(start), true)
	return true, nil
}

// Meta retrieves object metadata without the payload. Returns nil for a
// missing object.
func (b *Backend) Meta(ctx context.Context, key string) (*storage.ObjectMeta, error) {
	start := time.Now()

	out, err := b.client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			metrics.RecordBlobOperation("head_object", time.Since(start), true)
			return nil, nil
		}
		metrics.RecordBlobOperation("head_object", time.Since(start), false)
		return nil, fmt.Errorf("head object %s: %w", key, err)
	}

	metrics.RecordBlobOperation("head_object", time.Since(start), true)

	meta := &storage.ObjectMeta{
		Key:          key,
		Type:         storage.EntryBlob,
		ContentType:  aws.ToString(out.ContentType),
		UserMetadata: out.Metadata,
		LastModified: aws.ToTime(out.LastModified),
		Size:         aws.ToInt64(out.ContentLength),
	}
	if out.ContentEncoding != nil {
		meta.ContentEncoding = *out.ContentEncoding
	}
	return meta, nil
}

// Load retrieves an object with its payload. Returns nil for a missing
// object.
func (b *Backend) Load(ctx context.Context, key string) (*storage.Object, error) {
	start := time.Now()

	out, err := b.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			metrics.RecordBlobOperation("get_object", time.Since(start), true)
			return nil, nil
		}
		metrics.RecordBlobOperation("get_object", time.Since(start), false)
		return nil, fmt.Errorf("get object %s: %w", key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		metrics.RecordBlobOperation("get_object", time.Since(start), false)
		return nil, fmt.Errorf("read object %s: %w", key, err)
	}

	metrics.RecordBlobOperation("get_object", time.Since(start), true)
	logging.Debug("S3 get object", zap.String("key", key), zap.Int("size", len(data)))

	obj := &storage.Object{
		ObjectMeta: storage.ObjectMeta{
			Key:          key,
			Type:         storage.EntryBlob,
			ContentType:  aws.ToString(out.ContentType),
			UserMetadata: out.Metadata,
			LastModified: aws.ToTime(out.LastModified),
			Size:         int64(len(data)),
		},
		Data: data,
	}
	if out.ContentEncoding != nil {
		obj.ContentEncoding = *out.ContentEncoding
	}
	return obj, nil
}

// Store writes an object with content metadata and user metadata.
func (b *Backend) Store(ctx context.Context, key, contentType, contentEncoding string, userMeta map[string]string, data []byte) error {
	start := time.Now()

	input := &awss3.PutObjectInput{
		Bucket:        aws.String(b.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
		Metadata:      userMeta,
	}
	if contentEncoding != "" {
		input.ContentEncoding = aws.String(contentEncoding)
	}

	_, err := b.client.PutObject(ctx, input)
	if err != nil {
		metrics.RecordBlobOperation("put_object", time.Since(start), false)
		return fmt.Errorf("put object %s: %w", key, err)
	}

	metrics.RecordBlobOperation("put_object", time.Since(start), true)
	logging.Debug("S3 put object", zap.String("key", key), zap.Int("size", len(data)))
	return nil
}

// Delete removes an object from S3.
func (b *Backend) Delete(ctx context.Context, key string) error {
	start := time.Now()

	_, err := b.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		metrics.RecordBlobOperation("delete_object", time.Since(start), false)
		return fmt.Errorf("delete object %s: %w", key, err)
	}

	metrics.RecordBlobOperation("delete_object", time.Since(start), true)
	logging.Debug("S3 delete object", zap.String("key", key))
	return nil
}

// List returns one page of entries under the given prefix. Child folders
// surface as common prefixes. User metadata is fetched per blob entry
// because S3 listings do not carry it.
func (b *Backend) List(ctx context.Context, prefix, token string, limit int) (*storage.Page, error) {
	start := time.Now()

	input := &awss3.ListObjectsV2Input{
		Bucket:    aws.String(b.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	}
	if token != "" {
		input.ContinuationToken = aws.String(token)
	}
	if limit > 0 {
		input.MaxKeys = aws.Int32(int32(limit))
	}

	out, err := b.client.ListObjectsV2(ctx, input)
	if err != nil {
		metrics.RecordBlobOperation("list_objects", time.Since(start), false)
		return nil, fmt.Errorf("list objects %s: %w", prefix, err)
	}

	page := &storage.Page{
		NextToken: aws.ToString(out.NextContinuationToken),
	}

	for _, cp := range out.CommonPrefixes {
		page.Entries = append(page.Entries, storage.ObjectMeta{
			Key:  aws.ToString(cp.Prefix),
			Type: storage.EntryFolder,
		})
	}

	for _, obj := range out.Contents {
		key := aws.ToString(obj.Key)
		entry := storage.ObjectMeta{
			Key:          key,
			Type:         storage.EntryBlob,
			LastModified: aws.ToTime(obj.LastModified),
			Size:         aws.ToInt64(obj.Size),
		}
		if meta, err := b.Meta(ctx, key); err == nil && meta != nil {
			entry.UserMetadata = meta.UserMetadata
			entry.ContentType = meta.ContentType
			entry.ContentEncoding = meta.ContentEncoding
		}
		page.Entries = append(page.Entries, entry)
	}

	metrics.RecordBlobOperation("list_objects", time.Since(start), true)
	return page, nil
}

// Type returns "s3".
func (b *Backend) Type() string { return "s3" }

// Close is a no-op for S3 backends.
func (b *Backend) Close() error { return nil }
