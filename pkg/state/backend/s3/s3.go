// Package s3 implements an S3-compatible state backend.
package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/google/uuid"

	"github.com/davidthor/catalogctl/pkg/state/backend"
)

func init() {
	backend.Register("s3", NewBackend)
}

// Backend implements the state backend interface for S3-compatible storage.
// Versions are object ETags; conditional writes use If-Match and
// If-None-Match.
type Backend struct {
	client *s3.Client
	bucket string
	prefix string
	region string
}

// NewBackend creates a new S3 backend.
func NewBackend(cfg map[string]string) (backend.Backend, error) {
	bucket, ok := cfg["bucket"]
	if !ok || bucket == "" {
		return nil, fmt.Errorf("s3 backend requires 'bucket' configuration")
	}

	region := cfg["region"]
	if region == "" {
		region = "us-east-1"
	}

	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(region))
	if profile := cfg["profile"]; profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(profile))
	}
	if accessKey := cfg["access_key"]; accessKey != "" {
		secretKey := cfg["secret_key"]
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg["force_path_style"] == "true"
		// Custom endpoint for MinIO, R2, etc.
		if endpoint := cfg["endpoint"]; endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			// S3-compatible stores often reject the default trailing checksums
			o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
			o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
		}
	})

	return &Backend{
		client: client,
		bucket: bucket,
		prefix: cfg["key"],
		region: region,
	}, nil
}

func (b *Backend) Type() string {
	return "s3"
}

func (b *Backend) Read(ctx context.Context, statePath string) (io.ReadCloser, string, error) {
	key := b.fullPath(statePath)

	output, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &b.bucket,
		Key:    &key,
	})
	if err != nil {
		if isNotFound(err) {
			return nil, "", backend.ErrNotFound
		}
		return nil, "", fmt.Errorf("failed to read state from s3://%s/%s: %w", b.bucket, key, err)
	}

	return output.Body, aws.ToString(output.ETag), nil
}

func (b *Backend) Write(ctx context.Context, statePath string, data io.Reader, cond backend.Precondition) (string, error) {
	key := b.fullPath(statePath)

	content, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("failed to read data: %w", err)
	}

	input := &s3.PutObjectInput{
		Bucket:      &b.bucket,
		Key:         &key,
		Body:        bytes.NewReader(content),
		ContentType: aws.String("application/json"),
	}
	switch {
	case cond.IfAbsent:
		input.IfNoneMatch = aws.String("*")
	case cond.IfVersion != "":
		input.IfMatch = aws.String(cond.IfVersion)
	}

	output, err := b.client.PutObject(ctx, input)
	if err != nil {
		if isPreconditionFailed(err) {
			return "", backend.ErrConflict
		}
		return "", fmt.Errorf("failed to write state to s3://%s/%s: %w", b.bucket, key, err)
	}

	return aws.ToString(output.ETag), nil
}

func (b *Backend) Delete(ctx context.Context, statePath string) error {
	key := b.fullPath(statePath)

	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &b.bucket,
		Key:    &key,
	})
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to delete state from s3://%s/%s: %w", b.bucket, key, err)
	}
	return nil
}

func (b *Backend) List(ctx context.Context, prefix string) ([]string, error) {
	fullPrefix := b.fullPath(prefix)
	if strings.HasSuffix(prefix, "/") && !strings.HasSuffix(fullPrefix, "/") {
		fullPrefix += "/"
	}

	var paths []string
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket: &b.bucket,
		Prefix: &fullPrefix,
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		for _, obj := range page.Contents {
			rel := aws.ToString(obj.Key)
			if b.prefix != "" {
				rel = strings.TrimPrefix(rel, b.prefix+"/")
			}
			if strings.HasSuffix(rel, ".json") {
				paths = append(paths, rel)
			}
		}
	}
	return paths, nil
}

func (b *Backend) Exists(ctx context.Context, statePath string) (bool, error) {
	key := b.fullPath(statePath)

	_, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: &b.bucket,
		Key:    &key,
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check existence: %w", err)
	}
	return true, nil
}

// Lock creates the lock object with If-None-Match so two writers cannot both
// succeed. A stale lock is deleted and creation retried once.
func (b *Backend) Lock(ctx context.Context, statePath string, info backend.LockInfo) (backend.Lock, error) {
	lockKey := b.fullPath(statePath + ".lock")

	info.ID = uuid.New().String()
	info.Path = statePath
	info.Created = time.Now()

	lockData, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lock info: %w", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		_, err = b.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      &b.bucket,
			Key:         &lockKey,
			Body:        bytes.NewReader(lockData),
			ContentType: aws.String("application/json"),
			IfNoneMatch: aws.String("*"),
		})
		if err == nil {
			return &s3Lock{backend: b, key: lockKey, info: info}, nil
		}
		if !isPreconditionFailed(err) {
			return nil, fmt.Errorf("failed to create lock: %w", err)
		}

		existing, readErr := b.readLock(ctx, lockKey)
		if readErr == nil && !existing.Stale(time.Now()) {
			return nil, &backend.LockError{Info: existing, Err: backend.ErrLocked}
		}
		if _, delErr := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: &b.bucket, Key: &lockKey}); delErr != nil {
			return nil, fmt.Errorf("failed to break stale lock: %w", delErr)
		}
	}

	return nil, &backend.LockError{Info: backend.LockInfo{Path: statePath}, Err: backend.ErrLocked}
}

func (b *Backend) readLock(ctx context.Context, key string) (backend.LockInfo, error) {
	output, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &b.bucket,
		Key:    &key,
	})
	if err != nil {
		return backend.LockInfo{}, err
	}
	defer output.Body.Close()

	var info backend.LockInfo
	if err := json.NewDecoder(output.Body).Decode(&info); err != nil {
		return backend.LockInfo{}, err
	}
	return info, nil
}

func (b *Backend) fullPath(statePath string) string {
	if b.prefix == "" {
		return statePath
	}
	return path.Join(b.prefix, statePath)
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	return httpStatus(err) == http.StatusNotFound
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return true
		}
	}
	status := httpStatus(err)
	return status == http.StatusPreconditionFailed || status == http.StatusConflict
}

func httpStatus(err error) int {
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode()
	}
	return 0
}

// s3Lock implements the Lock interface for S3.
type s3Lock struct {
	backend *Backend
	key     string
	info    backend.LockInfo
}

func (l *s3Lock) ID() string {
	return l.info.ID
}

func (l *s3Lock) Unlock(ctx context.Context) error {
	_, err := l.backend.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &l.backend.bucket,
		Key:    &l.key,
	})
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

func (l *s3Lock) Info() backend.LockInfo {
	return l.info
}
