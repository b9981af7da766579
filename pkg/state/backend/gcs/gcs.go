// Package gcs implements a Google Cloud Storage state backend.
package gcs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/davidthor/catalogctl/pkg/state/backend"
)

func init() {
	backend.Register("gcs", NewBackend)
}

// Backend implements the state backend interface for Google Cloud Storage.
// Versions are object generations; conditional writes use generation
// preconditions.
type Backend struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewBackend creates a new GCS backend.
func NewBackend(cfg map[string]string) (backend.Backend, error) {
	bucketName, ok := cfg["bucket"]
	if !ok || bucketName == "" {
		return nil, fmt.Errorf("gcs backend requires 'bucket' configuration")
	}

	ctx := context.Background()
	var opts []option.ClientOption

	if credentialsFile := cfg["credentials"]; credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	if credentialsJSON := cfg["credentials_json"]; credentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credentialsJSON)))
	}
	// Custom endpoint for the emulator
	if endpoint := cfg["endpoint"]; endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
		opts = append(opts, option.WithoutAuthentication())
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &Backend{
		client: client,
		bucket: bucketName,
		prefix: cfg["prefix"],
	}, nil
}

func (b *Backend) Type() string {
	return "gcs"
}

func (b *Backend) Read(ctx context.Context, statePath string) (io.ReadCloser, string, error) {
	objectPath := b.fullPath(statePath)

	reader, err := b.client.Bucket(b.bucket).Object(objectPath).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, "", backend.ErrNotFound
		}
		return nil, "", fmt.Errorf("failed to read state from gs://%s/%s: %w", b.bucket, objectPath, err)
	}

	return reader, strconv.FormatInt(reader.Attrs.Generation, 10), nil
}

func (b *Backend) Write(ctx context.Context, statePath string, data io.Reader, cond backend.Precondition) (string, error) {
	objectPath := b.fullPath(statePath)

	content, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("failed to read data: %w", err)
	}

	conds, err := conditions(cond)
	if err != nil {
		return "", err
	}

	obj := b.client.Bucket(b.bucket).Object(objectPath)
	if conds != nil {
		obj = obj.If(*conds)
	}

	writer := obj.NewWriter(ctx)
	writer.ContentType = "application/json"

	if _, err := writer.Write(content); err != nil {
		writer.Close()
		return "", b.writeError(objectPath, err)
	}
	if err := writer.Close(); err != nil {
		return "", b.writeError(objectPath, err)
	}

	return strconv.FormatInt(writer.Attrs().Generation, 10), nil
}

func (b *Backend) writeError(objectPath string, err error) error {
	if isPreconditionFailed(err) {
		return backend.ErrConflict
	}
	return fmt.Errorf("failed to write state to gs://%s/%s: %w", b.bucket, objectPath, err)
}

// conditions maps a precondition to GCS generation conditions. A nil result
// means the write is unconditional.
func conditions(cond backend.Precondition) (*storage.Conditions, error) {
	switch {
	case cond.IfAbsent:
		return &storage.Conditions{DoesNotExist: true}, nil
	case cond.IfVersion != "":
		gen, err := strconv.ParseInt(cond.IfVersion, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid gcs generation %q: %w", cond.IfVersion, err)
		}
		return &storage.Conditions{GenerationMatch: gen}, nil
	}
	return nil, nil
}

func isPreconditionFailed(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusPreconditionFailed
	}
	return false
}

func (b *Backend) Delete(ctx context.Context, statePath string) error {
	objectPath := b.fullPath(statePath)

	err := b.client.Bucket(b.bucket).Object(objectPath).Delete(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil
		}
		return fmt.Errorf("failed to delete state from gs://%s/%s: %w", b.bucket, objectPath, err)
	}
	return nil
}

func (b *Backend) List(ctx context.Context, prefix string) ([]string, error) {
	fullPrefix := b.fullPath(prefix)
	if strings.HasSuffix(prefix, "/") && !strings.HasSuffix(fullPrefix, "/") {
		fullPrefix += "/"
	}

	var paths []string
	it := b.client.Bucket(b.bucket).Objects(ctx, &storage.Query{Prefix: fullPrefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}

		relPath := attrs.Name
		if b.prefix != "" {
			relPath = strings.TrimPrefix(attrs.Name, b.prefix+"/")
		}
		if strings.HasSuffix(relPath, ".json") {
			paths = append(paths, relPath)
		}
	}
	return paths, nil
}

func (b *Backend) Exists(ctx context.Context, statePath string) (bool, error) {
	objectPath := b.fullPath(statePath)

	_, err := b.client.Bucket(b.bucket).Object(objectPath).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check existence: %w", err)
	}
	return true, nil
}

// Lock creates the lock object only if it does not exist. A stale lock is
// deleted and creation retried once.
func (b *Backend) Lock(ctx context.Context, statePath string, info backend.LockInfo) (backend.Lock, error) {
	lockPath := b.fullPath(statePath + ".lock")

	info.ID = uuid.New().String()
	info.Path = statePath
	info.Created = time.Now()

	lockData, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lock info: %w", err)
	}

	obj := b.client.Bucket(b.bucket).Object(lockPath)
	for attempt := 0; attempt < 2; attempt++ {
		writer := obj.If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
		writer.ContentType = "application/json"
		_, err = writer.Write(lockData)
		if closeErr := writer.Close(); err == nil {
			err = closeErr
		}
		if err == nil {
			return &gcsLock{backend: b, path: lockPath, info: info}, nil
		}
		if !isPreconditionFailed(err) {
			return nil, fmt.Errorf("failed to create lock: %w", err)
		}

		existing, readErr := b.readLock(ctx, lockPath)
		if readErr == nil && !existing.Stale(time.Now()) {
			return nil, &backend.LockError{Info: existing, Err: backend.ErrLocked}
		}
		if delErr := obj.Delete(ctx); delErr != nil && !errors.Is(delErr, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("failed to break stale lock: %w", delErr)
		}
	}

	return nil, &backend.LockError{Info: backend.LockInfo{Path: statePath}, Err: backend.ErrLocked}
}

func (b *Backend) readLock(ctx context.Context, lockPath string) (backend.LockInfo, error) {
	reader, err := b.client.Bucket(b.bucket).Object(lockPath).NewReader(ctx)
	if err != nil {
		return backend.LockInfo{}, err
	}
	defer reader.Close()

	var info backend.LockInfo
	if err := json.NewDecoder(reader).Decode(&info); err != nil {
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

// Close closes the GCS client.
func (b *Backend) Close() error {
	return b.client.Close()
}

// gcsLock implements the Lock interface for GCS.
type gcsLock struct {
	backend *Backend
	path    string
	info    backend.LockInfo
}

func (l *gcsLock) ID() string {
	return l.info.ID
}

func (l *gcsLock) Unlock(ctx context.Context) error {
	err := l.backend.client.Bucket(l.backend.bucket).Object(l.path).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

func (l *gcsLock) Info() backend.LockInfo {
	return l.info
}

var _ backend.Backend = (*Backend)(nil)
