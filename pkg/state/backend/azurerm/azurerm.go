// Package azurerm implements an Azure Blob Storage state backend.
package azurerm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/google/uuid"

	"github.com/davidthor/catalogctl/pkg/state/backend"
)

func init() {
	backend.Register("azurerm", NewBackend)
}

// Backend implements the state backend interface for Azure Blob Storage.
// Versions are blob ETags; conditional writes use If-Match and If-None-Match.
type Backend struct {
	client        *azblob.Client
	containerName string
	prefix        string
}

// NewBackend creates a new Azure Blob Storage backend.
func NewBackend(cfg map[string]string) (backend.Backend, error) {
	storageAccount, ok := cfg["storage_account_name"]
	if !ok || storageAccount == "" {
		return nil, fmt.Errorf("azurerm backend requires 'storage_account_name' configuration")
	}

	containerName, ok := cfg["container_name"]
	if !ok || containerName == "" {
		return nil, fmt.Errorf("azurerm backend requires 'container_name' configuration")
	}

	client, err := newClient(storageAccount, cfg)
	if err != nil {
		return nil, err
	}

	return &Backend{
		client:        client,
		containerName: containerName,
		prefix:        cfg["key"],
	}, nil
}

func newClient(storageAccount string, cfg map[string]string) (*azblob.Client, error) {
	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", storageAccount)
	// Azurite
	if endpoint := cfg["endpoint"]; endpoint != "" {
		serviceURL = endpoint
	}

	switch {
	case cfg["access_key"] != "":
		cred, err := azblob.NewSharedKeyCredential(storageAccount, cfg["access_key"])
		if err != nil {
			return nil, fmt.Errorf("failed to create shared key credential: %w", err)
		}
		client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure client with shared key: %w", err)
		}
		return client, nil

	case cfg["sas_token"] != "":
		sep := "?"
		if strings.Contains(serviceURL, "?") {
			sep = "&"
		}
		client, err := azblob.NewClientWithNoCredential(serviceURL+sep+strings.TrimPrefix(cfg["sas_token"], "?"), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure client with SAS token: %w", err)
		}
		return client, nil

	case cfg["connection_string"] != "":
		client, err := azblob.NewClientFromConnectionString(cfg["connection_string"], nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure client from connection string: %w", err)
		}
		return client, nil
	}

	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create default Azure credential: %w", err)
	}
	client, err := azblob.NewClient(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure client: %w", err)
	}
	return client, nil
}

func (b *Backend) Type() string {
	return "azurerm"
}

func (b *Backend) Read(ctx context.Context, statePath string) (io.ReadCloser, string, error) {
	blobPath := b.fullPath(statePath)

	resp, err := b.client.DownloadStream(ctx, b.containerName, blobPath, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, "", backend.ErrNotFound
		}
		return nil, "", fmt.Errorf("failed to read state from azure://%s/%s: %w", b.containerName, blobPath, err)
	}

	return resp.Body, etagString(resp.ETag), nil
}

func (b *Backend) Write(ctx context.Context, statePath string, data io.Reader, cond backend.Precondition) (string, error) {
	blobPath := b.fullPath(statePath)

	content, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("failed to read data: %w", err)
	}

	resp, err := b.client.UploadBuffer(ctx, b.containerName, blobPath, content, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{
			BlobContentType: toPtr("application/json"),
		},
		AccessConditions: accessConditions(cond),
	})
	if err != nil {
		if isConditionFailed(err) {
			return "", backend.ErrConflict
		}
		return "", fmt.Errorf("failed to write state to azure://%s/%s: %w", b.containerName, blobPath, err)
	}

	return etagString(resp.ETag), nil
}

// accessConditions maps a precondition to blob access conditions. A nil
// result means the write is unconditional.
func accessConditions(cond backend.Precondition) *blob.AccessConditions {
	switch {
	case cond.IfAbsent:
		return &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{IfNoneMatch: toPtr(azcore.ETagAny)},
		}
	case cond.IfVersion != "":
		return &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{IfMatch: toPtr(azcore.ETag(cond.IfVersion))},
		}
	}
	return nil
}

func (b *Backend) Delete(ctx context.Context, statePath string) error {
	blobPath := b.fullPath(statePath)

	_, err := b.client.DeleteBlob(ctx, b.containerName, blobPath, nil)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to delete state from azure://%s/%s: %w", b.containerName, blobPath, err)
	}
	return nil
}

func (b *Backend) List(ctx context.Context, prefix string) ([]string, error) {
	fullPrefix := b.fullPath(prefix)
	if strings.HasSuffix(prefix, "/") && !strings.HasSuffix(fullPrefix, "/") {
		fullPrefix += "/"
	}

	var paths []string
	pager := b.client.NewListBlobsFlatPager(b.containerName, &container.ListBlobsFlatOptions{
		Prefix: &fullPrefix,
	})

	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list blobs: %w", err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name == nil {
				continue
			}
			rel := *item.Name
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
	blobPath := b.fullPath(statePath)

	_, err := b.client.ServiceClient().NewContainerClient(b.containerName).NewBlobClient(blobPath).GetProperties(ctx, nil)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check existence: %w", err)
	}
	return true, nil
}

// Lock uploads the lock blob with If-None-Match so only one writer wins. A
// stale lock is deleted and creation retried once.
func (b *Backend) Lock(ctx context.Context, statePath string, info backend.LockInfo) (backend.Lock, error) {
	lockPath := b.fullPath(statePath + ".lock")

	info.ID = uuid.New().String()
	info.Path = statePath
	info.Created = time.Now()

	lockData, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lock info: %w", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		_, err = b.client.UploadBuffer(ctx, b.containerName, lockPath, lockData, &azblob.UploadBufferOptions{
			HTTPHeaders: &blob.HTTPHeaders{
				BlobContentType: toPtr("application/json"),
			},
			AccessConditions: accessConditions(backend.Precondition{IfAbsent: true}),
		})
		if err == nil {
			return &azureLock{backend: b, path: lockPath, info: info}, nil
		}
		if !isConditionFailed(err) {
			return nil, fmt.Errorf("failed to create lock: %w", err)
		}

		existing, readErr := b.readLock(ctx, lockPath)
		if readErr == nil && !existing.Stale(time.Now()) {
			return nil, &backend.LockError{Info: existing, Err: backend.ErrLocked}
		}
		if _, delErr := b.client.DeleteBlob(ctx, b.containerName, lockPath, nil); delErr != nil && !isNotFound(delErr) {
			return nil, fmt.Errorf("failed to break stale lock: %w", delErr)
		}
	}

	return nil, &backend.LockError{Info: backend.LockInfo{Path: statePath}, Err: backend.ErrLocked}
}

func (b *Backend) readLock(ctx context.Context, lockPath string) (backend.LockInfo, error) {
	resp, err := b.client.DownloadStream(ctx, b.containerName, lockPath, nil)
	if err != nil {
		return backend.LockInfo{}, err
	}
	defer resp.Body.Close()

	var info backend.LockInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
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
	if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound) {
		return true
	}
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}

func isConditionFailed(err error) bool {
	if bloberror.HasCode(err, bloberror.ConditionNotMet, bloberror.BlobAlreadyExists) {
		return true
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == http.StatusPreconditionFailed || respErr.StatusCode == http.StatusConflict
	}
	return false
}

func etagString(etag *azcore.ETag) string {
	if etag == nil {
		return ""
	}
	return string(*etag)
}

// azureLock implements the Lock interface for Azure Blob Storage.
type azureLock struct {
	backend *Backend
	path    string
	info    backend.LockInfo
}

func (l *azureLock) ID() string {
	return l.info.ID
}

func (l *azureLock) Unlock(ctx context.Context) error {
	_, err := l.backend.client.DeleteBlob(ctx, l.backend.containerName, l.path, nil)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

func (l *azureLock) Info() backend.LockInfo {
	return l.info
}

var _ backend.Backend = (*Backend)(nil)

func toPtr[T any](v T) *T {
	return &v
}
