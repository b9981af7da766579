// Package local implements a local filesystem state backend.
package local

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/davidthor/catalogctl/pkg/state/backend"
)

func init() {
	backend.Register("local", NewBackend)
}

// guardTimeout bounds how long a conditional write waits for another
// writer's guard file before treating it as abandoned.
const guardTimeout = 30 * time.Second

// Backend implements the state backend interface for local filesystem storage.
// Versions are content digests; conditional writes hold an exclusive guard
// file while comparing and renaming.
type Backend struct {
	basePath string
	mu       sync.Mutex
}

// NewBackend creates a new local backend.
func NewBackend(config map[string]string) (backend.Backend, error) {
	path := config["path"]
	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, ".catalogctl", "state")
	}

	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	return &Backend{basePath: path}, nil
}

func (b *Backend) Type() string {
	return "local"
}

func (b *Backend) Read(ctx context.Context, path string) (io.ReadCloser, string, error) {
	data, err := os.ReadFile(b.fullPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", backend.ErrNotFound
		}
		return nil, "", fmt.Errorf("failed to read %s: %w", b.fullPath(path), err)
	}
	return io.NopCloser(bytes.NewReader(data)), digest(data), nil
}

func (b *Backend) Write(ctx context.Context, path string, data io.Reader, cond backend.Precondition) (string, error) {
	content, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("failed to read data: %w", err)
	}

	fullPath := b.fullPath(path)
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	release, err := acquireGuard(ctx, fullPath+".wlock")
	if err != nil {
		return "", err
	}
	defer release()

	if err := checkPrecondition(fullPath, cond); err != nil {
		return "", err
	}

	// Write to temp file first, then rename for atomicity
	tempFile, err := os.CreateTemp(dir, ".catalogctl-state-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := tempFile.Name()

	_, err = tempFile.Write(content)
	if syncErr := tempFile.Sync(); syncErr != nil && err == nil {
		err = syncErr
	}
	if closeErr := tempFile.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("failed to write state: %w", err)
	}

	if err := os.Rename(tempPath, fullPath); err != nil {
		os.Remove(tempPath)
		return "", fmt.Errorf("failed to save state: %w", err)
	}

	return digest(content), nil
}

func checkPrecondition(fullPath string, cond backend.Precondition) error {
	if !cond.IfAbsent && cond.IfVersion == "" {
		return nil
	}
	current, err := os.ReadFile(fullPath)
	exists := err == nil
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read %s: %w", fullPath, err)
	}
	if cond.IfAbsent && exists {
		return backend.ErrConflict
	}
	if cond.IfVersion != "" && (!exists || digest(current) != cond.IfVersion) {
		return backend.ErrConflict
	}
	return nil
}

// acquireGuard creates path exclusively, waiting while another writer holds
// it. Guards older than guardTimeout are removed.
func acquireGuard(ctx context.Context, path string) (func(), error) {
	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			f.Close()
			return func() { os.Remove(path) }, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create write guard: %w", err)
		}
		if info, statErr := os.Stat(path); statErr == nil && time.Since(info.ModTime()) > guardTimeout {
			os.Remove(path)
			continue
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func (b *Backend) Delete(ctx context.Context, path string) error {
	fullPath := b.fullPath(path)

	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to delete %s: %w", fullPath, err)
	}
	return nil
}

func (b *Backend) List(ctx context.Context, prefix string) ([]string, error) {
	fullPrefix := b.fullPath(prefix)

	var paths []string
	err := filepath.Walk(fullPrefix, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".json" {
			relPath, _ := filepath.Rel(b.basePath, path)
			paths = append(paths, filepath.ToSlash(relPath))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", fullPrefix, err)
	}
	return paths, nil
}

func (b *Backend) Exists(ctx context.Context, path string) (bool, error) {
	fullPath := b.fullPath(path)

	_, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check %s: %w", fullPath, err)
	}
	return true, nil
}

// Lock creates a lock file exclusively. A stale lock file is replaced.
func (b *Backend) Lock(ctx context.Context, path string, info backend.LockInfo) (backend.Lock, error) {
	lockFilePath := b.fullPath(path + ".lock")
	if err := os.MkdirAll(filepath.Dir(lockFilePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	info.ID = uuid.New().String()
	info.Path = path
	info.Created = time.Now()

	lockData, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lock info: %w", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(lockFilePath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			_, werr := f.Write(lockData)
			if cerr := f.Close(); cerr != nil && werr == nil {
				werr = cerr
			}
			if werr != nil {
				os.Remove(lockFilePath)
				return nil, fmt.Errorf("failed to write lock file: %w", werr)
			}
			return &localLock{filePath: lockFilePath, info: info}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create lock file: %w", err)
		}

		existing, readErr := readLockFile(lockFilePath)
		if readErr == nil && !existing.Stale(time.Now()) {
			return nil, &backend.LockError{Info: existing, Err: backend.ErrLocked}
		}
		// Stale or unreadable lock: break it and try once more
		os.Remove(lockFilePath)
	}

	return nil, &backend.LockError{Info: backend.LockInfo{Path: path}, Err: backend.ErrLocked}
}

func readLockFile(path string) (backend.LockInfo, error) {
	var info backend.LockInfo
	data, err := os.ReadFile(path)
	if err != nil {
		return info, err
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return info, err
	}
	if info.ID == "" {
		return info, errors.New("lock file has no id")
	}
	return info, nil
}

func (b *Backend) fullPath(path string) string {
	return filepath.Join(b.basePath, filepath.FromSlash(path))
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// localLock implements the Lock interface for local filesystem.
type localLock struct {
	filePath string
	info     backend.LockInfo
}

func (l *localLock) ID() string {
	return l.info.ID
}

func (l *localLock) Unlock(ctx context.Context) error {
	// Only remove the file if it is still ours
	if current, err := readLockFile(l.filePath); err == nil && current.ID != l.info.ID {
		return nil
	}
	if err := os.Remove(l.filePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

func (l *localLock) Info() backend.LockInfo {
	return l.info
}
