// Package memory implements an in-process state backend, used by tests and
// dry runs.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/davidthor/catalogctl/pkg/state/backend"
)

func init() {
	backend.Register("memory", func(map[string]string) (backend.Backend, error) {
		return New(), nil
	})
}

type object struct {
	data    []byte
	version int
}

// Backend keeps state objects in a map.
type Backend struct {
	mu      sync.Mutex
	objects map[string]object
	locks   map[string]backend.LockInfo
	writes  int
}

// New creates an empty in-memory backend.
func New() *Backend {
	return &Backend{
		objects: make(map[string]object),
		locks:   make(map[string]backend.LockInfo),
	}
}

func (b *Backend) Type() string {
	return "memory"
}

func (b *Backend) Read(ctx context.Context, path string) (io.ReadCloser, string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	obj, ok := b.objects[path]
	if !ok {
		return nil, "", backend.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), strconv.Itoa(obj.version), nil
}

func (b *Backend) Write(ctx context.Context, path string, data io.Reader, cond backend.Precondition) (string, error) {
	content, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("failed to read data: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	current, exists := b.objects[path]
	if cond.IfAbsent && exists {
		return "", backend.ErrConflict
	}
	if cond.IfVersion != "" && (!exists || strconv.Itoa(current.version) != cond.IfVersion) {
		return "", backend.ErrConflict
	}

	b.writes++
	next := object{data: content, version: current.version + 1}
	b.objects[path] = next
	return strconv.Itoa(next.version), nil
}

func (b *Backend) Delete(ctx context.Context, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, path)
	return nil
}

func (b *Backend) List(ctx context.Context, prefix string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var paths []string
	for p := range b.objects {
		if strings.HasPrefix(p, prefix) {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func (b *Backend) Exists(ctx context.Context, path string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[path]
	return ok, nil
}

func (b *Backend) Lock(ctx context.Context, path string, info backend.LockInfo) (backend.Lock, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if existing, ok := b.locks[path]; ok && !existing.Stale(time.Now()) {
		return nil, &backend.LockError{Info: existing, Err: backend.ErrLocked}
	}

	info.ID = uuid.New().String()
	info.Path = path
	info.Created = time.Now()
	b.locks[path] = info
	return &memoryLock{backend: b, info: info}, nil
}

// Writes returns how many successful writes the backend has accepted.
func (b *Backend) Writes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.writes
}

// Snapshot returns a copy of an object's content, or nil when absent.
func (b *Backend) Snapshot(path string) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	obj, ok := b.objects[path]
	if !ok {
		return nil
	}
	return append([]byte(nil), obj.data...)
}

type memoryLock struct {
	backend *Backend
	info    backend.LockInfo
}

func (l *memoryLock) ID() string {
	return l.info.ID
}

func (l *memoryLock) Unlock(ctx context.Context) error {
	l.backend.mu.Lock()
	defer l.backend.mu.Unlock()
	if held, ok := l.backend.locks[l.info.Path]; ok && held.ID == l.info.ID {
		delete(l.backend.locks, l.info.Path)
	}
	return nil
}

func (l *memoryLock) Info() backend.LockInfo {
	return l.info
}
