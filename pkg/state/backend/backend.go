// Package backend defines the storage interface behind the state store and
// a registry of named implementations.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned when a state object does not exist.
	ErrNotFound = errors.New("state not found")

	// ErrLocked is returned when a lock is held by someone else.
	ErrLocked = errors.New("state is locked")

	// ErrConflict is returned when a conditional write fails because the
	// object changed since it was read.
	ErrConflict = errors.New("state was modified concurrently")
)

// StaleLockAge is how old a lock must be before it may be broken.
const StaleLockAge = time.Hour

// Precondition guards a write. The zero value writes unconditionally.
type Precondition struct {
	// IfVersion requires the stored object to still carry this version.
	IfVersion string

	// IfAbsent requires that no object exists yet.
	IfAbsent bool
}

// IfVersion builds a precondition from a version returned by Read. An empty
// version means the object was absent when read.
func IfVersion(version string) Precondition {
	if version == "" {
		return Precondition{IfAbsent: true}
	}
	return Precondition{IfVersion: version}
}

// Backend stores opaque state objects by path. Every object carries a
// version token (ETag, generation or content digest) that changes on each
// write and can be used for compare-and-set.
type Backend interface {
	// Type returns the registered backend name.
	Type() string

	// Read returns the object content and its version token.
	Read(ctx context.Context, path string) (io.ReadCloser, string, error)

	// Write stores data when the precondition holds and returns the new
	// version token. A failed precondition returns ErrConflict.
	Write(ctx context.Context, path string, data io.Reader, cond Precondition) (string, error)

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, path string) error

	// List returns object paths under prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Exists reports whether an object exists.
	Exists(ctx context.Context, path string) (bool, error)

	// Lock acquires an advisory lock on path.
	Lock(ctx context.Context, path string, info LockInfo) (Lock, error)
}

// Lock is a held advisory lock.
type Lock interface {
	ID() string
	Unlock(ctx context.Context) error
	Info() LockInfo
}

// LockInfo describes a lock holder.
type LockInfo struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Who       string    `json:"who"`
	Operation string    `json:"operation"`
	Created   time.Time `json:"created"`
	Expires   time.Time `json:"expires,omitempty"`
}

// Stale reports whether the lock is old enough to be broken.
func (i LockInfo) Stale(now time.Time) bool {
	if !i.Expires.IsZero() {
		return now.After(i.Expires)
	}
	return now.Sub(i.Created) >= StaleLockAge
}

// LockError reports a lock held by someone else.
type LockError struct {
	Info LockInfo
	Err  error
}

func (e *LockError) Error() string {
	return e.Err.Error()
}

func (e *LockError) Unwrap() error {
	return e.Err
}

// Config selects and configures a backend.
type Config struct {
	Type   string
	Config map[string]string
}

// Factory creates a backend from its configuration.
type Factory func(config map[string]string) (Backend, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a backend available by name.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Create instantiates the configured backend.
func Create(config Config) (Backend, error) {
	registryMu.RLock()
	factory, ok := registry[config.Type]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown state backend %q (available: %v)", config.Type, Types())
	}
	if config.Config == nil {
		config.Config = map[string]string{}
	}
	return factory(config.Config)
}

// Types lists registered backend names.
func Types() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
