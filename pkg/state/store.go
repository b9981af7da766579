// Package state provides the per-environment product record store.
package state

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/davidthor/catalogctl/pkg/errors"
	"github.com/davidthor/catalogctl/pkg/state/backend"
	"github.com/davidthor/catalogctl/pkg/state/types"
)

// Store reads and atomically updates product records. Each environment is
// one document; environments never share state.
type Store interface {
	// Load returns the whole environment document. A missing document
	// yields an empty state.
	Load(ctx context.Context, env string) (*types.EnvironmentState, error)

	// Get returns one record, or a NOT_FOUND error when absent.
	Get(ctx context.Context, env, product string) (*types.ProductRecord, error)

	// CompareAndSet stores rec when the current record revision equals
	// expectedRevision. Revision 0 means the record must not exist yet.
	CompareAndSet(ctx context.Context, env, product string, expectedRevision uint64, rec *types.ProductRecord) error

	// Update applies fn to a copy of the current record (or a new one) and
	// commits the result atomically. An error from fn leaves the stored
	// record untouched. fn may run more than once when the document is
	// changed concurrently.
	Update(ctx context.Context, env, product string, fn func(*types.ProductRecord) error) (*types.ProductRecord, error)

	// Lock takes the advisory lock for an environment.
	Lock(ctx context.Context, env, operation string) (backend.Lock, error)

	// Environments lists environments that have a state document.
	Environments(ctx context.Context) ([]string, error)

	// Backend returns the storage backend.
	Backend() backend.Backend
}

// Option configures a store.
type Option func(*store)

// WithClock overrides the time source used for UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *store) { s.now = now }
}

// WithMaxRetries bounds how often a write is retried after a concurrent
// modification.
func WithMaxRetries(n uint64) Option {
	return func(s *store) { s.maxRetries = n }
}

// WithRetryHook sets a callback run each time a write is retried after a
// concurrent modification.
func WithRetryHook(fn func()) Option {
	return func(s *store) { s.onRetry = fn }
}

type store struct {
	backend    backend.Backend
	now        func() time.Time
	maxRetries uint64
	onRetry    func()

	mu    sync.Mutex
	envMu map[string]*sync.Mutex
}

// NewStore creates a store over the given backend.
func NewStore(b backend.Backend, opts ...Option) Store {
	s := &store{
		backend:    b,
		now:        time.Now,
		maxRetries: 5,
		envMu:      make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewStoreFromConfig creates a store from backend configuration.
func NewStoreFromConfig(config backend.Config, opts ...Option) (Store, error) {
	b, err := backend.Create(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create backend: %w", err)
	}
	return NewStore(b, opts...), nil
}

func (s *store) Backend() backend.Backend {
	return s.backend
}

// envLock serializes in-process writers of one environment.
func (s *store) envLock(env string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.envMu[env]
	if !ok {
		m = &sync.Mutex{}
		s.envMu[env] = m
	}
	return m
}

func (s *store) Load(ctx context.Context, env string) (*types.EnvironmentState, error) {
	doc, _, err := s.read(ctx, env)
	return doc, err
}

func (s *store) Get(ctx context.Context, env, product string) (*types.ProductRecord, error) {
	doc, _, err := s.read(ctx, env)
	if err != nil {
		return nil, err
	}
	rec := doc.Product(product)
	if rec == nil {
		return nil, errors.NotFoundError("product record", env+"/"+product)
	}
	return rec, nil
}

func (s *store) CompareAndSet(ctx context.Context, env, product string, expectedRevision uint64, rec *types.ProductRecord) error {
	_, err := s.commit(ctx, env, product, func(current *types.ProductRecord, exists bool) (*types.ProductRecord, error) {
		var actual uint64
		if exists {
			actual = current.Revision
		}
		if actual != expectedRevision {
			return nil, errors.ConflictError(env+"/"+product, expectedRevision, actual)
		}
		return rec.Clone(), nil
	})
	return err
}

func (s *store) Update(ctx context.Context, env, product string, fn func(*types.ProductRecord) error) (*types.ProductRecord, error) {
	return s.commit(ctx, env, product, func(current *types.ProductRecord, exists bool) (*types.ProductRecord, error) {
		next := current.Clone()
		if !exists {
			next = &types.ProductRecord{Product: product}
		}
		if err := fn(next); err != nil {
			return nil, err
		}
		return next, nil
	})
}

type mutation func(current *types.ProductRecord, exists bool) (*types.ProductRecord, error)

// commit runs a read-modify-write of one record under the environment
// mutex. Conditional write failures caused by other processes re-read the
// document and re-apply the mutation.
func (s *store) commit(ctx context.Context, env, product string, mutate mutation) (*types.ProductRecord, error) {
	m := s.envLock(env)
	m.Lock()
	defer m.Unlock()

	logger := zerolog.Ctx(ctx)
	var committed *types.ProductRecord

	op := func() error {
		doc, version, err := s.read(ctx, env)
		if err != nil {
			return backoff.Permanent(err)
		}

		current, exists := doc.Products[product]
		next, err := mutate(current, exists)
		if err != nil {
			return backoff.Permanent(err)
		}

		next.Product = product
		next.Revision = 1
		if exists {
			next.Revision = current.Revision + 1
		}
		doc.Products[product] = next
		doc.Serial++
		doc.UpdatedAt = s.now().UTC()

		if err := s.write(ctx, env, doc, version); err != nil {
			if stderrors.Is(err, backend.ErrConflict) {
				logger.Debug().Str("environment", env).Str("product", product).Msg("state changed concurrently, retrying")
				if s.onRetry != nil {
					s.onRetry()
				}
				return err
			}
			return backoff.Permanent(err)
		}
		committed = next.Clone()
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxInterval = time.Second
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, s.maxRetries), ctx))
	if err != nil {
		if stderrors.Is(err, backend.ErrConflict) {
			return nil, errors.Wrap(errors.ErrCodeConflict, fmt.Sprintf("state for %s changed concurrently", env), err)
		}
		return nil, err
	}
	return committed, nil
}

func (s *store) Lock(ctx context.Context, env, operation string) (backend.Lock, error) {
	info := backend.LockInfo{
		Who:       lockOwner(),
		Operation: operation,
	}
	lock, err := s.backend.Lock(ctx, environmentDir(env), info)
	if err != nil {
		var lockErr *backend.LockError
		if stderrors.As(err, &lockErr) {
			return nil, errors.StateLocked(errors.LockInfo{
				ID:        lockErr.Info.ID,
				Path:      lockErr.Info.Path,
				Who:       lockErr.Info.Who,
				Operation: lockErr.Info.Operation,
				Created:   lockErr.Info.Created,
			})
		}
		return nil, errors.BackendError(s.backend.Type(), "lock", err)
	}
	return lock, nil
}

func (s *store) Environments(ctx context.Context) ([]string, error) {
	paths, err := s.backend.List(ctx, "environments/")
	if err != nil {
		return nil, errors.BackendError(s.backend.Type(), "list", err)
	}

	// environments/<env>/deploy.state.json
	var names []string
	for _, p := range paths {
		parts := splitPath(p)
		if len(parts) == 3 && parts[2] == stateFile {
			names = append(names, parts[1])
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *store) read(ctx context.Context, env string) (*types.EnvironmentState, string, error) {
	reader, version, err := s.backend.Read(ctx, statePath(env))
	if err != nil {
		if stderrors.Is(err, backend.ErrNotFound) {
			return types.NewEnvironmentState(env), "", nil
		}
		return nil, "", errors.BackendError(s.backend.Type(), "read", err)
	}
	defer reader.Close()

	var doc types.EnvironmentState
	if err := json.NewDecoder(reader).Decode(&doc); err != nil {
		return nil, "", errors.ParseError(statePath(env), err)
	}
	if doc.Products == nil {
		doc.Products = make(map[string]*types.ProductRecord)
	}
	if doc.SchemaVersion == "" {
		doc.SchemaVersion = types.SchemaVersion
	}
	if doc.Environment == "" {
		doc.Environment = env
	}
	return &doc, version, nil
}

func (s *store) write(ctx context.Context, env string, doc *types.EnvironmentState, version string) error {
	content, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}

	_, err = s.backend.Write(ctx, statePath(env), bytes.NewReader(content), backend.IfVersion(version))
	if err != nil {
		if stderrors.Is(err, backend.ErrConflict) {
			return err
		}
		return errors.BackendError(s.backend.Type(), "write", err)
	}
	return nil
}

const stateFile = "deploy.state.json"

func environmentDir(env string) string {
	return path.Join("environments", env)
}

func statePath(env string) string {
	return path.Join("environments", env, stateFile)
}

func splitPath(p string) []string {
	var parts []string
	for p != "" && p != "." && p != "/" {
		dir, file := path.Split(p)
		if file != "" {
			parts = append([]string{file}, parts...)
		}
		p = path.Clean(dir)
	}
	return parts
}

func lockOwner() string {
	user := os.Getenv("USER")
	if user == "" {
		user = "unknown"
	}
	host, err := os.Hostname()
	if err != nil {
		return user
	}
	return user + "@" + host
}
