// Package provisioner defines the provisioning backend contract used by the
// publish, deploy and terminate pipelines, plus a registry of named
// implementations.
package provisioner

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/davidthor/catalogctl/pkg/schema/catalog"
)

// ManagedBy is the value of the ManagedBy tag on provisioned instances.
const ManagedBy = "catalogctl"

// PublishRequest registers a new version of a product.
type PublishRequest struct {
	Environment string
	Product     *catalog.Product

	// ProductID is the backend's identifier for the product.
	ProductID string
	Version   string

	// TemplatePath is the product's template file.
	TemplatePath string

	// ArchivePath is an optional packaged copy of the product directory.
	ArchivePath string

	Description string
}

// PublishResult describes a registered version.
type PublishResult struct {
	// VersionID is the backend's identifier for the version.
	VersionID string
}

// DeployRequest creates or updates a provisioned instance.
type DeployRequest struct {
	Environment string
	Product     *catalog.Product
	ProductID   string

	// InstanceID is empty on first deploy.
	InstanceID   string
	InstanceName string

	Version    string
	VersionID  string
	Parameters map[string]string
	Tags       map[string]string
}

// DeployResult carries the instance and its outputs.
type DeployResult struct {
	InstanceID string
	Outputs    map[string]string
}

// TerminateRequest destroys a provisioned instance.
type TerminateRequest struct {
	Environment string
	Product     *catalog.Product
	InstanceID  string
}

// Provisioner is the external backend that stores versions and creates,
// updates and destroys instances. All calls block until the backend
// confirms completion or fails.
type Provisioner interface {
	Name() string
	PublishVersion(ctx context.Context, req PublishRequest) (*PublishResult, error)
	DeployInstance(ctx context.Context, req DeployRequest) (*DeployResult, error)
	UpdateInstance(ctx context.Context, req DeployRequest) (*DeployResult, error)
	TerminateInstance(ctx context.Context, req TerminateRequest) error
}

// Checker is implemented by provisioners that can verify credentials and
// configuration before a run.
type Checker interface {
	Check(ctx context.Context) error
}

// Options are catalog settings relevant to provisioners.
type Options struct {
	CallTimeout  time.Duration
	PollInterval time.Duration
}

// Factory creates a provisioner for an environment.
type Factory func(env *catalog.Environment, opts Options) (Provisioner, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a provisioner available by name.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// New creates the provisioner configured for env.
func New(env *catalog.Environment, opts Options) (Provisioner, error) {
	name := env.Provisioner
	if name == "" {
		name = catalog.DefaultProvisioner
	}
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown provisioner %q (available: %v)", name, Names())
	}
	return factory(env, opts)
}

// Names lists registered provisioners.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// InstanceName is the provisioned instance name for a product.
func InstanceName(env, product string) string {
	return env + "-" + product
}

// Tags are applied to every provisioned instance.
func Tags(env string) map[string]string {
	return map[string]string{
		"Environment": env,
		"ManagedBy":   ManagedBy,
	}
}

// transientError marks a failure worth retrying.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err was marked retryable.
func IsTransient(err error) bool {
	var t *transientError
	return stderrors.As(err, &t)
}
