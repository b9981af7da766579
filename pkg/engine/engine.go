// Package engine provides the core orchestration for catalog publish, deploy
// and terminate runs.
package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/davidthor/catalogctl/pkg/detector"
	"github.com/davidthor/catalogctl/pkg/engine/executor"
	"github.com/davidthor/catalogctl/pkg/engine/planner"
	"github.com/davidthor/catalogctl/pkg/errors"
	"github.com/davidthor/catalogctl/pkg/fingerprint"
	"github.com/davidthor/catalogctl/pkg/graph"
	"github.com/davidthor/catalogctl/pkg/metrics"
	"github.com/davidthor/catalogctl/pkg/oci"
	"github.com/davidthor/catalogctl/pkg/provisioner"
	"github.com/davidthor/catalogctl/pkg/resolver"
	"github.com/davidthor/catalogctl/pkg/schema/catalog"
	"github.com/davidthor/catalogctl/pkg/state"
	"github.com/davidthor/catalogctl/pkg/state/types"
	"github.com/davidthor/catalogctl/pkg/version"
)

// Outcome and Status are re-exported from the executor.
type (
	Outcome = executor.Outcome
	Status  = executor.Status
)

const (
	StatusSucceeded        = executor.StatusSucceeded
	StatusSkippedUnchanged = executor.StatusSkippedUnchanged
	StatusSkipped          = executor.StatusSkipped
	StatusPlanned          = executor.StatusPlanned
	StatusBlocked          = executor.StatusBlocked
	StatusFailed           = executor.StatusFailed
)

// Mirror pushes packaged product versions to a registry.
type Mirror interface {
	Push(ctx context.Context, artifact *oci.Artifact) (string, error)
}

// Config wires an engine.
type Config struct {
	Catalog     *catalog.Catalog
	Graph       *graph.Graph
	Store       state.Store
	Provisioner provisioner.Provisioner

	// Fingerprinter defaults to the catalog's configured strategy.
	Fingerprinter fingerprint.Fingerprinter

	// Mirror is used when settings.artifact_registry is set.
	Mirror Mirror

	Metrics *metrics.Metrics

	// Now defaults to time.Now.
	Now func() time.Time
}

// Engine orchestrates runs for one catalog.
type Engine struct {
	catalog       *catalog.Catalog
	graph         *graph.Graph
	store         state.Store
	provisioner   provisioner.Provisioner
	fingerprinter fingerprint.Fingerprinter
	resolver      resolver.Resolver
	planner       *planner.Planner
	versions      *version.Generator
	mirror        Mirror
	metrics       *metrics.Metrics
	now           func() time.Time
}

// New creates an engine. The graph is built from the catalog when not
// given.
func New(cfg Config) (*Engine, error) {
	if cfg.Catalog == nil || cfg.Store == nil {
		return nil, fmt.Errorf("engine requires a catalog and a state store")
	}

	g := cfg.Graph
	if g == nil {
		var err error
		if g, err = graph.Build(cfg.Catalog); err != nil {
			return nil, err
		}
	}

	fp := cfg.Fingerprinter
	if fp == nil {
		var err error
		fp, err = fingerprint.New(cfg.Catalog.Settings.Fingerprint, cfg.Catalog.Root)
		if err != nil {
			return nil, err
		}
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	versions := version.NewGenerator(cfg.Catalog.Settings.VersionFormat)
	versions.Now = now

	return &Engine{
		catalog:       cfg.Catalog,
		graph:         g,
		store:         cfg.Store,
		provisioner:   cfg.Provisioner,
		fingerprinter: fp,
		resolver: resolver.NewResolver(resolver.Options{
			State:                cfg.Store,
			EnvironmentParameter: cfg.Catalog.Settings.EnvironmentParameter,
		}),
		planner:  planner.NewPlanner(cfg.Catalog, g),
		versions: versions,
		mirror:   cfg.Mirror,
		metrics:  cfg.Metrics,
		now:      now,
	}, nil
}

// Graph returns the dependency graph.
func (e *Engine) Graph() *graph.Graph {
	return e.graph
}

// Options configures a run.
type Options struct {
	// Environment name
	Environment string

	// Products narrows the run to these products and their dependents.
	Products []string

	// Force processes the selection regardless of change detection.
	Force bool

	// DryRun only reports what would happen
	DryRun bool

	// NoCommit makes publish fail on uncommitted changes instead of
	// committing them.
	NoCommit bool

	// Parallelism for independent branches
	Parallelism int

	// OnOutcome is called as each product finishes.
	OnOutcome func(Outcome)
}

// Report contains the outcome of every selected product.
type Report struct {
	Operation   planner.Operation
	Environment string
	DryRun      bool
	Outcomes    []Outcome
	Duration    time.Duration
}

// Succeeded reports whether no product failed or was blocked.
func (r *Report) Succeeded() bool {
	return r.Count(StatusFailed) == 0 && r.Count(StatusBlocked) == 0
}

// Count returns the number of outcomes with status.
func (r *Report) Count(status Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

// Outcome returns the outcome of a product.
func (r *Report) Outcome(product string) (Outcome, bool) {
	for _, o := range r.Outcomes {
		if o.Product == product {
			return o, true
		}
	}
	return Outcome{}, false
}

// Run executes an operation.
func (e *Engine) Run(ctx context.Context, op planner.Operation, opts Options) (*Report, error) {
	switch op {
	case planner.OperationPublish:
		return e.Publish(ctx, opts)
	case planner.OperationDeploy:
		return e.Deploy(ctx, opts)
	case planner.OperationTerminate:
		return e.Terminate(ctx, opts)
	}
	return nil, fmt.Errorf("unknown operation %q", op)
}

// Plan computes what a run would do without touching the backend.
func (e *Engine) Plan(ctx context.Context, op planner.Operation, opts Options) (*planner.Plan, error) {
	env, err := e.catalog.Environment(opts.Environment)
	if err != nil {
		return nil, err
	}
	doc, err := e.store.Load(ctx, env.Name)
	if err != nil {
		return nil, err
	}

	switch op {
	case planner.OperationPublish:
		cs, err := e.detector().Classify(ctx, env.Name, detector.Options{Subset: opts.Products, Force: opts.Force})
		if err != nil {
			return nil, err
		}
		return e.planner.PlanPublish(cs, doc), nil
	case planner.OperationDeploy:
		cs, err := e.detector().ClassifyDeploy(ctx, env.Name, detector.Options{Subset: opts.Products, Force: opts.Force})
		if err != nil {
			return nil, err
		}
		return e.planner.PlanDeploy(cs, doc), nil
	case planner.OperationTerminate:
		order, err := e.terminateOrder(opts.Products)
		if err != nil {
			return nil, err
		}
		return e.planner.PlanTerminate(env.Name, order, doc), nil
	}
	return nil, fmt.Errorf("unknown operation %q", op)
}

func (e *Engine) detector() *detector.Detector {
	return &detector.Detector{
		Catalog:       e.catalog,
		Graph:         e.graph,
		State:         e.store,
		Fingerprinter: e.fingerprinter,
	}
}

// execute runs stage over order with locking, logging and metrics.
func (e *Engine) execute(ctx context.Context, op planner.Operation, env string, order []string, opts Options, stage executor.Stage) (*Report, error) {
	start := e.now()
	logger := zerolog.Ctx(ctx).With().Str("environment", env).Str("operation", string(op)).Logger()
	ctx = logger.WithContext(ctx)

	if !opts.DryRun && len(order) > 0 {
		if e.provisioner == nil {
			return nil, fmt.Errorf("no provisioner configured for environment %q", env)
		}
		if checker, ok := e.provisioner.(provisioner.Checker); ok {
			if err := checker.Check(ctx); err != nil {
				return nil, err
			}
		}

		lock, err := e.store.Lock(ctx, env, string(op))
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := lock.Unlock(context.WithoutCancel(ctx)); err != nil {
				logger.Warn().Err(err).Msg("failed to release state lock")
			}
		}()
	}

	parallelism := opts.Parallelism
	if parallelism == 0 {
		parallelism = e.catalog.Settings.Parallelism
	}
	exec := executor.NewExecutor(e.graph, executor.Options{
		Parallelism: parallelism,
		Reverse:     op == planner.OperationTerminate,
		OnOutcome: func(o Outcome) {
			e.metrics.RecordOutcome(string(op), string(o.Status))
			event := logger.Info()
			if o.Status == StatusFailed {
				event = logger.Error().Err(o.Err)
			}
			event.Str("product", o.Product).Str("status", string(o.Status)).Str("version", o.Version).Msg(o.Reason)
			if opts.OnOutcome != nil {
				opts.OnOutcome(o)
			}
		},
	})

	outcomes, err := exec.Execute(ctx, order, stage)
	if err != nil {
		return nil, err
	}

	report := &Report{
		Operation:   op,
		Environment: env,
		DryRun:      opts.DryRun,
		Outcomes:    outcomes,
		Duration:    e.now().Sub(start),
	}
	if !opts.DryRun {
		e.metrics.ObserveRun(string(op), report.Duration)
	}
	return report, nil
}

// call runs a provisioner call. The call is detached from run cancellation
// so an in-flight backend operation completes or times out on its own.
// Transient failures are retried.
func (e *Engine) call(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	timeout := e.catalog.Settings.CallTimeout
	if timeout <= 0 {
		timeout = catalog.DefaultCallTimeout
	}
	logger := zerolog.Ctx(ctx)

	attempt := func() error {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()

		start := time.Now()
		err := fn(callCtx)
		e.metrics.ObserveBackendCall(operation, time.Since(start))
		if err == nil {
			return nil
		}
		if stderrors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return backoff.Permanent(errors.Wrap(errors.ErrCodeTimeout,
				fmt.Sprintf("%s did not complete within %s", operation, timeout), err))
		}
		if provisioner.IsTransient(err) {
			logger.Warn().Err(err).Str("call", operation).Msg("transient backend failure, retrying")
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 2 * time.Second
	policy.MaxInterval = 30 * time.Second
	retries := e.catalog.Settings.Retries
	if retries < 0 {
		retries = 0
	}
	return backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(retries)), ctx))
}

// commit persists a record change. Commits follow a confirmed backend call
// and are not abandoned when the run is cancelled.
func (e *Engine) commit(ctx context.Context, env, product string, fn func(*types.ProductRecord) error) (*types.ProductRecord, error) {
	return e.store.Update(context.WithoutCancel(ctx), env, product, fn)
}

func (e *Engine) record(ctx context.Context, env, product string) (*types.ProductRecord, error) {
	doc, err := e.store.Load(ctx, env)
	if err != nil {
		return nil, err
	}
	return doc.Product(product), nil
}
