package engine

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/davidthor/catalogctl/pkg/detector"
	"github.com/davidthor/catalogctl/pkg/engine/executor"
	"github.com/davidthor/catalogctl/pkg/engine/planner"
	"github.com/davidthor/catalogctl/pkg/errors"
	"github.com/davidthor/catalogctl/pkg/provisioner"
	"github.com/davidthor/catalogctl/pkg/schema/catalog"
	"github.com/davidthor/catalogctl/pkg/state/types"
)

// Terminate destroys instances, dependents before their dependencies. With
// a product subset, the subset's dependents are terminated too.
func (e *Engine) Terminate(ctx context.Context, opts Options) (*Report, error) {
	env, err := e.catalog.Environment(opts.Environment)
	if err != nil {
		return nil, err
	}
	order, err := e.terminateOrder(opts.Products)
	if err != nil {
		return nil, err
	}

	stage := func(ctx context.Context, name string) (*executor.Result, error) {
		if opts.DryRun {
			rec, err := e.record(ctx, env.Name, name)
			if err != nil {
				return nil, err
			}
			if !rec.Deployed() {
				return &executor.Result{Status: StatusSkipped, Reason: "not deployed"}, nil
			}
			return &executor.Result{Status: StatusPlanned, Reason: "would terminate " + rec.InstanceID}, nil
		}
		return e.terminateProduct(ctx, env, name)
	}
	return e.execute(ctx, planner.OperationTerminate, env.Name, order, opts, stage)
}

func (e *Engine) terminateOrder(subset []string) ([]string, error) {
	if err := e.catalog.CheckSelection(subset); err != nil {
		return nil, err
	}
	scope, err := detector.Scope(e.graph, subset)
	if err != nil {
		return nil, err
	}
	return e.graph.ReverseTopologicalOrder(scope)
}

// terminateProduct destroys one instance and clears its deployment data.
// Publish history is kept.
func (e *Engine) terminateProduct(ctx context.Context, env *catalog.Environment, name string) (*executor.Result, error) {
	product, _ := e.catalog.Product(name)

	rec, err := e.record(ctx, env.Name, name)
	if err != nil {
		return nil, err
	}
	if !rec.Deployed() {
		return &executor.Result{Status: StatusSkipped, Reason: "not deployed"}, nil
	}

	zerolog.Ctx(ctx).Debug().Str("product", name).Str("instance", rec.InstanceID).Msg("terminating")
	err = e.call(ctx, "terminate", func(ctx context.Context) error {
		return e.provisioner.TerminateInstance(ctx, provisioner.TerminateRequest{
			Environment: env.Name,
			Product:     product,
			InstanceID:  rec.InstanceID,
		})
	})
	if err != nil {
		return nil, errors.TerminateError(name, err)
	}

	_, err = e.commit(ctx, env.Name, name, func(r *types.ProductRecord) error {
		r.ClearDeployment()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &executor.Result{Status: StatusSucceeded, Reason: "terminated " + rec.InstanceID}, nil
}
