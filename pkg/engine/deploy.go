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

// Deploy creates or updates the instance of every product whose published
// version is not deployed yet, in dependency order.
func (e *Engine) Deploy(ctx context.Context, opts Options) (*Report, error) {
	env, err := e.catalog.Environment(opts.Environment)
	if err != nil {
		return nil, err
	}
	cs, err := e.detector().ClassifyDeploy(ctx, env.Name, detector.Options{Subset: opts.Products, Force: opts.Force})
	if err != nil {
		return nil, err
	}

	stage := func(ctx context.Context, name string) (*executor.Result, error) {
		if !cs.Class(name).Changed() {
			return &executor.Result{Status: StatusSkippedUnchanged, Reason: "deployed version is current"}, nil
		}
		if opts.DryRun {
			return &executor.Result{Status: StatusPlanned, Reason: "would deploy (" + string(cs.Class(name)) + ")"}, nil
		}
		return e.deployProduct(ctx, env, name)
	}
	return e.execute(ctx, planner.OperationDeploy, env.Name, cs.Selected, opts, stage)
}

// deployProduct runs the deploy pipeline for one product. Outputs are
// committed only when they cover every declared output.
func (e *Engine) deployProduct(ctx context.Context, env *catalog.Environment, name string) (*executor.Result, error) {
	product, _ := e.catalog.Product(name)
	logger := zerolog.Ctx(ctx).With().Str("product", name).Logger()

	rec, err := e.record(ctx, env.Name, name)
	if err != nil {
		return nil, err
	}
	if !rec.Published() {
		return nil, errors.NotPublishedError(name)
	}

	params, err := e.resolver.Resolve(ctx, product, env.Name)
	if err != nil {
		return nil, err
	}

	req := provisioner.DeployRequest{
		Environment:  env.Name,
		Product:      product,
		ProductID:    env.ProductIDs[name],
		InstanceID:   rec.InstanceID,
		InstanceName: provisioner.InstanceName(env.Name, name),
		Version:      rec.Version,
		VersionID:    rec.VersionID,
		Parameters:   params,
		Tags:         provisioner.Tags(env.Name),
	}

	logger.Debug().Str("version", rec.Version).Bool("update", req.InstanceID != "").Msg("deploying")
	var result *provisioner.DeployResult
	err = e.call(ctx, "deploy", func(ctx context.Context) error {
		var err error
		if req.InstanceID == "" {
			result, err = e.provisioner.DeployInstance(ctx, req)
		} else {
			result, err = e.provisioner.UpdateInstance(ctx, req)
		}
		return err
	})
	if err != nil {
		return nil, errors.DeployError(name, err)
	}

	if missing := missingOutputs(product, result.Outputs); len(missing) > 0 {
		return nil, errors.IncompleteOutputsError(name, missing)
	}

	instanceID := result.InstanceID
	if instanceID == "" {
		instanceID = req.InstanceID
	}
	deployedAt := e.now().UTC()
	_, err = e.commit(ctx, env.Name, name, func(r *types.ProductRecord) error {
		r.InstanceID = instanceID
		r.InstanceName = req.InstanceName
		r.Outputs = result.Outputs
		r.DeployedVersion = rec.Version
		r.DeployedFingerprint = rec.Fingerprint
		r.DeployedAt = deployedAt
		r.DeployStatus = types.DeployStatusDeployed
		r.StatusReason = ""
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &executor.Result{Status: StatusSucceeded, Version: rec.Version, Reason: "deployed " + rec.Version}, nil
}

func missingOutputs(product *catalog.Product, outputs map[string]string) []string {
	var missing []string
	for _, name := range product.Outputs {
		if _, ok := outputs[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}
