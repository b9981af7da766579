package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/davidthor/catalogctl/pkg/detector"
	"github.com/davidthor/catalogctl/pkg/errors"
	"github.com/davidthor/catalogctl/pkg/state/types"
)

// ProductStatus is one row of the status report.
type ProductStatus struct {
	Product         string
	Status          types.Status
	Version         string
	Fingerprint     string
	Commit          string
	DeployedVersion string
	DeployedAt      time.Time
	InstanceID      string
	Outputs         map[string]string
}

// Status summarizes every product in an environment against its current
// content, in topological order.
func (e *Engine) Status(ctx context.Context, envName string) ([]ProductStatus, error) {
	env, err := e.catalog.Environment(envName)
	if err != nil {
		return nil, err
	}
	cs, err := e.detector().Classify(ctx, env.Name, detector.Options{})
	if err != nil {
		return nil, err
	}
	doc, err := e.store.Load(ctx, env.Name)
	if err != nil {
		return nil, err
	}
	order, err := e.graph.TopologicalOrder(nil)
	if err != nil {
		return nil, err
	}

	rows := make([]ProductStatus, 0, len(order))
	for _, name := range order {
		rec := doc.Product(name)
		row := ProductStatus{
			Product: name,
			Status:  types.StatusOf(rec, cs.Fingerprints[name]),
		}
		if rec != nil {
			row.Version = rec.Version
			row.Fingerprint = rec.Fingerprint
			row.Commit = rec.PublishedCommit
			row.DeployedVersion = rec.DeployedVersion
			row.DeployedAt = rec.DeployedAt
			row.InstanceID = rec.InstanceID
			row.Outputs = rec.Outputs
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Validate checks that an environment can run every product: product ids
// exist when the provisioner needs them and templates are present.
func (e *Engine) Validate(envName string) error {
	env, err := e.catalog.Environment(envName)
	if err != nil {
		return err
	}

	var problems []string
	for _, p := range e.catalog.Products {
		if needsProductIDs(env.Provisioner) && env.ProductIDs[p.Name] == "" {
			problems = append(problems, fmt.Sprintf("environment %q: no product id for %q", env.Name, p.Name))
		}
		template := filepath.Join(e.catalog.ProductDir(p), e.catalog.Settings.TemplateFile)
		if _, err := os.Stat(template); err != nil {
			problems = append(problems, fmt.Sprintf("product %q: template %s not found", p.Name, template))
		}
	}
	if len(problems) > 0 {
		return errors.ValidationError(fmt.Sprintf("environment %q is not deployable", env.Name), problems)
	}
	return nil
}

func needsProductIDs(provisioner string) bool {
	return provisioner == "servicecatalog"
}
