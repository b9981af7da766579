// Package planner turns change sets into reviewable plans.
package planner

import (
	"fmt"
	"strings"

	"github.com/davidthor/catalogctl/pkg/detector"
	"github.com/davidthor/catalogctl/pkg/graph"
	"github.com/davidthor/catalogctl/pkg/resolver"
	"github.com/davidthor/catalogctl/pkg/schema/catalog"
	"github.com/davidthor/catalogctl/pkg/state/types"
)

// Operation is a scheduler operation.
type Operation string

const (
	OperationPublish   Operation = "publish"
	OperationDeploy    Operation = "deploy"
	OperationTerminate Operation = "terminate"
)

// ParseOperation validates an operation name.
func ParseOperation(s string) (Operation, error) {
	switch op := Operation(strings.ToLower(s)); op {
	case OperationPublish, OperationDeploy, OperationTerminate:
		return op, nil
	}
	return "", fmt.Errorf("unknown operation %q (expected publish, deploy or terminate)", s)
}

// Action represents what will happen to a product.
type Action string

const (
	ActionPublish   Action = "publish"
	ActionCreate    Action = "create"
	ActionUpdate    Action = "update"
	ActionTerminate Action = "terminate"
	ActionNoop      Action = "noop"
)

// ProductChange describes a planned change to a product.
type ProductChange struct {
	Product string
	Action  Action
	Class   detector.Class

	// Reason for the change
	Reason string

	// Property changes recorded in state
	PropertyChanges []PropertyChange

	// Unresolved lists mappings that have no captured value and are not
	// produced earlier in the same run.
	Unresolved []catalog.Mapping
}

// PropertyChange describes a change to a recorded property.
type PropertyChange struct {
	Path     string
	OldValue string
	NewValue string
}

// Plan represents an execution plan.
type Plan struct {
	Operation   Operation
	Environment string

	// Changes to make, in execution order
	Changes []*ProductChange

	// Summary
	ToPublish   int
	ToCreate    int
	ToUpdate    int
	ToTerminate int
	NoChange    int
}

// IsEmpty returns true if there are no changes.
func (p *Plan) IsEmpty() bool {
	return p.ToPublish == 0 && p.ToCreate == 0 && p.ToUpdate == 0 && p.ToTerminate == 0
}

// Products returns the planned products in execution order.
func (p *Plan) Products() []string {
	names := make([]string, len(p.Changes))
	for i, c := range p.Changes {
		names[i] = c.Product
	}
	return names
}

// Classes maps every planned product to its change class.
func (p *Plan) Classes() map[string]string {
	classes := make(map[string]string, len(p.Changes))
	for _, c := range p.Changes {
		classes[c.Product] = string(c.Class)
	}
	return classes
}

// Planner generates execution plans.
type Planner struct {
	catalog *catalog.Catalog
	graph   *graph.Graph
}

// NewPlanner creates a new planner.
func NewPlanner(c *catalog.Catalog, g *graph.Graph) *Planner {
	return &Planner{catalog: c, graph: g}
}

// PlanPublish describes the publish of every selected product.
func (p *Planner) PlanPublish(cs *detector.ChangeSet, doc *types.EnvironmentState) *Plan {
	plan := &Plan{Operation: OperationPublish, Environment: cs.Environment}
	for _, name := range cs.Selected {
		change := &ProductChange{Product: name, Class: cs.Class(name)}
		rec := doc.Product(name)

		switch {
		case !change.Class.Changed():
			change.Action = ActionNoop
			change.Reason = "content unchanged since last publish"
		case rec == nil || rec.Fingerprint == "":
			change.Action = ActionPublish
			change.Reason = "never published"
		case len(cs.Stale[name]) > 0:
			change.Action = ActionPublish
			change.Reason = "dependency version changed (" + strings.Join(cs.Stale[name], ", ") + ")"
		case change.Class == detector.ChangedByCascade:
			change.Action = ActionPublish
			change.Reason = "dependency changed"
		default:
			change.Action = ActionPublish
			change.Reason = "content changed"
		}
		if change.Action == ActionPublish {
			old := ""
			if rec != nil {
				old = rec.Fingerprint
			}
			if fp := cs.Fingerprints[name]; fp != old {
				change.PropertyChanges = append(change.PropertyChanges, PropertyChange{
					Path: "fingerprint", OldValue: old, NewValue: fp,
				})
			}
		}
		plan.add(change)
	}
	return plan
}

// PlanDeploy describes the create or update of every selected product.
// Mappings to dependencies deployed earlier in the same run are not
// reported as unresolved.
func (p *Planner) PlanDeploy(cs *detector.ChangeSet, doc *types.EnvironmentState) *Plan {
	plan := &Plan{Operation: OperationDeploy, Environment: cs.Environment}
	deployedInRun := make(map[string]bool)

	for _, name := range cs.Selected {
		change := &ProductChange{Product: name, Class: cs.Class(name)}
		rec := doc.Product(name)

		switch {
		case !change.Class.Changed():
			change.Action = ActionNoop
			change.Reason = "deployed version is current"
		case !rec.Published():
			change.Action = ActionCreate
			change.Reason = "not published"
		case !rec.Deployed():
			change.Action = ActionCreate
			change.Reason = "never deployed"
		case rec.DeployedVersion != rec.Version:
			change.Action = ActionUpdate
			change.Reason = "new version published"
			change.PropertyChanges = append(change.PropertyChanges, PropertyChange{
				Path: "version", OldValue: rec.DeployedVersion, NewValue: rec.Version,
			})
		default:
			change.Action = ActionUpdate
			change.Reason = "dependency redeployed"
		}

		if change.Action != ActionNoop {
			if product, ok := p.catalog.Product(name); ok {
				for _, m := range resolver.Pending(doc, product) {
					if !deployedInRun[m.Dependency] {
						change.Unresolved = append(change.Unresolved, m)
					}
				}
			}
			deployedInRun[name] = true
		}
		plan.add(change)
	}
	return plan
}

// PlanTerminate describes tearing down products in order. Products without
// an instance are listed as noop.
func (p *Planner) PlanTerminate(env string, order []string, doc *types.EnvironmentState) *Plan {
	plan := &Plan{Operation: OperationTerminate, Environment: env}
	for _, name := range order {
		change := &ProductChange{Product: name, Class: detector.ChangedDirectly}
		rec := doc.Product(name)
		if rec.Deployed() {
			change.Action = ActionTerminate
			change.Reason = "instance " + rec.InstanceID
		} else {
			change.Action = ActionNoop
			change.Class = detector.Unchanged
			change.Reason = "not deployed"
		}
		plan.add(change)
	}
	return plan
}

func (p *Plan) add(change *ProductChange) {
	p.Changes = append(p.Changes, change)
	switch change.Action {
	case ActionPublish:
		p.ToPublish++
	case ActionCreate:
		p.ToCreate++
	case ActionUpdate:
		p.ToUpdate++
	case ActionTerminate:
		p.ToTerminate++
	case ActionNoop:
		p.NoChange++
	}
}

// FormatChanges formats property changes as a string.
func FormatChanges(changes []PropertyChange) string {
	if len(changes) == 0 {
		return "no changes"
	}

	var b strings.Builder
	for _, c := range changes {
		old := c.OldValue
		if old == "" {
			old = "(none)"
		}
		fmt.Fprintf(&b, "  %s: %s -> %s\n", c.Path, old, c.NewValue)
	}
	return b.String()
}
