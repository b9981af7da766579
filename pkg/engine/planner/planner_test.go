package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidthor/catalogctl/pkg/detector"
	"github.com/davidthor/catalogctl/pkg/graph"
	"github.com/davidthor/catalogctl/pkg/schema/catalog"
	"github.com/davidthor/catalogctl/pkg/state/types"
)

const definition = `
products:
  networking:
    outputs: [VpcId]
  database:
    dependencies: [networking]
    parameter_mapping:
      VpcId: networking.VpcId
    outputs: [DatabaseEndpoint]
  monitoring: {}
`

func newPlanner(t *testing.T) *Planner {
	t.Helper()
	c, err := catalog.Load([]byte(definition), t.TempDir())
	require.NoError(t, err)
	g, err := graph.Build(c)
	require.NoError(t, err)
	return NewPlanner(c, g)
}

func TestParseOperation(t *testing.T) {
	op, err := ParseOperation("Deploy")
	require.NoError(t, err)
	assert.Equal(t, OperationDeploy, op)

	_, err = ParseOperation("rollback")
	assert.Error(t, err)
}

func TestPlanPublish(t *testing.T) {
	p := newPlanner(t)
	doc := types.NewEnvironmentState("dev")
	doc.Products["networking"] = &types.ProductRecord{Product: "networking", Fingerprint: "old", Version: "v1"}
	doc.Products["monitoring"] = &types.ProductRecord{Product: "monitoring", Fingerprint: "same", Version: "v1"}

	cs := &detector.ChangeSet{
		Environment: "dev",
		Classes: map[string]detector.Class{
			"networking": detector.ChangedDirectly,
			"database":   detector.ChangedByCascade,
			"monitoring": detector.Unchanged,
		},
		Fingerprints: map[string]string{"networking": "new", "database": "db", "monitoring": "same"},
		Selected:     []string{"networking", "database", "monitoring"},
	}

	plan := p.PlanPublish(cs, doc)
	assert.Equal(t, OperationPublish, plan.Operation)
	assert.Equal(t, 2, plan.ToPublish)
	assert.Equal(t, 1, plan.NoChange)
	assert.False(t, plan.IsEmpty())
	assert.Equal(t, []string{"networking", "database", "monitoring"}, plan.Products())

	assert.Equal(t, "content changed", plan.Changes[0].Reason)
	assert.Equal(t, []PropertyChange{{Path: "fingerprint", OldValue: "old", NewValue: "new"}}, plan.Changes[0].PropertyChanges)
	assert.Equal(t, "never published", plan.Changes[1].Reason)
	assert.Equal(t, ActionNoop, plan.Changes[2].Action)
	assert.Equal(t, "changed-by-cascade", plan.Classes()["database"])
}

func TestPlanDeploy(t *testing.T) {
	p := newPlanner(t)
	doc := types.NewEnvironmentState("dev")
	doc.Products["networking"] = &types.ProductRecord{Product: "networking", Version: "v2", InstanceID: "pp-1", DeployedVersion: "v1"}
	doc.Products["database"] = &types.ProductRecord{Product: "database", Version: "v1"}

	cs := &detector.ChangeSet{
		Environment: "dev",
		Classes: map[string]detector.Class{
			"networking": detector.ChangedDirectly,
			"database":   detector.ChangedDirectly,
		},
		Selected: []string{"networking", "database"},
	}

	plan := p.PlanDeploy(cs, doc)
	assert.Equal(t, 1, plan.ToUpdate)
	assert.Equal(t, 1, plan.ToCreate)
	assert.Equal(t, ActionUpdate, plan.Changes[0].Action)
	assert.Equal(t, "new version published", plan.Changes[0].Reason)
	assert.Equal(t, ActionCreate, plan.Changes[1].Action)
	// networking deploys earlier in the same run
	assert.Empty(t, plan.Changes[1].Unresolved)
}

func TestPlanDeploy_ReportsUnresolved(t *testing.T) {
	p := newPlanner(t)
	doc := types.NewEnvironmentState("dev")
	doc.Products["database"] = &types.ProductRecord{Product: "database", Version: "v1"}

	cs := &detector.ChangeSet{
		Environment: "dev",
		Classes:     map[string]detector.Class{"database": detector.ChangedDirectly},
		Selected:    []string{"database"},
	}

	plan := p.PlanDeploy(cs, doc)
	require.Len(t, plan.Changes, 1)
	assert.Equal(t, []catalog.Mapping{{Dependency: "networking", Output: "VpcId"}}, plan.Changes[0].Unresolved)
}

func TestPlanTerminate(t *testing.T) {
	p := newPlanner(t)
	doc := types.NewEnvironmentState("dev")
	doc.Products["networking"] = &types.ProductRecord{Product: "networking", InstanceID: "pp-1"}

	plan := p.PlanTerminate("dev", []string{"database", "networking"}, doc)
	assert.Equal(t, 1, plan.ToTerminate)
	assert.Equal(t, 1, plan.NoChange)
	assert.Equal(t, ActionNoop, plan.Changes[0].Action)
	assert.Equal(t, ActionTerminate, plan.Changes[1].Action)
	assert.Equal(t, "instance pp-1", plan.Changes[1].Reason)
}

func TestPlan_IsEmpty(t *testing.T) {
	plan := &Plan{NoChange: 3}
	assert.True(t, plan.IsEmpty())
}

func TestFormatChanges(t *testing.T) {
	assert.Equal(t, "no changes", FormatChanges(nil))
	out := FormatChanges([]PropertyChange{{Path: "version", NewValue: "v2"}})
	assert.Equal(t, "  version: (none) -> v2\n", out)
}
