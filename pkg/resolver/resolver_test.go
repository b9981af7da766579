package resolver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidthor/catalogctl/pkg/errors"
	"github.com/davidthor/catalogctl/pkg/schema/catalog"
	"github.com/davidthor/catalogctl/pkg/state"
	"github.com/davidthor/catalogctl/pkg/state/backend/memory"
	"github.com/davidthor/catalogctl/pkg/state/types"
)

const networkingCatalog = `
products:
  networking:
    outputs: [VpcId, SubnetIds]
  database:
    dependencies: [networking]
    parameter_mapping:
      VpcId: networking.VpcId
      Subnets: networking.SubnetIds
    outputs: [DatabaseEndpoint]
`

func setup(t *testing.T) (*catalog.Catalog, state.Store) {
	t.Helper()
	c, err := catalog.Load([]byte(networkingCatalog), t.TempDir())
	require.NoError(t, err)
	return c, state.NewStore(memory.New())
}

func TestResolve_UnresolvedBeforeDependencyDeployed(t *testing.T) {
	c, store := setup(t)
	db, _ := c.Product("database")

	r := NewResolver(Options{State: store})
	_, err := r.Resolve(context.Background(), db, "dev")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeUnresolvedDependency))

	dep, output, ok := errors.UnresolvedOf(err)
	require.True(t, ok)
	assert.Equal(t, "networking", dep)
	assert.Equal(t, "SubnetIds", output)
}

func TestResolve_MissingSingleOutput(t *testing.T) {
	c, store := setup(t)
	ctx := context.Background()
	_, err := store.Update(ctx, "dev", "networking", func(r *types.ProductRecord) error {
		r.Outputs = map[string]string{"SubnetIds": "subnet-1,subnet-2"}
		return nil
	})
	require.NoError(t, err)

	db, _ := c.Product("database")
	_, err = NewResolver(Options{State: store}).Resolve(ctx, db, "dev")
	dep, output, ok := errors.UnresolvedOf(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, "networking", dep)
	assert.Equal(t, "VpcId", output)
}

func TestResolve_UsesCapturedOutputs(t *testing.T) {
	c, store := setup(t)
	ctx := context.Background()
	_, err := store.Update(ctx, "dev", "networking", func(r *types.ProductRecord) error {
		r.Outputs = map[string]string{"VpcId": "vpc-123", "SubnetIds": "subnet-1"}
		return nil
	})
	require.NoError(t, err)

	db, _ := c.Product("database")
	params, err := NewResolver(Options{State: store, EnvironmentParameter: "Environment"}).Resolve(ctx, db, "dev")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"VpcId":       "vpc-123",
		"Subnets":     "subnet-1",
		"Environment": "dev",
	}, params)

	// Other environments see nothing
	_, err = NewResolver(Options{State: store}).Resolve(ctx, db, "prod")
	assert.True(t, errors.Is(err, errors.ErrCodeUnresolvedDependency))
}

func TestResolve_NoMappings(t *testing.T) {
	c, store := setup(t)
	net, _ := c.Product("networking")

	params, err := NewResolver(Options{State: store}).Resolve(context.Background(), net, "dev")
	require.NoError(t, err)
	assert.Empty(t, params)
}

func TestPending(t *testing.T) {
	c, _ := setup(t)
	db, _ := c.Product("database")

	doc := types.NewEnvironmentState("dev")
	assert.Equal(t, []catalog.Mapping{
		{Dependency: "networking", Output: "SubnetIds"},
		{Dependency: "networking", Output: "VpcId"},
	}, Pending(doc, db))
	assert.False(t, Ready(doc, db))

	doc.Products["networking"] = &types.ProductRecord{Outputs: map[string]string{"VpcId": "v", "SubnetIds": "s"}}
	assert.True(t, Ready(doc, db))
}
