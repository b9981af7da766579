package fake

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidthor/catalogctl/pkg/provisioner"
	"github.com/davidthor/catalogctl/pkg/schema/catalog"
)

func TestFake_DeployReturnsDeclaredOutputs(t *testing.T) {
	p := New()
	product := &catalog.Product{Name: "networking", Outputs: []string{"VpcId"}}

	res, err := p.DeployInstance(context.Background(), provisioner.DeployRequest{
		Product:      product,
		InstanceName: "dev-networking",
		Parameters:   map[string]string{"Environment": "dev"},
	})
	require.NoError(t, err)
	assert.Equal(t, "pp-dev-networking", res.InstanceID)
	assert.Equal(t, map[string]string{"VpcId": "networking-VpcId"}, res.Outputs)
	assert.Equal(t, map[string]string{"networking": "pp-dev-networking"}, p.Instances())

	require.NoError(t, p.TerminateInstance(context.Background(), provisioner.TerminateRequest{Product: product, InstanceID: res.InstanceID}))
	assert.Empty(t, p.Instances())
	assert.Equal(t, []string{"networking"}, p.CallsFor(OpTerminate))
}

func TestFake_FailTimes(t *testing.T) {
	p := New()
	product := &catalog.Product{Name: "api"}
	boom := errors.New("boom")
	p.FailTimes(OpPublish, "api", 1, boom)

	_, err := p.PublishVersion(context.Background(), provisioner.PublishRequest{Product: product, Version: "v1"})
	assert.ErrorIs(t, err, boom)

	res, err := p.PublishVersion(context.Background(), provisioner.PublishRequest{Product: product, Version: "v1"})
	require.NoError(t, err)
	assert.Equal(t, "pa-0001", res.VersionID)
	assert.Len(t, p.Calls(), 2)
}

func TestFake_RegisteredWithInjectedFailures(t *testing.T) {
	Register()
	p, err := provisioner.New(&catalog.Environment{
		Name:        "dev",
		Provisioner: "fake",
		Config:      map[string]string{"fail": "deploy:api, publish:web"},
	}, provisioner.Options{})
	require.NoError(t, err)

	_, err = p.DeployInstance(context.Background(), provisioner.DeployRequest{Product: &catalog.Product{Name: "api"}})
	assert.Error(t, err)
	_, err = p.PublishVersion(context.Background(), provisioner.PublishRequest{Product: &catalog.Product{Name: "web"}})
	assert.Error(t, err)
	_, err = p.PublishVersion(context.Background(), provisioner.PublishRequest{Product: &catalog.Product{Name: "api"}})
	assert.NoError(t, err)
}
