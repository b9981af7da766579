package cli

import (
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidthor/catalogctl/pkg/schema/catalog"
)

func loadTestCatalog(t *testing.T, def string) *catalog.Catalog {
	t.Helper()
	c, err := catalog.Load([]byte(def), t.TempDir())
	require.NoError(t, err)
	return c
}

func TestStateConfig_DefaultsToProjectDirectory(t *testing.T) {
	t.Setenv(EnvStateBackend, "")
	c := loadTestCatalog(t, testCatalog)

	cfg := stateConfig(c, "", nil)
	assert.Equal(t, "local", cfg.Type)
	assert.Equal(t, filepath.Join(c.Root, ".deployer", "state"), cfg.Config["path"])
}

func TestStateConfig_CatalogSettings(t *testing.T) {
	t.Setenv(EnvStateBackend, "")
	c := loadTestCatalog(t, `
settings:
  state:
    backend: s3
    config:
      bucket: catalog-state
      region: us-east-1
environments:
  dev:
    provisioner: fake
products:
  a: {}
`)

	cfg := stateConfig(c, "", nil)
	assert.Equal(t, "s3", cfg.Type)
	assert.Equal(t, "catalog-state", cfg.Config["bucket"])
	assert.NotContains(t, cfg.Config, "path")
}

func TestStateConfig_Precedence(t *testing.T) {
	t.Cleanup(func() { viper.Set("backend", "") })
	c := loadTestCatalog(t, testCatalog)

	viper.Set("backend", "gcs")
	cfg := stateConfig(c, "", nil)
	assert.Equal(t, "gcs", cfg.Type)

	t.Setenv(EnvStateBackend, "s3")
	t.Setenv("CATALOGCTL_STATE_BUCKET", "env-bucket")
	cfg = stateConfig(c, "", nil)
	assert.Equal(t, "s3", cfg.Type)
	assert.Equal(t, "env-bucket", cfg.Config["bucket"])

	cfg = stateConfig(c, "azurerm", []string{"bucket=flag-bucket", "container=state"})
	assert.Equal(t, "azurerm", cfg.Type)
	assert.Equal(t, "flag-bucket", cfg.Config["bucket"])
	assert.Equal(t, "state", cfg.Config["container"])
}

func TestCreateStore_UnknownBackend(t *testing.T) {
	c := loadTestCatalog(t, testCatalog)
	t.Setenv(EnvStateBackend, "floppy")

	_, err := createStore(c, nil)
	require.Error(t, err)
	assert.Equal(t, ExitBackend, ExitCode(err))
}
