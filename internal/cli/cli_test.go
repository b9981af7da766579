package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/davidthor/catalogctl/pkg/provisioner/fake"
)

func init() {
	fake.Register()
}

const testCatalog = `
settings:
  fingerprint: hash
  retries: 0
environments:
  dev:
    provisioner: fake
products:
  networking:
    outputs: [VpcId]
  database:
    dependencies: [networking]
    parameter_mapping:
      VpcId: networking.VpcId
`

// writeProject creates a project directory with a catalog definition and a
// template under products/ for every product name given.
func writeProject(t *testing.T, def string, products ...string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".deployer"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".deployer", "catalog.yaml"), []byte(def), 0644))
	for _, p := range products {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, "products", p), 0755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "products", p, "template.yaml"), []byte("Resources: {}\n# "+p+"\n"), 0644))
	}
	return dir
}

// execute runs a fresh command tree and returns what it wrote to stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("CATALOGCTL_ENVIRONMENT", "")
	t.Setenv("CATALOGCTL_STATE_BACKEND", "")

	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}
