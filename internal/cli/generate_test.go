package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateWorkflow_WritesDefaultPaths(t *testing.T) {
	dir := writeProject(t, testCatalog, "networking", "database")

	out, err := execute(t, "--project", dir, "generate", "workflow", "--type", "github-actions", "--teardown")
	require.NoError(t, err)
	assert.Contains(t, out, "Workflow written to")
	assert.Contains(t, out, "Teardown workflow written to")

	data, err := os.ReadFile(filepath.Join(dir, ".github", "workflows", "catalog-deploy.yml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "catalogctl deploy -e dev")

	data, err = os.ReadFile(filepath.Join(dir, ".github", "workflows", "catalog-teardown.yml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "catalogctl terminate -e dev --force")
}

func TestGenerateWorkflow_Stdout(t *testing.T) {
	dir := writeProject(t, testCatalog, "networking", "database")

	out, err := execute(t, "--project", dir, "generate", "workflow", "-t", "gitlab-ci", "--stdout")
	require.NoError(t, err)
	assert.Contains(t, out, "stages:")
	assert.Contains(t, out, "publish-dev:")

	_, err = os.Stat(filepath.Join(dir, ".gitlab-ci.yml"))
	assert.True(t, os.IsNotExist(err))
}

func TestGenerateWorkflow_InvalidInput(t *testing.T) {
	dir := writeProject(t, testCatalog, "networking", "database")

	_, err := execute(t, "--project", dir, "generate", "workflow", "--type", "jenkins")
	require.Error(t, err)
	assert.Equal(t, ExitValidation, ExitCode(err))

	_, err = execute(t, "--project", dir, "generate", "workflow", "--type", "circleci", "-e", "qa")
	require.Error(t, err)
	assert.Equal(t, ExitValidation, ExitCode(err))
}
