package ciworkflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidthor/catalogctl/pkg/schema/catalog"
)

const promotion = `
settings:
  state:
    backend: s3
    config:
      bucket: catalog-state
environments:
  dev:
    provisioner: servicecatalog
    region: us-east-1
  staging:
    provisioner: servicecatalog
  prod:
    provisioner: servicecatalog
    region: us-east-1
products:
  networking: {}
  database:
    dependencies: [networking]
`

func loadCatalog(t *testing.T, def string) *catalog.Catalog {
	t.Helper()
	c, err := catalog.Load([]byte(def), t.TempDir())
	require.NoError(t, err)
	return c
}

func jobIDs(jobs []Job) []string {
	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
	}
	return ids
}

func TestBuild_PromotesThroughEnvironments(t *testing.T) {
	w, err := Build(loadCatalog(t, promotion), Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"dev", "staging", "prod"}, w.Environments)
	assert.Equal(t, []string{
		"validate",
		"publish-dev", "deploy-dev",
		"publish-staging", "deploy-staging",
		"publish-prod", "deploy-prod",
	}, jobIDs(w.Jobs))

	byID := make(map[string]Job)
	for _, j := range w.Jobs {
		byID[j.ID] = j
	}
	assert.Equal(t, []string{"validate"}, byID["publish-dev"].DependsOn)
	assert.Equal(t, []string{"publish-dev"}, byID["deploy-dev"].DependsOn)
	assert.Equal(t, []string{"deploy-dev"}, byID["publish-staging"].DependsOn)
	assert.Equal(t, "staging", byID["deploy-staging"].Environment)
	assert.Equal(t, "catalogctl publish -e prod", byID["publish-prod"].Steps[2].Run)
	assert.Equal(t, "catalogctl deploy -e prod", byID["deploy-prod"].Steps[1].Run)
	assert.Empty(t, w.TeardownJobs)
}

func TestBuild_SelectedEnvironments(t *testing.T) {
	w, err := Build(loadCatalog(t, promotion), Options{Environments: []string{"staging", "prod"}, Teardown: true})
	require.NoError(t, err)

	assert.Equal(t, []string{"validate", "publish-staging", "deploy-staging", "publish-prod", "deploy-prod"}, jobIDs(w.Jobs))
	assert.Equal(t, []string{"terminate-prod", "terminate-staging"}, jobIDs(w.TeardownJobs))
	assert.Empty(t, w.TeardownJobs[0].DependsOn)
	assert.Equal(t, []string{"terminate-prod"}, w.TeardownJobs[1].DependsOn)
	assert.Equal(t, "catalogctl terminate -e staging --force", w.TeardownJobs[1].Steps[0].Run)
}

func TestBuild_UnknownEnvironment(t *testing.T) {
	_, err := Build(loadCatalog(t, promotion), Options{Environments: []string{"qa"}})
	require.Error(t, err)
}

func TestCredentials(t *testing.T) {
	vars := Credentials(loadCatalog(t, promotion), []string{"dev", "staging", "prod"})

	var names []string
	for _, v := range vars {
		names = append(names, v.EnvName)
	}
	// staging has no region configured
	assert.Equal(t, []string{"AWS_ACCESS_KEY_ID", "AWS_REGION", "AWS_SECRET_ACCESS_KEY"}, names)
	assert.True(t, vars[0].Sensitive)
	assert.False(t, vars[1].Sensitive)
}

func TestCredentials_OtherBackends(t *testing.T) {
	c := loadCatalog(t, `
settings:
  artifact_registry: ghcr.io/acme/catalog
  state:
    backend: azurerm
environments:
  dev:
    provisioner: fake
products:
  a: {}
`)
	var names []string
	for _, v := range Credentials(c, []string{"dev"}) {
		names = append(names, v.EnvName)
	}
	assert.Equal(t, []string{"AZURE_CLIENT_ID", "AZURE_CLIENT_SECRET", "AZURE_TENANT_ID", "DOCKER_CONFIG"}, names)
}

func TestNewGenerator(t *testing.T) {
	for _, name := range ValidOutputTypes() {
		gen, err := NewGenerator(OutputType(name))
		require.NoError(t, err, name)
		assert.NotEmpty(t, gen.DefaultOutputPath())
	}

	_, err := NewGenerator("jenkins")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "github-actions, gitlab-ci, circleci")
}

func TestSanitizeJobID(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"dev", "dev"},
		{"eu.prod", "eu-prod"},
		{"team/preview", "team-preview"},
		{"Load_Test", "load-test"},
	}
	for _, tt := range tests {
		if got := sanitizeJobID(tt.input); got != tt.expected {
			t.Errorf("sanitizeJobID(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestInstallCommand(t *testing.T) {
	assert.Equal(t, "go install github.com/davidthor/catalogctl/cmd/catalogctl@latest", installCommand(""))
	assert.Equal(t, "go install github.com/davidthor/catalogctl/cmd/catalogctl@v1.2.0", installCommand("v1.2.0"))
}
