package ciworkflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGitLabCIGenerator_Generate(t *testing.T) {
	gen := NewGitLabCIGenerator()

	data, err := gen.Generate(testWorkflow())
	require.NoError(t, err)

	output := string(data)

	assert.Contains(t, output, "stages:")
	assert.Contains(t, output, "  - stage-0\n  - stage-1\n  - stage-2\n")
	assert.Contains(t, output, "GIT_DEPTH: \"0\"")
	assert.Contains(t, output, ".install-catalogctl: &install-catalogctl")
	assert.Contains(t, output, "deploy-prod:\n  stage: stage-2\n")
	assert.Contains(t, output, "    - deploy-dev\n")
	assert.Contains(t, output, "    name: prod\n")
	assert.Contains(t, output, "    - catalogctl deploy -e prod\n")
	assert.Contains(t, output, "#   Protected/Masked: AWS_ACCESS_KEY_ID\n")
	assert.NotContains(t, output, "when: manual")
}

func TestGitLabCIGenerator_GenerateTeardown(t *testing.T) {
	data, err := NewGitLabCIGenerator().GenerateTeardown(testWorkflow())
	require.NoError(t, err)

	output := string(data)
	assert.Contains(t, output, "terminate-prod:\n  stage: stage-0\n")
	assert.Contains(t, output, "terminate-dev:\n  stage: stage-1\n")
	assert.Contains(t, output, "when: manual")
}

func TestComputeJobDepths(t *testing.T) {
	jobs := []Job{
		{ID: "c", DependsOn: []string{"b"}},
		{ID: "b", DependsOn: []string{"a"}},
		{ID: "a"},
		{ID: "d", DependsOn: []string{"a", "missing"}},
	}

	depths := computeJobDepths(jobs)
	assert.Equal(t, map[string]int{"a": 0, "b": 1, "c": 2, "d": 1}, depths)
	assert.Equal(t, []string{"stage-0", "stage-1", "stage-2"}, deriveStages(jobs))
	assert.Nil(t, deriveStages(nil))
}
