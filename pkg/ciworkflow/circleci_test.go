package ciworkflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircleCIGenerator_Generate(t *testing.T) {
	gen := NewCircleCIGenerator()

	data, err := gen.Generate(testWorkflow())
	require.NoError(t, err)

	output := string(data)

	assert.Contains(t, output, "version: 2.1")
	assert.Contains(t, output, "install-catalogctl:")
	assert.Contains(t, output, "executor: catalogctl")
	assert.Contains(t, output, "CATALOGCTL_LOG_FORMAT: json")
	assert.Contains(t, output, "  deploy-catalog:\n")
	assert.Contains(t, output, "      - validate\n")
	assert.Contains(t, output, "      - deploy-prod:\n          context: prod\n          requires:\n            - deploy-dev\n")
	assert.Contains(t, output, "command: catalogctl deploy -e dev")
}

func TestCircleCIGenerator_GenerateTeardown(t *testing.T) {
	data, err := NewCircleCIGenerator().GenerateTeardown(testWorkflow())
	require.NoError(t, err)

	output := string(data)
	assert.Contains(t, output, "type: approval")
	assert.Contains(t, output, "      - terminate-prod:\n          context: prod\n          requires:\n            - approve-teardown\n")
	assert.Contains(t, output, "            - terminate-prod\n")
}

func TestSanitizeCircleCIID(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Deploy catalog", "deploy-catalog"},
		{"Deploy v1.2", "deploy-v1-2"},
		{"team/catalog", "team-catalog"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := sanitizeCircleCIID(tt.input)
			if result != tt.expected {
				t.Errorf("sanitizeCircleCIID(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}
