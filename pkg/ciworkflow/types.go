// Package ciworkflow generates CI/CD workflow files that run catalogctl.
// It supports multiple CI providers (GitHub Actions, GitLab CI, CircleCI).
// A deploy workflow promotes the catalog through environments in order; a
// teardown workflow terminates them in reverse.
package ciworkflow

// OutputType identifies the CI provider to generate for.
type OutputType string

const (
	TypeGitHubActions OutputType = "github-actions"
	TypeGitLabCI      OutputType = "gitlab-ci"
	TypeCircleCI      OutputType = "circleci"
)

// ValidOutputTypes returns all valid output type values.
func ValidOutputTypes() []string {
	return []string{
		string(TypeGitHubActions),
		string(TypeGitLabCI),
		string(TypeCircleCI),
	}
}

// Workflow is the intermediate representation of a CI workflow.
// CI provider generators consume this to produce provider-specific YAML.
type Workflow struct {
	// Name is the workflow display name (e.g., "Deploy catalog").
	Name string

	// Environments are the target environments in promotion order.
	Environments []string

	// Jobs is the ordered list of jobs in the deploy workflow.
	Jobs []Job

	// TeardownJobs holds the jobs of the teardown workflow. Empty means no
	// teardown workflow is generated.
	TeardownJobs []Job

	// EnvVars are workflow-level environment variables.
	EnvVars map[string]string

	// Variables are the credentials the catalog's backends need, used to
	// generate setup comments.
	Variables []WorkflowVariable

	// InstallVersion is the catalogctl version to install in CI jobs.
	InstallVersion string
}

// WorkflowVariable is a CI secret or variable the workflow expects.
type WorkflowVariable struct {
	// EnvName is the environment variable name (e.g., "AWS_ACCESS_KEY_ID").
	EnvName string

	// Sensitive indicates the variable should be stored as a CI secret.
	Sensitive bool

	// Description is a human-readable description for setup comments.
	Description string
}

// Job represents a single CI job in the workflow.
type Job struct {
	// ID is the unique job identifier (e.g., "deploy-staging").
	ID string

	// Name is the human-readable job name.
	Name string

	// Environment is the catalog environment the job targets, empty for
	// environment-independent jobs.
	Environment string

	// DependsOn lists job IDs this job depends on.
	DependsOn []string

	// Steps contains the job's execution steps.
	Steps []Step
}

// Step represents a single step within a CI job.
type Step struct {
	// Name is the step display name.
	Name string

	// Run is the shell command to execute.
	Run string
}

// Generator is the interface for CI provider-specific workflow generators.
type Generator interface {
	// Generate produces the deploy workflow file content.
	Generate(w Workflow) ([]byte, error)

	// GenerateTeardown produces the teardown workflow file content, or nil
	// when the workflow has no teardown jobs.
	GenerateTeardown(w Workflow) ([]byte, error)

	// DefaultOutputPath returns the conventional output path for this provider.
	DefaultOutputPath() string

	// DefaultTeardownOutputPath returns the conventional teardown output path.
	DefaultTeardownOutputPath() string
}
