package ciworkflow

import (
	"bytes"
	"fmt"
	"strings"
)

// GitHubActionsGenerator generates GitHub Actions workflow YAML.
type GitHubActionsGenerator struct{}

// NewGitHubActionsGenerator creates a new GitHub Actions generator.
func NewGitHubActionsGenerator() *GitHubActionsGenerator {
	return &GitHubActionsGenerator{}
}

// DefaultOutputPath returns the conventional path for the deploy workflow.
func (g *GitHubActionsGenerator) DefaultOutputPath() string {
	return ".github/workflows/catalog-deploy.yml"
}

// DefaultTeardownOutputPath returns the conventional path for the teardown workflow.
func (g *GitHubActionsGenerator) DefaultTeardownOutputPath() string {
	return ".github/workflows/catalog-teardown.yml"
}

// Generate produces a GitHub Actions deploy workflow YAML file.
func (g *GitHubActionsGenerator) Generate(w Workflow) ([]byte, error) {
	var buf bytes.Buffer

	// Header comment with setup instructions
	writeSetupComment(&buf, w)

	buf.WriteString(fmt.Sprintf("name: %s\n", w.Name))
	buf.WriteString("on:\n")
	buf.WriteString("  push:\n")
	buf.WriteString("    branches: [main]\n")
	buf.WriteString("  workflow_dispatch:\n")
	buf.WriteString("\n")

	// Runs against one state store must not overlap
	buf.WriteString("concurrency:\n")
	buf.WriteString("  group: catalog-deploy\n")
	buf.WriteString("  cancel-in-progress: false\n")
	buf.WriteString("\n")

	writeGitHubEnv(&buf, w.EnvVars)

	buf.WriteString("jobs:\n")
	for _, job := range w.Jobs {
		writeGitHubJob(&buf, job, w.InstallVersion)
	}

	return buf.Bytes(), nil
}

// GenerateTeardown produces a GitHub Actions teardown workflow YAML file.
func (g *GitHubActionsGenerator) GenerateTeardown(w Workflow) ([]byte, error) {
	if len(w.TeardownJobs) == 0 {
		return nil, nil
	}

	var buf bytes.Buffer

	teardownName := strings.Replace(w.Name, "Deploy", "Teardown", 1)
	if teardownName == w.Name {
		teardownName = w.Name + " - Teardown"
	}
	buf.WriteString(fmt.Sprintf("name: %s\n", teardownName))

	// Teardown only runs when started by hand
	buf.WriteString("on:\n")
	buf.WriteString("  workflow_dispatch:\n")
	buf.WriteString("\n")

	buf.WriteString("concurrency:\n")
	buf.WriteString("  group: catalog-deploy\n")
	buf.WriteString("  cancel-in-progress: false\n")
	buf.WriteString("\n")

	writeGitHubEnv(&buf, w.EnvVars)

	buf.WriteString("jobs:\n")
	for _, job := range w.TeardownJobs {
		writeGitHubJob(&buf, job, w.InstallVersion)
	}

	return buf.Bytes(), nil
}

func writeGitHubEnv(buf *bytes.Buffer, envVars map[string]string) {
	if len(envVars) == 0 {
		return
	}
	buf.WriteString("env:\n")
	for _, k := range sortedMapKeys(envVars) {
		buf.WriteString(fmt.Sprintf("  %s: %s\n", k, envVars[k]))
	}
	buf.WriteString("\n")
}

// writeGitHubJob writes a single job in GitHub Actions YAML format.
func writeGitHubJob(buf *bytes.Buffer, job Job, installVersion string) {
	buf.WriteString(fmt.Sprintf("  %s:\n", job.ID))
	buf.WriteString(fmt.Sprintf("    name: %s\n", job.Name))
	if len(job.DependsOn) > 0 {
		buf.WriteString(fmt.Sprintf("    needs: [%s]\n", strings.Join(job.DependsOn, ", ")))
	}
	if job.Environment != "" {
		// Lets repository protection rules gate each environment
		buf.WriteString(fmt.Sprintf("    environment: %s\n", job.Environment))
	}
	buf.WriteString("    runs-on: ubuntu-latest\n")
	buf.WriteString("    steps:\n")

	// Full history so git fingerprints and commit capture work
	buf.WriteString("      - uses: actions/checkout@v4\n")
	buf.WriteString("        with:\n")
	buf.WriteString("          fetch-depth: 0\n")
	buf.WriteString("      - uses: actions/setup-go@v5\n")
	buf.WriteString("        with:\n")
	buf.WriteString("          go-version: stable\n")
	buf.WriteString("      - name: Install catalogctl\n")
	buf.WriteString(fmt.Sprintf("        run: %s\n", installCommand(installVersion)))

	for _, step := range job.Steps {
		buf.WriteString(fmt.Sprintf("      - name: %s\n", step.Name))
		buf.WriteString(fmt.Sprintf("        run: %s\n", step.Run))
	}

	buf.WriteString("\n")
}

// writeSetupComment writes a comment block describing required CI configuration.
func writeSetupComment(buf *bytes.Buffer, w Workflow) {
	secrets, vars := splitVariables(w.Variables, true)
	if len(secrets) == 0 && len(vars) == 0 {
		return
	}

	buf.WriteString("# Configure these in Settings > Secrets and variables > Actions:\n")
	if len(secrets) > 0 {
		buf.WriteString(fmt.Sprintf("#   Secrets: %s\n", strings.Join(secrets, ", ")))
	}
	if len(vars) > 0 {
		buf.WriteString(fmt.Sprintf("#   Variables: %s\n", strings.Join(vars, ", ")))
	}
	buf.WriteString("\n")
}
