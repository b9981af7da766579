package ciworkflow

import (
	"bytes"
	"fmt"
	"strings"
)

// GitLabCIGenerator generates GitLab CI pipeline YAML.
type GitLabCIGenerator struct{}

// NewGitLabCIGenerator creates a new GitLab CI generator.
func NewGitLabCIGenerator() *GitLabCIGenerator {
	return &GitLabCIGenerator{}
}

// DefaultOutputPath returns the conventional path for the pipeline.
func (g *GitLabCIGenerator) DefaultOutputPath() string {
	return ".gitlab-ci.yml"
}

// DefaultTeardownOutputPath returns the conventional path for the teardown pipeline.
func (g *GitLabCIGenerator) DefaultTeardownOutputPath() string {
	return ".gitlab-ci-teardown.yml"
}

// Generate produces a GitLab CI pipeline YAML file.
func (g *GitLabCIGenerator) Generate(w Workflow) ([]byte, error) {
	var buf bytes.Buffer

	writeGitLabSetupComment(&buf, w)
	writeGitLabPipeline(&buf, w, w.Jobs, false)

	return buf.Bytes(), nil
}

// GenerateTeardown produces a GitLab CI teardown pipeline YAML file. Every
// teardown job is manual.
func (g *GitLabCIGenerator) GenerateTeardown(w Workflow) ([]byte, error) {
	if len(w.TeardownJobs) == 0 {
		return nil, nil
	}

	var buf bytes.Buffer
	writeGitLabPipeline(&buf, w, w.TeardownJobs, true)
	return buf.Bytes(), nil
}

func writeGitLabPipeline(buf *bytes.Buffer, w Workflow, jobs []Job, manual bool) {
	// Stages: derive from job ordering
	stages := deriveStages(jobs)
	buf.WriteString("stages:\n")
	for _, stage := range stages {
		buf.WriteString(fmt.Sprintf("  - %s\n", stage))
	}
	buf.WriteString("\n")

	if len(w.EnvVars) > 0 {
		buf.WriteString("variables:\n")
		for _, k := range sortedMapKeys(w.EnvVars) {
			buf.WriteString(fmt.Sprintf("  %s: %s\n", k, w.EnvVars[k]))
		}
		// Full history so git fingerprints and commit capture work
		buf.WriteString("  GIT_DEPTH: \"0\"\n")
		buf.WriteString("\n")
	}

	// Job template (hidden job for reuse)
	buf.WriteString(".install-catalogctl: &install-catalogctl\n")
	buf.WriteString(fmt.Sprintf("  - %s\n", installCommand(w.InstallVersion)))
	buf.WriteString("  - export PATH=\"$PATH:$(go env GOPATH)/bin\"\n")
	buf.WriteString("\n")

	// Assign stages based on topological depth
	stageMap := assignStages(jobs, stages)
	for _, job := range jobs {
		writeGitLabJob(buf, job, stageMap[job.ID], manual)
	}
}

// writeGitLabJob writes a single job in GitLab CI format.
func writeGitLabJob(buf *bytes.Buffer, job Job, stage string, manual bool) {
	buf.WriteString(fmt.Sprintf("%s:\n", job.ID))
	buf.WriteString(fmt.Sprintf("  stage: %s\n", stage))

	if len(job.DependsOn) > 0 {
		buf.WriteString("  needs:\n")
		for _, dep := range job.DependsOn {
			buf.WriteString(fmt.Sprintf("    - %s\n", dep))
		}
	}
	if job.Environment != "" {
		buf.WriteString("  environment:\n")
		buf.WriteString(fmt.Sprintf("    name: %s\n", job.Environment))
	}
	if manual {
		buf.WriteString("  when: manual\n")
	}
	buf.WriteString("  resource_group: catalog\n")

	buf.WriteString("  image: golang:latest\n")
	buf.WriteString("  script:\n")
	buf.WriteString("    - *install-catalogctl\n")
	for _, step := range job.Steps {
		buf.WriteString(fmt.Sprintf("    - %s\n", step.Run))
	}

	buf.WriteString("\n")
}

// writeGitLabSetupComment writes configuration instructions.
func writeGitLabSetupComment(buf *bytes.Buffer, w Workflow) {
	secrets, vars := splitVariables(w.Variables, false)
	if len(secrets) == 0 && len(vars) == 0 {
		return
	}

	buf.WriteString("# Configure these in Settings > CI/CD > Variables:\n")
	if len(secrets) > 0 {
		buf.WriteString(fmt.Sprintf("#   Protected/Masked: %s\n", strings.Join(secrets, ", ")))
	}
	if len(vars) > 0 {
		buf.WriteString(fmt.Sprintf("#   Variables: %s\n", strings.Join(vars, ", ")))
	}
	buf.WriteString("\n")
}

// deriveStages creates stage names from the job DAG depth.
func deriveStages(jobs []Job) []string {
	if len(jobs) == 0 {
		return nil
	}

	depths := computeJobDepths(jobs)
	maxDepth := 0
	for _, d := range depths {
		if d > maxDepth {
			maxDepth = d
		}
	}

	stages := make([]string, maxDepth+1)
	for i := range stages {
		stages[i] = fmt.Sprintf("stage-%d", i)
	}
	return stages
}

// assignStages maps job IDs to their stage names based on depth.
func assignStages(jobs []Job, stages []string) map[string]string {
	depths := computeJobDepths(jobs)
	result := make(map[string]string, len(jobs))
	for _, job := range jobs {
		d := depths[job.ID]
		if d < len(stages) {
			result[job.ID] = stages[d]
		} else {
			result[job.ID] = stages[len(stages)-1]
		}
	}
	return result
}

// computeJobDepths returns the topological depth of each job.
func computeJobDepths(jobs []Job) map[string]int {
	depths := make(map[string]int, len(jobs))
	for _, job := range jobs {
		depths[job.ID] = 0
	}

	// Iteratively compute depths
	changed := true
	for changed {
		changed = false
		for _, job := range jobs {
			for _, dep := range job.DependsOn {
				if depDepth, ok := depths[dep]; ok {
					newDepth := depDepth + 1
					if newDepth > depths[job.ID] {
						depths[job.ID] = newDepth
						changed = true
					}
				}
			}
		}
	}
	return depths
}
