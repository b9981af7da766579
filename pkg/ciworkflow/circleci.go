package ciworkflow

import (
	"bytes"
	"fmt"
	"strings"
)

// CircleCIGenerator generates CircleCI pipeline YAML.
type CircleCIGenerator struct{}

// NewCircleCIGenerator creates a new CircleCI generator.
func NewCircleCIGenerator() *CircleCIGenerator {
	return &CircleCIGenerator{}
}

// DefaultOutputPath returns the conventional path for the pipeline.
func (g *CircleCIGenerator) DefaultOutputPath() string {
	return ".circleci/config.yml"
}

// DefaultTeardownOutputPath returns the conventional path for teardown.
func (g *CircleCIGenerator) DefaultTeardownOutputPath() string {
	return ".circleci/teardown.yml"
}

// Generate produces a CircleCI pipeline YAML file.
func (g *CircleCIGenerator) Generate(w Workflow) ([]byte, error) {
	var buf bytes.Buffer

	writeCircleCISetupComment(&buf, w)
	writeCircleCIHeader(&buf, w)

	buf.WriteString("jobs:\n")
	for _, job := range w.Jobs {
		writeCircleCIJob(&buf, job)
	}

	buf.WriteString("workflows:\n")
	buf.WriteString(fmt.Sprintf("  %s:\n", sanitizeCircleCIID(w.Name)))
	buf.WriteString("    jobs:\n")
	writeCircleCIWorkflowJobs(&buf, w.Jobs, "")

	return buf.Bytes(), nil
}

// GenerateTeardown produces a CircleCI teardown pipeline YAML file. The
// workflow starts with an approval job.
func (g *CircleCIGenerator) GenerateTeardown(w Workflow) ([]byte, error) {
	if len(w.TeardownJobs) == 0 {
		return nil, nil
	}

	var buf bytes.Buffer
	writeCircleCIHeader(&buf, w)

	buf.WriteString("jobs:\n")
	for _, job := range w.TeardownJobs {
		writeCircleCIJob(&buf, job)
	}

	buf.WriteString("workflows:\n")
	buf.WriteString("  teardown:\n")
	buf.WriteString("    jobs:\n")
	buf.WriteString("      - approve-teardown:\n")
	buf.WriteString("          type: approval\n")
	writeCircleCIWorkflowJobs(&buf, w.TeardownJobs, "approve-teardown")

	return buf.Bytes(), nil
}

func writeCircleCIHeader(buf *bytes.Buffer, w Workflow) {
	buf.WriteString("version: 2.1\n\n")

	buf.WriteString("commands:\n")
	buf.WriteString("  install-catalogctl:\n")
	buf.WriteString("    steps:\n")
	buf.WriteString("      - run:\n")
	buf.WriteString("          name: Install catalogctl\n")
	buf.WriteString(fmt.Sprintf("          command: %s\n", installCommand(w.InstallVersion)))
	buf.WriteString("\n")

	buf.WriteString("executors:\n")
	buf.WriteString("  catalogctl:\n")
	buf.WriteString("    docker:\n")
	buf.WriteString("      - image: cimg/go:1.23\n")
	if len(w.EnvVars) > 0 {
		buf.WriteString("    environment:\n")
		for _, k := range sortedMapKeys(w.EnvVars) {
			buf.WriteString(fmt.Sprintf("      %s: %s\n", k, w.EnvVars[k]))
		}
	}
	buf.WriteString("\n")
}

// writeCircleCIWorkflowJobs lists jobs with their requires. Jobs without
// dependencies require root when it is set.
func writeCircleCIWorkflowJobs(buf *bytes.Buffer, jobs []Job, root string) {
	for _, job := range jobs {
		requires := job.DependsOn
		if len(requires) == 0 && root != "" {
			requires = []string{root}
		}
		if len(requires) == 0 && job.Environment == "" {
			buf.WriteString(fmt.Sprintf("      - %s\n", job.ID))
			continue
		}
		buf.WriteString(fmt.Sprintf("      - %s:\n", job.ID))
		if job.Environment != "" {
			buf.WriteString(fmt.Sprintf("          context: %s\n", job.Environment))
		}
		if len(requires) > 0 {
			buf.WriteString("          requires:\n")
			for _, dep := range requires {
				buf.WriteString(fmt.Sprintf("            - %s\n", dep))
			}
		}
	}
}

// writeCircleCIJob writes a single job in CircleCI format.
func writeCircleCIJob(buf *bytes.Buffer, job Job) {
	buf.WriteString(fmt.Sprintf("  %s:\n", job.ID))
	buf.WriteString("    executor: catalogctl\n")
	buf.WriteString("    steps:\n")
	buf.WriteString("      - checkout\n")
	buf.WriteString("      - install-catalogctl\n")

	for _, step := range job.Steps {
		buf.WriteString("      - run:\n")
		buf.WriteString(fmt.Sprintf("          name: %s\n", step.Name))
		buf.WriteString(fmt.Sprintf("          command: %s\n", step.Run))
	}

	buf.WriteString("\n")
}

// writeCircleCISetupComment writes configuration instructions.
func writeCircleCISetupComment(buf *bytes.Buffer, w Workflow) {
	secrets, vars := splitVariables(w.Variables, false)
	if len(secrets) == 0 && len(vars) == 0 {
		return
	}

	buf.WriteString("# Configure these in a context per environment:\n")
	if len(secrets) > 0 {
		buf.WriteString(fmt.Sprintf("#   Secrets: %s\n", strings.Join(secrets, ", ")))
	}
	if len(vars) > 0 {
		buf.WriteString(fmt.Sprintf("#   Variables: %s\n", strings.Join(vars, ", ")))
	}
	buf.WriteString("\n")
}

// sanitizeCircleCIID makes a workflow name safe for YAML keys.
func sanitizeCircleCIID(name string) string {
	r := strings.NewReplacer(" ", "-", "/", "-", ".", "-")
	return strings.ToLower(r.Replace(name))
}
