package ciworkflow

import (
	"fmt"
	"sort"
	"strings"

	"github.com/davidthor/catalogctl/pkg/schema/catalog"
)

// Options controls how a workflow is built from a catalog.
type Options struct {
	// Environments to promote through, in order. Empty means every
	// environment in declaration order.
	Environments []string

	// InstallVersion is the catalogctl version installed in CI jobs.
	InstallVersion string

	// Teardown adds terminate jobs for every environment.
	Teardown bool
}

// NewGenerator returns the generator for a CI provider.
func NewGenerator(t OutputType) (Generator, error) {
	switch t {
	case TypeGitHubActions:
		return NewGitHubActionsGenerator(), nil
	case TypeGitLabCI:
		return NewGitLabCIGenerator(), nil
	case TypeCircleCI:
		return NewCircleCIGenerator(), nil
	}
	return nil, fmt.Errorf("invalid type %q; valid values: %s", t, strings.Join(ValidOutputTypes(), ", "))
}

// Build creates the workflow for a catalog. Every environment gets a
// publish job and a deploy job; an environment's publish waits for the
// previous environment's deploy.
func Build(c *catalog.Catalog, opts Options) (Workflow, error) {
	envs := opts.Environments
	if len(envs) == 0 {
		for _, env := range c.Environments {
			envs = append(envs, env.Name)
		}
	}
	for _, name := range envs {
		if _, err := c.Environment(name); err != nil {
			return Workflow{}, err
		}
	}
	if len(envs) == 0 {
		return Workflow{}, fmt.Errorf("catalog declares no environments")
	}

	w := Workflow{
		Name:         "Deploy catalog",
		Environments: envs,
		EnvVars: map[string]string{
			"CATALOGCTL_LOG_FORMAT": "json",
			"CATALOGCTL_LOG_LEVEL":  "info",
		},
		Variables:      Credentials(c, envs),
		InstallVersion: opts.InstallVersion,
	}

	w.Jobs = append(w.Jobs, Job{
		ID:   "validate",
		Name: "Validate catalog",
		Steps: []Step{
			{Name: "Validate catalog", Run: "catalogctl validate"},
		},
	})
	previous := "validate"
	for _, env := range envs {
		id := sanitizeJobID(env)
		publish := Job{
			ID:          "publish-" + id,
			Name:        fmt.Sprintf("Publish %s", env),
			Environment: env,
			DependsOn:   []string{previous},
			Steps: []Step{
				{Name: "Validate environment", Run: fmt.Sprintf("catalogctl validate -e %s", env)},
				{Name: "Plan publish", Run: fmt.Sprintf("catalogctl plan -e %s --operation publish", env)},
				{Name: "Publish changed products", Run: fmt.Sprintf("catalogctl publish -e %s", env)},
			},
		}
		deploy := Job{
			ID:          "deploy-" + id,
			Name:        fmt.Sprintf("Deploy %s", env),
			Environment: env,
			DependsOn:   []string{publish.ID},
			Steps: []Step{
				{Name: "Plan deploy", Run: fmt.Sprintf("catalogctl plan -e %s --operation deploy", env)},
				{Name: "Deploy published versions", Run: fmt.Sprintf("catalogctl deploy -e %s", env)},
				{Name: "Show status", Run: fmt.Sprintf("catalogctl status -e %s", env)},
			},
		}
		w.Jobs = append(w.Jobs, publish, deploy)
		previous = deploy.ID
	}

	if opts.Teardown {
		w.TeardownJobs = BuildTeardownJobs(envs)
	}
	return w, nil
}

// BuildTeardownJobs creates one terminate job per environment. Environments
// are terminated in reverse promotion order.
func BuildTeardownJobs(envs []string) []Job {
	var jobs []Job
	var previous string
	for i := len(envs) - 1; i >= 0; i-- {
		env := envs[i]
		job := Job{
			ID:          "terminate-" + sanitizeJobID(env),
			Name:        fmt.Sprintf("Terminate %s", env),
			Environment: env,
			Steps: []Step{
				{Name: fmt.Sprintf("Terminate %s", env), Run: fmt.Sprintf("catalogctl terminate -e %s --force", env)},
			},
		}
		if previous != "" {
			job.DependsOn = []string{previous}
		}
		jobs = append(jobs, job)
		previous = job.ID
	}
	return jobs
}

// Credentials lists the CI variables the catalog's provisioners, state
// backend and artifact registry read.
func Credentials(c *catalog.Catalog, envs []string) []WorkflowVariable {
	seen := make(map[string]WorkflowVariable)
	add := func(vars ...WorkflowVariable) {
		for _, v := range vars {
			seen[v.EnvName] = v
		}
	}

	aws := []WorkflowVariable{
		{EnvName: "AWS_ACCESS_KEY_ID", Sensitive: true, Description: "AWS access key"},
		{EnvName: "AWS_SECRET_ACCESS_KEY", Sensitive: true, Description: "AWS secret key"},
	}
	for _, name := range envs {
		env, err := c.Environment(name)
		if err != nil {
			continue
		}
		if env.Provisioner == "servicecatalog" {
			add(aws...)
			if env.Region == "" {
				add(WorkflowVariable{EnvName: "AWS_REGION", Description: "region for " + env.Name})
			}
		}
	}

	switch c.Settings.State.Backend {
	case "s3":
		add(aws...)
	case "gcs":
		add(WorkflowVariable{EnvName: "GOOGLE_APPLICATION_CREDENTIALS", Sensitive: true, Description: "GCS service account key file"})
	case "azurerm":
		add(
			WorkflowVariable{EnvName: "AZURE_CLIENT_ID", Description: "service principal client id"},
			WorkflowVariable{EnvName: "AZURE_TENANT_ID", Description: "service principal tenant"},
			WorkflowVariable{EnvName: "AZURE_CLIENT_SECRET", Sensitive: true, Description: "service principal secret"},
		)
	}
	if c.Settings.ArtifactRegistry != "" {
		add(WorkflowVariable{EnvName: "DOCKER_CONFIG", Description: "directory holding registry credentials"})
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	vars := make([]WorkflowVariable, len(names))
	for i, name := range names {
		vars[i] = seen[name]
	}
	return vars
}

// installCommand returns the shell command that installs catalogctl.
func installCommand(version string) string {
	if version == "" {
		version = "latest"
	}
	return fmt.Sprintf("go install github.com/davidthor/catalogctl/cmd/catalogctl@%s", version)
}

// sanitizeJobID makes an environment name safe for use in job IDs.
func sanitizeJobID(name string) string {
	r := strings.NewReplacer("/", "-", ".", "-", " ", "-", "_", "-")
	return strings.ToLower(r.Replace(name))
}

// sortedMapKeys returns sorted keys from a string map.
func sortedMapKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// splitVariables separates secrets from plain variables.
func splitVariables(vars []WorkflowVariable, describe bool) (secrets, plain []string) {
	for _, v := range vars {
		desc := v.EnvName
		if describe && v.Description != "" {
			desc += " (" + v.Description + ")"
		}
		if v.Sensitive {
			secrets = append(secrets, desc)
		} else {
			plain = append(plain, desc)
		}
	}
	return secrets, plain
}
