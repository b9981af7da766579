package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/davidthor/catalogctl/pkg/ciworkflow"
)

func newGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate CI/CD workflows",
		Long:  `Commands for generating files derived from the catalog definition.`,
	}

	cmd.AddCommand(newGenerateWorkflowCmd())

	return cmd
}

func newGenerateWorkflowCmd() *cobra.Command {
	var (
		outputType     string
		outputPath     string
		environments   []string
		installVersion string
		teardown       bool
		teardownOutput string
		stdout         bool
	)

	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Generate a CI workflow that publishes and deploys the catalog",
		Long: `Generates a CI/CD workflow that promotes the catalog through its environments.
Each environment gets a publish job and a deploy job; an environment starts
once the previous one is deployed. With --teardown, a second manually started
workflow terminates the environments in reverse order.

Files are written relative to the project root unless --output is given.

Supported output types:
  github-actions  GitHub Actions workflow YAML
  gitlab-ci       GitLab CI pipeline YAML
  circleci        CircleCI pipeline YAML

Examples:
  catalogctl generate workflow --type github-actions
  catalogctl generate workflow --type gitlab-ci -e staging -e prod
  catalogctl generate workflow --type circleci --teardown
  catalogctl generate workflow --type github-actions --stdout`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			gen, err := ciworkflow.NewGenerator(ciworkflow.OutputType(outputType))
			if err != nil {
				return usageError(err)
			}

			c, err := loadCatalog()
			if err != nil {
				return err
			}
			wf, err := ciworkflow.Build(c, ciworkflow.Options{
				Environments:   environments,
				InstallVersion: installVersion,
				Teardown:       teardown,
			})
			if err != nil {
				return usageError(err)
			}

			data, err := gen.Generate(wf)
			if err != nil {
				return fmt.Errorf("failed to generate workflow: %w", err)
			}
			if stdout {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}

			path := outputPath
			if path == "" {
				path = filepath.Join(c.Root, gen.DefaultOutputPath())
			}
			if err := writeOutput(path, data); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Workflow written to %s\n", path)

			if !teardown {
				return nil
			}
			teardownBytes, err := gen.GenerateTeardown(wf)
			if err != nil {
				return fmt.Errorf("failed to generate teardown workflow: %w", err)
			}
			if teardownBytes == nil {
				return nil
			}
			tdPath := teardownOutput
			if tdPath == "" {
				tdPath = filepath.Join(c.Root, gen.DefaultTeardownOutputPath())
			}
			if err := writeOutput(tdPath, teardownBytes); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Teardown workflow written to %s\n", tdPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputType, "type", "t", "", "Output type (required): github-actions, gitlab-ci, circleci")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path (defaults to type-specific path)")
	cmd.Flags().StringArrayVarP(&environments, "environment", "e", nil, "Environments to promote through, in order (default: all)")
	cmd.Flags().StringVar(&installVersion, "install-version", "latest", "catalogctl version to install in workflows")
	cmd.Flags().BoolVar(&teardown, "teardown", false, "Also generate a teardown workflow")
	cmd.Flags().StringVar(&teardownOutput, "teardown-output", "", "Teardown workflow path (defaults to type-specific path)")
	cmd.Flags().BoolVar(&stdout, "stdout", false, "Print the deploy workflow instead of writing it")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.RegisterFlagCompletionFunc("environment", completeEnvironmentNames)
	_ = cmd.RegisterFlagCompletionFunc("type", cobra.FixedCompletions(ciworkflow.ValidOutputTypes(), cobra.ShellCompDirectiveNoFileComp))

	return cmd
}

// writeOutput writes data to path, creating parent directories.
func writeOutput(path string, data []byte) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return os.WriteFile(path, data, 0644)
}
