package cli

import (
	"github.com/spf13/cobra"

	"github.com/davidthor/catalogctl/pkg/engine/planner"
)

func newPublishCmd() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "publish [products...]",
		Short: "Publish new versions of changed products",
		Long: `Publish a new version of every product whose content changed since its
last publish, plus every product that depends on one. Products are
published in dependency order; a failure blocks the failed product's
dependents while independent products continue.

Naming products narrows the run to them and their dependents.

Inside a git repository, uncommitted changes to the catalog definition or
any product directory are committed first ("Publish: <products>") so the
recorded commit matches the published content. --no-commit fails instead.

Examples:
  catalogctl publish -e staging
  catalogctl publish -e staging networking
  catalogctl publish -e prod --force database
  catalogctl publish -e staging --dry-run
  catalogctl publish -e staging --no-commit`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOperation(cmd, planner.OperationPublish, &flags, args)
		},
	}

	flags.register(cmd, true)
	cmd.Flags().BoolVar(&flags.noCommit, "no-commit", false, "Fail on uncommitted changes instead of committing them first")
	return cmd
}
