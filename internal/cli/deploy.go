package cli

import (
	"github.com/spf13/cobra"

	"github.com/davidthor/catalogctl/pkg/engine/planner"
)

func newDeployCmd() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "deploy [products...]",
		Short: "Deploy published versions into an environment",
		Long: `Create or update the instance of every product whose published version is
not deployed yet. Parameters mapped from dependency outputs are resolved
from the environment's state, so dependencies are deployed first.

Naming products narrows the run to them and their dependents.

Examples:
  catalogctl deploy -e staging
  catalogctl deploy -e staging database api
  catalogctl deploy -e prod --parallelism 4
  catalogctl deploy -e staging --force networking`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOperation(cmd, planner.OperationDeploy, &flags, args)
		},
	}

	flags.register(cmd, true)
	return cmd
}
