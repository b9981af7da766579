package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/davidthor/catalogctl/pkg/engine"
	"github.com/davidthor/catalogctl/pkg/engine/planner"
)

func newTerminateCmd() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "terminate [products...]",
		Short: "Terminate deployed product instances",
		Long: `Terminate the instances of an environment, dependents before the products
they depend on. Naming products terminates them and everything that depends
on them. Publish history is kept.

Terminate asks for confirmation unless --force or --dry-run is given. When
stdin is not a terminal, --force is required.

Examples:
  catalogctl terminate -e staging
  catalogctl terminate -e staging api --force
  catalogctl terminate -e staging --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !flags.dryRun && !flags.force {
				envName, err := resolveEnvironment(flags.environment)
				if err != nil {
					return err
				}
				confirmed, err := confirmTerminate(cmd, envName, args)
				if err != nil {
					return err
				}
				if !confirmed {
					fmt.Fprintln(cmd.OutOrStdout(), "Terminate cancelled.")
					return nil
				}
			}
			return runOperation(cmd, planner.OperationTerminate, &flags, args)
		},
	}

	flags.register(cmd, false)
	return cmd
}

// confirmTerminate lists what would be terminated and asks for approval.
func confirmTerminate(cmd *cobra.Command, envName string, products []string) (bool, error) {
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); !ok || !term.IsTerminal(int(f.Fd())) {
		return false, usageError(fmt.Errorf("terminate needs confirmation: rerun with --force when stdin is not a terminal"))
	}

	proj, err := openProject(envName, false)
	if err != nil {
		return false, err
	}
	plan, err := proj.engine.Plan(cmd.Context(), planner.OperationTerminate, engine.Options{Environment: envName, Products: products})
	if err != nil {
		return false, err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Environment: %s\n\n", envName)
	if plan.ToTerminate == 0 {
		fmt.Fprintln(out, "No deployed products to terminate.")
		return false, nil
	}
	fmt.Fprintln(out, "The following instances will be terminated:")
	fmt.Fprintln(out)
	for _, change := range plan.Changes {
		if change.Action == planner.ActionTerminate {
			fmt.Fprintf(out, "  - %s (%s)\n", change.Product, change.Reason)
		}
	}
	fmt.Fprintln(out)

	return promptYesNo(in, out, "Are you sure you want to terminate these instances? [y/N]: ")
}

func promptYesNo(in io.Reader, out io.Writer, question string) (bool, error) {
	fmt.Fprint(out, question)
	response, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	response = strings.ToLower(strings.TrimSpace(response))
	return response == "y" || response == "yes", nil
}
