package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/davidthor/catalogctl/pkg/engine"
	"github.com/davidthor/catalogctl/pkg/engine/planner"
	"github.com/davidthor/catalogctl/pkg/graph/visual"
)

func newPlanCmd() *cobra.Command {
	var (
		environment string
		operation   string
		force       bool
		format      string
	)

	cmd := &cobra.Command{
		Use:   "plan [products...]",
		Short: "Preview what a publish, deploy or terminate would do",
		Long: `Compute the change set and execution order for an operation without
calling the backend.

Examples:
  catalogctl plan -e staging
  catalogctl plan -e staging --operation deploy database
  catalogctl plan -e prod --operation terminate
  catalogctl plan -e staging --format mermaid > plan.mmd`,
		RunE: func(cmd *cobra.Command, args []string) error {
			op, err := planner.ParseOperation(operation)
			if err != nil {
				return usageError(err)
			}
			if format != "table" && format != "mermaid" {
				return usageError(fmt.Errorf("unknown format %q (expected table or mermaid)", format))
			}
			envName, err := resolveEnvironment(environment)
			if err != nil {
				return err
			}

			proj, err := openProject(envName, false)
			if err != nil {
				return err
			}
			plan, err := proj.engine.Plan(cmd.Context(), op, engine.Options{
				Environment: envName,
				Products:    args,
				Force:       force,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if format == "mermaid" {
				diagram, err := visual.RenderMermaid(proj.engine.Graph(), visual.MermaidOptions{
					GroupByPortfolio: true,
					Title:            fmt.Sprintf("%s %s", op, envName),
					Only:             plan.Products(),
					Classes:          plan.Classes(),
					ClassStyles:      visual.DefaultClassStyles,
				})
				if err != nil {
					return err
				}
				fmt.Fprint(out, diagram)
				return nil
			}

			printPlan(out, plan)
			return nil
		},
	}

	cmd.Flags().StringVarP(&environment, "environment", "e", "", "Target environment (uses default if not set)")
	cmd.Flags().StringVar(&operation, "operation", string(planner.OperationPublish), "Operation to plan: publish, deploy, terminate")
	cmd.Flags().BoolVar(&force, "force", false, "Plan the selected products regardless of change detection")
	cmd.Flags().StringVar(&format, "format", "table", "Output format: table, mermaid")
	registerCompletions(cmd)

	return cmd
}

func printPlan(w io.Writer, plan *planner.Plan) {
	fmt.Fprintf(w, "Plan: %s %s\n", plan.Operation, plan.Environment)
	fmt.Fprintln(w, strings.Repeat("─", 60))

	if len(plan.Changes) == 0 {
		fmt.Fprintln(w, "  No products selected.")
	}
	for _, change := range plan.Changes {
		fmt.Fprintf(w, "  %-10s %-20s %s\n", change.Action, change.Product, change.Reason)
		if len(change.PropertyChanges) > 0 {
			for _, line := range strings.Split(strings.TrimRight(planner.FormatChanges(change.PropertyChanges), "\n"), "\n") {
				fmt.Fprintf(w, "           %s\n", strings.TrimSpace(line))
			}
		}
		for _, m := range change.Unresolved {
			fmt.Fprintf(w, "           ! %s is not available yet\n", m)
		}
	}

	fmt.Fprintln(w, strings.Repeat("─", 60))
	switch plan.Operation {
	case planner.OperationPublish:
		fmt.Fprintf(w, "%d to publish, %d unchanged\n", plan.ToPublish, plan.NoChange)
	case planner.OperationDeploy:
		fmt.Fprintf(w, "%d to create, %d to update, %d unchanged\n", plan.ToCreate, plan.ToUpdate, plan.NoChange)
	case planner.OperationTerminate:
		fmt.Fprintf(w, "%d to terminate, %d not deployed\n", plan.ToTerminate, plan.NoChange)
	}
}
