package cli

import (
	"github.com/spf13/cobra"

	"github.com/davidthor/catalogctl/pkg/engine"
	"github.com/davidthor/catalogctl/pkg/engine/planner"
	"github.com/davidthor/catalogctl/pkg/errors"
)

// runFlags are the flags shared by publish, deploy and terminate.
type runFlags struct {
	environment string
	dryRun      bool
	force       bool
	parallelism int
	noCommit    bool
}

func (f *runFlags) register(cmd *cobra.Command, parallel bool) {
	cmd.Flags().StringVarP(&f.environment, "environment", "e", "", "Target environment (uses default if not set)")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "Show what would happen without calling the backend")
	cmd.Flags().BoolVar(&f.force, "force", false, "Process the selected products regardless of change detection")
	if parallel {
		cmd.Flags().IntVar(&f.parallelism, "parallelism", 0, "Max products processed at once (default from settings.parallelism)")
	}
	registerCompletions(cmd)
}

// runOperation executes op for the selected products and prints progress.
// A run with failed or blocked products returns a runFailed error.
func runOperation(cmd *cobra.Command, op planner.Operation, flags *runFlags, products []string) error {
	envName, err := resolveEnvironment(flags.environment)
	if err != nil {
		return err
	}
	if flags.parallelism < 0 {
		return usageError(errors.New(errors.ErrCodeValidation, "--parallelism must not be negative"))
	}

	proj, err := openProject(envName, !flags.dryRun)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	ctx := cmd.Context()

	progress := NewProgressTable(out)
	plan, err := proj.engine.Plan(ctx, op, engine.Options{Environment: envName, Products: products, Force: flags.force})
	if err != nil {
		return err
	}
	for _, change := range plan.Changes {
		if change.Action == planner.ActionNoop {
			continue
		}
		var deps []string
		if p, ok := proj.catalog.Product(change.Product); ok {
			deps = p.Dependencies
		}
		progress.AddProduct(change.Product, deps)
	}

	header := string(op) + " " + envName
	if flags.dryRun {
		header += " (dry run)"
	}
	progress.PrintInitial(header)

	report, err := proj.engine.Run(ctx, op, engine.Options{
		Environment: envName,
		Products:    products,
		Force:       flags.force,
		DryRun:      flags.dryRun,
		NoCommit:    flags.noCommit,
		Parallelism: flags.parallelism,
		OnOutcome:   progress.Record,
	})
	if err != nil {
		if errors.CodeOf(err) == "" {
			err = errors.BackendError(string(op), "run", err)
		}
		return err
	}

	progress.PrintFinalSummary(report)
	if err := proj.writeMetrics(); err != nil {
		loggerFrom(cmd).Warn().Err(err).Str("path", metricsFile).Msg("failed to write metrics")
	}

	if !report.Succeeded() {
		return &runFailed{report: report}
	}
	return nil
}
