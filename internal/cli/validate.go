package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/davidthor/catalogctl/pkg/engine"
	"github.com/davidthor/catalogctl/pkg/errors"
	"github.com/davidthor/catalogctl/pkg/schema/catalog"
	"github.com/davidthor/catalogctl/pkg/state"
	"github.com/davidthor/catalogctl/pkg/state/backend/memory"
)

func newValidateCmd() *cobra.Command {
	var (
		environment string
		file        string
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the catalog definition",
		Long: `Validate the catalog definition: product names, dependencies, parameter
mappings and the dependency graph. With an environment, also check that
every product can be deployed there.

Examples:
  catalogctl validate
  catalogctl validate -e staging
  catalogctl validate -f ./other/.deployer/catalog.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				c   *catalog.Catalog
				err error
			)
			if file != "" {
				c, err = catalog.LoadFile(file)
			} else {
				c, err = loadCatalog()
			}
			if err != nil {
				return formatValidationError(err)
			}

			// Building the engine checks the dependency graph for cycles.
			eng, err := openCatalogEngine(c)
			if err != nil {
				return formatValidationError(err)
			}

			out := cmd.OutOrStdout()
			if environment == "" {
				fmt.Fprintf(out, "Catalog is valid! (%d products, %d environments)\n", len(c.Products), len(c.Environments))
				return nil
			}
			if err := eng.Validate(environment); err != nil {
				return formatValidationError(err)
			}
			fmt.Fprintf(out, "Catalog is valid for environment %q! (%d products)\n", environment, len(c.Products))
			return nil
		},
	}

	cmd.Flags().StringVarP(&environment, "environment", "e", "", "Also check deployability in this environment")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to catalog.yaml if not in the default location")

	return cmd
}

// openCatalogEngine builds an engine over throwaway state, for checks that
// must not touch the configured backend.
func openCatalogEngine(c *catalog.Catalog) (*engine.Engine, error) {
	return engine.New(engine.Config{
		Catalog: c,
		Store:   state.NewStore(memory.New()),
	})
}

// formatValidationError extracts and displays validation error details
func formatValidationError(err error) error {
	e, ok := errors.As(err)
	if !ok {
		return err
	}

	switch e.Code {
	case errors.ErrCodeValidation:
		if problems := errors.Problems(err); len(problems) > 0 {
			var sb strings.Builder
			sb.WriteString(e.Message)
			sb.WriteString("\n\nValidation errors:\n")
			for _, p := range problems {
				sb.WriteString(fmt.Sprintf("  - %s\n", p))
			}
			return &formattedError{msg: sb.String(), err: err}
		}
	case errors.ErrCodeCycle:
		if cycle, ok := errors.CycleOf(err); ok {
			return &formattedError{msg: "dependency cycle: " + strings.Join(cycle, " -> "), err: err}
		}
	}
	return err
}

// formattedError replaces an error's message and keeps its chain for exit
// code mapping.
type formattedError struct {
	msg string
	err error
}

func (e *formattedError) Error() string { return e.msg }
func (e *formattedError) Unwrap() error { return e.err }
