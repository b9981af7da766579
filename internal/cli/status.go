package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/davidthor/catalogctl/pkg/engine"
)

// statusRow is the serialized form of a status row.
type statusRow struct {
	Product         string            `json:"product" yaml:"product"`
	Status          string            `json:"status" yaml:"status"`
	Version         string            `json:"version,omitempty" yaml:"version,omitempty"`
	Fingerprint     string            `json:"fingerprint,omitempty" yaml:"fingerprint,omitempty"`
	Commit          string            `json:"commit,omitempty" yaml:"commit,omitempty"`
	DeployedVersion string            `json:"deployed_version,omitempty" yaml:"deployed_version,omitempty"`
	DeployedAt      string            `json:"deployed_at,omitempty" yaml:"deployed_at,omitempty"`
	InstanceID      string            `json:"instance_id,omitempty" yaml:"instance_id,omitempty"`
	Outputs         map[string]string `json:"outputs,omitempty" yaml:"outputs,omitempty"`
}

func newStatusCmd() *cobra.Command {
	var (
		environment  string
		outputFormat string
		showOutputs  bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of every product in an environment",
		Long: `Show the published version, deployed version and instance of every product
in an environment, compared against the product's current content.

Statuses:
  NOT PUBLISHED    no version has been published
  CODE CHANGED     the content differs from the last published version
  PENDING DEPLOY   the published version is not deployed
  OK               the deployed version matches the current content

Examples:
  catalogctl status -e staging
  catalogctl status -e staging --outputs
  catalogctl status -e prod -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			envName, err := resolveEnvironment(environment)
			if err != nil {
				return err
			}
			proj, err := openProject(envName, false)
			if err != nil {
				return err
			}
			rows, err := proj.engine.Status(cmd.Context(), envName)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch outputFormat {
			case "json":
				return marshalJSON(out, statusRows(rows))
			case "yaml":
				return marshalYAML(out, statusRows(rows))
			case "table", "":
				printStatusTable(out, envName, rows, showOutputs)
				return nil
			}
			return usageError(fmt.Errorf("unknown output format %q (expected table, json or yaml)", outputFormat))
		},
	}

	cmd.Flags().StringVarP(&environment, "environment", "e", "", "Target environment (uses default if not set)")
	cmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "Output format: table, json, yaml")
	cmd.Flags().BoolVar(&showOutputs, "outputs", false, "Show captured outputs")
	_ = cmd.RegisterFlagCompletionFunc("environment", completeEnvironmentNames)

	return cmd
}

func statusRows(rows []engine.ProductStatus) []statusRow {
	out := make([]statusRow, 0, len(rows))
	for _, r := range rows {
		row := statusRow{
			Product:         r.Product,
			Status:          string(r.Status),
			Version:         r.Version,
			Fingerprint:     r.Fingerprint,
			Commit:          r.Commit,
			DeployedVersion: r.DeployedVersion,
			InstanceID:      r.InstanceID,
			Outputs:         r.Outputs,
		}
		if !r.DeployedAt.IsZero() {
			row.DeployedAt = r.DeployedAt.Format("2006-01-02 15:04:05")
		}
		out = append(out, row)
	}
	return out
}

func printStatusTable(w io.Writer, envName string, rows []engine.ProductStatus, showOutputs bool) {
	fmt.Fprintf(w, "Environment: %s\n\n", envName)
	fmt.Fprintf(w, "  %-20s %-16s %-22s %-12s %-20s %s\n", "PRODUCT", "STATUS", "VERSION", "SOURCE", "DEPLOYED", "INSTANCE")
	for _, r := range rows {
		source := shortID(r.Fingerprint)
		if r.Commit != "" {
			source = shortID(r.Commit)
		}
		deployed := "-"
		if !r.DeployedAt.IsZero() {
			deployed = r.DeployedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "  %-20s %-16s %-22s %-12s %-20s %s\n",
			truncateString(r.Product, 20),
			r.Status,
			orDash(r.Version),
			orDash(source),
			deployed,
			orDash(r.InstanceID),
		)
		if showOutputs {
			for _, key := range sortedStringMapKeys(r.Outputs) {
				fmt.Fprintf(w, "      %-24s = %s\n", key, r.Outputs[key])
			}
		}
	}
}

// marshalJSON outputs a value as indented JSON.
func marshalJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}

// marshalYAML outputs a value as YAML.
func marshalYAML(w io.Writer, v interface{}) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}
	fmt.Fprint(w, string(data))
	return nil
}

// sortedStringMapKeys returns the keys of a map[string]string in sorted order.
func sortedStringMapKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func truncateString(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func shortID(s string) string {
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
