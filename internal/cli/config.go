package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// ConfigKeyDefaultEnvironment is the viper/config key for the default environment.
	ConfigKeyDefaultEnvironment = "default_environment"

	// EnvDefaultEnvironment is the environment variable for the default environment.
	EnvDefaultEnvironment = "CATALOGCTL_ENVIRONMENT"
)

// envKeyReplacer maps flag-style viper keys to environment variable names,
// e.g. log-level to CATALOGCTL_LOG_LEVEL.
var envKeyReplacer = strings.NewReplacer("-", "_")

// configKeys are the keys `config set` accepts, CLI spelling first.
var configKeys = map[string]string{
	"default-environment": ConfigKeyDefaultEnvironment,
	"backend":             "backend",
	"log-level":           "log-level",
	"log-format":          "log-format",
	"project":             "project",
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage CLI configuration",
		Long:  `Get and set catalogctl CLI configuration values stored in ~/.catalogctl/config.yaml.`,
	}

	cmd.AddCommand(newConfigSetCmd())
	cmd.AddCommand(newConfigGetCmd())
	cmd.AddCommand(newConfigListCmd())

	return cmd
}

func newConfigSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Long: `Set a configuration value in ~/.catalogctl/config.yaml.

Available keys:
  default-environment   The environment used when --environment/-e is not specified.
  backend               Default state backend type.
  log-level             Default log level.
  log-format            Default log format (console, json).
  project               Default project directory.

Examples:
  catalogctl config set default-environment staging`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			value := args[1]

			viperKey, ok := normalizeConfigKey(key)
			if !ok {
				return usageError(fmt.Errorf("unknown configuration key %q\n\nAvailable keys:\n  %s", key, strings.Join(sortedConfigKeys(), "\n  ")))
			}

			viper.Set(viperKey, value)
			if err := writeConfig(); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %s\n", key, value)
			return nil
		},
	}

	return cmd
}

func newConfigGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Get a configuration value",
		Long: `Get a configuration value from ~/.catalogctl/config.yaml.

Examples:
  catalogctl config get default-environment`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			viperKey, ok := normalizeConfigKey(key)
			if !ok {
				return usageError(fmt.Errorf("unknown configuration key %q", key))
			}

			value := viper.GetString(viperKey)
			if value == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "%s is not set\n", key)
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), value)
			}
			return nil
		},
	}

	return cmd
}

func newConfigListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all configuration values",
		Long:  `List all configuration values from ~/.catalogctl/config.yaml.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Configuration:")
			set := 0
			for _, key := range sortedConfigKeys() {
				if value := viper.GetString(configKeys[key]); value != "" {
					fmt.Fprintf(out, "  %s = %s\n", key, value)
					set++
				}
			}
			if set == 0 {
				fmt.Fprintln(out, "  (no values set)")
			}

			return nil
		},
	}

	return cmd
}

// resolveEnvironment resolves the environment name from multiple sources.
//
// Precedence (highest to lowest):
//  1. --environment/-e flag (explicit)
//  2. CATALOGCTL_ENVIRONMENT environment variable
//  3. default_environment from ~/.catalogctl/config.yaml
//  4. Error if none set
func resolveEnvironment(flagValue string) (string, error) {
	// 1. Explicit flag
	if flagValue != "" {
		return flagValue, nil
	}

	// 2. Environment variable
	if envVal := os.Getenv(EnvDefaultEnvironment); envVal != "" {
		return envVal, nil
	}

	// 3. Config file default
	if configVal := viper.GetString(ConfigKeyDefaultEnvironment); configVal != "" {
		return configVal, nil
	}

	// 4. Error
	return "", usageError(fmt.Errorf(
		"no environment specified\n\n" +
			"Specify an environment using one of:\n" +
			"  --environment/-e flag\n" +
			"  CATALOGCTL_ENVIRONMENT environment variable\n" +
			"  catalogctl config set default-environment <name>",
	))
}

// writeConfig writes the current viper config to the config file.
func writeConfig() error {
	configPath := viper.ConfigFileUsed()
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir := filepath.Join(home, ".catalogctl")
		if err := os.MkdirAll(configDir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
		configPath = filepath.Join(configDir, "config.yaml")
	}

	return viper.WriteConfigAs(configPath)
}

// normalizeConfigKey converts CLI-style keys (with dashes) to viper keys.
func normalizeConfigKey(key string) (string, bool) {
	if k, ok := configKeys[key]; ok {
		return k, true
	}
	for _, k := range configKeys {
		if k == key {
			return k, true
		}
	}
	return "", false
}

func sortedConfigKeys() []string {
	keys := make([]string, 0, len(configKeys))
	for k := range configKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
