// Package cli implements the catalogctl CLI commands.
package cli

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/davidthor/catalogctl/pkg/logging"

	// Import provisioners and state backends to register them via init()
	_ "github.com/davidthor/catalogctl/pkg/provisioner/servicecatalog"
	_ "github.com/davidthor/catalogctl/pkg/state/backend/azurerm"
	_ "github.com/davidthor/catalogctl/pkg/state/backend/gcs"
	_ "github.com/davidthor/catalogctl/pkg/state/backend/local"
	_ "github.com/davidthor/catalogctl/pkg/state/backend/memory"
	_ "github.com/davidthor/catalogctl/pkg/state/backend/s3"
)

// Persistent flag values shared by every command.
var (
	cfgFile       string
	projectDir    string
	backendType   string
	backendConfig []string
	metricsFile   string
)

// rootCmd represents the base command
var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalogctl",
		Short: "Publish and deploy interdependent catalog products",
		Long: `catalogctl publishes and deploys a catalog of infrastructure products.

Products declare dependencies on each other and map their parameters from
the outputs of their dependencies. catalogctl detects which products changed,
publishes new versions in dependency order, deploys them into an environment
and tears them down again in reverse order.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.New(logging.Config{
				Level:  viper.GetString("log-level"),
				Format: viper.GetString("log-format"),
				Output: cmd.ErrOrStderr(),
			})
			if err != nil {
				return usageError(err)
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cmd.SetContext(logger.WithContext(ctx))
			return nil
		},
	}

	// Global flags
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.catalogctl/config.yaml)")
	flags.StringVar(&projectDir, "project", "", "Project directory containing .deployer/catalog.yaml (default: search from cwd)")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.String("log-format", "console", "Log format (console, json)")
	flags.StringVar(&backendType, "backend", "", "State backend type (local, s3, gcs, azurerm)")
	flags.StringArrayVar(&backendConfig, "backend-config", nil, "Backend configuration (key=value)")
	flags.StringVar(&metricsFile, "metrics-file", "", "Write run metrics in Prometheus text format to this file")

	// Bind to viper
	_ = viper.BindPFlag("log-level", flags.Lookup("log-level"))
	_ = viper.BindPFlag("log-format", flags.Lookup("log-format"))
	_ = viper.BindPFlag("project", flags.Lookup("project"))
	_ = viper.BindPFlag("backend", flags.Lookup("backend"))

	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError(err)
	})

	// Add subcommands
	cmd.AddCommand(newValidateCmd())
	cmd.AddCommand(newPlanCmd())
	cmd.AddCommand(newPublishCmd())
	cmd.AddCommand(newDeployCmd())
	cmd.AddCommand(newTerminateCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newGenerateCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newCompletionCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)
	viper.SetEnvPrefix("CATALOGCTL")
	viper.SetEnvKeyReplacer(envKeyReplacer)
	viper.AutomaticEnv()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Search for config in home directory
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home + "/.catalogctl")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	// Read config file if it exists
	_ = viper.ReadInConfig()
}

// loggerFrom returns the command's logger.
func loggerFrom(cmd *cobra.Command) *zerolog.Logger {
	return zerolog.Ctx(cmd.Context())
}
