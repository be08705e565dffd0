package cli

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/mercure-chat/core/config"
	"github.com/mercure-chat/core/errors"
	"github.com/mercure-chat/core/logging"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// CommandOptions holds common options for mercure commands
type CommandOptions struct {
	ConfigFile string
	EnvFiles   []string
	Verbose    bool
	JSONOutput bool
}

// NewStandardCommand creates a new command with the standard mercure flags
func NewStandardCommand(use, short string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           use,
		Short:         short,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().Bool("json", false, "Output in JSON format")
	cmd.PersistentFlags().StringP("config", "c", "", "Path to mercure.yml config file")
	cmd.PersistentFlags().StringSlice("env-file", nil, "Load environment variables from these files (default: .env when present)")

	SetStyledHelp(cmd)

	return cmd
}

// GetLogger returns the CLI logger, switched to debug level by --verbose and
// to JSON by --json.
func GetLogger(cmd *cobra.Command) *logrus.Entry {
	entry := logging.NewLogger("cli")

	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		entry.Logger.SetLevel(logrus.DebugLevel)
	}
	if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
		entry.Logger.SetFormatter(&logrus.JSONFormatter{})
	}

	return entry
}

// GetOptions extracts common options from a command
func GetOptions(cmd *cobra.Command) CommandOptions {
	configFile, _ := cmd.Flags().GetString("config")
	envFiles, _ := cmd.Flags().GetStringSlice("env-file")
	verbose, _ := cmd.Flags().GetBool("verbose")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	return CommandOptions{
		ConfigFile: configFile,
		EnvFiles:   envFiles,
		Verbose:    verbose,
		JSONOutput: jsonOutput,
	}
}

// LoadEnv loads the given dotenv files without overriding variables already
// set. With no files, ./.env is loaded when it exists.
func LoadEnv(files []string) error {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		files = []string{".env"}
	}
	if err := godotenv.Load(files...); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigInvalid, "failed to load env file")
	}
	return nil
}

// LoadConfig loads the file named by --config, or the layered configuration
// found from the working directory. Missing files yield the defaults.
func LoadConfig(opts CommandOptions) (*config.Config, error) {
	if opts.ConfigFile != "" {
		return config.Load(opts.ConfigFile)
	}
	return config.LoadDefault()
}

// InitConfig resolves the configuration file path
func InitConfig(configFile string) (string, error) {
	if configFile != "" {
		return configFile, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	foundConfigFile, err := config.FindConfigFile(cwd)
	if err != nil {
		// No config file found, that's okay for most commands
		return "", nil
	}

	return foundConfigFile, nil
}
