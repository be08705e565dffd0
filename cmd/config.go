package cmd

import (
	"fmt"

	"github.com/mercure-chat/core/cli"
	"github.com/mercure-chat/core/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// NewConfigCmd returns the config command with its subcommands.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the mercure configuration",
		Long: `The configuration is built by merging layers:
1. Global config (~/.config/mercure/mercure.yml)
2. Project config (mercure.yml, searched upward from the current directory)
3. Override files (mercure.override.yml)
4. Environment (MERCURE_API_URL, MERCURE_WS_URL, MERCURE_PUBLIC_ORIGIN, MERCURE_SESSION_FILE)`,
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigValidateCmd())
	cmd.AddCommand(newConfigSchemaCmd())
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the merged configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			if e.opts.JSONOutput {
				return e.printJSON(e.cfg)
			}

			if path, _ := cli.InitConfig(e.opts.ConfigFile); path != "" {
				fmt.Fprintf(e.out, "# Source: %s\n", path)
			}
			data, err := yaml.Marshal(e.cfg)
			if err != nil {
				return fmt.Errorf("failed to encode config: %w", err)
			}
			fmt.Fprint(e.out, string(data))
			return nil
		},
	}
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration against its schema and rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Loading validates every layer.
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			e.pretty.Success("Configuration is valid")
			return nil
		},
	}
}

func newConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of mercure.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := config.GenerateSchema()
			if err != nil {
				return fmt.Errorf("failed to generate schema: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}
