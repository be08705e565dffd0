package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/mercure-chat/core/pkg/paths"
	"github.com/spf13/cobra"
)

// PathsOutput lists the directories and files mercure uses.
type PathsOutput struct {
	ConfigDir   string `json:"config_dir"`
	StateDir    string `json:"state_dir"`
	CacheDir    string `json:"cache_dir"`
	SessionFile string `json:"session_file"`
	LogDir      string `json:"log_dir"`
}

// NewPathsCmd returns the paths command.
func NewPathsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Print the paths used by mercure",
		Long: `Print the paths used by mercure as JSON.

MERCURE_HOME places everything under one directory; otherwise the XDG
base directories apply:
- config_dir: mercure.yml
- state_dir: the stored session and logs
- cache_dir: regenerable data`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := PathsOutput{
				ConfigDir:   paths.ConfigDir(),
				StateDir:    paths.StateDir(),
				CacheDir:    paths.CacheDir(),
				SessionFile: paths.SessionFilePath(),
				LogDir:      paths.LogDir(),
			}

			jsonData, err := json.MarshalIndent(output, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to marshal paths to JSON: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(jsonData))
			return nil
		},
	}
}
