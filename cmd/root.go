// Package cmd holds the mercure command tree.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/mercure-chat/core/cli"
	"github.com/mercure-chat/core/config"
	"github.com/mercure-chat/core/logging"
	"github.com/mercure-chat/core/pkg/app"
	"github.com/mercure-chat/core/version"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// NewRootCmd builds the mercure command tree.
func NewRootCmd() *cobra.Command {
	root := cli.NewStandardCommand("mercure", "Chat with mercure workspaces from the terminal")
	cli.SetVersionTemplate(root, version.GetInfo())
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return cli.LoadEnv(cli.GetOptions(cmd).EnvFiles)
	}

	root.AddCommand(
		newLoginCmd(),
		newLogoutCmd(),
		newWhoamiCmd(),
		newWorkspacesCmd(),
		newChannelsCmd(),
		newMessagesCmd(),
		newSendCmd(),
		newTailCmd(),
		NewConfigCmd(),
		NewPathsCmd(),
		NewLogsCmd(),
		cli.NewVersionCommand("mercure", version.GetInfo()),
	)
	return root
}

// Execute runs the command tree and returns the process exit code.
func Execute() int {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		verbose, _ := root.PersistentFlags().GetBool("verbose")
		_ = cli.NewErrorHandler(verbose).Handle(err)
		return 1
	}
	return 0
}

// env is what a command needs once configuration is loaded.
type env struct {
	cfg    *config.Config
	opts   cli.CommandOptions
	logger *logrus.Entry
	out    io.Writer
	pretty *logging.PrettyLogger
}

// loadEnv loads the configuration and applies its logging section.
func loadEnv(cmd *cobra.Command) (*env, error) {
	opts := cli.GetOptions(cmd)
	cfg, err := cli.LoadConfig(opts)
	if err != nil {
		return nil, err
	}

	var logCfg logging.Config
	if err := cfg.UnmarshalExtension("logging", &logCfg); err != nil {
		return nil, err
	}
	logging.SetGlobalOutput(cmd.ErrOrStderr())
	logging.SetConfig(logCfg)

	return &env{
		cfg:    cfg,
		opts:   opts,
		logger: cli.GetLogger(cmd),
		out:    cmd.OutOrStdout(),
		pretty: logging.NewPrettyLogger().WithWriter(cmd.OutOrStdout()),
	}, nil
}

// session opens a controller on the persisted session. The returned
// context is cancelled on SIGINT or SIGTERM.
func (e *env) session(cmd *cobra.Command) (context.Context, *app.Controller, func(), error) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	ctrl, err := app.Open(ctx, e.cfg, app.Options{})
	if err != nil {
		stop()
		return nil, nil, nil, err
	}
	cleanup := func() {
		if err := ctrl.Close(); err != nil {
			e.logger.WithError(err).Debug("Close failed")
		}
		stop()
	}
	return ctx, ctrl, cleanup, nil
}

func (e *env) printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	fmt.Fprintln(e.out, string(data))
	return nil
}
