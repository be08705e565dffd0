package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mercure-chat/core/errors"
	"github.com/spf13/cobra"
)

func newSendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send [message...]",
		Short: "Send a message to a channel or DM",
		Long:  "Send a message. With no arguments the message is read from stdin.",
		Example: `mercure send --channel general "deploy is done"
git log -1 --format=%s | mercure send --channel releases`,
		RunE: func(cmd *cobra.Command, args []string) error {
			content := strings.Join(args, " ")
			if len(args) == 0 {
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return errors.Wrap(err, errors.ErrCodeInvalidInput, "failed to read message from stdin")
				}
				content = string(data)
			}
			content = strings.TrimSpace(content)
			if content == "" {
				return errors.InvalidInput("message is empty")
			}

			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			ctx, ctrl, done, err := e.session(cmd)
			if err != nil {
				return err
			}
			defer done()

			thread, err := selectThread(ctx, cmd, ctrl)
			if err != nil {
				return err
			}
			msg, err := ctrl.Send(ctx, content)
			if err != nil {
				return err
			}

			if e.opts.JSONOutput {
				return e.printJSON(msg)
			}
			e.pretty.Success(fmt.Sprintf("Sent message %d to %s", msg.ID, thread))
			return nil
		},
	}
	addThreadFlags(cmd)
	return cmd
}
