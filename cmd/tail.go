package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/mercure-chat/core/errors"
	"github.com/mercure-chat/core/pkg/models"
	"github.com/mercure-chat/core/pkg/realtime"
	"github.com/mercure-chat/core/pkg/store"
	"github.com/spf13/cobra"
)

func newTailCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow a channel or DM live",
		Long: `Connect to the realtime channel and print messages as they arrive.
The connection is re-established automatically until interrupted.`,
		Example: `mercure tail --channel general
mercure tail --all --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			ctx, ctrl, done, err := e.session(cmd)
			if err != nil {
				return err
			}
			defer done()

			all, _ := cmd.Flags().GetBool("all")
			history, _ := cmd.Flags().GetInt("history")

			ctrl.Realtime().OnStateChange(func(s realtime.State) {
				if !e.opts.JSONOutput {
					e.pretty.InfoPretty(fmt.Sprintf("-- %s", s))
				}
			})
			creds := ctrl.Session().Credentials()
			if creds.IsZero() {
				return errors.NotLoggedIn()
			}

			// Subscribe first so nothing that arrives while the history
			// page loads is lost.
			updates := ctrl.Store().Subscribe()
			defer ctrl.Store().Unsubscribe(updates)

			if err := ctrl.Realtime().Connect(ctx, creds); err != nil {
				e.logger.WithError(err).Warn("Realtime unavailable, retrying")
			}

			thread, err := selectThread(ctx, cmd, ctrl)
			if err != nil && !(all && errors.Is(err, errors.ErrCodeNoActiveThread)) {
				return err
			}

			msgs := ctrl.Store().Messages()
			printed := make(map[int64]bool, len(msgs))
			for _, m := range msgs {
				printed[m.ID] = true
			}
			if history >= 0 && len(msgs) > history {
				msgs = msgs[len(msgs)-history:]
			}
			for _, m := range msgs {
				emit(e, m)
			}

			for {
				select {
				case <-ctx.Done():
					return nil
				case u, ok := <-updates:
					if !ok {
						return nil
					}
					if u.Type != store.UpdateEvent {
						continue
					}
					ev, ok := u.Payload.(models.Event)
					if !ok || ev.Message == nil {
						continue
					}
					if m := *ev.Message; tailed(m, thread, all, printed) {
						emit(e, m)
					}
				}
			}
		},
	}
	addThreadFlags(cmd)
	cmd.Flags().Bool("all", false, "Print messages from every thread the server streams")
	cmd.Flags().Int("history", 20, "Print this many recent messages first; -1 prints the whole page")
	return cmd
}

func emit(e *env, m models.Message) {
	if e.opts.JSONOutput {
		data, err := json.Marshal(m)
		if err == nil {
			fmt.Fprintln(e.out, string(data))
		}
		return
	}
	printMessage(e, m)
}

// tailed reports whether a live message should be printed and records it.
// Messages already shown with the history page are skipped.
func tailed(m models.Message, thread models.Thread, all bool, printed map[int64]bool) bool {
	if !all && !thread.Contains(m) {
		return false
	}
	if printed[m.ID] {
		return false
	}
	printed[m.ID] = true
	return true
}
