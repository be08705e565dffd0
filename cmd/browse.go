package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/mercure-chat/core/errors"
	"github.com/mercure-chat/core/pkg/app"
	"github.com/mercure-chat/core/pkg/models"
	"github.com/spf13/cobra"
)

// addThreadFlags registers the flags that pick a workspace and a thread.
func addThreadFlags(cmd *cobra.Command) {
	cmd.Flags().Int64P("workspace", "w", 0, "Workspace id (default: the first one)")
	cmd.Flags().String("channel", "", "Channel name or id")
	cmd.Flags().Int64("dm", 0, "DM id")
}

// selectWorkspace loads the workspace list and opens the one named by
// --workspace, or the first.
func selectWorkspace(ctx context.Context, cmd *cobra.Command, ctrl *app.Controller) (int64, error) {
	if _, err := ctrl.Loader().LoadWorkspaces(ctx); err != nil {
		return 0, err
	}
	id, _ := cmd.Flags().GetInt64("workspace")
	if id == 0 {
		id = ctrl.Store().ActiveWorkspaceID()
	}
	if id == 0 {
		return 0, errors.InvalidInput("no workspace available")
	}

	found := false
	for _, ws := range ctrl.Store().Workspaces() {
		if ws.ID == id {
			found = true
			break
		}
	}
	if !found {
		return 0, errors.InvalidInput(fmt.Sprintf("workspace %d not found", id)).WithDetail("workspace_id", id)
	}

	if err := ctrl.SelectWorkspace(ctx, id); err != nil {
		return 0, err
	}
	return id, nil
}

// selectThread opens the workspace, then the thread named by --channel or
// --dm. Without either the workspace default is kept.
func selectThread(ctx context.Context, cmd *cobra.Command, ctrl *app.Controller) (models.Thread, error) {
	if _, err := selectWorkspace(ctx, cmd, ctrl); err != nil {
		return models.Thread{}, err
	}

	channel, _ := cmd.Flags().GetString("channel")
	dm, _ := cmd.Flags().GetInt64("dm")

	var thread models.Thread
	switch {
	case channel != "":
		ch, ok := findChannel(ctrl.Store().Channels(), channel)
		if !ok {
			return models.Thread{}, errors.InvalidInput(fmt.Sprintf("channel %q not found", channel))
		}
		thread = models.ChannelThread(ch.ID)
	case dm != 0:
		thread = models.DMThread(dm)
		if !ctrl.Store().HasThread(thread) {
			return models.Thread{}, errors.InvalidInput(fmt.Sprintf("dm %d not found", dm))
		}
	default:
		thread = ctrl.Store().ActiveThread()
		if thread.IsZero() {
			return models.Thread{}, errors.NoActiveThread()
		}
		return thread, nil
	}

	if thread != ctrl.Store().ActiveThread() {
		if err := ctrl.SelectThread(ctx, thread); err != nil {
			return models.Thread{}, err
		}
	}
	return thread, nil
}

// findChannel matches by id first, then by name ignoring case and a
// leading '#'.
func findChannel(channels []models.Channel, ref string) (models.Channel, bool) {
	ref = strings.TrimPrefix(strings.TrimSpace(ref), "#")
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		for _, ch := range channels {
			if ch.ID == id {
				return ch, true
			}
		}
	}
	for _, ch := range channels {
		if strings.EqualFold(ch.Name, ref) {
			return ch, true
		}
	}
	return models.Channel{}, false
}

func newWorkspacesCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "workspaces",
		Aliases: []string{"ws"},
		Short:   "List your workspaces",
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

			list, err := ctrl.Loader().LoadWorkspaces(ctx)
			if err != nil {
				return err
			}
			if e.opts.JSONOutput {
				return e.printJSON(list)
			}
			if len(list) == 0 {
				e.pretty.InfoPretty("No workspaces")
				return nil
			}
			for _, ws := range list {
				fmt.Fprintf(e.out, "%6d  %s\n", ws.ID, ws.Name)
			}
			return nil
		},
	}
}

type channelsOutput struct {
	WorkspaceID int64                 `json:"workspaceId"`
	Groups      []models.ChannelGroup `json:"groups"`
	DMs         []models.DM           `json:"dms"`
	Members     []memberOutput        `json:"members,omitempty"`
}

type memberOutput struct {
	models.Member
	Online bool `json:"online"`
	Self   bool `json:"self,omitempty"`
}

func newChannelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channels",
		Short: "List the channels, DMs and members of a workspace",
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

			id, err := selectWorkspace(ctx, cmd, ctrl)
			if err != nil {
				return err
			}
			st := ctrl.Store()
			out := channelsOutput{
				WorkspaceID: id,
				Groups:      models.GroupChannels(st.Channels()),
				DMs:         st.DMs(),
			}
			if withMembers, _ := cmd.Flags().GetBool("members"); withMembers {
				self := st.CurrentUserID()
				for _, m := range st.Members() {
					out.Members = append(out.Members, memberOutput{Member: m, Online: st.IsOnline(m.ID), Self: m.ID == self})
				}
			}

			if e.opts.JSONOutput {
				return e.printJSON(out)
			}
			for _, g := range out.Groups {
				title := g.Category
				if title == "" {
					title = "Channels"
				}
				fmt.Fprintln(e.out, title)
				for _, ch := range g.Channels {
					lock := ""
					if ch.IsPrivate {
						lock = " (private)"
					}
					fmt.Fprintf(e.out, "  #%-20s %d%s\n", ch.Name, ch.ID, lock)
				}
			}
			if len(out.DMs) > 0 {
				fmt.Fprintln(e.out, "Direct messages")
				for _, dm := range out.DMs {
					fmt.Fprintf(e.out, "  %-21s %d\n", dmLabel(ctrl, dm), dm.ID)
				}
			}
			if len(out.Members) > 0 {
				fmt.Fprintln(e.out, "Members")
				for _, m := range out.Members {
					status := "offline"
					if m.Online {
						status = "online"
					}
					badge := ""
					if m.IsAdmin() {
						badge = " [admin]"
					}
					if m.Self {
						badge += " (you)"
					}
					fmt.Fprintf(e.out, "  %-21s %s%s\n", m.Username, status, badge)
				}
			}
			return nil
		},
	}
	cmd.Flags().Int64P("workspace", "w", 0, "Workspace id (default: the first one)")
	cmd.Flags().Bool("members", false, "Also list members with their presence")
	return cmd
}

// dmLabel names a DM after its other participants.
func dmLabel(ctrl *app.Controller, dm models.DM) string {
	self := ctrl.Store().CurrentUserID()
	var names []string
	for _, id := range dm.Participants {
		if id == self {
			continue
		}
		if m, ok := ctrl.Store().Member(id); ok {
			names = append(names, m.Username)
		} else {
			names = append(names, fmt.Sprintf("user-%d", id))
		}
	}
	if len(names) == 0 {
		return "(you)"
	}
	return strings.Join(names, ", ")
}

func newMessagesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "messages",
		Short: "Print the latest messages of a channel or DM",
		Example: `mercure messages --channel general
mercure messages -w 3 --dm 12 --json`,
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

			if _, err := selectThread(ctx, cmd, ctrl); err != nil {
				return err
			}
			msgs := ctrl.Store().Messages()
			if e.opts.JSONOutput {
				return e.printJSON(msgs)
			}
			for _, m := range msgs {
				printMessage(e, m)
			}
			return nil
		},
	}
	addThreadFlags(cmd)
	return cmd
}

func printMessage(e *env, m models.Message) {
	sender := m.SenderUsername
	if sender == "" {
		sender = fmt.Sprintf("user-%d", m.SenderID)
	}
	e.pretty.Message(m.CreatedAt, sender, m.Content)
}
