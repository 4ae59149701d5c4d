package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/goccy/go-json"
	"github.com/hoppxi/wmlink/internal/manager"
	"github.com/hoppxi/wmlink/internal/watchers"
	"github.com/hoppxi/wmlink/pkg/ipc"
	"github.com/spf13/cobra"
)

var (
	listJSON   bool
	listFilter string
	listAll    bool
)

// snapshot asks the daemon for its mirror and otherwise reads the
// compositor directly. Naming a compositor on the command line skips the
// daemon.
func snapshot(ctx context.Context) (ipc.Snapshot, error) {
	var snap ipc.Snapshot
	if compositor == "" && socketPath == "" {
		err := manager.Manage.SendIPCCommand(ctx, manager.CmdState, &snap)
		if err == nil {
			return snap, nil
		}
		slog.Debug("daemon state unavailable, asking the compositor", "err", err)
	}

	p, err := protocol()
	if err != nil {
		return snap, err
	}
	c, err := ipc.Open(ctx, p, ipc.WithoutEvents())
	if err != nil {
		return snap, err
	}
	defer c.Close()
	if !c.Available() {
		return snap, c.Err()
	}
	return c.Mirror().Snapshot(), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

var workspacesCmd = &cobra.Command{
	Use:     "workspaces",
	Aliases: []string{"ws"},
	Short:   "List workspaces",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := daemonContext()
		defer cancel()
		snap, err := snapshot(ctx)
		if err != nil {
			return err
		}

		w := &watchers.WorkspaceWatcher{Persistent: settings.Workspaces.Persistent}
		expr := settings.Workspaces.Filter
		if listFilter != "" {
			expr = listFilter
		}
		if !listAll {
			if w.Filter, err = watchers.NewFilter(expr); err != nil {
				return err
			}
		}
		ws := w.Workspaces(snap)
		if listJSON {
			return printJSON(ws)
		}

		for _, s := range ws {
			marker := " "
			c := color.New(color.FgWhite)
			switch {
			case s.Focused:
				marker = "*"
				c = color.New(color.FgGreen, color.Bold)
			case s.Urgent:
				marker = "!"
				c = color.New(color.FgRed, color.Bold)
			case s.Active:
				marker = "+"
				c = color.New(color.FgCyan)
			case s.Persistent && s.Output == "":
				c = color.New(color.FgHiBlack)
			}
			fmt.Printf("%s %s %s %s\n", marker, c.Sprintf("%-16s", s.Name),
				color.HiBlackString("%-10s", s.Output), color.YellowString("%d windows", s.Windows))
		}
		return nil
	},
}

var windowsCmd = &cobra.Command{
	Use:   "windows",
	Short: "List windows",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := daemonContext()
		defer cancel()
		snap, err := snapshot(ctx)
		if err != nil {
			return err
		}
		if listJSON {
			return printJSON(snap.Windows)
		}

		names := make(map[int64]string, len(snap.Workspaces))
		for _, ws := range snap.Workspaces {
			names[ws.ID] = ws.Name
		}
		for _, w := range snap.Windows {
			ws := "-"
			if w.WorkspaceID != nil {
				ws = names[*w.WorkspaceID]
			}
			title := w.Title
			if w.Focused {
				title = color.New(color.FgGreen, color.Bold).Sprint(title)
			}
			fmt.Printf("%8d %-10s %s %s\n", w.ID, ws, title, color.HiBlackString("(%s)", w.AppID))
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{workspacesCmd, windowsCmd} {
		c.Flags().BoolVar(&listJSON, "json", false, "print JSON")
	}
	workspacesCmd.Flags().StringVar(&listFilter, "filter", "", "filter expression (default from config)")
	workspacesCmd.Flags().BoolVar(&listAll, "all", false, "ignore the configured filter")
}
