package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/goccy/go-json"
	"github.com/hoppxi/wmlink/internal/manager"
	"github.com/spf13/cobra"
)

var statusJSON bool

var (
	colorKey   = color.New(color.FgMagenta).SprintfFunc()
	colorValue = color.New(color.FgWhite, color.Bold).SprintfFunc()
	colorOK    = color.New(color.FgGreen, color.Bold).SprintfFunc()
	colorBad   = color.New(color.FgRed, color.Bold).SprintfFunc()
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show what the daemon is doing",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := daemonContext()
		defer cancel()

		var st manager.Status
		if err := manager.Manage.SendIPCCommand(ctx, manager.CmdStatus, &st); err != nil {
			return err
		}
		if statusJSON {
			return json.NewEncoder(os.Stdout).Encode(st)
		}

		line := func(k, v string) { fmt.Printf("%-12s %s\n", colorKey("%s", k), v) }
		line("pid", colorValue("%d", st.PID))
		line("up since", humanize.Time(st.Started))
		line("config", st.Config)
		line("sinks", strings.Join(st.Sinks, ", "))

		ws := st.Workspace
		compositor := ws.Compositor
		if compositor == "" {
			compositor = "unknown"
		}
		if ws.Version != "" {
			compositor += " " + ws.Version
		}
		if ws.Connected {
			line("compositor", colorOK("%s", compositor))
		} else {
			line("compositor", colorBad("%s (disconnected)", compositor))
		}
		last := "never"
		if !ws.LastEvent.IsZero() {
			last = humanize.Time(ws.LastEvent)
		}
		line("events", fmt.Sprintf("%s, last %s", humanize.Comma(int64(ws.Events)), last))
		line("updates", humanize.Comma(int64(ws.Updates)))
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print JSON")
}
