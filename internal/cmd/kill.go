package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/hoppxi/wmlink/internal/manager"
	"github.com/spf13/cobra"
)

const daemonTimeout = 5 * time.Second

func daemonContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), daemonTimeout)
}

var killCmd = &cobra.Command{
	Use:   "kill",
	Short: "Stop the running daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := daemonContext()
		defer cancel()
		if err := manager.Manage.SendIPCCommand(ctx, manager.CmdStop, nil); err != nil {
			return fmt.Errorf("%w (is the daemon running?)", err)
		}
		fmt.Println("wmlink daemon shut down.")
		return nil
	},
}

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reread the config and restart the watchers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := daemonContext()
		defer cancel()
		if err := manager.Manage.SendIPCCommand(ctx, manager.CmdReload, nil); err != nil {
			return fmt.Errorf("%w (is the daemon running?)", err)
		}
		fmt.Println("wmlink daemon reloaded.")
		return nil
	},
}
