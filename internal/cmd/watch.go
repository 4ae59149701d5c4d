package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/hoppxi/wmlink/internal/manager"
	"github.com/hoppxi/wmlink/internal/watchers"
	"github.com/hoppxi/wmlink/pkg/ipc"
	"github.com/spf13/cobra"
)

var watchState bool

// watchSnapshots prints the whole mirror after every event.
func watchSnapshots(ctx context.Context, p ipc.Protocol) error {
	c, err := ipc.Open(ctx, p)
	if err != nil {
		return err
	}
	defer c.Close()
	if !c.Available() {
		return c.Err()
	}

	n := ipc.NewNotifier()
	for _, name := range p.Events().Names() {
		if _, err := c.RegisterHandler(name, n.Handler()); err != nil {
			return err
		}
	}
	enc := json.NewEncoder(os.Stdout)
	last := uint64(0)
	for {
		if v := c.Mirror().Version(); v != last {
			last = v
			if err := enc.Encode(c.Mirror().Snapshot()); err != nil {
				return err
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-c.Done():
			return c.Err()
		case <-n.C():
		}
	}
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print changes as JSON lines",
	Long: "Print every change of the published variables as one JSON object per line,\n" +
		"usable as a waybar custom module or an eww deflisten source.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if watchState {
			p, err := protocol()
			if err != nil {
				return err
			}
			return watchSnapshots(ctx, p)
		}

		filter, err := watchers.NewFilter(settings.Workspaces.Filter)
		if err != nil {
			return err
		}
		pool := ipc.NewPool(ipc.WithLogger(slog.Default()))
		w := &watchers.WorkspaceWatcher{
			Pool:       pool,
			Protocol:   protocol,
			Filter:     filter,
			Persistent: settings.Workspaces.Persistent,
			Sinks:      []watchers.Sink{watchers.NewStdoutSink(os.Stdout)},
		}

		m := manager.NewAppManager()
		m.SetLogger(slog.Default())
		m.SetRetryInterval(settings.RetryInterval)
		m.StartWatcher("watch", w.Run)
		<-ctx.Done()
		m.StopAll()
		pool.Close()
		return nil
	},
}

func init() {
	watchCmd.Flags().BoolVar(&watchState, "state", false, "print the full compositor state instead")
}
