package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/hoppxi/wmlink/internal/manager"
	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the daemon in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		if conn, err := manager.Manage.ConnectIPC(); err == nil {
			conn.Close()
			fmt.Println("Daemon already running. Use `wmlink reload` to apply config changes.")
			return nil
		}

		ctl := manager.NewControlServer(manager.SocketPath(), slog.Default())
		manager.Manage.RegisterCommands(ctl, manager.Config)
		if err := ctl.Listen(); err != nil {
			return err
		}
		go func() {
			if err := ctl.Serve(); err != nil {
				slog.Error("control server stopped", "err", err)
			}
		}()

		if err := manager.Manage.Start(settings); err != nil {
			ctl.Close()
			return err
		}
		manager.Config.Watch(func(s manager.Settings) {
			slog.Info("config changed, reloading", "file", manager.Config.Path())
			if err := manager.Manage.Reload(s); err != nil {
				slog.Error("reload failed", "err", err)
			}
		})

		if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
			slog.Warn("sd_notify failed", "err", err)
		} else if ok {
			slog.Debug("notified systemd")
		}
		slog.Info("daemon started", "pid", os.Getpid(), "compositor", settings.Compositor)

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		select {
		case sig := <-sigChan:
			slog.Info("received shutdown signal", "signal", sig)
		case <-manager.Manage.Done():
		}

		_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
		manager.Manage.StopAll()
		return ctl.Close()
	},
}
