package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/hoppxi/wmlink/internal/manager"
	"github.com/hoppxi/wmlink/pkg/ipc"
	"github.com/hoppxi/wmlink/pkg/ipc/detect"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

var Version = "0.2.0"

var (
	debug      bool
	configPath string
	compositor string
	socketPath string
	settings   manager.Settings
)

// daemon commands need a running `wmlink start`
var needsDaemon = map[string]bool{"kill": true, "reload": true, "status": true}

var rootCmd = &cobra.Command{
	Use:     "wmlink",
	Version: Version,
	Short:   "Compositor IPC bridge for status bars",
	Long: "wmlink mirrors the workspaces, windows and outputs of sway, Hyprland, niri\n" +
		"or Wayfire and pushes changes to eww, D-Bus or stdout.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configPath != "" {
			manager.Config.SetPath(configPath)
		}
		if cmd.Name() == "setup" || cmd.Name() == "help" {
			setupLogging(os.Stderr, "info")
			return nil
		}

		if compositor != "" {
			manager.Config.Set("compositor", compositor)
		}
		if socketPath != "" {
			manager.Config.Set("socket", socketPath)
		}
		s, err := manager.Config.Load()
		if err != nil {
			return err
		}
		settings = s
		setupLogging(os.Stderr, s.Log.Level)

		if !needsDaemon[cmd.Name()] {
			return nil
		}
		conn, err := manager.Manage.ConnectIPC()
		if err != nil {
			fmt.Println("Error:", err)
			fmt.Println("Hint: run `wmlink start` first")
			os.Exit(1)
		}
		conn.Close()
		return nil
	},
}

func setupLogging(output io.Writer, level string) {
	logLevel := &slog.LevelVar{}
	if err := logLevel.UnmarshalText([]byte(level)); err != nil {
		logLevel.Set(slog.LevelInfo)
	}
	if debug {
		logLevel.Set(slog.LevelDebug)
	}

	f, ok := output.(*os.File)
	opts := &tint.Options{
		Level:      logLevel,
		AddSource:  debug,
		TimeFormat: time.Kitchen,
		NoColor:    !ok || !isatty.IsTerminal(f.Fd()),
	}
	logger := slog.New(tint.NewHandler(output, opts))
	slog.SetDefault(logger)
	manager.Manage.SetLogger(logger)
}

// protocol resolves the compositor from flags and config.
func protocol() (ipc.Protocol, error) {
	return detect.Detect(settings.Compositor, settings.Socket, slog.Default())
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "log at debug level")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default "+manager.DefaultConfigPath()+")")
	rootCmd.PersistentFlags().StringVar(&compositor, "compositor", "",
		"compositor to talk to: auto, "+strings.Join(detect.Names, ", "))
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", "", "override the compositor socket path")

	rootCmd.AddCommand(setupCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(killCmd)
	rootCmd.AddCommand(reloadCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(workspacesCmd)
	rootCmd.AddCommand(windowsCmd)
	rootCmd.AddCommand(msgCmd)
	rootCmd.AddCommand(watchCmd)
}
