package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hoppxi/wmlink/internal/manager"
	"github.com/hoppxi/wmlink/pkg/ipc/detect"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var setupDefaults bool

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Write a config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		reader := bufio.NewReader(os.Stdin)
		path := manager.Config.Path()
		if filepath.Ext(path) != ".yaml" {
			path = filepath.Join(filepath.Dir(path), "config.yaml")
		}

		if _, err := os.Stat(path); !os.IsNotExist(err) {
			fmt.Printf("Warning: config already exists at %s\n", path)
			if setupDefaults || !confirm(reader, "Overwrite it?") {
				return nil
			}
		}

		conf := manager.DefaultSettings()
		if !setupDefaults {
			askSettings(reader, &conf)
		}
		if err := writeConfig(path, conf); err != nil {
			return err
		}
		fmt.Printf("Config written to %s\n", path)
		return nil
	},
}

func askSettings(reader *bufio.Reader, conf *manager.Settings) {
	name := detect.FromEnv()
	if name == "" {
		name = conf.Compositor
	}
	conf.Compositor = prompt(reader, "Compositor (auto, "+strings.Join(detect.Names, ", ")+")", name)
	conf.Sinks.Eww.Enabled = confirm(reader, "Push updates to eww?")
	if conf.Sinks.Eww.Enabled {
		conf.Sinks.Eww.Daemon = confirm(reader, "Start the eww daemon with wmlink?")
	}
	conf.Sinks.Dbus.Enabled = confirm(reader, "Broadcast updates on D-Bus?")
	conf.Workspaces.Filter = prompt(reader, "Workspace filter expression", conf.Workspaces.Filter)
	if names := prompt(reader, "Persistent workspaces (comma separated)", ""); names != "" {
		for _, n := range strings.Split(names, ",") {
			if n = strings.TrimSpace(n); n != "" {
				conf.Workspaces.Persistent = append(conf.Workspaces.Persistent, n)
			}
		}
	}
}

func writeConfig(path string, conf manager.Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	d, err := yaml.Marshal(&conf)
	if err != nil {
		return err
	}
	return os.WriteFile(path, d, 0o644)
}

func prompt(r *bufio.Reader, label, defaultValue string) string {
	fmt.Printf("%s [%s]: ", label, defaultValue)
	input, err := r.ReadString('\n')
	if err != nil && err != io.EOF {
		return defaultValue
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return defaultValue
	}
	return input
}

func confirm(r *bufio.Reader, message string) bool {
	fmt.Printf("%s (y/N): ", message)
	input, _ := r.ReadString('\n')
	input = strings.ToLower(strings.TrimSpace(input))
	return input == "y" || input == "yes"
}

func init() {
	setupCmd.Flags().BoolVarP(&setupDefaults, "yes", "y", false, "write the defaults without asking")
}
