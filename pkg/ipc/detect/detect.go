// Package detect picks the compositor protocol for the current session.
package detect

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/hoppxi/wmlink/pkg/ipc"
	"github.com/hoppxi/wmlink/pkg/ipc/hyprland"
	"github.com/hoppxi/wmlink/pkg/ipc/niri"
	"github.com/hoppxi/wmlink/pkg/ipc/sway"
	"github.com/hoppxi/wmlink/pkg/ipc/wayfire"
)

// Names lists the supported compositors in detection order.
var Names = []string{"sway", "hyprland", "niri", "wayfire"}

// candidate pairs a compositor with its discovery variables.
var candidates = []struct {
	name string
	env  []string
}{
	{"hyprland", []string{"HYPRLAND_INSTANCE_SIGNATURE"}},
	{"niri", []string{"NIRI_SOCKET"}},
	{"wayfire", []string{"WAYFIRE_SOCKET"}},
	{"sway", []string{"SWAYSOCK", "I3SOCK"}},
}

// New returns the protocol called name. socket overrides the discovered
// socket path (the instance directory for Hyprland).
func New(name, socket string, logger *slog.Logger) (ipc.Protocol, error) {
	switch strings.ToLower(name) {
	case "sway", "i3":
		return &sway.Protocol{Socket: socket}, nil
	case "hyprland":
		return &hyprland.Protocol{Dir: socket}, nil
	case "niri":
		return &niri.Protocol{Socket: socket, Logger: logger}, nil
	case "wayfire":
		return &wayfire.Protocol{Socket: socket, Logger: logger}, nil
	}
	return nil, fmt.Errorf("unknown compositor %q (want one of %s)", name, strings.Join(Names, ", "))
}

// Detect resolves "auto" (or "") from the environment and otherwise
// behaves like New. When nothing is running it returns an error matching
// ipc.ErrUnavailable.
func Detect(name, socket string, logger *slog.Logger) (ipc.Protocol, error) {
	if name != "" && name != "auto" {
		return New(name, socket, logger)
	}
	if found := FromEnv(); found != "" {
		return New(found, socket, logger)
	}
	return nil, ipc.UnavailableError("detect", fmt.Errorf("no compositor socket in the environment"))
}

// FromEnv returns the name of the compositor whose discovery variable is
// set, falling back to XDG_CURRENT_DESKTOP. It returns "" when nothing
// matches.
func FromEnv() string {
	for _, c := range candidates {
		for _, v := range c.env {
			if os.Getenv(v) != "" {
				return c.name
			}
		}
	}
	for _, desktop := range strings.Split(os.Getenv("XDG_CURRENT_DESKTOP"), ":") {
		switch d := strings.ToLower(desktop); d {
		case "sway", "hyprland", "niri", "wayfire":
			return d
		}
	}
	return ""
}
