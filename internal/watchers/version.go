package watchers

import (
	"context"
	"time"

	"github.com/hoppxi/wmlink/pkg/ipc"
	"github.com/hoppxi/wmlink/pkg/ipc/hyprland"
	"github.com/hoppxi/wmlink/pkg/ipc/niri"
	"github.com/hoppxi/wmlink/pkg/ipc/sway"
)

const versionTimeout = 2 * time.Second

// compositorVersion asks the compositor behind c for its version. Wayfire
// has no such request and yields "".
func compositorVersion(ctx context.Context, c *ipc.Connection) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()

	switch c.Protocol().Name() {
	case "sway":
		v, err := sway.GetVersionInfo(ctx, c)
		return v.HumanReadable, err
	case "niri":
		return niri.Version(ctx, c)
	case "hyprland":
		var v struct {
			Tag string `json:"tag"`
		}
		err := hyprland.Get(ctx, c, "version", &v)
		return v.Tag, err
	}
	return "", nil
}
