// Package hyprland speaks Hyprland's two-socket IPC: JSON queries on
// .socket.sock and "name>>data" event lines on .socket2.sock.
package hyprland

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/hoppxi/wmlink/pkg/ipc"
)

const (
	EventWorkspace ipc.EventKind = iota + 1
	EventWorkspaceV2
	EventFocusedMon
	EventFocusedMonV2
	EventActiveWindow
	EventActiveWindowV2
	EventFullscreen
	EventMonitorRemoved
	EventMonitorRemovedV2
	EventMonitorAdded
	EventMonitorAddedV2
	EventCreateWorkspace
	EventCreateWorkspaceV2
	EventDestroyWorkspace
	EventDestroyWorkspaceV2
	EventMoveWorkspace
	EventMoveWorkspaceV2
	EventRenameWorkspace
	EventActiveSpecial
	EventActiveSpecialV2
	EventActiveLayout
	EventOpenWindow
	EventCloseWindow
	EventMoveWindow
	EventMoveWindowV2
	EventOpenLayer
	EventCloseLayer
	EventSubmap
	EventChangeFloatingMode
	EventUrgent
	EventScreencast
	EventWindowTitle
	EventWindowTitleV2
	EventToggleGroup
	EventMoveIntoGroup
	EventMoveOutOfGroup
	EventIgnoreGroupLock
	EventLockGroups
	EventConfigReloaded
	EventPin
	EventMinimized
	EventBell
)

var events = ipc.NewEventTable(
	"workspace",
	"workspacev2",
	"focusedmon",
	"focusedmonv2",
	"activewindow",
	"activewindowv2",
	"fullscreen",
	"monitorremoved",
	"monitorremovedv2",
	"monitoradded",
	"monitoraddedv2",
	"createworkspace",
	"createworkspacev2",
	"destroyworkspace",
	"destroyworkspacev2",
	"moveworkspace",
	"moveworkspacev2",
	"renameworkspace",
	"activespecial",
	"activespecialv2",
	"activelayout",
	"openwindow",
	"closewindow",
	"movewindow",
	"movewindowv2",
	"openlayer",
	"closelayer",
	"submap",
	"changefloatingmode",
	"urgent",
	"screencast",
	"windowtitle",
	"windowtitlev2",
	"togglegroup",
	"moveintogroup",
	"moveoutofgroup",
	"ignoregrouplock",
	"lockgroups",
	"configreloaded",
	"pin",
	"minimized",
	"bell",
)

const eventSep = ">>"

// Protocol implements ipc.Protocol for Hyprland.
type Protocol struct {
	// Dir overrides the instance directory holding both sockets.
	Dir string
}

func New() *Protocol { return &Protocol{} }

func (p *Protocol) Name() string { return "hyprland" }

// InstanceDir returns $XDG_RUNTIME_DIR/hypr/<sig> when it exists and
// /tmp/hypr/<sig> otherwise.
func InstanceDir() (string, error) {
	sig, err := ipc.SocketFromEnv("HYPRLAND_INSTANCE_SIGNATURE")
	if err != nil {
		return "", err
	}
	dir := filepath.Join(ipc.RuntimeDir(), "hypr", sig)
	if fi, err := os.Stat(dir); err == nil && fi.IsDir() {
		return dir, nil
	}
	return filepath.Join("/tmp/hypr", sig), nil
}

func (p *Protocol) Resolve() (ipc.Endpoint, error) {
	dir := p.Dir
	if dir == "" {
		var err error
		if dir, err = InstanceDir(); err != nil {
			return ipc.Endpoint{}, err
		}
	}
	return ipc.Endpoint{
		Command: filepath.Join(dir, ".socket.sock"),
		Events:  filepath.Join(dir, ".socket2.sock"),
	}, nil
}

func (p *Protocol) Strategy() ipc.Strategy { return ipc.PerRequest }

func (p *Protocol) CommandCodec() ipc.Codec { return ipc.RawCodec{} }

func (p *Protocol) EventCodec() ipc.Codec { return ipc.EventLineCodec{Sep: eventSep} }

func (p *Protocol) Events() *ipc.EventTable { return events }

// Subscribe is a no-op: connecting to the event socket is the
// subscription.
func (p *Protocol) Subscribe(*ipc.Transport) error { return nil }

func (p *Protocol) Classify(f ipc.Frame) (ipc.Event, error) {
	return events.Event(f.Name, f)
}

// Query builds a JSON query frame such as "j/clients".
func Query(cmd string) ipc.Frame {
	return ipc.NewFrame(0, cmd, []byte("j/"+cmd))
}

func (p *Protocol) Bootstrap() []ipc.Frame {
	return []ipc.Frame{
		Query("monitors"),
		Query("workspaces"),
		Query("clients"),
		Query("devices"),
	}
}

// Get runs a JSON query and decodes the reply into v.
func Get(ctx context.Context, c *ipc.Connection, cmd string, v any) error {
	resp, err := c.Request(ctx, Query(cmd))
	if err != nil {
		return err
	}
	return resp.Decode(v)
}

var errNotOK = errors.New("compositor did not reply ok")

// Dispatch runs a hyprctl dispatcher, e.g. Dispatch(ctx, c, "workspace 3").
func Dispatch(ctx context.Context, c *ipc.Connection, args string) error {
	resp, err := c.Request(ctx, ipc.NewFrame(0, "dispatch", []byte("dispatch "+args)))
	if err != nil {
		return err
	}
	if !bytes.Equal(bytes.TrimSpace(resp.Payload), []byte("ok")) {
		return ipc.ApplicationError("dispatch "+args, "%w: %s", errNotOK, resp.Payload)
	}
	return nil
}
