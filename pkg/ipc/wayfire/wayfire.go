// Package wayfire speaks the ipc-rules plugin protocol of Wayfire:
// length-prefixed JSON objects of the form {"method": ..., "data": ...}.
package wayfire

import (
	"context"
	"log/slog"

	"github.com/hoppxi/wmlink/pkg/ipc"
)

const (
	EventViewMapped ipc.EventKind = iota + 1
	EventViewUnmapped
	EventViewSetOutput
	EventViewGeometryChanged
	EventViewWsetChanged
	EventViewFocused
	EventViewTitleChanged
	EventViewAppIDChanged
	EventPluginActivationStateChanged
	EventOutputGainFocus
	EventViewTiled
	EventViewMinimized
	EventViewFullscreen
	EventViewSticky
	EventViewWorkspaceChanged
	EventOutputWsetChanged
	EventWsetWorkspaceChanged
	EventOutputAdded
	EventOutputRemoved
)

var events = ipc.NewEventTable(
	"view-mapped",
	"view-unmapped",
	"view-set-output",
	"view-geometry-changed",
	"view-wset-changed",
	"view-focused",
	"view-title-changed",
	"view-app-id-changed",
	"plugin-activation-state-changed",
	"output-gain-focus",
	"view-tiled",
	"view-minimized",
	"view-fullscreen",
	"view-sticky",
	"view-workspace-changed",
	"output-wset-changed",
	"wset-workspace-changed",
	"output-added",
	"output-removed",
)

// Methods used by the client.
const (
	MethodListOutputs   = "window-rules/list-outputs"
	MethodListWsets     = "window-rules/list-wsets"
	MethodListViews     = "window-rules/list-views"
	MethodFocusedView   = "window-rules/get-focused-view"
	MethodFocusedOutput = "window-rules/get-focused-output"
	MethodWatch         = "window-rules/events/watch"
	MethodSetWorkspace  = "vswitch/set-workspace"
)

// Protocol implements ipc.Protocol for Wayfire.
type Protocol struct {
	// Socket overrides $WAYFIRE_SOCKET.
	Socket string
	Logger *slog.Logger
}

func New() *Protocol { return &Protocol{} }

func (p *Protocol) Name() string { return "wayfire" }

func (p *Protocol) Resolve() (ipc.Endpoint, error) {
	path := p.Socket
	if path == "" {
		var err error
		if path, err = ipc.SocketFromEnv("WAYFIRE_SOCKET"); err != nil {
			return ipc.Endpoint{}, err
		}
	}
	return ipc.Endpoint{Command: path, Events: path}, nil
}

func (p *Protocol) Strategy() ipc.Strategy { return ipc.PerRequest }

func (p *Protocol) CommandCodec() ipc.Codec { return ipc.LengthPrefixCodec{} }

func (p *Protocol) EventCodec() ipc.Codec { return ipc.LengthPrefixCodec{} }

func (p *Protocol) Events() *ipc.EventTable { return events }

// Call builds a method call frame. Nil data is sent as an empty object.
func Call(method string, data any) (ipc.Frame, error) {
	if data == nil {
		data = struct{}{}
	}
	return ipc.JSONFrame(0, method, map[string]any{"method": method, "data": data})
}

func call(method string) ipc.Frame {
	f, err := Call(method, nil)
	if err != nil {
		panic(err)
	}
	return f
}

func (p *Protocol) Subscribe(t *ipc.Transport) error {
	b, err := ipc.LengthPrefixCodec{}.Encode(call(MethodWatch))
	if err != nil {
		return err
	}
	if err := t.WriteAll(b); err != nil {
		return err
	}
	resp, err := ipc.LengthPrefixCodec{}.Decode(t)
	if err != nil {
		return err
	}
	if resp.Get("result").String() != "ok" {
		return ipc.ProtocolError("watch", "unexpected reply %s", resp.Payload)
	}
	return nil
}

func (p *Protocol) Classify(f ipc.Frame) (ipc.Event, error) {
	name := f.Get("event")
	if !name.Exists() {
		return ipc.Event{Frame: f}, ipc.ApplicationError("classify", "message without event")
	}
	f.Name = name.String()
	return events.Event(f.Name, f)
}

func (p *Protocol) Bootstrap() []ipc.Frame {
	return []ipc.Frame{
		call(MethodListOutputs),
		call(MethodListWsets),
		call(MethodListViews),
		call(MethodFocusedOutput),
		call(MethodFocusedView),
	}
}

func resync() []ipc.Frame {
	return []ipc.Frame{
		call(MethodListOutputs),
		call(MethodListWsets),
		call(MethodListViews),
		call(MethodFocusedOutput),
	}
}

// Invoke calls method with data and checks for an error reply.
func Invoke(ctx context.Context, c *ipc.Connection, method string, data any) (ipc.Frame, error) {
	req, err := Call(method, data)
	if err != nil {
		return ipc.Frame{}, err
	}
	resp, err := c.Request(ctx, req)
	if err != nil {
		return ipc.Frame{}, err
	}
	if err := checkReply(method, resp); err != nil {
		return ipc.Frame{}, err
	}
	return resp, nil
}

func checkReply(method string, resp ipc.Frame) error {
	if e := resp.Get("error"); e.Exists() {
		return ipc.ApplicationError(method, "wayfire: %s", e.String())
	}
	if r := resp.Get("result"); r.Exists() && r.String() != "ok" {
		return ipc.ApplicationError(method, "wayfire: result %s", r.String())
	}
	return nil
}

// SetWorkspace switches output to grid cell (x, y).
func SetWorkspace(ctx context.Context, c *ipc.Connection, outputID int64, x, y int) error {
	_, err := Invoke(ctx, c, MethodSetWorkspace, map[string]any{
		"output-id": outputID,
		"x":         x,
		"y":         y,
	})
	return err
}
