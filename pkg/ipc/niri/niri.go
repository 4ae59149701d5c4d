// Package niri speaks niri's line-delimited JSON IPC.
package niri

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"

	"github.com/hoppxi/wmlink/pkg/ipc"
)

const (
	EventWorkspacesChanged ipc.EventKind = iota + 1
	EventWorkspaceActivated
	EventWorkspaceActiveWindowChanged
	EventWorkspaceUrgencyChanged
	EventKeyboardLayoutsChanged
	EventKeyboardLayoutSwitched
	EventWindowsChanged
	EventWindowOpenedOrChanged
	EventWindowClosed
	EventWindowFocusChanged
	EventWindowUrgencyChanged
	EventWindowLayoutsChanged
	EventOverviewOpenedOrClosed
	EventConfigLoaded
	EventScreenshotCaptured
)

var events = ipc.NewEventTable(
	"WorkspacesChanged",
	"WorkspaceActivated",
	"WorkspaceActiveWindowChanged",
	"WorkspaceUrgencyChanged",
	"KeyboardLayoutsChanged",
	"KeyboardLayoutSwitched",
	"WindowsChanged",
	"WindowOpenedOrChanged",
	"WindowClosed",
	"WindowFocusChanged",
	"WindowUrgencyChanged",
	"WindowLayoutsChanged",
	"OverviewOpenedOrClosed",
	"ConfigLoaded",
	"ScreenshotCaptured",
)

// Protocol implements ipc.Protocol for niri.
type Protocol struct {
	// Socket overrides $NIRI_SOCKET.
	Socket string
	// Logger receives dropped layout entries. Defaults to slog.Default.
	Logger *slog.Logger
}

func New() *Protocol { return &Protocol{} }

func (p *Protocol) Name() string { return "niri" }

func (p *Protocol) Resolve() (ipc.Endpoint, error) {
	path := p.Socket
	if path == "" {
		var err error
		if path, err = ipc.SocketFromEnv("NIRI_SOCKET"); err != nil {
			return ipc.Endpoint{}, err
		}
	}
	return ipc.Endpoint{Command: path, Events: path}, nil
}

func (p *Protocol) Strategy() ipc.Strategy { return ipc.PerRequest }

func (p *Protocol) CommandCodec() ipc.Codec { return ipc.LineCodec{} }

func (p *Protocol) EventCodec() ipc.Codec { return ipc.LineCodec{} }

func (p *Protocol) Events() *ipc.EventTable { return events }

func (p *Protocol) Subscribe(t *ipc.Transport) error {
	b, err := ipc.LineCodec{}.Encode(Request("EventStream"))
	if err != nil {
		return err
	}
	if err := t.WriteAll(b); err != nil {
		return err
	}
	resp, err := ipc.LineCodec{}.Decode(t)
	if err != nil {
		return err
	}
	if resp.Get("Ok").String() != "Handled" {
		return ipc.ProtocolError("event stream", "unexpected reply %s", resp.Payload)
	}
	return nil
}

// Classify names an event after the single member of its object.
func (p *Protocol) Classify(f ipc.Frame) (ipc.Event, error) {
	doc := gjson.ParseBytes(f.Payload)
	if !doc.IsObject() {
		return ipc.Event{Frame: f}, ipc.ApplicationError("classify", "event is not an object")
	}
	var (
		name    string
		members int
	)
	doc.ForEach(func(k, _ gjson.Result) bool {
		name = k.String()
		members++
		return true
	})
	if members != 1 {
		return ipc.Event{Frame: f}, ipc.ApplicationError("classify", "event has %d members", members)
	}
	f.Name = name
	return events.Event(name, f)
}

// Request builds a request frame. Unit requests are bare JSON strings.
func Request(name string) ipc.Frame {
	payload, _ := json.Marshal(name)
	return ipc.NewFrame(0, name, payload)
}

func (p *Protocol) Bootstrap() []ipc.Frame {
	return []ipc.Frame{
		Request("Outputs"),
		Request("Workspaces"),
		Request("Windows"),
		Request("FocusedOutput"),
		Request("KeyboardLayouts"),
	}
}

// reply unwraps {"Ok":{"<name>":...}} or reports {"Err":"..."}.
func reply(op string, resp ipc.Frame) (gjson.Result, error) {
	if e := resp.Get("Err"); e.Exists() {
		return gjson.Result{}, ipc.ApplicationError(op, "niri: %s", e.String())
	}
	ok := resp.Get("Ok")
	if !ok.Exists() {
		return gjson.Result{}, ipc.ApplicationError(op, "reply without Ok: %s", resp.Payload)
	}
	return ok, nil
}

// Action runs a niri action such as {"FocusWorkspace":{"reference":{"Index":2}}}.
func Action(ctx context.Context, c *ipc.Connection, action any) error {
	req, err := ipc.JSONFrame(0, "Action", map[string]any{"Action": action})
	if err != nil {
		return err
	}
	resp, err := c.Request(ctx, req)
	if err != nil {
		return err
	}
	ok, err := reply("action", resp)
	if err != nil {
		return err
	}
	if ok.String() != "Handled" {
		return ipc.ApplicationError("action", "unexpected reply %s", ok.Raw)
	}
	return nil
}

// Version returns the compositor version string.
func Version(ctx context.Context, c *ipc.Connection) (string, error) {
	resp, err := c.Request(ctx, Request("Version"))
	if err != nil {
		return "", err
	}
	ok, err := reply("version", resp)
	if err != nil {
		return "", err
	}
	v := ok.Get("Version")
	if !v.Exists() {
		return "", fmt.Errorf("version: unexpected reply %s", ok.Raw)
	}
	return v.String(), nil
}
