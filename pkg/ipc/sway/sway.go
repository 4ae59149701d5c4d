// Package sway speaks the i3/Sway IPC protocol.
package sway

import (
	"context"
	"fmt"

	"github.com/hoppxi/wmlink/pkg/ipc"
)

// Message types.
const (
	Command         uint32 = 0
	GetWorkspaces   uint32 = 1
	Subscribe       uint32 = 2
	GetOutputs      uint32 = 3
	GetTree         uint32 = 4
	GetMarks        uint32 = 5
	GetBarConfig    uint32 = 6
	GetVersion      uint32 = 7
	GetBindingModes uint32 = 8
	GetConfig       uint32 = 9
	SendTick        uint32 = 10
	GetInputs       uint32 = 100
	GetSeats        uint32 = 101
)

// MessageTypes maps swaymsg -t names onto message types.
var MessageTypes = map[string]uint32{
	"command":           Command,
	"get_workspaces":    GetWorkspaces,
	"subscribe":         Subscribe,
	"get_outputs":       GetOutputs,
	"get_tree":          GetTree,
	"get_marks":         GetMarks,
	"get_bar_config":    GetBarConfig,
	"get_version":       GetVersion,
	"get_binding_modes": GetBindingModes,
	"get_config":        GetConfig,
	"send_tick":         SendTick,
	"get_inputs":        GetInputs,
	"get_seats":         GetSeats,
}

const eventBit uint32 = 1 << 31

// Event kinds, in wire-name order.
const (
	EventWorkspace ipc.EventKind = iota + 1
	EventOutput
	EventMode
	EventWindow
	EventBarConfigUpdate
	EventBinding
	EventShutdown
	EventTick
	EventBarStateUpdate
	EventInput
)

var events = ipc.NewEventTable(
	"workspace",
	"output",
	"mode",
	"window",
	"barconfig_update",
	"binding",
	"shutdown",
	"tick",
	"bar_state_update",
	"input",
)

// event codes as sent by the compositor, low bits only
var eventCodes = map[uint32]ipc.EventKind{
	0:  EventWorkspace,
	1:  EventOutput,
	2:  EventMode,
	3:  EventWindow,
	4:  EventBarConfigUpdate,
	5:  EventBinding,
	6:  EventShutdown,
	7:  EventTick,
	20: EventBarStateUpdate,
	21: EventInput,
}

// Subscriptions is the event set requested on the event channel.
var Subscriptions = []string{"workspace", "window", "output", "mode", "shutdown", "input"}

// Protocol implements ipc.Protocol for Sway and i3.
type Protocol struct {
	// Socket overrides $SWAYSOCK.
	Socket string
}

func New() *Protocol { return &Protocol{} }

func (p *Protocol) Name() string { return "sway" }

func (p *Protocol) Resolve() (ipc.Endpoint, error) {
	path := p.Socket
	if path == "" {
		var err error
		if path, err = ipc.SocketFromEnv("SWAYSOCK", "I3SOCK"); err != nil {
			return ipc.Endpoint{}, err
		}
	}
	return ipc.Endpoint{Command: path, Events: path}, nil
}

func (p *Protocol) Strategy() ipc.Strategy { return ipc.Persistent }

func (p *Protocol) CommandCodec() ipc.Codec { return ipc.I3Codec{} }

func (p *Protocol) EventCodec() ipc.Codec { return ipc.I3Codec{} }

func (p *Protocol) Events() *ipc.EventTable { return events }

func (p *Protocol) Subscribe(t *ipc.Transport) error {
	req, err := ipc.JSONFrame(Subscribe, "subscribe", Subscriptions)
	if err != nil {
		return err
	}
	b, err := ipc.I3Codec{}.Encode(req)
	if err != nil {
		return err
	}
	if err := t.WriteAll(b); err != nil {
		return err
	}
	resp, err := ipc.I3Codec{}.Decode(t)
	if err != nil {
		return err
	}
	if resp.Type != Subscribe {
		return ipc.ProtocolError("subscribe", "reply has type %d", resp.Type)
	}
	if !resp.Get("success").Bool() {
		return ipc.ProtocolError("subscribe", "rejected: %s", resp.Payload)
	}
	return nil
}

func (p *Protocol) Classify(f ipc.Frame) (ipc.Event, error) {
	if f.Type&eventBit == 0 {
		return ipc.Event{Frame: f}, ipc.ApplicationError("classify", "reply type %d on the event channel", f.Type)
	}
	kind, ok := eventCodes[f.Type&^eventBit]
	if !ok {
		return ipc.Event{Frame: f}, ipc.ApplicationError("classify", "unknown event type %#x", f.Type)
	}
	f.Name = events.Name(kind)
	return ipc.Event{Kind: kind, Name: f.Name, Frame: f}, nil
}

func (p *Protocol) Bootstrap() []ipc.Frame {
	return []ipc.Frame{
		ipc.NewFrame(GetOutputs, "get_outputs", nil),
		ipc.NewFrame(GetWorkspaces, "get_workspaces", nil),
		ipc.NewFrame(GetTree, "get_tree", nil),
		ipc.NewFrame(GetInputs, "get_inputs", nil),
	}
}

// CommandResult is one entry of a RUN_COMMAND reply.
type CommandResult struct {
	Success    bool   `json:"success"`
	ParseError bool   `json:"parse_error"`
	Error      string `json:"error"`
}

// Run executes sway commands, e.g. "workspace 2". Every command must
// succeed.
func Run(ctx context.Context, c *ipc.Connection, cmd string) error {
	resp, err := c.Request(ctx, ipc.NewFrame(Command, "run_command", []byte(cmd)))
	if err != nil {
		return err
	}
	var results []CommandResult
	if err := resp.Decode(&results); err != nil {
		return err
	}
	for i, r := range results {
		if !r.Success {
			return ipc.ApplicationError("run_command", "command %d of %q: %s", i, cmd, r.Error)
		}
	}
	return nil
}

// Version is the GET_VERSION reply.
type Version struct {
	Major                int    `json:"major"`
	Minor                int    `json:"minor"`
	Patch                int    `json:"patch"`
	HumanReadable        string `json:"human_readable"`
	LoadedConfigFileName string `json:"loaded_config_file_name"`
}

func GetVersionInfo(ctx context.Context, c *ipc.Connection) (Version, error) {
	var v Version
	resp, err := c.Request(ctx, ipc.NewFrame(GetVersion, "get_version", nil))
	if err != nil {
		return v, err
	}
	if err := resp.Decode(&v); err != nil {
		return v, fmt.Errorf("get_version: %w", err)
	}
	return v, nil
}
