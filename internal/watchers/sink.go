package watchers

import (
	"io"
	"sync"

	"github.com/goccy/go-json"
)

// Variables pushed to sinks.
const (
	VarWorkspaces      = "WORKSPACES"
	VarActiveWorkspace = "ACTIVE_WORKSPACE"
	VarActiveWindow    = "ACTIVE_WINDOW"
	VarKeyboard        = "KEYBOARD"
	VarMode            = "MODE"
)

// Variables lists every variable in publish order.
var Variables = []string{VarWorkspaces, VarActiveWorkspace, VarActiveWindow, VarKeyboard, VarMode}

// Sink receives changed variables. Update is called from one goroutine at
// a time per watcher.
type Sink interface {
	Name() string
	Update(variable string, value any) error
}

// StdoutSink writes one JSON object per update, the format waybar custom
// modules and `eww deflisten` both read.
type StdoutSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewStdoutSink(w io.Writer) *StdoutSink {
	return &StdoutSink{w: w}
}

func (s *StdoutSink) Name() string { return "stdout" }

func (s *StdoutSink) Update(variable string, value any) error {
	line, err := json.Marshal(map[string]any{variable: value})
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.w.Write(append(line, '\n'))
	return err
}
