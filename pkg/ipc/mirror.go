package ipc

import (
	"sync"
)

// Mirror is a thread-safe copy of the compositor's workspaces, windows and
// outputs. The dispatcher goroutine writes it; any goroutine may read it.
type Mirror struct {
	mu      sync.RWMutex
	state   *State
	version uint64
	tr      Translator
}

func NewMirror(tr Translator) *Mirror {
	return &Mirror{state: newState(), tr: tr}
}

// ApplyBootstrap feeds the response to a bootstrap or resync request.
func (m *Mirror) ApplyBootstrap(req, resp Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.version++
	return m.tr.ApplyBootstrap(m.state, req, resp)
}

// ApplyIncremental patches the mirror from one event. The returned frames
// are resync requests the caller should issue on the command channel.
func (m *Mirror) ApplyIncremental(ev Event) ([]Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.version++
	return m.tr.ApplyEvent(m.state, ev)
}

// Update runs fn with the write lock held.
func (m *Mirror) Update(fn func(*State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.version++
	fn(m.state)
}

// WithLock runs fn under the read lock, for reads that must be consistent
// across several collections. fn must not retain the View.
func (m *Mirror) WithLock(fn func(View)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fn(View{s: m.state, version: m.version})
}

// Version counts mutations. It only grows.
func (m *Mirror) Version() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

func (m *Mirror) Workspaces() []Workspace {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listWorkspaces()
}

func (m *Mirror) Windows() []Window {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listWindows()
}

func (m *Mirror) Outputs() []Output {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.listOutputs()
}

func (m *Mirror) FocusedOutput() (Output, bool) {
	var (
		o  Output
		ok bool
	)
	m.WithLock(func(v View) { o, ok = v.FocusedOutput() })
	return o, ok
}

func (m *Mirror) FocusedWindow() (Window, bool) {
	var (
		w  Window
		ok bool
	)
	m.WithLock(func(v View) { w, ok = v.FocusedWindow() })
	return w, ok
}

func (m *Mirror) Keyboard() Keyboard {
	var k Keyboard
	m.WithLock(func(v View) { k = v.Keyboard() })
	return k
}

func (m *Mirror) Mode() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.mode
}

// Snapshot is a consistent copy of the whole mirror.
type Snapshot struct {
	Version       uint64      `json:"version"`
	Workspaces    []Workspace `json:"workspaces"`
	Windows       []Window    `json:"windows"`
	Outputs       []Output    `json:"outputs"`
	FocusedOutput string      `json:"focused_output"`
	Keyboard      Keyboard    `json:"keyboard"`
	Mode          string      `json:"mode"`
}

// FocusedWorkspace returns the focused workspace of the snapshot.
func (s Snapshot) FocusedWorkspace() (Workspace, bool) {
	for _, w := range s.Workspaces {
		if w.Focused {
			return w, true
		}
	}
	return Workspace{}, false
}

// FocusedWindow returns the focused window of the snapshot.
func (s Snapshot) FocusedWindow() (Window, bool) {
	for _, w := range s.Windows {
		if w.Focused {
			return w, true
		}
	}
	return Window{}, false
}

func (m *Mirror) Snapshot() Snapshot {
	var snap Snapshot
	m.WithLock(func(v View) { snap = v.Snapshot() })
	return snap
}

// View is a read-only look at the mirror while its lock is held.
type View struct {
	s       *State
	version uint64
}

func (v View) Version() uint64 { return v.version }

func (v View) Workspaces() []Workspace { return v.s.listWorkspaces() }

func (v View) Windows() []Window { return v.s.listWindows() }

func (v View) Outputs() []Output { return v.s.listOutputs() }

func (v View) Workspace(id int64) (Workspace, bool) {
	w, ok := v.s.workspaces[id]
	if !ok {
		return Workspace{}, false
	}
	return v.s.workspaceCopy(w), true
}

func (v View) Window(id int64) (Window, bool) {
	w, ok := v.s.windows[id]
	if !ok {
		return Window{}, false
	}
	return v.s.windowCopy(w), true
}

func (v View) FocusedOutput() (Output, bool) {
	o, ok := v.s.outputs[v.s.focusedOutput]
	if !ok {
		return Output{}, false
	}
	return *o, true
}

func (v View) FocusedWindow() (Window, bool) {
	for _, w := range v.s.windows {
		if w.Focused {
			return v.s.windowCopy(w), true
		}
	}
	return Window{}, false
}

func (v View) FocusedWorkspace() (Workspace, bool) {
	for _, w := range v.s.workspaces {
		if w.Focused {
			return v.s.workspaceCopy(w), true
		}
	}
	return Workspace{}, false
}

func (v View) Keyboard() Keyboard {
	k := v.s.keyboard
	k.Names = append([]string(nil), k.Names...)
	return k
}

func (v View) Mode() string { return v.s.mode }

func (v View) Snapshot() Snapshot {
	return Snapshot{
		Version:       v.version,
		Workspaces:    v.Workspaces(),
		Windows:       v.Windows(),
		Outputs:       v.Outputs(),
		FocusedOutput: v.s.focusedOutput,
		Keyboard:      v.Keyboard(),
		Mode:          v.s.mode,
	}
}
