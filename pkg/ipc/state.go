package ipc

import (
	"cmp"
	"slices"

	"github.com/goccy/go-json"
)

type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

type Output struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Geometry Rect   `json:"geometry"`
	Focused  bool   `json:"focused"`
	Active   bool   `json:"active"`
}

type Workspace struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Output     string `json:"output"`
	Index      int    `json:"index"`
	Active     bool   `json:"active"`
	Focused    bool   `json:"focused"`
	Urgent     bool   `json:"urgent"`
	Persistent bool   `json:"persistent"`
	Windows    int    `json:"windows"`
}

type Window struct {
	ID          int64           `json:"id"`
	AppID       string          `json:"app_id"`
	Title       string          `json:"title"`
	WorkspaceID *int64          `json:"workspace_id"`
	Focused     bool            `json:"focused"`
	Urgent      bool            `json:"urgent"`
	Floating    bool            `json:"floating"`
	PID         int             `json:"pid"`
	Layout      json.RawMessage `json:"layout,omitempty"`
}

// OnWorkspace reports whether w sits on workspace id.
func (w Window) OnWorkspace(id int64) bool {
	return w.WorkspaceID != nil && *w.WorkspaceID == id
}

type Keyboard struct {
	Names   []string `json:"names"`
	Current int      `json:"current"`
}

// CurrentName returns the active layout name, or "".
func (k Keyboard) CurrentName() string {
	if k.Current < 0 || k.Current >= len(k.Names) {
		return ""
	}
	return k.Names[k.Current]
}

// State is the mutable model behind a Mirror. Protocol translators mutate
// it while the mirror holds its write lock; nothing else may touch it.
//
// Window workspace references are stored as reported. Readers only ever
// see references to workspaces that are present, and workspace window
// counts are derived from the window set.
type State struct {
	workspaces    map[int64]*Workspace
	windows       map[int64]*Window
	outputs       map[string]*Output
	focusedOutput string
	keyboard      Keyboard
	mode          string
	extra         map[string]any
}

func newState() *State {
	return &State{
		workspaces: make(map[int64]*Workspace),
		windows:    make(map[int64]*Window),
		outputs:    make(map[string]*Output),
		extra:      make(map[string]any),
	}
}

// ReplaceWorkspaces swaps the whole workspace collection.
func (s *State) ReplaceWorkspaces(ws []Workspace) {
	clear(s.workspaces)
	for _, w := range ws {
		s.workspaces[w.ID] = &w
	}
}

// UpsertWorkspace inserts w or overwrites the workspace with the same ID.
func (s *State) UpsertWorkspace(w Workspace) {
	s.workspaces[w.ID] = &w
}

func (s *State) RemoveWorkspace(id int64) bool {
	if _, ok := s.workspaces[id]; !ok {
		return false
	}
	delete(s.workspaces, id)
	return true
}

// Workspace returns the stored workspace for in-place patching.
func (s *State) Workspace(id int64) (*Workspace, bool) {
	w, ok := s.workspaces[id]
	return w, ok
}

func (s *State) WorkspaceByName(name string) (*Workspace, bool) {
	for _, w := range s.workspaces {
		if w.Name == name {
			return w, true
		}
	}
	return nil, false
}

func (s *State) EachWorkspace(fn func(*Workspace)) {
	for _, w := range s.workspaces {
		fn(w)
	}
}

// ActivateWorkspace marks id active on its output and, if focus is set,
// the single focused workspace. Unknown ids are left untouched.
func (s *State) ActivateWorkspace(id int64, focus bool) bool {
	target, ok := s.workspaces[id]
	if !ok {
		return false
	}
	for _, w := range s.workspaces {
		if w.Output == target.Output {
			w.Active = w.ID == id
		}
		if focus {
			w.Focused = w.ID == id
		}
	}
	return true
}

func (s *State) ReplaceWindows(ws []Window) {
	clear(s.windows)
	for _, w := range ws {
		s.windows[w.ID] = &w
	}
}

func (s *State) UpsertWindow(w Window) {
	s.windows[w.ID] = &w
}

func (s *State) RemoveWindow(id int64) bool {
	if _, ok := s.windows[id]; !ok {
		return false
	}
	delete(s.windows, id)
	return true
}

func (s *State) Window(id int64) (*Window, bool) {
	w, ok := s.windows[id]
	return w, ok
}

func (s *State) EachWindow(fn func(*Window)) {
	for _, w := range s.windows {
		fn(w)
	}
}

// FocusWindow makes id the only focused window. A nil id clears focus.
func (s *State) FocusWindow(id *int64) bool {
	found := false
	for _, w := range s.windows {
		w.Focused = id != nil && w.ID == *id
		found = found || w.Focused
	}
	return found
}

func (s *State) ReplaceOutputs(os []Output) {
	clear(s.outputs)
	for _, o := range os {
		s.outputs[o.Name] = &o
	}
	s.syncFocusedOutput()
}

func (s *State) UpsertOutput(o Output) {
	s.outputs[o.Name] = &o
	s.syncFocusedOutput()
}

func (s *State) RemoveOutput(name string) bool {
	if _, ok := s.outputs[name]; !ok {
		return false
	}
	delete(s.outputs, name)
	return true
}

func (s *State) Output(name string) (*Output, bool) {
	o, ok := s.outputs[name]
	return o, ok
}

func (s *State) OutputByID(id int64) (*Output, bool) {
	for _, o := range s.outputs {
		if o.ID == id {
			return o, true
		}
	}
	return nil, false
}

// SetFocusedOutput records the focused output and flags it.
func (s *State) SetFocusedOutput(name string) {
	s.focusedOutput = name
	for _, o := range s.outputs {
		o.Focused = o.Name == name
	}
}

func (s *State) syncFocusedOutput() {
	for _, o := range s.outputs {
		if o.Focused {
			s.focusedOutput = o.Name
			return
		}
	}
	if o, ok := s.outputs[s.focusedOutput]; ok {
		o.Focused = true
	}
}

func (s *State) FocusedOutput() string { return s.focusedOutput }

func (s *State) SetKeyboard(k Keyboard) {
	s.keyboard = Keyboard{Names: slices.Clone(k.Names), Current: k.Current}
}

func (s *State) SetKeyboardCurrent(i int) { s.keyboard.Current = i }

// SelectKeyboardLayout makes name current, learning it if unseen.
func (s *State) SelectKeyboardLayout(name string) {
	i := slices.Index(s.keyboard.Names, name)
	if i < 0 {
		s.keyboard.Names = append(s.keyboard.Names, name)
		i = len(s.keyboard.Names) - 1
	}
	s.keyboard.Current = i
}

func (s *State) SetMode(mode string) { s.mode = mode }

// SetExtra stores protocol-private bookkeeping (grid sizes, pending
// focus) that is not part of the public model.
func (s *State) SetExtra(key string, v any) { s.extra[key] = v }

func (s *State) Extra(key string) (any, bool) {
	v, ok := s.extra[key]
	return v, ok
}

// read side

func (s *State) visibleRef(ref *int64) *int64 {
	if ref == nil {
		return nil
	}
	if _, ok := s.workspaces[*ref]; !ok {
		return nil
	}
	id := *ref
	return &id
}

func (s *State) windowCopy(w *Window) Window {
	c := *w
	c.WorkspaceID = s.visibleRef(w.WorkspaceID)
	c.Layout = slices.Clone(w.Layout)
	return c
}

func (s *State) workspaceCopy(w *Workspace) Workspace {
	c := *w
	c.Windows = 0
	for _, win := range s.windows {
		if win.WorkspaceID != nil && *win.WorkspaceID == w.ID {
			c.Windows++
		}
	}
	return c
}

func compareWorkspaces(a, b Workspace) int {
	return cmp.Or(
		cmp.Compare(a.Output, b.Output),
		cmp.Compare(a.Index, b.Index),
		cmp.Compare(a.ID, b.ID),
	)
}

func (s *State) listWorkspaces() []Workspace {
	out := make([]Workspace, 0, len(s.workspaces))
	for _, w := range s.workspaces {
		out = append(out, s.workspaceCopy(w))
	}
	slices.SortFunc(out, compareWorkspaces)
	return out
}

func (s *State) listWindows() []Window {
	out := make([]Window, 0, len(s.windows))
	for _, w := range s.windows {
		out = append(out, s.windowCopy(w))
	}
	slices.SortFunc(out, func(a, b Window) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

func (s *State) listOutputs() []Output {
	out := make([]Output, 0, len(s.outputs))
	for _, o := range s.outputs {
		out = append(out, *o)
	}
	slices.SortFunc(out, func(a, b Output) int { return cmp.Compare(a.Name, b.Name) })
	return out
}
