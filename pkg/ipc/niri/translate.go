package niri

import (
	"log/slog"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"

	"github.com/hoppxi/wmlink/pkg/ipc"
)

type workspace struct {
	ID             int64   `json:"id"`
	Idx            int     `json:"idx"`
	Name           *string `json:"name"`
	Output         *string `json:"output"`
	IsUrgent       bool    `json:"is_urgent"`
	IsActive       bool    `json:"is_active"`
	IsFocused      bool    `json:"is_focused"`
	ActiveWindowID *int64  `json:"active_window_id"`
}

func (w workspace) toWorkspace() ipc.Workspace {
	ws := ipc.Workspace{
		ID:      w.ID,
		Name:    strconv.Itoa(w.Idx),
		Index:   w.Idx,
		Active:  w.IsActive,
		Focused: w.IsFocused,
		Urgent:  w.IsUrgent,
	}
	if w.Name != nil {
		ws.Name = *w.Name
	}
	if w.Output != nil {
		ws.Output = *w.Output
	}
	return ws
}

type window struct {
	ID          int64           `json:"id"`
	Title       *string         `json:"title"`
	AppID       *string         `json:"app_id"`
	PID         *int            `json:"pid"`
	WorkspaceID *int64          `json:"workspace_id"`
	IsFocused   bool            `json:"is_focused"`
	IsFloating  bool            `json:"is_floating"`
	IsUrgent    bool            `json:"is_urgent"`
	Layout      json.RawMessage `json:"layout"`
}

func (w window) toWindow() ipc.Window {
	win := ipc.Window{
		ID:          w.ID,
		WorkspaceID: w.WorkspaceID,
		Focused:     w.IsFocused,
		Floating:    w.IsFloating,
		Urgent:      w.IsUrgent,
		Layout:      w.Layout,
	}
	if w.Title != nil {
		win.Title = *w.Title
	}
	if w.AppID != nil {
		win.AppID = *w.AppID
	}
	if w.PID != nil {
		win.PID = *w.PID
	}
	return win
}

type output struct {
	Name    string `json:"name"`
	Logical *struct {
		X      int `json:"x"`
		Y      int `json:"y"`
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"logical"`
}

func (o output) toOutput() ipc.Output {
	out := ipc.Output{Name: o.Name, Active: o.Logical != nil}
	if o.Logical != nil {
		out.Geometry = ipc.Rect{X: o.Logical.X, Y: o.Logical.Y, Width: o.Logical.Width, Height: o.Logical.Height}
	}
	return out
}

type keyboardLayouts struct {
	Names      []string `json:"names"`
	CurrentIdx int      `json:"current_idx"`
}

func decode(op string, r gjson.Result, v any) error {
	if err := json.Unmarshal([]byte(r.Raw), v); err != nil {
		return ipc.ApplicationError(op, "%v", err)
	}
	return nil
}

func (p *Protocol) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func (p *Protocol) ApplyBootstrap(s *ipc.State, req, resp ipc.Frame) error {
	ok, err := reply(req.Name, resp)
	if err != nil {
		return err
	}
	body := ok.Get(req.Name)
	switch req.Name {
	case "Workspaces":
		var ws []workspace
		if err := decode(req.Name, body, &ws); err != nil {
			return err
		}
		replaceWorkspaces(s, ws)
	case "Windows":
		var wins []window
		if err := decode(req.Name, body, &wins); err != nil {
			return err
		}
		replaceWindows(s, wins)
	case "Outputs":
		var outs map[string]output
		if err := decode(req.Name, body, &outs); err != nil {
			return err
		}
		list := make([]ipc.Output, 0, len(outs))
		for _, o := range outs {
			list = append(list, o.toOutput())
		}
		s.ReplaceOutputs(list)
	case "FocusedOutput":
		if body.Type == gjson.Null {
			s.SetFocusedOutput("")
			return nil
		}
		s.SetFocusedOutput(body.Get("name").String())
	case "KeyboardLayouts":
		var k keyboardLayouts
		if err := decode(req.Name, body, &k); err != nil {
			return err
		}
		s.SetKeyboard(ipc.Keyboard{Names: k.Names, Current: k.CurrentIdx})
	default:
		return ipc.ApplicationError("bootstrap", "no translation for %s", req)
	}
	return nil
}

func replaceWorkspaces(s *ipc.State, ws []workspace) {
	list := make([]ipc.Workspace, 0, len(ws))
	for _, w := range ws {
		list = append(list, w.toWorkspace())
		if w.IsFocused && w.Output != nil {
			s.SetFocusedOutput(*w.Output)
		}
	}
	s.ReplaceWorkspaces(list)
}

func replaceWindows(s *ipc.State, wins []window) {
	list := make([]ipc.Window, 0, len(wins))
	for _, w := range wins {
		list = append(list, w.toWindow())
	}
	s.ReplaceWindows(list)
}

func (p *Protocol) ApplyEvent(s *ipc.State, ev ipc.Event) ([]ipc.Frame, error) {
	body := ev.Frame.Get(ev.Name)
	switch ev.Kind {
	case EventWorkspacesChanged:
		var ws []workspace
		if err := decode(ev.Name, body.Get("workspaces"), &ws); err != nil {
			return nil, err
		}
		replaceWorkspaces(s, ws)
	case EventWorkspaceActivated:
		id := body.Get("id").Int()
		focused := body.Get("focused").Bool()
		if !s.ActivateWorkspace(id, focused) {
			return nil, ipc.ApplicationError(ev.Name, "unknown workspace %d", id)
		}
		if w, ok := s.Workspace(id); ok && focused {
			s.SetFocusedOutput(w.Output)
		}
	case EventWorkspaceUrgencyChanged:
		id := body.Get("id").Int()
		w, ok := s.Workspace(id)
		if !ok {
			return nil, ipc.ApplicationError(ev.Name, "unknown workspace %d", id)
		}
		w.Urgent = body.Get("urgent").Bool()
	case EventWorkspaceActiveWindowChanged:
		id := body.Get("workspace_id").Int()
		if _, ok := s.Workspace(id); !ok {
			return nil, ipc.ApplicationError(ev.Name, "unknown workspace %d", id)
		}
	case EventKeyboardLayoutsChanged:
		var k keyboardLayouts
		if err := decode(ev.Name, body.Get("keyboard_layouts"), &k); err != nil {
			return nil, err
		}
		s.SetKeyboard(ipc.Keyboard{Names: k.Names, Current: k.CurrentIdx})
	case EventKeyboardLayoutSwitched:
		s.SetKeyboardCurrent(int(body.Get("idx").Int()))
	case EventWindowsChanged:
		var wins []window
		if err := decode(ev.Name, body.Get("windows"), &wins); err != nil {
			return nil, err
		}
		replaceWindows(s, wins)
	case EventWindowOpenedOrChanged:
		var w window
		if err := decode(ev.Name, body.Get("window"), &w); err != nil {
			return nil, err
		}
		s.UpsertWindow(w.toWindow())
		if w.IsFocused {
			id := w.ID
			s.FocusWindow(&id)
		}
	case EventWindowClosed:
		id := body.Get("id").Int()
		if !s.RemoveWindow(id) {
			return nil, ipc.ApplicationError(ev.Name, "unknown window %d", id)
		}
	case EventWindowFocusChanged:
		idv := body.Get("id")
		if idv.Type == gjson.Null || !idv.Exists() {
			s.FocusWindow(nil)
			return nil, nil
		}
		id := idv.Int()
		if _, ok := s.Window(id); !ok {
			// focus moved somewhere we don't know yet; the old focus is stale
			p.logger().Debug("niri: focus moved to unknown window", "id", id)
			s.FocusWindow(nil)
			return nil, nil
		}
		s.FocusWindow(&id)
	case EventWindowUrgencyChanged:
		id := body.Get("id").Int()
		w, ok := s.Window(id)
		if !ok {
			return nil, ipc.ApplicationError(ev.Name, "unknown window %d", id)
		}
		w.Urgent = body.Get("urgent").Bool()
	case EventWindowLayoutsChanged:
		p.applyLayouts(s, body.Get("changes"))
	}
	return nil, nil
}

// applyLayouts applies each well-formed [id, layout] pair and drops the
// rest.
func (p *Protocol) applyLayouts(s *ipc.State, changes gjson.Result) {
	if !changes.IsArray() {
		p.logger().Debug("niri: layout changes are not a list", "changes", changes.Raw)
		return
	}
	for i, entry := range changes.Array() {
		pair := entry.Array()
		if !entry.IsArray() || len(pair) != 2 || pair[0].Type != gjson.Number || !pair[1].IsObject() {
			p.logger().Debug("niri: dropping malformed layout change", "index", i, "entry", entry.Raw)
			continue
		}
		id := pair[0].Int()
		if pair[0].Num < 0 || float64(id) != pair[0].Num {
			p.logger().Debug("niri: dropping layout change with bad id", "index", i, "id", pair[0].Raw)
			continue
		}
		w, ok := s.Window(id)
		if !ok {
			p.logger().Debug("niri: layout change for unknown window", "id", id)
			continue
		}
		w.Layout = json.RawMessage(pair[1].Raw)
	}
}
