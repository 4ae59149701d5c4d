package sway

import (
	"github.com/hoppxi/wmlink/pkg/ipc"
)

type rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (r rect) toRect() ipc.Rect {
	return ipc.Rect{X: r.X, Y: r.Y, Width: r.Width, Height: r.Height}
}

type workspaceReply struct {
	ID      int64  `json:"id"`
	Num     int    `json:"num"`
	Name    string `json:"name"`
	Visible bool   `json:"visible"`
	Focused bool   `json:"focused"`
	Urgent  bool   `json:"urgent"`
	Output  string `json:"output"`
}

type outputReply struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Active  bool   `json:"active"`
	Focused bool   `json:"focused"`
	Rect    rect   `json:"rect"`
}

type inputReply struct {
	Type              string   `json:"type"`
	LayoutNames       []string `json:"xkb_layout_names"`
	ActiveLayoutIndex *int     `json:"xkb_active_layout_index"`
	ActiveLayoutName  *string  `json:"xkb_active_layout_name"`
}

// node is a container of the layout tree.
type node struct {
	ID               int64   `json:"id"`
	Type             string  `json:"type"`
	Name             *string `json:"name"`
	Num              *int    `json:"num"`
	Output           string  `json:"output"`
	Focused          bool    `json:"focused"`
	Urgent           bool    `json:"urgent"`
	PID              int     `json:"pid"`
	AppID            *string `json:"app_id"`
	Window           *int64  `json:"window"`
	WindowProperties *struct {
		Class    string `json:"class"`
		Instance string `json:"instance"`
	} `json:"window_properties"`
	Rect          rect   `json:"rect"`
	Nodes         []node `json:"nodes"`
	FloatingNodes []node `json:"floating_nodes"`
}

func (n *node) isView() bool {
	if n.Type != "con" && n.Type != "floating_con" {
		return false
	}
	if len(n.Nodes) > 0 || len(n.FloatingNodes) > 0 {
		return false
	}
	return n.PID > 0 || n.AppID != nil || n.Window != nil
}

func (n *node) window(ws *int64) ipc.Window {
	w := ipc.Window{
		ID:       n.ID,
		Focused:  n.Focused,
		Urgent:   n.Urgent,
		Floating: n.Type == "floating_con",
		PID:      n.PID,
	}
	if ws != nil {
		id := *ws
		w.WorkspaceID = &id
	}
	if n.Name != nil {
		w.Title = *n.Name
	}
	switch {
	case n.AppID != nil:
		w.AppID = *n.AppID
	case n.WindowProperties != nil:
		w.AppID = n.WindowProperties.Class
	}
	return w
}

// walk collects views, tagging each with its enclosing workspace.
func (n *node) walk(ws *int64, out *[]ipc.Window) {
	if n.Type == "workspace" {
		id := n.ID
		ws = &id
	}
	if n.isView() {
		*out = append(*out, n.window(ws))
		return
	}
	for i := range n.Nodes {
		n.Nodes[i].walk(ws, out)
	}
	for i := range n.FloatingNodes {
		n.FloatingNodes[i].walk(ws, out)
	}
}

func (p *Protocol) ApplyBootstrap(s *ipc.State, req, resp ipc.Frame) error {
	switch req.Type {
	case GetWorkspaces:
		var reply []workspaceReply
		if err := resp.Decode(&reply); err != nil {
			return err
		}
		ws := make([]ipc.Workspace, 0, len(reply))
		for _, r := range reply {
			ws = append(ws, ipc.Workspace{
				ID:      r.ID,
				Name:    r.Name,
				Output:  r.Output,
				Index:   r.Num,
				Active:  r.Visible,
				Focused: r.Focused,
				Urgent:  r.Urgent,
			})
		}
		s.ReplaceWorkspaces(ws)
	case GetOutputs:
		var reply []outputReply
		if err := resp.Decode(&reply); err != nil {
			return err
		}
		outs := make([]ipc.Output, 0, len(reply))
		for _, r := range reply {
			outs = append(outs, ipc.Output{
				ID:       r.ID,
				Name:     r.Name,
				Geometry: r.Rect.toRect(),
				Focused:  r.Focused,
				Active:   r.Active,
			})
		}
		s.ReplaceOutputs(outs)
	case GetTree:
		var root node
		if err := resp.Decode(&root); err != nil {
			return err
		}
		var wins []ipc.Window
		root.walk(nil, &wins)
		s.ReplaceWindows(wins)
	case GetInputs:
		var reply []inputReply
		if err := resp.Decode(&reply); err != nil {
			return err
		}
		for _, in := range reply {
			if in.Type != "keyboard" || len(in.LayoutNames) == 0 {
				continue
			}
			k := ipc.Keyboard{Names: in.LayoutNames}
			if in.ActiveLayoutIndex != nil {
				k.Current = *in.ActiveLayoutIndex
			}
			s.SetKeyboard(k)
			break
		}
	default:
		return ipc.ApplicationError("bootstrap", "no translation for %s", req)
	}
	return nil
}

type workspaceEvent struct {
	Change  string `json:"change"`
	Current *node  `json:"current"`
	Old     *node  `json:"old"`
}

type windowEvent struct {
	Change    string `json:"change"`
	Container *node  `json:"container"`
}

type modeEvent struct {
	Change string `json:"change"`
}

type inputEvent struct {
	Change string     `json:"change"`
	Input  inputReply `json:"input"`
}

func (p *Protocol) ApplyEvent(s *ipc.State, ev ipc.Event) ([]ipc.Frame, error) {
	switch ev.Kind {
	case EventWorkspace:
		return applyWorkspace(s, ev)
	case EventWindow:
		return applyWindow(s, ev)
	case EventOutput:
		return []ipc.Frame{
			ipc.NewFrame(GetOutputs, "get_outputs", nil),
			ipc.NewFrame(GetWorkspaces, "get_workspaces", nil),
		}, nil
	case EventMode:
		var e modeEvent
		if err := ev.Frame.Decode(&e); err != nil {
			return nil, ipc.ApplicationError("mode", "%v", err)
		}
		if e.Change == "default" {
			e.Change = ""
		}
		s.SetMode(e.Change)
	case EventInput:
		var e inputEvent
		if err := ev.Frame.Decode(&e); err != nil {
			return nil, ipc.ApplicationError("input", "%v", err)
		}
		if e.Input.Type != "keyboard" {
			return nil, nil
		}
		switch e.Change {
		case "xkb_keymap", "added":
			if len(e.Input.LayoutNames) > 0 {
				k := ipc.Keyboard{Names: e.Input.LayoutNames}
				if e.Input.ActiveLayoutIndex != nil {
					k.Current = *e.Input.ActiveLayoutIndex
				}
				s.SetKeyboard(k)
			}
		case "xkb_layout":
			if e.Input.ActiveLayoutName != nil {
				s.SelectKeyboardLayout(*e.Input.ActiveLayoutName)
			}
		}
	}
	return nil, nil
}

func applyWorkspace(s *ipc.State, ev ipc.Event) ([]ipc.Frame, error) {
	var e workspaceEvent
	if err := ev.Frame.Decode(&e); err != nil {
		return nil, ipc.ApplicationError("workspace", "%v", err)
	}
	resync := []ipc.Frame{ipc.NewFrame(GetWorkspaces, "get_workspaces", nil)}
	if e.Current == nil {
		return resync, nil
	}
	cur := e.Current
	switch e.Change {
	case "focus":
		if !s.ActivateWorkspace(cur.ID, true) {
			return resync, nil
		}
		if ws, ok := s.Workspace(cur.ID); ok {
			ws.Urgent = cur.Urgent
			s.SetFocusedOutput(ws.Output)
		}
	case "empty":
		if !s.RemoveWorkspace(cur.ID) {
			return nil, ipc.ApplicationError("workspace", "empty: unknown workspace %d", cur.ID)
		}
	case "urgent":
		ws, ok := s.Workspace(cur.ID)
		if !ok {
			return nil, ipc.ApplicationError("workspace", "urgent: unknown workspace %d", cur.ID)
		}
		ws.Urgent = cur.Urgent
	case "rename":
		ws, ok := s.Workspace(cur.ID)
		if !ok || cur.Name == nil {
			return resync, nil
		}
		ws.Name = *cur.Name
		if cur.Num != nil {
			ws.Index = *cur.Num
		}
	default:
		// init, move, reload
		return resync, nil
	}
	return nil, nil
}

func applyWindow(s *ipc.State, ev ipc.Event) ([]ipc.Frame, error) {
	var e windowEvent
	if err := ev.Frame.Decode(&e); err != nil {
		return nil, ipc.ApplicationError("window", "%v", err)
	}
	if e.Container == nil {
		return nil, ipc.ApplicationError("window", "%s event without container", e.Change)
	}
	con := e.Container
	tree := []ipc.Frame{
		ipc.NewFrame(GetTree, "get_tree", nil),
		ipc.NewFrame(GetWorkspaces, "get_workspaces", nil),
	}

	switch e.Change {
	case "new":
		// the event does not name the workspace
		s.UpsertWindow(con.window(nil))
		return tree, nil
	case "move":
		return tree, nil
	case "close":
		if !s.RemoveWindow(con.ID) {
			return nil, ipc.ApplicationError("window", "close: unknown window %d", con.ID)
		}
		return nil, nil
	}

	w, ok := s.Window(con.ID)
	if !ok {
		return tree, nil
	}
	switch e.Change {
	case "focus":
		id := con.ID
		s.FocusWindow(&id)
		w.Urgent = con.Urgent
	case "title":
		fresh := con.window(w.WorkspaceID)
		w.Title, w.AppID = fresh.Title, fresh.AppID
	case "urgent":
		w.Urgent = con.Urgent
	case "floating":
		w.Floating = con.Type == "floating_con"
	}
	return nil, nil
}
