package hyprland

import (
	"strconv"
	"strings"

	"github.com/hoppxi/wmlink/pkg/ipc"
)

type workspaceRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type monitorReply struct {
	ID              int64        `json:"id"`
	Name            string       `json:"name"`
	X               int          `json:"x"`
	Y               int          `json:"y"`
	Width           int          `json:"width"`
	Height          int          `json:"height"`
	Focused         bool         `json:"focused"`
	Disabled        bool         `json:"disabled"`
	ActiveWorkspace workspaceRef `json:"activeWorkspace"`
}

type workspaceReply struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Monitor string `json:"monitor"`
}

type clientReply struct {
	Address        string       `json:"address"`
	Mapped         bool         `json:"mapped"`
	Workspace      workspaceRef `json:"workspace"`
	Floating       bool         `json:"floating"`
	PID            int          `json:"pid"`
	Class          string       `json:"class"`
	Title          string       `json:"title"`
	FocusHistoryID int          `json:"focusHistoryID"`
}

type devicesReply struct {
	Keyboards []struct {
		Name         string `json:"name"`
		ActiveKeymap string `json:"active_keymap"`
		Main         bool   `json:"main"`
	} `json:"keyboards"`
}

// monitor name -> active workspace id
const activeKey = "hyprland.active"

func activeMap(s *ipc.State) map[string]int64 {
	if v, ok := s.Extra(activeKey); ok {
		return v.(map[string]int64)
	}
	m := make(map[string]int64)
	s.SetExtra(activeKey, m)
	return m
}

// syncActive derives Active and Focused from the monitors' active
// workspaces.
func syncActive(s *ipc.State) {
	active := activeMap(s)
	focused, hasFocus := active[s.FocusedOutput()]
	s.EachWorkspace(func(w *ipc.Workspace) {
		id, ok := active[w.Output]
		w.Active = ok && id == w.ID
		w.Focused = hasFocus && focused == w.ID
	})
}

// ParseAddress parses a window address with or without the 0x prefix.
func ParseAddress(s string) (int64, error) {
	u, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
	if err != nil {
		return 0, err
	}
	return int64(u), nil
}

func (p *Protocol) ApplyBootstrap(s *ipc.State, req, resp ipc.Frame) error {
	switch req.Name {
	case "monitors":
		var reply []monitorReply
		if err := resp.Decode(&reply); err != nil {
			return err
		}
		outs := make([]ipc.Output, 0, len(reply))
		active := activeMap(s)
		clear(active)
		for _, m := range reply {
			outs = append(outs, ipc.Output{
				ID:       m.ID,
				Name:     m.Name,
				Geometry: ipc.Rect{X: m.X, Y: m.Y, Width: m.Width, Height: m.Height},
				Focused:  m.Focused,
				Active:   !m.Disabled,
			})
			active[m.Name] = m.ActiveWorkspace.ID
		}
		s.ReplaceOutputs(outs)
		syncActive(s)
	case "workspaces":
		var reply []workspaceReply
		if err := resp.Decode(&reply); err != nil {
			return err
		}
		ws := make([]ipc.Workspace, 0, len(reply))
		for _, w := range reply {
			if w.ID < 0 {
				// special workspaces
				continue
			}
			ws = append(ws, ipc.Workspace{ID: w.ID, Name: w.Name, Output: w.Monitor, Index: int(w.ID)})
		}
		s.ReplaceWorkspaces(ws)
		syncActive(s)
	case "clients":
		var reply []clientReply
		if err := resp.Decode(&reply); err != nil {
			return err
		}
		wins := make([]ipc.Window, 0, len(reply))
		for _, c := range reply {
			if !c.Mapped {
				continue
			}
			id, err := ParseAddress(c.Address)
			if err != nil {
				return ipc.ApplicationError("clients", "address %q: %v", c.Address, err)
			}
			ws := c.Workspace.ID
			wins = append(wins, ipc.Window{
				ID:          id,
				AppID:       c.Class,
				Title:       c.Title,
				WorkspaceID: &ws,
				Focused:     c.FocusHistoryID == 0,
				Floating:    c.Floating,
				PID:         c.PID,
			})
		}
		s.ReplaceWindows(wins)
	case "devices":
		var reply devicesReply
		if err := resp.Decode(&reply); err != nil {
			return err
		}
		for i, kb := range reply.Keyboards {
			if kb.Main || i == len(reply.Keyboards)-1 {
				s.SelectKeyboardLayout(kb.ActiveKeymap)
				break
			}
		}
	default:
		return ipc.ApplicationError("bootstrap", "no translation for %s", req)
	}
	return nil
}

func fields(ev ipc.Event, n int) ([]string, error) {
	parts := strings.SplitN(string(ev.Frame.Payload), ",", n)
	if len(parts) != n {
		return nil, ipc.ApplicationError(ev.Name, "want %d fields in %q", n, ev.Frame.Payload)
	}
	return parts, nil
}

func parseID(ev ipc.Event, s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, ipc.ApplicationError(ev.Name, "workspace id %q: %v", s, err)
	}
	return id, nil
}

func parseAddr(ev ipc.Event, s string) (int64, error) {
	id, err := ParseAddress(s)
	if err != nil {
		return 0, ipc.ApplicationError(ev.Name, "address %q: %v", s, err)
	}
	return id, nil
}

func (p *Protocol) ApplyEvent(s *ipc.State, ev ipc.Event) ([]ipc.Frame, error) {
	data := string(ev.Frame.Payload)
	switch ev.Kind {
	case EventWorkspaceV2:
		f, err := fields(ev, 2)
		if err != nil {
			return nil, err
		}
		id, err := parseID(ev, f[0])
		if err != nil {
			return nil, err
		}
		return activate(s, id, "")
	case EventFocusedMonV2:
		f, err := fields(ev, 2)
		if err != nil {
			return nil, err
		}
		id, err := parseID(ev, f[1])
		if err != nil {
			return nil, err
		}
		return activate(s, id, f[0])
	case EventCreateWorkspaceV2:
		f, err := fields(ev, 2)
		if err != nil {
			return nil, err
		}
		id, err := parseID(ev, f[0])
		if err != nil || id < 0 {
			return nil, err
		}
		if w, ok := s.Workspace(id); ok {
			w.Name = f[1]
			return nil, nil
		}
		s.UpsertWorkspace(ipc.Workspace{ID: id, Name: f[1], Output: s.FocusedOutput(), Index: int(id)})
	case EventDestroyWorkspaceV2:
		f, err := fields(ev, 2)
		if err != nil {
			return nil, err
		}
		id, err := parseID(ev, f[0])
		if err != nil {
			return nil, err
		}
		if !s.RemoveWorkspace(id) && id >= 0 {
			return nil, ipc.ApplicationError(ev.Name, "unknown workspace %d", id)
		}
	case EventMoveWorkspaceV2:
		f, err := fields(ev, 3)
		if err != nil {
			return nil, err
		}
		id, err := parseID(ev, f[0])
		if err != nil {
			return nil, err
		}
		w, ok := s.Workspace(id)
		if !ok {
			return nil, ipc.ApplicationError(ev.Name, "unknown workspace %d", id)
		}
		w.Output = f[2]
		return []ipc.Frame{Query("monitors")}, nil
	case EventRenameWorkspace:
		f, err := fields(ev, 2)
		if err != nil {
			return nil, err
		}
		id, err := parseID(ev, f[0])
		if err != nil {
			return nil, err
		}
		w, ok := s.Workspace(id)
		if !ok {
			return nil, ipc.ApplicationError(ev.Name, "unknown workspace %d", id)
		}
		w.Name = f[1]
	case EventActiveWindowV2:
		if data == "" || data == "," {
			s.FocusWindow(nil)
			return nil, nil
		}
		id, err := parseAddr(ev, data)
		if err != nil {
			return nil, err
		}
		w, ok := s.Window(id)
		if !ok {
			return nil, ipc.ApplicationError(ev.Name, "unknown window %x", id)
		}
		w.Urgent = false
		s.FocusWindow(&id)
	case EventOpenWindow:
		f, err := fields(ev, 4)
		if err != nil {
			return nil, err
		}
		id, err := parseAddr(ev, f[0])
		if err != nil {
			return nil, err
		}
		win := ipc.Window{ID: id, AppID: f[2], Title: f[3]}
		if old, ok := s.Window(id); ok {
			win.Focused, win.Floating, win.PID = old.Focused, old.Floating, old.PID
		}
		if ws, ok := s.WorkspaceByName(f[1]); ok {
			wsID := ws.ID
			win.WorkspaceID = &wsID
		}
		s.UpsertWindow(win)
		if win.WorkspaceID == nil {
			return []ipc.Frame{Query("workspaces"), Query("clients")}, nil
		}
	case EventCloseWindow:
		id, err := parseAddr(ev, data)
		if err != nil {
			return nil, err
		}
		if !s.RemoveWindow(id) {
			return nil, ipc.ApplicationError(ev.Name, "unknown window %x", id)
		}
	case EventMoveWindowV2:
		f, err := fields(ev, 3)
		if err != nil {
			return nil, err
		}
		id, err := parseAddr(ev, f[0])
		if err != nil {
			return nil, err
		}
		wsID, err := parseID(ev, f[1])
		if err != nil {
			return nil, err
		}
		w, ok := s.Window(id)
		if !ok {
			return nil, ipc.ApplicationError(ev.Name, "unknown window %x", id)
		}
		w.WorkspaceID = &wsID
	case EventWindowTitleV2:
		f, err := fields(ev, 2)
		if err != nil {
			return nil, err
		}
		id, err := parseAddr(ev, f[0])
		if err != nil {
			return nil, err
		}
		w, ok := s.Window(id)
		if !ok {
			return nil, ipc.ApplicationError(ev.Name, "unknown window %x", id)
		}
		w.Title = f[1]
	case EventUrgent:
		id, err := parseAddr(ev, data)
		if err != nil {
			return nil, err
		}
		w, ok := s.Window(id)
		if !ok {
			return nil, ipc.ApplicationError(ev.Name, "unknown window %x", id)
		}
		w.Urgent = true
		if w.WorkspaceID != nil {
			if ws, ok := s.Workspace(*w.WorkspaceID); ok {
				ws.Urgent = true
			}
		}
	case EventChangeFloatingMode:
		f, err := fields(ev, 2)
		if err != nil {
			return nil, err
		}
		id, err := parseAddr(ev, f[0])
		if err != nil {
			return nil, err
		}
		w, ok := s.Window(id)
		if !ok {
			return nil, ipc.ApplicationError(ev.Name, "unknown window %x", id)
		}
		w.Floating = f[1] == "1"
	case EventMonitorAdded, EventMonitorAddedV2, EventMonitorRemoved, EventMonitorRemovedV2:
		return []ipc.Frame{Query("monitors"), Query("workspaces")}, nil
	case EventSubmap:
		s.SetMode(data)
	case EventActiveLayout:
		// keyboard names never contain a comma, layout names may
		f, err := fields(ev, 2)
		if err != nil {
			return nil, err
		}
		s.SelectKeyboardLayout(f[1])
	case EventConfigReloaded:
		return []ipc.Frame{Query("devices")}, nil
	}
	return nil, nil
}

// activate makes id the active workspace of its monitor and the focused
// one. An empty monitor means the workspace's own.
func activate(s *ipc.State, id int64, monitor string) ([]ipc.Frame, error) {
	w, ok := s.Workspace(id)
	if !ok {
		if id < 0 {
			return nil, nil
		}
		return []ipc.Frame{Query("workspaces"), Query("monitors")}, nil
	}
	if monitor == "" {
		monitor = w.Output
	}
	w.Urgent = false
	activeMap(s)[monitor] = id
	s.SetFocusedOutput(monitor)
	syncActive(s)
	return nil, nil
}
