package wayfire

import (
	"log/slog"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"

	"github.com/hoppxi/wmlink/pkg/ipc"
)

type geometry struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

type grid struct {
	X          int `json:"x"`
	Y          int `json:"y"`
	GridWidth  int `json:"grid_width"`
	GridHeight int `json:"grid_height"`
}

type outputInfo struct {
	ID        int64    `json:"id"`
	Name      string   `json:"name"`
	Geometry  geometry `json:"geometry"`
	WsetIndex int      `json:"wset-index"`
	Workspace grid     `json:"workspace"`
}

type wsetInfo struct {
	Index      int    `json:"index"`
	Name       string `json:"name"`
	OutputID   int64  `json:"output-id"`
	OutputName string `json:"output-name"`
	Workspace  grid   `json:"workspace"`
}

type viewInfo struct {
	ID         int64    `json:"id"`
	PID        int      `json:"pid"`
	Title      string   `json:"title"`
	AppID      string   `json:"app-id"`
	Role       string   `json:"role"`
	Mapped     bool     `json:"mapped"`
	Geometry   geometry `json:"geometry"`
	OutputName string   `json:"output-name"`
	WsetIndex  int      `json:"wset-index"`
	TiledEdges int      `json:"tiled-edges"`
	Sticky     bool     `json:"sticky"`
}

// toplevel excludes panels, backgrounds and unmapped views.
func (v viewInfo) toplevel() bool {
	return v.Mapped && v.Role != "desktop-environment" && v.PID != -1
}

// model is the protocol-private part of the state: the wset grids the
// public workspaces are derived from.
type model struct {
	outputs map[string]outputInfo
	wsets   map[int]wsetInfo
	focused *int64
}

const modelKey = "wayfire.model"

func modelOf(s *ipc.State) *model {
	if v, ok := s.Extra(modelKey); ok {
		return v.(*model)
	}
	m := &model{outputs: make(map[string]outputInfo), wsets: make(map[int]wsetInfo)}
	s.SetExtra(modelKey, m)
	return m
}

// WorkspaceID encodes a grid cell of a wset.
func WorkspaceID(wset, cell int) int64 {
	return int64(wset)<<16 | int64(cell)
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// locate finds the grid cell holding geometry g, relative to the wset's
// current workspace.
func (m *model) locate(wsetIdx int, g geometry) (int64, bool) {
	w, ok := m.wsets[wsetIdx]
	if !ok || w.Workspace.GridWidth <= 0 || w.Workspace.GridHeight <= 0 {
		return 0, false
	}
	out, ok := m.outputs[w.OutputName]
	if !ok || out.Geometry.Width <= 0 || out.Geometry.Height <= 0 {
		return 0, false
	}
	x := max(0, w.Workspace.X+floorDiv(g.X, out.Geometry.Width))
	y := max(0, w.Workspace.Y+floorDiv(g.Y, out.Geometry.Height))
	if x >= w.Workspace.GridWidth || y >= w.Workspace.GridHeight {
		return 0, false
	}
	return WorkspaceID(wsetIdx, y*w.Workspace.GridWidth+x), true
}

func (m *model) cell(wsetIdx, x, y int) (int64, bool) {
	w, ok := m.wsets[wsetIdx]
	if !ok || x < 0 || y < 0 || x >= w.Workspace.GridWidth || y >= w.Workspace.GridHeight {
		return 0, false
	}
	return WorkspaceID(wsetIdx, y*w.Workspace.GridWidth+x), true
}

// rebuild regenerates the public workspaces from the wset grids.
func (m *model) rebuild(s *ipc.State) {
	var ws []ipc.Workspace
	focusedOutput := s.FocusedOutput()
	for _, w := range m.wsets {
		g := w.Workspace
		current := g.Y*g.GridWidth + g.X
		for cell := range g.GridWidth * g.GridHeight {
			ws = append(ws, ipc.Workspace{
				ID:      WorkspaceID(w.Index, cell),
				Name:    strconv.Itoa(cell + 1),
				Output:  w.OutputName,
				Index:   cell + 1,
				Active:  cell == current,
				Focused: cell == current && w.OutputName != "" && w.OutputName == focusedOutput,
			})
		}
	}
	s.ReplaceWorkspaces(ws)
}

func (m *model) window(v viewInfo) ipc.Window {
	w := ipc.Window{
		ID:       v.ID,
		AppID:    v.AppID,
		Title:    v.Title,
		PID:      v.PID,
		Floating: v.TiledEdges == 0,
		Focused:  m.focused != nil && *m.focused == v.ID,
	}
	if id, ok := m.locate(v.WsetIndex, v.Geometry); ok {
		w.WorkspaceID = &id
	}
	return w
}

func (p *Protocol) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func decode(op string, raw string, v any) error {
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return ipc.ApplicationError(op, "%v", err)
	}
	return nil
}

func (p *Protocol) ApplyBootstrap(s *ipc.State, req, resp ipc.Frame) error {
	if err := checkReply(req.Name, resp); err != nil {
		return err
	}
	m := modelOf(s)
	switch req.Name {
	case MethodListOutputs:
		var outs []outputInfo
		if err := resp.Decode(&outs); err != nil {
			return err
		}
		clear(m.outputs)
		list := make([]ipc.Output, 0, len(outs))
		for _, o := range outs {
			m.outputs[o.Name] = o
			list = append(list, ipc.Output{
				ID:   o.ID,
				Name: o.Name,
				Geometry: ipc.Rect{
					X: o.Geometry.X, Y: o.Geometry.Y,
					Width: o.Geometry.Width, Height: o.Geometry.Height,
				},
				Active: true,
			})
		}
		s.ReplaceOutputs(list)
	case MethodListWsets:
		var wsets []wsetInfo
		if err := resp.Decode(&wsets); err != nil {
			return err
		}
		clear(m.wsets)
		for _, w := range wsets {
			m.wsets[w.Index] = w
		}
		m.rebuild(s)
	case MethodListViews:
		var views []viewInfo
		if err := resp.Decode(&views); err != nil {
			return err
		}
		list := make([]ipc.Window, 0, len(views))
		for _, v := range views {
			if v.toplevel() {
				list = append(list, m.window(v))
			}
		}
		s.ReplaceWindows(list)
	case MethodFocusedOutput:
		info := resp.Get("info")
		if info.Type == gjson.Null || !info.Exists() {
			return nil
		}
		s.SetFocusedOutput(info.Get("name").String())
		m.rebuild(s)
	case MethodFocusedView:
		info := resp.Get("info")
		if info.Type == gjson.Null || !info.Exists() {
			m.focused = nil
			s.FocusWindow(nil)
			return nil
		}
		var v viewInfo
		if err := decode(req.Name, info.Raw, &v); err != nil {
			return err
		}
		p.focus(s, m, v)
	default:
		return ipc.ApplicationError("bootstrap", "no translation for %s", req)
	}
	return nil
}

func (p *Protocol) focus(s *ipc.State, m *model, v viewInfo) {
	if !v.toplevel() {
		return
	}
	id := v.ID
	m.focused = &id
	s.UpsertWindow(m.window(v))
	s.FocusWindow(&id)
}

// updateView stores v, or drops it when it is no longer a mapped toplevel.
func (p *Protocol) updateView(s *ipc.State, m *model, v viewInfo) {
	if !v.toplevel() {
		s.RemoveWindow(v.ID)
		return
	}
	w := m.window(v)
	if w.WorkspaceID == nil {
		p.logger().Debug("wayfire: view outside every workspace", "id", v.ID, "wset", v.WsetIndex)
	}
	s.UpsertWindow(w)
}

func (p *Protocol) ApplyEvent(s *ipc.State, ev ipc.Event) ([]ipc.Frame, error) {
	m := modelOf(s)
	var view *viewInfo
	if raw := ev.Frame.Get("view"); raw.IsObject() {
		view = new(viewInfo)
		if err := decode(ev.Name, raw.Raw, view); err != nil {
			return nil, err
		}
	}

	switch ev.Kind {
	case EventViewMapped, EventViewTitleChanged, EventViewAppIDChanged, EventViewSticky,
		EventViewGeometryChanged, EventViewTiled, EventViewMinimized, EventViewFullscreen,
		EventViewWsetChanged:
		if view == nil {
			return nil, ipc.ApplicationError(ev.Name, "event without view")
		}
		p.updateView(s, m, *view)
	case EventViewUnmapped:
		if view == nil {
			return nil, ipc.ApplicationError(ev.Name, "event without view")
		}
		if m.focused != nil && *m.focused == view.ID {
			m.focused = nil
		}
		if !s.RemoveWindow(view.ID) {
			return nil, ipc.ApplicationError(ev.Name, "unknown view %d", view.ID)
		}
	case EventViewFocused:
		if view == nil {
			m.focused = nil
			s.FocusWindow(nil)
			return nil, nil
		}
		p.focus(s, m, *view)
	case EventViewWorkspaceChanged:
		if view == nil {
			return nil, ipc.ApplicationError(ev.Name, "event without view")
		}
		if !view.toplevel() {
			return nil, nil
		}
		to := ev.Frame.Get("to")
		id, ok := m.cell(view.WsetIndex, int(to.Get("x").Int()), int(to.Get("y").Int()))
		if !ok {
			return resync(), nil
		}
		w := m.window(*view)
		w.WorkspaceID = &id
		s.UpsertWindow(w)
	case EventViewSetOutput:
		if view != nil {
			if _, known := m.outputs[view.OutputName]; !known {
				return resync(), nil
			}
			p.updateView(s, m, *view)
		}
	case EventOutputGainFocus:
		name := ev.Frame.Get("output.name").String()
		if _, ok := s.Output(name); !ok {
			return resync(), nil
		}
		s.SetFocusedOutput(name)
		m.rebuild(s)
	case EventWsetWorkspaceChanged:
		idx := int(ev.Frame.Get("wset-data.index").Int())
		w, ok := m.wsets[idx]
		if !ok {
			return resync(), nil
		}
		w.Workspace.X = int(ev.Frame.Get("new-workspace.x").Int())
		w.Workspace.Y = int(ev.Frame.Get("new-workspace.y").Int())
		m.wsets[idx] = w
		m.rebuild(s)
	case EventOutputWsetChanged, EventOutputAdded, EventOutputRemoved:
		return resync(), nil
	}
	return nil, nil
}
