package ipc

import (
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/hoppxi/wmlink/internal/assert"
)

func ptr[T any](v T) *T { return &v }

func seed(m *Mirror) {
	m.Update(func(s *State) {
		s.ReplaceOutputs([]Output{{ID: 1, Name: "HDMI-A-1"}, {ID: 2, Name: "DP-1", Focused: true}})
		s.ReplaceWorkspaces([]Workspace{
			{ID: 3, Name: "3", Output: "HDMI-A-1", Index: 1},
			{ID: 1, Name: "1", Output: "DP-1", Index: 1, Active: true, Focused: true},
			{ID: 2, Name: "2", Output: "DP-1", Index: 2},
		})
		s.ReplaceWindows([]Window{
			{ID: 20, Title: "b", WorkspaceID: ptr[int64](1)},
			{ID: 10, Title: "a", WorkspaceID: ptr[int64](1), Focused: true},
			{ID: 30, Title: "c", WorkspaceID: ptr[int64](2)},
		})
	})
}

func TestMirrorOrdering(t *testing.T) {
	m := NewMirror(counter{})
	seed(m)

	var ids []int64
	for _, w := range m.Workspaces() {
		ids = append(ids, w.ID)
	}
	assert.DeepEqual(t, ids, []int64{1, 2, 3})

	ids = ids[:0]
	for _, w := range m.Windows() {
		ids = append(ids, w.ID)
	}
	assert.DeepEqual(t, ids, []int64{10, 20, 30})

	outs := m.Outputs()
	assert.Equal(t, outs[0].Name, "DP-1")
	assert.Equal(t, outs[1].Name, "HDMI-A-1")
}

func TestMirrorDerivedCounts(t *testing.T) {
	m := NewMirror(counter{})
	seed(m)

	counts := map[int64]int{}
	for _, w := range m.Workspaces() {
		counts[w.ID] = w.Windows
	}
	assert.DeepEqual(t, counts, map[int64]int{1: 2, 2: 1, 3: 0})
}

func TestMirrorDanglingWorkspaceRef(t *testing.T) {
	m := NewMirror(counter{})
	seed(m)
	m.Update(func(s *State) { s.RemoveWorkspace(2) })

	m.WithLock(func(v View) {
		w, ok := v.Window(30)
		assert.True(t, ok)
		assert.True(t, w.WorkspaceID == nil)
		_, ok = v.Workspace(2)
		assert.False(t, ok)
	})

	// the reference comes back once the workspace does
	m.Update(func(s *State) { s.UpsertWorkspace(Workspace{ID: 2, Output: "DP-1", Index: 2}) })
	m.WithLock(func(v View) {
		w, _ := v.Window(30)
		assert.True(t, w.OnWorkspace(2))
	})
}

func TestMirrorReadsAreCopies(t *testing.T) {
	m := NewMirror(counter{})
	seed(m)
	m.Update(func(s *State) {
		w, _ := s.Window(10)
		w.Layout = []byte(`{"tile_size":[1,1]}`)
	})

	ws := m.Windows()
	ws[0].Title = "changed"
	*ws[0].WorkspaceID = 99
	ws[0].Layout[0] = 'x'

	got, ok := m.FocusedWindow()
	assert.True(t, ok)
	assert.Equal(t, got.Title, "a")
	assert.Equal(t, *got.WorkspaceID, int64(1))
	assert.Equal(t, string(got.Layout), `{"tile_size":[1,1]}`)
}

func TestMirrorFocus(t *testing.T) {
	m := NewMirror(counter{})
	seed(m)

	o, ok := m.FocusedOutput()
	assert.True(t, ok)
	assert.Equal(t, o.Name, "DP-1")

	m.Update(func(s *State) {
		assert.True(t, s.ActivateWorkspace(2, true))
		assert.True(t, s.FocusWindow(ptr[int64](30)))
	})
	snap := m.Snapshot()
	ws, ok := snap.FocusedWorkspace()
	assert.True(t, ok)
	assert.Equal(t, ws.ID, int64(2))
	w, ok := snap.FocusedWindow()
	assert.True(t, ok)
	assert.Equal(t, w.ID, int64(30))

	active := 0
	for _, ws := range snap.Workspaces {
		if ws.Output == "DP-1" && ws.Active {
			active++
		}
	}
	assert.Equal(t, active, 1)

	// the other output keeps its own active workspace
	m.Update(func(s *State) { s.ActivateWorkspace(3, false) })
	m.WithLock(func(v View) {
		w3, _ := v.Workspace(3)
		w2, _ := v.Workspace(2)
		assert.True(t, w3.Active)
		assert.False(t, w3.Focused)
		assert.True(t, w2.Active)
		assert.True(t, w2.Focused)
	})

	m.Update(func(s *State) { s.FocusWindow(nil) })
	_, ok = m.FocusedWindow()
	assert.False(t, ok)
}

func TestMirrorUnknownIDs(t *testing.T) {
	m := NewMirror(counter{})
	seed(m)
	before := m.Snapshot()

	m.Update(func(s *State) {
		assert.False(t, s.RemoveWindow(404))
		assert.False(t, s.RemoveWorkspace(404))
		assert.False(t, s.RemoveOutput("nope"))
		assert.False(t, s.ActivateWorkspace(404, true))
		_, ok := s.Window(404)
		assert.False(t, ok)
	})
	after := m.Snapshot()
	assert.DeepEqual(t, after.Workspaces, before.Workspaces)
	assert.DeepEqual(t, after.Windows, before.Windows)
	assert.DeepEqual(t, after.Outputs, before.Outputs)
}

func TestMirrorIdempotentUpserts(t *testing.T) {
	m := NewMirror(counter{})
	seed(m)
	before := m.Snapshot()
	for range 3 {
		m.Update(func(s *State) {
			s.UpsertWindow(Window{ID: 30, Title: "c", WorkspaceID: ptr[int64](2)})
			s.UpsertWorkspace(Workspace{ID: 3, Name: "3", Output: "HDMI-A-1", Index: 1})
		})
	}
	after := m.Snapshot()
	assert.DeepEqual(t, after.Windows, before.Windows)
	assert.DeepEqual(t, after.Workspaces, before.Workspaces)
	assert.True(t, after.Version > before.Version)
}

func TestKeyboardLayouts(t *testing.T) {
	m := NewMirror(counter{})
	m.Update(func(s *State) {
		s.SetKeyboard(Keyboard{Names: []string{"English (US)", "German"}, Current: 0})
	})
	assert.Equal(t, m.Keyboard().CurrentName(), "English (US)")

	m.Update(func(s *State) { s.SelectKeyboardLayout("German") })
	assert.Equal(t, m.Keyboard().CurrentName(), "German")

	m.Update(func(s *State) { s.SelectKeyboardLayout("French") })
	k := m.Keyboard()
	assert.Equal(t, len(k.Names), 3)
	assert.Equal(t, k.CurrentName(), "French")

	m.Update(func(s *State) { s.SetKeyboardCurrent(9) })
	assert.Equal(t, m.Keyboard().CurrentName(), "")
}

// TestMirrorConcurrentReaders hammers the mirror from one writer while
// readers check the cross-collection invariants.
func TestMirrorConcurrentReaders(t *testing.T) {
	const updates = 10000
	m := NewMirror(counter{})
	seed(m)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for range 4 {
		wg.Go(func() {
			var last uint64
			for {
				select {
				case <-stop:
					return
				default:
				}
				m.WithLock(func(v View) {
					if v.Version() < last {
						t.Errorf("version went back from %d to %d", last, v.Version())
					}
					last = v.Version()

					known := map[int64]bool{}
					total := 0
					for _, ws := range v.Workspaces() {
						known[ws.ID] = true
						total += ws.Windows
					}
					onWs, focused := 0, 0
					for _, w := range v.Windows() {
						if w.WorkspaceID != nil {
							if !known[*w.WorkspaceID] {
								t.Errorf("window %d on missing workspace %d", w.ID, *w.WorkspaceID)
							}
							onWs++
						}
						if w.Focused {
							focused++
						}
					}
					if total != onWs {
						t.Errorf("workspace counts %d, windows on workspaces %d", total, onWs)
					}
					if focused > 1 {
						t.Errorf("%d focused windows", focused)
					}
				})
			}
		})
	}

	r := rand.New(rand.NewPCG(1, 2))
	for range updates {
		id := int64(r.IntN(50))
		ws := int64(r.IntN(6))
		switch r.IntN(5) {
		case 0:
			m.Update(func(s *State) { s.UpsertWindow(Window{ID: id, WorkspaceID: &ws}) })
		case 1:
			m.Update(func(s *State) { s.RemoveWindow(id) })
		case 2:
			m.Update(func(s *State) { s.UpsertWorkspace(Workspace{ID: ws, Output: "DP-1", Index: int(ws)}) })
		case 3:
			m.Update(func(s *State) { s.RemoveWorkspace(ws) })
		case 4:
			m.Update(func(s *State) { s.FocusWindow(&id) })
		}
	}
	close(stop)
	wg.Wait()
	assert.True(t, m.Version() > updates)
}
