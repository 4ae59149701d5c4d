package watchers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/hoppxi/wmlink/pkg/ipc"
)

// Stats describes a WorkspaceWatcher for `wmlink status`.
type Stats struct {
	Compositor string    `json:"compositor"`
	Version    string    `json:"version,omitempty"`
	Connected  bool      `json:"connected"`
	Events     uint64    `json:"events"`
	LastEvent  time.Time `json:"last_event"`
	Updates    uint64    `json:"updates"`
}

// published is what the sinks were last told.
type published struct {
	valid      bool
	workspaces []ipc.Workspace
	workspace  ipc.Workspace
	window     ipc.Window
	keyboard   string
	mode       string
}

// WorkspaceWatcher keeps sinks in step with the compositor's workspaces,
// focused window, keyboard layout and binding mode.
type WorkspaceWatcher struct {
	Pool *ipc.Pool
	// Protocol picks the compositor on every Run.
	Protocol   func() (ipc.Protocol, error)
	Filter     *Filter
	Persistent []string
	Sinks      []Sink
	Logger     *slog.Logger

	mu    sync.Mutex
	conn  *ipc.Connection
	last  published
	stats Stats
}

func (w *WorkspaceWatcher) logger() *slog.Logger {
	if w.Logger == nil {
		return slog.Default()
	}
	return w.Logger
}

// Compare windows
func equalWindow(a, b ipc.Window) bool {
	if a.ID != b.ID || a.Title != b.Title || a.AppID != b.AppID {
		return false
	}
	if a.Focused != b.Focused || a.Urgent != b.Urgent || a.Floating != b.Floating || a.PID != b.PID {
		return false
	}
	if (a.WorkspaceID == nil) != (b.WorkspaceID == nil) {
		return false
	}
	if a.WorkspaceID != nil && *a.WorkspaceID != *b.WorkspaceID {
		return false
	}
	return bytes.Equal(a.Layout, b.Layout)
}

// Compare workspace lists
func equalWorkspaces(a, b []ipc.Workspace) bool {
	return slices.Equal(a, b)
}

// Run publishes until stop is closed or the connection breaks. It returns
// an error whenever the supervisor should retry.
func (w *WorkspaceWatcher) Run(stop <-chan struct{}) error {
	proto, err := w.Protocol()
	if err != nil {
		w.publishEmpty()
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	c, err := w.Pool.Acquire(ctx, proto)
	if err != nil {
		w.publishEmpty()
		return fmt.Errorf("connect to %s: %w", proto.Name(), err)
	}
	defer w.Pool.Release(c)
	if !c.Available() {
		w.publishEmpty()
		return c.Err()
	}

	n := ipc.NewNotifier()
	var handles []ipc.Handle
	defer func() {
		for _, h := range handles {
			c.UnregisterHandlerAndWait(h)
		}
	}()
	for _, name := range proto.Events().Names() {
		h, err := c.RegisterHandler(name, w.onEvent(n))
		if err != nil {
			return err
		}
		handles = append(handles, h)
	}

	version, err := compositorVersion(ctx, c)
	if err != nil {
		w.logger().Debug("no compositor version", "compositor", proto.Name(), "error", err)
	}

	w.mu.Lock()
	w.conn = c
	w.stats.Compositor = proto.Name()
	w.stats.Version = version
	w.stats.Connected = true
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.conn = nil
		w.stats.Connected = false
		w.mu.Unlock()
	}()

	w.logger().Info("watching workspaces", "compositor", proto.Name())
	w.publish(c.Mirror().Snapshot())
	for {
		select {
		case <-stop:
			return nil
		case <-c.Done():
			w.publishEmpty()
			if err := c.Err(); err != nil && !errors.Is(err, ipc.ErrClosed) {
				return err
			}
			return fmt.Errorf("%s connection closed", proto.Name())
		case <-n.C():
			w.publish(c.Mirror().Snapshot())
		}
	}
}

func (w *WorkspaceWatcher) onEvent(n *ipc.Notifier) ipc.Handler {
	return func(ipc.Event) {
		w.mu.Lock()
		w.stats.Events++
		w.stats.LastEvent = time.Now()
		w.mu.Unlock()
		n.Notify()
	}
}

// Stats returns a copy of the counters.
func (w *WorkspaceWatcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// Snapshot returns the mirror of the current connection.
func (w *WorkspaceWatcher) Snapshot() (ipc.Snapshot, bool) {
	w.mu.Lock()
	c := w.conn
	w.mu.Unlock()
	if c == nil {
		return ipc.Snapshot{}, false
	}
	return c.Mirror().Snapshot(), true
}

// withPersistent marks configured workspaces and appends the missing ones.
func withPersistent(ws []ipc.Workspace, names []string) []ipc.Workspace {
	for _, name := range names {
		i := slices.IndexFunc(ws, func(w ipc.Workspace) bool { return w.Name == name })
		if i >= 0 {
			ws[i].Persistent = true
			continue
		}
		ws = append(ws, ipc.Workspace{Name: name, Persistent: true})
	}
	return ws
}

// Workspaces applies the filter and persistent names to snap.
func (w *WorkspaceWatcher) Workspaces(snap ipc.Snapshot) []ipc.Workspace {
	ws, err := w.Filter.Apply(slices.Clone(snap.Workspaces))
	if err != nil {
		w.logger().Warn("workspace filter failed", "filter", w.Filter.String(), "err", err)
	}
	return withPersistent(ws, w.Persistent)
}

func (w *WorkspaceWatcher) publish(snap ipc.Snapshot) {
	next := published{valid: true, workspaces: w.Workspaces(snap)}
	next.workspace, _ = snap.FocusedWorkspace()
	next.window, _ = snap.FocusedWindow()
	next.keyboard = snap.Keyboard.CurrentName()
	next.mode = snap.Mode
	w.push(next)
}

// publishEmpty hides every module while the compositor is unreachable.
func (w *WorkspaceWatcher) publishEmpty() {
	w.push(published{valid: true, workspaces: []ipc.Workspace{}})
}

func (w *WorkspaceWatcher) push(next published) {
	w.mu.Lock()
	prev := w.last
	w.last = next
	w.mu.Unlock()

	fresh := !prev.valid
	if fresh || !equalWorkspaces(prev.workspaces, next.workspaces) {
		w.update(VarWorkspaces, next.workspaces)
	}
	if fresh || prev.workspace != next.workspace {
		w.update(VarActiveWorkspace, next.workspace)
	}
	if fresh || !equalWindow(prev.window, next.window) {
		w.update(VarActiveWindow, next.window)
	}
	if fresh || prev.keyboard != next.keyboard {
		w.update(VarKeyboard, next.keyboard)
	}
	if fresh || prev.mode != next.mode {
		w.update(VarMode, next.mode)
	}
}

func (w *WorkspaceWatcher) update(variable string, value any) {
	w.mu.Lock()
	w.stats.Updates++
	w.mu.Unlock()
	for _, s := range w.Sinks {
		if err := s.Update(variable, value); err != nil {
			w.logger().Warn("sink update failed", "sink", s.Name(), "variable", variable, "err", err)
		}
	}
}
