package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/hoppxi/wmlink/internal/watchers"
	"github.com/hoppxi/wmlink/pkg/ipc"
	"github.com/hoppxi/wmlink/pkg/ipc/detect"
	"github.com/sourcegraph/conc/panics"
)

type TrackedCmd struct {
	Cmd    *exec.Cmd
	Cancel context.CancelFunc
}

// Status is the daemon's answer to STATUS.
type Status struct {
	PID       int            `json:"pid"`
	Started   time.Time      `json:"started"`
	Config    string         `json:"config"`
	Watchers  int            `json:"watchers"`
	Sinks     []string       `json:"sinks"`
	Workspace watchers.Stats `json:"workspace"`
}

type AppManager struct {
	mu      sync.Mutex
	cmds    []TrackedCmd
	stops   []chan struct{}
	wg      sync.WaitGroup
	started time.Time
	retry   time.Duration
	logger  *slog.Logger

	pool    *ipc.Pool
	watcher *watchers.WorkspaceWatcher
	sinks   []watchers.Sink
	config  *ConfigManager

	done     chan struct{}
	doneOnce sync.Once
}

var Manage = NewAppManager()

func NewAppManager() *AppManager {
	return &AppManager{retry: DefaultSettings().RetryInterval, done: make(chan struct{})}
}

func (m *AppManager) log() *slog.Logger {
	if m.logger == nil {
		return slog.Default()
	}
	return m.logger
}

// SetLogger replaces slog.Default for the manager and its watchers.
func (m *AppManager) SetLogger(l *slog.Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger = l
}

// SetRetryInterval sets the delay before a stopped watcher restarts.
func (m *AppManager) SetRetryInterval(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d > 0 {
		m.retry = d
	}
}

func NewCmd(command string, args ...string) (*exec.Cmd, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, command, args...)

	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd, cancel
}

// StartTrackedCmd starts cmd and kills its process group in StopAll.
func (m *AppManager) StartTrackedCmd(cmd *exec.Cmd, cancel context.CancelFunc) *exec.Cmd {
	if err := cmd.Start(); err != nil {
		cancel()
		m.log().Error("failed to start command", "cmd", cmd.Args[0], "err", err)
		return nil
	}

	m.mu.Lock()
	m.cmds = append(m.cmds, TrackedCmd{Cmd: cmd, Cancel: cancel})
	m.mu.Unlock()

	return cmd
}

// StartWatcher runs f until its stop channel is closed, restarting it after
// the retry interval whenever it returns or panics.
func (m *AppManager) StartWatcher(name string, f func(stop <-chan struct{}) error) {
	stop := make(chan struct{})
	m.mu.Lock()
	m.stops = append(m.stops, stop)
	retry := m.retry
	m.mu.Unlock()

	log := m.log().With("watcher", name)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			var err error
			var pc panics.Catcher
			pc.Try(func() { err = f(stop) })
			if r := pc.Recovered(); r != nil {
				log.Error("watcher panic", "panic", r.Value, "stack", string(r.Stack))
			} else if err != nil {
				log.Warn("watcher stopped", "err", err)
			}

			select {
			case <-stop:
				return
			case <-time.After(retry):
				log.Debug("restarting watcher")
			}
		}
	}()
}

// stopWatchers closes every stop channel and waits for the watchers.
func (m *AppManager) stopWatchers() {
	m.mu.Lock()
	stops := m.stops
	m.stops = nil
	m.mu.Unlock()

	for _, s := range stops {
		close(s)
	}
	m.wg.Wait()
}

func closeSinks(sinks []watchers.Sink) {
	for _, s := range sinks {
		if c, ok := s.(interface{ Close() error }); ok {
			_ = c.Close()
		}
	}
}

// Start builds the sinks and watchers described by s.
func (m *AppManager) Start(s Settings) error {
	filter, err := watchers.NewFilter(s.Workspaces.Filter)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.started.IsZero() {
		m.started = time.Now()
	}
	if m.pool == nil {
		m.pool = ipc.NewPool(ipc.WithLogger(m.log()))
	}
	if s.RetryInterval > 0 {
		m.retry = s.RetryInterval
	}
	pool := m.pool
	m.mu.Unlock()

	var sinks []watchers.Sink
	if s.Sinks.Eww.Enabled {
		if s.Sinks.Eww.Daemon && !m.tracking("eww") {
			ewwCmd, ewwCancel := NewCmd("eww", "daemon", "--no-daemonize")
			m.StartTrackedCmd(ewwCmd, ewwCancel)
		}
		sinks = append(sinks, watchers.NewEwwSink(s.Sinks.Eww.Variables))
	}
	if s.Sinks.Dbus.Enabled {
		bus, err := watchers.NewDBusSink()
		if err != nil {
			m.log().Warn("d-bus sink disabled", "err", err)
		} else {
			sinks = append(sinks, bus)
		}
	}

	w := &watchers.WorkspaceWatcher{
		Pool: pool,
		Protocol: func() (ipc.Protocol, error) {
			return detect.Detect(s.Compositor, s.Socket, m.log())
		},
		Filter:     filter,
		Persistent: s.Workspaces.Persistent,
		Sinks:      sinks,
		Logger:     m.log(),
	}

	m.mu.Lock()
	m.watcher = w
	m.sinks = sinks
	m.mu.Unlock()

	m.StartWatcher("workspaces", w.Run)
	return nil
}

func (m *AppManager) tracking(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.cmds {
		if len(t.Cmd.Args) > 0 && t.Cmd.Args[0] == name {
			return true
		}
	}
	return false
}

// Reload restarts the watchers with new settings. On a bad config the
// running watchers are kept.
func (m *AppManager) Reload(s Settings) error {
	if _, err := watchers.NewFilter(s.Workspaces.Filter); err != nil {
		return err
	}
	m.stopWatchers()
	m.mu.Lock()
	sinks := m.sinks
	m.sinks = nil
	m.mu.Unlock()
	closeSinks(sinks)
	return m.Start(s)
}

func (m *AppManager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg := m.config
	if cfg == nil {
		cfg = Config
	}
	st := Status{
		PID:      os.Getpid(),
		Started:  m.started,
		Config:   cfg.Path(),
		Watchers: len(m.stops),
	}
	for _, s := range m.sinks {
		st.Sinks = append(st.Sinks, s.Name())
	}
	if m.watcher != nil {
		st.Workspace = m.watcher.Stats()
	}
	return st
}

// State returns the compositor mirror of the running watcher.
func (m *AppManager) State() (ipc.Snapshot, error) {
	m.mu.Lock()
	w := m.watcher
	m.mu.Unlock()
	if w == nil {
		return ipc.Snapshot{}, errors.New("no watcher running")
	}
	snap, ok := w.Snapshot()
	if !ok {
		return ipc.Snapshot{}, fmt.Errorf("not connected to a compositor")
	}
	return snap, nil
}

// Shutdown asks the daemon to exit; Done is closed.
func (m *AppManager) Shutdown() {
	m.doneOnce.Do(func() { close(m.done) })
}

func (m *AppManager) Done() <-chan struct{} { return m.done }

func (m *AppManager) StopAll() {
	m.stopWatchers()

	m.mu.Lock()
	cmds := m.cmds
	sinks := m.sinks
	pool := m.pool
	m.cmds = nil
	m.sinks = nil
	m.pool = nil
	m.mu.Unlock()

	closeSinks(sinks)
	if pool != nil {
		pool.Close()
	}

	for _, t := range cmds {
		if t.Cancel != nil {
			t.Cancel()
		}
		if t.Cmd == nil || t.Cmd.Process == nil {
			continue
		}

		pid := t.Cmd.Process.Pid
		pgid, err := syscall.Getpgid(pid)

		if err == nil {
			_ = syscall.Kill(-pgid, syscall.SIGTERM)

			time.Sleep(50 * time.Millisecond)
			_ = syscall.Kill(-pgid, syscall.SIGKILL)
		}

		_ = t.Cmd.Process.Kill()
		_ = t.Cmd.Wait()
	}
}
