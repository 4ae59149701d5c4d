package ipc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hoppxi/wmlink/internal/assert"
	"github.com/hoppxi/wmlink/internal/testutil"
)

// fakeServer speaks line JSON. "sub" turns the connection into an event
// channel, "hang" is never answered and anything else gets the state.
type fakeServer struct {
	path   string
	events chan net.Conn

	mu     sync.Mutex
	conns  []net.Conn
	state  string
	reject bool
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	path, l := testutil.Listen(t, "fake.sock")
	s := &fakeServer{
		path:   path,
		events: make(chan net.Conn, 4),
		state:  `{"workspaces":[{"id":1,"name":"1"},{"id":2,"name":"2"}]}`,
	}
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.conns = append(s.conns, conn)
			s.mu.Unlock()
			go s.serve(conn)
		}
	}()
	t.Cleanup(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, c := range s.conns {
			c.Close()
		}
	})
	return s
}

func (s *fakeServer) setState(state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

func (s *fakeServer) rejectSubscriptions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reject = true
}

func (s *fakeServer) serve(conn net.Conn) {
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		s.mu.Lock()
		state, reject := s.state, s.reject
		s.mu.Unlock()

		switch line {
		case "\"sub\"\n":
			if reject {
				fmt.Fprintln(conn, `{"ok":false}`)
				return
			}
			fmt.Fprintln(conn, `{"ok":true}`)
			s.events <- conn
			return
		case "\"hang\"\n":
		default:
			fmt.Fprintln(conn, state)
		}
	}
}

// event waits for the subscribed connection.
func (s *fakeServer) event(t *testing.T) net.Conn {
	t.Helper()
	return testutil.RequireReceive(t, s.events, 5*time.Second, "event subscription")
}

var fakeEvents = NewEventTable("focus", "resync", "noop")

type fakeProto struct {
	name       string
	path       string
	strategy   Strategy
	resolveErr error
}

func (p *fakeProto) Name() string {
	if p.name != "" {
		return p.name
	}
	return "fake"
}

func (p *fakeProto) Resolve() (Endpoint, error) {
	if p.resolveErr != nil {
		return Endpoint{}, p.resolveErr
	}
	return Endpoint{Command: p.path, Events: p.path}, nil
}

func (p *fakeProto) Strategy() Strategy { return p.strategy }
func (p *fakeProto) CommandCodec() Codec { return LineCodec{} }
func (p *fakeProto) EventCodec() Codec { return LineCodec{} }
func (p *fakeProto) Events() *EventTable { return fakeEvents }
func (p *fakeProto) Bootstrap() []Frame { return []Frame{stateRequest()} }
func (p *fakeProto) Classify(f Frame) (Event, error) {
	return fakeEvents.Event(f.Get("event").String(), f)
}

func stateRequest() Frame { return NewFrame(0, "state", []byte(`"state"`)) }

func (p *fakeProto) Subscribe(t *Transport) error {
	b, err := LineCodec{}.Encode(NewFrame(0, "sub", []byte(`"sub"`)))
	if err != nil {
		return err
	}
	if err := t.WriteAll(b); err != nil {
		return err
	}
	resp, err := LineCodec{}.Decode(t)
	if err != nil {
		return err
	}
	if !resp.Get("ok").Bool() {
		return ProtocolError("subscribe", "rejected: %s", resp.Payload)
	}
	return nil
}

func (p *fakeProto) ApplyBootstrap(s *State, req, resp Frame) error {
	var ws []Workspace
	for _, w := range resp.Get("workspaces").Array() {
		ws = append(ws, Workspace{ID: w.Get("id").Int(), Name: w.Get("name").String()})
	}
	s.ReplaceWorkspaces(ws)
	return nil
}

func (p *fakeProto) ApplyEvent(s *State, ev Event) ([]Frame, error) {
	switch ev.Name {
	case "focus":
		id := ev.Frame.Get("id").Int()
		if !s.ActivateWorkspace(id, true) {
			return nil, ApplicationError("focus", "unknown workspace %d", id)
		}
	case "resync":
		return p.Bootstrap(), nil
	}
	return nil, nil
}

var strategies = []Strategy{PerRequest, Persistent}

func open(t *testing.T, p Protocol, opts ...Option) *Connection {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Open(ctx, p, append([]Option{WithLogger(discard)}, opts...)...)
	assert.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestOpenUnresolvable(t *testing.T) {
	c := open(t, &fakeProto{resolveErr: &EnvError{Names: []string{"FAKE_SOCKET"}}})
	assert.False(t, c.Available())
	testutil.RequireClosed(t, c.Done(), time.Second)
	assert.ErrorIs(t, c.Err(), ErrUnavailable)

	_, err := c.Request(context.Background(), stateRequest())
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.NoError(t, c.Close())
}

func TestOpenNobodyListening(t *testing.T) {
	for _, s := range strategies {
		t.Run(s.String(), func(t *testing.T) {
			path := filepath.Join(testutil.SocketDir(t), "missing.sock")
			c := open(t, &fakeProto{path: path, strategy: s})
			assert.False(t, c.Available())
			assert.ErrorIs(t, c.Err(), ErrUnavailable)
			assert.ErrorIs(t, c.Err(), ErrConnection)
			assert.True(t, len(c.Mirror().Workspaces()) == 0)
		})
	}
}

func TestConnectionBootstrapAndEvents(t *testing.T) {
	for _, s := range strategies {
		t.Run(s.String(), func(t *testing.T) {
			srv := newFakeServer(t)
			c := open(t, &fakeProto{path: srv.path, strategy: s})
			assert.True(t, c.Available())
			assert.Equal(t, len(c.Mirror().Workspaces()), 2)

			focused := make(chan int64, 1)
			_, err := c.RegisterHandler("focus", func(ev Event) {
				// handlers see the patched mirror
				ws, _ := c.Mirror().Snapshot().FocusedWorkspace()
				focused <- ws.ID
			})
			assert.NoError(t, err)

			ev := srv.event(t)
			fmt.Fprintln(ev, `{"event":"focus","id":2}`)
			assert.Equal(t, testutil.RequireReceive(t, focused, 5*time.Second), int64(2))
			testutil.RequireOpen(t, c.Done())
		})
	}
}

func TestConnectionResync(t *testing.T) {
	for _, s := range strategies {
		t.Run(s.String(), func(t *testing.T) {
			srv := newFakeServer(t)
			c := open(t, &fakeProto{path: srv.path, strategy: s})
			ev := srv.event(t)

			got := make(chan int, 1)
			_, err := c.RegisterHandler("resync", func(Event) { got <- len(c.Mirror().Workspaces()) })
			assert.NoError(t, err)

			srv.setState(`{"workspaces":[{"id":1},{"id":2},{"id":3}]}`)
			fmt.Fprintln(ev, `{"event":"resync"}`)
			assert.Equal(t, testutil.RequireReceive(t, got, 5*time.Second), 3)
		})
	}
}

func TestHandlerMayRequest(t *testing.T) {
	for _, s := range strategies {
		t.Run(s.String(), func(t *testing.T) {
			srv := newFakeServer(t)
			c := open(t, &fakeProto{path: srv.path, strategy: s})
			ev := srv.event(t)

			replies := make(chan error, 1)
			c.On(2, func(Event) {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_, err := c.Request(ctx, stateRequest())
				replies <- err
			})
			fmt.Fprintln(ev, `{"event":"resync"}`)
			assert.NoError(t, testutil.RequireReceive(t, replies, 5*time.Second, "request from handler"))
		})
	}
}

func TestUnknownEventsAreDropped(t *testing.T) {
	srv := newFakeServer(t)
	c := open(t, &fakeProto{path: srv.path})
	ev := srv.event(t)

	seen := make(chan int64, 1)
	c.On(1, func(e Event) { seen <- e.Frame.Get("id").Int() })
	fmt.Fprintln(ev, `{"event":"bogus"}`)
	fmt.Fprintln(ev, `{"event":"focus","id":404}`)
	fmt.Fprintln(ev, `{"event":"focus","id":1}`)
	assert.Equal(t, testutil.RequireReceive(t, seen, 5*time.Second), int64(1))

	_, err := c.RegisterHandler("bogus", func(Event) {})
	assert.ErrorIs(t, err, ErrApplication)
}

func TestSubscribeRejected(t *testing.T) {
	srv := newFakeServer(t)
	srv.rejectSubscriptions()
	_, err := Open(context.Background(), &fakeProto{path: srv.path}, WithLogger(discard))
	assert.ErrorIs(t, err, ErrProtocol)
}

func TestMalformedEventBreaksConnection(t *testing.T) {
	srv := newFakeServer(t)
	c := open(t, &fakeProto{path: srv.path})
	ev := srv.event(t)

	fmt.Fprintln(ev, `{"event":"focus",`)
	testutil.RequireClosed(t, c.Done(), 5*time.Second)
	assert.ErrorIs(t, c.Err(), ErrProtocol)
	assert.True(t, c.Broken())
}

func TestBrokenConnectionRefusesRequests(t *testing.T) {
	for _, s := range strategies {
		t.Run(s.String(), func(t *testing.T) {
			srv := newFakeServer(t)
			c := open(t, &fakeProto{path: srv.path, strategy: s})
			ev := srv.event(t)

			fmt.Fprintln(ev, `{"event":"focus",`)
			testutil.RequireClosed(t, c.Done(), 5*time.Second)

			_, err := c.Request(context.Background(), stateRequest())
			assert.ErrorIs(t, err, ErrProtocol)
			assert.Error(t, c.Refresh(context.Background()))
		})
	}
}

func TestEventChannelClosedByCompositor(t *testing.T) {
	srv := newFakeServer(t)
	c := open(t, &fakeProto{path: srv.path, strategy: Persistent})
	srv.event(t).Close()

	testutil.RequireClosed(t, c.Done(), 5*time.Second)
	assert.ErrorIs(t, c.Err(), ErrIO)
	assert.True(t, IsExpectedClose(c.Err()))
}

func TestConnectionClose(t *testing.T) {
	for _, s := range strategies {
		t.Run(s.String(), func(t *testing.T) {
			srv := newFakeServer(t)
			c := open(t, &fakeProto{path: srv.path, strategy: s})
			srv.event(t)

			assert.NoError(t, c.Close())
			assert.NoError(t, c.Close())
			testutil.RequireClosed(t, c.Done(), time.Second)
			assert.ErrorIs(t, c.Err(), ErrClosed)

			_, err := c.Request(context.Background(), stateRequest())
			assert.ErrorIs(t, err, ErrClosed)
		})
	}
}

func TestRequestDeadline(t *testing.T) {
	for _, s := range strategies {
		t.Run(s.String(), func(t *testing.T) {
			srv := newFakeServer(t)
			c := open(t, &fakeProto{path: srv.path, strategy: s}, WithoutEvents())

			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			start := time.Now()
			_, err := c.Request(ctx, NewFrame(0, "hang", []byte(`"hang"`)))
			assert.ErrorIs(t, err, ErrIO)
			assert.True(t, errors.Is(err, context.DeadlineExceeded))
			assert.True(t, time.Since(start) < 5*time.Second)

			if s == Persistent {
				// the reply may still arrive, so the shared socket is unusable
				testutil.RequireClosed(t, c.Done(), time.Second)
			} else {
				_, err = c.Request(context.Background(), stateRequest())
				assert.NoError(t, err)
			}
		})
	}
}

func TestWithoutBootstrap(t *testing.T) {
	srv := newFakeServer(t)
	c := open(t, &fakeProto{path: srv.path}, WithoutBootstrap(), WithoutEvents())
	assert.Equal(t, len(c.Mirror().Workspaces()), 0)
	assert.NoError(t, c.Refresh(context.Background()))
	assert.Equal(t, len(c.Mirror().Workspaces()), 2)
}

func TestPool(t *testing.T) {
	srv := newFakeServer(t)
	p := NewPool(WithLogger(discard))
	defer p.Close()
	proto := &fakeProto{path: srv.path, strategy: Persistent}
	ctx := context.Background()

	a := assert.Must1(p.Acquire(ctx, proto))
	b := assert.Must1(p.Acquire(ctx, proto))
	assert.True(t, a == b)
	assert.Equal(t, p.Len(), 1)

	p.Release(a)
	testutil.RequireOpen(t, b.Done(), "released while still held")
	p.Release(b)
	testutil.RequireClosed(t, b.Done(), time.Second)
	assert.Equal(t, p.Len(), 0)

	// a broken connection is replaced on the next Acquire
	c := assert.Must1(p.Acquire(ctx, proto))
	srv.event(t)
	ev := srv.event(t)
	ev.Close()
	testutil.RequireClosed(t, c.Done(), 5*time.Second)

	d := assert.Must1(p.Acquire(ctx, proto))
	assert.True(t, c != d)
	assert.True(t, d.Available())
	assert.Equal(t, p.Len(), 2)
	p.Release(c)
	p.Release(d)
	assert.Equal(t, p.Len(), 0)
}

func TestPoolOpenDoesNotBlockOthers(t *testing.T) {
	srv := newFakeServer(t)
	// accepted by the kernel but never answered
	hungPath, _ := testutil.Listen(t, "hung.sock")
	p := NewPool(WithLogger(discard))
	defer p.Close()
	hung := &fakeProto{name: "hung", path: hungPath}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	first := make(chan error, 1)
	go func() {
		_, err := p.Acquire(ctx, hung)
		first <- err
	}()
	time.Sleep(50 * time.Millisecond)

	// a second caller for the same compositor waits for ctx
	short, cancelShort := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancelShort()
	_, err := p.Acquire(short, hung)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	other := make(chan error, 1)
	go func() {
		c, err := p.Acquire(context.Background(), &fakeProto{path: srv.path})
		if err == nil {
			p.Release(c)
		}
		other <- err
	}()
	assert.NoError(t, testutil.RequireReceive(t, other, 5*time.Second, "acquire of another compositor"))

	cancel()
	assert.Error(t, testutil.RequireReceive(t, first, 5*time.Second, "hung acquire returns"))
	assert.Equal(t, p.Len(), 0)
}
