package ipc

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/hoppxi/wmlink/internal/assert"
	"github.com/hoppxi/wmlink/internal/testutil"
)

var discard = slog.New(slog.DiscardHandler)

var tickEvents = NewEventTable("tick", "resync")

const (
	kindTick EventKind = iota + 1
	kindResync
)

// counter records the ticks it sees as the window with that id.
type counter struct{}

func (counter) ApplyBootstrap(s *State, req, resp Frame) error { return nil }

func (counter) ApplyEvent(s *State, ev Event) ([]Frame, error) {
	switch ev.Kind {
	case kindTick:
		n := ev.Frame.Get("n").Int()
		if n < 0 {
			return nil, ApplicationError("tick", "negative tick %d", n)
		}
		s.UpsertWindow(Window{ID: n})
	case kindResync:
		return []Frame{NewFrame(0, "state", []byte(`"state"`))}, nil
	}
	return nil, nil
}

func classifyTick(f Frame) (Event, error) {
	return tickEvents.Event(f.Get("event").String(), f)
}

type dispatcherFixture struct {
	d        *Dispatcher
	mirror   *Mirror
	registry *Registry
	server   net.Conn
	exited   chan error
}

func newDispatcherFixture(t *testing.T, resync func(context.Context, Frame) error) *dispatcherFixture {
	t.Helper()
	client, server := net.Pipe()
	f := &dispatcherFixture{
		mirror:   NewMirror(counter{}),
		registry: NewRegistry(),
		server:   server,
		exited:   make(chan error, 1),
	}
	f.d = NewDispatcher(DispatcherConfig{
		Transport: NewTransport(client),
		Codec:     LineCodec{},
		Classify:  classifyTick,
		Mirror:    f.mirror,
		Registry:  f.registry,
		Resync:    resync,
		OnExit:    func(err error) { f.exited <- err },
		Logger:    discard,
	})
	t.Cleanup(func() {
		server.Close()
		f.d.Stop()
	})
	return f
}

func (f *dispatcherFixture) send(t *testing.T, lines ...string) {
	t.Helper()
	for _, l := range lines {
		if _, err := fmt.Fprintln(f.server, l); err != nil {
			t.Fatalf("writing %q: %v", l, err)
		}
	}
}

func TestDispatcherOrdering(t *testing.T) {
	for n := 0; n <= 50; n++ {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			f := newDispatcherFixture(t, nil)
			var (
				mu  sync.Mutex
				got []int64
			)
			f.registry.Register(kindTick, func(ev Event) {
				// the mirror is updated before handlers run
				var ok bool
				f.mirror.WithLock(func(v View) { _, ok = v.Window(ev.Frame.Get("n").Int()) })
				if !ok {
					t.Errorf("tick %s not in mirror when its handler ran", ev.Frame.Payload)
				}
				mu.Lock()
				got = append(got, ev.Frame.Get("n").Int())
				mu.Unlock()
			})
			f.d.Start()

			go func() {
				for i := range n {
					fmt.Fprintf(f.server, `{"event":"tick","n":%d}`+"\n", i)
				}
				f.server.Close()
			}()

			err := testutil.RequireReceive(t, f.exited, 5*time.Second, "dispatcher exit")
			assert.True(t, IsExpectedClose(err))
			testutil.RequireClosed(t, f.d.Done(), time.Second)

			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, len(got), n)
			for i, v := range got {
				assert.Equal(t, v, int64(i))
			}
			assert.Equal(t, len(f.mirror.Windows()), n)
		})
	}
}

func TestDispatcherDropsApplicationErrors(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	ticks := make(chan int64, 8)
	f.registry.Register(kindTick, func(ev Event) { ticks <- ev.Frame.Get("n").Int() })
	f.d.Start()

	f.send(t,
		`{"event":"bogus"}`,
		`{"event":"tick","n":-1}`,
		`{"event":"tick","n":7}`,
	)
	assert.Equal(t, testutil.RequireReceive(t, ticks, 5*time.Second, "tick 7"), int64(7))
	testutil.RequireOpen(t, f.d.Done(), "dispatcher must survive application errors")
}

func TestDispatcherStopsOnMalformedFrame(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	f.d.Start()
	f.send(t, `{"event":`)

	err := testutil.RequireReceive(t, f.exited, 5*time.Second, "dispatcher exit")
	assert.ErrorIs(t, err, ErrProtocol)
	testutil.RequireClosed(t, f.d.Done(), time.Second)
	assert.ErrorIs(t, f.d.Err(), ErrProtocol)

	done := make(chan struct{})
	go func() {
		f.d.Stop()
		close(done)
	}()
	testutil.RequireClosed(t, done, time.Second, "Stop after exit")
}

func TestDispatcherStop(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	f.d.Start()

	done := make(chan struct{})
	go func() {
		f.d.Stop()
		close(done)
	}()
	testutil.RequireClosed(t, done, 5*time.Second, "Stop unblocks a pending read")
	assert.NoError(t, f.d.Err())
	select {
	case err := <-f.exited:
		t.Fatalf("OnExit called after Stop: %v", err)
	default:
	}
}

func TestDispatcherStopWithoutStart(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	f.d.Stop()
	testutil.RequireClosed(t, f.d.Done(), time.Second)
}

func TestDispatcherHandlerPanic(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	ran := make(chan struct{}, 4)
	f.registry.Register(kindTick, func(Event) { panic("boom") })
	f.registry.Register(kindTick, func(Event) { ran <- struct{}{} })
	f.d.Start()

	f.send(t, `{"event":"tick","n":1}`, `{"event":"tick","n":2}`)
	testutil.RequireReceive(t, ran, 5*time.Second, "second handler, first tick")
	testutil.RequireReceive(t, ran, 5*time.Second, "second handler, second tick")
}

func TestDispatcherResyncBeforeHandlers(t *testing.T) {
	var (
		mu       sync.Mutex
		requests []string
	)
	f := newDispatcherFixture(t, func(_ context.Context, req Frame) error {
		mu.Lock()
		defer mu.Unlock()
		requests = append(requests, req.Name)
		return nil
	})
	handled := make(chan int, 1)
	f.registry.Register(kindResync, func(Event) {
		mu.Lock()
		defer mu.Unlock()
		handled <- len(requests)
	})
	f.d.Start()

	f.send(t, `{"event":"resync"}`)
	assert.Equal(t, testutil.RequireReceive(t, handled, 5*time.Second, "resync handler"), 1)
}

func TestHandlerUnregistersItself(t *testing.T) {
	f := newDispatcherFixture(t, nil)
	calls := make(chan struct{}, 4)
	var h Handle
	h = f.registry.Register(kindTick, func(Event) {
		f.registry.Unregister(h)
		calls <- struct{}{}
	})
	after := make(chan struct{}, 4)
	f.registry.Register(kindTick, func(Event) { after <- struct{}{} })
	f.d.Start()

	f.send(t, `{"event":"tick","n":1}`, `{"event":"tick","n":2}`)
	testutil.RequireReceive(t, after, 5*time.Second)
	testutil.RequireReceive(t, after, 5*time.Second)
	assert.Equal(t, len(calls), 1)
}
