package ipc

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

type options struct {
	logger    *slog.Logger
	events    bool
	bootstrap bool
}

type Option func(*options)

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithoutEvents skips the event channel. The mirror is filled once by the
// bootstrap requests and never updated.
func WithoutEvents() Option {
	return func(o *options) { o.events = false }
}

// WithoutBootstrap leaves the mirror empty until events arrive.
func WithoutBootstrap() Option {
	return func(o *options) { o.bootstrap = false }
}

// Connection is one client of one compositor: a command channel for
// synchronous requests and, when the compositor has one, an event channel
// feeding the mirror and the registered handlers.
//
// The two channels never share a socket, so a handler may call Request.
type Connection struct {
	proto    Protocol
	logger   *slog.Logger
	endpoint Endpoint
	mirror   *Mirror
	registry *Registry

	// disabled is set when the compositor is not running. Every request
	// fails with it.
	disabled error

	cmdMu     sync.Mutex
	cmd       *Transport
	cmdBroken error

	dispatcher *Dispatcher

	errMu sync.Mutex
	err   error
	done  chan struct{}

	closed    atomic.Bool
	closeOnce sync.Once
}

// Open connects to the compositor described by p. A compositor that is not
// running yields a disabled Connection and a nil error: its Err and every
// Request report ErrUnavailable. Handshake and bootstrap failures are
// returned as errors.
func Open(ctx context.Context, p Protocol, opts ...Option) (*Connection, error) {
	o := options{logger: slog.Default(), events: true, bootstrap: true}
	for _, opt := range opts {
		opt(&o)
	}
	c := &Connection{
		proto:    p,
		logger:   o.logger.With("compositor", p.Name()),
		mirror:   NewMirror(p),
		registry: NewRegistry(),
		done:     make(chan struct{}),
	}

	ep, err := p.Resolve()
	if err != nil {
		c.logger.Warn("compositor not running", "error", err)
		c.disable(UnavailableError("open "+p.Name(), err))
		return c, nil
	}
	c.endpoint = ep

	if p.Strategy() == Persistent {
		t, err := Dial(ctx, ep.Command)
		if err != nil {
			c.unreachable(ep.Command, err)
			return c, nil
		}
		c.cmd = t
	}

	var events *Transport
	if o.events && p.EventCodec() != nil && ep.Events != "" {
		events, err = c.subscribe(ctx, ep.Events)
		if err != nil {
			c.closeCommand()
			if IsUnreachable(err) {
				c.unreachable(ep.Events, err)
				return c, nil
			}
			return nil, err
		}
	}

	if o.bootstrap {
		for _, req := range p.Bootstrap() {
			if err := c.refresh(ctx, req); err != nil {
				if events != nil {
					_ = events.Close()
				}
				c.closeCommand()
				if IsUnreachable(err) {
					c.unreachable(ep.Command, err)
					return c, nil
				}
				return nil, fmt.Errorf("bootstrap %s: %w", p.Name(), err)
			}
		}
	}

	if events != nil {
		c.dispatcher = NewDispatcher(DispatcherConfig{
			Transport: events,
			Codec:     p.EventCodec(),
			Classify:  p.Classify,
			Mirror:    c.mirror,
			Registry:  c.registry,
			Resync:    c.refresh,
			OnExit:    c.fail,
			Logger:    c.logger,
		})
		c.dispatcher.Start()
	}
	c.logger.Debug("connected", "strategy", p.Strategy(), "events", events != nil)
	return c, nil
}

func (c *Connection) subscribe(ctx context.Context, path string) (*Transport, error) {
	t, err := Dial(ctx, path)
	if err != nil {
		return nil, err
	}
	release := t.Bind(ctx)
	err = c.proto.Subscribe(t)
	release()
	if err != nil {
		_ = t.Close()
		return nil, err
	}
	return t, nil
}

func (c *Connection) unreachable(socket string, err error) {
	if isNotRunning(err) {
		c.logger.Warn("compositor not running", "socket", socket, "error", err)
	} else {
		c.logger.Warn("cannot reach compositor", "socket", socket, "error", err)
	}
	c.disable(newError("open "+c.proto.Name(), ErrUnavailable, err))
}

func (c *Connection) disable(err error) {
	c.disabled = err
	c.fail(err)
}

// Protocol returns the protocol the connection speaks.
func (c *Connection) Protocol() Protocol { return c.proto }

// Available reports whether the compositor was reached at Open.
func (c *Connection) Available() bool { return c.disabled == nil }

// Request sends req on the command channel and returns the reply. The
// context's deadline and cancellation apply to the socket. Once Done is
// closed every request fails with Err.
func (c *Connection) Request(ctx context.Context, req Frame) (Frame, error) {
	if c.disabled != nil {
		return Frame{}, c.disabled
	}
	if c.closed.Load() {
		return Frame{}, newError("request", ErrClosed, nil)
	}
	// a broken event channel takes the command channel with it
	if c.Broken() {
		return Frame{}, c.Err()
	}
	if c.proto.Strategy() == Persistent {
		return c.persistentRequest(ctx, req)
	}

	t, err := Dial(ctx, c.endpoint.Command)
	if err != nil {
		return Frame{}, err
	}
	defer t.Close()
	return c.roundTrip(ctx, t, req)
}

func (c *Connection) persistentRequest(ctx context.Context, req Frame) (Frame, error) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()
	if c.cmdBroken != nil {
		return Frame{}, c.cmdBroken
	}
	resp, err := c.roundTrip(ctx, c.cmd, req)
	if err != nil && IsFatal(err) {
		c.cmdBroken = err
		_ = c.cmd.Close()
		if !c.closed.Load() {
			c.logger.Error("command channel broken", "error", err)
			c.fail(err)
		}
	}
	return resp, err
}

func (c *Connection) roundTrip(ctx context.Context, t *Transport, req Frame) (Frame, error) {
	codec := c.proto.CommandCodec()
	b, err := codec.Encode(req)
	if err != nil {
		return Frame{}, err
	}
	release := t.Bind(ctx)
	defer release()

	if err := t.WriteAll(b); err != nil {
		return Frame{}, c.contextError(ctx, err)
	}
	resp, err := codec.Decode(t)
	if err != nil {
		return Frame{}, c.contextError(ctx, err)
	}
	if resp.Name == "" {
		resp.Name = req.Name
	}
	if resp.Type == 0 {
		resp.Type = req.Type
	}
	return resp, nil
}

func (c *Connection) contextError(ctx context.Context, err error) error {
	if ctx.Err() == nil {
		return err
	}
	return ioError("request", fmt.Errorf("%w (%w)", ctx.Err(), err))
}

// refresh issues req and feeds the reply into the mirror.
func (c *Connection) refresh(ctx context.Context, req Frame) error {
	resp, err := c.Request(ctx, req)
	if err != nil {
		return err
	}
	return c.mirror.ApplyBootstrap(req, resp)
}

// Refresh re-runs the protocol's bootstrap requests.
func (c *Connection) Refresh(ctx context.Context) error {
	for _, req := range c.proto.Bootstrap() {
		if err := c.refresh(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

func (c *Connection) Mirror() *Mirror { return c.mirror }

// RegisterHandler subscribes h to the event called name in the
// protocol's vocabulary.
func (c *Connection) RegisterHandler(name string, h Handler) (Handle, error) {
	kind, ok := c.proto.Events().Kind(name)
	if !ok {
		return Handle{}, ApplicationError("register handler", "%s has no event %q", c.proto.Name(), name)
	}
	return c.registry.Register(kind, h), nil
}

// On subscribes h to an event kind constant of the protocol package.
func (c *Connection) On(kind EventKind, h Handler) Handle {
	return c.registry.Register(kind, h)
}

// UnregisterHandler may be called from a handler. See Registry.Unregister.
func (c *Connection) UnregisterHandler(h Handle) bool {
	return c.registry.Unregister(h)
}

// UnregisterHandlerAndWait also waits for a running call of the handler to
// return. It must not be called from a handler.
func (c *Connection) UnregisterHandlerAndWait(h Handle) bool {
	return c.registry.UnregisterAndWait(h)
}

// Done is closed once the connection is unusable: the compositor was not
// found, a channel broke, or Close was called.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Err reports why Done was closed, or nil while the connection is live.
func (c *Connection) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Broken reports whether Done is closed.
func (c *Connection) Broken() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Connection) fail(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err != nil {
		return
	}
	c.err = err
	close(c.done)
}

func (c *Connection) closeCommand() {
	if c.cmd != nil {
		_ = c.cmd.Close()
	}
}

// Close stops the dispatcher and closes both channels. It is idempotent
// and must not be called from a handler.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		// unblocks a request stuck on the shared command socket
		c.closeCommand()
		if c.dispatcher != nil {
			c.dispatcher.Stop()
		}
		c.fail(newError("close", ErrClosed, nil))
		c.logger.Debug("connection closed")
	})
	return nil
}
