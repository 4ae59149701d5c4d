package ipc

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const resyncTimeout = 5 * time.Second

// DispatcherConfig wires a Dispatcher to its connection.
type DispatcherConfig struct {
	Transport *Transport
	Codec     Codec
	Classify  func(Frame) (Event, error)
	Mirror    *Mirror
	Registry  *Registry
	// Resync issues a request on the command channel and applies the
	// response to the mirror. Nil disables resyncs.
	Resync func(context.Context, Frame) error
	// OnExit is called once when the loop dies on its own, never after
	// Stop.
	OnExit func(error)
	Logger *slog.Logger
}

// Dispatcher reads the event channel on its own goroutine: decode,
// classify, update the mirror, run handlers, then the next frame. Events
// are processed strictly in wire order.
type Dispatcher struct {
	cfg      DispatcherConfig
	ctx      context.Context
	cancel   context.CancelFunc
	stopping atomic.Bool
	start    sync.Once
	done     chan struct{}
	err      error
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

func (d *Dispatcher) Start() {
	d.start.Do(func() { go d.run() })
}

// Stop asks the loop to exit and waits for it. It must not be called from
// a handler.
func (d *Dispatcher) Stop() {
	d.stopping.Store(true)
	d.cancel()
	_ = d.cfg.Transport.Close()
	started := true
	d.start.Do(func() {
		started = false
		close(d.done)
	})
	if started {
		<-d.done
	}
}

// Done is closed when the loop has exited.
func (d *Dispatcher) Done() <-chan struct{} { return d.done }

// Err is the error that ended the loop. It is nil after a requested stop
// and only meaningful once Done is closed.
func (d *Dispatcher) Err() error {
	select {
	case <-d.done:
		return d.err
	default:
		return nil
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		f, err := d.cfg.Codec.Decode(d.cfg.Transport)
		if err != nil {
			d.exit(err)
			return
		}
		if !d.handle(f) {
			return
		}
	}
}

func (d *Dispatcher) handle(f Frame) bool {
	log := d.cfg.Logger
	ev, err := d.cfg.Classify(f)
	if err != nil {
		if IsFatal(err) {
			d.exit(err)
			return false
		}
		log.Debug("dropping event", "frame", f, "error", err)
		return true
	}
	log.Debug("event received", "event", ev.Name, "bytes", len(f.Payload))

	resync, err := d.cfg.Mirror.ApplyIncremental(ev)
	if err != nil {
		if IsFatal(err) {
			d.exit(err)
			return false
		}
		log.Debug("event not applied", "event", ev.Name, "error", err)
		return true
	}
	for _, req := range resync {
		if d.cfg.Resync == nil || d.stopping.Load() {
			break
		}
		ctx, cancel := context.WithTimeout(d.ctx, resyncTimeout)
		err := d.cfg.Resync(ctx, req)
		cancel()
		if err != nil {
			log.Warn("resync failed", "event", ev.Name, "request", req, "error", err)
		}
	}

	n, err := d.cfg.Registry.Dispatch(ev)
	if err != nil {
		log.Error("event handler panicked", "event", ev.Name, "error", err)
	}
	if n == 0 {
		log.Debug("no handler for event", "event", ev.Name)
	}
	return true
}

func (d *Dispatcher) exit(err error) {
	log := d.cfg.Logger
	if d.stopping.Load() {
		log.Debug("event dispatcher stopped")
		return
	}
	d.err = err
	switch {
	case IsExpectedClose(err):
		log.Warn("compositor closed the event channel", "error", err)
	case errors.Is(err, ErrProtocol):
		log.Error("event channel out of sync", "error", err)
	default:
		log.Error("event channel broken", "error", err)
	}
	if d.cfg.OnExit != nil {
		d.cfg.OnExit(err)
	}
}
