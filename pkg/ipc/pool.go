package ipc

import (
	"context"
	"sync"
)

// Pool shares one Connection per compositor between any number of users.
// A broken Connection stays with the users that hold it and is replaced for
// the next Acquire.
type Pool struct {
	mu      sync.Mutex
	opts    []Option
	current map[string]*poolEntry
	held    map[*Connection]*poolEntry
	opening map[string]chan struct{}
}

type poolEntry struct {
	name string
	conn *Connection
	refs int
}

func NewPool(opts ...Option) *Pool {
	return &Pool{
		opts:    opts,
		current: make(map[string]*poolEntry),
		held:    make(map[*Connection]*poolEntry),
		opening: make(map[string]chan struct{}),
	}
}

// Acquire returns the live Connection for p, opening one if needed. Every
// successful Acquire must be paired with a Release. Only one Open per
// compositor runs at a time; other callers for that compositor wait for it
// or for ctx, and callers for other compositors are not held up.
func (p *Pool) Acquire(ctx context.Context, proto Protocol) (*Connection, error) {
	name := proto.Name()
	for {
		p.mu.Lock()
		if e, ok := p.current[name]; ok {
			if !e.conn.Broken() {
				e.refs++
				p.mu.Unlock()
				return e.conn, nil
			}
			delete(p.current, name)
		}
		wait, busy := p.opening[name]
		if !busy {
			break
		}
		p.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ioError("acquire "+name, ctx.Err())
		}
	}
	opened := make(chan struct{})
	p.opening[name] = opened
	p.mu.Unlock()

	c, err := Open(ctx, proto, p.opts...)

	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.opening, name)
	close(opened)
	if err != nil {
		return nil, err
	}
	e := &poolEntry{name: name, conn: c, refs: 1}
	p.current[name] = e
	p.held[c] = e
	return c, nil
}

// Release drops one reference to c and closes it with the last one.
func (p *Pool) Release(c *Connection) {
	p.mu.Lock()
	e, ok := p.held[c]
	if !ok {
		p.mu.Unlock()
		return
	}
	e.refs--
	last := e.refs <= 0
	if last {
		delete(p.held, c)
		if p.current[e.name] == e {
			delete(p.current, e.name)
		}
	}
	p.mu.Unlock()

	if last {
		_ = c.Close()
	}
}

// Len returns the number of connections still referenced.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.held)
}

// Close closes every connection regardless of references.
func (p *Pool) Close() {
	p.mu.Lock()
	conns := make([]*Connection, 0, len(p.held))
	for c := range p.held {
		conns = append(conns, c)
	}
	clear(p.held)
	clear(p.current)
	p.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
}
