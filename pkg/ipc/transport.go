package ipc

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

const readBufSize = 8192

// Reader is the read side of a Transport as seen by a Codec.
type Reader interface {
	ReadExact(n int) ([]byte, error)
	ReadLine() ([]byte, error)
	ReadAll() ([]byte, error)
}

// Transport owns one byte stream to a compositor socket. It has no
// protocol knowledge. Reads and writes are not synchronised with each
// other; a Transport belongs to exactly one goroutine at a time.
type Transport struct {
	rwc  io.ReadWriteCloser
	r    *bufio.Reader
	once sync.Once
	cerr error
}

// Dial connects to the Unix socket at path. The returned socket is
// close-on-exec.
func Dial(ctx context.Context, path string) (*Transport, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, newError("dial "+path, ErrConnection, err)
	}
	return NewTransport(conn), nil
}

// NewTransport wraps an established stream.
func NewTransport(rwc io.ReadWriteCloser) *Transport {
	return &Transport{
		rwc: rwc,
		r:   bufio.NewReaderSize(rwc, readBufSize),
	}
}

// WriteAll writes every byte of p or fails.
func (t *Transport) WriteAll(p []byte) error {
	for len(p) > 0 {
		n, err := t.rwc.Write(p)
		if err != nil {
			return ioError("write", err)
		}
		if n == 0 {
			return ioError("write", io.ErrShortWrite)
		}
		p = p[n:]
	}
	return nil
}

// ReadExact returns exactly n bytes. A stream that ends first is an error,
// never a short result: io.EOF when nothing was read, io.ErrUnexpectedEOF
// otherwise.
func (t *Transport) ReadExact(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(t.r, buf); err != nil {
		return nil, ioError("read", err)
	}
	return buf, nil
}

// ReadLine returns the next line without its terminator.
func (t *Transport) ReadLine() ([]byte, error) {
	line, err := t.r.ReadBytes('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) > 0 {
			err = io.ErrUnexpectedEOF
		}
		return nil, ioError("read line", err)
	}
	return line[:len(line)-1], nil
}

// ReadAll reads until the peer closes the stream.
func (t *Transport) ReadAll() ([]byte, error) {
	buf, err := io.ReadAll(t.r)
	if err != nil {
		return nil, ioError("read", err)
	}
	return buf, nil
}

type deadliner interface {
	SetDeadline(time.Time) error
}

// SetDeadline forwards to the underlying connection when it supports
// deadlines.
func (t *Transport) SetDeadline(d time.Time) error {
	if c, ok := t.rwc.(deadliner); ok {
		return c.SetDeadline(d)
	}
	return nil
}

// Bind applies ctx to the transport: its deadline becomes the socket
// deadline and cancellation unblocks pending I/O. The returned func
// releases the binding and clears the deadline.
func (t *Transport) Bind(ctx context.Context) func() {
	if d, ok := ctx.Deadline(); ok {
		_ = t.SetDeadline(d)
	}
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		_ = t.SetDeadline(time.Now())
		close(fired)
	})
	return func() {
		if !stop() {
			<-fired
		}
		_ = t.SetDeadline(time.Time{})
	}
}

// Close closes the stream. Blocked reads return with an error.
func (t *Transport) Close() error {
	t.once.Do(func() {
		t.cerr = t.rwc.Close()
	})
	return t.cerr
}
