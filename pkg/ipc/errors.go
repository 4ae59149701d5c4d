package ipc

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// Error classes. Every error returned by this package matches exactly one
// of these with errors.Is, except a failed dial, which matches both
// ErrUnavailable and ErrConnection.
var (
	// ErrUnavailable means the compositor is not running or its socket
	// could not be resolved from the environment.
	ErrUnavailable = errors.New("compositor unavailable")
	// ErrConnection means connect(2) failed although the compositor
	// appeared to be present (stale socket, permissions).
	ErrConnection = errors.New("connection failed")
	// ErrIO is a short write, unexpected EOF or read failure mid-protocol.
	ErrIO = errors.New("i/o failure")
	// ErrProtocol is malformed framing: bad magic, length mismatch or
	// invalid JSON where a document was mandatory.
	ErrProtocol = errors.New("protocol violation")
	// ErrApplication is a well-framed message the client cannot use: an
	// unknown event name or a reference to an unknown entity. It is
	// logged and dropped, never fatal.
	ErrApplication = errors.New("unexpected compositor payload")
	// ErrClosed is returned by operations on a closed Connection.
	ErrClosed = errors.New("connection closed")
)

// Error wraps a failure with the operation that produced it and its class.
type Error struct {
	Op    string
	Class error
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Class)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Class, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Class}
	}
	return []error{e.Class, e.Err}
}

func newError(op string, class, err error) error {
	return &Error{Op: op, Class: class, Err: err}
}

func ioError(op string, err error) error {
	return newError(op, ErrIO, err)
}

func protocolError(op string, format string, args ...any) error {
	return newError(op, ErrProtocol, fmt.Errorf(format, args...))
}

// ApplicationError builds a soft error for payloads the mirror or the
// dispatcher cannot use.
func ApplicationError(op string, format string, args ...any) error {
	return newError(op, ErrApplication, fmt.Errorf(format, args...))
}

// ProtocolError builds a fatal framing error. Protocol implementations use
// it for failed handshakes.
func ProtocolError(op string, format string, args ...any) error {
	return protocolError(op, format, args...)
}

// UnavailableError reports that the compositor is not running.
func UnavailableError(op string, err error) error {
	return newError(op, ErrUnavailable, err)
}

// IsFatal reports whether err leaves a channel out of sync.
func IsFatal(err error) bool {
	return errors.Is(err, ErrIO) || errors.Is(err, ErrProtocol)
}

// IsExpectedClose reports whether err is a normal end of stream: EOF,
// a closed socket, a broken pipe or a reset peer.
func IsExpectedClose(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrClosed) {
		return true
	}
	var errno unix.Errno
	if errors.As(err, &errno) {
		return errno == unix.EPIPE || errno == unix.ECONNRESET
	}
	return false
}

// IsUnreachable reports whether err is a failed dial.
func IsUnreachable(err error) bool {
	return errors.Is(err, ErrConnection)
}

// isNotRunning reports whether a dial error means nobody is listening.
func isNotRunning(err error) bool {
	var errno unix.Errno
	if errors.As(err, &errno) {
		return errno == unix.ENOENT || errno == unix.ECONNREFUSED
	}
	return errors.Is(err, os.ErrNotExist)
}
