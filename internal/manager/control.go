package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/hoppxi/wmlink/pkg/ipc"
)

// Control commands understood by the daemon.
const (
	CmdStatus = "STATUS"
	CmdStop   = "STOP"
	CmdReload = "RELOAD"
	CmdState  = "STATE"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("manager: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("manager: CBOR decoder initialization failed: " + err.Error())
	}
}

// Request is one control message. Messages are CBOR data items written
// back to back on the socket.
type Request struct {
	ID      string            `cbor:"id"`
	Command string            `cbor:"command"`
	Args    map[string]string `cbor:"args,omitempty"`
}

type Response struct {
	ID    string          `cbor:"id"`
	OK    bool            `cbor:"ok"`
	Error string          `cbor:"error,omitempty"`
	Data  cbor.RawMessage `cbor:"data,omitempty"`
}

// CommandFunc answers one control command. A non-nil result is encoded
// into Response.Data.
type CommandFunc func(args map[string]string) (any, error)

// SocketPath is $XDG_RUNTIME_DIR/wmlink/socket.sock.
func SocketPath() string {
	socketDir := filepath.Join(ipc.RuntimeDir(), "wmlink")
	if err := os.MkdirAll(socketDir, 0o700); err != nil {
		return filepath.Join(os.TempDir(), "wmlink-socket.sock")
	}
	return filepath.Join(socketDir, "socket.sock")
}

type ControlServer struct {
	path     string
	logger   *slog.Logger
	handlers map[string]CommandFunc

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
	inflight sync.WaitGroup
}

func NewControlServer(path string, logger *slog.Logger) *ControlServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &ControlServer{
		path:     path,
		logger:   logger,
		handlers: make(map[string]CommandFunc),
		conns:    make(map[net.Conn]struct{}),
	}
}

func (s *ControlServer) Handle(command string, fn CommandFunc) {
	s.handlers[command] = fn
}

// Listen binds the socket, replacing a stale one.
func (s *ControlServer) Listen() error {
	_ = os.Remove(s.path)
	l, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.path, err)
	}
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
	s.logger.Info("control socket listening", "path", s.path)
	return nil
}

// Serve accepts until Close. It returns nil after Close.
func (s *ControlServer) Serve() error {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l == nil {
		return errors.New("control server is not listening")
	}
	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("control accept failed", "err", err)
			continue
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return nil
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		go s.serveConn(conn)
	}
}

func (s *ControlServer) serveConn(conn net.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	dec := decMode.NewDecoder(conn)
	enc := encMode.NewEncoder(conn)
	for {
		var req Request
		if err := dec.Decode(&req); err != nil {
			return
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		s.inflight.Add(1)
		s.mu.Unlock()

		resp := s.dispatch(req)
		err := enc.Encode(resp)
		s.inflight.Done()
		if err != nil {
			return
		}
	}
}

func (s *ControlServer) dispatch(req Request) Response {
	resp := Response{ID: req.ID}
	fn, ok := s.handlers[req.Command]
	if !ok {
		resp.Error = "unknown command " + req.Command
		return resp
	}
	s.logger.Debug("control command", "command", req.Command, "id", req.ID)
	data, err := fn(req.Args)
	if err != nil {
		resp.Error = err.Error()
		return resp
	}
	if data != nil {
		b, err := encMode.Marshal(data)
		if err != nil {
			resp.Error = err.Error()
			return resp
		}
		resp.Data = b
	}
	resp.OK = true
	return resp
}

// Close stops accepting, lets requests being answered finish, then drops
// every client and removes the socket.
func (s *ControlServer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	l := s.listener
	s.mu.Unlock()

	var err error
	if l != nil {
		err = l.Close()
	}
	s.inflight.Wait()

	s.mu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	_ = os.Remove(s.path)
	return err
}

// ControlClient talks to a running daemon.
type ControlClient struct {
	conn net.Conn
	enc  *cbor.Encoder
	dec  *cbor.Decoder
}

// Dial connects to the daemon at path.
func Dial(path string) (*ControlClient, error) {
	conn, err := net.DialTimeout("unix", path, 500*time.Millisecond)
	if err != nil {
		return nil, err
	}
	return &ControlClient{conn: conn, enc: encMode.NewEncoder(conn), dec: decMode.NewDecoder(conn)}, nil
}

func (c *ControlClient) Close() error { return c.conn.Close() }

// Call sends command and decodes the reply data into out, which may be nil.
func (c *ControlClient) Call(ctx context.Context, command string, args map[string]string, out any) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(5 * time.Second)
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return err
	}

	req := Request{ID: uuid.NewString(), Command: command, Args: args}
	if err := c.enc.Encode(req); err != nil {
		return fmt.Errorf("send %s: %w", command, err)
	}
	var resp Response
	if err := c.dec.Decode(&resp); err != nil {
		return fmt.Errorf("read %s reply: %w", command, err)
	}
	if resp.ID != req.ID {
		return fmt.Errorf("reply for %q, want %q", resp.ID, req.ID)
	}
	if !resp.OK {
		return fmt.Errorf("%s: %s", command, resp.Error)
	}
	if out != nil && len(resp.Data) > 0 {
		return decMode.Unmarshal(resp.Data, out)
	}
	return nil
}

// ConnectIPC checks that a daemon is listening.
func (m *AppManager) ConnectIPC() (net.Conn, error) {
	return net.DialTimeout("unix", SocketPath(), 500*time.Millisecond)
}

// SendIPCCommand runs one command against the daemon.
func (m *AppManager) SendIPCCommand(ctx context.Context, command string, out any) error {
	c, err := Dial(SocketPath())
	if err != nil {
		return err
	}
	defer c.Close()
	return c.Call(ctx, command, nil, out)
}

// RegisterCommands installs the daemon commands on s.
func (m *AppManager) RegisterCommands(s *ControlServer, cfg *ConfigManager) {
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()

	s.Handle(CmdStatus, func(map[string]string) (any, error) {
		return m.Status(), nil
	})
	s.Handle(CmdStop, func(map[string]string) (any, error) {
		m.log().Info("received STOP, shutting down")
		m.Shutdown()
		return nil, nil
	})
	s.Handle(CmdReload, func(map[string]string) (any, error) {
		settings, err := cfg.Reload()
		if err != nil {
			return nil, err
		}
		m.log().Info("reloading")
		return nil, m.Reload(settings)
	})
	s.Handle(CmdState, func(map[string]string) (any, error) {
		return m.State()
	})
}
