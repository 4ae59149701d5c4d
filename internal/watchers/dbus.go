package watchers

import (
	"errors"
	"fmt"
	"sync"

	"github.com/goccy/go-json"
	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
)

const (
	BusName       = "org.wmlink.Compositor"
	BusPath       = dbus.ObjectPath("/org/wmlink/Compositor")
	BusInterface  = "org.wmlink.Compositor"
	ChangedSignal = BusInterface + ".Changed"
)

const introspection = `
<node>
	<interface name="` + BusInterface + `">
		<method name="GetState">
			<arg direction="out" type="s"/>
		</method>
		<signal name="Changed">
			<arg name="variable" type="s"/>
			<arg name="value" type="s"/>
		</signal>
	</interface>` + introspect.IntrospectDataString + `</node>`

type emitter interface {
	Emit(path dbus.ObjectPath, name string, values ...any) error
}

// DBusSink broadcasts changes as org.wmlink.Compositor.Changed signals on
// the session bus and answers GetState with the latest values as JSON.
type DBusSink struct {
	conn *dbus.Conn
	bus  emitter

	mu   sync.Mutex
	last map[string]json.RawMessage
}

// NewDBusSink claims BusName on the session bus.
func NewDBusSink() (*DBusSink, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	reply, err := conn.RequestName(BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("request %s: %w", BusName, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return nil, errors.New("cannot claim " + BusName + ", another wmlink is running")
	}

	s := newDBusSink(conn)
	s.conn = conn
	if err := conn.Export(s, BusPath, BusInterface); err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.Export(introspect.Introspectable(introspection), BusPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func newDBusSink(bus emitter) *DBusSink {
	return &DBusSink{bus: bus, last: make(map[string]json.RawMessage)}
}

func (s *DBusSink) Name() string { return "dbus" }

func (s *DBusSink) Update(variable string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.last[variable] = data
	s.mu.Unlock()
	return s.bus.Emit(BusPath, ChangedSignal, variable, string(data))
}

// GetState is exported on the bus.
func (s *DBusSink) GetState() (string, *dbus.Error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.Marshal(s.last)
	if err != nil {
		return "", dbus.MakeFailedError(err)
	}
	return string(data), nil
}

// Close releases the bus name.
func (s *DBusSink) Close() error {
	if s.conn == nil {
		return nil
	}
	_, _ = s.conn.ReleaseName(BusName)
	return s.conn.Close()
}
