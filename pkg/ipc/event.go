package ipc

import "fmt"

// EventKind is a protocol-defined event class. Each protocol package
// declares its kinds as constants starting at 1, in the same order as the
// names passed to NewEventTable.
type EventKind uint16

// EventUnknown is never delivered to handlers.
const EventUnknown EventKind = 0

// Event is a classified push message.
type Event struct {
	Kind  EventKind
	Name  string
	Frame Frame
}

func (e Event) String() string {
	return fmt.Sprintf("%s[%d]", e.Name, e.Kind)
}

// EventTable is the closed set of event names a protocol understands.
type EventTable struct {
	names []string
	kinds map[string]EventKind
}

// NewEventTable assigns kind i+1 to names[i].
func NewEventTable(names ...string) *EventTable {
	t := &EventTable{
		names: append([]string{""}, names...),
		kinds: make(map[string]EventKind, len(names)),
	}
	for i, name := range names {
		if _, dup := t.kinds[name]; dup {
			panic("ipc: duplicate event name " + name)
		}
		t.kinds[name] = EventKind(i + 1)
	}
	return t
}

// Kind returns the kind registered for name.
func (t *EventTable) Kind(name string) (EventKind, bool) {
	k, ok := t.kinds[name]
	return k, ok
}

// Name returns the wire name of k, or "" for unknown kinds.
func (t *EventTable) Name(k EventKind) string {
	if int(k) >= len(t.names) {
		return ""
	}
	return t.names[k]
}

// Names lists every event name in kind order.
func (t *EventTable) Names() []string {
	return append([]string(nil), t.names[1:]...)
}

// Event builds an Event for a known name, or an application error.
func (t *EventTable) Event(name string, f Frame) (Event, error) {
	k, ok := t.kinds[name]
	if !ok {
		return Event{Name: name, Frame: f}, ApplicationError("classify", "unknown event %q", name)
	}
	return Event{Kind: k, Name: name, Frame: f}, nil
}
