package ipc

// Strategy selects how a Connection carries synchronous requests.
type Strategy int

const (
	// PerRequest dials a fresh command socket for every request. The
	// compositor closes it after one reply.
	PerRequest Strategy = iota
	// Persistent keeps one command socket open for the Connection's
	// lifetime and serialises requests on it.
	Persistent
)

func (s Strategy) String() string {
	switch s {
	case PerRequest:
		return "per-request"
	case Persistent:
		return "persistent"
	}
	return "unknown"
}

// Endpoint holds the socket paths of one compositor instance. Events is
// empty for compositors without a push channel.
type Endpoint struct {
	Command string
	Events  string
}

// Translator maps compositor payloads onto the mirror model. It runs with
// the mirror's write lock held and must not block or do I/O.
type Translator interface {
	// ApplyBootstrap replaces a collection from the response to one of
	// the Protocol's Bootstrap requests (or a resync request).
	ApplyBootstrap(s *State, req, resp Frame) error
	// ApplyEvent patches the model from one event. It may return
	// requests whose responses are fed back through ApplyBootstrap when
	// the event alone cannot keep the model exact.
	ApplyEvent(s *State, ev Event) ([]Frame, error)
}

// Protocol is everything compositor specific: discovery, framing, the
// subscribe handshake, the event vocabulary and the state translation.
type Protocol interface {
	Translator

	Name() string
	// Resolve finds the compositor's sockets, usually from the
	// environment. An error means the compositor is not running.
	Resolve() (Endpoint, error)
	Strategy() Strategy
	CommandCodec() Codec
	// EventCodec is nil when the compositor has no event channel.
	EventCodec() Codec
	// Subscribe performs the handshake on a freshly dialled event
	// transport and consumes its acknowledgement.
	Subscribe(t *Transport) error
	Events() *EventTable
	// Classify turns a decoded event frame into an Event.
	Classify(Frame) (Event, error)
	// Bootstrap lists the requests that fill an empty mirror, in order.
	Bootstrap() []Frame
}
