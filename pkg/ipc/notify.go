package ipc

// Notifier is a coalescing cross-goroutine wake. Any number of Notify
// calls between two receives on C collapse into one wake-up.
type Notifier struct {
	ch chan struct{}
}

func NewNotifier() *Notifier {
	return &Notifier{ch: make(chan struct{}, 1)}
}

// Notify never blocks.
func (n *Notifier) Notify() {
	select {
	case n.ch <- struct{}{}:
	default:
	}
}

// Handler returns an event handler that only notifies.
func (n *Notifier) Handler() Handler {
	return func(Event) { n.Notify() }
}

func (n *Notifier) C() <-chan struct{} {
	return n.ch
}
