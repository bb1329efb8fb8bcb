package obs

import "sync"

// Status is the state snapshot published to observers on every relevant
// transition: UI collaborators consume it via Subscribe or Status.
type Status struct {
	Connected     bool   `json:"connected"`
	Authenticated bool   `json:"authenticated"`
	State         string `json:"state"`
	Error         string `json:"error,omitempty"`
}

// statusNotifier fans a Status stream out to subscribers. Slow subscribers
// never block the client loop; they just miss intermediate snapshots.
type statusNotifier struct {
	mu   sync.Mutex
	subs map[chan Status]struct{}
	last Status
}

func newStatusNotifier() *statusNotifier {
	return &statusNotifier{subs: make(map[chan Status]struct{})}
}

func (n *statusNotifier) publish(s Status) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.last = s
	for ch := range n.subs {
		select {
		case ch <- s:
		default:
		}
	}
}

func (n *statusNotifier) current() Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.last
}

// subscribe registers a new observer. The returned cancel func must be
// called to release the channel.
func (n *statusNotifier) subscribe() (<-chan Status, func()) {
	ch := make(chan Status, 8)
	n.mu.Lock()
	n.subs[ch] = struct{}{}
	ch <- n.last
	n.mu.Unlock()
	cancel := func() {
		n.mu.Lock()
		delete(n.subs, ch)
		n.mu.Unlock()
	}
	return ch, cancel
}
