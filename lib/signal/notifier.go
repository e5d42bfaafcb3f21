package signal

import "sync"

// NewChan creates a change channel. It has a buffer of one so that any number
// of notifications between two reads collapse into a single wake-up.
func NewChan() chan struct{} {
	return make(chan struct{}, 1)
}

// Poke signals ch without blocking. If a signal is already pending it is kept.
func Poke(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Notifier fans a change signal out to every attached channel.
// The zero value is ready to use.
type Notifier struct {
	mu   sync.Mutex
	subs map[chan struct{}]struct{}
}

// Attach registers ch for notifications and returns a function detaching it again.
// Attaching the same channel twice is a no-op.
func (n *Notifier) Attach(ch chan struct{}) (detach func()) {
	n.mu.Lock()
	if n.subs == nil {
		n.subs = make(map[chan struct{}]struct{})
	}
	n.subs[ch] = struct{}{}
	n.mu.Unlock()

	return func() {
		n.mu.Lock()
		delete(n.subs, ch)
		n.mu.Unlock()
	}
}

// Subscribe creates a fresh change channel and attaches it.
func (n *Notifier) Subscribe() (<-chan struct{}, func()) {
	ch := NewChan()
	return ch, n.Attach(ch)
}

// Notify signals every attached channel. It never blocks.
func (n *Notifier) Notify() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for ch := range n.subs {
		Poke(ch)
	}
}

// Len returns the number of attached channels.
func (n *Notifier) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}
