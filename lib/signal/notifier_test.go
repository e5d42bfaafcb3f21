package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func pending(ch <-chan struct{}) int {
	n := 0
	for {
		select {
		case <-ch:
			n++
		default:
			return n
		}
	}
}

func TestPokeCoalesces(t *testing.T) {
	ch := NewChan()
	for i := 0; i < 10; i++ {
		Poke(ch)
	}
	assert.Equal(t, 1, pending(ch))
	assert.Equal(t, 0, pending(ch))
}

func TestNotifierFanOut(t *testing.T) {
	var n Notifier
	a, cancelA := n.Subscribe()
	b, cancelB := n.Subscribe()
	assert.Equal(t, 2, n.Len())

	n.Notify()
	n.Notify()
	assert.Equal(t, 1, pending(a))
	assert.Equal(t, 1, pending(b))

	cancelA()
	n.Notify()
	assert.Equal(t, 0, pending(a))
	assert.Equal(t, 1, pending(b))

	cancelB()
	assert.Equal(t, 0, n.Len())
}

func TestAttachTwice(t *testing.T) {
	var n Notifier
	ch := NewChan()
	n.Attach(ch)
	detach := n.Attach(ch)
	assert.Equal(t, 1, n.Len())
	detach()
	assert.Equal(t, 0, n.Len())
}
