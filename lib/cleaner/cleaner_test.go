package cleaner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTickRunsInRegistrationOrder(t *testing.T) {
	c := New(time.Hour)
	var order []string
	c.Register("b", func() { order = append(order, "b") })
	c.Register("a", func() { order = append(order, "a") })
	c.Register("boom", func() { panic("sweep failed") })
	c.Register("c", func() { order = append(order, "c") })

	c.Tick()
	assert.Equal(t, []string{"b", "a", "c"}, order)
	assert.Equal(t, uint64(1), c.Ticks())
}

func TestStartOnce(t *testing.T) {
	c := New(5 * time.Millisecond)
	var mu sync.Mutex
	runs := 0
	c.Register("count", func() {
		mu.Lock()
		runs++
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.True(t, c.Start(ctx))
	assert.False(t, c.Start(ctx))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return runs >= 2
	}, time.Second, time.Millisecond)
}

func TestDefaultInterval(t *testing.T) {
	assert.Equal(t, DefaultInterval, New(0).interval)
}
