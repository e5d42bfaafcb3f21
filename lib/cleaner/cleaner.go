package cleaner

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("cleaner")

// DefaultInterval is the sweep interval used when none is configured.
const DefaultInterval = 10 * time.Second

// SweepFunc releases whatever its owner no longer needs.
type SweepFunc func()

type sweep struct {
	name string
	fn   SweepFunc
}

// Cleaner runs every registered sweep, in registration order, on a fixed interval.
type Cleaner struct {
	interval time.Duration

	mu     sync.Mutex
	sweeps []sweep

	started atomic.Bool
	ticks   atomic.Uint64
}

// New creates a cleaner. A non-positive interval selects DefaultInterval.
func New(interval time.Duration) *Cleaner {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Cleaner{interval: interval}
}

// Register adds a sweep. Sweeps run in the order they were registered.
func (c *Cleaner) Register(name string, fn SweepFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweeps = append(c.sweeps, sweep{name: name, fn: fn})
}

// Start begins ticking until ctx is done. Only the first call has an effect,
// later calls return false.
func (c *Cleaner) Start(ctx context.Context) bool {
	if !c.started.CompareAndSwap(false, true) {
		return false
	}
	go c.loop(ctx)
	return true
}

func (c *Cleaner) loop(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			Logger.Debugf("cleaner stopped after %d ticks", c.ticks.Load())
			return
		case <-ticker.C:
			c.Tick()
		}
	}
}

// Tick runs every registered sweep once. A panicking sweep is logged and does
// not keep the remaining sweeps from running.
func (c *Cleaner) Tick() {
	c.mu.Lock()
	sweeps := make([]sweep, len(c.sweeps))
	copy(sweeps, c.sweeps)
	c.mu.Unlock()

	c.ticks.Add(1)
	for _, s := range sweeps {
		c.run(s)
	}
}

func (c *Cleaner) run(s sweep) {
	defer func() {
		if r := recover(); r != nil {
			Logger.Errorf("sweep %q panicked: %v", s.name, r)
		}
	}()
	s.fn()
}

// Ticks returns the number of completed ticks.
func (c *Cleaner) Ticks() uint64 {
	return c.ticks.Load()
}
