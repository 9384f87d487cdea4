// Package clock implements the time oracle: a single shared, monotonically
// increasing logical counter. Every timestamp comparison in the protocol is
// made against the most recently announced tick. The oracle is advanced by an
// external ticking process in production and driven explicitly in tests.
package clock

import (
	"sync"

	"veriballot/pkg/log"
)

// Tick is one value of the logical clock.
type Tick = uint64

// Oracle is the shared logical clock. All parties read the same instance;
// only the ticking process advances it.
type Oracle struct {
	mu          sync.Mutex
	current     Tick
	closed      bool
	subscribers []chan Tick
}

// NewOracle creates an oracle at tick zero, open for voting.
func NewOracle() *Oracle {
	return &Oracle{}
}

// Current returns the most recently announced tick.
func (o *Oracle) Current() Tick {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

// Advance announces the next tick to all subscribers and returns it.
func (o *Oracle) Advance() Tick {
	o.mu.Lock()
	o.current++
	t := o.current
	subs := make([]chan Tick, len(o.subscribers))
	copy(subs, o.subscribers)
	o.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- t:
		default: // a slow subscriber never stalls the clock
		}
	}
	return t
}

// AdvanceBy announces n consecutive ticks and returns the last one.
func (o *Oracle) AdvanceBy(n uint64) Tick {
	var t Tick
	for i := uint64(0); i < n; i++ {
		t = o.Advance()
	}
	return t
}

// Subscribe returns a channel receiving every tick announced after the call.
// The channel is buffered; announcements a subscriber misses are dropped,
// matching a broadcast the subscriber reads best-effort.
func (o *Oracle) Subscribe() <-chan Tick {
	o.mu.Lock()
	defer o.mu.Unlock()
	ch := make(chan Tick, 64)
	o.subscribers = append(o.subscribers, ch)
	return ch
}

// Close announces the end of the election. It carries no parameters; parties
// that need the closing tick read Current themselves.
func (o *Oracle) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	log.Info("Time oracle: election closed at tick %d", o.current)
}

// Closed reports whether the close signal has been announced.
func (o *Oracle) Closed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}
