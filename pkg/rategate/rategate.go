// Package rategate enforces a minimum interval between publishes on each
// relay. Public relays cap write throughput per connection; spacing
// publishes out keeps a multi-chunk upload from being dropped or banned.
package rategate

import (
	"sync"
	"time"
)

// DefaultInterval is a conservative spacing for relays with unknown limits.
const DefaultInterval = 7500 * time.Millisecond

// Gate tracks the last successful publish per relay and blocks callers
// until that relay's interval has elapsed. State is process-lifetime
// scoped; there is nothing to tear down.
type Gate struct {
	mu       sync.Mutex
	interval time.Duration
	custom   map[string]time.Duration
	channels map[string]*channelState
}

// channelState serializes same-relay callers through its own mutex so that
// waiting on one relay never blocks publishers targeting another.
type channelState struct {
	mu   sync.Mutex
	last time.Time
}

// New returns a Gate with the given default interval. Intervals below or
// equal to zero fall back to DefaultInterval.
func New(interval time.Duration) *Gate {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Gate{
		interval: interval,
		custom:   make(map[string]time.Duration),
		channels: make(map[string]*channelState),
	}
}

// SetInterval overrides the publish interval for a single relay. Relays
// without an override use the Gate's default.
func (g *Gate) SetInterval(relayURL string, interval time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if interval <= 0 {
		delete(g.custom, relayURL)
		return
	}
	g.custom[relayURL] = interval
}

// Acquire blocks until at least the relay's interval has passed since the
// last recorded successful publish on it. A relay that has never recorded a
// publish is immediately available. Callers for the same relay serialize;
// callers for different relays proceed independently.
func (g *Gate) Acquire(relayURL string) {
	st := g.state(relayURL)
	interval := g.intervalFor(relayURL)

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.last.IsZero() {
		return
	}
	if wait := interval - time.Since(st.last); wait > 0 {
		time.Sleep(wait)
	}
}

// Record stamps the current time as the relay's last successful publish.
// Only successful publishes move the stamp; failed attempts leave it alone.
func (g *Gate) Record(relayURL string) {
	st := g.state(relayURL)
	st.mu.Lock()
	st.last = time.Now()
	st.mu.Unlock()
}

func (g *Gate) state(relayURL string) *channelState {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.channels[relayURL]
	if !ok {
		st = &channelState{}
		g.channels[relayURL] = st
	}
	return st
}

func (g *Gate) intervalFor(relayURL string) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	if d, ok := g.custom[relayURL]; ok {
		return d
	}
	return g.interval
}
