package rategate

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const testInterval = 30 * time.Millisecond

func TestFirstAcquireDoesNotBlock(t *testing.T) {
	g := New(testInterval)

	start := time.Now()
	g.Acquire("wss://relay.one")
	assert.Less(t, time.Since(start), testInterval)
}

func TestBackToBackPublishesAreSpaced(t *testing.T) {
	g := New(testInterval)

	const k = 4
	start := time.Now()
	for i := 0; i < k; i++ {
		g.Acquire("wss://relay.one")
		g.Record("wss://relay.one")
	}
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, (k-1)*testInterval)
}

func TestDistinctRelaysDoNotSerialize(t *testing.T) {
	g := New(testInterval)
	relays := []string{"wss://relay.one", "wss://relay.two", "wss://relay.three"}

	// Prime every relay so each subsequent Acquire must wait one interval.
	for _, r := range relays {
		g.Record(r)
	}

	start := time.Now()
	var wg sync.WaitGroup
	for _, r := range relays {
		wg.Add(1)
		go func(url string) {
			defer wg.Done()
			g.Acquire(url)
			g.Record(url)
		}(r)
	}
	wg.Wait()
	elapsed := time.Since(start)

	// Serialized waiting would take at least 3 intervals; parallel waiting
	// takes roughly one.
	assert.Less(t, elapsed, 2*testInterval)
}

func TestFailedAttemptDoesNotMoveStamp(t *testing.T) {
	g := New(testInterval)

	g.Record("wss://relay.one")
	time.Sleep(testInterval)

	// An attempt without Record leaves the relay immediately available.
	g.Acquire("wss://relay.one")

	start := time.Now()
	g.Acquire("wss://relay.one")
	assert.Less(t, time.Since(start), testInterval/2)
}

func TestPerRelayIntervalOverride(t *testing.T) {
	g := New(testInterval)
	g.SetInterval("wss://relay.slow", 3*testInterval)

	g.Record("wss://relay.slow")
	start := time.Now()
	g.Acquire("wss://relay.slow")
	assert.GreaterOrEqual(t, time.Since(start), 3*testInterval-time.Millisecond)
}
