package progress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectEvents(totalChunks, channels int) []Event {
	var events []Event
	tr := NewTracker(func(ev Event) { events = append(events, ev) },
		totalChunks, 7500*time.Millisecond, channels)

	tr.Preparing()
	for i := 0; i < totalChunks; i++ {
		tr.ChunkDone()
	}
	tr.Finalizing()
	tr.Done()
	return events
}

func TestEventSequence(t *testing.T) {
	events := collectEvents(4, 2)
	require.Len(t, events, 1+4+2)

	assert.Equal(t, PhasePreparing, events[0].Phase)
	for _, ev := range events[1:5] {
		assert.Equal(t, PhaseUploading, ev.Phase)
	}
	assert.Equal(t, PhaseFinalizing, events[5].Phase)
	assert.Equal(t, 0.95, events[5].Fraction)
	assert.Equal(t, PhaseFinalizing, events[6].Phase)
	assert.Equal(t, 1.0, events[6].Fraction)
	assert.Equal(t, 0.0, events[6].ETASeconds)
}

func TestFractionMonotonicAndBounded(t *testing.T) {
	events := collectEvents(7, 3)

	last := -1.0
	for i, ev := range events {
		assert.GreaterOrEqual(t, ev.Fraction, last, "event %d", i)
		assert.LessOrEqual(t, ev.Fraction, 1.0, "event %d", i)
		assert.GreaterOrEqual(t, ev.ETASeconds, 0.0, "event %d", i)
		last = ev.Fraction
	}
	assert.Equal(t, 1.0, events[len(events)-1].Fraction)
}

func TestUploadFractionCapped(t *testing.T) {
	events := collectEvents(3, 1)
	for _, ev := range events {
		if ev.Phase == PhaseUploading {
			assert.LessOrEqual(t, ev.Fraction, 0.95)
		}
	}
}

func TestPreparingEstimate(t *testing.T) {
	var got Event
	tr := NewTracker(func(ev Event) { got = ev }, 8, 7500*time.Millisecond, 2)
	tr.Preparing()

	// 8 chunks * 7.5s / 2 channels = 30s.
	assert.Equal(t, 30.0, got.ETASeconds)

	// Estimates never drop below one second.
	tr = NewTracker(func(ev Event) { got = ev }, 0, time.Millisecond, 4)
	tr.Preparing()
	assert.Equal(t, 1.0, got.ETASeconds)
}

func TestCallbackPanicAbsorbed(t *testing.T) {
	tr := NewTracker(func(Event) { panic("listener bug") }, 2, time.Second, 1)

	assert.NotPanics(t, func() {
		tr.Preparing()
		tr.ChunkDone()
		tr.ChunkDone()
		tr.Finalizing()
		tr.Done()
	})
}

func TestNilCallback(t *testing.T) {
	tr := NewTracker(nil, 2, time.Second, 1)
	assert.NotPanics(t, func() {
		tr.Preparing()
		tr.ChunkDone()
		tr.Done()
	})
}
