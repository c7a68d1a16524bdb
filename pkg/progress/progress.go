// Package progress models the three-phase progress of a chunked upload:
// preparing, one step per chunk while uploading, then finalizing around the
// manifest delivery. Upload steps top out at 95% so the manifest step stays
// visibly distinct from the bulk transfer.
package progress

import (
	"fmt"
	"math"
	"time"
)

// Phase identifies where in the send a progress event was emitted.
type Phase string

const (
	PhasePreparing  Phase = "preparing"
	PhaseUploading  Phase = "uploading"
	PhaseFinalizing Phase = "finalizing"
)

// uploadCeiling reserves headroom for the finalizing phase.
const uploadCeiling = 0.95

// Event is one progress observation. Fraction is non-decreasing across the
// events of a single send and reaches exactly 1.0 on completion.
type Event struct {
	Phase       Phase
	Current     int
	Total       int
	Fraction    float64
	ETASeconds  float64
	Description string
}

// Callback receives progress events. It may run on any goroutine; panics
// inside the callback are absorbed and never reach the sender.
type Callback func(Event)

// Tracker derives the event stream for one send. It is not safe for
// concurrent use; the chunk pipeline drives it from a single goroutine.
type Tracker struct {
	cb           Callback
	totalChunks  int
	done         int
	rateInterval time.Duration
	channels     int
	lastFraction float64
}

// NewTracker sets up tracking for a send of totalChunks chunks across the
// given number of channels, rate limited to one publish per rateInterval
// per channel.
func NewTracker(cb Callback, totalChunks int, rateInterval time.Duration, channels int) *Tracker {
	if channels < 1 {
		channels = 1
	}
	return &Tracker{
		cb:           cb,
		totalChunks:  totalChunks,
		rateInterval: rateInterval,
		channels:     channels,
	}
}

// Preparing emits the initial event before any publish begins.
func (t *Tracker) Preparing() {
	t.emit(Event{
		Phase:       PhasePreparing,
		Current:     0,
		Total:       t.totalChunks,
		Fraction:    0,
		ETASeconds:  t.estimate(t.totalChunks),
		Description: fmt.Sprintf("preparing %d chunks", t.totalChunks),
	})
}

// ChunkDone records one finished chunk attempt, successful or not, and
// emits an uploading event.
func (t *Tracker) ChunkDone() {
	if t.done < t.totalChunks {
		t.done++
	}
	fraction := 0.0
	if t.totalChunks > 0 {
		fraction = float64(t.done) / float64(t.totalChunks) * uploadCeiling
	}
	t.emit(Event{
		Phase:       PhaseUploading,
		Current:     t.done,
		Total:       t.totalChunks,
		Fraction:    fraction,
		ETASeconds:  t.estimate(t.totalChunks - t.done),
		Description: fmt.Sprintf("uploaded chunk %d of %d", t.done, t.totalChunks),
	})
}

// Finalizing emits the event between building the manifest and delivering it.
func (t *Tracker) Finalizing() {
	t.emit(Event{
		Phase:       PhaseFinalizing,
		Current:     t.totalChunks,
		Total:       t.totalChunks,
		Fraction:    uploadCeiling,
		ETASeconds:  math.Max(1, t.rateInterval.Seconds()),
		Description: "delivering manifest",
	})
}

// Done emits the terminal event after the manifest has been delivered.
func (t *Tracker) Done() {
	t.emit(Event{
		Phase:       PhaseFinalizing,
		Current:     t.totalChunks,
		Total:       t.totalChunks,
		Fraction:    1.0,
		ETASeconds:  0,
		Description: "send complete",
	})
}

// estimate projects the remaining upload time for n chunks spread across
// the configured channels, never less than one second.
func (t *Tracker) estimate(n int) float64 {
	if n <= 0 {
		return 1
	}
	return math.Max(1, float64(n)*t.rateInterval.Seconds()/float64(t.channels))
}

func (t *Tracker) emit(ev Event) {
	// Clamp so the stream stays monotonic even if a phase is re-entered.
	if ev.Fraction < t.lastFraction {
		ev.Fraction = t.lastFraction
	}
	t.lastFraction = ev.Fraction

	if t.cb == nil {
		return
	}
	defer func() {
		_ = recover()
	}()
	t.cb(ev)
}
