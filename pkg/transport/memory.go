package transport

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// MemoryRelay is an in-process relay. It backs the demo sender and the
// pipeline tests; fault hooks let tests simulate unreachable or lossy
// relays.
type MemoryRelay struct {
	URL string

	// ConnectErr, when set, makes every Connect to this relay fail.
	ConnectErr error
	// PublishErr, when set, makes every Publish fail.
	PublishErr error
	// DropQueries makes QueryByID report events as absent even when the
	// publish succeeded, simulating a relay that accepts and discards.
	DropQueries bool

	mu     sync.Mutex
	events map[string]Event
}

// NewMemoryRelay returns an empty relay reachable under url.
func NewMemoryRelay(url string) *MemoryRelay {
	return &MemoryRelay{URL: url, events: make(map[string]Event)}
}

// Publish stores the event, or fails if PublishErr is set.
func (r *MemoryRelay) Publish(_ context.Context, ev Event) error {
	if r.PublishErr != nil {
		return r.PublishErr
	}
	r.mu.Lock()
	r.events[ev.ID] = ev
	r.mu.Unlock()
	return nil
}

// QueryByID reports whether the relay holds the event.
func (r *MemoryRelay) QueryByID(_ context.Context, id string, kind int) (bool, error) {
	if r.DropQueries {
		return false, nil
	}
	r.mu.Lock()
	ev, ok := r.events[id]
	r.mu.Unlock()
	return ok && ev.Kind == kind, nil
}

// Disconnect is a no-op; memory relays hold no connection state.
func (r *MemoryRelay) Disconnect() {}

// Events returns a snapshot of everything the relay holds.
func (r *MemoryRelay) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev)
	}
	return out
}

// MemoryDialer connects to a fixed set of MemoryRelays by URL.
type MemoryDialer struct {
	mu     sync.Mutex
	relays map[string]*MemoryRelay
}

// NewMemoryDialer builds a dialer over the given relays.
func NewMemoryDialer(relays ...*MemoryRelay) *MemoryDialer {
	d := &MemoryDialer{relays: make(map[string]*MemoryRelay)}
	for _, r := range relays {
		d.relays[r.URL] = r
	}
	return d
}

// Connect returns the relay registered under relayURL.
func (d *MemoryDialer) Connect(_ context.Context, relayURL string) (Channel, error) {
	d.mu.Lock()
	r, ok := d.relays[relayURL]
	d.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("transport: unknown relay %q", relayURL)
	}
	if r.ConnectErr != nil {
		return nil, r.ConnectErr
	}
	return r, nil
}

// PlainEnvelope derives content-addressed event IDs and randomized past
// timestamps but performs no encryption. It serves the demo sender and
// tests; delivering real reports requires a sealing implementation such as
// a NIP-17 gift wrap.
type PlainEnvelope struct{}

// timestampWindow bounds how far into the past event timestamps are
// randomized, decoupling the event time from the crash time.
const timestampWindow = 2 * 24 * time.Hour

// SealAndWrap builds an event whose ID also binds the recipient key, so
// the same content sealed for two recipients yields two distinct events.
func (PlainEnvelope) SealAndWrap(recipientKey string, kind int, content []byte) (Event, error) {
	return buildEvent(kind, content, recipientKey), nil
}

// OpenEvent builds an unencrypted content-addressed event.
func (PlainEnvelope) OpenEvent(kind int, content []byte) (Event, error) {
	return buildEvent(kind, content, ""), nil
}

func buildEvent(kind int, content []byte, recipientKey string) Event {
	h := sha256.New()
	var kindBytes [8]byte
	binary.BigEndian.PutUint64(kindBytes[:], uint64(kind))
	h.Write(kindBytes[:])
	h.Write([]byte(recipientKey))
	h.Write(content)

	return Event{
		ID:        hex.EncodeToString(h.Sum(nil)),
		Kind:      kind,
		Content:   string(content),
		CreatedAt: randomPastTimestamp(),
	}
}

func randomPastTimestamp() int64 {
	now := time.Now().Unix()
	return now - rand.Int63n(int64(timestampWindow/time.Second))
}
