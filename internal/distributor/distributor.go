// Package distributor publishes encrypted chunks across a set of relays
// with round-robin load spreading, per-relay rate limiting, and
// publish-then-verify retries.
//
// Chunks are processed one at a time: a chunk's full retry rotation
// finishes before the next chunk's starting relay is computed, which keeps
// the round-robin bookkeeping deterministic. Rate-limit state is shared
// with any concurrent publisher through the Gate.
package distributor

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alltheseas/bugstr/pkg/chk"
	"github.com/alltheseas/bugstr/pkg/rategate"
	"github.com/alltheseas/bugstr/pkg/transport"
)

// DefaultIndexDelay gives a relay a moment to index a fresh event before
// the existence query.
const DefaultIndexDelay = 500 * time.Millisecond

type Config struct {
	Relays   []string
	Gate     *rategate.Gate
	Dialer   transport.Dialer
	Envelope transport.Envelope
	Logger   *slog.Logger

	// ConnectTimeout, QueryTimeout, and IndexDelay default to 5 s, 5 s,
	// and DefaultIndexDelay. Tests shorten them.
	ConnectTimeout time.Duration
	QueryTimeout   time.Duration
	IndexDelay     time.Duration
}

type Distributor struct {
	relays         []string
	gate           *rategate.Gate
	dialer         transport.Dialer
	envelope       transport.Envelope
	log            *slog.Logger
	connectTimeout time.Duration
	queryTimeout   time.Duration
	indexDelay     time.Duration
}

// Placement records where one chunk ended up.
type Placement struct {
	// EventID is the chunk's content-derived event identifier. Set even
	// when the chunk is lost so the manifest can still list it.
	EventID string
	// RelayURL is the relay confirmed to host the chunk. Empty when Lost.
	RelayURL string
	// Lost is true when every relay attempt failed. Non-fatal: the send
	// continues and the manifest records the absence.
	Lost bool
}

func New(cfg Config) *Distributor {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = transport.DefaultConnectTimeout
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = transport.DefaultQueryTimeout
	}
	if cfg.IndexDelay <= 0 {
		cfg.IndexDelay = DefaultIndexDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Distributor{
		relays:         cfg.Relays,
		gate:           cfg.Gate,
		dialer:         cfg.Dialer,
		envelope:       cfg.Envelope,
		log:            cfg.Logger,
		connectTimeout: cfg.ConnectTimeout,
		queryTimeout:   cfg.QueryTimeout,
		indexDelay:     cfg.IndexDelay,
	}
}

// PublishChunk attempts to place one chunk on a relay, rotating from the
// chunk's round-robin starting point through every configured relay at
// most once. An error is returned only for encoding failures; exhausting
// all relays yields a lost Placement and a nil error.
func (d *Distributor) PublishChunk(chunk chk.Chunk) (Placement, error) {
	if len(d.relays) == 0 {
		return Placement{}, fmt.Errorf("distributor: no relays configured")
	}

	payload := transport.ChunkPayload{
		V:     1,
		Index: chunk.Index,
		Hash:  hex.EncodeToString(chunk.Hash[:]),
		Data:  base64.StdEncoding.EncodeToString(chunk.Ciphertext),
	}
	content, err := json.Marshal(payload)
	if err != nil {
		return Placement{}, fmt.Errorf("distributor: encoding chunk payload: %w", err)
	}

	ev, err := d.envelope.OpenEvent(transport.KindChunk, content)
	if err != nil {
		return Placement{}, fmt.Errorf("distributor: building chunk event: %w", err)
	}

	n := len(d.relays)
	start := int(chunk.Index) % n

	for attempt := 0; attempt < n; attempt++ {
		relayURL := d.relays[(start+attempt)%n]
		if d.tryRelay(relayURL, ev) {
			d.log.Debug("chunk published",
				"chunk", chunk.Index, "relay", relayURL, "attempt", attempt)
			return Placement{EventID: ev.ID, RelayURL: relayURL}, nil
		}
	}

	d.log.Warn("chunk exhausted all relays", "chunk", chunk.Index, "relays", n)
	return Placement{EventID: ev.ID, Lost: true}, nil
}

// tryRelay performs one publish-then-verify attempt. The rate limiter is
// stamped only after a successful publish; a failed verify does not move
// the stamp back.
func (d *Distributor) tryRelay(relayURL string, ev transport.Event) bool {
	d.gate.Acquire(relayURL)

	ctx, cancel := context.WithTimeout(context.Background(), d.connectTimeout)
	ch, err := d.dialer.Connect(ctx, relayURL)
	cancel()
	if err != nil {
		d.log.Debug("relay connect failed", "relay", relayURL, "error", err)
		return false
	}
	defer ch.Disconnect()

	ctx, cancel = context.WithTimeout(context.Background(), d.connectTimeout)
	err = ch.Publish(ctx, ev)
	cancel()
	if err != nil {
		d.log.Debug("relay publish failed", "relay", relayURL, "error", err)
		return false
	}

	d.gate.Record(relayURL)

	// Let the relay index the event before asking for it back.
	time.Sleep(d.indexDelay)

	ctx, cancel = context.WithTimeout(context.Background(), d.queryTimeout)
	found, err := ch.QueryByID(ctx, ev.ID, ev.Kind)
	cancel()
	if err != nil || !found {
		d.log.Debug("relay verify failed", "relay", relayURL, "found", found, "error", err)
		return false
	}
	return true
}
