package bugstr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alltheseas/bugstr/internal/distributor"
	"github.com/alltheseas/bugstr/pkg/chk"
	"github.com/alltheseas/bugstr/pkg/progress"
	"github.com/alltheseas/bugstr/pkg/transport"
	workerpool "github.com/alltheseas/bugstr/pkg/workerPool"
)

// send runs on a pool worker. It spools the report first when a spool is
// configured, then attempts delivery; the spool entry is removed only after
// delivery succeeds. Failures are logged and swallowed.
func (r *Reporter) send(payload *Payload) {
	raw, err := json.Marshal(payload)
	if err != nil {
		r.log.Error("encoding crash report failed", "error", err)
		return
	}

	var spoolID string
	if r.spool != nil {
		id, fresh, err := r.spool.Put(raw)
		if err != nil {
			r.log.Warn("spooling crash report failed", "error", err)
		} else {
			spoolID = id
			if !fresh {
				r.log.Debug("crash report already spooled", "id", id)
			}
		}
	}

	if err := r.deliver(raw); err != nil {
		r.log.Warn("crash report delivery failed", "error", err)
		return
	}

	if r.spool != nil && spoolID != "" {
		if err := r.spool.Delete(spoolID); err != nil {
			r.log.Warn("removing delivered report from spool failed", "id", spoolID, "error", err)
		}
	}
}

// Resend retries every spooled report that has not been delivered yet.
// Call it on startup, after the network is likely up.
func (r *Reporter) Resend() {
	if r == nil || r.spool == nil {
		return
	}
	pending, err := r.spool.Pending()
	if err != nil {
		r.log.Warn("reading spooled reports failed", "error", err)
		return
	}
	for _, report := range pending {
		report := report
		r.pool.Submit(func() {
			if err := r.deliver(report.Payload); err != nil {
				r.log.Warn("spooled report delivery failed", "id", report.ID, "error", err)
				return
			}
			if err := r.spool.Delete(report.ID); err != nil {
				r.log.Warn("removing delivered report from spool failed", "id", report.ID, "error", err)
			}
		})
	}
}

func (r *Reporter) deliver(raw []byte) error {
	content, err := transport.MaybeCompress(raw)
	if err != nil {
		return err
	}
	return r.dispatch(content)
}

// dispatch picks the delivery path from the final serialized size:
// everything up to the direct threshold goes as one sealed event, anything
// larger is chunked.
func (r *Reporter) dispatch(content []byte) error {
	if transport.KindFor(len(content)) == transport.KindDirect {
		return r.sendDirect(content)
	}
	return r.sendChunked(content)
}

// sendDirect seals the report once and publishes the same event to every
// relay in parallel. One reachable relay is enough.
func (r *Reporter) sendDirect(content []byte) error {
	body, err := json.Marshal(transport.DirectPayload{V: 1, Crash: content})
	if err != nil {
		return fmt.Errorf("encoding direct payload: %w", err)
	}
	ev, err := r.config.Envelope.SealAndWrap(r.config.DeveloperPubkey, transport.KindDirect, body)
	if err != nil {
		return fmt.Errorf("sealing direct payload: %w", err)
	}
	if err := r.fanOutPublish(ev); err != nil {
		return fmt.Errorf("direct delivery: %w", err)
	}
	r.log.Info("crash report delivered", "event", ev.ID, "bytes", len(content))
	return nil
}

// sendChunked splits the report into encrypted chunks, spreads them across
// the relays one at a time, then seals the manifest and fans it out to all
// relays. Individual lost chunks do not abort the send; a manifest that
// reaches no relay does.
func (r *Reporter) sendChunked(content []byte) error {
	result, err := chk.Split(content, r.config.MaxChunkSize)
	if err != nil {
		return fmt.Errorf("chunking report: %w", err)
	}

	tracker := progress.NewTracker(
		r.config.OnProgress,
		len(result.Chunks),
		r.config.RateInterval,
		len(r.config.Relays),
	)
	tracker.Preparing()

	builder := distributor.NewManifestBuilder(result.RootHash, result.TotalSize)
	lost := 0
	for _, chunk := range result.Chunks {
		placement, err := r.dist.PublishChunk(chunk)
		if err != nil {
			return fmt.Errorf("publishing chunk %d: %w", chunk.Index, err)
		}
		if placement.Lost {
			lost++
			r.log.Warn("chunk exhausted all relays", "index", chunk.Index, "event", placement.EventID)
		}
		builder.Record(placement)
		tracker.ChunkDone()
	}

	tracker.Finalizing()

	body, err := json.Marshal(builder.Build())
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	ev, err := r.config.Envelope.SealAndWrap(r.config.DeveloperPubkey, transport.KindManifest, body)
	if err != nil {
		return fmt.Errorf("sealing manifest: %w", err)
	}
	if err := r.fanOutPublish(ev); err != nil {
		return fmt.Errorf("manifest delivery: %w", err)
	}

	tracker.Done()
	r.log.Info("chunked crash report delivered",
		"event", ev.ID,
		"chunks", len(result.Chunks),
		"lost", lost,
		"bytes", result.TotalSize,
	)
	return nil
}

// fanOutPublish pushes one event to all relays in parallel under a shared
// deadline. It succeeds as soon as any relay accepts the event.
func (r *Reporter) fanOutPublish(ev transport.Event) error {
	if len(r.config.Relays) == 0 {
		return fmt.Errorf("no relays configured for event %s", ev.ID)
	}

	results := r.pool.FanOut(r.config.Relays, r.config.FanOutTimeout, func(relayURL string) error {
		return r.publishTo(relayURL, ev)
	})

	var firstErr error
	for _, res := range results {
		if res.Err == nil {
			return nil
		}
		if firstErr == nil {
			firstErr = res.Err
		}
		if !errors.Is(res.Err, workerpool.ErrFanOutTimeout) {
			r.log.Debug("relay publish failed", "relay", res.Target, "error", res.Err)
		}
	}
	return fmt.Errorf("no relay accepted event %s: %w", ev.ID, firstErr)
}

func (r *Reporter) publishTo(relayURL string, ev transport.Event) error {
	r.gate.Acquire(relayURL)

	ctx, cancel := context.WithTimeout(context.Background(), transport.DefaultConnectTimeout)
	defer cancel()

	ch, err := r.config.Dialer.Connect(ctx, relayURL)
	if err != nil {
		return err
	}
	defer ch.Disconnect()

	if err := ch.Publish(ctx, ev); err != nil {
		return err
	}
	r.gate.Record(relayURL)
	return nil
}
