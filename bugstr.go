// Package bugstr delivers crash reports to a single recipient over public
// relays, with no server in between. Small reports travel as one sealed
// message; large ones are split into convergently encrypted chunks spread
// across the relays, tied together by a sealed manifest.
//
// Basic usage:
//
//	reporter, err := bugstr.New(bugstr.Config{
//	    DeveloperPubkey: "npub1...",
//	    Envelope:        myEnvelope,
//	    Dialer:          myDialer,
//	})
//	if err != nil {
//	    // reporting is optional; the app keeps running without it
//	}
//	defer reporter.Close()
//	defer reporter.Recover()
//
// Sends run in the background and never return an error into the host:
// this package reports failures and must not become a source of them.
package bugstr

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"time"

	"github.com/alltheseas/bugstr/internal/distributor"
	"github.com/alltheseas/bugstr/internal/spool"
	"github.com/alltheseas/bugstr/pkg/progress"
	"github.com/alltheseas/bugstr/pkg/rategate"
	"github.com/alltheseas/bugstr/pkg/transport"
	workerpool "github.com/alltheseas/bugstr/pkg/workerPool"
)

// DefaultRelays are public relays with reasonable uptime and rate limits.
var DefaultRelays = []string{
	"wss://relay.damus.io",
	"wss://relay.primal.net",
	"wss://nos.lol",
}

// DefaultFanOutTimeout bounds the parallel publish of a sealed event to
// all relays, so one unreachable relay cannot stall the rest.
const DefaultFanOutTimeout = 10 * time.Second

// Config configures a Reporter.
type Config struct {
	// DeveloperPubkey is the recipient's public key. Required.
	DeveloperPubkey string

	// Relays to publish to. Defaults to DefaultRelays.
	Relays []string

	// Envelope seals content for the recipient and derives event IDs.
	// Required.
	Envelope transport.Envelope

	// Dialer opens relay connections. Required.
	Dialer transport.Dialer

	// Environment tag (e.g. "production").
	Environment string

	// Release version tag.
	Release string

	// RedactPatterns replace matches in message and stack text with
	// "[redacted]" before anything leaves the process. Defaults cover
	// cashu tokens, lightning invoices, and bech32 keys.
	RedactPatterns []*regexp.Regexp

	// BeforeSend may modify or drop a report. Return nil to drop.
	BeforeSend func(*Payload) *Payload

	// ConfirmSend prompts before sending. Return true to send. When nil,
	// reports are sent automatically.
	ConfirmSend func(Summary) bool

	// OnProgress observes chunked uploads. May run on any goroutine;
	// panics inside the callback are absorbed.
	OnProgress progress.Callback

	// SpoolPath, when set, persists captured reports to this directory
	// until delivery succeeds. Duplicate crashes are spooled once.
	SpoolPath string

	// RateInterval is the minimum spacing between publishes per relay.
	// Defaults to rategate.DefaultInterval.
	RateInterval time.Duration

	// RelayIntervals overrides RateInterval for specific relay URLs, for
	// relays known to throttle harder or softer than the default.
	RelayIntervals map[string]time.Duration

	// MaxChunkSize bounds the plaintext size of one chunk. Defaults to
	// chk.DefaultMaxChunkSize.
	MaxChunkSize int

	// FanOutTimeout bounds the parallel delivery of sealed events to all
	// relays. Defaults to DefaultFanOutTimeout.
	FanOutTimeout time.Duration

	// Logger receives internal diagnostics. Defaults to a stderr text
	// logger at Info level.
	Logger *slog.Logger
}

// Reporter owns the delivery pipeline: rate-limiter state, the background
// worker pool, the optional spool, and the chunk distributor. All state is
// process-lifetime scoped.
type Reporter struct {
	config Config
	log    *slog.Logger
	gate   *rategate.Gate
	pool   *workerpool.Pool
	dist   *distributor.Distributor
	spool  *spool.Spool
}

func defaultLogger() *slog.Logger {
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return slog.New(h)
}

// New constructs a Reporter. It validates the collaborators, applies
// defaults, opens the spool when configured, and prunes reports past
// retention.
func New(conf Config) (*Reporter, error) {
	if conf.DeveloperPubkey == "" {
		return nil, fmt.Errorf("bugstr: DeveloperPubkey is required")
	}
	if conf.Envelope == nil {
		return nil, fmt.Errorf("bugstr: Envelope collaborator is required")
	}
	if conf.Dialer == nil {
		return nil, fmt.Errorf("bugstr: Dialer collaborator is required")
	}
	if len(conf.Relays) == 0 {
		conf.Relays = DefaultRelays
	}
	if conf.RateInterval <= 0 {
		conf.RateInterval = rategate.DefaultInterval
	}
	if conf.FanOutTimeout <= 0 {
		conf.FanOutTimeout = DefaultFanOutTimeout
	}
	if conf.Logger == nil {
		conf.Logger = defaultLogger()
	}
	if len(conf.RedactPatterns) == 0 {
		conf.RedactPatterns = defaultRedactions
	}

	gate := rategate.New(conf.RateInterval)
	for url, interval := range conf.RelayIntervals {
		gate.SetInterval(url, interval)
	}

	r := &Reporter{
		config: conf,
		log:    conf.Logger,
		gate:   gate,
		pool: workerpool.New(workerpool.Config{
			Logger: conf.Logger,
		}),
		dist: distributor.New(distributor.Config{
			Relays:   conf.Relays,
			Gate:     gate,
			Dialer:   conf.Dialer,
			Envelope: conf.Envelope,
			Logger:   conf.Logger,
		}),
	}

	if conf.SpoolPath != "" {
		sp, err := spool.Open(conf.SpoolPath, conf.Logger)
		if err != nil {
			return nil, fmt.Errorf("bugstr: opening spool: %w", err)
		}
		r.spool = sp
		if _, err := sp.PruneOlderThan(time.Now().Add(-spool.RetentionPeriod)); err != nil {
			r.log.Warn("spool prune failed", "error", err)
		}
	}

	return r, nil
}

// CaptureException reports an error as a crash. The send runs in the
// background; CaptureException returns as soon as the hooks have run and
// never surfaces a delivery failure.
func (r *Reporter) CaptureException(err error) {
	if r == nil {
		return
	}

	payload := r.buildPayload(err)

	if r.config.BeforeSend != nil {
		payload = r.config.BeforeSend(payload)
		if payload == nil {
			return
		}
	}

	if r.config.ConfirmSend != nil {
		summary := Summary{
			Message:      payload.Message,
			StackPreview: truncateStack(payload.Stack, 3),
		}
		if !r.config.ConfirmSend(summary) {
			return
		}
	}

	r.pool.Submit(func() { r.send(payload) })
}

// CaptureMessage reports a plain message as a crash.
func (r *Reporter) CaptureMessage(msg string) {
	r.CaptureException(fmt.Errorf("%s", msg))
}

// Recover captures a panic, reports it, and re-panics. Use with defer at
// the top of main:
//
//	defer reporter.Recover()
func (r *Reporter) Recover() {
	if rec := recover(); rec != nil {
		r.CaptureException(fmt.Errorf("panic: %v", rec))
		panic(rec)
	}
}

// RecoverAndContinue captures a panic without re-panicking. Meant for
// goroutines that should not take the program down:
//
//	go func() {
//	    defer reporter.RecoverAndContinue()
//	    // ...
//	}()
func (r *Reporter) RecoverAndContinue() {
	if rec := recover(); rec != nil {
		r.CaptureException(fmt.Errorf("panic: %v", rec))
	}
}

// Flush blocks until every queued send has finished.
func (r *Reporter) Flush() {
	r.pool.Wait()
}

// Close flushes queued sends and releases the spool. The Reporter must not
// be used afterwards.
func (r *Reporter) Close() {
	r.pool.Close()
	if r.spool != nil {
		if err := r.spool.Close(); err != nil {
			r.log.Warn("closing spool failed", "error", err)
		}
	}
}
