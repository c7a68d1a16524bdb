package transport

import (
	"context"
	"time"
)

// Event is a publishable unit produced by the Envelope collaborator. ID is
// content-addressed, so rebuilding the same content yields the same ID and
// a published event can be found again by querying for it.
type Event struct {
	ID        string
	Kind      int
	Content   string
	CreatedAt int64
}

// Envelope is the secure envelope collaborator. Implementations provide
// sender-anonymous key generation, recipient-only encryption, and a
// randomized creation timestamp within a bounded past window so the event
// time does not correlate with the crash time.
type Envelope interface {
	// SealAndWrap encrypts content so only the holder of recipientKey can
	// read it and wraps it into a publishable event.
	SealAndWrap(recipientKey string, kind int, content []byte) (Event, error)

	// OpenEvent builds an unencrypted event with a content-derived ID.
	// Used for chunk events, whose confidentiality comes from convergent
	// encryption rather than from the envelope.
	OpenEvent(kind int, content []byte) (Event, error)
}

// Channel is a live connection to one relay. Implementations must tolerate
// many short-lived connections per minute.
type Channel interface {
	// Publish submits the event to the relay.
	Publish(ctx context.Context, ev Event) error

	// QueryByID asks the relay whether it holds an event of the given kind
	// and ID. Used to verify that a publish actually landed.
	QueryByID(ctx context.Context, id string, kind int) (bool, error)

	// Disconnect closes the connection. Safe to call more than once.
	Disconnect()
}

// Dialer opens channels to relays.
type Dialer interface {
	Connect(ctx context.Context, relayURL string) (Channel, error)
}

// Default timeouts for blocking relay operations. There is no mid-flight
// cancellation in the pipeline; these bounds are what keeps it moving.
const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultQueryTimeout   = 5 * time.Second
)
