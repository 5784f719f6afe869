// Package cache implements the cache-invalidation publisher
// collaborator (SPEC_FULL.md §11). The core itself never caches
// responses (spec.md §1 Non-goals); this package only announces that
// a resource changed, on a NATS subject, for an external cache
// collaborator to act on.
package cache

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// Invalidator publishes invalidation events. A no-op Invalidator is
// used when the cache collaborator is disabled.
type Invalidator interface {
	Invalidate(tag string) error
	Close()
}

// Event is the payload published for each invalidation: a tag
// identifying what changed, e.g. a widget class name or a URI prefix.
type Event struct {
	Tag string `json:"tag"`
}

// NatsInvalidator publishes one message per Invalidate call to a
// fixed subject, letting any number of external cache nodes subscribe.
type NatsInvalidator struct {
	conn    *nats.Conn
	subject string
}

// NewNatsInvalidator connects to url and returns an Invalidator that
// publishes to subject.
func NewNatsInvalidator(url, subject string) (*NatsInvalidator, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("cache: connect: %w", err)
	}
	return &NatsInvalidator{conn: conn, subject: subject}, nil
}

// Invalidate publishes tag as a JSON-encoded Event. The core does not
// wait for, or care about, subscriber acknowledgement.
func (n *NatsInvalidator) Invalidate(tag string) error {
	payload, err := json.Marshal(Event{Tag: tag})
	if err != nil {
		return fmt.Errorf("cache: encode event: %w", err)
	}
	return n.conn.Publish(n.subject, payload)
}

// Close closes the underlying connection without draining it first.
func (n *NatsInvalidator) Close() {
	n.conn.Close()
}

// NopInvalidator discards every invalidation; used when the cache
// collaborator is disabled.
type NopInvalidator struct{}

func (NopInvalidator) Invalidate(string) error { return nil }
func (NopInvalidator) Close()                   {}
