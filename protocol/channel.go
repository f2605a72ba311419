package protocol

import (
	"fmt"

	"github.com/quizkit/quizkit/bus"
)

// Channel scopes a message bus to the quiz protocol: payloads are wrapped in
// the wire envelope on publish, and subscriptions are keyed by the exact
// (topic, kind) pair. Both session roles share one Channel per process.
type Channel struct {
	bus bus.MessageBus
}

// NewChannel wraps a message bus. The caller keeps ownership of the bus
// lifecycle; Channel never closes it.
func NewChannel(b bus.MessageBus) *Channel {
	return &Channel{bus: b}
}

// Publish encodes a payload for its kind and broadcasts it on the topic.
// Delivery is fire-and-forget to current subscribers of (topic, kind).
func (c *Channel) Publish(topic string, kind Kind, payload any) error {
	data, err := Encode(kind, payload)
	if err != nil {
		return err
	}
	if err := c.bus.Publish(topic, string(kind), data); err != nil {
		return fmt.Errorf("publish %s on %s: %w", kind, topic, err)
	}
	return nil
}

// Subscribe attaches to a (topic, kind) pair. The caller must release the
// subscription on every exit path, including the losing branch of a race.
func (c *Channel) Subscribe(topic string, kind Kind) (bus.Subscription, error) {
	sub, err := c.bus.Subscribe(topic, string(kind))
	if err != nil {
		return nil, fmt.Errorf("subscribe %s on %s: %w", kind, topic, err)
	}
	return sub, nil
}
