package bus

import (
	"errors"
	"strings"
)

// Common errors.
var (
	ErrClosed       = errors.New("bus closed")
	ErrInvalidTopic = errors.New("invalid topic or kind")
)

// Message represents a message received from the bus.
type Message struct {
	// Topic the message was published on: the discovery topic or a
	// session identifier.
	Topic string

	// Kind identifies the message shape within the topic.
	Kind string

	// Data is the message payload.
	Data []byte
}

// MessageBus delivers payloads to subscribers of an exact (topic, kind) pair.
type MessageBus interface {
	// Publish sends a message to all current subscribers of (topic, kind).
	Publish(topic, kind string, data []byte) error

	// Subscribe creates a subscription to a (topic, kind) pair.
	// All subscribers of the pair receive all messages published on it.
	Subscribe(topic, kind string) (Subscription, error)

	// Close shuts down the bus connection.
	Close() error
}

// Subscription represents an active subscription.
type Subscription interface {
	// Messages returns the channel for incoming messages.
	// Channel is closed when the subscription ends.
	Messages() <-chan *Message

	// Unsubscribe cancels the subscription.
	Unsubscribe() error
}

// Config holds common bus configuration.
type Config struct {
	// BufferSize for subscription channels.
	// Default: 256
	BufferSize int
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize: 256,
	}
}

// ValidateFilter checks that a (topic, kind) pair can be used as a
// subscription filter key. Both parts must be non-empty and free of
// separator and wildcard characters.
func ValidateFilter(topic, kind string) error {
	for _, s := range []string{topic, kind} {
		if s == "" || strings.ContainsAny(s, ". *>\t\n") {
			return ErrInvalidTopic
		}
	}
	return nil
}

// filterKey builds the internal subject for a (topic, kind) pair.
func filterKey(topic, kind string) string {
	return topic + "." + kind
}
