// Package bus provides the message bus the quiz protocol runs over.
//
// # Overview
//
// The MessageBus interface delivers payloads to every subscriber of an exact
// (topic, kind) pair. Parties never address each other directly: the
// coordinator and every participant publish on shared topics and filter what
// they receive by topic and message kind. All implementations use
// channel-based APIs for Go-idiomatic concurrent use.
//
// # Available Implementations
//
//   - NATSBus: production messaging over a NATS server
//   - MemoryBus: in-memory implementation for testing and single-process use
//
// # Delivery Semantics
//
// Delivery is best-effort to currently-attached subscribers. A subscriber
// attached after a publish never sees that message; a subscriber whose buffer
// is full drops it. Timeouts at the protocol layer are the only recovery
// mechanism for a missed message.
//
//	sub, _ := b.Subscribe(sessionID, "answer")
//	for msg := range sub.Messages() {
//	    // Handle message
//	}
//	sub.Unsubscribe()
package bus
