// Package protocol defines the quiz session wire protocol.
//
// # Message Catalog
//
// The protocol is a closed set of message kinds, each with a fixed payload
// shape, exchanged on exactly two classes of topics: the well-known discovery
// topic and per-session topics named by the session identifier.
//
//	Kind            Topic      Payload
//	search-request  discovery  SearchRequest
//	search-reply    discovery  SearchReply
//	connect-request session    ConnectRequest
//	connect-ack     session    ConnectAck
//	answer          session    Answer
//	question        session    Question
//	round-finished  session    RoundFinished
//	final-scores    session    FinalScores
//
// On the wire every message is a JSON envelope {"type": ..., "data": ...}.
// Decoding is exhaustive over the catalog: unknown kinds fail with
// ErrUnknownKind, and a payload whose envelope tag disagrees with the
// subscribed kind fails with ErrKindMismatch.
//
// # Channel
//
// Channel pairs the catalog with a bus.MessageBus: it encodes payloads into
// envelopes on publish and scopes subscriptions to (topic, kind) pairs.
package protocol
