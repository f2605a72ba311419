package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// DiscoveryTopic is the well-known, session-independent topic used only to
// advertise and locate active sessions. All other traffic is published on
// the session identifier as topic.
const DiscoveryTopic = "discovery"

// Common errors.
var (
	ErrUnknownKind  = errors.New("unknown message kind")
	ErrKindMismatch = errors.New("envelope kind mismatch")
)

// Kind identifies a message shape in the catalog.
type Kind string

// The message catalog. The set is closed: decoding is exhaustive over these
// kinds and nothing else.
const (
	KindSearchRequest  Kind = "search-request"
	KindSearchReply    Kind = "search-reply"
	KindConnectRequest Kind = "connect-request"
	KindConnectAck     Kind = "connect-ack"
	KindAnswer         Kind = "answer"
	KindQuestion       Kind = "question"
	KindRoundFinished  Kind = "round-finished"
	KindFinalScores    Kind = "final-scores"
)

// SearchRequest asks any listening coordinator to advertise its session.
type SearchRequest struct {
	ParticipantID string `json:"participant_id"`
}

// SearchReply advertises one session in response to a SearchRequest.
type SearchReply struct {
	SessionID string `json:"session_id"`
}

// ConnectRequest asks to join the session whose identifier is the topic.
type ConnectRequest struct {
	ParticipantID string `json:"participant_id"`
	DisplayName   string `json:"display_name"`
}

// ConnectAck acknowledges a ConnectRequest.
type ConnectAck struct {
	SessionID     string `json:"session_id"`
	ParticipantID string `json:"participant_id"`
}

// Answer submits one participant's answer to one question.
type Answer struct {
	ParticipantID string `json:"participant_id"`
	QuestionIndex int    `json:"question_index"`
	AnswerIndex   int    `json:"answer_index"`
}

// Question broadcasts one question to every participant.
type Question struct {
	Index   int      `json:"index"`
	Prompt  string   `json:"prompt"`
	Options []string `json:"options"`
}

// RoundFinished signals that the current question's answer window has closed.
// It carries no payload.
type RoundFinished struct{}

// ScoreCard is one participant's final standing.
type ScoreCard struct {
	DisplayName string `json:"display_name"`
	Score       int    `json:"score"`
}

// ScoreCards maps participant identifiers to their final standings.
type ScoreCards map[string]ScoreCard

// FinalScores broadcasts the final score table for a session.
type FinalScores struct {
	ScoreCards ScoreCards `json:"score_cards"`
}

// envelope is the wire shape of every message: a kind tag plus a payload
// whose shape is determined by the tag.
type envelope struct {
	Type Kind            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Encode wraps a payload in the wire envelope for its kind.
func Encode(kind Kind, payload any) ([]byte, error) {
	env := envelope{Type: kind}

	switch kind {
	case KindRoundFinished:
		// No payload on the wire.
	case KindSearchRequest, KindSearchReply, KindConnectRequest,
		KindConnectAck, KindAnswer, KindQuestion, KindFinalScores:
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", kind, err)
		}
		env.Data = data
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	return json.Marshal(env)
}

// Decode parses a wire message into its typed payload. The returned value is
// one of the catalog's payload structs; the switch is exhaustive over the
// catalog so every subscription handler can match on the concrete type.
func Decode(data []byte) (Kind, any, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("decode envelope: %w", err)
	}

	var (
		payload any
		err     error
	)
	switch env.Type {
	case KindSearchRequest:
		payload, err = decodeAs[SearchRequest](env)
	case KindSearchReply:
		payload, err = decodeAs[SearchReply](env)
	case KindConnectRequest:
		payload, err = decodeAs[ConnectRequest](env)
	case KindConnectAck:
		payload, err = decodeAs[ConnectAck](env)
	case KindAnswer:
		payload, err = decodeAs[Answer](env)
	case KindQuestion:
		payload, err = decodeAs[Question](env)
	case KindRoundFinished:
		payload = RoundFinished{}
	case KindFinalScores:
		payload, err = decodeAs[FinalScores](env)
	default:
		return env.Type, nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Type)
	}
	if err != nil {
		return env.Type, nil, err
	}

	return env.Type, payload, nil
}

// decodeAs unmarshals an envelope's data as a specific payload type.
func decodeAs[T any](env envelope) (T, error) {
	var p T
	if len(env.Data) == 0 {
		return p, fmt.Errorf("decode %s: missing payload", env.Type)
	}
	if err := json.Unmarshal(env.Data, &p); err != nil {
		return p, fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return p, nil
}

// expect decodes data and verifies the envelope carries the wanted kind.
// Subscriptions are already filtered by kind on the bus; the tag check guards
// against a publisher mislabeling its envelope.
func expect[T any](data []byte, want Kind) (T, error) {
	var zero T
	kind, payload, err := Decode(data)
	if err != nil {
		return zero, err
	}
	if kind != want {
		return zero, fmt.Errorf("%w: got %q, want %q", ErrKindMismatch, kind, want)
	}
	p, ok := payload.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %q payload has unexpected shape", ErrKindMismatch, kind)
	}
	return p, nil
}

// Typed decode helpers, one per catalog entry.

func DecodeSearchRequest(data []byte) (SearchRequest, error) {
	return expect[SearchRequest](data, KindSearchRequest)
}

func DecodeSearchReply(data []byte) (SearchReply, error) {
	return expect[SearchReply](data, KindSearchReply)
}

func DecodeConnectRequest(data []byte) (ConnectRequest, error) {
	return expect[ConnectRequest](data, KindConnectRequest)
}

func DecodeConnectAck(data []byte) (ConnectAck, error) {
	return expect[ConnectAck](data, KindConnectAck)
}

func DecodeAnswer(data []byte) (Answer, error) {
	return expect[Answer](data, KindAnswer)
}

func DecodeQuestion(data []byte) (Question, error) {
	return expect[Question](data, KindQuestion)
}

func DecodeFinalScores(data []byte) (FinalScores, error) {
	return expect[FinalScores](data, KindFinalScores)
}
