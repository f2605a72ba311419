package server

import (
	"context"
	"testing"
	"time"

	"github.com/quizkit/quizkit/bus"
	"github.com/quizkit/quizkit/client"
	"github.com/quizkit/quizkit/protocol"
	"github.com/quizkit/quizkit/quiz"
)

// Full session over an in-process bus: discovery, handshake, one timed
// round, final scores. One participant answers correctly, the other
// incorrectly.
func TestSession_EndToEnd(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()
	ch := protocol.NewChannel(b)

	cfg := quiz.Config{
		Questions: []quiz.Question{
			{Prompt: "Capital of France?", Options: []string{"Paris", "London", "Berlin", "Madrid"}, Correct: 0},
		},
		RequiredParticipants: 2,
		QuestionTimeLimit:    300 * time.Millisecond,
	}

	coordinator, err := New(cfg, ch, quietLogger())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	sessionID := NewSessionID()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	type serverResult struct {
		cards protocol.ScoreCards
		err   error
	}
	serverDone := make(chan serverResult, 1)
	go func() {
		cards, err := coordinator.Run(ctx, sessionID)
		serverDone <- serverResult{cards, err}
	}()

	alice := client.New(ch, client.AnswerFunc(func(context.Context) (int, error) {
		return 0, nil // Paris
	}), nil, quietLogger())
	bob := client.New(ch, client.AnswerFunc(func(context.Context) (int, error) {
		return 2, nil // Berlin
	}), nil, quietLogger())

	// Both participants discover the session before joining.
	for _, agent := range []*client.Agent{alice, bob} {
		sessions, err := agent.Search(ctx, client.SearchOptions{NumberOfSessions: 1, Timeout: 2 * time.Second})
		if err != nil {
			t.Fatalf("Search error: %v", err)
		}
		if _, ok := sessions[sessionID]; !ok {
			t.Fatalf("search did not find session %s, got %v", sessionID, sessions)
		}
	}

	clientDone := make(chan error, 2)
	go func() { clientDone <- alice.Run(ctx, sessionID, "Alice") }()
	go func() { clientDone <- bob.Run(ctx, sessionID, "Bob") }()

	var result serverResult
	select {
	case result = <-serverDone:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for coordinator")
	}
	if result.err != nil {
		t.Fatalf("coordinator error: %v", result.err)
	}

	for i := 0; i < 2; i++ {
		select {
		case err := <-clientDone:
			if err != nil {
				t.Fatalf("participant error: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timeout waiting for participants")
		}
	}

	if len(result.cards) != 2 {
		t.Fatalf("score cards = %d, want 2", len(result.cards))
	}
	if got := result.cards[alice.ID()]; got.DisplayName != "Alice" || got.Score != 1 {
		t.Errorf("alice = %+v, want {Alice 1}", got)
	}
	if got := result.cards[bob.ID()]; got.DisplayName != "Bob" || got.Score != 0 {
		t.Errorf("bob = %+v, want {Bob 0}", got)
	}
}

// A participant that never answers earns zero and the session still
// completes for everyone.
func TestSession_SilentParticipant(t *testing.T) {
	b := bus.NewMemoryBus(bus.DefaultConfig())
	defer b.Close()
	ch := protocol.NewChannel(b)

	cfg := quiz.Config{
		Questions: []quiz.Question{
			{Prompt: "q0", Options: []string{"a", "b"}, Correct: 1},
			{Prompt: "q1", Options: []string{"a", "b"}, Correct: 0},
		},
		RequiredParticipants: 2,
		QuestionTimeLimit:    200 * time.Millisecond,
	}

	coordinator, err := New(cfg, ch, quietLogger())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	sessionID := NewSessionID()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	serverDone := make(chan protocol.ScoreCards, 1)
	go func() {
		cards, err := coordinator.Run(ctx, sessionID)
		if err != nil {
			t.Errorf("coordinator error: %v", err)
		}
		serverDone <- cards
	}()

	sharp := client.New(ch, client.AnswerFunc(func(ctx context.Context) (int, error) {
		return 1, nil // right for q0, wrong for q1
	}), nil, quietLogger())
	silent := client.New(ch, client.AnswerFunc(func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	}), nil, quietLogger())

	clientDone := make(chan error, 2)
	go func() { clientDone <- sharp.Run(ctx, sessionID, "Sharp") }()
	go func() { clientDone <- silent.Run(ctx, sessionID, "Silent") }()

	var cards protocol.ScoreCards
	select {
	case cards = <-serverDone:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for coordinator")
	}

	for i := 0; i < 2; i++ {
		select {
		case err := <-clientDone:
			if err != nil {
				t.Fatalf("participant error: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timeout waiting for participants")
		}
	}

	if got := cards[sharp.ID()].Score; got != 1 {
		t.Errorf("sharp score = %d, want 1", got)
	}
	if got := cards[silent.ID()].Score; got != 0 {
		t.Errorf("silent score = %d, want 0", got)
	}
}
