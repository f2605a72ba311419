package client

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/quizkit/quizkit/bus"
	"github.com/quizkit/quizkit/logging"
	"github.com/quizkit/quizkit/protocol"
)

func quietLogger() *logging.Logger {
	log := logging.New()
	log.SetOutput(io.Discard)
	return log
}

// lineRecorder is a concurrency-safe output sink for tests.
type lineRecorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *lineRecorder) WriteLine(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, s)
}

func (r *lineRecorder) contains(substr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, line := range r.lines {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

func newTestAgent(t *testing.T, answers AnswerSource) (*Agent, *protocol.Channel, *lineRecorder) {
	t.Helper()
	b := bus.NewMemoryBus(bus.DefaultConfig())
	t.Cleanup(func() { b.Close() })

	ch := protocol.NewChannel(b)
	out := &lineRecorder{}
	return New(ch, answers, out.WriteLine, quietLogger()), ch, out
}

func answerImmediately(index int) AnswerSource {
	return AnswerFunc(func(ctx context.Context) (int, error) {
		return index, nil
	})
}

func answerNever() AnswerSource {
	return AnswerFunc(func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
}

// respondToSearches advertises the given sessions once for each search
// request observed on the discovery topic.
func respondToSearches(t *testing.T, ch *protocol.Channel, sessions ...string) {
	t.Helper()
	sub, err := ch.Subscribe(protocol.DiscoveryTopic, protocol.KindSearchRequest)
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	t.Cleanup(func() { sub.Unsubscribe() })

	go func() {
		for range sub.Messages() {
			for _, id := range sessions {
				ch.Publish(protocol.DiscoveryTopic, protocol.KindSearchReply, protocol.SearchReply{SessionID: id})
			}
		}
	}()
}

// Search must resolve as soon as the requested number of distinct sessions
// has replied, without waiting out the timeout.
func TestSearch_ResolvesEarly(t *testing.T) {
	agent, ch, _ := newTestAgent(t, nil)
	// The duplicate advertisement must collapse into one entry.
	respondToSearches(t, ch, "sess-a", "sess-b", "sess-a")

	start := time.Now()
	sessions, err := agent.Search(context.Background(), SearchOptions{
		NumberOfSessions: 2,
		Timeout:          5 * time.Second,
	})
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}

	if len(sessions) != 2 {
		t.Errorf("sessions = %d, want 2", len(sessions))
	}
	for _, want := range []string{"sess-a", "sess-b"} {
		if _, ok := sessions[want]; !ok {
			t.Errorf("missing session %q", want)
		}
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("search took %s, should resolve well before the timeout", elapsed)
	}
}

// With fewer replies than requested, Search returns the partial set at
// timeout expiry, not an error.
func TestSearch_TimeoutReturnsPartialSet(t *testing.T) {
	agent, ch, _ := newTestAgent(t, nil)
	respondToSearches(t, ch, "sess-a")

	sessions, err := agent.Search(context.Background(), SearchOptions{
		NumberOfSessions: 3,
		Timeout:          150 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}
	if len(sessions) != 1 {
		t.Errorf("sessions = %d, want 1", len(sessions))
	}
	if _, ok := sessions["sess-a"]; !ok {
		t.Error("missing session sess-a")
	}
}

func TestSearch_NoCountWaitsOutTimeout(t *testing.T) {
	agent, ch, _ := newTestAgent(t, nil)
	respondToSearches(t, ch, "sess-a", "sess-b")

	sessions, err := agent.Search(context.Background(), SearchOptions{
		Timeout: 150 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}
	if len(sessions) != 2 {
		t.Errorf("sessions = %d, want 2", len(sessions))
	}
}

// fakeCoordinator acks connect requests (possibly more than once) and then
// runs the given script of session broadcasts.
func fakeCoordinator(t *testing.T, ch *protocol.Channel, sessionID string, acks int, script func()) {
	t.Helper()
	connectSub, err := ch.Subscribe(sessionID, protocol.KindConnectRequest)
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}

	go func() {
		defer connectSub.Unsubscribe()
		msg, ok := <-connectSub.Messages()
		if !ok {
			return
		}
		req, err := protocol.DecodeConnectRequest(msg.Data)
		if err != nil {
			return
		}
		for i := 0; i < acks; i++ {
			ack := protocol.ConnectAck{SessionID: sessionID, ParticipantID: req.ParticipantID}
			ch.Publish(sessionID, protocol.KindConnectAck, ack)
		}
		script()
	}()
}

// A duplicate connect-ack must not make Run resolve twice or fail.
func TestRun_DuplicateAckIsInert(t *testing.T) {
	agent, ch, out := newTestAgent(t, answerImmediately(0))

	cards := protocol.ScoreCards{agent.ID(): {DisplayName: "Alice", Score: 0}}
	fakeCoordinator(t, ch, "sess", 2, func() {
		time.Sleep(50 * time.Millisecond)
		ch.Publish("sess", protocol.KindFinalScores, protocol.FinalScores{ScoreCards: cards})
	})

	done := make(chan error, 1)
	go func() { done <- agent.Run(context.Background(), "sess", "Alice") }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for Run")
	}

	if !out.contains("Quiz finished") {
		t.Errorf("expected final scores rendering, got %v", out.lines)
	}
}

// When the answer source resolves first, the agent submits the answer and
// reports the submission.
func TestRun_SubmitsAnswer(t *testing.T) {
	agent, ch, out := newTestAgent(t, answerImmediately(2))

	answerSub, err := ch.Subscribe("sess", protocol.KindAnswer)
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	defer answerSub.Unsubscribe()

	question := protocol.Question{Index: 0, Prompt: "Capital of France?", Options: []string{"Paris", "London", "Berlin"}}
	cards := protocol.ScoreCards{agent.ID(): {DisplayName: "Alice", Score: 0}}
	fakeCoordinator(t, ch, "sess", 1, func() {
		ch.Publish("sess", protocol.KindQuestion, question)
		time.Sleep(100 * time.Millisecond)
		ch.Publish("sess", protocol.KindRoundFinished, protocol.RoundFinished{})
		ch.Publish("sess", protocol.KindFinalScores, protocol.FinalScores{ScoreCards: cards})
	})

	done := make(chan error, 1)
	go func() { done <- agent.Run(context.Background(), "sess", "Alice") }()

	select {
	case msg := <-answerSub.Messages():
		answer, err := protocol.DecodeAnswer(msg.Data)
		if err != nil {
			t.Fatalf("DecodeAnswer error: %v", err)
		}
		want := protocol.Answer{ParticipantID: agent.ID(), QuestionIndex: 0, AnswerIndex: 2}
		if answer != want {
			t.Errorf("answer = %+v, want %+v", answer, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for answer publish")
	}

	if err := <-done; err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if !out.contains("Answer submitted.") {
		t.Errorf("expected submission confirmation, got %v", out.lines)
	}
	if !out.contains("Question 0: Capital of France?") {
		t.Errorf("expected question rendering, got %v", out.lines)
	}
}

// When the round closes before the answer source resolves, the agent reports
// "time is up" and submits nothing.
func TestRun_TimeUp(t *testing.T) {
	agent, ch, out := newTestAgent(t, answerNever())

	answerSub, err := ch.Subscribe("sess", protocol.KindAnswer)
	if err != nil {
		t.Fatalf("Subscribe error: %v", err)
	}
	defer answerSub.Unsubscribe()

	question := protocol.Question{Index: 0, Prompt: "q", Options: []string{"a", "b"}}
	cards := protocol.ScoreCards{agent.ID(): {DisplayName: "Alice", Score: 0}}
	fakeCoordinator(t, ch, "sess", 1, func() {
		ch.Publish("sess", protocol.KindQuestion, question)
		time.Sleep(100 * time.Millisecond)
		ch.Publish("sess", protocol.KindRoundFinished, protocol.RoundFinished{})
		ch.Publish("sess", protocol.KindFinalScores, protocol.FinalScores{ScoreCards: cards})
	})

	done := make(chan error, 1)
	go func() { done <- agent.Run(context.Background(), "sess", "Alice") }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for Run")
	}

	if !out.contains("Time is up!") {
		t.Errorf("expected time-up report, got %v", out.lines)
	}
	select {
	case msg := <-answerSub.Messages():
		t.Errorf("unexpected answer published: %s", msg.Data)
	default:
	}
}

func TestRun_ContextCancel(t *testing.T) {
	agent, _, _ := newTestAgent(t, answerNever())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- agent.Run(ctx, "sess", "Alice") }()

	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Error("expected error from cancelled Run")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for cancelled Run")
	}
}
