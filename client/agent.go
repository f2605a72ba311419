// Package client implements the participating role of a quiz session.
//
// An Agent discovers sessions advertised by a coordinator, joins one, answers
// questions as prompted by an injected answer source, and renders progress
// and final standings through an injected output sink. Its only side effects
// are bus publishes, bus subscriptions, and output-sink writes.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/quizkit/quizkit/bus"
	"github.com/quizkit/quizkit/logging"
	"github.com/quizkit/quizkit/protocol"
)

// DefaultSearchTimeout bounds a Search whose options carry no timeout.
const DefaultSearchTimeout = 5 * time.Second

// AnswerSource supplies the participant's answer to the current question.
// NextAnswer blocks until an answer index is available or ctx is cancelled;
// the agent cancels ctx when the round closes before an answer arrives.
type AnswerSource interface {
	NextAnswer(ctx context.Context) (int, error)
}

// AnswerFunc is a convenience adapter for plain functions.
type AnswerFunc func(ctx context.Context) (int, error)

// NextAnswer implements AnswerSource.
func (f AnswerFunc) NextAnswer(ctx context.Context) (int, error) {
	return f(ctx)
}

// WriteLine is the agent's output sink: one rendered line per call.
type WriteLine func(string)

// LineWriter adapts an io.Writer into a WriteLine sink.
func LineWriter(w io.Writer) WriteLine {
	return func(s string) {
		fmt.Fprintln(w, s)
	}
}

// SearchOptions controls a session search.
type SearchOptions struct {
	// NumberOfSessions stops the search early once this many distinct
	// sessions have replied. Zero means collect until the timeout.
	NumberOfSessions int

	// Timeout bounds the search. Zero means DefaultSearchTimeout.
	Timeout time.Duration
}

// Agent is one participant. Its identifier is generated at construction and
// stable for the agent's lifetime; it attributes every answer and score.
type Agent struct {
	id      string
	ch      *protocol.Channel
	answers AnswerSource
	out     WriteLine
	log     *logging.Logger
}

// New creates a participant agent with a fresh identifier.
func New(ch *protocol.Channel, answers AnswerSource, out WriteLine, log *logging.Logger) *Agent {
	if out == nil {
		out = func(string) {}
	}
	if log == nil {
		log = logging.New()
	}
	return &Agent{
		id:      uuid.NewString(),
		ch:      ch,
		answers: answers,
		out:     out,
		log:     log.WithComponent("participant"),
	}
}

// ID returns the agent's participant identifier.
func (a *Agent) ID() string {
	return a.id
}

// Search broadcasts a discovery request and collects distinct session
// identifiers from replies. It resolves when the requested count is reached
// or the timeout elapses, whichever comes first; timeout yields the partial
// set collected so far, not an error.
func (a *Agent) Search(ctx context.Context, opts SearchOptions) (map[string]struct{}, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultSearchTimeout
	}

	replySub, err := a.ch.Subscribe(protocol.DiscoveryTopic, protocol.KindSearchReply)
	if err != nil {
		return nil, err
	}
	defer replySub.Unsubscribe()

	a.out("Searching for sessions...")
	req := protocol.SearchRequest{ParticipantID: a.id}
	if err := a.ch.Publish(protocol.DiscoveryTopic, protocol.KindSearchRequest, req); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	sessions := make(map[string]struct{})
	for {
		select {
		case <-ctx.Done():
			return sessions, ctx.Err()

		case msg, ok := <-replySub.Messages():
			if !ok {
				return sessions, bus.ErrClosed
			}
			reply, err := protocol.DecodeSearchReply(msg.Data)
			if err != nil {
				a.log.Warn("dropping malformed search reply", map[string]any{"error": err})
				continue
			}
			if _, seen := sessions[reply.SessionID]; !seen {
				sessions[reply.SessionID] = struct{}{}
				a.out(reply.SessionID)
			}
			if opts.NumberOfSessions > 0 && len(sessions) == opts.NumberOfSessions {
				return sessions, nil
			}

		case <-timer.C:
			// Partial results are a normal outcome, not an error.
			return sessions, nil
		}
	}
}

// Run joins a session and participates until final scores arrive. The
// connect-ack wait and the quiz-handling routine run concurrently with the
// connect-request publish; Run returns once both complete. All subscriptions
// are attached before the connect request goes out, so no broadcast between
// connect and the first question can be missed.
func (a *Agent) Run(ctx context.Context, sessionID, displayName string) error {
	ackSub, err := a.ch.Subscribe(sessionID, protocol.KindConnectAck)
	if err != nil {
		return err
	}
	defer ackSub.Unsubscribe()

	questionSub, err := a.ch.Subscribe(sessionID, protocol.KindQuestion)
	if err != nil {
		return err
	}
	defer questionSub.Unsubscribe()

	scoresSub, err := a.ch.Subscribe(sessionID, protocol.KindFinalScores)
	if err != nil {
		return err
	}
	defer scoresSub.Unsubscribe()

	ackDone := make(chan error, 1)
	quizDone := make(chan error, 1)

	go func() { ackDone <- a.awaitAck(ctx, ackSub) }()
	go func() { quizDone <- a.handleQuiz(ctx, sessionID, questionSub, scoresSub) }()

	req := protocol.ConnectRequest{ParticipantID: a.id, DisplayName: displayName}
	if err := a.ch.Publish(sessionID, protocol.KindConnectRequest, req); err != nil {
		return err
	}
	a.log.Info("connect request sent", map[string]any{"session": sessionID, "name": displayName})

	for _, done := range []chan error{ackDone, quizDone} {
		if err := <-done; err != nil {
			return err
		}
	}
	return nil
}

// awaitAck resolves on the first connect-ack observed on the session topic.
// It resolves exactly once, so duplicate acks are inert.
func (a *Agent) awaitAck(ctx context.Context, ackSub bus.Subscription) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case msg, ok := <-ackSub.Messages():
		if !ok {
			return bus.ErrClosed
		}
		ack, err := protocol.DecodeConnectAck(msg.Data)
		if err != nil {
			return err
		}
		a.log.Info("connected to session", map[string]any{"session": ack.SessionID})
		return nil
	}
}

// handleQuiz answers every question broadcast until the final scores arrive,
// then renders the standings and returns.
func (a *Agent) handleQuiz(ctx context.Context, sessionID string, questionSub, scoresSub bus.Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case msg, ok := <-questionSub.Messages():
			if !ok {
				return bus.ErrClosed
			}
			question, err := protocol.DecodeQuestion(msg.Data)
			if err != nil {
				a.log.Warn("dropping malformed question", map[string]any{"error": err})
				continue
			}
			if err := a.handleQuestion(ctx, sessionID, question); err != nil {
				return err
			}

		case msg, ok := <-scoresSub.Messages():
			if !ok {
				return bus.ErrClosed
			}
			final, err := protocol.DecodeFinalScores(msg.Data)
			if err != nil {
				return err
			}
			a.renderScores(final.ScoreCards)
			return nil
		}
	}
}

// handleQuestion races the answer source against the round-finished signal.
// Exactly one branch is acted on; the loser is released: the finished
// subscription is unsubscribed on every exit path, and a pending answer read
// is cancelled through the per-round context.
func (a *Agent) handleQuestion(ctx context.Context, sessionID string, question protocol.Question) error {
	finishedSub, err := a.ch.Subscribe(sessionID, protocol.KindRoundFinished)
	if err != nil {
		return err
	}
	defer finishedSub.Unsubscribe()

	a.out(fmt.Sprintf("Question %d: %s", question.Index, question.Prompt))
	for i, option := range question.Options {
		a.out(fmt.Sprintf("  %d. %s", i, option))
	}

	roundCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	answerCh := make(chan int, 1)
	go func() {
		index, err := a.answers.NextAnswer(roundCtx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				a.log.Warn("answer source failed", map[string]any{"error": err})
			}
			return
		}
		answerCh <- index
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()

	case index := <-answerCh:
		answer := protocol.Answer{ParticipantID: a.id, QuestionIndex: question.Index, AnswerIndex: index}
		if err := a.ch.Publish(sessionID, protocol.KindAnswer, answer); err != nil {
			return err
		}
		a.out("Answer submitted.")

	case _, ok := <-finishedSub.Messages():
		if !ok {
			return bus.ErrClosed
		}
		a.out("Time is up!")
	}

	return nil
}

// renderScores writes every participant's standing in the order the decoded
// score table yields them; the agent applies no sorting of its own.
func (a *Agent) renderScores(cards protocol.ScoreCards) {
	a.out("Quiz finished, here are the scores:")
	for id, card := range cards {
		a.out(fmt.Sprintf("[%s] %s: %d points", id, card.DisplayName, card.Score))
	}
}
