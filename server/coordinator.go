// Package server implements the coordinating role of a quiz session.
//
// A Coordinator owns exactly one session: it advertises the session to
// searching participants, registers connecting participants until the
// configured count is reached, runs every question round against a deadline,
// and broadcasts the final score table. All coordination happens through
// broadcast messages on shared topics; the coordinator never addresses an
// individual participant.
package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/quizkit/quizkit/logging"
	"github.com/quizkit/quizkit/protocol"
	"github.com/quizkit/quizkit/quiz"
)

// ErrInsufficientParticipants is raised when the quiz loop is started with a
// participant count that does not match the configured requirement. The Run
// sequence makes this unreachable: discovery blocks until the count is met.
// It is a defensive invariant, not an expected failure path.
var ErrInsufficientParticipants = errors.New("insufficient participants")

// Participant is the coordinator's record of one connected participant.
// Records are created on connect-request receipt and never removed: a
// participant that goes silent simply scores zero on unanswered questions.
type Participant struct {
	ID   string
	Name string
}

// Coordinator runs one quiz session from empty to final scores.
type Coordinator struct {
	cfg quiz.Config
	ch  *protocol.Channel
	log *logging.Logger
}

// New creates a coordinator for a validated quiz configuration.
func New(cfg quiz.Config, ch *protocol.Channel, log *logging.Logger) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.New()
	}
	return &Coordinator{
		cfg: cfg,
		ch:  ch,
		log: log.WithComponent("coordinator"),
	}, nil
}

// NewSessionID generates a fresh session identifier. Identifiers are never
// reused; each names exactly one session for its whole lifetime.
func NewSessionID() string {
	return uuid.NewString()
}

// Run drives the whole session: discovery and connection, the question
// rounds, and the final score broadcast. It blocks until the session is
// complete or ctx is cancelled, and returns the final score cards.
func (c *Coordinator) Run(ctx context.Context, sessionID string) (protocol.ScoreCards, error) {
	c.log.Info("session starting", map[string]any{"session": sessionID})

	participants, err := c.discoverAndConnect(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	cards, err := c.runQuiz(ctx, sessionID, participants)
	if err != nil {
		return nil, err
	}

	if err := c.sendScores(sessionID, cards); err != nil {
		return nil, err
	}

	c.log.Info("session finished", map[string]any{"session": sessionID})
	return cards, nil
}

// discoverAndConnect services the discovery and connection phase until the
// required number of distinct participants has registered.
//
// Every search request gets a reply advertising this session; requesters are
// not deduplicated. Every connect request registers the participant (a
// repeated id overwrites the prior record) and is acknowledged immediately
// with a broadcast connect-ack. There is no timeout on this phase: with too
// few participants it blocks until ctx is cancelled.
//
// Both subscriptions are serviced by this single goroutine, so registration
// updates need no locking.
func (c *Coordinator) discoverAndConnect(ctx context.Context, sessionID string) (map[string]Participant, error) {
	searchSub, err := c.ch.Subscribe(protocol.DiscoveryTopic, protocol.KindSearchRequest)
	if err != nil {
		return nil, err
	}
	defer searchSub.Unsubscribe()

	connectSub, err := c.ch.Subscribe(sessionID, protocol.KindConnectRequest)
	if err != nil {
		return nil, err
	}
	defer connectSub.Unsubscribe()

	participants := make(map[string]Participant)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case msg, ok := <-searchSub.Messages():
			if !ok {
				return nil, fmt.Errorf("discovery subscription closed")
			}
			req, err := protocol.DecodeSearchRequest(msg.Data)
			if err != nil {
				c.log.Warn("dropping malformed search request", map[string]any{"error": err})
				continue
			}
			c.log.Debug("replying to search", map[string]any{"requester": req.ParticipantID})
			reply := protocol.SearchReply{SessionID: sessionID}
			if err := c.ch.Publish(protocol.DiscoveryTopic, protocol.KindSearchReply, reply); err != nil {
				return nil, err
			}

		case msg, ok := <-connectSub.Messages():
			if !ok {
				return nil, fmt.Errorf("connect subscription closed")
			}
			req, err := protocol.DecodeConnectRequest(msg.Data)
			if err != nil {
				c.log.Warn("dropping malformed connect request", map[string]any{"error": err})
				continue
			}

			participants[req.ParticipantID] = Participant{ID: req.ParticipantID, Name: req.DisplayName}
			ack := protocol.ConnectAck{SessionID: sessionID, ParticipantID: req.ParticipantID}
			if err := c.ch.Publish(sessionID, protocol.KindConnectAck, ack); err != nil {
				return nil, err
			}
			c.log.Info("participant connected", map[string]any{
				"participant": req.ParticipantID,
				"name":        req.DisplayName,
				"connected":   len(participants),
				"required":    c.cfg.RequiredParticipants,
			})

			if len(participants) == c.cfg.RequiredParticipants {
				return participants, nil
			}
		}
	}
}

// runQuiz processes every question strictly in sequence: round i blocks
// until fully complete before round i+1 starts.
func (c *Coordinator) runQuiz(ctx context.Context, sessionID string, participants map[string]Participant) (protocol.ScoreCards, error) {
	if len(participants) != c.cfg.RequiredParticipants {
		return nil, fmt.Errorf("%w: have %d, need %d",
			ErrInsufficientParticipants, len(participants), c.cfg.RequiredParticipants)
	}

	scores := make(protocol.ScoreCards, len(participants))
	for id, p := range participants {
		scores[id] = protocol.ScoreCard{DisplayName: p.Name, Score: 0}
	}

	finished := make(map[int]struct{}, len(c.cfg.Questions))
	for index := range c.cfg.Questions {
		if err := c.runRound(ctx, sessionID, index, scores, finished); err != nil {
			return nil, err
		}
	}

	return scores, nil
}

// runRound runs one question's lifecycle: subscribe for answers, broadcast
// the question, score answers until the deadline fires, then close the
// round. The answer subscription is released before the round-finished
// broadcast, so no answer accepted after the broadcast can score.
func (c *Coordinator) runRound(ctx context.Context, sessionID string, index int, scores protocol.ScoreCards, finished map[int]struct{}) error {
	answerSub, err := c.ch.Subscribe(sessionID, protocol.KindAnswer)
	if err != nil {
		return err
	}

	question := c.cfg.Questions[index]
	broadcast := protocol.Question{Index: index, Prompt: question.Prompt, Options: question.Options}
	if err := c.ch.Publish(sessionID, protocol.KindQuestion, broadcast); err != nil {
		answerSub.Unsubscribe()
		return err
	}
	c.log.Info("question sent", map[string]any{"index": index})

	timer := time.NewTimer(c.cfg.QuestionTimeLimit)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			answerSub.Unsubscribe()
			return ctx.Err()

		case msg, ok := <-answerSub.Messages():
			if !ok {
				return fmt.Errorf("answer subscription closed")
			}
			answer, err := protocol.DecodeAnswer(msg.Data)
			if err != nil {
				c.log.Warn("dropping malformed answer", map[string]any{"error": err})
				continue
			}
			c.scoreAnswer(answer, index, scores, finished)

		case <-timer.C:
			// Unsubscribe before broadcasting: nothing received after the
			// round-finished signal can score.
			answerSub.Unsubscribe()
			finished[index] = struct{}{}
			if err := c.ch.Publish(sessionID, protocol.KindRoundFinished, protocol.RoundFinished{}); err != nil {
				return err
			}
			c.log.Info("round finished", map[string]any{"index": index})
			return nil
		}
	}
}

// scoreAnswer awards one point for a correct answer to the current, not yet
// finished question from a registered participant.
//
// There is deliberately no duplicate guard: a second matching submission
// from the same participant within the window increments the score again.
func (c *Coordinator) scoreAnswer(answer protocol.Answer, current int, scores protocol.ScoreCards, finished map[int]struct{}) {
	c.log.Debug("answer received", map[string]any{
		"participant": answer.ParticipantID,
		"question":    answer.QuestionIndex,
		"answer":      answer.AnswerIndex,
	})

	if answer.QuestionIndex != current {
		return
	}
	if _, done := finished[answer.QuestionIndex]; done {
		return
	}

	card, registered := scores[answer.ParticipantID]
	if !registered {
		c.log.Warn("answer from unregistered participant", map[string]any{"participant": answer.ParticipantID})
		return
	}

	if answer.AnswerIndex == c.cfg.Questions[answer.QuestionIndex].Correct {
		card.Score++
		scores[answer.ParticipantID] = card
	}
}

// sendScores broadcasts the final score table. Fire-and-forget: no delivery
// confirmation is awaited.
func (c *Coordinator) sendScores(sessionID string, cards protocol.ScoreCards) error {
	if err := c.ch.Publish(sessionID, protocol.KindFinalScores, protocol.FinalScores{ScoreCards: cards}); err != nil {
		return err
	}
	c.log.Info("scores sent", map[string]any{"participants": len(cards)})
	return nil
}
