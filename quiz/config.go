// Package quiz defines quiz content and session configuration.
//
// A Config is loaded once from a TOML file, validated, and immutable for the
// lifetime of a session. Any validation failure is a configuration error:
// surfaced immediately to the caller, fatal to that run, never retried.
package quiz

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// ErrInvalidConfig wraps every configuration validation failure.
var ErrInvalidConfig = errors.New("invalid quiz configuration")

// Question is one quiz question. Immutable.
type Question struct {
	// Prompt is the question text shown to participants.
	Prompt string `toml:"prompt"`

	// Options are the answer choices, rendered in order.
	Options []string `toml:"options"`

	// Correct is the index into Options of the correct answer.
	Correct int `toml:"correct"`
}

// Config holds the content and parameters of one session.
// Immutable once a session starts.
type Config struct {
	// Questions are asked strictly in order.
	Questions []Question `toml:"questions"`

	// RequiredParticipants is the exact number of participants the
	// coordinator waits for before the quiz starts.
	RequiredParticipants int `toml:"required_participants"`

	// QuestionTimeLimit is the answer window per question.
	QuestionTimeLimit time.Duration `toml:"-"`
}

// rawConfig is the TOML shape: the time limit is written in whole seconds.
type rawConfig struct {
	Questions                []Question `toml:"questions"`
	RequiredParticipants     int        `toml:"required_participants"`
	QuestionTimeLimitSeconds int        `toml:"question_time_limit_seconds"`
}

// Load parses a quiz configuration file. Session parameters absent from the
// file (participant count, time limit) stay zero so the caller can fill them
// in from its own invocation; call Validate before starting a session.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read quiz file: %w", err)
	}

	var raw rawConfig
	if err := toml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, path, err)
	}

	return Config{
		Questions:            raw.Questions,
		RequiredParticipants: raw.RequiredParticipants,
		QuestionTimeLimit:    time.Duration(raw.QuestionTimeLimitSeconds) * time.Second,
	}, nil
}

// Validate checks every invariant a session depends on.
func (c Config) Validate() error {
	if len(c.Questions) == 0 {
		return fmt.Errorf("%w: no questions", ErrInvalidConfig)
	}
	if c.RequiredParticipants <= 0 {
		return fmt.Errorf("%w: required_participants must be positive, got %d", ErrInvalidConfig, c.RequiredParticipants)
	}
	if c.QuestionTimeLimit <= 0 {
		return fmt.Errorf("%w: question time limit must be positive, got %s", ErrInvalidConfig, c.QuestionTimeLimit)
	}

	for i, q := range c.Questions {
		if q.Prompt == "" {
			return fmt.Errorf("%w: question %d has no prompt", ErrInvalidConfig, i)
		}
		if len(q.Options) < 2 {
			return fmt.Errorf("%w: question %d needs at least 2 options, got %d", ErrInvalidConfig, i, len(q.Options))
		}
		if q.Correct < 0 || q.Correct >= len(q.Options) {
			return fmt.Errorf("%w: question %d correct index %d out of range [0,%d)", ErrInvalidConfig, i, q.Correct, len(q.Options))
		}
	}

	return nil
}
