// Command quizkit runs either role of a bus-coordinated trivia session.
//
//	quizkit serve --quiz questions.toml    start a session and coordinate it
//	quizkit search                         discover advertised sessions
//	quizkit join --session <id> --name me  join a session and play
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/quizkit/quizkit/bus"
	"github.com/quizkit/quizkit/client"
	"github.com/quizkit/quizkit/logging"
	"github.com/quizkit/quizkit/protocol"
	"github.com/quizkit/quizkit/quiz"
	"github.com/quizkit/quizkit/server"
	"github.com/quizkit/quizkit/shutdown"
)

var (
	// Build information. Populated at build-time via -ldflags flag.
	version = "dev"
	commit  = "HEAD"
)

type flags struct {
	natsURL  string
	logLevel string
}

func main() {
	var (
		f   flags
		log = logging.New()
	)

	app := &cli.Command{
		Name:      "quizkit",
		Usage:     "Run multiplayer trivia sessions over a message bus",
		UsageText: "quizkit [global options] command [command options]",
		Description: `Quizkit coordinates trivia sessions entirely through publish/subscribe
messaging: one serving process advertises a session, participants discover
and join it, and every question round runs against a shared deadline.`,
		Version: fmt.Sprintf("%s (%s)", version, commit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "nats-url",
				Usage:       "NATS server URL",
				Sources:     cli.EnvVars("QUIZKIT_NATS_URL"),
				Value:       "nats://localhost:4222",
				Destination: &f.natsURL,
			},
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error)",
				Sources:     cli.EnvVars("QUIZKIT_LOG_LEVEL"),
				Value:       "info",
				Destination: &f.logLevel,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			log.SetLevel(logging.ParseLevel(f.logLevel))
			return ctx, nil
		},
		Commands: []*cli.Command{
			serveCommand(&f, log),
			searchCommand(&f, log),
			joinCommand(&f, log),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// connectBus dials NATS with the process name for identification.
func connectBus(f *flags, name string) (*bus.NATSBus, error) {
	cfg := bus.DefaultNATSConfig()
	cfg.URL = f.natsURL
	cfg.Name = name
	return bus.NewNATSBus(cfg)
}

func serveCommand(f *flags, log *logging.Logger) *cli.Command {
	var (
		quizPath     string
		participants int
		timeLimit    time.Duration
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Start a session and coordinate it to completion",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "quiz",
				Usage:       "path to the quiz content file (TOML)",
				Required:    true,
				Destination: &quizPath,
			},
			&cli.IntFlag{
				Name:        "participants",
				Usage:       "number of participants to wait for (file value wins if set)",
				Value:       2,
				Destination: &participants,
			},
			&cli.DurationFlag{
				Name:        "time-limit",
				Usage:       "answer window per question (file value wins if set)",
				Value:       30 * time.Second,
				Destination: &timeLimit,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := quiz.Load(quizPath)
			if err != nil {
				return err
			}
			if cfg.RequiredParticipants == 0 {
				cfg.RequiredParticipants = participants
			}
			if cfg.QuestionTimeLimit == 0 {
				cfg.QuestionTimeLimit = timeLimit
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			natsBus, err := connectBus(f, "quizkit-serve")
			if err != nil {
				return err
			}

			runCtx, cancel := context.WithCancel(ctx)
			defer cancel()

			down := shutdown.NewCoordinator(10 * time.Second)
			down.RegisterFunc("cancel session", func(context.Context) error {
				cancel()
				return nil
			})
			down.RegisterWithPhase("close bus", shutdown.Func(func(context.Context) error {
				return natsBus.Close()
			}), 1)
			down.HandleSignals()
			defer down.ShutdownWithTimeout(0)

			coordinator, err := server.New(cfg, protocol.NewChannel(natsBus), log)
			if err != nil {
				return err
			}

			sessionID := server.NewSessionID()
			fmt.Printf("Session ID: %s\n", sessionID)
			fmt.Printf("Waiting for %d participant(s)...\n", cfg.RequiredParticipants)

			cards, err := coordinator.Run(runCtx, sessionID)
			if err != nil {
				return err
			}

			fmt.Println("Final scores:")
			for id, card := range cards {
				fmt.Printf("[%s] %s: %d points\n", id, card.DisplayName, card.Score)
			}
			return nil
		},
	}
}

func searchCommand(f *flags, log *logging.Logger) *cli.Command {
	var (
		timeout time.Duration
		count   int
	)

	return &cli.Command{
		Name:  "search",
		Usage: "Discover advertised sessions",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:        "timeout",
				Usage:       "how long to wait for replies",
				Value:       client.DefaultSearchTimeout,
				Destination: &timeout,
			},
			&cli.IntFlag{
				Name:        "count",
				Usage:       "stop after this many sessions (0 = wait out the timeout)",
				Destination: &count,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			natsBus, err := connectBus(f, "quizkit-search")
			if err != nil {
				return err
			}
			defer natsBus.Close()

			agent := client.New(protocol.NewChannel(natsBus), nil, client.LineWriter(os.Stdout), log)
			sessions, err := agent.Search(ctx, client.SearchOptions{
				NumberOfSessions: count,
				Timeout:          timeout,
			})
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Println("No sessions found.")
			}
			return nil
		},
	}
}

func joinCommand(f *flags, log *logging.Logger) *cli.Command {
	var (
		sessionID   string
		displayName string
	)

	return &cli.Command{
		Name:  "join",
		Usage: "Join a session and play it to completion",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "session",
				Usage:       "session identifier to join",
				Required:    true,
				Destination: &sessionID,
			},
			&cli.StringFlag{
				Name:        "name",
				Usage:       "display name shown on the score table",
				Required:    true,
				Destination: &displayName,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			natsBus, err := connectBus(f, "quizkit-join")
			if err != nil {
				return err
			}

			runCtx, cancel := context.WithCancel(ctx)
			defer cancel()

			down := shutdown.NewCoordinator(10 * time.Second)
			down.RegisterFunc("cancel session", func(context.Context) error {
				cancel()
				return nil
			})
			down.RegisterWithPhase("close bus", shutdown.Func(func(context.Context) error {
				return natsBus.Close()
			}), 1)
			down.HandleSignals()
			defer down.ShutdownWithTimeout(0)

			agent := client.New(
				protocol.NewChannel(natsBus),
				stdinAnswers(os.Stdin),
				client.LineWriter(os.Stdout),
				log,
			)
			return agent.Run(runCtx, sessionID, displayName)
		},
	}
}

// stdinAnswers reads option numbers, one per line, from the given reader.
// A single goroutine owns the reader so an answer abandoned by a closed
// round cannot swallow the next round's input mid-read.
func stdinAnswers(r *os.File) client.AnswerSource {
	lines := make(chan int)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			text := strings.TrimSpace(scanner.Text())
			index, err := strconv.Atoi(text)
			if err != nil {
				fmt.Printf("Not a number: %q\n", text)
				continue
			}
			lines <- index
		}
	}()

	return client.AnswerFunc(func(ctx context.Context) (int, error) {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case index, ok := <-lines:
			if !ok {
				return 0, fmt.Errorf("input closed")
			}
			return index, nil
		}
	})
}
