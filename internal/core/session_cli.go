package core

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"dmagent/pkg/schema"
)

// SessionSaver persists a session after each turn.
type SessionSaver interface {
	Save(ctx context.Context, state *SessionState) error
}

// CLISession manages an interactive CLI session.
type CLISession struct {
	State         *SessionState
	Dispatcher    *Dispatcher
	Store         SessionSaver        // optional
	Render        func(string) string // optional, formats assistant output
	EndOnTerminal bool

	In     io.Reader
	Out    io.Writer
	Logger Logger
}

// NewCLISession creates a session reading stdin and writing stdout.
func NewCLISession(d *Dispatcher, state *SessionState) *CLISession {
	if state == nil {
		state = NewSessionState()
	}
	return &CLISession{
		State:         state,
		Dispatcher:    d,
		EndOnTerminal: true,
		In:            os.Stdin,
		Out:           os.Stdout,
		Logger:        NewNopLogger(),
	}
}

// IsExitCommand reports whether input is one of the session-ending sentinels.
func IsExitCommand(input string) bool {
	input = strings.TrimSpace(input)
	return strings.EqualFold(input, "quit") || strings.EqualFold(input, "exit")
}

// Run executes the interactive session loop until an exit sentinel, end of
// input, or (with EndOnTerminal) a completed turn.
func (s *CLISession) Run(ctx context.Context) error {
	reader := bufio.NewReader(s.In)

	for {
		fmt.Fprint(s.Out, "\n🎲 Ask a D&D question (or type 'quit' to exit): ")

		line, readErr := reader.ReadString('\n')
		input := strings.TrimSpace(line)
		if readErr != nil && input == "" {
			if errors.Is(readErr, io.EOF) {
				fmt.Fprintln(s.Out, "\n👋 Goodbye!")
				return nil
			}
			return fmt.Errorf("read input: %w", readErr)
		}

		if IsExitCommand(input) {
			fmt.Fprintln(s.Out, "👋 Goodbye!")
			return nil
		}
		if input == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		done := s.turn(ctx, input)
		if done {
			fmt.Fprintln(s.Out, "\n🔚 Session complete.")
			return nil
		}
		if readErr != nil {
			fmt.Fprintln(s.Out, "\n👋 Goodbye!")
			return nil
		}
	}
}

// turn runs one user turn and reports whether the session should end.
func (s *CLISession) turn(ctx context.Context, input string) bool {
	next, res := s.Dispatcher.RunTurn(ctx, s.State, input)

	for _, msg := range res.NewMessages {
		s.display(msg)
	}

	if res.Err != nil {
		var missing *MissingStateKeyError
		if errors.As(res.Err, &missing) {
			fmt.Fprintf(s.Out, "❌ Missing key: %s\n", missing.Key)
			if next == s.State {
				fmt.Fprintln(s.Out, "   Starting a fresh session.")
				next = s.freshState()
			}
		} else {
			fmt.Fprintf(s.Out, "⚠️  %v\n", res.Err)
		}
	}
	if res.Outcome == TurnHopLimit {
		s.Logger.Warn("turn stopped at hop limit",
			"session_id", next.ID,
			"hops", res.Hops,
			"max_hops", s.Dispatcher.MaxHops(),
		)
	}

	s.State = next
	s.save(ctx)

	return s.EndOnTerminal &&
		res.Outcome == TurnCompleted &&
		next.RoutingTarget == schema.TargetTerminal
}

func (s *CLISession) display(msg schema.Message) {
	content := msg.Content
	if s.Render != nil {
		content = s.Render(content)
	}
	fmt.Fprintf(s.Out, "\n%s\n", strings.TrimRight(content, "\n"))
}

func (s *CLISession) save(ctx context.Context) {
	if s.Store == nil {
		return
	}
	if err := s.Store.Save(ctx, s.State); err != nil {
		s.Logger.Warn("failed to save session", "session_id", s.State.ID, "error", err)
		fmt.Fprintf(s.Out, "⚠️  Failed to save session: %v\n", err)
	}
}

func (s *CLISession) freshState() *SessionState {
	fresh := NewSessionState()
	if s.State != nil {
		fresh.ID = s.State.ID
	}
	return fresh
}
