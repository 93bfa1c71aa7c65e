package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"dmagent/internal/core"
	"dmagent/internal/repository"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive session",
	Long: `Reads one message per line and prints the assistant's replies.
Type 'quit' or 'exit' to leave. Use --session to resume a stored session.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		d, err := a.dispatcher(ctx)
		if err != nil {
			return err
		}

		store := a.sessionStore()
		sessionID, _ := cmd.Flags().GetString("session")

		if fs, ok := store.(*repository.FileSessionStore); ok && sessionID != "" {
			lock, err := fs.Lock(sessionID, "dmagent chat")
			if err != nil {
				return err
			}
			defer func() {
				if err := lock.Release(); err != nil {
					a.logger.Warn("release session lock failed", "session_id", sessionID, "error", err)
				}
			}()
		}

		state, err := openSession(ctx, store, sessionID)
		if err != nil {
			return err
		}

		interactive := term.IsTerminal(int(os.Stdout.Fd()))
		if interactive {
			printBanner()
		}
		fmt.Printf("Session %s\n", state.ID)

		session := core.NewCLISession(d, state)
		session.Store = store
		session.EndOnTerminal = a.cfg.Session.EndOnTerminal
		session.Logger = a.logger
		if interactive {
			session.Render = newRenderer(a.logger)
		}

		if err := session.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

// openSession resumes id when it is stored, starts it fresh when it is not,
// and mints a new session when id is empty.
func openSession(ctx context.Context, store repository.SessionStore, id string) (*core.SessionState, error) {
	if id == "" {
		return core.NewSession()
	}
	if err := repository.ValidateSessionID(id); err != nil {
		return nil, err
	}

	state, err := store.Load(ctx, id)
	switch {
	case err == nil:
		return state, nil
	case errors.Is(err, repository.ErrSessionNotFound):
		fresh := core.NewSessionState()
		fresh.ID = id
		return fresh, nil
	default:
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringP("session", "s", "", "Session ID to resume or create")
}
