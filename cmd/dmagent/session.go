package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage stored sessions",
	Long:  `List, inspect and remove sessions kept by the configured session backend.`,
}

var sessionLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List stored sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		infos, err := a.sessionStore().List(cmd.Context())
		if err != nil {
			return fmt.Errorf("list sessions: %w", err)
		}

		out := cmd.OutOrStdout()
		if len(infos) == 0 {
			fmt.Fprintln(out, "No sessions found.")
			return nil
		}
		for _, info := range infos {
			fmt.Fprintf(out, "%-20s %4d messages  %s\n", info.ID, info.Messages, info.UpdatedAt.Local().Format("2006-01-02 15:04"))
		}
		return nil
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Print a session as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		state, err := a.sessionStore().Load(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("load session %s: %w", args[0], err)
		}

		data, err := json.MarshalIndent(state, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

var sessionRmCmd = &cobra.Command{
	Use:   "rm <session-id>...",
	Short: "Remove one or more sessions",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		store := a.sessionStore()
		var failed int
		for _, id := range args {
			if err := store.Delete(cmd.Context(), id); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Error removing %s: %v\n", id, err)
				failed++
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed session %s\n", id)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d sessions could not be removed", failed, len(args))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sessionCmd)
	sessionCmd.AddCommand(sessionLsCmd, sessionShowCmd, sessionRmCmd)
}
