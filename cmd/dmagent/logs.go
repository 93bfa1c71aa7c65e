package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show recent interaction records",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		sink := a.interactionLog()
		if sink == nil {
			return fmt.Errorf("interaction logging is disabled (storage.interaction_backend is none)")
		}

		recs, err := sink.Recent(cmd.Context(), limit)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if asJSON {
			enc := json.NewEncoder(out)
			for _, rec := range recs {
				if err := enc.Encode(rec); err != nil {
					return err
				}
			}
			return nil
		}

		if len(recs) == 0 {
			fmt.Fprintln(out, "No interactions recorded.")
			return nil
		}
		for _, rec := range recs {
			fmt.Fprintf(out, "%s  %-14s %-16s %s\n",
				rec.Timestamp.Local().Format("2006-01-02 15:04:05"),
				rec.Component,
				rec.SessionID,
				truncate(rec.Query, 60),
			)
		}
		return nil
	},
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func init() {
	rootCmd.AddCommand(logsCmd)
	logsCmd.Flags().IntP("limit", "n", 20, "Number of records to show")
	logsCmd.Flags().Bool("json", false, "Print records as JSON lines")
}
