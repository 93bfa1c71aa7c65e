package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"dmagent/internal/dice"
)

var rollCmd = &cobra.Command{
	Use:   "roll <request>...",
	Short: "Roll dice from a natural-language request",
	Example: `  dmagent roll 2d6 plus 3 for damage
  dmagent roll d20 with advantage for stealth`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		seed, _ := cmd.Flags().GetInt64("seed")

		roller := dice.NewRoller(seed)
		if seed == 0 {
			var err error
			if roller, err = dice.NewRandomRoller(); err != nil {
				return fmt.Errorf("seed dice roller: %w", err)
			}
		}

		expr, parseErr := dice.Parse(strings.Join(args, " "))
		res, err := roller.Roll(expr)
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), dice.Format(expr, res))
		if parseErr != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "note: %v; rolled %s instead\n", parseErr, expr.Notation())
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rollCmd)
	rollCmd.Flags().Int64("seed", 0, "Seed for reproducible rolls (0 picks a random seed)")
}
