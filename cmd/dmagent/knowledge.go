package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var knowledgeCmd = &cobra.Command{
	Use:   "knowledge",
	Short: "Manage the rulebook index used to answer rules questions",
}

var knowledgeLoadCmd = &cobra.Command{
	Use:   "load <dir>",
	Short: "Index every markdown and text file under a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		idx, err := a.knowledgeIndex()
		if err != nil {
			return err
		}
		res, err := idx.LoadDir(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d files (%d chunks) into %s\n", res.Files, res.Chunks, a.cfg.Knowledge.DBPath)
		return nil
	},
}

var knowledgeLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List indexed sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		idx, err := a.knowledgeIndex()
		if err != nil {
			return err
		}
		sources, err := idx.Sources(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(sources) == 0 {
			fmt.Fprintln(out, "No sources indexed.")
			return nil
		}
		for _, s := range sources {
			fmt.Fprintf(out, "%-40s %5d chunks  %s\n", s.Name, s.Chunks, s.IndexedAt.Local().Format("2006-01-02 15:04"))
		}
		return nil
	},
}

var knowledgeRmCmd = &cobra.Command{
	Use:   "rm <source>...",
	Short: "Remove sources from the index",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		idx, err := a.knowledgeIndex()
		if err != nil {
			return err
		}
		for _, source := range args {
			if err := idx.Remove(cmd.Context(), source); err != nil {
				return fmt.Errorf("remove %s: %w", source, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", source)
		}
		return nil
	},
}

var knowledgeSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Show the excerpts a rules question would retrieve",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		idx, err := a.knowledgeIndex()
		if err != nil {
			return err
		}
		text, err := idx.Retrieve(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if text == "" {
			fmt.Fprintln(cmd.OutOrStdout(), "No matching excerpts.")
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), text)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(knowledgeCmd)
	knowledgeCmd.AddCommand(knowledgeLoadCmd, knowledgeLsCmd, knowledgeRmCmd, knowledgeSearchCmd)
}
