package main

import (
	"fmt"

	"github.com/charmbracelet/glamour"
	"github.com/muesli/termenv"

	"dmagent/internal/core"
)

// newRenderer renders assistant markdown for the terminal, falling back to
// the raw text when glamour cannot.
func newRenderer(logger core.Logger) func(string) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		logger.Warn("markdown renderer unavailable", "error", err)
		return nil
	}

	return func(markdown string) string {
		out, err := r.Render(markdown)
		if err != nil {
			return markdown
		}
		return out
	}
}

func printBanner() {
	p := termenv.ColorProfile()
	title := termenv.String("  ⚔️  dmagent").Foreground(p.Color("#f59e0b")).Bold()
	sub := termenv.String("  a table assistant for D&D 5e").Foreground(p.Color("#a78bfa"))

	fmt.Println()
	fmt.Println(title)
	fmt.Println(sub)
	fmt.Println()
}
