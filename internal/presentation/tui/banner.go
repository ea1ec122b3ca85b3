package tui

import (
	"fmt"
	"io"

	"github.com/muesli/termenv"
)

// PrintBanner writes the bpmn banner to w.
func PrintBanner(w io.Writer, version string) {
	out := termenv.NewOutput(w)
	// Indigo to rose, one shade per line.
	lines := []struct{ text, color string }{
		{"  _                          ", "#818cf8"},
		{" | |__  _ __  _ __ ___  _ __ ", "#a78bfa"},
		{" | '_ \\| '_ \\| '_ ` _ \\| '_ \\", "#c084fc"},
		{" | |_) | |_) | | | | | | | | |", "#e879f9"},
		{" |_.__/| .__/|_| |_| |_|_| |_|", "#f472b6"},
		{"       |_|                    ", "#fb7185"},
	}

	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, out.String(l.text).Foreground(out.Color(l.color)))
	}
	fmt.Fprintln(w, out.String("  process engine "+version).Faint())
	fmt.Fprintln(w)
}
