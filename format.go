package main

import (
	"fmt"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// countPrinter renders thousands-separated numbers for human output.
var countPrinter = message.NewPrinter(language.English)

// statusf prints a status message to stderr unless quiet mode is set.
func statusf(format string, args ...any) {
	if !flagQuiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// formatCount returns a thousands-separated member count, e.g. "12,345".
func formatCount(n int64) string {
	return countPrinter.Sprintf("%d", n)
}

// formatNano returns a compact display timestamp for a Unix-nanosecond
// value. Zero renders as "never".
func formatNano(ns int64) string {
	if ns == 0 {
		return "never"
	}

	t := time.Unix(0, ns).Local()
	now := time.Now()

	// Same calendar year: show "Jan  2 15:04"
	if t.Year() == now.Year() {
		return t.Format("Jan _2 15:04")
	}

	return t.Format("Jan _2  2006")
}

// progressToTTY reports whether live progress lines should be drawn.
// Piped output gets plain line-per-update progress instead of carriage
// returns.
func progressToTTY() bool {
	return isatty.IsTerminal(os.Stderr.Fd())
}
