package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// ANSI SGR codes used by the CLI.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

// diag receives status lines; stdout is kept for data.
var diag io.Writer = os.Stderr

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func mark(color, symbol, format string, args ...any) {
	fmt.Fprintln(diag, colorize(color, symbol+" "+fmt.Sprintf(format, args...)))
}

func printSuccess(format string, args ...any) { mark(colorGreen, "✓", format, args...) }

func printError(format string, args ...any) { mark(colorRed, "✗", format, args...) }

func printWarning(format string, args ...any) { mark(colorYellow, "!", format, args...) }

func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(diag, "  %s %s\n", colorize(colorBold, label+":"), fmt.Sprintf(format, args...))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// truncate flattens newlines and shortens s to n runes for one-line output.
func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
