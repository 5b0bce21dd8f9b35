package main

import (
	"fmt"
	"os"
	"strings"
)

// stderrLogger prints pipeline progress to stderr so stdout stays clean
// for machine-readable output. Debug lines only appear in verbose mode.
type stderrLogger struct {
	debug bool
}

func (l *stderrLogger) Debug(msg string, keysAndValues ...any) {
	if l.debug {
		fmt.Fprintln(os.Stderr, formatLogLine("debug", msg, keysAndValues))
	}
}

func (l *stderrLogger) Info(msg string, keysAndValues ...any) {
	fmt.Fprintln(os.Stderr, formatLogLine("info", msg, keysAndValues))
}

func (l *stderrLogger) Warn(msg string, keysAndValues ...any) {
	fmt.Fprintln(os.Stderr, formatLogLine("warn", msg, keysAndValues))
}

func (l *stderrLogger) Error(msg string, keysAndValues ...any) {
	fmt.Fprintln(os.Stderr, formatLogLine("error", msg, keysAndValues))
}

func formatLogLine(level, msg string, keysAndValues []any) string {
	var sb strings.Builder
	sb.WriteString(level)
	sb.WriteString(": ")
	sb.WriteString(msg)

	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fmt.Fprintf(&sb, " %v=%v", keysAndValues[i], keysAndValues[i+1])
	}
	return sb.String()
}
