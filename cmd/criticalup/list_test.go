package main

import (
	"strings"
	"testing"
	"time"

	"github.com/skade/criticalup/internal/state"
)

func TestFormatEntries(t *testing.T) {
	installedAt := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	entries := []state.Entry{
		{
			Product:     "widget",
			Version:     "1.0.0",
			InstallPath: "/opt/criticalup/widget/1.0.0",
			InstalledAt: installedAt,
		},
		{
			Product:     "long-product-name",
			Version:     "10.20.30",
			InstallPath: "/opt/criticalup/long-product-name/10.20.30",
			InstalledAt: installedAt,
		},
	}

	out := formatEntries(entries)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3:\n%s", len(lines), out)
	}

	if !strings.HasPrefix(lines[0], "PRODUCT") {
		t.Errorf("header line = %q", lines[0])
	}
	if !strings.Contains(lines[1], "widget") || !strings.Contains(lines[1], "2026-03-14 09:26:53") {
		t.Errorf("entry line = %q", lines[1])
	}
	if !strings.Contains(lines[2], "long-product-name") {
		t.Errorf("entry line = %q", lines[2])
	}

	// Columns align: the version column starts at the same offset on
	// every line.
	headerIdx := strings.Index(lines[0], "VERSION")
	if idx := strings.Index(lines[1], "1.0.0"); idx != headerIdx {
		t.Errorf("version column misaligned: %d vs %d", idx, headerIdx)
	}
}
