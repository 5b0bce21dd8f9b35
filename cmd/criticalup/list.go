package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/skade/criticalup/internal/state"
)

const durationPrecision = 10 * time.Millisecond

// runList handles the `criticalup list` subcommand.
func runList(args []string) int {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			fmt.Println("Usage: criticalup list")
			return exitOK
		}
	}

	mgr, err := loadManager(false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFailure
	}

	entries, err := mgr.List()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitCodeFor(err)
	}

	if len(entries) == 0 {
		fmt.Println("No products installed.")
		return exitOK
	}

	fmt.Print(formatEntries(entries))
	return exitOK
}

// formatEntries renders the installed products as an aligned table.
func formatEntries(entries []state.Entry) string {
	productWidth := len("PRODUCT")
	versionWidth := len("VERSION")
	for _, entry := range entries {
		if len(entry.Product) > productWidth {
			productWidth = len(entry.Product)
		}
		if len(entry.Version) > versionWidth {
			versionWidth = len(entry.Version)
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%-*s  %-*s  %-20s  %s\n",
		productWidth, "PRODUCT", versionWidth, "VERSION", "INSTALLED", "PATH")
	for _, entry := range entries {
		fmt.Fprintf(&sb, "%-*s  %-*s  %-20s  %s\n",
			productWidth, entry.Product,
			versionWidth, entry.Version,
			entry.InstalledAt.UTC().Format("2006-01-02 15:04:05"),
			entry.InstallPath)
	}
	return sb.String()
}
