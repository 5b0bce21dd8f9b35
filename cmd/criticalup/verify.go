package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/skade/criticalup/internal/manifest"
)

// runVerify handles the `criticalup verify` subcommand: it runs trust
// evaluation on a local manifest file without installing anything.
func runVerify(args []string) int {
	var positional []string
	for _, arg := range args {
		switch arg {
		case "--help", "-h":
			fmt.Println("Usage: criticalup verify <manifest.json>")
			return exitOK
		default:
			positional = append(positional, arg)
		}
	}

	if len(positional) != 1 {
		fmt.Fprintln(os.Stderr, "Error: verify requires a manifest file")
		fmt.Fprintln(os.Stderr, "Usage: criticalup verify <manifest.json>")
		return exitUsage
	}

	data, err := os.ReadFile(positional[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: read manifest: %v\n", err)
		return exitFailure
	}

	var doc manifest.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		fmt.Fprintf(os.Stderr, "Error: parse manifest: %v\n", err)
		return exitFailure
	}

	mgr, err := loadManager(false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFailure
	}

	verdict, err := mgr.VerifyManifest(&doc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitCodeFor(err)
	}

	fmt.Print(formatVerdict(verdict))
	if !verdict.Trusted() {
		return exitTrust
	}
	return exitOK
}

// formatVerdict renders an evaluation verdict for human consumption.
func formatVerdict(v manifest.Verdict) string {
	var sb strings.Builder

	if v.Trusted() {
		fmt.Fprintf(&sb, "TRUSTED: %s %s\n", v.Manifest.Product, v.Manifest.Version)
		fmt.Fprintf(&sb, "  digest: %s\n", v.Digest)
		fmt.Fprintf(&sb, "  artifacts: %d\n", len(v.Manifest.Artifacts))
	} else {
		fmt.Fprintf(&sb, "REJECTED: %s\n", v.Status)
		if v.Detail != "" {
			fmt.Fprintf(&sb, "  detail: %s\n", v.Detail)
		}
	}

	fmt.Fprintf(&sb, "  root signatures: %d valid, %d required\n",
		v.RootValid, v.RootRequired)
	fmt.Fprintf(&sb, "  release signatures: %d valid, %d required\n",
		v.ReleaseValid, v.ReleaseRequired)
	return sb.String()
}
