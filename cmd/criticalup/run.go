package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/skade/criticalup/internal/install"
)

// runRun handles the `criticalup run` subcommand: it resolves a binary
// inside a committed installation and executes it with the caller's
// stdio, propagating the child's exit code.
func runRun(args []string) int {
	if len(args) > 0 && (args[0] == "--help" || args[0] == "-h") {
		fmt.Println("Usage: criticalup run <binary> [args...]")
		fmt.Println()
		fmt.Println("Runs a binary from an installed product. Arguments after the")
		fmt.Println("binary name are passed through unchanged.")
		return exitOK
	}

	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "Error: run requires a binary name")
		fmt.Fprintln(os.Stderr, "Usage: criticalup run <binary> [args...]")
		return exitUsage
	}

	mgr, err := loadManager(false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFailure
	}

	path, err := mgr.FindBinary(args[0])
	if err != nil {
		if errors.Is(err, install.ErrBinaryNotInstalled) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			fmt.Fprintln(os.Stderr, "Run 'criticalup list' to see installed products.")
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return exitFailure
	}

	cmd := exec.Command(path, args[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode()
		}
		fmt.Fprintf(os.Stderr, "Error: run %s: %v\n", path, err)
		return exitFailure
	}
	return exitOK
}
