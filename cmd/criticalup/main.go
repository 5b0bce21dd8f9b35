package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/skade/criticalup/internal/config"
	"github.com/skade/criticalup/internal/install"
	"github.com/skade/criticalup/internal/lock"
)

// Version will be set at build time via -ldflags
var Version = "v0.1.0"

// Exit codes. Scripts depend on these staying stable.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
	exitTrust   = 3
	exitLocked  = 4
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage(os.Stderr)
		return exitUsage
	}

	switch args[0] {
	case "--version", "version":
		fmt.Printf("criticalup %s\n", Version)
		return exitOK
	case "--help", "-h", "help":
		printUsage(os.Stdout)
		return exitOK
	case "install":
		return runInstall(args[1:])
	case "remove":
		return runRemove(args[1:])
	case "list":
		return runList(args[1:])
	case "run":
		return runRun(args[1:])
	case "verify":
		return runVerify(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command: %s\n\n", args[0])
		printUsage(os.Stderr)
		return exitUsage
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "criticalup - signature-verified release installer")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  criticalup install <product> <version> [--force] [--verbose]")
	fmt.Fprintln(w, "  criticalup remove <product> <version>")
	fmt.Fprintln(w, "  criticalup list")
	fmt.Fprintln(w, "  criticalup run <binary> [args...]")
	fmt.Fprintln(w, "  criticalup verify <manifest.json>")
	fmt.Fprintln(w, "  criticalup --version")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Configuration is read from ~/.config/criticalup/criticalup.lua")
	fmt.Fprintln(w, "(override with CRITICALUP_CONFIG; install root with CRITICALUP_ROOT).")
}

// exitCodeFor maps an operation error to the process exit code.
func exitCodeFor(err error) int {
	var trustErr *install.TrustError
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, lock.ErrLockBusy):
		return exitLocked
	case errors.As(err, &trustErr):
		return exitTrust
	default:
		return exitFailure
	}
}

// loadManager builds an installation manager from the on-disk config.
func loadManager(verbose bool) (*install.Manager, error) {
	path, err := config.DefaultPath()
	if err != nil {
		return nil, err
	}

	cfg, err := config.ParseFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}

	if cfg.InstallRoot == "" {
		cfg.InstallRoot, err = config.DefaultInstallRoot()
		if err != nil {
			return nil, err
		}
	}

	params := install.Params{Config: cfg}
	if verbose {
		params.Logger = &stderrLogger{debug: true}
	} else {
		params.Logger = &stderrLogger{}
	}
	return install.NewManager(params)
}
