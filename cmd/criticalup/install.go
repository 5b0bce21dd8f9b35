package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/skade/criticalup/internal/install"
)

// runInstall handles the `criticalup install` subcommand.
func runInstall(args []string) int {
	var positional []string
	opts := install.Options{}
	verbose := false

	for _, arg := range args {
		switch {
		case arg == "--help" || arg == "-h":
			printInstallHelp()
			return exitOK
		case arg == "--force":
			opts.Force = true
		case arg == "--verbose" || arg == "-v":
			verbose = true
		case strings.HasPrefix(arg, "--concurrency="):
			n, err := strconv.Atoi(strings.TrimPrefix(arg, "--concurrency="))
			if err != nil || n < 1 {
				fmt.Fprintf(os.Stderr, "Error: invalid --concurrency value: %s\n", arg)
				return exitUsage
			}
			opts.ConcurrentDownloads = n
		case strings.HasPrefix(arg, "-"):
			fmt.Fprintf(os.Stderr, "Error: unknown flag: %s\n", arg)
			return exitUsage
		default:
			positional = append(positional, arg)
		}
	}

	if len(positional) != 2 {
		fmt.Fprintln(os.Stderr, "Error: install requires a product and a version")
		fmt.Fprintln(os.Stderr, "Usage: criticalup install <product> <version> [--force]")
		return exitUsage
	}
	product, version := positional[0], positional[1]

	mgr, err := loadManager(verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFailure
	}

	// A second Ctrl-C kills the process immediately; the first one
	// cancels the pipeline so the commit is never interrupted midway.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := mgr.Install(ctx, product, version, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitCodeFor(err)
	}

	if result.AlreadyInstalled {
		fmt.Printf("%s %s is already installed at %s\n",
			result.Product, result.Version, result.InstallPath)
		return exitOK
	}

	fmt.Printf("Installed %s %s to %s (%s)\n",
		result.Product, result.Version, result.InstallPath,
		result.Duration.Round(durationPrecision))
	return exitOK
}

func printInstallHelp() {
	fmt.Println("Usage: criticalup install <product> <version> [options]")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  --force            Reinstall even if the version is already present")
	fmt.Println("  --concurrency=N    Download up to N artifacts in parallel (default 4)")
	fmt.Println("  --verbose, -v      Log every pipeline step to stderr")
}
