package main

import (
	"context"
	"fmt"
	"os"
)

// runRemove handles the `criticalup remove` subcommand.
func runRemove(args []string) int {
	var positional []string
	for _, arg := range args {
		switch arg {
		case "--help", "-h":
			fmt.Println("Usage: criticalup remove <product> <version>")
			return exitOK
		default:
			positional = append(positional, arg)
		}
	}

	if len(positional) != 2 {
		fmt.Fprintln(os.Stderr, "Error: remove requires a product and a version")
		fmt.Fprintln(os.Stderr, "Usage: criticalup remove <product> <version>")
		return exitUsage
	}
	product, version := positional[0], positional[1]

	mgr, err := loadManager(false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitFailure
	}

	if err := mgr.Remove(context.Background(), product, version); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitCodeFor(err)
	}

	fmt.Printf("Removed %s %s\n", product, version)
	return exitOK
}
