package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	command := os.Args[1]
	switch command {
	case "run":
		handleRun(ctx)
	case "check":
		handleCheck()
	case "index":
		handleIndex(ctx)
	case "migrate":
		handleMigrateCommand(ctx)
	case "version", "--version":
		fmt.Printf("filtra %s\n", Version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(2)
	}
}

func printUsage() {
	fmt.Printf(`FILTRA - mail filter engine

Usage:
  filtra <command> [options]

Commands:
  run       Apply the filter set to all messages carrying the query tag
  check     Validate and compile a filter file without touching any mail
  index     Register a message file in the mail index
  migrate   Manage the PostgreSQL index schema
  version   Show version information
  help      Show this help message

Use 'filtra <command> --help' for detailed help on a command.
`)
}
