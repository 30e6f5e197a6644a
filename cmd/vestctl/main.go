// Package main provides vestctl, a command-line client for the vesting server.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/pflag"
)

// command is one vestctl subcommand.
type command struct {
	summary string
	run     func(ctx context.Context, args []string) error
}

var commands = map[string]command{
	"keygen":   {"Generate a wallet keypair file", runKeygen},
	"derive":   {"Derive custody, record and token account addresses offline", runDerive},
	"lock":     {"Lock tokens into a new vesting schedule", runLock},
	"unlock":   {"Release the currently vested amount to the receiver", runUnlock},
	"status":   {"Show vesting records of a receiver", runStatus},
	"preview":  {"Show what unlock would release now", runPreview},
	"watch":    {"Stream vesting events", runWatch},
	"dev-mint": {"Create a mint and issue tokens (server dev mode)", runDevMint},
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		printUsage()
		return nil
	}

	cmd, ok := commands[args[0]]
	if !ok {
		printUsage()
		return fmt.Errorf("unknown command %q", args[0])
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return cmd.run(ctx, args[1:])
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "vestctl: command-line client for the token vesting server.")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  vestctl <command> [flags]")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Commands:")

	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "  %-10s %s\n", name, commands[name].summary)
	}
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, `Run "vestctl <command> --help" for command flags.`)
	fmt.Fprintln(os.Stderr, "The server URL defaults to $VESTING_SERVER or http://localhost:8080.")
}
