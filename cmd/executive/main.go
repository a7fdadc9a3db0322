package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/breakaway-robotics/executive/cmd"
)

// main wires signal handling and hands off to the command tree. SIGINT and
// SIGTERM cancel the run context, which ends the match gracefully: the
// control loop stops ticking and the dispatcher winds down in-flight
// commands before exit.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			os.Exit(0)
		}
		os.Exit(1)
	}
}
