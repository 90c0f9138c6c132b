// Command parley runs and controls a realtime voice coaching session.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rbright/parley/internal/app"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run executes one CLI invocation. SIGINT, SIGTERM and SIGHUP cancel the
// context, which a running session treats as an interrupt.
func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	return app.Execute(ctx, args, os.Stdout, os.Stderr)
}
