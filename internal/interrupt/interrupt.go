// Package interrupt provides a context that is canceled when the process
// receives SIGINT or SIGTERM.
package interrupt

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// Context returns a context canceled on the first SIGINT or SIGTERM, and its
// cancel function. Callers must still call the returned cancel function to
// release resources once the context is no longer needed.
//
// Canceling the context stops the Worker Pool from handing out further
// slots and kills in-flight isolated worker subprocesses, which
// internal/engine/pool.go starts with exec.CommandContext; an in-process
// action receives the canceled context and stops only if it honors it, so
// such an action can make the first Ctrl-C look like it did nothing. A
// second SIGINT/SIGTERM exits the process immediately instead of waiting
// again: os.Exit terminates every worker subprocess too, since each was
// started with Pdeathsig set, so the forced exit does not leave orphans
// behind.
func Context() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
		<-sig
		os.Exit(1)
	}()
	return ctx, cancel
}
