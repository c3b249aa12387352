// Command gauth logs in to a ClientLogin endpoint and sends authorized
// requests with the session's retry, redirect and re-authentication policy.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Version information (injected via ldflags at build time)
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	a := &app{}
	err := a.command().ExecuteContext(ctx)
	a.close()
	stop()

	if err != nil {
		fmt.Fprintf(os.Stderr, "gauth: %v\n", err)
		os.Exit(exitCode(err))
	}
}
