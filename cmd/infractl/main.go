// infractl is a command-line client for the infrastructure control service.
// Tokens are kept in the configured token store so later invocations resume the session.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		stop()
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		log.Fatalf("infractl: %v", err)
	}
}
