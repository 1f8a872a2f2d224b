package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tphakala/farmdash/cmd"
	"github.com/tphakala/farmdash/internal/app"
	"github.com/tphakala/farmdash/internal/logging"
)

func main() {
	// stdout carries command output.
	logging.SetOutput(os.Stderr, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := cmd.RootCommand(&app.Options{})
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
