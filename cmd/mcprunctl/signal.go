package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// withShutdownSignal returns a context that's canceled the moment the
// process receives SIGINT or SIGTERM, so long-running subcommands
// (watch, demo) still run their deferred session teardown instead of
// leaving child processes orphaned.
func withShutdownSignal(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case s := <-quit:
			slog.Info("mcprunctl: received signal, shutting down", "signal", s)
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(quit)
	}()

	return ctx, cancel
}
