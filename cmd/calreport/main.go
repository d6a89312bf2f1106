package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	appLog "calreport/internal/log"
)

func main() {
	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if err := newApp().Run(ctx, os.Args); err != nil {
		appLog.Error("calreport failed", err)
		os.Exit(1)
	}
}
