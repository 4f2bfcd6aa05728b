package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"creditgate/internal/infrastructure"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, log, cleanup, err := infrastructure.Bootstrap(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bootstrap failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	defer cleanup()

	log.Info("creditgate starting")
	if err := app.Run(ctx); err != nil {
		log.Error("application stopped with error", zap.Error(err))
		cleanup()
		_ = log.Sync()
		os.Exit(1)
	}
	log.Info("creditgate stopped")
}
