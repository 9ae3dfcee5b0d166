package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ZacxDev/assetooni/cli"
	"github.com/ZacxDev/assetooni/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.RootCmd().ExecuteContext(ctx); err != nil {
		logger.Error("Error", "error", err)
		stop()
		os.Exit(1)
	}
}
