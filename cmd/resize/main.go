package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dunamismax/resizeflow/internal/pipeline"
)

func main() {
	if err := pipeline.Startup(); err != nil {
		fmt.Fprintf(os.Stderr, "start image runtime: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	pipeline.Shutdown()
	if err != nil {
		os.Exit(1)
	}
}
