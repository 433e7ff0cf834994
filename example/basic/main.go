package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/matthiasnowak/villasnode"
)

func main() {
	flow, err := villasnode.Conf("../../etc/node.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := flow.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("node exited: %v", err)
	}
}
