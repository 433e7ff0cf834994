package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/matthiasnowak/villasnode"
)

func main() {
	flow, err := villasnode.Conf("../../etc/embedded.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gen := villasnode.NewPublisher("generator", villasnode.SignalList{
		{Name: "counter", Type: villasnode.SignalInteger},
		{Name: "tick", Type: villasnode.SignalInteger},
	}, 64)
	go func() {
		for i := int64(0); ctx.Err() == nil; i++ {
			_ = gen.Publish(villasnode.Sample{Origin: time.Now(), Values: []villasnode.Value{villasnode.Int(i), villasnode.Int(i % 10)}})
			time.Sleep(50 * time.Millisecond)
		}
	}()

	node, batches, closeBatches := villasnode.NewChannelNode("out", 32)
	defer closeBatches()

	go fanoutWorker("embedded", batches)

	err = flow.
		StreamIN(villasnode.StreamInPublisher(gen)).
		Run(ctx, villasnode.StreamOutNode(node))
	if err != nil && err != context.Canceled {
		log.Fatalf("runtime error: %v", err)
	}
}

func fanoutWorker(name string, batches <-chan []villasnode.Sample) {
	for batch := range batches {
		fmt.Printf("[%s] forwarding %d samples at %s\n", name, len(batch), time.Now().Format(time.RFC3339))
	}
}
