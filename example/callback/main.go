package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"os/signal"
	"syscall"
	"time"

	"github.com/matthiasnowak/villasnode/pkg/villasnode"
)

func main() {
	flow, err := villasnode.Conf("../../etc/embedded.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gen := villasnode.NewPublisher("generator", villasnode.SignalList{
		{Name: "sine", Type: villasnode.SignalFloat},
		{Name: "tick", Type: villasnode.SignalInteger},
	}, 64)
	go generate(ctx, gen)

	callback := func(batch []villasnode.Sample) error {
		for _, sample := range batch {
			fmt.Printf("%s seq=%d values=%v\n",
				sample.Origin.Format(time.RFC3339Nano),
				sample.Sequence,
				sample.Values,
			)
		}
		return nil
	}

	err = flow.
		StreamIN(villasnode.StreamInPublisher(gen)).
		Run(ctx, villasnode.StreamOutCallback("out", callback))
	if err != nil && err != context.Canceled {
		log.Fatalf("runtime error: %v", err)
	}
}

func generate(ctx context.Context, gen *villasnode.Publisher) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for i := int64(0); ; i++ {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			err := gen.Publish(villasnode.Sample{
				Origin: now,
				Values: []villasnode.Value{villasnode.Float(math.Sin(float64(i) / 10)), villasnode.Int(i)},
			})
			if err != nil {
				log.Printf("publish: %v", err)
			}
		}
	}
}
