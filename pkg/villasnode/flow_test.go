package villasnode

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/matthiasnowak/villasnode/internal/domain"
)

type stubObservability struct{}

func (s *stubObservability) LogInfo(string, ...Field)                       {}
func (s *stubObservability) LogError(string, error, ...Field)               {}
func (s *stubObservability) LogCritical(string, error, ...Field)            {}
func (s *stubObservability) IncCounter(string, string, float64)             {}
func (s *stubObservability) ObserveLatency(string, string, float64)         {}
func (s *stubObservability) SetGauge(string, string, float64)               {}
func (s *stubObservability) RecordHookError(string, string, *domain.Sample) {}

func TestConfFromConfigAndStreamBuilder(t *testing.T) {
	cfg, err := ParseConfig([]byte(loopConfig))
	if err != nil {
		t.Fatalf("ParseConfig returned error: %v", err)
	}

	flow, err := ConfFromConfig(cfg)
	if err != nil {
		t.Fatalf("ConfFromConfig returned error: %v", err)
	}
	if flow.Config() != cfg {
		t.Fatalf("expected Config to be returned verbatim")
	}

	pub := NewPublisher("pub", testSignals(), 8)
	var (
		ch      <-chan []Sample
		closeFn func()
	)
	rt, err := flow.
		StreamIN(
			StreamInPublisher(pub),
			StreamInObservability(&stubObservability{}),
		).
		StreamOUT(
			StreamOutChannel("sink", 4, func(c <-chan []Sample, fn func()) { ch, closeFn = c, fn }),
		)
	if err != nil {
		t.Fatalf("StreamOUT returned error: %v", err)
	}
	defer closeFn()
	if n, ok := rt.Node("pub"); !ok || n != Node(pub) {
		t.Fatalf("expected publisher to be wired")
	}
	if _, ok := rt.obs.(*stubObservability); !ok {
		t.Fatalf("expected custom observability to be used")
	}

	ctx := context.Background()
	if err := rt.Start(ctx); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer rt.Shutdown(ctx)

	if err := pub.Publish(Sample{Values: []Value{Float(0.5), Int(1)}}); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}
	select {
	case batch := <-ch:
		if len(batch) != 1 || batch[0].Values[0].Float() != 1 {
			t.Fatalf("unexpected batch: %+v", batch)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for channel batch")
	}
}

func TestFlowRunUsesStreamOutOptions(t *testing.T) {
	cfg, err := ParseConfig([]byte(loopConfig))
	if err != nil {
		t.Fatalf("ParseConfig returned error: %v", err)
	}

	flow, err := ConfFromConfig(cfg, WithFlowOptions(WithPrometheus(prometheus.NewRegistry())))
	if err != nil {
		t.Fatalf("ConfFromConfig returned error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := flow.StreamIN(
		StreamInNode(NewPublisher("pub", testSignals(), 4)),
	).Run(ctx,
		StreamOutCallback("sink", func([]Sample) error { return nil }),
	); err != nil && err != context.Canceled {
		t.Fatalf("Run returned unexpected error: %v", err)
	}
}

func TestConfMissingFile(t *testing.T) {
	if _, err := Conf(t.TempDir() + "/missing.yaml"); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}
