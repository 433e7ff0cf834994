package observability

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/matthiasnowak/villasnode/internal/ports"
)

func TestPromObsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	var logs bytes.Buffer
	obs := NewPromObs(reg, slog.New(slog.NewTextHandler(&logs, nil)))

	obs.IncCounter(ports.MetricProcessed, "p1", 5)
	if got := testutil.ToFloat64(obs.counters[ports.MetricProcessed].WithLabelValues("p1")); got != 5 {
		t.Fatalf("expected processed counter 5, got %f", got)
	}

	obs.IncCounter(ports.MetricOverflow, "p1", 2)
	if got := testutil.ToFloat64(obs.counters[ports.MetricOverflow].WithLabelValues("p1")); got != 2 {
		t.Fatalf("expected overflow counter 2, got %f", got)
	}

	obs.SetGauge(ports.GaugeQueueLength, "p2", 42)
	if got := testutil.ToFloat64(obs.gauges[ports.GaugeQueueLength].WithLabelValues("p2")); got != 42 {
		t.Fatalf("expected queue gauge 42, got %f", got)
	}

	obs.ObserveLatency(ports.LatencyWrite, "p1", 0.5)
	if samples := testutil.CollectAndCount(obs.histos[ports.LatencyWrite]); samples != 1 {
		t.Fatalf("expected latency histogram to record 1 series, got %d", samples)
	}

	obs.RecordHookError("p1", "scale", nil)
	if got := testutil.ToFloat64(obs.counters[ports.MetricHookErrors].WithLabelValues("p1")); got != 1 {
		t.Fatalf("expected hook error counter 1, got %f", got)
	}
	if !strings.Contains(logs.String(), "hook_error") {
		t.Fatalf("expected hook error to be logged, got %q", logs.String())
	}

	obs.IncCounter("unknown_metric", "p1", 1)
}

func TestPromObsReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewPromObs(reg, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))
	second := NewPromObs(reg, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	first.IncCounter(ports.MetricWritten, "p", 1)
	second.IncCounter(ports.MetricWritten, "p", 1)
	if got := testutil.ToFloat64(second.counters[ports.MetricWritten].WithLabelValues("p")); got != 2 {
		t.Fatalf("expected shared counter 2, got %f", got)
	}
}

func TestPromObsLogCritical(t *testing.T) {
	var logs bytes.Buffer
	obs := NewPromObs(prometheus.NewRegistry(), slog.New(slog.NewTextHandler(&logs, nil)))
	obs.LogCritical("pool_leak", errors.New("3 samples"), ports.Field{Key: "path", Value: "p"})

	out := logs.String()
	if !strings.Contains(out, "pool_leak") || !strings.Contains(out, "critical=true") || !strings.Contains(out, "path=p") {
		t.Fatalf("unexpected log output %q", out)
	}
}
