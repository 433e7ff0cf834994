package observability

import (
	"errors"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/matthiasnowak/villasnode/internal/domain"
	"github.com/matthiasnowak/villasnode/internal/ports"
)

type PromObs struct {
	logger   *slog.Logger
	counters map[string]*prometheus.CounterVec
	gauges   map[string]*prometheus.GaugeVec
	histos   map[string]*prometheus.HistogramVec
}

// NewPromObs registers the path metrics with reg (the default registerer when
// nil) and logs through logger (a JSON handler on stderr when nil). Metrics
// that are already registered, e.g. by a previous runtime in the same
// process, are reused.
func NewPromObs(reg prometheus.Registerer, logger *slog.Logger) *PromObs {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}

	counter := func(name, help string) *prometheus.CounterVec {
		c := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, []string{"path"})
		return register(reg, c)
	}
	gauge := func(name, help string) *prometheus.GaugeVec {
		g := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help}, []string{"path"})
		return register(reg, g)
	}

	latency := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    ports.LatencyWrite,
		Help:    "Time spent in destination node writes per batch.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
	}, []string{"path"}))

	return &PromObs{
		logger: logger,
		counters: map[string]*prometheus.CounterVec{
			ports.MetricReceived:      counter(ports.MetricReceived, "Samples pulled from source queues."),
			ports.MetricProcessed:     counter(ports.MetricProcessed, "Samples that passed the hook pipeline."),
			ports.MetricSkipped:       counter(ports.MetricSkipped, "Samples dropped by a hook returning skip."),
			ports.MetricHookErrors:    counter(ports.MetricHookErrors, "Samples dropped by a hook returning error."),
			ports.MetricOverflow:      counter(ports.MetricOverflow, "Samples rejected by a full queue."),
			ports.MetricLost:          counter(ports.MetricLost, "Samples dropped after exhausting write retries."),
			ports.MetricWritten:       counter(ports.MetricWritten, "Samples accepted by destination nodes."),
			ports.MetricPoolExhausted: counter(ports.MetricPoolExhausted, "Failed sample pool allocations."),
			ports.MetricHalts:         counter(ports.MetricHalts, "Path halts requested by hooks."),
			ports.MetricNodeDropped:   counter(ports.MetricNodeDropped, "Samples a node received but could not buffer."),
		},
		gauges: map[string]*prometheus.GaugeVec{
			ports.GaugeQueueLength: gauge(ports.GaugeQueueLength, "Samples buffered in the path source queues."),
			ports.GaugePoolFree:    gauge(ports.GaugePoolFree, "Free blocks in the path source pools."),
			ports.GaugePathState:   gauge(ports.GaugePathState, "Path state (see pipeline.PathState)."),
			ports.GaugeNodeClients: gauge(ports.GaugeNodeClients, "Peers connected to a server node."),
		},
		histos: map[string]*prometheus.HistogramVec{
			ports.LatencyWrite: latency,
		},
	}
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func attrs(fields []ports.Field) []any {
	out := make([]any, 0, len(fields))
	for _, f := range fields {
		out = append(out, slog.Any(f.Key, f.Value))
	}
	return out
}

func (p *PromObs) LogInfo(msg string, fields ...ports.Field) {
	p.logger.Info(msg, attrs(fields)...)
}

func (p *PromObs) LogError(msg string, err error, fields ...ports.Field) {
	p.logger.Error(msg, append(attrs(fields), slog.Any("error", err))...)
}

func (p *PromObs) LogCritical(msg string, err error, fields ...ports.Field) {
	p.logger.Error(msg, append(attrs(fields), slog.Any("error", err), slog.Bool("critical", true))...)
}

func (p *PromObs) IncCounter(name, path string, v float64) {
	if c, ok := p.counters[name]; ok {
		c.WithLabelValues(path).Add(v)
	}
}

func (p *PromObs) ObserveLatency(name, path string, seconds float64) {
	if h, ok := p.histos[name]; ok {
		h.WithLabelValues(path).Observe(seconds)
	}
}

func (p *PromObs) SetGauge(name, path string, v float64) {
	if g, ok := p.gauges[name]; ok {
		g.WithLabelValues(path).Set(v)
	}
}

func (p *PromObs) RecordHookError(path, hook string, s *domain.Sample) {
	p.IncCounter(ports.MetricHookErrors, path, 1)
	var seq uint64
	if s != nil {
		seq = s.Sequence
	}
	p.logger.Warn("hook_error", slog.String("path", path), slog.String("hook", hook), slog.Uint64("sequence", seq))
}

var _ ports.Observability = (*PromObs)(nil)
