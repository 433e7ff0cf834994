package villasnode

import (
	"time"

	"github.com/matthiasnowak/villasnode/internal/app/api"
	"github.com/matthiasnowak/villasnode/internal/app/pipeline"
	"github.com/matthiasnowak/villasnode/internal/app/registry"
	"github.com/matthiasnowak/villasnode/internal/domain"
	"github.com/matthiasnowak/villasnode/internal/ports"
)

type (
	// Node is a sample source and/or destination.
	Node = ports.Node
	// Hook is a per-sample processing stage.
	Hook = ports.Hook
	// Observability receives logs and metrics from paths and nodes.
	Observability = ports.Observability
	// Field is a structured log field.
	Field = ports.Field
	// Policy holds queue and batching settings.
	Policy = ports.Policy
	// Options carries type-specific settings for nodes and hooks.
	Options = ports.Options

	Signal     = domain.Signal
	SignalList = domain.SignalList
	SignalType = domain.SignalType
	Value      = domain.Value

	PathStats  = pipeline.PathStats
	NodeStatus = api.NodeStatus
	Registry   = registry.Registry
)

const (
	SignalFloat   = domain.SignalFloat
	SignalInteger = domain.SignalInteger
)

func Float(f float64) Value { return domain.FloatValue(f) }
func Int(i int64) Value     { return domain.IntValue(i) }

// Sample is a copy of a pooled sample that callers may keep.
type Sample struct {
	// Sequence is zero when the producer did not number the sample; the path
	// assigns one then.
	Sequence uint64
	Origin   time.Time
	Received time.Time
	Values   []Value
}

func sampleFromDomain(s *domain.Sample) Sample {
	out := Sample{Values: append([]Value(nil), s.Values()...)}
	if s.Flags.Has(domain.HasSequence) {
		out.Sequence = s.Sequence
	}
	if s.Flags.Has(domain.HasTSOrigin) {
		out.Origin = s.TS.Origin
	}
	if s.Flags.Has(domain.HasTSReceived) {
		out.Received = s.TS.Received
	}
	return out
}

func (s Sample) into(d *domain.Sample) error {
	d.Reset()
	if s.Sequence != 0 {
		d.Sequence = s.Sequence
		d.Flags |= domain.HasSequence
	}
	if !s.Origin.IsZero() {
		d.TS.Origin = s.Origin
		d.Flags |= domain.HasTSOrigin
	}
	if !s.Received.IsZero() {
		d.TS.Received = s.Received
		d.Flags |= domain.HasTSReceived
	}
	for _, v := range s.Values {
		if err := d.Append(v); err != nil {
			return err
		}
	}
	if len(s.Values) > 0 {
		d.Flags |= domain.HasData
	}
	return nil
}

func convertDomainBatch(samples []*domain.Sample) []Sample {
	if len(samples) == 0 {
		return nil
	}
	out := make([]Sample, len(samples))
	for i, s := range samples {
		out[i] = sampleFromDomain(s)
	}
	return out
}
