package hooks

import (
	"fmt"

	"github.com/matthiasnowak/villasnode/internal/domain"
	"github.com/matthiasnowak/villasnode/internal/ports"
)

// Scale applies value*scale + offset to a single signal.
type Scale struct {
	Base
	signal string
	index  int
	scale  float64
	offset float64
}

func NewScale() ports.Hook {
	h := &Scale{scale: 1}
	h.init("scale", 99, ports.HookAnywhere)
	return h
}

func (h *Scale) Parse(opts ports.Options) error {
	if err := h.Base.Parse(opts); err != nil {
		return err
	}
	cfg := struct {
		Signal string  `yaml:"signal"`
		Scale  float64 `yaml:"scale"`
		Offset float64 `yaml:"offset"`
	}{Scale: 1}
	if err := opts.Decode(&cfg); err != nil {
		return err
	}
	if cfg.Signal == "" {
		return fmt.Errorf("scale: signal is required")
	}
	h.signal, h.scale, h.offset = cfg.Signal, cfg.Scale, cfg.Offset
	return nil
}

func (h *Scale) Prepare(in domain.SignalList) (domain.SignalList, error) {
	idx, err := signalIndex(in, h.signal)
	if err != nil {
		return nil, fmt.Errorf("scale: %w", err)
	}
	out, err := h.Base.Prepare(in)
	if err != nil {
		return nil, err
	}
	h.index = idx
	return out, nil
}

func (h *Scale) Process(s *domain.Sample) ports.Disposition {
	if h.index >= s.Len() {
		return ports.Error
	}
	v := s.Value(h.index)
	switch v.Type() {
	case domain.SignalInteger:
		s.SetValue(h.index, domain.IntValue(int64(float64(v.Int())*h.scale+h.offset)))
	default:
		s.SetValue(h.index, domain.FloatValue(v.Float()*h.scale+h.offset))
	}
	return ports.OK
}
