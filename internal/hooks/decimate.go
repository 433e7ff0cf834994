package hooks

import (
	"fmt"

	"github.com/matthiasnowak/villasnode/internal/domain"
	"github.com/matthiasnowak/villasnode/internal/ports"
)

// Decimate forwards every ratio-th sample. Samples with a sequence number are
// kept when the sequence is a multiple of ratio; samples without one use a
// running counter.
type Decimate struct {
	Base
	ratio   uint64
	counter uint64
}

func NewDecimate() ports.Hook {
	h := &Decimate{ratio: 1}
	h.init("decimate", 99, ports.HookAnywhere)
	return h
}

func (h *Decimate) Parse(opts ports.Options) error {
	if err := h.Base.Parse(opts); err != nil {
		return err
	}
	var cfg struct {
		Ratio int `yaml:"ratio"`
	}
	if err := opts.Decode(&cfg); err != nil {
		return err
	}
	if cfg.Ratio < 1 {
		return fmt.Errorf("decimate: ratio must be >= 1, got %d", cfg.Ratio)
	}
	h.ratio = uint64(cfg.Ratio)
	return nil
}

func (h *Decimate) Start() error {
	h.counter = 0
	return h.Base.Start()
}

func (h *Decimate) Process(s *domain.Sample) ports.Disposition {
	n := h.counter
	if s.Flags.Has(domain.HasSequence) {
		n = s.Sequence
	} else {
		h.counter++
	}
	if n%h.ratio != 0 {
		return ports.Skip
	}
	return ports.OK
}
