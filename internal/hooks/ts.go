package hooks

import (
	"fmt"
	"time"

	"github.com/matthiasnowak/villasnode/internal/domain"
	"github.com/matthiasnowak/villasnode/internal/ports"
)

// Ts overwrites the origin timestamp with the receive timestamp.
type Ts struct {
	Base
}

func NewTs() ports.Hook {
	h := &Ts{}
	h.init("ts", 0, ports.HookAnywhere)
	return h
}

func (h *Ts) Process(s *domain.Sample) ports.Disposition {
	s.TS.Origin = s.TS.Received
	s.Flags |= domain.HasTSOrigin
	return ports.OK
}

// ShiftTs moves the origin or received timestamp by a fixed offset.
type ShiftTs struct {
	Base
	received bool
	offset   time.Duration
}

func NewShiftTs() ports.Hook {
	h := &ShiftTs{}
	h.init("shift_ts", 99, ports.HookAnywhere)
	return h
}

func (h *ShiftTs) Parse(opts ports.Options) error {
	if err := h.Base.Parse(opts); err != nil {
		return err
	}
	var cfg struct {
		Mode   string        `yaml:"mode"`
		Offset time.Duration `yaml:"offset"`
	}
	if err := opts.Decode(&cfg); err != nil {
		return err
	}
	switch cfg.Mode {
	case "", "origin":
		h.received = false
	case "received":
		h.received = true
	default:
		return fmt.Errorf("shift_ts: unknown mode %q", cfg.Mode)
	}
	h.offset = cfg.Offset
	return nil
}

func (h *ShiftTs) Process(s *domain.Sample) ports.Disposition {
	if h.received {
		s.TS.Received = s.TS.Received.Add(h.offset)
	} else {
		s.TS.Origin = s.TS.Origin.Add(h.offset)
	}
	return ports.OK
}
