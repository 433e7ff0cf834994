package hooks

import (
	"sync/atomic"

	"github.com/matthiasnowak/villasnode/internal/domain"
	"github.com/matthiasnowak/villasnode/internal/ports"
)

// Drop skips samples whose sequence number is not greater than the last
// forwarded one. Reordered and duplicated samples are dropped; jumps forward
// are counted as gaps. A sample flagged NewFrame resets the tracking.
type Drop struct {
	Base
	last    uint64
	seen    bool
	gaps    atomic.Uint64
	dropped atomic.Uint64
}

func NewDrop() ports.Hook {
	h := &Drop{}
	h.init("drop", 3, ports.HookAnywhere)
	return h
}

func (h *Drop) Start() error {
	h.seen = false
	h.last = 0
	return h.Base.Start()
}

// Gaps returns the number of missing sequence numbers observed so far.
func (h *Drop) Gaps() uint64 { return h.gaps.Load() }

// Dropped returns the number of reordered or duplicate samples skipped.
func (h *Drop) Dropped() uint64 { return h.dropped.Load() }

func (h *Drop) Process(s *domain.Sample) ports.Disposition {
	if !s.Flags.Has(domain.HasSequence) {
		return ports.OK
	}
	if s.Flags.Has(domain.NewFrame) || !h.seen {
		h.seen = true
		h.last = s.Sequence
		return ports.OK
	}
	if s.Sequence <= h.last {
		h.dropped.Add(1)
		return ports.Skip
	}
	if d := s.Sequence - h.last; d > 1 {
		h.gaps.Add(d - 1)
	}
	h.last = s.Sequence
	return ports.OK
}
