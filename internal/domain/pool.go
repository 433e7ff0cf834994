package domain

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Pool is a fixed-size arena of Samples. Every block holds Capacity values;
// the pool never grows, so callers size it for the worst-case number of samples
// in flight.
//
// The free list is the only core structure mutated concurrently (allocation on
// a node reader, release on the path or node writer) and is guarded by a mutex.
type Pool struct {
	mu       sync.Mutex
	free     []int32
	samples  []Sample
	values   []Value
	capacity int
	closed   bool

	allocs    atomic.Uint64
	releases  atomic.Uint64
	exhausted atomic.Uint64
}

// PoolStats is a point-in-time view of pool usage.
type PoolStats struct {
	Blocks      int
	Capacity    int
	Free        int
	Outstanding int
	Allocs      uint64
	Releases    uint64
	Exhausted   uint64
}

// NewPool preallocates blocks samples with capacity value slots each.
func NewPool(blocks, capacity int) (*Pool, error) {
	if blocks <= 0 {
		return nil, fmt.Errorf("pool needs at least one block, got %d", blocks)
	}
	if capacity < 0 {
		return nil, fmt.Errorf("invalid sample capacity %d", capacity)
	}

	p := &Pool{
		free:     make([]int32, blocks),
		samples:  make([]Sample, blocks),
		values:   make([]Value, blocks*capacity),
		capacity: capacity,
	}
	for i := range p.samples {
		s := &p.samples[i]
		off := i * capacity
		s.data = p.values[off : off+capacity : off+capacity]
		s.pool = p
		s.index = int32(i)
		// pop from the tail hands out low indices first
		p.free[blocks-1-i] = int32(i)
	}
	return p, nil
}

// Blocks returns the total block count.
func (p *Pool) Blocks() int { return len(p.samples) }

// Capacity returns the number of values per sample.
func (p *Pool) Capacity() int { return p.capacity }

// Free returns the number of blocks currently available.
func (p *Pool) Free() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Outstanding returns the number of samples not yet returned.
func (p *Pool) Outstanding() int {
	return p.Blocks() - p.Free()
}

// Allocate grants a single sample.
func (p *Pool) Allocate() (*Sample, error) {
	var dst [1]*Sample
	if err := p.AllocateMany(dst[:]); err != nil {
		return nil, err
	}
	return dst[0], nil
}

// AllocateMany fills dst with fresh samples. Either every slot is filled or
// none is and ErrPoolExhausted is returned.
func (p *Pool) AllocateMany(dst []*Sample) error {
	if len(dst) == 0 {
		return nil
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("allocate from closed pool: %w", ErrPoolExhausted)
	}
	avail := len(p.free)
	if avail < len(dst) {
		p.mu.Unlock()
		p.exhausted.Add(1)
		return fmt.Errorf("requested %d samples, %d free: %w", len(dst), avail, ErrPoolExhausted)
	}
	for i := range dst {
		dst[i] = &p.samples[p.free[avail-1-i]]
	}
	p.free = p.free[:avail-len(dst)]
	p.mu.Unlock()

	for _, s := range dst {
		s.Reset()
		s.refcnt.Store(1)
	}
	p.allocs.Add(uint64(len(dst)))
	return nil
}

// CloneMany allocates len(src) samples and deep-copies src into them.
func (p *Pool) CloneMany(src []*Sample) ([]*Sample, error) {
	dst := make([]*Sample, len(src))
	if err := p.AllocateMany(dst); err != nil {
		return nil, err
	}
	CopyMany(dst, src)
	return dst, nil
}

func (p *Pool) put(s *Sample) {
	if s.pool != p {
		panic("domain: sample released to foreign pool")
	}
	p.mu.Lock()
	p.free = append(p.free, s.index)
	p.mu.Unlock()
	p.releases.Add(1)
}

// Stats returns allocation counters.
func (p *Pool) Stats() PoolStats {
	free := p.Free()
	return PoolStats{
		Blocks:      p.Blocks(),
		Capacity:    p.capacity,
		Free:        free,
		Outstanding: p.Blocks() - free,
		Allocs:      p.allocs.Load(),
		Releases:    p.releases.Load(),
		Exhausted:   p.exhausted.Load(),
	}
}

// Close marks the pool unusable. Closing while samples are outstanding is an
// integrity violation and reported as ErrPoolLeak; the pool stays closed.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if out := len(p.samples) - len(p.free); out > 0 {
		return fmt.Errorf("%d of %d samples still referenced: %w", out, len(p.samples), ErrPoolLeak)
	}
	return nil
}
