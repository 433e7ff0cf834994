package domain

import (
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"
)

func TestPoolAllocateReleaseNoLeak(t *testing.T) {
	p, err := NewPool(4, 2)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}

	smps := make([]*Sample, 4)
	if err := p.AllocateMany(smps); err != nil {
		t.Fatalf("allocate 4: %v", err)
	}
	for _, s := range smps {
		if s.Len() != 0 || s.Refs() != 1 || s.Capacity() != 2 {
			t.Fatalf("unexpected fresh sample len=%d refs=%d cap=%d", s.Len(), s.Refs(), s.Capacity())
		}
	}
	if p.Free() != 0 {
		t.Fatalf("expected empty free list, got %d", p.Free())
	}

	if released := DecRefMany(smps); released != 4 {
		t.Fatalf("expected 4 released, got %d", released)
	}
	if err := p.AllocateMany(smps); err != nil {
		t.Fatalf("reallocate 4: %v", err)
	}
	DecRefMany(smps)
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestPoolAllocateManyIsAllOrNothing(t *testing.T) {
	p, _ := NewPool(3, 1)

	first := make([]*Sample, 2)
	if err := p.AllocateMany(first); err != nil {
		t.Fatalf("allocate 2: %v", err)
	}

	second := make([]*Sample, 2)
	err := p.AllocateMany(second)
	if !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("expected ErrPoolExhausted, got %v", err)
	}
	if second[0] != nil || second[1] != nil {
		t.Fatalf("failed allocation must not hand out samples")
	}
	if p.Free() != 1 {
		t.Fatalf("failed allocation changed free count to %d", p.Free())
	}
	if st := p.Stats(); st.Exhausted != 1 {
		t.Fatalf("expected exhausted counter 1, got %d", st.Exhausted)
	}
}

func TestPoolOutstandingNeverExceedsBlocks(t *testing.T) {
	const blocks = 16
	p, _ := NewPool(blocks, 4)
	rng := rand.New(rand.NewSource(1))

	var held []*Sample
	for i := 0; i < 2000; i++ {
		if rng.Intn(2) == 0 {
			n := rng.Intn(6) + 1
			batch := make([]*Sample, n)
			err := p.AllocateMany(batch)
			if len(held)+n > blocks {
				if !errors.Is(err, ErrPoolExhausted) {
					t.Fatalf("step %d: expected exhaustion, got %v", i, err)
				}
			} else if err != nil {
				t.Fatalf("step %d: unexpected error %v", i, err)
			} else {
				held = append(held, batch...)
			}
		} else if len(held) > 0 {
			k := rng.Intn(len(held))
			held[k].DecRef()
			held = append(held[:k], held[k+1:]...)
		}
		if out := p.Outstanding(); out != len(held) || out > blocks {
			t.Fatalf("step %d: outstanding %d, held %d", i, out, len(held))
		}
	}
}

func TestPoolCloseReportsLeak(t *testing.T) {
	p, _ := NewPool(2, 1)
	s, err := p.Allocate()
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if err := p.Close(); !errors.Is(err, ErrPoolLeak) {
		t.Fatalf("expected ErrPoolLeak, got %v", err)
	}
	s.DecRef()
	if err := p.AllocateMany(make([]*Sample, 1)); err == nil {
		t.Fatalf("closed pool must reject allocations")
	}
}

func TestSampleRefCounting(t *testing.T) {
	p, _ := NewPool(1, 1)
	s, _ := p.Allocate()

	s.IncRef()
	if s.DecRef() {
		t.Fatalf("sample released while still referenced")
	}
	if p.Free() != 0 {
		t.Fatalf("block returned early")
	}
	if !s.DecRef() {
		t.Fatalf("expected release on last reference")
	}
	if p.Free() != 1 {
		t.Fatalf("block not returned to pool")
	}

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on refcount underflow")
		}
	}()
	s.DecRef()
}

func TestSampleCapacityIsFixed(t *testing.T) {
	p, _ := NewPool(2, 2)
	s, _ := p.Allocate()
	neighbour, _ := p.Allocate()
	_ = neighbour.Append(IntValue(99))

	if err := s.Append(FloatValue(1)); err != nil {
		t.Fatalf("append 1: %v", err)
	}
	if err := s.Append(FloatValue(2)); err != nil {
		t.Fatalf("append 2: %v", err)
	}
	if err := s.Append(FloatValue(3)); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded, got %v", err)
	}
	if err := s.SetLength(3); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("expected ErrCapacityExceeded on SetLength, got %v", err)
	}
	if neighbour.Value(0).Int() != 99 {
		t.Fatalf("neighbouring block was overwritten")
	}
}

func TestCopyManyRoundTrip(t *testing.T) {
	p, _ := NewPool(4, 3)
	src := make([]*Sample, 2)
	if err := p.AllocateMany(src); err != nil {
		t.Fatalf("allocate: %v", err)
	}
	now := time.Now()
	for i, s := range src {
		s.Sequence = uint64(10 + i)
		s.TS = Timestamps{Origin: now.Add(-time.Second), Received: now}
		s.Flags = HasSequence | HasTSOrigin | HasTSReceived
		_ = s.Append(FloatValue(1.5 * float64(i)))
		_ = s.Append(IntValue(int64(-i)))
	}
	src[0].IncRef()

	dst, err := p.CloneMany(src)
	if err != nil {
		t.Fatalf("clone: %v", err)
	}
	for i := range src {
		if !Equal(dst[i], src[i]) {
			t.Fatalf("sample %d differs after copy", i)
		}
		if dst[i].Refs() != 1 {
			t.Fatalf("copy must not carry refcount, got %d", dst[i].Refs())
		}
	}
}

func TestPoolConcurrentAllocRelease(t *testing.T) {
	p, _ := NewPool(64, 1)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			batch := make([]*Sample, 4)
			for i := 0; i < 500; i++ {
				if err := p.AllocateMany(batch); err != nil {
					continue
				}
				DecRefMany(batch)
			}
		}()
	}
	wg.Wait()
	if p.Free() != 64 {
		t.Fatalf("expected all blocks free, got %d", p.Free())
	}
}
