package domain

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Flags describe which metadata fields of a Sample carry meaningful data.
type Flags uint16

const (
	HasSequence Flags = 1 << iota
	HasTSOrigin
	HasTSReceived
	HasOffset
	HasData
	// NewFrame marks the first sample of a new epoch (e.g. after a file rewind).
	NewFrame
)

func (f Flags) Has(o Flags) bool { return f&o == o }

// Timestamps groups the origin (producer) and received (this node) time.
type Timestamps struct {
	Origin   time.Time `json:"origin"`
	Received time.Time `json:"received"`
}

// Sample is one fixed-capacity, reference-counted record of typed values.
//
// Samples are only obtained from a Pool. The value storage is carved out of the
// pool's arena and never grows: Append beyond Capacity fails instead of
// reallocating.
type Sample struct {
	Sequence uint64
	TS       Timestamps
	Flags    Flags

	data   []Value
	length int
	refcnt atomic.Int32
	pool   *Pool
	index  int32
}

// Len returns the number of valid values.
func (s *Sample) Len() int { return s.length }

// Capacity returns the fixed number of value slots.
func (s *Sample) Capacity() int { return len(s.data) }

// Values returns the valid values. The slice aliases the sample storage.
func (s *Sample) Values() []Value { return s.data[:s.length] }

// Value returns the i-th value; it panics if i is out of range like a slice index.
func (s *Sample) Value(i int) Value { return s.data[:s.length][i] }

// SetValue overwrites the i-th valid value.
func (s *Sample) SetValue(i int, v Value) { s.data[:s.length][i] = v }

// Append adds v after the last valid value.
func (s *Sample) Append(v Value) error {
	if s.length >= len(s.data) {
		return fmt.Errorf("append to sample with %d values: %w", s.length, ErrCapacityExceeded)
	}
	s.data[s.length] = v
	s.length++
	s.Flags |= HasData
	return nil
}

// SetLength truncates or extends the valid range. Newly exposed slots are zeroed.
func (s *Sample) SetLength(n int) error {
	if n < 0 || n > len(s.data) {
		return fmt.Errorf("set length %d (capacity %d): %w", n, len(s.data), ErrCapacityExceeded)
	}
	for i := s.length; i < n; i++ {
		s.data[i] = Value{}
	}
	s.length = n
	if n > 0 {
		s.Flags |= HasData
	} else {
		s.Flags &^= HasData
	}
	return nil
}

// Reset clears metadata and values but keeps the reference count.
func (s *Sample) Reset() {
	s.Sequence = 0
	s.TS = Timestamps{}
	s.Flags = 0
	s.length = 0
}

// Refs returns the current reference count.
func (s *Sample) Refs() int32 { return s.refcnt.Load() }

// Pool returns the pool the sample was allocated from.
func (s *Sample) Pool() *Pool { return s.pool }

// IncRef adds a reference.
func (s *Sample) IncRef() { s.refcnt.Add(1) }

// DecRef drops a reference and returns the block to its pool once the count
// reaches zero. It reports whether the sample was released.
func (s *Sample) DecRef() bool {
	n := s.refcnt.Add(-1)
	if n < 0 {
		panic("domain: sample refcount underflow")
	}
	if n > 0 {
		return false
	}
	s.pool.put(s)
	return true
}

// IncRefMany adds one reference to every sample.
func IncRefMany(smps []*Sample) {
	for _, s := range smps {
		s.IncRef()
	}
}

// DecRefMany drops one reference from every sample and returns how many were
// handed back to their pool.
func DecRefMany(smps []*Sample) int {
	released := 0
	for _, s := range smps {
		if s.DecRef() {
			released++
		}
	}
	return released
}

// Copy deep-copies metadata and values from src into dst. Values beyond the
// capacity of dst are cut off; the reference count is untouched.
func Copy(dst, src *Sample) {
	dst.Sequence = src.Sequence
	dst.TS = src.TS
	dst.Flags = src.Flags
	n := copy(dst.data, src.data[:src.length])
	dst.length = n
}

// CopyMany copies min(len(dst), len(src)) samples pairwise and returns the count.
func CopyMany(dst, src []*Sample) int {
	n := min(len(dst), len(src))
	for i := 0; i < n; i++ {
		Copy(dst[i], src[i])
	}
	return n
}

// Equal reports whether two samples carry the same sequence, timestamps,
// flags and values.
func Equal(a, b *Sample) bool {
	if a.Sequence != b.Sequence || a.Flags != b.Flags || a.length != b.length {
		return false
	}
	if !a.TS.Origin.Equal(b.TS.Origin) || !a.TS.Received.Equal(b.TS.Received) {
		return false
	}
	for i := 0; i < a.length; i++ {
		if a.data[i] != b.data[i] {
			return false
		}
	}
	return true
}
