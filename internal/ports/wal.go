package ports

import (
	"time"

	"github.com/matthiasnowak/villasnode/internal/domain"
)

type WALEntryID uint64

// WAL is an append-only sample log with a commit watermark.
type WAL interface {
	Append(s *domain.Sample) (WALEntryID, error)
	Flush() error
	Iterate(from WALEntryID, fn func(id WALEntryID, rec *Record) error) error
	Commit(upto WALEntryID) error
	TruncateCommitted() error
	Stats() WALStats
	Close() error
}

type WALStats struct {
	OldestUncommitted WALEntryID
	LatestAppended    WALEntryID
	SizeBytes         int64
}

// Record is the pool-independent form of a sample used for persistence and
// the JSON/CBOR codecs. Timestamps are Unix nanoseconds.
type Record struct {
	Sequence uint64        `json:"sequence" cbor:"1,keyasint"`
	Origin   int64         `json:"ts_origin,omitempty" cbor:"2,keyasint,omitempty"`
	Received int64         `json:"ts_received,omitempty" cbor:"3,keyasint,omitempty"`
	Flags    domain.Flags  `json:"flags" cbor:"4,keyasint"`
	Values   []RecordValue `json:"data" cbor:"5,keyasint"`
}

// RecordValue keeps the signal type next to the number so integers survive
// a JSON round trip.
type RecordValue struct {
	Float *float64 `json:"f,omitempty" cbor:"1,keyasint,omitempty"`
	Int   *int64   `json:"i,omitempty" cbor:"2,keyasint,omitempty"`
}

// NewRecord snapshots s.
func NewRecord(s *domain.Sample) *Record {
	r := &Record{
		Sequence: s.Sequence,
		Flags:    s.Flags,
		Values:   make([]RecordValue, s.Len()),
	}
	if !s.TS.Origin.IsZero() {
		r.Origin = s.TS.Origin.UnixNano()
	}
	if !s.TS.Received.IsZero() {
		r.Received = s.TS.Received.UnixNano()
	}
	for i, v := range s.Values() {
		if v.Type() == domain.SignalInteger {
			n := v.Int()
			r.Values[i].Int = &n
		} else {
			f := v.Float()
			r.Values[i].Float = &f
		}
	}
	return r
}

// Into writes the record into a pooled sample. Values beyond the sample's
// capacity are reported as domain.ErrCapacityExceeded.
func (r *Record) Into(s *domain.Sample) error {
	s.Reset()
	s.Sequence = r.Sequence
	s.Flags = r.Flags &^ domain.HasData
	if r.Origin != 0 {
		s.TS.Origin = time.Unix(0, r.Origin)
	}
	if r.Received != 0 {
		s.TS.Received = time.Unix(0, r.Received)
	}
	for _, v := range r.Values {
		var val domain.Value
		switch {
		case v.Int != nil:
			val = domain.IntValue(*v.Int)
		case v.Float != nil:
			val = domain.FloatValue(*v.Float)
		}
		if err := s.Append(val); err != nil {
			return err
		}
	}
	return nil
}
