package format

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/matthiasnowak/villasnode/internal/domain"
)

// Binary message layout (16 byte header, then 4 bytes per value):
//
//	byte 0     version:4 | type:2 | endian:1 | reserved:1
//	byte 1     reserved
//	bytes 2-3  number of values
//	bytes 4-7  sequence
//	bytes 8-11 origin seconds
//	bytes 12-15 origin nanoseconds
//	values     float32 or int32 depending on the signal type
const (
	MsgVersion   = 2
	MsgHeaderLen = 16

	MsgTypeData  = 0
	MsgTypeStart = 1
	MsgTypeStop  = 2
	MsgTypeEmpty = 3

	msgEndianLittle = 0
	msgEndianBig    = 1
)

// MsgLen returns the encoded size of a message carrying n values.
func MsgLen(n int) int { return MsgHeaderLen + 4*n }

// Binary is the compact fixed-layout message format used by the socket node.
// Several messages may be concatenated in one datagram.
type Binary struct {
	Signals domain.SignalList
}

func (b *Binary) Name() string { return "villas.binary" }

func (b *Binary) Encode(smps []*domain.Sample) ([]byte, error) {
	size := 0
	for _, s := range smps {
		size += MsgLen(s.Len())
	}
	buf := make([]byte, 0, size)
	for _, s := range smps {
		var err error
		if buf, err = b.AppendMsg(buf, s); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// AppendMsg appends one big-endian message for s to buf.
func (b *Binary) AppendMsg(buf []byte, s *domain.Sample) ([]byte, error) {
	if s.Len() > math.MaxUint16 {
		return nil, fmt.Errorf("sample with %d values does not fit a message", s.Len())
	}
	var hdr [MsgHeaderLen]byte
	hdr[0] = MsgVersion<<4 | MsgTypeData<<2 | msgEndianBig<<1
	binary.BigEndian.PutUint16(hdr[2:4], uint16(s.Len()))
	binary.BigEndian.PutUint32(hdr[4:8], uint32(s.Sequence))
	if !s.TS.Origin.IsZero() {
		binary.BigEndian.PutUint32(hdr[8:12], uint32(s.TS.Origin.Unix()))
		binary.BigEndian.PutUint32(hdr[12:16], uint32(s.TS.Origin.Nanosecond()))
	}
	buf = append(buf, hdr[:]...)

	for i, v := range s.Values() {
		var raw uint32
		if signalType(b.Signals, i) == domain.SignalInteger {
			raw = uint32(int32(v.Int()))
		} else {
			raw = math.Float32bits(float32(v.Float()))
		}
		buf = binary.BigEndian.AppendUint32(buf, raw)
	}
	return buf, nil
}

func (b *Binary) Decode(data []byte, smps []*domain.Sample) (int, error) {
	n := 0
	for len(data) > 0 {
		if n == len(smps) {
			return n, ErrTooManySamples
		}
		used, err := b.decodeMsg(data, smps[n])
		if err != nil {
			return n, err
		}
		data = data[used:]
		n++
	}
	return n, nil
}

func (b *Binary) decodeMsg(data []byte, s *domain.Sample) (int, error) {
	if len(data) < MsgHeaderLen {
		return 0, fmt.Errorf("short message header: %d bytes", len(data))
	}
	version := data[0] >> 4
	if version != 1 && version != MsgVersion {
		return 0, fmt.Errorf("unsupported message version %d", version)
	}
	typ := (data[0] >> 2) & 0x3

	var order binary.ByteOrder = binary.BigEndian
	if (data[0]>>1)&0x1 == msgEndianLittle {
		order = binary.LittleEndian
	}

	length := int(order.Uint16(data[2:4]))
	total := MsgLen(length)
	if len(data) < total {
		return 0, fmt.Errorf("truncated message: want %d bytes, have %d", total, len(data))
	}

	s.Reset()
	s.Sequence = uint64(order.Uint32(data[4:8]))
	s.Flags = domain.HasSequence
	sec, nsec := order.Uint32(data[8:12]), order.Uint32(data[12:16])
	if sec != 0 || nsec != 0 {
		s.TS.Origin = time.Unix(int64(sec), int64(nsec))
		s.Flags |= domain.HasTSOrigin
	}
	if typ != MsgTypeData {
		return total, nil
	}
	if length > s.Capacity() {
		return 0, fmt.Errorf("message with %d values: %w", length, domain.ErrCapacityExceeded)
	}

	for i := 0; i < length; i++ {
		off := MsgHeaderLen + 4*i
		raw := order.Uint32(data[off : off+4])
		var v domain.Value
		if signalType(b.Signals, i) == domain.SignalInteger {
			v = domain.IntValue(int64(int32(raw)))
		} else {
			v = domain.FloatValue(float64(math.Float32frombits(raw)))
		}
		_ = s.Append(v)
	}
	return total, nil
}
