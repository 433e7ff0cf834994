package format

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthiasnowak/villasnode/internal/domain"
)

var testSignals = domain.SignalList{
	{Name: "voltage", Unit: "V", Type: domain.SignalFloat},
	{Name: "counter", Type: domain.SignalInteger},
}

func samples(t *testing.T, n, capacity int) []*domain.Sample {
	t.Helper()
	pool, err := domain.NewPool(n, capacity)
	require.NoError(t, err)
	smps := make([]*domain.Sample, n)
	require.NoError(t, pool.AllocateMany(smps))
	return smps
}

func fill(s *domain.Sample, seq uint64, f float64, i int64) {
	s.Sequence = seq
	s.TS.Origin = time.Unix(1700000000, 250000000+int64(seq))
	s.Flags = domain.HasSequence | domain.HasTSOrigin
	_ = s.Append(domain.FloatValue(f))
	_ = s.Append(domain.IntValue(i))
}

func TestBinaryRoundTrip(t *testing.T) {
	in := samples(t, 2, 2)
	fill(in[0], 1, 0.5, -3)
	fill(in[1], 2, 1.25, 7)

	b := &Binary{Signals: testSignals}
	data, err := b.Encode(in)
	require.NoError(t, err)
	assert.Len(t, data, 2*MsgLen(2))

	out := samples(t, 2, 2)
	n, err := b.Decode(data, out)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	for i := range in {
		assert.Equal(t, in[i].Sequence, out[i].Sequence)
		assert.True(t, in[i].TS.Origin.Equal(out[i].TS.Origin))
		assert.Equal(t, in[i].Value(0).Float(), out[i].Value(0).Float())
		assert.Equal(t, domain.SignalInteger, out[i].Value(1).Type())
		assert.Equal(t, in[i].Value(1).Int(), out[i].Value(1).Int())
	}
}

func TestBinaryDecodeErrors(t *testing.T) {
	b := &Binary{}
	out := samples(t, 1, 1)

	_, err := b.Decode(make([]byte, 4), out)
	assert.Error(t, err)

	big := samples(t, 1, 3)
	_ = big[0].Append(domain.FloatValue(1))
	_ = big[0].Append(domain.FloatValue(2))
	data, err := b.Encode(big)
	require.NoError(t, err)
	_, err = b.Decode(data, out)
	assert.ErrorIs(t, err, domain.ErrCapacityExceeded)

	two, err := b.Encode(samples(t, 2, 0))
	require.NoError(t, err)
	n, err := b.Decode(two, out)
	assert.Equal(t, 1, n)
	assert.ErrorIs(t, err, ErrTooManySamples)
}

func TestHumanParseLine(t *testing.T) {
	h := &Human{Signals: testSignals}
	s := samples(t, 1, 4)[0]

	require.NoError(t, h.ParseLine("1700000000.000000500+2.000000e-01(42)\t1.5\t-3", s))
	assert.Equal(t, uint64(42), s.Sequence)
	assert.True(t, s.Flags.Has(domain.HasSequence|domain.HasTSOrigin|domain.HasOffset))
	assert.Equal(t, time.Unix(1700000000, 500).UnixNano(), s.TS.Origin.UnixNano())
	assert.Equal(t, 200*time.Millisecond, s.TS.Received.Sub(s.TS.Origin))
	require.Equal(t, 2, s.Len())
	assert.Equal(t, 1.5, s.Value(0).Float())
	assert.Equal(t, int64(-3), s.Value(1).Int())

	require.NoError(t, h.ParseLine("1700000001 4.0", s))
	assert.False(t, s.Flags.Has(domain.HasSequence))
	assert.Equal(t, 1, s.Len())

	assert.Error(t, h.ParseLine("abc 1.0", s))
	assert.Error(t, h.ParseLine("17.(3)", s))
}

func TestHumanRejectsTooManyValues(t *testing.T) {
	h := &Human{Signals: testSignals}
	narrow := samples(t, 1, 1)

	err := h.ParseLine("1700000000 1.0 2", narrow[0])
	assert.ErrorIs(t, err, domain.ErrCapacityExceeded)

	n, err := h.Decode([]byte("1700000000 1.0\n1700000001 1.0 2\n"), samples(t, 2, 1))
	assert.Equal(t, 1, n)
	assert.ErrorIs(t, err, domain.ErrCapacityExceeded)
}

func TestHumanRoundTrip(t *testing.T) {
	in := samples(t, 2, 2)
	fill(in[0], 7, 3.125, 11)
	fill(in[1], 8, -0.5, 12)

	h := &Human{Signals: testSignals}
	data, err := h.Encode(in)
	require.NoError(t, err)
	data = append([]byte(h.Header()), data...)

	out := samples(t, 3, 2)
	n, err := h.Decode(data, out)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	for i := range in {
		assert.Equal(t, in[i].Sequence, out[i].Sequence)
		assert.Equal(t, in[i].TS.Origin.UnixNano(), out[i].TS.Origin.UnixNano())
		assert.Equal(t, in[i].Values(), out[i].Values())
	}
}

func TestRecordCodecsRoundTrip(t *testing.T) {
	for _, f := range []Format{JSON{}, CBOR{}} {
		t.Run(f.Name(), func(t *testing.T) {
			in := samples(t, 1, 2)
			fill(in[0], 3, 9.75, -1)
			in[0].TS.Received = in[0].TS.Origin.Add(time.Millisecond)
			in[0].Flags |= domain.HasTSReceived

			data, err := f.Encode(in)
			require.NoError(t, err)

			out := samples(t, 1, 2)
			n, err := f.Decode(data, out)
			require.NoError(t, err)
			require.Equal(t, 1, n)
			assert.True(t, domain.Equal(in[0], out[0]))
		})
	}
}

func TestLookup(t *testing.T) {
	for _, name := range []string{"binary", "villas.human", "json", "cbor"} {
		_, err := Lookup(name, nil)
		assert.NoError(t, err, name)
	}
	_, err := Lookup("protobuf", nil)
	assert.Error(t, err)
}
