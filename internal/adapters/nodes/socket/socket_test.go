package socket

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthiasnowak/villasnode/internal/domain"
	"github.com/matthiasnowak/villasnode/internal/ports"
)

var signals = domain.SignalList{
	{Name: "a", Type: domain.SignalFloat},
	{Name: "b", Type: domain.SignalInteger},
}

func TestSocketSendReceive(t *testing.T) {
	ctx := context.Background()
	rx, err := New("rx", signals, ports.Options{"in": map[string]any{"address": "127.0.0.1:0"}}, nil)
	require.NoError(t, err)
	require.NoError(t, rx.Start(ctx))
	defer rx.Stop()

	tx, err := New("tx", signals, ports.Options{"out": map[string]any{"address": rx.LocalAddr().String()}}, nil)
	require.NoError(t, err)
	assert.False(t, tx.Capabilities().Has(ports.NodeRead))
	require.NoError(t, tx.Start(ctx))
	defer tx.Stop()

	pool, _ := domain.NewPool(4, 2)
	in := make([]*domain.Sample, 2)
	require.NoError(t, pool.AllocateMany(in))
	for i, s := range in {
		s.Sequence = uint64(10 + i)
		s.TS.Origin = time.Unix(100, int64(i))
		s.Flags |= domain.HasSequence | domain.HasTSOrigin
		require.NoError(t, s.Append(domain.FloatValue(1.25)))
		require.NoError(t, s.Append(domain.IntValue(int64(-i))))
	}
	written, release, err := tx.Write(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, 2, written)
	assert.Equal(t, 2, release)

	out := make([]*domain.Sample, 2)
	require.NoError(t, pool.AllocateMany(out))
	rctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	got := 0
	for got < 2 {
		n, err := rx.Read(rctx, out[got:])
		require.NoError(t, err)
		got += n
	}
	for i := range in {
		assert.Equal(t, in[i].Sequence, out[i].Sequence)
		assert.Equal(t, in[i].Value(1).Int(), out[i].Value(1).Int())
		assert.InDelta(t, 1.25, out[i].Value(0).Float(), 1e-6)
	}
}

func TestSocketRequiresAddress(t *testing.T) {
	_, err := New("s", signals, nil, nil)
	require.Error(t, err)
}

func TestSocketWriteBeforeStart(t *testing.T) {
	n, err := New("s", signals, ports.Options{"out": map[string]any{"address": "127.0.0.1:9"}}, nil)
	require.NoError(t, err)
	_, _, err = n.Write(context.Background(), nil)
	require.Error(t, err)
}
