package loopback

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthiasnowak/villasnode/internal/adapters/nodes"
	"github.com/matthiasnowak/villasnode/internal/domain"
	"github.com/matthiasnowak/villasnode/internal/ports"
)

var signals = domain.SignalList{{Name: "a", Type: domain.SignalFloat}}

func TestLoopbackRoundTrip(t *testing.T) {
	n, err := New("lo", signals, ports.Options{"queuelen": 4})
	require.NoError(t, err)
	require.NoError(t, n.Start(context.Background()))
	defer n.Stop()

	src, _ := domain.NewPool(3, 1)
	in := make([]*domain.Sample, 3)
	require.NoError(t, src.AllocateMany(in))
	for i, s := range in {
		s.Sequence = uint64(i + 1)
		s.Flags |= domain.HasSequence
		require.NoError(t, s.Append(domain.FloatValue(float64(i))))
	}

	written, release, err := n.Write(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 3, written)
	assert.Equal(t, 0, release)
	assert.Equal(t, 0, src.Free(), "node keeps the references")

	dst, _ := domain.NewPool(3, 1)
	out := make([]*domain.Sample, 3)
	require.NoError(t, dst.AllocateMany(out))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := n.Read(ctx, out)
	require.NoError(t, err)
	require.Equal(t, 3, got)
	for i := range out {
		assert.True(t, domain.Equal(in[i], out[i]))
	}
	assert.Equal(t, 3, src.Free(), "read releases the written samples")
}

func TestLoopbackOverflowLeavesRemainderWithCaller(t *testing.T) {
	n, err := New("lo", signals, ports.Options{"queuelen": 2})
	require.NoError(t, err)
	require.NoError(t, n.Start(context.Background()))
	defer n.Stop()

	pool, _ := domain.NewPool(3, 1)
	in := make([]*domain.Sample, 3)
	require.NoError(t, pool.AllocateMany(in))
	written, _, err := n.Write(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 2, written)
	assert.Equal(t, int32(1), in[2].Refs())
}

func TestLoopbackCountsTruncatedReads(t *testing.T) {
	n, err := New("lo", signals, ports.Options{"queuelen": 4})
	require.NoError(t, err)
	require.NoError(t, n.Start(context.Background()))
	defer n.Stop()

	wide, _ := domain.NewPool(2, 2)
	in := make([]*domain.Sample, 2)
	require.NoError(t, wide.AllocateMany(in))
	require.NoError(t, in[0].Append(domain.FloatValue(1)))
	require.NoError(t, in[0].Append(domain.FloatValue(2)))
	require.NoError(t, in[1].Append(domain.FloatValue(3)))
	_, _, err = n.Write(context.Background(), in)
	require.NoError(t, err)

	narrow, _ := domain.NewPool(2, 1)
	out := make([]*domain.Sample, 2)
	require.NoError(t, narrow.AllocateMany(out))
	got, err := n.Read(context.Background(), out)
	require.NoError(t, err)
	require.Equal(t, 2, got)
	assert.Equal(t, 1, out[0].Len())
	assert.Equal(t, uint64(1), n.Truncated())
}

func TestLoopbackNotStarted(t *testing.T) {
	n, err := New("lo", signals, nil)
	require.NoError(t, err)
	_, _, err = n.Write(context.Background(), nil)
	require.ErrorIs(t, err, nodes.ErrNotStarted)
	_, err = n.Read(context.Background(), make([]*domain.Sample, 1))
	require.ErrorIs(t, err, nodes.ErrNotStarted)
}

func TestLoopbackStopReleasesQueued(t *testing.T) {
	n, err := New("lo", signals, nil)
	require.NoError(t, err)
	require.NoError(t, n.Start(context.Background()))

	pool, _ := domain.NewPool(2, 1)
	in := make([]*domain.Sample, 2)
	require.NoError(t, pool.AllocateMany(in))
	_, _, err = n.Write(context.Background(), in)
	require.NoError(t, err)

	require.NoError(t, n.Stop())
	assert.Equal(t, 2, pool.Free())
	assert.NoError(t, pool.Close())
}
