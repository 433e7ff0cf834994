package nats

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthiasnowak/villasnode/internal/adapters/format"
	"github.com/matthiasnowak/villasnode/internal/domain"
	"github.com/matthiasnowak/villasnode/internal/ports"
)

var signals = domain.SignalList{{Name: "x", Type: domain.SignalInteger}}

func TestOptions(t *testing.T) {
	_, err := New("n", signals, nil, nil)
	require.Error(t, err)

	n, err := New("n", signals, ports.Options{"in": map[string]any{"subject": "villas.in"}}, nil)
	require.NoError(t, err)
	assert.True(t, n.Capabilities().Has(ports.NodeRead))
	assert.False(t, n.Capabilities().Has(ports.NodeWrite))
	assert.Equal(t, "cbor", n.format.Name())
	assert.Equal(t, -1, n.cfg.MaxReconnects)

	_, _, err = n.Write(context.Background(), nil)
	require.Error(t, err)
}

func TestHandleDecodesIntoInbox(t *testing.T) {
	n, err := New("n", signals, ports.Options{"in": map[string]any{"subject": "s"}, "format": "json"}, nil)
	require.NoError(t, err)
	inbox, err := n.inbox.Open(8, 1)
	require.NoError(t, err)
	defer n.inbox.Close()

	pool, _ := domain.NewPool(4, 1)
	src := make([]*domain.Sample, 2)
	require.NoError(t, pool.AllocateMany(src))
	for i, s := range src {
		s.Sequence = uint64(i + 5)
		s.Flags |= domain.HasSequence
		require.NoError(t, s.Append(domain.IntValue(int64(i*3))))
	}
	data, err := format.JSON{}.Encode(src)
	require.NoError(t, err)
	domain.DecRefMany(src)

	n.handle(inbox, data)
	n.handle(inbox, []byte("not json"))
	assert.Equal(t, 2, inbox.Len())

	out := make([]*domain.Sample, 2)
	require.NoError(t, pool.AllocateMany(out))
	got, err := n.Read(context.Background(), out)
	require.NoError(t, err)
	require.Equal(t, 2, got)
	assert.Equal(t, uint64(6), out[1].Sequence)
	assert.Equal(t, int64(3), out[1].Value(0).Int())
	domain.DecRefMany(out)
	assert.Equal(t, 4, pool.Free())
}
