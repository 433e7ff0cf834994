package file

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthiasnowak/villasnode/internal/domain"
	"github.com/matthiasnowak/villasnode/internal/ports"
)

var signals = domain.SignalList{
	{Name: "v", Type: domain.SignalFloat},
	{Name: "n", Type: domain.SignalInteger},
}

func samples(t *testing.T, pool *domain.Pool, count int) []*domain.Sample {
	t.Helper()
	smps := make([]*domain.Sample, count)
	require.NoError(t, pool.AllocateMany(smps))
	for i, s := range smps {
		s.Sequence = uint64(i)
		s.TS.Origin = time.Unix(1600000000+int64(i), 250)
		s.Flags |= domain.HasSequence | domain.HasTSOrigin
		require.NoError(t, s.Append(domain.FloatValue(float64(i)+0.5)))
		require.NoError(t, s.Append(domain.IntValue(int64(i))))
	}
	return smps
}

func writeThenRead(t *testing.T, uri string) {
	ctx := context.Background()
	pool, _ := domain.NewPool(8, 2)

	w, err := New("out", signals, ports.Options{"uri": uri})
	require.NoError(t, err)
	require.NoError(t, w.Start(ctx))
	in := samples(t, pool, 3)
	written, release, err := w.Write(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, 3, written)
	assert.Equal(t, 3, release)
	require.NoError(t, w.Stop())

	r, err := New("in", signals, ports.Options{"uri": uri})
	require.NoError(t, err)
	require.NoError(t, r.Start(ctx))
	defer r.Stop()

	out := make([]*domain.Sample, 4)
	require.NoError(t, pool.AllocateMany(out))
	n, err := r.Read(ctx, out)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	for i := 0; i < n; i++ {
		assert.Equal(t, in[i].Sequence, out[i].Sequence)
		assert.True(t, in[i].TS.Origin.Equal(out[i].TS.Origin))
		assert.Equal(t, in[i].Value(0), out[i].Value(0))
		assert.Equal(t, in[i].Value(1), out[i].Value(1))
	}

	_, err = r.Read(ctx, out[:1])
	assert.ErrorIs(t, err, io.EOF)
}

func TestFileRoundTrip(t *testing.T) {
	uri := filepath.Join(t.TempDir(), "samples.txt")
	writeThenRead(t, uri)

	raw, err := os.ReadFile(uri)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), "# seconds.nanoseconds"))
}

func TestFileRoundTripGzip(t *testing.T) {
	writeThenRead(t, filepath.Join(t.TempDir(), "samples.txt.gz"))
}

func TestFileRewind(t *testing.T) {
	uri := filepath.Join(t.TempDir(), "two.txt")
	require.NoError(t, os.WriteFile(uri, []byte("# header\n1.0(1)\t1\t1\n2.0(2)\t2\t2"), 0o644))

	r, err := New("in", signals, ports.Options{"uri": uri, "in": map[string]any{"eof": "rewind"}})
	require.NoError(t, err)
	require.NoError(t, r.Start(context.Background()))
	defer r.Stop()

	pool, _ := domain.NewPool(5, 2)
	out := make([]*domain.Sample, 5)
	require.NoError(t, pool.AllocateMany(out))
	n, err := r.Read(context.Background(), out)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	var seqs []uint64
	for _, s := range out {
		seqs = append(seqs, s.Sequence)
	}
	assert.Equal(t, []uint64{1, 2, 1, 2, 1}, seqs)
}

func TestFileRateAndDirectEpoch(t *testing.T) {
	uri := filepath.Join(t.TempDir(), "paced.txt")
	require.NoError(t, os.WriteFile(uri, []byte("1.0\t1\t1\n2.0\t2\t2\n3.0\t3\t3\n"), 0o644))

	r, err := New("in", signals, ports.Options{
		"uri": uri,
		"in":  map[string]any{"rate": 50, "epoch_mode": "direct"},
	})
	require.NoError(t, err)
	require.NoError(t, r.Start(context.Background()))
	defer r.Stop()

	pool, _ := domain.NewPool(3, 2)
	out := make([]*domain.Sample, 3)
	require.NoError(t, pool.AllocateMany(out))

	start := time.Now()
	n, err := r.Read(context.Background(), out)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.True(t, out[0].TS.Origin.After(start.Add(-time.Second)))
}

func TestFileRejectsBadOptions(t *testing.T) {
	_, err := New("x", signals, nil)
	require.Error(t, err)
	_, err = New("x", signals, ports.Options{"uri": "a", "in": map[string]any{"eof": "explode"}})
	require.Error(t, err)
}
