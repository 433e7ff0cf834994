package villasnode

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/matthiasnowak/villasnode/internal/domain"
)

func domainBatch(t *testing.T, n int) ([]*domain.Sample, *domain.Pool) {
	t.Helper()
	pool, err := domain.NewPool(n, 2)
	if err != nil {
		t.Fatalf("NewPool returned error: %v", err)
	}
	smps := make([]*domain.Sample, n)
	if err := pool.AllocateMany(smps); err != nil {
		t.Fatalf("AllocateMany returned error: %v", err)
	}
	for i, s := range smps {
		in := Sample{Sequence: uint64(42 + i), Origin: time.Unix(1, 0), Values: []Value{Float(3.14), Int(int64(i))}}
		if err := in.into(s); err != nil {
			t.Fatalf("into returned error: %v", err)
		}
	}
	return smps, pool
}

func TestNewCallbackNode(t *testing.T) {
	var received []Sample
	node := NewCallbackNode("cb", func(batch []Sample) error {
		received = append(received, batch...)
		return nil
	})
	smps, _ := domainBatch(t, 1)

	n, release, err := node.Write(context.Background(), smps)
	if err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	if n != 1 || release != 1 {
		t.Fatalf("expected 1 written and released, got %d/%d", n, release)
	}
	if len(received) != 1 {
		t.Fatalf("expected 1 batch entry, got %d", len(received))
	}
	got := received[0]
	if got.Sequence != 42 || !got.Origin.Equal(time.Unix(1, 0)) {
		t.Fatalf("mismatched sample payload: %+v", got)
	}
	if got.Values[0].Float() != 3.14 {
		t.Fatalf("expected value to be copied, got %v", got.Values[0])
	}
	if _, err := node.Read(context.Background(), smps); err == nil {
		t.Fatalf("expected callback node to be write-only")
	}
}

func TestNewCallbackNodeNilHandler(t *testing.T) {
	node := NewCallbackNode("", nil)
	if node.Name() != "callback" {
		t.Fatalf("expected default name, got %q", node.Name())
	}
	smps, _ := domainBatch(t, 1)
	if _, _, err := node.Write(context.Background(), smps); err == nil {
		t.Fatalf("expected error when callback is nil")
	}
}

func TestNewChannelNode(t *testing.T) {
	node, ch, closeFn := NewChannelNode("chan", 1)
	defer closeFn()
	smps, _ := domainBatch(t, 1)

	errCh := make(chan error, 1)
	go func() {
		_, _, err := node.Write(context.Background(), smps)
		errCh <- err
	}()

	var batch []Sample
	select {
	case batch = <-ch:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for channel batch")
	}

	if err := <-errCh; err != nil {
		t.Fatalf("Write returned error: %v", err)
	}
	if len(batch) != 1 || batch[0].Sequence != 42 {
		t.Fatalf("unexpected batch data: %+v", batch)
	}

	closeFn()
	if _, _, err := node.Write(context.Background(), smps); !errors.Is(err, ErrChannelClosed) {
		t.Fatalf("expected ErrChannelClosed, got %v", err)
	}
}

func TestPublisher(t *testing.T) {
	pub := NewPublisher("pub", testSignals(), 2)
	if err := pub.Publish(Sample{}); err == nil {
		t.Fatalf("expected Publish before Start to fail")
	}

	ctx := context.Background()
	if err := pub.Start(ctx); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer pub.Stop()

	if err := pub.Publish(Sample{Values: []Value{Float(1), Int(2)}}); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}
	if err := pub.Publish(Sample{Values: []Value{Float(1), Int(2), Int(3)}}); err == nil {
		t.Fatalf("expected error for sample wider than the schema")
	}

	dst, _ := domainBatch(t, 2)
	n, err := pub.Read(ctx, dst)
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if n != 1 || dst[0].Len() != 2 || dst[0].Value(1).Int() != 2 {
		t.Fatalf("unexpected read: n=%d sample=%v", n, dst[0].Values())
	}
	if dst[0].Flags.Has(domain.HasSequence) {
		t.Fatalf("expected sequence to stay unset")
	}
}
