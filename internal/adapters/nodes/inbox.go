// Package nodes holds what the node adapters share. Each node type lives in
// its own sub-package.
package nodes

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/matthiasnowak/villasnode/internal/adapters/queue"
	"github.com/matthiasnowak/villasnode/internal/domain"
)

// Inbox buffers samples produced by a node's own receiver goroutine until
// the path reads them. Receivers fill samples from the inbox pool and Push
// them; Read copies them into the caller's samples and releases the
// originals.
type Inbox struct {
	pool    *domain.Pool
	q       *queue.Signalled
	scratch []*domain.Sample
	dropped atomic.Uint64

	// samples cut short because the reader's blocks were narrower
	truncated atomic.Uint64
}

// NewInbox creates an inbox holding up to capacity samples of width values.
// A zero width skips the pool; Allocate then fails and only foreign samples
// can be pushed.
func NewInbox(capacity, width int) (*Inbox, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("inbox capacity must be positive, got %d", capacity)
	}
	b := &Inbox{q: queue.New(capacity, queue.ModeFailFast)}
	if width > 0 {
		// one extra batch in flight inside the receiver
		pool, err := domain.NewPool(b.q.Cap()*2, width)
		if err != nil {
			return nil, err
		}
		b.pool = pool
	}
	return b, nil
}

func (b *Inbox) Pool() *domain.Pool { return b.pool }

// Allocate draws fresh samples for the receiver.
func (b *Inbox) Allocate(dst []*domain.Sample) error {
	if b.pool == nil {
		return fmt.Errorf("inbox without pool: %w", domain.ErrPoolExhausted)
	}
	return b.pool.AllocateMany(dst)
}

// BatchSize bounds a receiver batch so that a full queue plus one batch in
// flight fit in the pool.
func (b *Inbox) BatchSize(limit int) int { return min(limit, b.q.Cap()) }

// Push hands the references of smps to the inbox. Samples that do not fit
// are released and counted as dropped.
func (b *Inbox) Push(smps []*domain.Sample) int {
	n, _ := b.q.PushMany(context.Background(), smps)
	if n < len(smps) {
		b.dropped.Add(uint64(domain.DecRefMany(smps[n:])))
	}
	return n
}

// Enqueue is Push without the drop: the caller keeps the references of
// samples that did not fit.
func (b *Inbox) Enqueue(ctx context.Context, smps []*domain.Sample) (int, error) {
	n, err := b.q.PushMany(ctx, smps)
	if errors.Is(err, queue.ErrQueueOverflow) {
		err = nil
	}
	return n, err
}

// Read blocks until samples are available and copies up to len(dst) of them.
// Values beyond a destination's capacity are cut off and counted. It must not
// be called concurrently.
func (b *Inbox) Read(ctx context.Context, dst []*domain.Sample) (int, error) {
	if cap(b.scratch) < len(dst) {
		b.scratch = make([]*domain.Sample, len(dst))
	}
	tmp := b.scratch[:len(dst)]
	n, err := b.q.PullMany(ctx, tmp)
	if n == 0 {
		return 0, err
	}
	for i := range tmp[:n] {
		if tmp[i].Len() > dst[i].Capacity() {
			b.truncated.Add(1)
		}
	}
	domain.CopyMany(dst[:n], tmp[:n])
	domain.DecRefMany(tmp[:n])
	clear(tmp[:n])
	return n, nil
}

func (b *Inbox) PollHandles() []<-chan struct{} {
	return []<-chan struct{}{b.q.PollHandle()}
}

func (b *Inbox) Len() int { return b.q.Len() }

func (b *Inbox) Dropped() uint64 { return b.dropped.Load() }

func (b *Inbox) Truncated() uint64 { return b.truncated.Load() }

// Close wakes blocked readers and releases everything still buffered.
func (b *Inbox) Close() {
	b.q.Close()
	b.q.Drain(func(s *domain.Sample) { s.DecRef() })
}
