package queue

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/matthiasnowak/villasnode/internal/domain"
	"github.com/matthiasnowak/villasnode/internal/ports"
)

var (
	// ErrQueueOverflow is returned by a fail-fast push that could not place every sample.
	ErrQueueOverflow = errors.New("queue overflow")
	// ErrQueueClosed is returned once the queue is closed and drained.
	ErrQueueClosed = errors.New("queue closed")
)

// Mode selects what PushMany does when the queue is full.
type Mode int

const (
	// ModeFailFast accepts what fits and reports the rest as overflow.
	ModeFailFast Mode = iota
	// ModeBlock waits for the consumer to free space.
	ModeBlock
)

func (m Mode) String() string {
	if m == ModeBlock {
		return "block"
	}
	return "fail_fast"
}

// ParseMode maps configuration names onto a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "drop", "fail_fast", "failfast", "reject":
		return ModeFailFast, nil
	case "block":
		return ModeBlock, nil
	default:
		return 0, fmt.Errorf("unknown queue mode %q", s)
	}
}

// Signalled is a bounded FIFO of sample references with a power-of-two ring,
// a readiness channel for consumers and a space channel for blocked producers.
type Signalled struct {
	mu     sync.Mutex
	buf    []*domain.Sample
	mask   uint64
	head   uint64 // next read position
	tail   uint64 // next write position
	mode   Mode
	closed bool

	ready chan struct{}
	space chan struct{}
	done  chan struct{}

	overflows atomic.Uint64
}

// New creates a queue holding at least capacity samples. The capacity is
// rounded up to the next power of two.
func New(capacity int, mode Mode) *Signalled {
	size := 1
	for size < capacity {
		size <<= 1
	}
	return &Signalled{
		buf:   make([]*domain.Sample, size),
		mask:  uint64(size - 1),
		mode:  mode,
		ready: make(chan struct{}, 1),
		space: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// PushMany appends smps in order and returns how many were accepted. In
// fail-fast mode the remainder stays with the caller and ErrQueueOverflow is
// returned; in block mode the call waits for space until ctx is done or the
// queue is closed.
func (q *Signalled) PushMany(ctx context.Context, smps []*domain.Sample) (int, error) {
	pushed := 0
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return pushed, ErrQueueClosed
		}
		free := uint64(len(q.buf)) - (q.tail - q.head)
		n := min(int(free), len(smps)-pushed)
		for i := 0; i < n; i++ {
			q.buf[(q.tail+uint64(i))&q.mask] = smps[pushed+i]
		}
		q.tail += uint64(n)
		left := uint64(len(q.buf)) - (q.tail - q.head)
		q.mu.Unlock()

		pushed += n
		if n > 0 {
			notify(q.ready)
		}
		if pushed == len(smps) {
			if left > 0 {
				// another blocked producer may fit now
				notify(q.space)
			}
			return pushed, nil
		}

		if q.mode == ModeFailFast {
			rejected := len(smps) - pushed
			q.overflows.Add(uint64(rejected))
			return pushed, fmt.Errorf("%d of %d samples rejected: %w", rejected, len(smps), ErrQueueOverflow)
		}

		select {
		case <-q.space:
		case <-ctx.Done():
			return pushed, ctx.Err()
		case <-q.done:
			return pushed, ErrQueueClosed
		}
	}
}

// TryPullMany moves up to len(out) samples into out without blocking.
func (q *Signalled) TryPullMany(out []*domain.Sample) int {
	q.mu.Lock()
	avail := q.tail - q.head
	n := min(int(avail), len(out))
	for i := 0; i < n; i++ {
		idx := (q.head + uint64(i)) & q.mask
		out[i] = q.buf[idx]
		q.buf[idx] = nil
	}
	q.head += uint64(n)
	remaining := q.tail - q.head
	q.mu.Unlock()

	if n > 0 {
		notify(q.space)
	}
	if remaining > 0 {
		notify(q.ready)
	}
	return n
}

// PullMany blocks until at least one sample is available, then moves up to
// len(out) samples into out in FIFO order. A closed queue is drained before
// ErrQueueClosed is returned.
func (q *Signalled) PullMany(ctx context.Context, out []*domain.Sample) (int, error) {
	if len(out) == 0 {
		return 0, nil
	}
	for {
		if n := q.TryPullMany(out); n > 0 {
			return n, nil
		}
		if q.isClosed() {
			return 0, ErrQueueClosed
		}
		select {
		case <-q.ready:
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-q.done:
		}
	}
}

// PollHandle returns a channel that receives a token whenever samples become
// available. A token may be stale; consumers must tolerate empty pulls.
func (q *Signalled) PollHandle() <-chan struct{} { return q.ready }

// Done is closed by Close.
func (q *Signalled) Done() <-chan struct{} { return q.done }

func (q *Signalled) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int(q.tail - q.head)
}

func (q *Signalled) Cap() int { return len(q.buf) }

func (q *Signalled) Mode() Mode { return q.mode }

// Overflows returns the number of samples rejected in fail-fast mode.
func (q *Signalled) Overflows() uint64 { return q.overflows.Load() }

// Close wakes every waiter. Samples still queued can be pulled or drained.
func (q *Signalled) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
}

// Drain pulls every queued sample and passes it to fn.
func (q *Signalled) Drain(fn func(*domain.Sample)) int {
	var (
		buf   [64]*domain.Sample
		total int
	)
	for {
		n := q.TryPullMany(buf[:])
		if n == 0 {
			return total
		}
		for _, s := range buf[:n] {
			fn(s)
		}
		total += n
	}
}

func (q *Signalled) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Poll waits until one of the handles fires or ctx is done and returns the
// index of the handle that fired.
func Poll(ctx context.Context, handles ...<-chan struct{}) (int, error) {
	switch len(handles) {
	case 0:
		<-ctx.Done()
		return -1, ctx.Err()
	case 1:
		select {
		case <-handles[0]:
			return 0, nil
		case <-ctx.Done():
			return -1, ctx.Err()
		}
	}

	cases := make([]reflect.SelectCase, 0, len(handles)+1)
	for _, h := range handles {
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(h)})
	}
	cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())})

	chosen, _, _ := reflect.Select(cases)
	if chosen == len(handles) {
		return -1, ctx.Err()
	}
	return chosen, nil
}

var _ ports.SampleQueue = (*Signalled)(nil)
