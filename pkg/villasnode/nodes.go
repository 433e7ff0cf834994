package villasnode

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/matthiasnowak/villasnode/internal/adapters/nodes"
	"github.com/matthiasnowak/villasnode/internal/domain"
	"github.com/matthiasnowak/villasnode/internal/ports"
)

// ExternalType is the node type of nodes supplied by Go code. A config entry
// {type: external} refers to the node passed with WithNode under that name.
const ExternalType = "external"

var (
	// ErrChannelClosed is returned when a channel node is written to after being closed.
	ErrChannelClosed = errors.New("villasnode: channel node closed")
	// ErrQueueFull is returned by Publish when the publisher buffer cannot take every sample.
	ErrQueueFull = errors.New("villasnode: queue full")
)

// BatchFunc is invoked with every batch a path writes to a callback node.
type BatchFunc func([]Sample) error

// NewCallbackNode adapts fn into a write-only node so callers can consume
// samples without implementing Node.
func NewCallbackNode(name string, fn BatchFunc) Node {
	if name == "" {
		name = "callback"
	}
	return &callbackNode{Info: nodes.NewInfo(name, ExternalType, ports.NodeWrite, nil), fn: fn}
}

type callbackNode struct {
	nodes.Info
	fn BatchFunc
}

func (n *callbackNode) Start(context.Context) error { return nil }
func (n *callbackNode) Stop() error                 { return nil }

func (n *callbackNode) Read(context.Context, []*domain.Sample) (int, error) {
	return 0, ports.ErrNotSupported
}

func (n *callbackNode) Write(_ context.Context, smps []*domain.Sample) (int, int, error) {
	if n.fn == nil {
		return 0, 0, fmt.Errorf("callback node %q: nil handler", n.Name())
	}
	if len(smps) == 0 {
		return 0, 0, nil
	}
	if err := n.fn(convertDomainBatch(smps)); err != nil {
		return 0, 0, err
	}
	return len(smps), len(smps), nil
}

// NewChannelNode exposes written batches on a channel. It returns the node,
// the receive side and a close function to call during shutdown. Write
// blocks while the channel is full.
func NewChannelNode(name string, buffer int) (Node, <-chan []Sample, func()) {
	if name == "" {
		name = "channel"
	}
	ch := make(chan []Sample, max(0, buffer))
	n := &channelNode{
		Info:   nodes.NewInfo(name, ExternalType, ports.NodeWrite, nil),
		ch:     ch,
		closed: make(chan struct{}),
	}
	return n, ch, n.close
}

type channelNode struct {
	nodes.Info
	ch     chan []Sample
	closed chan struct{}
	mu     sync.RWMutex
	once   sync.Once
}

func (n *channelNode) Start(context.Context) error { return nil }
func (n *channelNode) Stop() error                 { return nil }

func (n *channelNode) Read(context.Context, []*domain.Sample) (int, error) {
	return 0, ports.ErrNotSupported
}

func (n *channelNode) Write(ctx context.Context, smps []*domain.Sample) (int, int, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	select {
	case <-n.closed:
		return 0, 0, ErrChannelClosed
	default:
	}
	if len(smps) == 0 {
		return 0, 0, nil
	}

	batch := convertDomainBatch(smps)
	select {
	case <-n.closed:
		return 0, 0, ErrChannelClosed
	case <-ctx.Done():
		return 0, 0, ctx.Err()
	case n.ch <- batch:
		return len(smps), len(smps), nil
	}
}

func (n *channelNode) close() {
	n.once.Do(func() {
		close(n.closed)
		// wait for writers blocked on the channel before closing it
		n.mu.Lock()
		close(n.ch)
		n.mu.Unlock()
	})
}

// Publisher is a read-only node fed by Go code: samples handed to Publish
// are read by the path that has the publisher as source.
type Publisher struct {
	nodes.Info
	queueLen int
	inbox    nodes.InboxRef
}

// NewPublisher creates a publisher for samples of the given schema. Up to
// queueLen samples are buffered until the path reads them.
func NewPublisher(name string, signals SignalList, queueLen int) *Publisher {
	if queueLen <= 0 {
		queueLen = 1024
	}
	return &Publisher{
		Info:     nodes.NewInfo(name, ExternalType, ports.NodeRead|ports.NodePoll, signals),
		queueLen: queueLen,
	}
}

func (p *Publisher) Start(context.Context) error {
	_, err := p.inbox.Open(p.queueLen, max(1, len(p.Signals())))
	return err
}

func (p *Publisher) Stop() error {
	p.inbox.Close()
	return nil
}

// Publish buffers the samples. Samples that do not fit are dropped and
// ErrQueueFull is returned.
func (p *Publisher) Publish(smps ...Sample) error {
	inbox := p.inbox.Load()
	if inbox == nil {
		return nodes.ErrNotStarted
	}
	batch := make([]*domain.Sample, len(smps))
	if err := inbox.Allocate(batch); err != nil {
		return fmt.Errorf("%w: %w", ErrQueueFull, err)
	}
	for i, s := range smps {
		if err := s.into(batch[i]); err != nil {
			domain.DecRefMany(batch)
			return fmt.Errorf("sample %d: %w", i, err)
		}
	}
	if inbox.Push(batch) < len(batch) {
		return ErrQueueFull
	}
	return nil
}

func (p *Publisher) Read(ctx context.Context, smps []*domain.Sample) (int, error) {
	return p.inbox.Read(ctx, smps)
}

func (p *Publisher) Write(context.Context, []*domain.Sample) (int, int, error) {
	return 0, 0, ports.ErrNotSupported
}

func (p *Publisher) PollHandles() []<-chan struct{} { return p.inbox.PollHandles() }

var (
	_ Node           = (*callbackNode)(nil)
	_ Node           = (*channelNode)(nil)
	_ Node           = (*Publisher)(nil)
	_ ports.Pollable = (*Publisher)(nil)
)
