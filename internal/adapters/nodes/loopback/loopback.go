// Package loopback implements a node that reads back whatever was written to
// it. It is used to chain paths inside one process.
package loopback

import (
	"context"

	"github.com/matthiasnowak/villasnode/internal/adapters/nodes"
	"github.com/matthiasnowak/villasnode/internal/domain"
	"github.com/matthiasnowak/villasnode/internal/ports"
)

const Type = "loopback"

type Config struct {
	QueueLen int `yaml:"queuelen"`
}

type Node struct {
	nodes.Info
	cfg   Config
	inbox nodes.InboxRef
}

func New(name string, signals domain.SignalList, opts ports.Options) (*Node, error) {
	cfg := Config{QueueLen: 1024}
	if err := opts.Decode(&cfg); err != nil {
		return nil, err
	}
	if cfg.QueueLen <= 0 {
		cfg.QueueLen = 1024
	}
	return &Node{
		Info: nodes.NewInfo(name, Type, ports.NodeRead|ports.NodeWrite|ports.NodePoll, signals),
		cfg:  cfg,
	}, nil
}

func (n *Node) Start(context.Context) error {
	_, err := n.inbox.Open(n.cfg.QueueLen, 0)
	return err
}

func (n *Node) Stop() error {
	n.inbox.Close()
	return nil
}

func (n *Node) Read(ctx context.Context, smps []*domain.Sample) (int, error) {
	return n.inbox.Read(ctx, smps)
}

// Write queues the samples themselves. The node keeps the references of
// everything it accepts and drops them once they are read back.
func (n *Node) Write(ctx context.Context, smps []*domain.Sample) (int, int, error) {
	b := n.inbox.Load()
	if b == nil {
		return 0, 0, nodes.ErrNotStarted
	}
	written, err := b.Enqueue(ctx, smps)
	return written, 0, err
}

func (n *Node) PollHandles() []<-chan struct{} { return n.inbox.PollHandles() }

// Truncated reports how many samples were read back with values cut off
// since the last start.
func (n *Node) Truncated() uint64 {
	if b := n.inbox.Load(); b != nil {
		return b.Truncated()
	}
	return 0
}

var (
	_ ports.Node     = (*Node)(nil)
	_ ports.Pollable = (*Node)(nil)
)
