// Package socket implements a UDP node. Every datagram carries one or more
// samples encoded with a wire format, villas.binary by default.
package socket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/matthiasnowak/villasnode/internal/adapters/format"
	"github.com/matthiasnowak/villasnode/internal/adapters/nodes"
	"github.com/matthiasnowak/villasnode/internal/domain"
	"github.com/matthiasnowak/villasnode/internal/ports"
)

const (
	Type = "socket"

	maxDatagram = 65507
	// upper bound of samples decoded from one datagram
	maxBatch = 64
)

type Config struct {
	Format   string `yaml:"format"`
	QueueLen int    `yaml:"queuelen"`
	In       struct {
		Address string `yaml:"address"`
	} `yaml:"in"`
	Out struct {
		Address string `yaml:"address"`
	} `yaml:"out"`
}

type Node struct {
	nodes.Info
	cfg    Config
	format format.Format
	log    nodes.Telemetry

	mu     sync.Mutex
	conn   *net.UDPConn
	remote *net.UDPAddr
	wg     sync.WaitGroup
	inbox  nodes.InboxRef
}

func New(name string, signals domain.SignalList, opts ports.Options, obs ports.Observability) (*Node, error) {
	cfg := Config{Format: "villas.binary", QueueLen: 1024}
	if err := opts.Decode(&cfg); err != nil {
		return nil, err
	}
	if cfg.In.Address == "" && cfg.Out.Address == "" {
		return nil, fmt.Errorf("socket node %s: in.address or out.address is required", name)
	}
	f, err := format.Lookup(cfg.Format, signals)
	if err != nil {
		return nil, fmt.Errorf("socket node %s: %w", name, err)
	}
	var flags ports.NodeFlags
	if cfg.In.Address != "" {
		flags |= ports.NodeRead | ports.NodePoll
	}
	if cfg.Out.Address != "" {
		flags |= ports.NodeWrite
	}
	return &Node{
		Info:   nodes.NewInfo(name, Type, flags, signals),
		cfg:    cfg,
		format: f,
		log:    nodes.Telemetry{Obs: obs, Node: name},
	}, nil
}

func (n *Node) Start(context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn != nil {
		return fmt.Errorf("socket node %s already started", n.Name())
	}

	local := n.cfg.In.Address
	if local == "" {
		local = ":0"
	}
	laddr, err := net.ResolveUDPAddr("udp", local)
	if err != nil {
		return err
	}
	if n.cfg.Out.Address != "" {
		if n.remote, err = net.ResolveUDPAddr("udp", n.cfg.Out.Address); err != nil {
			return err
		}
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return err
	}
	n.conn = conn

	if n.cfg.In.Address != "" {
		inbox, err := n.inbox.Open(n.cfg.QueueLen, max(1, len(n.Signals())))
		if err != nil {
			conn.Close()
			n.conn = nil
			return err
		}
		n.wg.Add(1)
		go n.receive(conn, inbox)
	}
	n.log.Info("socket_started", ports.Field{Key: "local", Value: conn.LocalAddr().String()})
	return nil
}

func (n *Node) Stop() error {
	n.mu.Lock()
	conn := n.conn
	n.conn = nil
	n.mu.Unlock()
	if conn == nil {
		return nil
	}
	err := conn.Close()
	n.wg.Wait()
	n.inbox.Close()
	return err
}

// LocalAddr returns the bound address once started.
func (n *Node) LocalAddr() net.Addr {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.conn == nil {
		return nil
	}
	return n.conn.LocalAddr()
}

func (n *Node) receive(conn *net.UDPConn, inbox *nodes.Inbox) {
	defer n.wg.Done()
	buf := make([]byte, maxDatagram)
	batch := make([]*domain.Sample, inbox.BatchSize(maxBatch))
	for {
		size, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				n.log.Error("socket_receive_failed", err)
			}
			return
		}
		if err := inbox.Allocate(batch); err != nil {
			n.log.Error("socket_pool_exhausted", err)
			continue
		}
		cnt, err := n.format.Decode(buf[:size], batch)
		if err != nil {
			n.log.Error("socket_decode_failed", err, ports.Field{Key: "bytes", Value: size})
		}
		domain.DecRefMany(batch[cnt:])
		n.log.Count(ports.MetricNodeDropped, cnt-inbox.Push(batch[:cnt]))
	}
}

func (n *Node) Read(ctx context.Context, smps []*domain.Sample) (int, error) {
	return n.inbox.Read(ctx, smps)
}

func (n *Node) Write(_ context.Context, smps []*domain.Sample) (int, int, error) {
	n.mu.Lock()
	conn, remote := n.conn, n.remote
	n.mu.Unlock()
	if conn == nil {
		return 0, 0, nodes.ErrNotStarted
	}
	if remote == nil {
		return 0, 0, ports.ErrNotSupported
	}
	buf, err := n.format.Encode(smps)
	if err != nil {
		return 0, 0, err
	}
	if len(buf) > maxDatagram {
		return 0, 0, fmt.Errorf("%d samples encode to %d bytes, more than one datagram", len(smps), len(buf))
	}
	if _, err := conn.WriteToUDP(buf, remote); err != nil {
		return 0, 0, err
	}
	return len(smps), len(smps), nil
}

func (n *Node) PollHandles() []<-chan struct{} { return n.inbox.PollHandles() }

var (
	_ ports.Node     = (*Node)(nil)
	_ ports.Pollable = (*Node)(nil)
)
