// Package nats implements a node that publishes sample batches to a NATS
// subject and subscribes to another one.
package nats

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/matthiasnowak/villasnode/internal/adapters/format"
	"github.com/matthiasnowak/villasnode/internal/adapters/nodes"
	"github.com/matthiasnowak/villasnode/internal/domain"
	"github.com/matthiasnowak/villasnode/internal/ports"
)

const (
	Type = "nats"

	maxBatch = 64
)

type Config struct {
	URL           string        `yaml:"url"`
	Format        string        `yaml:"format"`
	QueueLen      int           `yaml:"queuelen"`
	MaxReconnects int           `yaml:"max_reconnects"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
	In            struct {
		Subject string `yaml:"subject"`
		Queue   string `yaml:"queue"`
	} `yaml:"in"`
	Out struct {
		Subject string `yaml:"subject"`
	} `yaml:"out"`
}

type Node struct {
	nodes.Info
	cfg    Config
	format format.Format
	log    nodes.Telemetry

	mu    sync.Mutex
	conn  *nats.Conn
	sub   *nats.Subscription
	inbox nodes.InboxRef
}

func New(name string, signals domain.SignalList, opts ports.Options, obs ports.Observability) (*Node, error) {
	cfg := Config{
		URL:           nats.DefaultURL,
		Format:        "cbor",
		QueueLen:      1024,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
	if err := opts.Decode(&cfg); err != nil {
		return nil, err
	}
	if cfg.In.Subject == "" && cfg.Out.Subject == "" {
		return nil, fmt.Errorf("nats node %s: in.subject or out.subject is required", name)
	}
	f, err := format.Lookup(cfg.Format, signals)
	if err != nil {
		return nil, fmt.Errorf("nats node %s: %w", name, err)
	}
	var flags ports.NodeFlags
	if cfg.In.Subject != "" {
		flags |= ports.NodeRead | ports.NodePoll
	}
	if cfg.Out.Subject != "" {
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
		return fmt.Errorf("nats node %s already started", n.Name())
	}

	conn, err := nats.Connect(n.cfg.URL,
		nats.Name("villas-node/"+n.Name()),
		nats.MaxReconnects(n.cfg.MaxReconnects),
		nats.ReconnectWait(n.cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				n.log.Error("nats_disconnected", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			n.log.Info("nats_reconnected", ports.Field{Key: "url", Value: c.ConnectedUrl()})
		}),
	)
	if err != nil {
		return fmt.Errorf("nats connect %s: %w", n.cfg.URL, err)
	}

	if n.cfg.In.Subject != "" {
		inbox, err := n.inbox.Open(n.cfg.QueueLen, max(1, len(n.Signals())))
		if err != nil {
			conn.Close()
			return err
		}
		handler := func(msg *nats.Msg) { n.handle(inbox, msg.Data) }
		var sub *nats.Subscription
		if n.cfg.In.Queue != "" {
			sub, err = conn.QueueSubscribe(n.cfg.In.Subject, n.cfg.In.Queue, handler)
		} else {
			sub, err = conn.Subscribe(n.cfg.In.Subject, handler)
		}
		if err != nil {
			conn.Close()
			n.inbox.Close()
			return fmt.Errorf("nats subscribe %s: %w", n.cfg.In.Subject, err)
		}
		n.sub = sub
	}
	n.conn = conn
	n.log.Info("nats_connected", ports.Field{Key: "url", Value: conn.ConnectedUrl()})
	return nil
}

// handle runs on the subscription goroutine.
func (n *Node) handle(inbox *nodes.Inbox, data []byte) {
	batch := make([]*domain.Sample, inbox.BatchSize(maxBatch))
	if err := inbox.Allocate(batch); err != nil {
		n.log.Count(ports.MetricNodeDropped, 1)
		return
	}
	cnt, err := n.format.Decode(data, batch)
	if err != nil {
		n.log.Error("nats_decode_failed", err)
	}
	domain.DecRefMany(batch[cnt:])
	n.log.Count(ports.MetricNodeDropped, cnt-inbox.Push(batch[:cnt]))
}

func (n *Node) Stop() error {
	n.mu.Lock()
	conn, sub := n.conn, n.sub
	n.conn, n.sub = nil, nil
	n.mu.Unlock()
	if conn == nil {
		return nil
	}
	var err error
	if sub != nil {
		err = sub.Unsubscribe()
	}
	// Drain would deliver pending messages into a closing inbox.
	conn.Close()
	n.inbox.Close()
	return err
}

func (n *Node) Read(ctx context.Context, smps []*domain.Sample) (int, error) {
	return n.inbox.Read(ctx, smps)
}

func (n *Node) Write(_ context.Context, smps []*domain.Sample) (int, int, error) {
	n.mu.Lock()
	conn := n.conn
	n.mu.Unlock()
	if conn == nil {
		return 0, 0, nodes.ErrNotStarted
	}
	if n.cfg.Out.Subject == "" {
		return 0, 0, ports.ErrNotSupported
	}
	data, err := n.format.Encode(smps)
	if err != nil {
		return 0, 0, err
	}
	if err := conn.Publish(n.cfg.Out.Subject, data); err != nil {
		return 0, 0, err
	}
	return len(smps), len(smps), nil
}

func (n *Node) PollHandles() []<-chan struct{} { return n.inbox.PollHandles() }

var (
	_ ports.Node     = (*Node)(nil)
	_ ports.Pollable = (*Node)(nil)
)
