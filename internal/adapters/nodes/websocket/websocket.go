// Package websocket implements a node that exchanges sample batches over
// WebSocket. As a server it accepts any number of peers: every received
// frame is decoded into the node's inbox and every written batch is
// broadcast to all peers. With a url it dials a single server instead.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/matthiasnowak/villasnode/internal/adapters/format"
	"github.com/matthiasnowak/villasnode/internal/adapters/nodes"
	"github.com/matthiasnowak/villasnode/internal/domain"
	"github.com/matthiasnowak/villasnode/internal/ports"
)

const (
	Type = "websocket"

	maxBatch     = 64
	writeTimeout = 10 * time.Second
)

type Config struct {
	Listen   string `yaml:"listen"`
	Path     string `yaml:"path"`
	URL      string `yaml:"url"`
	Format   string `yaml:"format"`
	QueueLen int    `yaml:"queuelen"`
}

type peer struct {
	id   uuid.UUID
	conn *websocket.Conn
	wmu  sync.Mutex
}

func (p *peer) send(kind int, data []byte) error {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	_ = p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return p.conn.WriteMessage(kind, data)
}

type Node struct {
	nodes.Info
	cfg      Config
	format   format.Format
	msgType  int
	log      nodes.Telemetry
	upgrader websocket.Upgrader

	mu      sync.Mutex
	running bool
	srv     *http.Server
	addr    net.Addr
	peers   map[uuid.UUID]*peer
	wg      sync.WaitGroup
	inbox   nodes.InboxRef
}

func New(name string, signals domain.SignalList, opts ports.Options, obs ports.Observability) (*Node, error) {
	cfg := Config{Path: "/", Format: "json", QueueLen: 1024}
	if err := opts.Decode(&cfg); err != nil {
		return nil, err
	}
	if (cfg.Listen == "") == (cfg.URL == "") {
		return nil, fmt.Errorf("websocket node %s: exactly one of listen and url is required", name)
	}
	f, err := format.Lookup(cfg.Format, signals)
	if err != nil {
		return nil, fmt.Errorf("websocket node %s: %w", name, err)
	}
	msgType := websocket.BinaryMessage
	if cfg.Format == "json" {
		msgType = websocket.TextMessage
	}
	return &Node{
		Info:    nodes.NewInfo(name, Type, ports.NodeRead|ports.NodeWrite|ports.NodePoll, signals),
		cfg:     cfg,
		format:  f,
		msgType: msgType,
		log:     nodes.Telemetry{Obs: obs, Node: name},
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(*http.Request) bool { return true },
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}, nil
}

func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.running {
		return fmt.Errorf("websocket node %s already started", n.Name())
	}
	inbox, err := n.inbox.Open(n.cfg.QueueLen, max(1, len(n.Signals())))
	if err != nil {
		return err
	}
	n.peers = make(map[uuid.UUID]*peer)

	if n.cfg.URL != "" {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, n.cfg.URL, nil)
		if err != nil {
			n.inbox.Close()
			return fmt.Errorf("dial %s: %w", n.cfg.URL, err)
		}
		n.addPeerLocked(conn, inbox)
	} else {
		ln, err := net.Listen("tcp", n.cfg.Listen)
		if err != nil {
			n.inbox.Close()
			return err
		}
		mux := http.NewServeMux()
		mux.HandleFunc(n.cfg.Path, func(w http.ResponseWriter, r *http.Request) {
			n.accept(w, r, inbox)
		})
		n.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		n.addr = ln.Addr()
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			if err := n.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				n.log.Error("websocket_serve_failed", err)
			}
		}()
		n.log.Info("websocket_listening", ports.Field{Key: "addr", Value: ln.Addr().String()})
	}
	n.running = true
	return nil
}

// Addr returns the listen address of a started server node.
func (n *Node) Addr() net.Addr {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.addr
}

// Peers returns the number of connected peers.
func (n *Node) Peers() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.peers)
}

func (n *Node) accept(w http.ResponseWriter, r *http.Request, inbox *nodes.Inbox) {
	conn, err := n.upgrader.Upgrade(w, r, nil)
	if err != nil {
		n.log.Error("websocket_upgrade_failed", err)
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.running {
		conn.Close()
		return
	}
	n.addPeerLocked(conn, inbox)
}

func (n *Node) addPeerLocked(conn *websocket.Conn, inbox *nodes.Inbox) {
	p := &peer{id: uuid.New(), conn: conn}
	n.peers[p.id] = p
	n.log.Gauge(ports.GaugeNodeClients, len(n.peers))
	n.log.Info("websocket_peer_connected", ports.Field{Key: "peer", Value: p.id.String()}, ports.Field{Key: "remote", Value: conn.RemoteAddr().String()})
	n.wg.Add(1)
	go n.receive(p, inbox)
}

func (n *Node) removePeer(p *peer) {
	n.mu.Lock()
	if _, ok := n.peers[p.id]; ok {
		delete(n.peers, p.id)
		n.log.Gauge(ports.GaugeNodeClients, len(n.peers))
	}
	n.mu.Unlock()
	p.conn.Close()
}

func (n *Node) receive(p *peer, inbox *nodes.Inbox) {
	defer n.wg.Done()
	defer n.removePeer(p)

	batch := make([]*domain.Sample, inbox.BatchSize(maxBatch))
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !errors.Is(err, net.ErrClosed) {
				n.log.Error("websocket_read_failed", err, ports.Field{Key: "peer", Value: p.id.String()})
			}
			return
		}
		if err := inbox.Allocate(batch); err != nil {
			n.log.Count(ports.MetricNodeDropped, 1)
			continue
		}
		cnt, err := n.format.Decode(data, batch)
		if err != nil {
			n.log.Error("websocket_decode_failed", err, ports.Field{Key: "peer", Value: p.id.String()})
		}
		domain.DecRefMany(batch[cnt:])
		n.log.Count(ports.MetricNodeDropped, cnt-inbox.Push(batch[:cnt]))
	}
}

func (n *Node) Stop() error {
	n.mu.Lock()
	if !n.running {
		n.mu.Unlock()
		return nil
	}
	n.running = false
	srv := n.srv
	n.srv, n.addr = nil, nil
	peers := make([]*peer, 0, len(n.peers))
	for _, p := range n.peers {
		peers = append(peers, p)
	}
	n.mu.Unlock()

	var err error
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = srv.Shutdown(ctx)
		cancel()
	}
	for _, p := range peers {
		_ = p.send(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stopping"))
		p.conn.Close()
	}
	n.wg.Wait()
	n.inbox.Close()
	return err
}

func (n *Node) Read(ctx context.Context, smps []*domain.Sample) (int, error) {
	return n.inbox.Read(ctx, smps)
}

// Write broadcasts the batch to every peer. Without peers the batch is
// accepted and discarded. A peer that fails to take the frame is dropped.
func (n *Node) Write(_ context.Context, smps []*domain.Sample) (int, int, error) {
	n.mu.Lock()
	if !n.running {
		n.mu.Unlock()
		return 0, 0, nodes.ErrNotStarted
	}
	peers := make([]*peer, 0, len(n.peers))
	for _, p := range n.peers {
		peers = append(peers, p)
	}
	n.mu.Unlock()

	if len(peers) == 0 || len(smps) == 0 {
		return len(smps), len(smps), nil
	}
	data, err := n.format.Encode(smps)
	if err != nil {
		return 0, 0, err
	}
	for _, p := range peers {
		if err := p.send(n.msgType, data); err != nil {
			n.log.Error("websocket_send_failed", err, ports.Field{Key: "peer", Value: p.id.String()})
			n.removePeer(p)
		}
	}
	return len(smps), len(smps), nil
}

func (n *Node) PollHandles() []<-chan struct{} { return n.inbox.PollHandles() }

var (
	_ ports.Node     = (*Node)(nil)
	_ ports.Pollable = (*Node)(nil)
)
