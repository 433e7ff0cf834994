// Package journal implements a store-and-forward node backed by the file WAL.
// Samples written to it are persisted before Write returns; reading replays
// them in order. A batch is committed when the next Read begins, so after a
// crash the last delivered batch is replayed again.
package journal

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/matthiasnowak/villasnode/internal/adapters/nodes"
	"github.com/matthiasnowak/villasnode/internal/adapters/wal"
	"github.com/matthiasnowak/villasnode/internal/domain"
	"github.com/matthiasnowak/villasnode/internal/ports"
)

const Type = "journal"

var errBatchFull = errors.New("batch full")

type Config struct {
	Dir string `yaml:"dir"`
	// committed entries are cut off once the log grows beyond this size
	TruncateBytes int64 `yaml:"truncate_bytes"`
}

type Node struct {
	nodes.Info
	cfg Config
	log nodes.Telemetry

	mu     sync.Mutex
	wal    ports.WAL
	cursor ports.WALEntryID
	notify chan struct{}
}

func New(name string, signals domain.SignalList, opts ports.Options, obs ports.Observability) (*Node, error) {
	cfg := Config{TruncateBytes: 16 << 20}
	if err := opts.Decode(&cfg); err != nil {
		return nil, err
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("journal node %s: dir is required", name)
	}
	return &Node{
		Info: nodes.NewInfo(name, Type, ports.NodeRead|ports.NodeWrite|ports.NodePoll, signals),
		cfg:  cfg,
		log:  nodes.Telemetry{Obs: obs, Node: name},
	}, nil
}

func (n *Node) Start(context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.wal != nil {
		return fmt.Errorf("journal node %s already started", n.Name())
	}
	w, err := wal.NewFileWAL(n.cfg.Dir)
	if err != nil {
		return err
	}
	st := w.Stats()
	n.wal = w
	n.cursor = st.OldestUncommitted - 1
	n.notify = make(chan struct{}, 1)
	if st.LatestAppended > n.cursor {
		n.notify <- struct{}{}
		n.log.Info("journal_replay", ports.Field{Key: "pending", Value: uint64(st.LatestAppended - n.cursor)})
	}
	return nil
}

func (n *Node) Stop() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.wal == nil {
		return nil
	}
	err := n.wal.Close()
	n.wal = nil
	return err
}

// Write appends and syncs the batch. The caller releases every sample.
func (n *Node) Write(_ context.Context, smps []*domain.Sample) (int, int, error) {
	n.mu.Lock()
	w, notify := n.wal, n.notify
	n.mu.Unlock()
	if w == nil {
		return 0, 0, nodes.ErrNotStarted
	}
	for i, s := range smps {
		if _, err := w.Append(s); err != nil {
			return i, i, err
		}
	}
	if err := w.Flush(); err != nil {
		return 0, 0, err
	}
	select {
	case notify <- struct{}{}:
	default:
	}
	return len(smps), len(smps), nil
}

func (n *Node) Read(ctx context.Context, smps []*domain.Sample) (int, error) {
	for {
		n.mu.Lock()
		w, notify, cursor := n.wal, n.notify, n.cursor
		n.mu.Unlock()
		if w == nil {
			return 0, nodes.ErrNotStarted
		}
		if err := n.commit(w, cursor); err != nil {
			return 0, err
		}

		got := 0
		last := cursor
		err := w.Iterate(cursor+1, func(id ports.WALEntryID, rec *ports.Record) error {
			if got == len(smps) {
				return errBatchFull
			}
			if err := rec.Into(smps[got]); err != nil {
				return fmt.Errorf("entry %d: %w", id, err)
			}
			got++
			last = id
			return nil
		})
		if err != nil && !errors.Is(err, errBatchFull) {
			return 0, err
		}
		if got > 0 {
			n.mu.Lock()
			n.cursor = last
			n.mu.Unlock()
			return got, nil
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-notify:
		}
	}
}

func (n *Node) commit(w ports.WAL, upto ports.WALEntryID) error {
	if upto == 0 {
		return nil
	}
	if err := w.Commit(upto); err != nil {
		return err
	}
	if st := w.Stats(); n.cfg.TruncateBytes > 0 && st.SizeBytes > n.cfg.TruncateBytes {
		if err := w.TruncateCommitted(); err != nil {
			n.log.Error("journal_truncate_failed", err)
		}
	}
	return nil
}

// Pending returns how many entries have not been delivered yet.
func (n *Node) Pending() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.wal == nil {
		return 0
	}
	return uint64(n.wal.Stats().LatestAppended - n.cursor)
}

func (n *Node) PollHandles() []<-chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.notify == nil {
		return nil
	}
	return []<-chan struct{}{n.notify}
}

var (
	_ ports.Node     = (*Node)(nil)
	_ ports.Pollable = (*Node)(nil)
)
