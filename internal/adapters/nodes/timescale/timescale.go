// Package timescale implements a write-only node that stores samples in a
// PostgreSQL/TimescaleDB table.
package timescale

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	_ "github.com/lib/pq"

	"github.com/matthiasnowak/villasnode/internal/adapters/nodes"
	"github.com/matthiasnowak/villasnode/internal/domain"
	"github.com/matthiasnowak/villasnode/internal/ports"
)

const Type = "timescale"

type Config struct {
	DSN    string `yaml:"dsn"`
	Table  string `yaml:"table"`
	Create bool   `yaml:"create"`
}

type Node struct {
	nodes.Info
	cfg Config

	mu    sync.Mutex
	db    *sql.DB
	owned bool
}

func New(name string, signals domain.SignalList, opts ports.Options) (*Node, error) {
	cfg := Config{Table: "samples"}
	if err := opts.Decode(&cfg); err != nil {
		return nil, err
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("timescale node %s: dsn is required", name)
	}
	if !validIdent(cfg.Table) {
		return nil, fmt.Errorf("timescale node %s: invalid table name %q", name, cfg.Table)
	}
	return &Node{
		Info: nodes.NewInfo(name, Type, ports.NodeWrite, signals),
		cfg:  cfg,
	}, nil
}

// NewWithDB uses an existing connection pool. The node does not close it.
func NewWithDB(name string, signals domain.SignalList, db *sql.DB, table string) *Node {
	return &Node{
		Info: nodes.NewInfo(name, Type, ports.NodeWrite, signals),
		cfg:  Config{Table: table},
		db:   db,
	}
}

func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.db == nil {
		db, err := sql.Open("postgres", n.cfg.DSN)
		if err != nil {
			return err
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return fmt.Errorf("timescale ping: %w", err)
		}
		n.db, n.owned = db, true
	}
	if n.cfg.Create {
		if _, err := n.db.ExecContext(ctx, createTable(n.cfg.Table)); err != nil {
			return fmt.Errorf("create table %s: %w", n.cfg.Table, err)
		}
	}
	return nil
}

func (n *Node) Stop() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.owned || n.db == nil {
		return nil
	}
	err := n.db.Close()
	n.db, n.owned = nil, false
	return err
}

func (n *Node) Read(context.Context, []*domain.Sample) (int, error) {
	return 0, ports.ErrNotSupported
}

// Write stores the batch in a single statement. Rows already present (same
// node, sequence and origin time) are skipped so that retried batches stay
// idempotent.
func (n *Node) Write(ctx context.Context, smps []*domain.Sample) (int, int, error) {
	if len(smps) == 0 {
		return 0, 0, nil
	}
	n.mu.Lock()
	db := n.db
	n.mu.Unlock()
	if db == nil {
		return 0, 0, nodes.ErrNotStarted
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(n.cfg.Table)
	b.WriteString(" (node, seq, ts_origin, ts_received, values) VALUES ")

	args := make([]any, 0, len(smps)*5)
	for i, s := range smps {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, "($%d,$%d,$%d,$%d,$%d)",
			len(args)+1, len(args)+2, len(args)+3, len(args)+4, len(args)+5)
		vals, err := encodeValues(s)
		if err != nil {
			return 0, 0, fmt.Errorf("marshal values: %w", err)
		}
		args = append(args,
			n.Name(),
			int64(s.Sequence),
			s.TS.Origin,
			s.TS.Received,
			vals,
		)
	}
	b.WriteString(" ON CONFLICT (node, seq, ts_origin) DO NOTHING")

	if _, err := db.ExecContext(ctx, b.String(), args...); err != nil {
		return 0, 0, err
	}
	return len(smps), len(smps), nil
}

// encodeValues renders the values as a JSON array, integers without a
// fractional part.
func encodeValues(s *domain.Sample) ([]byte, error) {
	vals := make([]any, s.Len())
	for i, v := range s.Values() {
		if v.Type() == domain.SignalInteger {
			vals[i] = v.Int()
		} else {
			vals[i] = v.Float()
		}
	}
	return json.Marshal(vals)
}

func createTable(table string) string {
	return "CREATE TABLE IF NOT EXISTS " + table + ` (
	node TEXT NOT NULL,
	seq BIGINT NOT NULL,
	ts_origin TIMESTAMPTZ NOT NULL,
	ts_received TIMESTAMPTZ NOT NULL,
	values JSONB NOT NULL,
	UNIQUE (node, seq, ts_origin)
)`
}

func validIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || r == '.' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

var _ ports.Node = (*Node)(nil)
