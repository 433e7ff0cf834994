package nodes

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/matthiasnowak/villasnode/internal/domain"
	"github.com/matthiasnowak/villasnode/internal/ports"
)

// ErrNotStarted is returned by Read and Write on a node that is not running.
var ErrNotStarted = errors.New("node not started")

// Info carries the identity every node reports.
type Info struct {
	name    string
	typ     string
	flags   ports.NodeFlags
	signals domain.SignalList
}

func NewInfo(name, typ string, flags ports.NodeFlags, signals domain.SignalList) Info {
	return Info{name: name, typ: typ, flags: flags, signals: signals.Clone()}
}

func (i *Info) Name() string                  { return i.name }
func (i *Info) Type() string                  { return i.typ }
func (i *Info) Capabilities() ports.NodeFlags { return i.flags }
func (i *Info) Signals() domain.SignalList    { return i.signals }
func (i *Info) String() string                { return fmt.Sprintf("%s(%s)", i.name, i.typ) }

// InboxRef is an inbox that is replaced on every start.
type InboxRef struct {
	p atomic.Pointer[Inbox]
}

func (r *InboxRef) Load() *Inbox { return r.p.Load() }

// Open installs a new inbox and returns it.
func (r *InboxRef) Open(capacity, width int) (*Inbox, error) {
	b, err := NewInbox(capacity, width)
	if err != nil {
		return nil, err
	}
	if old := r.p.Swap(b); old != nil {
		old.Close()
	}
	return b, nil
}

// Close detaches and closes the current inbox.
func (r *InboxRef) Close() {
	if b := r.p.Swap(nil); b != nil {
		b.Close()
	}
}

// Read reads from the current inbox.
func (r *InboxRef) Read(ctx context.Context, dst []*domain.Sample) (int, error) {
	b := r.p.Load()
	if b == nil {
		return 0, ErrNotStarted
	}
	return b.Read(ctx, dst)
}

func (r *InboxRef) PollHandles() []<-chan struct{} {
	if b := r.p.Load(); b != nil {
		return b.PollHandles()
	}
	return nil
}

// Telemetry wraps an optional Observability so receivers can log and count
// without nil checks. Metrics are labelled with the node name.
type Telemetry struct {
	Obs  ports.Observability
	Node string
}

func (t Telemetry) Info(msg string, fields ...ports.Field) {
	if t.Obs != nil {
		t.Obs.LogInfo(msg, append(fields, ports.Field{Key: "node", Value: t.Node})...)
	}
}

func (t Telemetry) Error(msg string, err error, fields ...ports.Field) {
	if t.Obs != nil {
		t.Obs.LogError(msg, err, append(fields, ports.Field{Key: "node", Value: t.Node})...)
	}
}

func (t Telemetry) Count(name string, v int) {
	if t.Obs != nil && v > 0 {
		t.Obs.IncCounter(name, t.Node, float64(v))
	}
}

func (t Telemetry) Gauge(name string, v int) {
	if t.Obs != nil {
		t.Obs.SetGauge(name, t.Node, float64(v))
	}
}
