package ports

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/matthiasnowak/villasnode/internal/domain"
)

// ErrNotSupported is returned by nodes asked for a direction they do not implement.
var ErrNotSupported = errors.New("operation not supported by node")

// NodeFlags advertises what a node type can do.
type NodeFlags uint8

const (
	NodeRead NodeFlags = 1 << iota
	NodeWrite
	NodePoll
)

func (f NodeFlags) Has(o NodeFlags) bool { return f&o == o }

func (f NodeFlags) String() string {
	var parts []string
	if f.Has(NodeRead) {
		parts = append(parts, "read")
	}
	if f.Has(NodeWrite) {
		parts = append(parts, "write")
	}
	if f.Has(NodePoll) {
		parts = append(parts, "poll")
	}
	return strings.Join(parts, ",")
}

// Node is a sample source and/or destination (socket, file, OPC UA server,
// database, ...). Paths only talk to nodes through this contract.
//
// Read fills up to len(smps) samples that were allocated by the caller and
// returns how many are valid. It may block; it must return when ctx is done.
//
// Write consumes up to len(smps) samples and returns how many were accepted.
// release is the number of accepted samples (counted from the front) the caller
// may release right away; the node keeps a reference to the remaining
// written-release samples and releases them itself.
type Node interface {
	Name() string
	Type() string
	Capabilities() NodeFlags

	Start(ctx context.Context) error
	Stop() error

	Read(ctx context.Context, smps []*domain.Sample) (int, error)
	Write(ctx context.Context, smps []*domain.Sample) (written, release int, err error)
}

// Pollable is implemented by nodes that buffer received samples internally
// and can expose readiness handles.
type Pollable interface {
	PollHandles() []<-chan struct{}
}

// NodeIOError is a transport failure surfaced to the path.
type NodeIOError struct {
	Node string
	Op   string
	Err  error
}

func (e *NodeIOError) Error() string {
	return fmt.Sprintf("node %s: %s: %v", e.Node, e.Op, e.Err)
}

func (e *NodeIOError) Unwrap() error { return e.Err }

// NewNodeIOError wraps err unless it is nil or already a NodeIOError.
func NewNodeIOError(node, op string, err error) error {
	if err == nil {
		return nil
	}
	var nerr *NodeIOError
	if errors.As(err, &nerr) {
		return err
	}
	return &NodeIOError{Node: node, Op: op, Err: err}
}
