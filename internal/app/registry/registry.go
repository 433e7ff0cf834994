// Package registry maps node and hook type names to their factories.
//
// There is no global state: the runtime builds a Registry (usually Builtin)
// and hands it to the config loader.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/matthiasnowak/villasnode/internal/domain"
	"github.com/matthiasnowak/villasnode/internal/ports"
)

var (
	ErrUnknownType   = errors.New("unknown type")
	ErrDuplicateType = errors.New("type already registered")
)

// NodeConfig is everything a node factory receives.
type NodeConfig struct {
	Name    string
	Signals domain.SignalList
	Options ports.Options
	Obs     ports.Observability
}

type NodeFactory struct {
	Name        string
	Description string
	Flags       ports.NodeFlags
	New         func(NodeConfig) (ports.Node, error)
}

type HookFactory struct {
	Name        string
	Description string
	Flags       ports.HookFlags
	New         func() ports.Hook
}

type Registry struct {
	mu    sync.RWMutex
	nodes map[string]NodeFactory
	hooks map[string]HookFactory
}

func New() *Registry {
	return &Registry{
		nodes: make(map[string]NodeFactory),
		hooks: make(map[string]HookFactory),
	}
}

func (r *Registry) RegisterNode(f NodeFactory) error {
	if f.Name == "" || f.New == nil {
		return fmt.Errorf("register node %q: name and constructor are required", f.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.nodes[f.Name]; ok {
		return fmt.Errorf("node %q: %w", f.Name, ErrDuplicateType)
	}
	r.nodes[f.Name] = f
	return nil
}

func (r *Registry) RegisterHook(f HookFactory) error {
	if f.Name == "" || f.New == nil {
		return fmt.Errorf("register hook %q: name and constructor are required", f.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.hooks[f.Name]; ok {
		return fmt.Errorf("hook %q: %w", f.Name, ErrDuplicateType)
	}
	r.hooks[f.Name] = f
	return nil
}

func (r *Registry) Node(typ string) (NodeFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.nodes[typ]
	return f, ok
}

func (r *Registry) Hook(typ string) (HookFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.hooks[typ]
	return f, ok
}

// NewNode instantiates a node of type typ.
func (r *Registry) NewNode(typ string, cfg NodeConfig) (ports.Node, error) {
	f, ok := r.Node(typ)
	if !ok {
		return nil, fmt.Errorf("node %s: type %q: %w", cfg.Name, typ, ErrUnknownType)
	}
	n, err := f.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("node %s (%s): %w", cfg.Name, typ, err)
	}
	return n, nil
}

// NewHook instantiates a hook of type typ and parses opts into it. where is
// the attachment point; the hook type must allow it.
func (r *Registry) NewHook(typ string, where ports.HookFlags, opts ports.Options) (ports.Hook, error) {
	f, ok := r.Hook(typ)
	if !ok {
		return nil, fmt.Errorf("hook type %q: %w", typ, ErrUnknownType)
	}
	if where != 0 && !f.Flags.Has(where) {
		return nil, fmt.Errorf("hook %s cannot be attached to %s (allowed: %s)", typ, where, f.Flags)
	}
	h := f.New()
	if err := h.Parse(opts); err != nil {
		return nil, err
	}
	return h, nil
}

// Nodes lists the registered node types sorted by name.
func (r *Registry) Nodes() []NodeFactory {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]NodeFactory, 0, len(r.nodes))
	for _, f := range r.nodes {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Hooks lists the registered hook types sorted by name.
func (r *Registry) Hooks() []HookFactory {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]HookFactory, 0, len(r.hooks))
	for _, f := range r.hooks {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
