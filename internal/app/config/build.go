package config

import (
	"fmt"

	"github.com/matthiasnowak/villasnode/internal/app/pipeline"
	"github.com/matthiasnowak/villasnode/internal/app/registry"
	"github.com/matthiasnowak/villasnode/internal/domain"
	"github.com/matthiasnowak/villasnode/internal/ports"
)

// Graph is the object graph described by a configuration. Nodes are in
// name order, paths in configuration order; disabled paths are skipped.
type Graph struct {
	Nodes []ports.Node
	Paths []*pipeline.Path
}

// Node returns the node with the given name.
func (g *Graph) Node(name string) (ports.Node, bool) {
	for _, n := range g.Nodes {
		if n.Name() == name {
			return n, true
		}
	}
	return nil, false
}

// signalled is implemented by nodes that know their own schema.
type signalled interface {
	Signals() domain.SignalList
}

// Build instantiates every node and every enabled path through reg. Paths
// are created but not prepared.
func (c *Config) Build(reg *registry.Registry, obs ports.Observability) (*Graph, error) {
	g := &Graph{}
	byName := make(map[string]ports.Node, len(c.Nodes))
	dirs := make(map[string][2]Direction, len(c.Nodes))
	for _, name := range c.NodeNames() {
		nc := c.Nodes[name]
		in, err := nc.In()
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", name, err)
		}
		out, err := nc.Out()
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", name, err)
		}
		n, err := reg.NewNode(nc.Type, registry.NodeConfig{
			Name:    name,
			Signals: domain.SignalList(in.Signals),
			Options: nc.Options,
			Obs:     obs,
		})
		if err != nil {
			return nil, err
		}
		g.Nodes = append(g.Nodes, n)
		byName[name] = n
		if sn, ok := n.(signalled); ok && len(in.Signals) == 0 {
			in.Signals = Signals(sn.Signals())
		}
		dirs[name] = [2]Direction{in, out}
	}

	for _, pc := range c.Paths {
		if !pc.IsEnabled() {
			continue
		}
		cfg := pipeline.PathConfig{Name: pc.Name, Policy: pc.Policy(c.Policy)}

		var err error
		if cfg.Hooks, err = newHooks(reg, ports.HookPath, pc.Hooks); err != nil {
			return nil, fmt.Errorf("path %s: %w", pc.Name, err)
		}
		for _, name := range pc.In {
			hooks, err := newHooks(reg, ports.HookNodeRead, dirs[name][0].Hooks)
			if err != nil {
				return nil, fmt.Errorf("path %s: node %s: %w", pc.Name, name, err)
			}
			cfg.Sources = append(cfg.Sources, pipeline.Source{
				Node:    byName[name],
				Signals: domain.SignalList(dirs[name][0].Signals),
				Hooks:   hooks,
			})
		}
		for _, name := range pc.Out {
			hooks, err := newHooks(reg, ports.HookNodeWrite, dirs[name][1].Hooks)
			if err != nil {
				return nil, fmt.Errorf("path %s: node %s: %w", pc.Name, name, err)
			}
			cfg.Destinations = append(cfg.Destinations, pipeline.Destination{Node: byName[name], Hooks: hooks})
		}

		p, err := pipeline.NewPath(cfg, obs)
		if err != nil {
			return nil, err
		}
		g.Paths = append(g.Paths, p)
	}
	return g, nil
}

func newHooks(reg *registry.Registry, where ports.HookFlags, cfgs []HookConfig) ([]ports.Hook, error) {
	hooks := make([]ports.Hook, 0, len(cfgs))
	for _, hc := range cfgs {
		h, err := reg.NewHook(hc.Type, where, hc.Options)
		if err != nil {
			return nil, err
		}
		hooks = append(hooks, h)
	}
	return hooks, nil
}
