// Package config loads the YAML description of nodes and paths and turns it
// into running objects.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/matthiasnowak/villasnode/internal/adapters/queue"
	"github.com/matthiasnowak/villasnode/internal/domain"
	"github.com/matthiasnowak/villasnode/internal/ports"
)

type Config struct {
	Policy ports.Policy          `yaml:"policy"`
	HTTP   HTTPConfig            `yaml:"http"`
	Nodes  map[string]NodeConfig `yaml:"nodes"`
	Paths  []PathConfig          `yaml:"paths"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// NodeConfig is a node entry. Everything besides type is handed to the node
// factory, including the in and out sections.
type NodeConfig struct {
	Type    string        `yaml:"type"`
	Options ports.Options `yaml:",inline"`
}

// Direction is the in or out section of a node.
type Direction struct {
	Signals Signals      `yaml:"signals"`
	Hooks   []HookConfig `yaml:"hooks"`
}

// In returns the node's in section.
func (n NodeConfig) In() (Direction, error) { return n.direction("in") }

// Out returns the node's out section.
func (n NodeConfig) Out() (Direction, error) { return n.direction("out") }

func (n NodeConfig) direction(key string) (Direction, error) {
	var d Direction
	raw, ok := n.Options[key]
	if !ok || raw == nil {
		return d, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return d, fmt.Errorf("%s must be a mapping", key)
	}
	if err := ports.Options(m).Decode(&d); err != nil {
		return d, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

// HookConfig is a hook entry: either a bare type name or a mapping with a
// type and hook options.
type HookConfig struct {
	Type    string        `yaml:"type"`
	Options ports.Options `yaml:",inline"`
}

func (h *HookConfig) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		h.Type = value.Value
		return nil
	}
	type plain HookConfig
	return value.Decode((*plain)(h))
}

// Signals accepts a list of signals or the short form {count, type}.
type Signals domain.SignalList

func (s *Signals) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.SequenceNode {
		var list domain.SignalList
		if err := value.Decode(&list); err != nil {
			return err
		}
		*s = Signals(list)
		return nil
	}
	var short struct {
		Count int               `yaml:"count"`
		Type  domain.SignalType `yaml:"type"`
	}
	if err := value.Decode(&short); err != nil {
		return err
	}
	if short.Count <= 0 {
		return fmt.Errorf("signals: count must be positive, got %d", short.Count)
	}
	list := make(domain.SignalList, short.Count)
	for i := range list {
		list[i] = domain.Signal{Name: fmt.Sprintf("signal%d", i), Type: short.Type}
	}
	*s = Signals(list)
	return nil
}

// Names accepts a single node name or a list of them.
type Names []string

func (n *Names) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*n = Names{value.Value}
		return nil
	}
	var list []string
	if err := value.Decode(&list); err != nil {
		return err
	}
	*n = list
	return nil
}

type PathConfig struct {
	Name    string       `yaml:"name"`
	In      Names        `yaml:"in"`
	Out     Names        `yaml:"out"`
	Hooks   []HookConfig `yaml:"hooks"`
	Enabled *bool        `yaml:"enabled"`

	// overrides of the global policy
	QueueLen  int    `yaml:"queue_len"`
	Vectorize int    `yaml:"vectorize"`
	Mode      string `yaml:"mode"`
}

func (p PathConfig) IsEnabled() bool { return p.Enabled == nil || *p.Enabled }

// Policy merges the path overrides into the global policy.
func (p PathConfig) Policy(global ports.Policy) ports.Policy {
	pol := global
	if p.QueueLen > 0 {
		pol.QueueLen = p.QueueLen
	}
	if p.Vectorize > 0 {
		pol.Vectorize = p.Vectorize
	}
	if p.Mode != "" {
		pol.OnQueueFull = p.Mode
	}
	return pol
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

// Parse decodes, defaults and validates a configuration document.
func Parse(raw []byte) (*Config, error) {
	// preset so that an explicit write_retries: 0 survives decoding
	cfg := Config{Policy: ports.Policy{WriteRetries: defaultWriteRetries}}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

const defaultWriteRetries = 3

func (c *Config) applyDefaults() {
	if c.Policy.QueueLen == 0 {
		c.Policy.QueueLen = 1024
	}
	if c.Policy.Vectorize == 0 {
		c.Policy.Vectorize = 1
	}
	if c.Policy.IdleSleep == 0 {
		c.Policy.IdleSleep = 5 * time.Millisecond
	}
	if c.Policy.OnQueueFull == "" {
		c.Policy.OnQueueFull = ports.OnQueueFullBlock
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	for i := range c.Paths {
		if c.Paths[i].Name == "" {
			c.Paths[i].Name = fmt.Sprintf("path%d", i)
		}
	}
}

func (c *Config) validate() error {
	var errs []error
	if _, err := queue.ParseMode(c.Policy.OnQueueFull); err != nil {
		errs = append(errs, fmt.Errorf("policy.on_queue_full: %w", err))
	}
	if c.Policy.QueueLen < 0 || c.Policy.Vectorize < 0 || c.Policy.WriteRetries < 0 {
		errs = append(errs, errors.New("policy: negative values are not allowed"))
	}

	for _, name := range c.NodeNames() {
		n := c.Nodes[name]
		if n.Type == "" {
			errs = append(errs, fmt.Errorf("node %s: type is required", name))
		}
		if _, err := n.In(); err != nil {
			errs = append(errs, fmt.Errorf("node %s: %w", name, err))
		}
		if _, err := n.Out(); err != nil {
			errs = append(errs, fmt.Errorf("node %s: %w", name, err))
		}
	}

	pathNames := make(map[string]bool)
	sourceOf := make(map[string]string)
	for _, p := range c.Paths {
		if pathNames[p.Name] {
			errs = append(errs, fmt.Errorf("path %s: duplicate name", p.Name))
		}
		pathNames[p.Name] = true
		if len(p.In) == 0 || len(p.Out) == 0 {
			errs = append(errs, fmt.Errorf("path %s: in and out need at least one node", p.Name))
		}
		if p.Mode != "" {
			if _, err := queue.ParseMode(p.Mode); err != nil {
				errs = append(errs, fmt.Errorf("path %s: %w", p.Name, err))
			}
		}
		for _, name := range append(append(Names{}, p.In...), p.Out...) {
			if _, ok := c.Nodes[name]; !ok {
				errs = append(errs, fmt.Errorf("path %s: unknown node %q", p.Name, name))
			}
		}
		if !p.IsEnabled() {
			continue
		}
		for _, name := range p.In {
			if other, ok := sourceOf[name]; ok {
				errs = append(errs, fmt.Errorf("node %s is a source of paths %s and %s", name, other, p.Name))
				continue
			}
			sourceOf[name] = p.Name
		}
	}
	return errors.Join(errs...)
}

// NodeNames returns the configured node names in sorted order.
func (c *Config) NodeNames() []string {
	names := make([]string, 0, len(c.Nodes))
	for name := range c.Nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
