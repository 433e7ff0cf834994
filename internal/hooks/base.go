// Package hooks contains the builtin per-sample hooks.
//
// Every hook embeds Base, which implements the lifecycle state machine:
//
//	initialized -> parsed -> prepared -> started <-> stopped
//
// Parse is rejected while started. Concrete hooks override Parse, Prepare,
// Start or Stop and call the embedded Base method to advance the state.
package hooks

import (
	"fmt"
	"sync/atomic"

	"github.com/matthiasnowak/villasnode/internal/domain"
	"github.com/matthiasnowak/villasnode/internal/ports"
)

// Base carries the settings shared by all hooks.
type Base struct {
	name     string
	priority int
	flags    ports.HookFlags
	enabled  bool
	state    atomic.Int32
}

func (b *Base) init(name string, priority int, flags ports.HookFlags) {
	b.name = name
	b.priority = priority
	b.flags = flags
	b.enabled = true
}

func (b *Base) Name() string           { return b.name }
func (b *Base) Priority() int          { return b.priority }
func (b *Base) Flags() ports.HookFlags { return b.flags }
func (b *Base) Enabled() bool          { return b.enabled }
func (b *Base) State() ports.HookState { return ports.HookState(b.state.Load()) }

func (b *Base) setState(s ports.HookState) { b.state.Store(int32(s)) }

type baseOptions struct {
	Priority *int  `yaml:"priority"`
	Enabled  *bool `yaml:"enabled"`
}

func (b *Base) Parse(opts ports.Options) error {
	if b.State() == ports.HookStarted {
		return fmt.Errorf("parse %s while started: %w", b.name, ports.ErrHookState)
	}
	var cfg baseOptions
	if err := opts.Decode(&cfg); err != nil {
		return fmt.Errorf("hook %s: %w", b.name, err)
	}
	if cfg.Priority != nil {
		b.priority = *cfg.Priority
	}
	if cfg.Enabled != nil {
		b.enabled = *cfg.Enabled
	}
	b.setState(ports.HookParsed)
	return nil
}

func (b *Base) Prepare(in domain.SignalList) (domain.SignalList, error) {
	switch b.State() {
	case ports.HookInitialized, ports.HookParsed:
		b.setState(ports.HookPrepared)
		return in, nil
	default:
		return nil, fmt.Errorf("prepare %s in state %s: %w", b.name, b.State(), ports.ErrHookState)
	}
}

func (b *Base) Start() error {
	switch b.State() {
	case ports.HookPrepared, ports.HookStopped:
		b.setState(ports.HookStarted)
		return nil
	default:
		return fmt.Errorf("start %s in state %s: %w", b.name, b.State(), ports.ErrHookState)
	}
}

func (b *Base) Stop() error {
	if b.State() != ports.HookStarted {
		return fmt.Errorf("stop %s in state %s: %w", b.name, b.State(), ports.ErrHookState)
	}
	b.setState(ports.HookStopped)
	return nil
}

// signalIndex resolves a signal given by name or by decimal index.
func signalIndex(signals domain.SignalList, ref string) (int, error) {
	if idx := signals.IndexOf(ref); idx >= 0 {
		return idx, nil
	}
	var idx int
	if _, err := fmt.Sscanf(ref, "%d", &idx); err == nil && idx >= 0 && idx < len(signals) {
		return idx, nil
	}
	return -1, fmt.Errorf("unknown signal %q in %s", ref, signals)
}
