package pipeline

import (
	"errors"
	"fmt"
	"sort"

	"github.com/matthiasnowak/villasnode/internal/domain"
	"github.com/matthiasnowak/villasnode/internal/ports"
)

// HookList is an ordered hook chain. Disabled hooks are dropped on
// construction; the rest are sorted by ascending priority with ties kept in
// registration order. The order is fixed for the lifetime of the list.
type HookList struct {
	path  string
	obs   ports.Observability
	hooks []ports.Hook
}

func NewHookList(path string, obs ports.Observability, hooks []ports.Hook) *HookList {
	l := &HookList{path: path, obs: obs}
	for _, h := range hooks {
		if h.Enabled() {
			l.hooks = append(l.hooks, h)
		}
	}
	sort.SliceStable(l.hooks, func(i, j int) bool {
		return l.hooks[i].Priority() < l.hooks[j].Priority()
	})
	return l
}

func (l *HookList) Hooks() []ports.Hook { return l.hooks }

func (l *HookList) Len() int { return len(l.hooks) }

// Prepare threads the signal schema through every hook and returns the
// resulting output schema.
func (l *HookList) Prepare(in domain.SignalList) (domain.SignalList, error) {
	sigs := in
	for _, h := range l.hooks {
		out, err := h.Prepare(sigs.Clone())
		if err != nil {
			return nil, fmt.Errorf("prepare hook %s: %w", h.Name(), err)
		}
		sigs = out
	}
	return sigs, nil
}

// Start starts every hook. On failure the hooks started so far are stopped.
func (l *HookList) Start() error {
	for i, h := range l.hooks {
		if err := h.Start(); err != nil {
			for _, started := range l.hooks[:i] {
				started.Stop()
			}
			return fmt.Errorf("start hook %s: %w", h.Name(), err)
		}
	}
	return nil
}

// Stop stops every started hook.
func (l *HookList) Stop() error {
	var errs []error
	for _, h := range l.hooks {
		if h.State() != ports.HookStarted {
			continue
		}
		if err := h.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop hook %s: %w", h.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Result summarizes one pass of a batch through the chain.
type Result struct {
	Kept    int
	Skipped int
	Errors  int
	// Stopped is set when a hook returned Stop. StoppedBy names it.
	Stopped   bool
	StoppedBy string
}

// Process runs every sample through the chain in order. Surviving samples
// are moved to the front of smps, keeping their relative order; smps[Kept:]
// holds the dropped samples and, after a Stop, the unprocessed remainder.
// The caller owns the references of all of them.
func (l *HookList) Process(smps []*domain.Sample) Result {
	var res Result
	for i, s := range smps {
		disp, hook := l.process(s)
		switch disp {
		case ports.OK:
			smps[res.Kept], smps[i] = smps[i], smps[res.Kept]
			res.Kept++
		case ports.Skip:
			res.Skipped++
		case ports.Error:
			res.Errors++
			if l.obs != nil {
				l.obs.RecordHookError(l.path, hook, s)
			}
		case ports.Stop:
			res.Stopped = true
			res.StoppedBy = hook
			return res
		}
	}
	return res
}

func (l *HookList) process(s *domain.Sample) (ports.Disposition, string) {
	for _, h := range l.hooks {
		if d := h.Process(s); d != ports.OK {
			return d, h.Name()
		}
	}
	return ports.OK, ""
}
