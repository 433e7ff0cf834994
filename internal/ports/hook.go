package ports

import (
	"errors"
	"strings"

	"github.com/matthiasnowak/villasnode/internal/domain"
)

// ErrHookState is returned when a lifecycle call is not legal in the hook's current state.
var ErrHookState = errors.New("invalid hook state")

// Disposition is the per-sample outcome of a hook.
type Disposition int

const (
	// OK passes the sample on to the next hook.
	OK Disposition = iota
	// Error drops the sample and counts it as failed.
	Error
	// Skip drops the sample silently.
	Skip
	// Stop halts the whole path.
	Stop
)

func (d Disposition) String() string {
	switch d {
	case OK:
		return "ok"
	case Error:
		return "error"
	case Skip:
		return "skip"
	case Stop:
		return "stop"
	default:
		return "unknown"
	}
}

// HookFlags tell where a hook type may be attached.
type HookFlags uint8

const (
	HookNodeRead HookFlags = 1 << iota
	HookNodeWrite
	HookPath
)

const HookAnywhere = HookNodeRead | HookNodeWrite | HookPath

func (f HookFlags) Has(o HookFlags) bool { return f&o == o }

func (f HookFlags) String() string {
	var parts []string
	if f.Has(HookNodeRead) {
		parts = append(parts, "node-read")
	}
	if f.Has(HookNodeWrite) {
		parts = append(parts, "node-write")
	}
	if f.Has(HookPath) {
		parts = append(parts, "path")
	}
	return strings.Join(parts, ",")
}

// HookState is the lifecycle position of a hook.
type HookState int

const (
	HookInitialized HookState = iota
	HookParsed
	HookPrepared
	HookStarted
	HookStopped
)

func (s HookState) String() string {
	return [...]string{"initialized", "parsed", "prepared", "started", "stopped"}[s]
}

// Hook processes one sample at a time.
//
// Prepare receives the schema produced by the hooks before it and returns the
// schema it produces; hooks that derive new signals append them here. Process
// is only called between Start and Stop and may rewrite the sample in place.
type Hook interface {
	Name() string
	Priority() int
	Flags() HookFlags
	Enabled() bool
	State() HookState

	Parse(opts Options) error
	Prepare(in domain.SignalList) (domain.SignalList, error)
	Start() error
	Stop() error
	Process(s *domain.Sample) Disposition
}
