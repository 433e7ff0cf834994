package hooks

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/matthiasnowak/villasnode/internal/adapters/format"
	"github.com/matthiasnowak/villasnode/internal/domain"
	"github.com/matthiasnowak/villasnode/internal/ports"
)

// Print writes every sample in the human readable format.
type Print struct {
	Base
	prefix string
	output string

	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	human  *format.Human
	buf    []byte
}

func NewPrint() ports.Hook {
	h := &Print{}
	h.init("print", 99, ports.HookAnywhere)
	return h
}

// NewPrintTo returns a print hook bound to w. Used by tests and embedders.
func NewPrintTo(w io.Writer) *Print {
	h := &Print{w: w}
	h.init("print", 99, ports.HookAnywhere)
	return h
}

func (h *Print) Parse(opts ports.Options) error {
	if err := h.Base.Parse(opts); err != nil {
		return err
	}
	var cfg struct {
		Prefix string `yaml:"prefix"`
		Output string `yaml:"output"`
	}
	if err := opts.Decode(&cfg); err != nil {
		return err
	}
	h.prefix, h.output = cfg.Prefix, cfg.Output
	return nil
}

func (h *Print) Prepare(in domain.SignalList) (domain.SignalList, error) {
	out, err := h.Base.Prepare(in)
	if err != nil {
		return nil, err
	}
	h.human = &format.Human{Signals: in.Clone()}
	return out, nil
}

func (h *Print) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.output != "" {
		f, err := os.OpenFile(h.output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("print: %w", err)
		}
		h.w, h.closer = f, f
	} else if h.w == nil {
		h.w = os.Stdout
	}
	return h.Base.Start()
}

func (h *Print) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closer != nil {
		h.closer.Close()
		h.w, h.closer = nil, nil
	}
	return h.Base.Stop()
}

func (h *Print) Process(s *domain.Sample) ports.Disposition {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf = append(h.buf[:0], h.prefix...)
	h.buf = h.human.AppendLine(h.buf, s)
	if _, err := h.w.Write(h.buf); err != nil {
		return ports.Error
	}
	return ports.OK
}
