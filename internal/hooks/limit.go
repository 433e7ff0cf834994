package hooks

import (
	"fmt"

	"github.com/matthiasnowak/villasnode/internal/domain"
	"github.com/matthiasnowak/villasnode/internal/ports"
)

// Limit forwards the first count samples and then halts the path.
type Limit struct {
	Base
	count uint64
	seen  uint64
}

func NewLimit() ports.Hook {
	h := &Limit{}
	h.init("limit", 100, ports.HookPath)
	return h
}

func (h *Limit) Parse(opts ports.Options) error {
	if err := h.Base.Parse(opts); err != nil {
		return err
	}
	var cfg struct {
		Count int `yaml:"count"`
	}
	if err := opts.Decode(&cfg); err != nil {
		return err
	}
	if cfg.Count < 1 {
		return fmt.Errorf("limit: count must be >= 1, got %d", cfg.Count)
	}
	h.count = uint64(cfg.Count)
	return nil
}

func (h *Limit) Start() error {
	h.seen = 0
	return h.Base.Start()
}

func (h *Limit) Process(*domain.Sample) ports.Disposition {
	if h.seen >= h.count {
		return ports.Stop
	}
	h.seen++
	return ports.OK
}
