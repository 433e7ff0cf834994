package hooks

import (
	"fmt"
	"math"
	"math/cmplx"
	"strconv"

	"github.com/matthiasnowak/villasnode/internal/domain"
	"github.com/matthiasnowak/villasnode/internal/ports"
)

// Dft runs a sliding window discrete Fourier transform over one signal and
// appends, for every configured frequency, its amplitude and phase. A final
// signal carries the frequency with the largest amplitude.
//
// The appended signals become part of the path schema at prepare time, so
// sample pools must be sized for the widened schema. Samples are skipped
// until the window has filled once after start.
type Dft struct {
	Base
	signal string
	rate   float64
	window int
	freqs  []float64

	index   int
	inLen   int
	twiddle [][]complex128
	ring    []float64
	pos     int
	filled  int
}

func NewDft() ports.Hook {
	h := &Dft{}
	h.init("dft", 99, ports.HookPath|ports.HookNodeRead)
	return h
}

func (h *Dft) Parse(opts ports.Options) error {
	if err := h.Base.Parse(opts); err != nil {
		return err
	}
	var cfg struct {
		Signal      string    `yaml:"signal"`
		Rate        float64   `yaml:"rate"`
		Window      int       `yaml:"window"`
		Frequencies []float64 `yaml:"frequencies"`
	}
	if err := opts.Decode(&cfg); err != nil {
		return err
	}
	switch {
	case cfg.Signal == "":
		return fmt.Errorf("dft: signal is required")
	case cfg.Rate <= 0:
		return fmt.Errorf("dft: rate must be positive")
	case cfg.Window < 2:
		return fmt.Errorf("dft: window must be >= 2, got %d", cfg.Window)
	case len(cfg.Frequencies) == 0:
		return fmt.Errorf("dft: at least one frequency is required")
	}
	for _, f := range cfg.Frequencies {
		if f < 0 || f > cfg.Rate/2 {
			return fmt.Errorf("dft: frequency %g outside [0, %g]", f, cfg.Rate/2)
		}
	}
	h.signal, h.rate, h.window, h.freqs = cfg.Signal, cfg.Rate, cfg.Window, cfg.Frequencies
	return nil
}

func (h *Dft) Prepare(in domain.SignalList) (domain.SignalList, error) {
	idx, err := signalIndex(in, h.signal)
	if err != nil {
		return nil, fmt.Errorf("dft: %w", err)
	}
	if _, err := h.Base.Prepare(in); err != nil {
		return nil, err
	}
	h.index = idx
	h.inLen = len(in)

	name := in[idx].Name
	var added []domain.Signal
	for _, f := range h.freqs {
		fs := strconv.FormatFloat(f, 'f', -1, 64)
		added = append(added,
			domain.Signal{Name: name + "_amp_" + fs, Unit: in[idx].Unit, Type: domain.SignalFloat},
			domain.Signal{Name: name + "_phase_" + fs, Unit: "rad", Type: domain.SignalFloat},
		)
	}
	added = append(added, domain.Signal{Name: name + "_freq", Unit: "Hz", Type: domain.SignalFloat})
	out, err := in.Append(added...)
	if err != nil {
		return nil, fmt.Errorf("dft: %w", err)
	}
	return out, nil
}

func (h *Dft) Start() error {
	h.twiddle = make([][]complex128, len(h.freqs))
	for k, f := range h.freqs {
		row := make([]complex128, h.window)
		for n := range row {
			row[n] = cmplx.Exp(complex(0, -2*math.Pi*f*float64(n)/h.rate))
		}
		h.twiddle[k] = row
	}
	h.ring = make([]float64, h.window)
	h.pos, h.filled = 0, 0
	return h.Base.Start()
}

func (h *Dft) Stop() error {
	h.twiddle, h.ring = nil, nil
	return h.Base.Stop()
}

func (h *Dft) Process(s *domain.Sample) ports.Disposition {
	if h.index >= s.Len() || s.Capacity() < h.inLen+2*len(h.freqs)+1 {
		return ports.Error
	}
	h.ring[h.pos] = s.Value(h.index).Float()
	h.pos = (h.pos + 1) % h.window
	if h.filled < h.window {
		h.filled++
		if h.filled < h.window {
			return ports.Skip
		}
	}

	if err := s.SetLength(h.inLen); err != nil {
		return ports.Error
	}
	best, bestAmp := 0.0, -1.0
	for k, row := range h.twiddle {
		var acc complex128
		// oldest value first so phase is relative to the window start
		for n := 0; n < h.window; n++ {
			acc += complex(h.ring[(h.pos+n)%h.window], 0) * row[n]
		}
		amp := 2 * cmplx.Abs(acc) / float64(h.window)
		if h.freqs[k] == 0 {
			amp /= 2
		}
		if s.Append(domain.FloatValue(amp)) != nil || s.Append(domain.FloatValue(cmplx.Phase(acc))) != nil {
			return ports.Error
		}
		if amp > bestAmp {
			best, bestAmp = h.freqs[k], amp
		}
	}
	if err := s.Append(domain.FloatValue(best)); err != nil {
		return ports.Error
	}
	return ports.OK
}
