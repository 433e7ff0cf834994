// Package file implements a node that replays samples from a text file and
// records samples into one, in the villas.human format. Files ending in .gz
// are compressed transparently.
package file

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/time/rate"

	"github.com/matthiasnowak/villasnode/internal/adapters/format"
	"github.com/matthiasnowak/villasnode/internal/adapters/nodes"
	"github.com/matthiasnowak/villasnode/internal/domain"
	"github.com/matthiasnowak/villasnode/internal/ports"
)

const Type = "file"

const (
	EOFStop   = "stop"
	EOFRewind = "rewind"
	EOFWait   = "wait"

	EpochOriginal = "original"
	EpochDirect   = "direct"
)

type InConfig struct {
	URI       string  `yaml:"uri"`
	Rate      float64 `yaml:"rate"`
	EOF       string  `yaml:"eof"`
	EpochMode string  `yaml:"epoch_mode"`
}

type OutConfig struct {
	URI    string `yaml:"uri"`
	Flush  bool   `yaml:"flush"`
	Append bool   `yaml:"append"`
}

type Config struct {
	URI string    `yaml:"uri"`
	In  InConfig  `yaml:"in"`
	Out OutConfig `yaml:"out"`
}

func (c *Config) applyDefaults() {
	if c.In.URI == "" {
		c.In.URI = c.URI
	}
	if c.Out.URI == "" {
		c.Out.URI = c.URI
	}
	if c.In.EOF == "" {
		c.In.EOF = EOFStop
	}
	if c.In.EpochMode == "" {
		c.In.EpochMode = EpochOriginal
	}
}

func (c *Config) validate() error {
	if c.In.URI == "" && c.Out.URI == "" {
		return errors.New("uri is required")
	}
	switch c.In.EOF {
	case EOFStop, EOFRewind, EOFWait:
	default:
		return fmt.Errorf("unknown eof mode %q", c.In.EOF)
	}
	switch c.In.EpochMode {
	case EpochOriginal, EpochDirect:
	default:
		return fmt.Errorf("unknown epoch_mode %q", c.In.EpochMode)
	}
	if c.In.Rate < 0 {
		return fmt.Errorf("rate must not be negative")
	}
	return nil
}

type Node struct {
	nodes.Info
	cfg   Config
	human *format.Human

	rmu     sync.Mutex
	rfile   *os.File
	rgz     *gzip.Reader
	reader  *bufio.Reader
	partial string
	limiter *rate.Limiter

	wmu    sync.Mutex
	wfile  *os.File
	wgz    *gzip.Writer
	writer *bufio.Writer
	line   []byte
}

func New(name string, signals domain.SignalList, opts ports.Options) (*Node, error) {
	var cfg Config
	if err := opts.Decode(&cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("file node %s: %w", name, err)
	}
	var flags ports.NodeFlags
	if cfg.In.URI != "" {
		flags |= ports.NodeRead
	}
	if cfg.Out.URI != "" {
		flags |= ports.NodeWrite
	}
	return &Node{
		Info:  nodes.NewInfo(name, Type, flags, signals),
		cfg:   cfg,
		human: &format.Human{Signals: signals},
	}, nil
}

func (n *Node) Start(context.Context) error {
	if n.cfg.In.Rate > 0 {
		n.limiter = rate.NewLimiter(rate.Limit(n.cfg.In.Rate), 1)
	}
	return nil
}

func (n *Node) Stop() error {
	n.rmu.Lock()
	n.closeReader()
	n.rmu.Unlock()

	n.wmu.Lock()
	defer n.wmu.Unlock()
	return n.closeWriter()
}

func isGzip(uri string) bool { return strings.HasSuffix(uri, ".gz") }

func (n *Node) openReader() error {
	f, err := os.Open(n.cfg.In.URI)
	if err != nil {
		return err
	}
	var r io.Reader = f
	if isGzip(n.cfg.In.URI) {
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return err
		}
		n.rgz = gz
		r = gz
	}
	n.rfile = f
	n.reader = bufio.NewReader(r)
	n.partial = ""
	return nil
}

func (n *Node) closeReader() {
	if n.rgz != nil {
		n.rgz.Close()
		n.rgz = nil
	}
	if n.rfile != nil {
		n.rfile.Close()
		n.rfile = nil
	}
	n.reader = nil
}

// nextLine returns the next sample line, handling the eof mode.
func (n *Node) nextLine(ctx context.Context) (string, error) {
	for {
		if n.reader == nil {
			if err := n.openReader(); err != nil {
				return "", err
			}
		}
		chunk, err := n.reader.ReadString('\n')
		if err == nil {
			line := strings.TrimSpace(n.partial + chunk)
			n.partial = ""
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			return line, nil
		}
		if !errors.Is(err, io.EOF) {
			return "", err
		}
		n.partial += chunk

		switch n.cfg.In.EOF {
		case EOFRewind:
			if line := strings.TrimSpace(n.partial); line != "" && !strings.HasPrefix(line, "#") {
				n.partial = ""
				n.closeReader()
				return line, nil
			}
			n.closeReader()
		case EOFWait:
			if isGzip(n.cfg.In.URI) {
				return "", io.EOF
			}
			t := time.NewTimer(100 * time.Millisecond)
			select {
			case <-ctx.Done():
				t.Stop()
				return "", ctx.Err()
			case <-t.C:
			}
		default:
			if line := strings.TrimSpace(n.partial); line != "" && !strings.HasPrefix(line, "#") {
				n.partial = ""
				return line, nil
			}
			return "", io.EOF
		}
	}
}

// Read parses up to len(smps) lines. With a rate set every sample waits for
// its slot. At the end of the file eof=stop reports io.EOF, eof=rewind starts
// over and eof=wait follows the file as it grows.
func (n *Node) Read(ctx context.Context, smps []*domain.Sample) (int, error) {
	n.rmu.Lock()
	defer n.rmu.Unlock()

	for i, s := range smps {
		if n.limiter != nil {
			if err := n.limiter.Wait(ctx); err != nil {
				return i, err
			}
		}
		line, err := n.nextLine(ctx)
		if err != nil {
			if i > 0 && errors.Is(err, io.EOF) {
				return i, nil
			}
			return i, err
		}
		if err := n.human.ParseLine(line, s); err != nil {
			return i, fmt.Errorf("file %s: %w", n.cfg.In.URI, err)
		}
		if n.cfg.In.EpochMode == EpochDirect {
			s.TS.Origin = time.Now()
			s.Flags |= domain.HasTSOrigin
		}
	}
	return len(smps), nil
}

func (n *Node) openWriter() error {
	flags := os.O_CREATE | os.O_WRONLY
	if n.cfg.Out.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(n.cfg.Out.URI, flags, 0o644)
	if err != nil {
		return err
	}
	var w io.Writer = f
	if isGzip(n.cfg.Out.URI) {
		n.wgz = gzip.NewWriter(f)
		w = n.wgz
	}
	n.wfile = f
	n.writer = bufio.NewWriter(w)

	if st, err := f.Stat(); err == nil && st.Size() == 0 {
		n.writer.WriteString(n.human.Header())
	}
	return nil
}

func (n *Node) closeWriter() error {
	if n.wfile == nil {
		return nil
	}
	var errs []error
	errs = append(errs, n.writer.Flush())
	if n.wgz != nil {
		errs = append(errs, n.wgz.Close())
		n.wgz = nil
	}
	errs = append(errs, n.wfile.Close())
	n.wfile, n.writer = nil, nil
	return errors.Join(errs...)
}

func (n *Node) Write(_ context.Context, smps []*domain.Sample) (int, int, error) {
	n.wmu.Lock()
	defer n.wmu.Unlock()
	if n.wfile == nil {
		if err := n.openWriter(); err != nil {
			return 0, 0, err
		}
	}
	for i, s := range smps {
		n.line = n.human.AppendLine(n.line[:0], s)
		if _, err := n.writer.Write(n.line); err != nil {
			return i, i, err
		}
	}
	if n.cfg.Out.Flush {
		if err := n.writer.Flush(); err != nil {
			return len(smps), len(smps), err
		}
		if n.wgz != nil {
			if err := n.wgz.Flush(); err != nil {
				return len(smps), len(smps), err
			}
		}
	}
	return len(smps), len(smps), nil
}

var _ ports.Node = (*Node)(nil)
