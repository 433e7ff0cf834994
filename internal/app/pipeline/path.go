package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/matthiasnowak/villasnode/internal/adapters/queue"
	"github.com/matthiasnowak/villasnode/internal/domain"
	"github.com/matthiasnowak/villasnode/internal/ports"
)

var (
	// ErrPathHalted is reported by Err after a hook returned Stop.
	ErrPathHalted = errors.New("path halted by hook")
	// ErrPathFaulted wraps the node error that stopped a path.
	ErrPathFaulted = errors.New("path faulted")
	// ErrPathState is returned for lifecycle calls that are illegal in the current state.
	ErrPathState = errors.New("invalid path state")
)

type PathState int32

const (
	PathCreated PathState = iota
	PathPrepared
	PathStarted
	PathStopped
	PathHalted
	PathFaulted
)

func (s PathState) String() string {
	switch s {
	case PathCreated:
		return "created"
	case PathPrepared:
		return "prepared"
	case PathStarted:
		return "started"
	case PathStopped:
		return "stopped"
	case PathHalted:
		return "halted"
	case PathFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// Source is a node the path reads from, with its node-read hooks.
type Source struct {
	Node    ports.Node
	Signals domain.SignalList
	Hooks   []ports.Hook
}

// Destination is a node the path writes to, with its node-write hooks.
type Destination struct {
	Node  ports.Node
	Hooks []ports.Hook
}

type PathConfig struct {
	Name         string
	Sources      []Source
	Destinations []Destination
	Hooks        []ports.Hook
	Policy       ports.Policy
}

type source struct {
	node    ports.Node
	signals domain.SignalList
	hooks   *HookList
	pool    *domain.Pool
	queue   ports.SampleQueue

	// set when a node-read hook stopped the path; the queue is still drained
	stoppedBy atomic.Pointer[string]
}

type destination struct {
	node  ports.Node
	hooks *HookList
	pool  *domain.Pool
}

// PathStats is a snapshot of the path counters.
type PathStats struct {
	Name          string `json:"name"`
	State         string `json:"state"`
	Received      uint64 `json:"received"`
	Processed     uint64 `json:"processed"`
	Skipped       uint64 `json:"skipped"`
	HookErrors    uint64 `json:"hook_errors"`
	Overflow      uint64 `json:"overflow"`
	Written       uint64 `json:"written"`
	Lost          uint64 `json:"lost"`
	PoolExhausted uint64 `json:"pool_exhausted"`
	QueueLength   int    `json:"queue_length"`
	PoolFree      int    `json:"pool_free"`
	Error         string `json:"error,omitempty"`
}

type counters struct {
	received, processed, skipped, hookErrors atomic.Uint64
	overflow, written, lost, exhausted       atomic.Uint64
}

// Path moves samples from its sources through the hook chain to its
// destinations. Nodes are started and stopped by the owner of the path; a
// node may be the source of at most one path.
type Path struct {
	name   string
	policy ports.Policy
	obs    ports.Observability

	sources      []*source
	destinations []*destination
	hooks        *HookList
	schema       domain.SignalList

	seq   uint64
	state atomic.Int32
	stats counters

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	wake   chan struct{}

	errMu sync.Mutex
	err   error
}

func NewPath(cfg PathConfig, obs ports.Observability) (*Path, error) {
	if cfg.Name == "" {
		return nil, errors.New("path: name is required")
	}
	if len(cfg.Sources) == 0 {
		return nil, fmt.Errorf("path %s: at least one source is required", cfg.Name)
	}
	if len(cfg.Destinations) == 0 {
		return nil, fmt.Errorf("path %s: at least one destination is required", cfg.Name)
	}
	pol := cfg.Policy
	if pol.QueueLen <= 0 {
		pol.QueueLen = 1024
	}
	if pol.Vectorize <= 0 {
		pol.Vectorize = 1
	}
	if pol.IdleSleep <= 0 {
		pol.IdleSleep = 5 * time.Millisecond
	}
	if pol.OnQueueFull == "" {
		pol.OnQueueFull = ports.OnQueueFullBlock
	}
	if _, err := queue.ParseMode(pol.OnQueueFull); err != nil {
		return nil, fmt.Errorf("path %s: %w", cfg.Name, err)
	}

	p := &Path{
		name:   cfg.Name,
		policy: pol,
		obs:    obs,
		hooks:  NewHookList(cfg.Name, obs, cfg.Hooks),
		wake:   make(chan struct{}, 1),
	}
	for _, s := range cfg.Sources {
		if !s.Node.Capabilities().Has(ports.NodeRead) {
			return nil, fmt.Errorf("path %s: node %s cannot be read: %w", cfg.Name, s.Node.Name(), ports.ErrNotSupported)
		}
		p.sources = append(p.sources, &source{
			node:    s.Node,
			signals: s.Signals,
			hooks:   NewHookList(cfg.Name, obs, s.Hooks),
		})
	}
	for _, d := range cfg.Destinations {
		if !d.Node.Capabilities().Has(ports.NodeWrite) {
			return nil, fmt.Errorf("path %s: node %s cannot be written: %w", cfg.Name, d.Node.Name(), ports.ErrNotSupported)
		}
		p.destinations = append(p.destinations, &destination{
			node:  d.Node,
			hooks: NewHookList(cfg.Name, obs, d.Hooks),
		})
	}
	p.setState(PathCreated)
	return p, nil
}

func (p *Path) Name() string { return p.name }

func (p *Path) State() PathState { return PathState(p.state.Load()) }

// Schema returns the output signal list. It is frozen once the path is prepared.
func (p *Path) Schema() domain.SignalList { return p.schema.Clone() }

// Err returns why the path is halted or faulted.
func (p *Path) Err() error {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	return p.err
}

func (p *Path) setErr(err error) {
	p.errMu.Lock()
	p.err = err
	p.errMu.Unlock()
}

// Done is closed when the goroutines of the current run have exited.
func (p *Path) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

func (p *Path) setState(s PathState) {
	p.state.Store(int32(s))
	if p.obs != nil {
		p.obs.SetGauge(ports.GaugePathState, p.name, float64(s))
	}
}

// Prepare runs the prepare phase of every hook, fixes the output schema and
// sizes the sample pools and queues.
func (p *Path) Prepare() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.State() != PathCreated {
		return fmt.Errorf("prepare path %s in state %s: %w", p.name, p.State(), ErrPathState)
	}

	var in domain.SignalList
	width := 0
	for i, src := range p.sources {
		if len(src.signals) == 0 {
			return fmt.Errorf("path %s: source %s declares no signals", p.name, src.node.Name())
		}
		out, err := src.hooks.Prepare(src.signals)
		if err != nil {
			return fmt.Errorf("path %s: source %s: %w", p.name, src.node.Name(), err)
		}
		if i == 0 {
			in = out
		} else if !sameShape(in, out) {
			return fmt.Errorf("path %s: source %s schema %s differs from %s", p.name, src.node.Name(), out, in)
		}
		width = max(width, len(src.signals), len(out))
	}

	schema, err := p.hooks.Prepare(in)
	if err != nil {
		return fmt.Errorf("path %s: %w", p.name, err)
	}
	p.schema = schema
	width = max(width, len(schema))

	mode, _ := queue.ParseMode(p.policy.OnQueueFull)
	blocks := p.policy.PoolSize()
	for _, dst := range p.destinations {
		if dst.hooks.Len() == 0 {
			continue
		}
		out, err := dst.hooks.Prepare(schema)
		if err != nil {
			return fmt.Errorf("path %s: destination %s: %w", p.name, dst.node.Name(), err)
		}
		pool, err := domain.NewPool(blocks, max(len(schema), len(out)))
		if err != nil {
			return fmt.Errorf("path %s: %w", p.name, err)
		}
		dst.pool = pool
	}
	for _, src := range p.sources {
		pool, err := domain.NewPool(blocks, width)
		if err != nil {
			return fmt.Errorf("path %s: %w", p.name, err)
		}
		src.pool = pool
		src.queue = queue.New(p.policy.QueueLen, mode)
	}

	p.setState(PathPrepared)
	return nil
}

func sameShape(a, b domain.SignalList) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Type != b[i].Type {
			return false
		}
	}
	return true
}

func (p *Path) hookLists() []*HookList {
	lists := []*HookList{p.hooks}
	for _, src := range p.sources {
		lists = append(lists, src.hooks)
	}
	for _, dst := range p.destinations {
		lists = append(lists, dst.hooks)
	}
	return lists
}

// Start starts the hooks and launches one reader per source plus the run loop.
func (p *Path) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.State() {
	case PathPrepared, PathStopped:
	default:
		return fmt.Errorf("start path %s in state %s: %w", p.name, p.State(), ErrPathState)
	}

	lists := p.hookLists()
	for i, l := range lists {
		if err := l.Start(); err != nil {
			for _, started := range lists[:i] {
				started.Stop()
			}
			return fmt.Errorf("path %s: %w", p.name, err)
		}
	}

	for _, src := range p.sources {
		src.stoppedBy.Store(nil)
	}
	select {
	case <-p.wake:
	default:
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	p.cancel, p.done = cancel, done
	p.setErr(nil)
	p.setState(PathStarted)

	g, gctx := errgroup.WithContext(runCtx)
	for _, src := range p.sources {
		g.Go(func() error { return p.read(gctx, src, cancel) })
	}
	g.Go(func() error { return p.run(gctx, cancel) })

	go func() {
		err := g.Wait()
		cancel()
		if err != nil {
			p.fault(err)
		}
		close(done)
	}()

	if p.obs != nil {
		p.obs.LogInfo("path_started", ports.Field{Key: "path", Value: p.name},
			ports.Field{Key: "sources", Value: len(p.sources)}, ports.Field{Key: "destinations", Value: len(p.destinations)})
	}
	return nil
}

// Run starts the path and blocks until ctx is cancelled or the path halts or
// faults. The path is stopped before Run returns; a halt or fault is
// returned as error.
func (p *Path) Run(ctx context.Context) error {
	if err := p.Start(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
	case <-p.Done():
	}
	err := p.Err()
	if stopErr := p.Stop(); stopErr != nil {
		return errors.Join(err, stopErr)
	}
	return err
}

// Stop cancels the run, releases every queued sample and stops the hooks.
func (p *Path) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopLocked()
}

func (p *Path) stopLocked() error {
	switch p.State() {
	case PathStarted, PathHalted, PathFaulted:
	default:
		return fmt.Errorf("stop path %s in state %s: %w", p.name, p.State(), ErrPathState)
	}
	p.cancel()
	<-p.done

	for _, src := range p.sources {
		src.queue.Drain(func(s *domain.Sample) { s.DecRef() })
	}
	var errs []error
	for _, l := range p.hookLists() {
		if err := l.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	p.setState(PathStopped)
	return errors.Join(errs...)
}

// Restart stops the path if it is running, halted or faulted and starts it
// again. Sequence numbering continues.
func (p *Path) Restart(ctx context.Context) error {
	p.mu.Lock()
	switch p.State() {
	case PathStarted, PathHalted, PathFaulted:
		if err := p.stopLocked(); err != nil {
			p.mu.Unlock()
			return err
		}
	}
	p.mu.Unlock()
	return p.Start(ctx)
}

// Close releases the sample pools. The path must not be running. Samples
// still referenced by nodes are reported as a leak.
func (p *Path) Close() error {
	if s := p.State(); s == PathStarted || s == PathHalted || s == PathFaulted {
		if err := p.Stop(); err != nil {
			return err
		}
	}
	var errs []error
	for _, src := range p.sources {
		if src.pool == nil {
			continue
		}
		src.queue.Close()
		if err := src.pool.Close(); err != nil {
			errs = append(errs, fmt.Errorf("path %s: source %s: %w", p.name, src.node.Name(), err))
		}
	}
	for _, dst := range p.destinations {
		if dst.pool == nil {
			continue
		}
		if err := dst.pool.Close(); err != nil {
			errs = append(errs, fmt.Errorf("path %s: destination %s: %w", p.name, dst.node.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (p *Path) halt(hook string, cancel context.CancelFunc) {
	if !p.state.CompareAndSwap(int32(PathStarted), int32(PathHalted)) {
		return
	}
	err := fmt.Errorf("path %s: hook %s: %w", p.name, hook, ErrPathHalted)
	p.setErr(err)
	if p.obs != nil {
		p.obs.SetGauge(ports.GaugePathState, p.name, float64(PathHalted))
		p.obs.IncCounter(ports.MetricHalts, p.name, 1)
		p.obs.LogError("path_halted", err, ports.Field{Key: "path", Value: p.name}, ports.Field{Key: "hook", Value: hook})
	}
	cancel()
}

func (p *Path) fault(err error) {
	if !p.state.CompareAndSwap(int32(PathStarted), int32(PathFaulted)) {
		return
	}
	err = fmt.Errorf("path %s: %w: %w", p.name, ErrPathFaulted, err)
	p.setErr(err)
	if p.obs != nil {
		p.obs.SetGauge(ports.GaugePathState, p.name, float64(PathFaulted))
		p.obs.LogCritical("path_faulted", err, ports.Field{Key: "path", Value: p.name})
	}
}

func (p *Path) count(c *atomic.Uint64, metric string, n int) {
	if n <= 0 {
		return
	}
	c.Add(uint64(n))
	if p.obs != nil {
		p.obs.IncCounter(metric, p.name, float64(n))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// read is the producer loop of one source: allocate a batch, let the node
// fill it, run the node-read hooks and push the survivors into the source
// queue.
func (p *Path) read(ctx context.Context, src *source, cancel context.CancelFunc) error {
	batch := make([]*domain.Sample, p.policy.Vectorize)
	for ctx.Err() == nil {
		if err := src.pool.AllocateMany(batch); err != nil {
			p.count(&p.stats.exhausted, ports.MetricPoolExhausted, 1)
			sleepCtx(ctx, p.policy.IdleSleep)
			continue
		}

		n, err := src.node.Read(ctx, batch)
		n = max(0, min(n, len(batch)))
		domain.DecRefMany(batch[n:])
		if err != nil {
			domain.DecRefMany(batch[:n])
			if ctx.Err() != nil {
				return nil
			}
			return ports.NewNodeIOError(src.node.Name(), "read", err)
		}
		if n == 0 {
			sleepCtx(ctx, p.policy.IdleSleep)
			continue
		}

		now := time.Now()
		for _, s := range batch[:n] {
			if !s.Flags.Has(domain.HasTSReceived) {
				s.TS.Received = now
				s.Flags |= domain.HasTSReceived
			}
		}

		smps := batch[:n]
		if src.hooks.Len() > 0 {
			res := src.hooks.Process(smps)
			p.count(&p.stats.skipped, ports.MetricSkipped, res.Skipped)
			p.stats.hookErrors.Add(uint64(res.Errors))
			domain.DecRefMany(smps[res.Kept:])
			smps = smps[:res.Kept]
			if res.Stopped {
				// run halts the path once this queue is empty
				p.enqueue(ctx, src, smps)
				src.stoppedBy.Store(&res.StoppedBy)
				select {
				case p.wake <- struct{}{}:
				default:
				}
				return nil
			}
		}
		p.enqueue(ctx, src, smps)
	}
	return nil
}

func (p *Path) enqueue(ctx context.Context, src *source, smps []*domain.Sample) {
	pushed, err := src.queue.PushMany(ctx, smps)
	if pushed < len(smps) {
		domain.DecRefMany(smps[pushed:])
		if errors.Is(err, queue.ErrQueueOverflow) {
			p.count(&p.stats.overflow, ports.MetricOverflow, len(smps)-pushed)
		}
	}
}

// run is the consumer loop: pull a batch from the source queues in
// round-robin order, run the path hooks and write the survivors.
func (p *Path) run(ctx context.Context, cancel context.CancelFunc) error {
	batch := make([]*domain.Sample, p.policy.Vectorize)
	handles := make([]<-chan struct{}, len(p.sources), len(p.sources)+1)
	for i, src := range p.sources {
		handles[i] = src.queue.PollHandle()
	}
	handles = append(handles, p.wake)

	next := 0
	for ctx.Err() == nil {
		n := 0
		for i := range p.sources {
			idx := (next + i) % len(p.sources)
			src := p.sources[idx]
			stoppedBy := src.stoppedBy.Load()
			if n = src.queue.TryPullMany(batch); n > 0 {
				next = idx + 1
				break
			}
			if stoppedBy != nil {
				p.halt(*stoppedBy, cancel)
				return nil
			}
		}
		if n == 0 {
			if _, err := queue.Poll(ctx, handles...); err != nil {
				return nil
			}
			continue
		}
		if stopped := p.process(ctx, batch[:n], cancel); stopped {
			return nil
		}
	}
	return nil
}

// process owns one reference to every sample in smps and releases it.
func (p *Path) process(ctx context.Context, smps []*domain.Sample, cancel context.CancelFunc) bool {
	p.count(&p.stats.received, ports.MetricReceived, len(smps))

	for _, s := range smps {
		if !s.Flags.Has(domain.HasSequence) {
			s.Sequence = p.seq
			s.Flags |= domain.HasSequence
			p.seq++
		}
	}

	res := p.hooks.Process(smps)
	p.count(&p.stats.skipped, ports.MetricSkipped, res.Skipped)
	p.stats.hookErrors.Add(uint64(res.Errors))
	domain.DecRefMany(smps[res.Kept:])

	kept := smps[:res.Kept]
	p.count(&p.stats.processed, ports.MetricProcessed, len(kept))
	if len(kept) > 0 {
		if stopped := p.write(ctx, kept, cancel); stopped {
			res.Stopped = true
		}
	}
	domain.DecRefMany(kept)

	if p.obs != nil {
		p.obs.SetGauge(ports.GaugeQueueLength, p.name, float64(p.queueLen()))
		p.obs.SetGauge(ports.GaugePoolFree, p.name, float64(p.poolFree()))
	}
	if res.Stopped && res.StoppedBy != "" {
		p.halt(res.StoppedBy, cancel)
	}
	return res.Stopped
}

// write hands smps to every destination. Each destination gets its own
// reference; destinations with node-write hooks get private copies.
func (p *Path) write(ctx context.Context, smps []*domain.Sample, cancel context.CancelFunc) bool {
	stopped := false
	for _, dst := range p.destinations {
		out := smps
		if dst.hooks.Len() > 0 {
			clones, err := dst.pool.CloneMany(smps)
			if err != nil {
				p.count(&p.stats.exhausted, ports.MetricPoolExhausted, 1)
				p.count(&p.stats.lost, ports.MetricLost, len(smps))
				continue
			}
			res := dst.hooks.Process(clones)
			p.count(&p.stats.skipped, ports.MetricSkipped, res.Skipped)
			p.stats.hookErrors.Add(uint64(res.Errors))
			domain.DecRefMany(clones[res.Kept:])
			out = clones[:res.Kept]
			if res.Stopped {
				p.writeTo(ctx, dst, out)
				p.halt(res.StoppedBy, cancel)
				stopped = true
				continue
			}
		} else {
			domain.IncRefMany(out)
		}
		p.writeTo(ctx, dst, out)
	}
	return stopped
}

// writeTo retries partial writes up to the policy limit and drops what is
// left.
func (p *Path) writeTo(ctx context.Context, dst *destination, out []*domain.Sample) {
	start := time.Now()
	done := 0
	for attempt := 0; attempt <= p.policy.WriteRetries && done < len(out); attempt++ {
		w, rel, err := dst.node.Write(ctx, out[done:])
		w = max(0, min(w, len(out)-done))
		rel = max(0, min(rel, w))
		domain.DecRefMany(out[done : done+rel])
		done += w
		if err != nil {
			if p.obs != nil {
				p.obs.LogError("node_write_failed", ports.NewNodeIOError(dst.node.Name(), "write", err),
					ports.Field{Key: "path", Value: p.name}, ports.Field{Key: "attempt", Value: attempt})
			}
			if ctx.Err() != nil {
				break
			}
		}
	}
	p.count(&p.stats.written, ports.MetricWritten, done)
	if done < len(out) {
		domain.DecRefMany(out[done:])
		p.count(&p.stats.lost, ports.MetricLost, len(out)-done)
	}
	if p.obs != nil {
		p.obs.ObserveLatency(ports.LatencyWrite, p.name, time.Since(start).Seconds())
	}
}

func (p *Path) queueLen() int {
	n := 0
	for _, src := range p.sources {
		if src.queue != nil {
			n += src.queue.Len()
		}
	}
	return n
}

func (p *Path) poolFree() int {
	n := 0
	for _, src := range p.sources {
		if src.pool != nil {
			n += src.pool.Free()
		}
	}
	return n
}

func (p *Path) Stats() PathStats {
	st := PathStats{
		Name:          p.name,
		State:         p.State().String(),
		Received:      p.stats.received.Load(),
		Processed:     p.stats.processed.Load(),
		Skipped:       p.stats.skipped.Load(),
		HookErrors:    p.stats.hookErrors.Load(),
		Overflow:      p.stats.overflow.Load(),
		Written:       p.stats.written.Load(),
		Lost:          p.stats.lost.Load(),
		PoolExhausted: p.stats.exhausted.Load(),
		QueueLength:   p.queueLen(),
		PoolFree:      p.poolFree(),
	}
	if err := p.Err(); err != nil {
		st.Error = err.Error()
	}
	return st
}

// Sources returns the source nodes in configuration order.
func (p *Path) Sources() []ports.Node {
	out := make([]ports.Node, len(p.sources))
	for i, s := range p.sources {
		out[i] = s.node
	}
	return out
}

// Destinations returns the destination nodes in configuration order.
func (p *Path) Destinations() []ports.Node {
	out := make([]ports.Node, len(p.destinations))
	for i, d := range p.destinations {
		out[i] = d.node
	}
	return out
}
