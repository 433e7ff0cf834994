package villasnode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/matthiasnowak/villasnode/internal/adapters/observability"
	"github.com/matthiasnowak/villasnode/internal/app/api"
	"github.com/matthiasnowak/villasnode/internal/app/config"
	"github.com/matthiasnowak/villasnode/internal/app/pipeline"
	"github.com/matthiasnowak/villasnode/internal/app/registry"
	"github.com/matthiasnowak/villasnode/internal/ports"
)

// RuntimeOption customizes the dependencies used by Runtime.
type RuntimeOption func(*runtimeOverrides)

type runtimeOverrides struct {
	registry      *registry.Registry
	observability ports.Observability
	prometheus    *prometheus.Registry
	logger        *slog.Logger
	nodes         []ports.Node
	httpAddr      *string
}

// WithRegistry replaces the builtin node and hook types.
func WithRegistry(r *Registry) RuntimeOption {
	return func(o *runtimeOverrides) { o.registry = r }
}

// WithObservability plugs in a custom observability backend.
func WithObservability(obs Observability) RuntimeOption {
	return func(o *runtimeOverrides) { o.observability = obs }
}

// WithPrometheus registers metrics with reg and serves them from it instead
// of the default registry.
func WithPrometheus(reg *prometheus.Registry) RuntimeOption {
	return func(o *runtimeOverrides) { o.prometheus = reg }
}

// WithLogger sets the logger of the default observability backend.
func WithLogger(l *slog.Logger) RuntimeOption {
	return func(o *runtimeOverrides) { o.logger = l }
}

// WithNode supplies a node built in Go. Configuration entries of type
// external are resolved against these nodes by name.
func WithNode(n Node) RuntimeOption {
	return func(o *runtimeOverrides) {
		if n != nil {
			o.nodes = append(o.nodes, n)
		}
	}
}

// WithHTTPAddr overrides http.addr; an empty address disables the control
// plane.
func WithHTTPAddr(addr string) RuntimeOption {
	return func(o *runtimeOverrides) { o.httpAddr = &addr }
}

type nodeState struct {
	state string
	err   error
}

// Runtime owns the nodes and paths of one configuration and the HTTP control
// plane that exposes them.
type Runtime struct {
	cfg      *Config
	obs      ports.Observability
	gatherer prometheus.Gatherer
	graph    *config.Graph
	httpAddr string

	mu      sync.Mutex
	states  map[string]*nodeState
	srv     *http.Server
	addr    net.Addr
	started bool
	closed  bool
}

// NewRuntime builds every node and path of cfg. Nothing is started yet.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	var overrides runtimeOverrides
	for _, opt := range opts {
		if opt != nil {
			opt(&overrides)
		}
	}

	var (
		registerer prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer   prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if overrides.prometheus != nil {
		registerer, gatherer = overrides.prometheus, overrides.prometheus
	}
	obs := overrides.observability
	if obs == nil {
		obs = observability.NewPromObs(registerer, overrides.logger)
	}

	reg, err := withExternal(overrides.registry, overrides.nodes)
	if err != nil {
		return nil, err
	}
	graph, err := cfg.Build(reg, obs)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{
		cfg:      cfg,
		obs:      obs,
		gatherer: gatherer,
		graph:    graph,
		httpAddr: cfg.HTTP.Addr,
		states:   make(map[string]*nodeState, len(graph.Nodes)),
	}
	if overrides.httpAddr != nil {
		rt.httpAddr = *overrides.httpAddr
	}
	for _, n := range graph.Nodes {
		rt.states[n.Name()] = &nodeState{state: "stopped"}
	}
	return rt, nil
}

// withExternal copies base and adds the external node type resolving to
// nodes by name.
func withExternal(base *registry.Registry, supplied []ports.Node) (*registry.Registry, error) {
	if base == nil {
		base = registry.Builtin()
	}
	external := make(map[string]ports.Node, len(supplied))
	for _, n := range supplied {
		if _, dup := external[n.Name()]; dup {
			return nil, fmt.Errorf("node %s supplied twice", n.Name())
		}
		external[n.Name()] = n
	}

	reg := registry.New()
	for _, f := range base.Nodes() {
		if f.Name == ExternalType {
			continue
		}
		if err := reg.RegisterNode(f); err != nil {
			return nil, err
		}
	}
	for _, f := range base.Hooks() {
		if err := reg.RegisterHook(f); err != nil {
			return nil, err
		}
	}
	err := reg.RegisterNode(registry.NodeFactory{
		Name:        ExternalType,
		Description: "Node supplied by the embedding Go program",
		Flags:       ports.NodeRead | ports.NodeWrite,
		New: func(c registry.NodeConfig) (ports.Node, error) {
			n, ok := external[c.Name]
			if !ok {
				return nil, fmt.Errorf("no node named %q was supplied", c.Name)
			}
			return n, nil
		},
	})
	return reg, err
}

// Start starts every node, prepares and starts every path and launches the
// control plane. It returns immediately; call Run to block on a context
// instead. On failure everything already started is stopped again.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return fmt.Errorf("runtime already started")
	}
	if r.closed {
		return fmt.Errorf("runtime was shut down")
	}

	var err error
	for _, n := range r.graph.Nodes {
		if err = r.startNodeLocked(ctx, n); err != nil {
			break
		}
	}
	if err == nil {
		for _, p := range r.graph.Paths {
			if p.State() == pipeline.PathCreated {
				if err = p.Prepare(); err != nil {
					break
				}
			}
			if err = p.Start(ctx); err != nil {
				break
			}
		}
	}
	if err == nil && r.httpAddr != "" {
		err = r.startHTTPLocked()
	}
	if err != nil {
		r.closed = true
		return errors.Join(err, r.stopLocked(context.Background()))
	}
	r.started = true
	r.obs.LogInfo("runtime_started",
		ports.Field{Key: "nodes", Value: len(r.graph.Nodes)},
		ports.Field{Key: "paths", Value: len(r.graph.Paths)})
	return nil
}

// Run starts the runtime and blocks until ctx is cancelled, then shuts down
// gracefully.
func (r *Runtime) Run(ctx context.Context) error {
	if err := r.Start(ctx); err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range r.graph.Paths {
		g.Go(func() error {
			r.watchPath(gctx, p)
			return nil
		})
	}
	<-ctx.Done()
	_ = g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return r.Shutdown(shutdownCtx)
}

// watchPath logs when a path faults.
func (r *Runtime) watchPath(ctx context.Context, p *pipeline.Path) {
	select {
	case <-ctx.Done():
	case <-p.Done():
		if err := p.Err(); err != nil && !errors.Is(err, pipeline.ErrPathHalted) {
			r.obs.LogError("path_exited", err, ports.Field{Key: "path", Value: p.Name()})
		}
	}
}

// Shutdown stops the paths, the nodes and the control plane and releases
// the sample pools.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return nil
	}
	r.started, r.closed = false, true
	return r.stopLocked(ctx)
}

func (r *Runtime) stopLocked(ctx context.Context) error {
	var errs []error
	if r.srv != nil {
		if err := r.srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs = append(errs, err)
		}
		r.srv, r.addr = nil, nil
	}
	for _, p := range r.graph.Paths {
		switch p.State() {
		case pipeline.PathStarted, pipeline.PathHalted, pipeline.PathFaulted:
			if err := p.Stop(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	for _, n := range r.graph.Nodes {
		if err := r.stopNodeLocked(n); err != nil {
			errs = append(errs, err)
		}
	}
	for _, p := range r.graph.Paths {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Runtime) startNodeLocked(ctx context.Context, n ports.Node) error {
	st := r.states[n.Name()]
	if st.state == "started" {
		return nil
	}
	if err := n.Start(ctx); err != nil {
		st.state, st.err = "error", err
		return fmt.Errorf("start node %s: %w", n.Name(), err)
	}
	st.state, st.err = "started", nil
	return nil
}

func (r *Runtime) stopNodeLocked(n ports.Node) error {
	st := r.states[n.Name()]
	if st.state != "started" {
		return nil
	}
	st.state = "stopped"
	if err := n.Stop(); err != nil {
		st.err = err
		return fmt.Errorf("stop node %s: %w", n.Name(), err)
	}
	return nil
}

func (r *Runtime) startHTTPLocked() error {
	ln, err := net.Listen("tcp", r.httpAddr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	srv := &http.Server{
		Handler:           api.NewHandler(r, r.gatherer),
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.srv, r.addr = srv, ln.Addr()
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.obs.LogError("http_server_exited", err)
		}
	}()
	r.obs.LogInfo("http_listening", ports.Field{Key: "addr", Value: ln.Addr().String()})
	return nil
}

// HTTPAddr returns the address of the running control plane.
func (r *Runtime) HTTPAddr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addr
}

// Path returns the named path.
func (r *Runtime) Path(name string) (*pipeline.Path, bool) {
	for _, p := range r.graph.Paths {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

// Node returns the named node.
func (r *Runtime) Node(name string) (Node, bool) { return r.graph.Node(name) }

// Paths implements the control plane status listing.
func (r *Runtime) Paths() []PathStats {
	out := make([]PathStats, len(r.graph.Paths))
	for i, p := range r.graph.Paths {
		out[i] = p.Stats()
	}
	return out
}

func (r *Runtime) Nodes() []NodeStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]NodeStatus, len(r.graph.Nodes))
	for i, n := range r.graph.Nodes {
		st := r.states[n.Name()]
		out[i] = NodeStatus{
			Name:         n.Name(),
			Type:         n.Type(),
			State:        st.state,
			Capabilities: n.Capabilities().String(),
		}
		if st.err != nil {
			out[i].Error = st.err.Error()
		}
	}
	return out
}

// NodeAction starts, stops or restarts a node. After a start or restart,
// paths using the node that faulted meanwhile are restarted as well.
func (r *Runtime) NodeAction(ctx context.Context, name, action string) error {
	n, ok := r.graph.Node(name)
	if !ok {
		return fmt.Errorf("node %s: %w", name, api.ErrNotFound)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	// request contexts end with the response
	ctx = context.WithoutCancel(ctx)
	var err error
	switch action {
	case "start":
		err = r.startNodeLocked(ctx, n)
	case "stop":
		err = r.stopNodeLocked(n)
	case "restart":
		if err = r.stopNodeLocked(n); err == nil {
			err = r.startNodeLocked(ctx, n)
		}
	default:
		return fmt.Errorf("node action %q: %w", action, api.ErrBadAction)
	}
	r.obs.LogInfo("node_action", ports.Field{Key: "node", Value: name}, ports.Field{Key: "action", Value: action})
	if err != nil || action == "stop" || !r.started {
		return err
	}

	var errs []error
	for _, p := range r.pathsUsing(n) {
		if p.State() == pipeline.PathFaulted {
			if err := p.Restart(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// RestartPath stops and starts the named path.
func (r *Runtime) RestartPath(ctx context.Context, name string) error {
	p, ok := r.Path(name)
	if !ok {
		return fmt.Errorf("path %s: %w", name, api.ErrNotFound)
	}
	return p.Restart(context.WithoutCancel(ctx))
}

func (r *Runtime) pathsUsing(n ports.Node) []*pipeline.Path {
	var out []*pipeline.Path
	for _, p := range r.graph.Paths {
		uses := false
		for _, s := range p.Sources() {
			uses = uses || s == n
		}
		for _, d := range p.Destinations() {
			uses = uses || d == n
		}
		if uses {
			out = append(out, p)
		}
	}
	return out
}

var _ api.Controller = (*Runtime)(nil)
