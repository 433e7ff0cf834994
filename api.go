package villasnode

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	base "github.com/matthiasnowak/villasnode/pkg/villasnode"
)

// Re-exported errors for convenience.
var (
	ErrQueueFull     = base.ErrQueueFull
	ErrChannelClosed = base.ErrChannelClosed
)

const (
	ExternalType  = base.ExternalType
	SignalFloat   = base.SignalFloat
	SignalInteger = base.SignalInteger
)

// Type aliases so consumers can import github.com/matthiasnowak/villasnode directly.
type (
	Config          = base.Config
	NodeConfig      = base.NodeConfig
	PathConfig      = base.PathConfig
	HookConfig      = base.HookConfig
	Policy          = base.Policy
	Options         = base.Options
	Flow            = base.Flow
	FlowOption      = base.FlowOption
	StreamInOption  = base.StreamInOption
	StreamOutOption = base.StreamOutOption
	Runtime         = base.Runtime
	RuntimeOption   = base.RuntimeOption
	Registry        = base.Registry
	Sample          = base.Sample
	BatchFunc       = base.BatchFunc
	Node            = base.Node
	Hook            = base.Hook
	Publisher       = base.Publisher
	Observability   = base.Observability
	Field           = base.Field
	Signal          = base.Signal
	SignalList      = base.SignalList
	SignalType      = base.SignalType
	Value           = base.Value
	PathStats       = base.PathStats
	NodeStatus      = base.NodeStatus
)

func Float(f float64) Value { return base.Float(f) }
func Int(i int64) Value     { return base.Int(i) }

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

func ParseConfig(data []byte) (*Config, error) {
	return base.ParseConfig(data)
}

func BuiltinRegistry() *Registry {
	return base.BuiltinRegistry()
}

// Flow builder helpers.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	return base.Conf(path, opts...)
}

func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	return base.ConfFromConfig(cfg, opts...)
}

func WithFlowOptions(opts ...RuntimeOption) FlowOption {
	return base.WithFlowOptions(opts...)
}

func StreamInNode(n Node) StreamInOption {
	return base.StreamInNode(n)
}

func StreamInPublisher(p *Publisher) StreamInOption {
	return base.StreamInPublisher(p)
}

func StreamInObservability(obs Observability) StreamInOption {
	return base.StreamInObservability(obs)
}

func StreamOutNode(n Node) StreamOutOption {
	return base.StreamOutNode(n)
}

func StreamOutObservability(obs Observability) StreamOutOption {
	return base.StreamOutObservability(obs)
}

func StreamOutCallback(name string, fn BatchFunc) StreamOutOption {
	return base.StreamOutCallback(name, fn)
}

func StreamOutChannel(name string, buffer int, recv func(<-chan []Sample, func())) StreamOutOption {
	return base.StreamOutChannel(name, buffer, recv)
}

// Runtime and options.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	return base.NewRuntime(cfg, opts...)
}

func WithRegistry(r *Registry) RuntimeOption {
	return base.WithRegistry(r)
}

func WithObservability(obs Observability) RuntimeOption {
	return base.WithObservability(obs)
}

func WithPrometheus(reg *prometheus.Registry) RuntimeOption {
	return base.WithPrometheus(reg)
}

func WithLogger(l *slog.Logger) RuntimeOption {
	return base.WithLogger(l)
}

func WithNode(n Node) RuntimeOption {
	return base.WithNode(n)
}

func WithHTTPAddr(addr string) RuntimeOption {
	return base.WithHTTPAddr(addr)
}

// Node adapters.
func NewCallbackNode(name string, fn BatchFunc) Node {
	return base.NewCallbackNode(name, fn)
}

func NewChannelNode(name string, buffer int) (Node, <-chan []Sample, func()) {
	return base.NewChannelNode(name, buffer)
}

func NewPublisher(name string, signals SignalList, queueLen int) *Publisher {
	return base.NewPublisher(name, signals, queueLen)
}
