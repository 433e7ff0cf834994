// Package opcua implements a read-only node that subscribes to OPC UA
// variables. Every data change notification produces one sample holding the
// latest value of each monitored variable.
package opcua

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/matthiasnowak/villasnode/internal/adapters/nodes"
	"github.com/matthiasnowak/villasnode/internal/domain"
	"github.com/matthiasnowak/villasnode/internal/ports"
)

const Type = "opcua"

// Config captures the runtime details required to open an OPC UA session.
type Config struct {
	Endpoint         string        `yaml:"endpoint"`
	Username         string        `yaml:"username"`
	Password         string        `yaml:"password"`
	SecurityMode     string        `yaml:"security_mode"`
	SecurityPolicy   string        `yaml:"security_policy"`
	ApplicationName  string        `yaml:"application_name"`
	PublishInterval  time.Duration `yaml:"publish_interval"`
	SamplingInterval time.Duration `yaml:"sampling_interval"`
	QueueLen         int           `yaml:"queuelen"`
	Monitor          []ItemConfig  `yaml:"monitor"`
}

// ItemConfig maps a monitored variable to a signal of the node.
type ItemConfig struct {
	NodeID string `yaml:"node_id"`
	Signal string `yaml:"signal"`
}

func (c *Config) ApplyDefaults() {
	if c.SecurityMode == "" {
		c.SecurityMode = "None"
	}
	if c.SecurityPolicy == "" {
		c.SecurityPolicy = "None"
	}
	if c.ApplicationName == "" {
		c.ApplicationName = "villas-node"
	}
	if c.PublishInterval <= 0 {
		c.PublishInterval = 250 * time.Millisecond
	}
	if c.SamplingInterval < 0 {
		c.SamplingInterval = 0
	}
	if c.QueueLen <= 0 {
		c.QueueLen = 1024
	}
}

func (c *Config) Validate(signals domain.SignalList) error {
	if c.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	if len(c.Monitor) == 0 {
		return errors.New("at least one monitored item must be configured")
	}
	if len(c.Monitor) > len(signals) {
		return fmt.Errorf("%d monitored items but only %d signals", len(c.Monitor), len(signals))
	}
	return nil
}

type Node struct {
	nodes.Info
	cfg Config
	// signal index per monitored item, the client handle is index+1
	slots []int
	log   nodes.Telemetry

	mu      sync.Mutex
	client  *opcua.Client
	sub     *opcua.Subscription
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	inbox   nodes.InboxRef

	latest []domain.Value
	seq    uint64
}

func New(name string, signals domain.SignalList, opts ports.Options, obs ports.Observability) (*Node, error) {
	var cfg Config
	if err := opts.Decode(&cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(signals); err != nil {
		return nil, fmt.Errorf("opcua node %s: %w", name, err)
	}
	slots := make([]int, len(cfg.Monitor))
	for i, item := range cfg.Monitor {
		if _, err := ua.ParseNodeID(item.NodeID); err != nil {
			return nil, fmt.Errorf("opcua node %s: parse node id %q: %w", name, item.NodeID, err)
		}
		slots[i] = i
		if item.Signal != "" {
			if slots[i] = signals.IndexOf(item.Signal); slots[i] < 0 {
				return nil, fmt.Errorf("opcua node %s: unknown signal %q", name, item.Signal)
			}
		}
	}
	return &Node{
		Info:  nodes.NewInfo(name, Type, ports.NodeRead|ports.NodePoll, signals),
		cfg:   cfg,
		slots: slots,
		log:   nodes.Telemetry{Obs: obs, Node: name},
	}, nil
}

func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.started {
		n.mu.Unlock()
		return fmt.Errorf("opcua node %s already started", n.Name())
	}
	n.mu.Unlock()

	inbox, err := n.inbox.Open(n.cfg.QueueLen, len(n.Signals()))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	client, err := opcua.NewClient(n.cfg.Endpoint, buildClientOptions(n.cfg)...)
	if err != nil {
		cancel()
		n.inbox.Close()
		return fmt.Errorf("opcua new client: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		cancel()
		n.inbox.Close()
		return fmt.Errorf("opcua connect: %w", err)
	}

	notifyCh := make(chan *opcua.PublishNotificationData, len(n.cfg.Monitor)*4)
	sub, err := client.Subscribe(ctx, &opcua.SubscriptionParameters{
		Interval: n.cfg.PublishInterval,
	}, notifyCh)
	if err != nil {
		n.cleanupOnError(ctx, cancel, nil, client)
		return fmt.Errorf("opcua subscribe: %w", err)
	}

	for i, item := range n.cfg.Monitor {
		nodeID, _ := ua.ParseNodeID(item.NodeID)
		req := opcua.NewMonitoredItemCreateRequestWithDefaults(nodeID, ua.AttributeIDValue, uint32(i+1))
		if n.cfg.SamplingInterval > 0 {
			req.RequestedParameters.SamplingInterval = float64(n.cfg.SamplingInterval / time.Millisecond)
		}
		res, err := sub.Monitor(ctx, ua.TimestampsToReturnBoth, req)
		if err != nil {
			n.cleanupOnError(ctx, cancel, sub, client)
			return fmt.Errorf("monitor node %q: %w", item.NodeID, err)
		}
		if len(res.Results) == 0 {
			n.cleanupOnError(ctx, cancel, sub, client)
			return fmt.Errorf("monitor node %q failed: empty result", item.NodeID)
		}
		if res.Results[0].StatusCode != ua.StatusOK {
			n.cleanupOnError(ctx, cancel, sub, client)
			return fmt.Errorf("monitor node %q failed: %s", item.NodeID, res.Results[0].StatusCode)
		}
	}

	n.mu.Lock()
	n.client = client
	n.sub = sub
	n.cancel = cancel
	n.started = true
	n.latest = n.initialValues()
	n.mu.Unlock()

	n.wg.Add(1)
	go n.consume(ctx, notifyCh, inbox)
	n.log.Info("opcua_subscribed", ports.Field{Key: "endpoint", Value: n.cfg.Endpoint}, ports.Field{Key: "items", Value: len(n.cfg.Monitor)})
	return nil
}

func (n *Node) Stop() error {
	n.mu.Lock()
	if !n.started {
		n.mu.Unlock()
		return nil
	}
	cancel, sub, client := n.cancel, n.sub, n.client
	n.started = false
	n.cancel, n.sub, n.client = nil, nil, nil
	n.mu.Unlock()

	cancel()

	ctx, ctxCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer ctxCancel()

	var err error
	if sub != nil {
		if e := sub.Cancel(ctx); e != nil && !errors.Is(e, context.Canceled) {
			err = errors.Join(err, e)
		}
	}
	if client != nil {
		if e := client.Close(ctx); e != nil && !errors.Is(e, context.Canceled) {
			err = errors.Join(err, e)
		}
	}

	n.wg.Wait()
	n.inbox.Close()
	return err
}

func (n *Node) Read(ctx context.Context, smps []*domain.Sample) (int, error) {
	return n.inbox.Read(ctx, smps)
}

func (n *Node) Write(context.Context, []*domain.Sample) (int, int, error) {
	return 0, 0, ports.ErrNotSupported
}

func (n *Node) PollHandles() []<-chan struct{} { return n.inbox.PollHandles() }

func (n *Node) consume(ctx context.Context, ch <-chan *opcua.PublishNotificationData, inbox *nodes.Inbox) {
	defer n.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case notif := <-ch:
			if notif == nil {
				continue
			}
			if notif.Error != nil {
				n.log.Error("opcua_notification_failed", notif.Error)
				continue
			}
			data, ok := notif.Value.(*ua.DataChangeNotification)
			if !ok {
				continue
			}
			if s := n.apply(data, time.Now()); s != nil {
				if err := n.emit(inbox, s); err != nil {
					n.log.Error("opcua_pool_exhausted", err)
				}
			}
		}
	}
}

// update is the decoded part of a notification that changes the vector.
type update struct {
	ts     time.Time
	values map[int]domain.Value
}

// apply folds a data change notification into the latest-value vector. It
// returns nil when the notification carries nothing usable.
func (n *Node) apply(data *ua.DataChangeNotification, now time.Time) *update {
	u := &update{values: make(map[int]domain.Value, len(data.MonitoredItems))}
	for _, item := range data.MonitoredItems {
		idx := int(item.ClientHandle) - 1
		if idx < 0 || idx >= len(n.slots) || item.Value == nil {
			continue
		}
		slot := n.slots[idx]
		v, ok := variantToValue(item.Value.Value, n.Signals()[slot].Type)
		if !ok {
			n.log.Info("opcua_unsupported_type",
				ports.Field{Key: "node_id", Value: n.cfg.Monitor[idx].NodeID},
				ports.Field{Key: "type", Value: fmt.Sprintf("%T", item.Value.Value.Value())})
			continue
		}
		u.values[slot] = v

		ts := item.Value.ServerTimestamp
		if ts.IsZero() {
			ts = item.Value.SourceTimestamp
		}
		if ts.After(u.ts) {
			u.ts = ts
		}
	}
	if len(u.values) == 0 {
		return nil
	}
	if u.ts.IsZero() {
		u.ts = now
	}
	return u
}

func (n *Node) emit(inbox *nodes.Inbox, u *update) error {
	batch := make([]*domain.Sample, 1)
	if err := inbox.Allocate(batch); err != nil {
		return err
	}
	s := batch[0]

	n.mu.Lock()
	for slot, v := range u.values {
		n.latest[slot] = v
	}
	n.seq++
	s.Sequence = n.seq
	for _, v := range n.latest {
		_ = s.Append(v)
	}
	n.mu.Unlock()

	s.TS.Origin = u.ts
	s.TS.Received = time.Now()
	s.Flags |= domain.HasSequence | domain.HasTSOrigin | domain.HasTSReceived | domain.HasData
	n.log.Count(ports.MetricNodeDropped, 1-inbox.Push(batch))
	return nil
}

func (n *Node) initialValues() []domain.Value {
	out := make([]domain.Value, len(n.Signals()))
	for i, sig := range n.Signals() {
		out[i] = domain.FloatValue(0).Cast(sig.Type)
	}
	return out
}

func buildClientOptions(cfg Config) []opcua.Option {
	opts := []opcua.Option{
		opcua.SecurityModeString(normalizeSecurityMode(cfg.SecurityMode)),
		opcua.SecurityPolicy(normalizeSecurityPolicy(cfg.SecurityPolicy)),
		opcua.ApplicationName(cfg.ApplicationName),
		opcua.AutoReconnect(true),
	}
	if cfg.Username != "" {
		opts = append(opts, opcua.AuthUsername(cfg.Username, cfg.Password))
	} else {
		opts = append(opts, opcua.AuthAnonymous())
	}
	return opts
}

func (n *Node) cleanupOnError(ctx context.Context, cancel context.CancelFunc, sub *opcua.Subscription, client *opcua.Client) {
	if sub != nil {
		_ = sub.Cancel(ctx)
	}
	if client != nil {
		_ = client.Close(ctx)
	}
	cancel()
	n.inbox.Close()
}

// variantToValue converts numeric and boolean variants to a value of the
// signal's type.
func variantToValue(v *ua.Variant, typ domain.SignalType) (domain.Value, bool) {
	if v == nil {
		return domain.Value{}, false
	}

	var val domain.Value
	switch x := v.Value().(type) {
	case float32:
		val = domain.FloatValue(float64(x))
	case float64:
		val = domain.FloatValue(x)
	case int8:
		val = domain.IntValue(int64(x))
	case uint8:
		val = domain.IntValue(int64(x))
	case int16:
		val = domain.IntValue(int64(x))
	case uint16:
		val = domain.IntValue(int64(x))
	case int32:
		val = domain.IntValue(int64(x))
	case uint32:
		val = domain.IntValue(int64(x))
	case int64:
		val = domain.IntValue(x)
	case uint64:
		val = domain.IntValue(int64(x))
	case bool:
		if x {
			val = domain.IntValue(1)
		} else {
			val = domain.IntValue(0)
		}
	default:
		return domain.Value{}, false
	}
	return val.Cast(typ), true
}

func normalizeSecurityMode(mode string) string {
	switch strings.ToLower(mode) {
	case "sign":
		return "Sign"
	case "signandencrypt", "signencrypt", "sign_and_encrypt", "sign+encrypt":
		return "SignAndEncrypt"
	default:
		return "None"
	}
}

func normalizeSecurityPolicy(policy string) string {
	if policy == "" {
		return "None"
	}
	return policy
}

var (
	_ ports.Node     = (*Node)(nil)
	_ ports.Pollable = (*Node)(nil)
)
