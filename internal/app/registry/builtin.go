package registry

import (
	"github.com/matthiasnowak/villasnode/internal/adapters/nodes/file"
	"github.com/matthiasnowak/villasnode/internal/adapters/nodes/journal"
	"github.com/matthiasnowak/villasnode/internal/adapters/nodes/loopback"
	"github.com/matthiasnowak/villasnode/internal/adapters/nodes/nats"
	"github.com/matthiasnowak/villasnode/internal/adapters/nodes/opcua"
	"github.com/matthiasnowak/villasnode/internal/adapters/nodes/socket"
	"github.com/matthiasnowak/villasnode/internal/adapters/nodes/timescale"
	"github.com/matthiasnowak/villasnode/internal/adapters/nodes/websocket"
	"github.com/matthiasnowak/villasnode/internal/hooks"
	"github.com/matthiasnowak/villasnode/internal/ports"
)

const rw = ports.NodeRead | ports.NodeWrite

var builtinNodes = []NodeFactory{
	{
		Name: loopback.Type, Description: "In-process queue; written samples are read back", Flags: rw | ports.NodePoll,
		New: func(c NodeConfig) (ports.Node, error) { return loopback.New(c.Name, c.Signals, c.Options) },
	},
	{
		Name: file.Type, Description: "Reads and writes villas.human files, optionally gzip compressed", Flags: rw,
		New: func(c NodeConfig) (ports.Node, error) { return file.New(c.Name, c.Signals, c.Options) },
	},
	{
		Name: socket.Type, Description: "UDP datagrams in villas.binary, json or cbor", Flags: rw | ports.NodePoll,
		New: func(c NodeConfig) (ports.Node, error) { return socket.New(c.Name, c.Signals, c.Options, c.Obs) },
	},
	{
		Name: websocket.Type, Description: "WebSocket server or client exchanging sample batches", Flags: rw | ports.NodePoll,
		New: func(c NodeConfig) (ports.Node, error) { return websocket.New(c.Name, c.Signals, c.Options, c.Obs) },
	},
	{
		Name: opcua.Type, Description: "Subscribes to OPC UA variables", Flags: ports.NodeRead | ports.NodePoll,
		New: func(c NodeConfig) (ports.Node, error) { return opcua.New(c.Name, c.Signals, c.Options, c.Obs) },
	},
	{
		Name: nats.Type, Description: "Publishes and subscribes sample batches on NATS subjects", Flags: rw | ports.NodePoll,
		New: func(c NodeConfig) (ports.Node, error) { return nats.New(c.Name, c.Signals, c.Options, c.Obs) },
	},
	{
		Name: timescale.Type, Description: "Inserts samples into a TimescaleDB/PostgreSQL table", Flags: ports.NodeWrite,
		New: func(c NodeConfig) (ports.Node, error) { return timescale.New(c.Name, c.Signals, c.Options) },
	},
	{
		Name: journal.Type, Description: "Durable store-and-forward log on local disk", Flags: rw | ports.NodePoll,
		New: func(c NodeConfig) (ports.Node, error) { return journal.New(c.Name, c.Signals, c.Options, c.Obs) },
	},
}

var builtinHooks = []struct {
	desc string
	new  func() ports.Hook
}{
	{"Overwrite the origin timestamp with the receive timestamp", hooks.NewTs},
	{"Shift the origin or received timestamp by an offset", hooks.NewShiftTs},
	{"Forward every n-th sample", hooks.NewDecimate},
	{"Drop reordered and duplicated samples", hooks.NewDrop},
	{"Scale and offset one signal", hooks.NewScale},
	{"Print samples in villas.human format", hooks.NewPrint},
	{"Halt the path after a number of samples", hooks.NewLimit},
	{"Append amplitude, phase and dominant frequency of a signal", hooks.NewDft},
}

// Builtin returns a registry holding every node and hook type of this
// module.
func Builtin() *Registry {
	r := New()
	for _, f := range builtinNodes {
		if err := r.RegisterNode(f); err != nil {
			panic(err)
		}
	}
	for _, b := range builtinHooks {
		proto := b.new()
		if err := r.RegisterHook(HookFactory{Name: proto.Name(), Description: b.desc, Flags: proto.Flags(), New: b.new}); err != nil {
			panic(err)
		}
	}
	return r
}
