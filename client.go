package artnet

import (
	"context"
	"fmt"
	"net"
)

// Client is the public library surface of spec.md §6: new_client,
// set_port_config, connect, list_nodes, list_universes, plus the
// Universe handles returned by set_port_config.
type Client struct {
	cfg       Config
	resolver  InterfaceResolver
	transport Transport
	nodes     *NodeRegistry
	universes *UniverseRegistry
	scheduler *Scheduler
	stats     *Stats

	localBinds   []uint8          // ascending bindIndex order
	localByBind  map[uint8][]Port // mirrors scheduler.localPorts pre-connect
	nextBind     uint8
	connected    bool
}

// NewClient constructs a Client from cfg, applying spec.md §6
// defaults for any zero-valued fields.
func NewClient(cfg Config) (*Client, error) {
	cfg = cfg.fillDurations()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		cfg:         cfg,
		resolver:    DefaultInterfaceResolver{},
		universes:   NewUniverseRegistry(cfg.Passive),
		stats:       &Stats{},
		localByBind: make(map[uint8][]Port),
	}
	c.nodes = NewNodeRegistry(c.universes, cfg.NodeTTL)
	return c, nil
}

// SetInterfaceResolver overrides the ranking policy spec.md §6 names
// as configuration integrators can replace.
func (c *Client) SetInterfaceResolver(r InterfaceResolver) {
	c.resolver = r
}

// UniverseHandle is the value set_port_config returns: the caller's
// view of one adopted Universe.
type UniverseHandle struct {
	client  *Client
	Address PortAddress
}

func (h UniverseHandle) SetDMX(data []byte) error {
	if len(data) == 0 || len(data) > 512 {
		return fmt.Errorf("%w: dmx payload must be 1..512 bytes", ErrFieldOutOfRange)
	}
	if h.client.connected {
		return h.client.scheduler.SetDMX(h.Address, data)
	}
	return h.client.universes.SetDMX(h.Address, data)
}

func (h UniverseHandle) GetDMX() ([512]byte, error) {
	return h.client.universes.GetDMX(h.Address)
}

// SetPortConfig adopts addrStr ("N:S:U") as a local input and/or
// output port, per spec.md §6. Rejects a duplicate local input port
// at the same address per spec.md §9's tie-breaking recommendation.
func (c *Client) SetPortConfig(addrStr string, isInput, isOutput bool) (UniverseHandle, error) {
	addr, err := ParsePortAddress(addrStr)
	if err != nil {
		return UniverseHandle{}, err
	}
	return c.SetPortConfigAddr(addr, isInput, isOutput)
}

// SetPortConfigAddr is SetPortConfig taking an already-parsed address.
func (c *Client) SetPortConfigAddr(addr PortAddress, isInput, isOutput bool) (UniverseHandle, error) {
	if isInput {
		for _, ports := range c.localByBind {
			for _, p := range ports {
				if p.Address == addr && p.Direction == DirInput {
					return UniverseHandle{}, fmt.Errorf("%w: duplicate local input port at %s", ErrInvalidPortAddress, addr)
				}
			}
		}
	}

	c.universes.ConfigureLocal(addr, isInput, isOutput)

	bind := c.currentBindForNewPort()
	var ports []Port
	if isInput {
		ports = append(ports, Port{Address: addr, Direction: DirInput, IsDMX: true})
	}
	if isOutput {
		ports = append(ports, Port{Address: addr, Direction: DirOutput, IsDMX: true})
	}
	c.localByBind[bind] = append(c.localByBind[bind], ports...)

	if c.connected {
		c.scheduler.SetLocalPorts(bind, c.localByBind[bind])
	}

	return UniverseHandle{client: c, Address: addr}, nil
}

// currentBindForNewPort returns the bindIndex with room for another
// port, rolling to a new bindIndex once the current one has 4 inputs
// and 4 outputs, per spec.md §3.
func (c *Client) currentBindForNewPort() uint8 {
	if len(c.localBinds) == 0 {
		c.localBinds = append(c.localBinds, c.nextBind)
		return c.nextBind
	}
	cur := c.localBinds[len(c.localBinds)-1]
	ports := c.localByBind[cur]
	var in, out int
	for _, p := range ports {
		if p.Direction == DirInput {
			in++
		} else {
			out++
		}
	}
	if in >= 4 && out >= 4 {
		c.nextBind++
		c.localBinds = append(c.localBinds, c.nextBind)
		return c.nextBind
	}
	return cur
}

// Connect resolves an interface (or uses the configured explicit
// IPs), binds the transport, and runs the scheduler loop until ctx is
// cancelled or the transport closes, per spec.md §6/§5. When
// cfg.Passive is set, it captures off the wire via NewPCAPTransport
// instead of binding UDP 6454, so it can run alongside a console or
// gateway that already owns the port (spec.md §9 / SPEC_FULL.md §4.7).
func (c *Client) Connect(ctx context.Context) error {
	localIP, broadcastIP, mac, ifaceName, err := c.resolveAddrs()
	if err != nil {
		return err
	}

	var transport Transport
	if c.cfg.Passive {
		if ifaceName == "" {
			return fmt.Errorf("%w: passive mode requires a named capture interface (set interface, or rely on interface discovery rather than explicit unicast_ip/broadcast_ip)", ErrUnknownInterface)
		}
		transport, err = NewPCAPTransport(ifaceName)
	} else {
		transport, err = NewUDPTransport()
	}
	if err != nil {
		return err
	}
	c.transport = transport

	sched := NewScheduler(transport, c.nodes, c.universes, c.cfg, c.stats)
	for bind, ports := range c.localByBind {
		sched.SetLocalPortsBeforeConnect(bind, ports)
	}
	sched.SetLocalIdentity(localIP, mac, []*net.UDPAddr{{IP: broadcastIP, Port: Port}})
	c.scheduler = sched
	c.connected = true

	return sched.Run(ctx)
}

func (c *Client) resolveAddrs() (localIP, broadcastIP net.IP, mac net.HardwareAddr, ifaceName string, err error) {
	if c.cfg.UnicastIP != "" && c.cfg.BroadcastIP != "" {
		localIP = net.ParseIP(c.cfg.UnicastIP)
		broadcastIP = net.ParseIP(c.cfg.BroadcastIP)
		if localIP == nil || broadcastIP == nil {
			return nil, nil, nil, "", fmt.Errorf("%w: invalid unicast_ip/broadcast_ip", ErrUnknownInterface)
		}
		return localIP, broadcastIP, nil, c.cfg.Interface, nil
	}

	if c.cfg.Interface != "" {
		cand, err := ResolveByName(c.cfg.Interface)
		if err != nil {
			return nil, nil, nil, "", err
		}
		return cand.LocalIP, cand.Broadcast, cand.MAC, cand.Name, nil
	}

	cands, err := c.resolver.Resolve()
	if err != nil {
		return nil, nil, nil, "", err
	}
	if len(cands) == 0 {
		return nil, nil, nil, "", fmt.Errorf("%w: no usable interface found", ErrUnknownInterface)
	}
	best := cands[0]
	return best.LocalIP, best.Broadcast, best.MAC, best.Name, nil
}

// Close tears down the transport, cancelling the scheduler loop.
func (c *Client) Close() error {
	if c.transport == nil {
		return nil
	}
	return c.transport.Close()
}

// ListNodes returns a snapshot of discovered Nodes.
func (c *Client) ListNodes() []Node {
	return c.nodes.List()
}

// ListUniverses returns a snapshot of Universes with pub/sub sets.
func (c *Client) ListUniverses() []Snapshot {
	return c.universes.List()
}

// Stats returns a snapshot of the decode/drop counters.
func (c *Client) Stats() Stats {
	return c.stats.Snapshot()
}
