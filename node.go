package artnet

import (
	"log"
	"net"
	"sync"
	"time"
)

// NodeID identifies a peer: its IP plus the bindIndex of the specific
// ArtPollReply sub-record, per spec.md §3 ("Identity: (ip, bindIndex)").
type NodeID struct {
	IP        string // net.IP.String(), comparable map key
	BindIndex uint8
}

// Node is an observed Art-Net peer.
type Node struct {
	IP        net.IP
	BindIndex uint8
	MAC       [6]byte
	ShortName string
	LongName  string
	EstaMan   uint16
	Oem       uint16
	Style     uint8
	Ports     []Port
	LastSeen  time.Time
}

// NodeRegistry maintains the set of known peers, keyed by (ip,
// bindIndex), with TTL-based expiry and reconciliation into a
// UniverseRegistry.
type NodeRegistry struct {
	mu    sync.Mutex
	nodes map[NodeID]*Node
	ttl   time.Duration
	univ  *UniverseRegistry
}

// DefaultNodeTTL is spec.md's default NODE_TTL.
const DefaultNodeTTL = 30 * time.Second

func NewNodeRegistry(univ *UniverseRegistry, ttl time.Duration) *NodeRegistry {
	if ttl <= 0 {
		ttl = DefaultNodeTTL
	}
	return &NodeRegistry{
		nodes: make(map[NodeID]*Node),
		ttl:   ttl,
		univ:  univ,
	}
}

// UpsertFromReply creates or updates the Node identified by
// (srcIP, reply.BindIndex), fully replacing its port list, then
// reconciles the universe registry for the symmetric difference
// between the old and new port sets, per spec.md §4.3.
func (r *NodeRegistry) UpsertFromReply(reply *PollReplyPacket, srcIP net.IP, now time.Time) {
	id := NodeID{IP: srcIP.String(), BindIndex: reply.BindIndex}

	r.mu.Lock()
	node, exists := r.nodes[id]
	var oldPorts []Port
	if exists {
		oldPorts = node.Ports
	} else {
		node = &Node{IP: srcIP, BindIndex: reply.BindIndex}
		r.nodes[id] = node
	}

	node.MAC = reply.MAC
	node.ShortName = reply.ShortName
	node.LongName = reply.LongName
	node.EstaMan = reply.EstaMan
	node.Oem = reply.Oem
	node.Style = reply.Style
	node.Ports = reply.Ports
	node.LastSeen = now
	newPorts := node.Ports
	r.mu.Unlock()

	if !exists {
		log.Printf("[artnet] discovered ip=%s bind=%d name=%s ports=%d", id.IP, id.BindIndex, reply.ShortName, len(newPorts))
	} else if len(newPorts) != len(oldPorts) {
		log.Printf("[artnet] updated ip=%s bind=%d name=%s ports=%d", id.IP, id.BindIndex, reply.ShortName, len(newPorts))
	}

	r.univ.reconcile(id, oldPorts, newPorts)
}

// Sweep removes Nodes whose LastSeen has exceeded the TTL, reconciling
// the universe registry for each removal.
func (r *NodeRegistry) Sweep(now time.Time) {
	r.mu.Lock()
	var expired []NodeID
	var expiredPorts [][]Port
	for id, node := range r.nodes {
		if now.Sub(node.LastSeen) > r.ttl {
			expired = append(expired, id)
			expiredPorts = append(expiredPorts, node.Ports)
			delete(r.nodes, id)
		}
	}
	r.mu.Unlock()

	for i, id := range expired {
		log.Printf("[artnet] node timeout ip=%s bind=%d", id.IP, id.BindIndex)
		r.univ.reconcile(id, expiredPorts[i], nil)
	}
}

// List returns a stable snapshot of all known Nodes.
func (r *NodeRegistry) List() []Node {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, *n)
	}
	return out
}

// Get returns the Node for an id, if known.
func (r *NodeRegistry) Get(id NodeID) (Node, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[id]
	if !ok {
		return Node{}, false
	}
	return *n, true
}
