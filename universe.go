package artnet

import (
	"sync"
	"time"
)

// LocalRole describes how this process participates in a Universe.
type LocalRole uint8

const (
	RoleNone LocalRole = iota
	RolePublisher
	RoleSubscriber
	RoleBoth
)

func (r LocalRole) isPublisher() bool { return r == RolePublisher || r == RoleBoth }
func (r LocalRole) isSubscriber() bool { return r == RoleSubscriber || r == RoleBoth }

func addRole(r LocalRole, isPub, isSub bool) LocalRole {
	pub := r.isPublisher() || isPub
	sub := r.isSubscriber() || isSub
	switch {
	case pub && sub:
		return RoleBoth
	case pub:
		return RolePublisher
	case sub:
		return RoleSubscriber
	default:
		return RoleNone
	}
}

// Universe holds the publisher/subscriber sets and live DMX payload
// for one PortAddress, per spec.md §3.
type Universe struct {
	Address      PortAddress
	Publishers   map[NodeID]struct{}
	Subscribers  map[NodeID]struct{}
	LastDMX      []byte // 0..512 bytes, logically zero-padded to 512
	TXSequence   uint8
	RXSequence   uint8
	LastTXTime   time.Time
	LocalRole    LocalRole
}

func newUniverse(addr PortAddress) *Universe {
	return &Universe{
		Address:     addr,
		Publishers:  make(map[NodeID]struct{}),
		Subscribers: make(map[NodeID]struct{}),
	}
}

func (u *Universe) empty() bool {
	return len(u.Publishers) == 0 && len(u.Subscribers) == 0 && u.LocalRole == RoleNone
}

// UniverseChangeFunc is invoked whenever a Universe's DMX payload is
// set and should be considered for transmission; the scheduler uses
// this as the "poke" spec.md §4.4 describes for set_dmx. The core
// never calls this while holding its internal lock, per spec.md §9's
// "never invoke user code while holding internal iteration state".
type UniverseChangeFunc func(addr PortAddress)

// UniverseRegistry maps PortAddress to Universe and keeps the GC
// invariant of spec.md §3 on reconciliation: a Universe left with empty
// publishers, empty subscribers, and no local role is dropped. A
// Universe that OnDMX creates in passive mode has none of these and is
// kept.
type UniverseRegistry struct {
	mu       sync.Mutex
	universes map[PortAddress]*Universe
	passive  bool
	onChange UniverseChangeFunc
}

func NewUniverseRegistry(passive bool) *UniverseRegistry {
	return &UniverseRegistry{
		universes: make(map[PortAddress]*Universe),
		passive:   passive,
	}
}

// SetOnChange installs the callback invoked after set_dmx / on_dmx
// accept a new payload.
func (ur *UniverseRegistry) SetOnChange(f UniverseChangeFunc) {
	ur.mu.Lock()
	ur.onChange = f
	ur.mu.Unlock()
}

// ConfigureLocal adopts addr into the local node's ports, creating the
// Universe if absent and setting LocalRole accordingly. Idempotent.
func (ur *UniverseRegistry) ConfigureLocal(addr PortAddress, isInput, isOutput bool) *Universe {
	ur.mu.Lock()
	defer ur.mu.Unlock()

	u := ur.getOrCreateLocked(addr)
	// A local input port means we publish DMX into the universe; a
	// local output port means we subscribe to it.
	u.LocalRole = addRole(u.LocalRole, isInput, isOutput)
	return u
}

func (ur *UniverseRegistry) getOrCreateLocked(addr PortAddress) *Universe {
	u, ok := ur.universes[addr]
	if !ok {
		u = newUniverse(addr)
		ur.universes[addr] = u
	}
	return u
}

// gcLocked drops addr if its Universe is now empty, per spec.md §3.
func (ur *UniverseRegistry) gcLocked(addr PortAddress) {
	if u, ok := ur.universes[addr]; ok && u.empty() {
		delete(ur.universes, addr)
	}
}

// reconcile computes the symmetric difference between a Node's old
// and new port lists and updates publisher/subscriber membership
// accordingly, per spec.md §4.3.
func (ur *UniverseRegistry) reconcile(id NodeID, oldPorts, newPorts []Port) {
	type key struct {
		addr PortAddress
		dir  Direction
	}
	old := make(map[key]bool, len(oldPorts))
	for _, p := range oldPorts {
		old[key{p.Address, p.Direction}] = true
	}
	cur := make(map[key]bool, len(newPorts))
	for _, p := range newPorts {
		cur[key{p.Address, p.Direction}] = true
	}

	ur.mu.Lock()
	defer ur.mu.Unlock()

	for k := range cur {
		if old[k] {
			continue
		}
		u := ur.getOrCreateLocked(k.addr)
		ur.addMembership(u, id, k.dir)
	}
	for k := range old {
		if cur[k] {
			continue
		}
		u, ok := ur.universes[k.addr]
		if !ok {
			continue
		}
		ur.removeMembership(u, id, k.dir)
		ur.gcLocked(k.addr)
	}
}

func (ur *UniverseRegistry) addMembership(u *Universe, id NodeID, dir Direction) {
	if dir == DirInput {
		u.Publishers[id] = struct{}{}
	} else {
		u.Subscribers[id] = struct{}{}
	}
}

func (ur *UniverseRegistry) removeMembership(u *Universe, id NodeID, dir Direction) {
	if dir == DirInput {
		delete(u.Publishers, id)
	} else {
		delete(u.Subscribers, id)
	}
}

// OnDMX applies an incoming ArtDmx to addr's Universe, subject to
// sequence acceptance (spec.md §4.5) and local-subscription gating
// (spec.md §4.4): applied when we actually subscribe, or always when
// passive monitoring is enabled (in which case the Universe is
// created lazily with no local role).
func (ur *UniverseRegistry) OnDMX(addr PortAddress, sequence uint8, data []byte) (applied bool) {
	ur.mu.Lock()

	u, ok := ur.universes[addr]
	if !ok {
		if !ur.passive {
			ur.mu.Unlock()
			return false
		}
		u = ur.getOrCreateLocked(addr)
	}

	if !u.LocalRole.isSubscriber() && !ur.passive {
		ur.mu.Unlock()
		return false
	}

	accept, nextRX := acceptSequence(u.RXSequence, sequence)
	if !accept {
		ur.mu.Unlock()
		return false
	}
	u.RXSequence = nextRX
	u.LastDMX = append(u.LastDMX[:0], data...)
	ur.mu.Unlock()

	ur.notify(addr)
	return true
}

// SetDMX updates last_dmx for a locally-adopted universe and pokes
// the scheduler, per spec.md §4.4.
func (ur *UniverseRegistry) SetDMX(addr PortAddress, data []byte) error {
	ur.mu.Lock()
	u, ok := ur.universes[addr]
	if !ok || u.LocalRole == RoleNone {
		ur.mu.Unlock()
		return ErrUniverseNotConfigured
	}
	u.LastDMX = append(u.LastDMX[:0], data...)
	ur.mu.Unlock()

	ur.notify(addr)
	return nil
}

// GetDMX returns the last DMX payload seen/published for addr,
// logically zero-padded to 512 bytes.
func (ur *UniverseRegistry) GetDMX(addr PortAddress) ([512]byte, error) {
	var out [512]byte

	ur.mu.Lock()
	u, ok := ur.universes[addr]
	ur.mu.Unlock()

	if !ok || u.LocalRole == RoleNone {
		return out, ErrUniverseNotConfigured
	}
	copy(out[:], u.LastDMX)
	return out, nil
}

func (ur *UniverseRegistry) notify(addr PortAddress) {
	ur.mu.Lock()
	cb := ur.onChange
	ur.mu.Unlock()
	if cb != nil {
		cb(addr)
	}
}

// Snapshot is a point-in-time, read-only view of one Universe for
// ListUniverses.
type Snapshot struct {
	Address     PortAddress
	Publishers  []NodeID
	Subscribers []NodeID
	LocalRole   LocalRole
	LastDMXLen  int
}

// List returns a stable snapshot of all known Universes.
func (ur *UniverseRegistry) List() []Snapshot {
	ur.mu.Lock()
	defer ur.mu.Unlock()

	out := make([]Snapshot, 0, len(ur.universes))
	for addr, u := range ur.universes {
		s := Snapshot{
			Address:    addr,
			LocalRole:  u.LocalRole,
			LastDMXLen: len(u.LastDMX),
		}
		for id := range u.Publishers {
			s.Publishers = append(s.Publishers, id)
		}
		for id := range u.Subscribers {
			s.Subscribers = append(s.Subscribers, id)
		}
		out = append(out, s)
	}
	return out
}

// SubscriberIPs returns the deduplicated IPs of a universe's known
// subscribers, for the scheduler's unicast-vs-broadcast decision
// (spec.md §4.6).
func (ur *UniverseRegistry) SubscriberIPs(addr PortAddress) []string {
	ur.mu.Lock()
	u, ok := ur.universes[addr]
	var ids []NodeID
	if ok {
		for id := range u.Subscribers {
			ids = append(ids, id)
		}
	}
	ur.mu.Unlock()

	seen := make(map[string]bool)
	var ips []string
	for _, id := range ids {
		if seen[id.IP] {
			continue
		}
		seen[id.IP] = true
		ips = append(ips, id.IP)
	}
	return ips
}

// nextSequence increments tx_sequence mod 255, skipping 0, per
// spec.md §3's tx_sequence invariant.
func (ur *UniverseRegistry) nextSequence(addr PortAddress) uint8 {
	ur.mu.Lock()
	defer ur.mu.Unlock()
	u, ok := ur.universes[addr]
	if !ok {
		return 1
	}
	u.TXSequence++
	if u.TXSequence == 0 {
		u.TXSequence = 1
	}
	return u.TXSequence
}

func (ur *UniverseRegistry) markSent(addr PortAddress, now time.Time) {
	ur.mu.Lock()
	if u, ok := ur.universes[addr]; ok {
		u.LastTXTime = now
	}
	ur.mu.Unlock()
}

// localInputAddresses returns the PortAddresses configured as local
// input (i.e. publisher) universes, the set the scheduler paces
// ArtDmx transmission over.
func (ur *UniverseRegistry) localInputAddresses() []PortAddress {
	ur.mu.Lock()
	defer ur.mu.Unlock()

	var out []PortAddress
	for addr, u := range ur.universes {
		if u.LocalRole.isPublisher() {
			out = append(out, addr)
		}
	}
	return out
}

func (ur *UniverseRegistry) snapshotForTX(addr PortAddress) (data []byte, lastTX time.Time, ok bool) {
	ur.mu.Lock()
	defer ur.mu.Unlock()
	u, exists := ur.universes[addr]
	if !exists {
		return nil, time.Time{}, false
	}
	return append([]byte(nil), u.LastDMX...), u.LastTXTime, true
}
