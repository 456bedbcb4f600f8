package artnet

import (
	"context"
	"log"
	"net"
	"sort"
	"time"
)

// Scheduler is the single logical executor spec.md §5 requires: it
// owns the transport, both registries, and all local identity state.
// All mutation happens on the goroutine running Run; SetDMX and
// SetPortConfig calls from other goroutines are posted through cmdCh,
// the thread-safe submission primitive spec.md §5 asks implementations
// to document.
type Scheduler struct {
	transport Transport
	nodes     *NodeRegistry
	universes *UniverseRegistry
	cfg       Config
	stats     *Stats

	localIP        [4]byte
	localMAC       [6]byte
	broadcastAddrs []*net.UDPAddr

	localPorts map[uint8][]Port // bindIndex -> ports, ascending order on send

	cmdCh  chan func()
	pokeCh chan PortAddress

	lastSent map[PortAddress]sentState

	// wantHeartbeat tracks whether any peer has asked (via ArtPoll's
	// TalkToMe bit 1) to be sent unsolicited ArtPollReply heartbeats,
	// per spec.md §4.6 Reply task (c). Only touched from Run's
	// goroutine, so it needs no lock.
	wantHeartbeat bool
}

type sentState struct {
	data []byte
	at   time.Time
}

func NewScheduler(transport Transport, nodes *NodeRegistry, universes *UniverseRegistry, cfg Config, stats *Stats) *Scheduler {
	s := &Scheduler{
		transport:  transport,
		nodes:      nodes,
		universes:  universes,
		cfg:        cfg,
		stats:      stats,
		localPorts: make(map[uint8][]Port),
		cmdCh:      make(chan func(), 16),
		pokeCh:     make(chan PortAddress, 64),
		lastSent:   make(map[PortAddress]sentState),
	}
	universes.SetOnChange(func(addr PortAddress) {
		select {
		case s.pokeCh <- addr:
		default:
		}
	})
	return s
}

// SetLocalIdentity sets the IP/MAC advertised in ArtPollReply and the
// broadcast targets for ArtPoll/ArtDmx.
func (s *Scheduler) SetLocalIdentity(ip net.IP, mac net.HardwareAddr, broadcasts []*net.UDPAddr) {
	if ip4 := ip.To4(); ip4 != nil {
		copy(s.localIP[:], ip4)
	}
	if len(mac) == 6 {
		copy(s.localMAC[:], mac)
	}
	s.broadcastAddrs = broadcasts
}

// SetLocalPorts posts a local port-configuration change onto the
// loop, replacing bindIndex's port list and triggering a reply burst
// per spec.md §4.6 ("local port config change").
func (s *Scheduler) SetLocalPorts(bindIndex uint8, ports []Port) {
	s.submit(func() {
		s.localPorts[bindIndex] = ports
		if !s.cfg.Passive {
			s.sendReplyBurst()
		}
	})
}

// SetLocalPortsBeforeConnect configures bindIndex's port list directly,
// without going through the command channel. Only safe to call before
// Run starts — there is no other goroutine racing the loop yet.
func (s *Scheduler) SetLocalPortsBeforeConnect(bindIndex uint8, ports []Port) {
	s.localPorts[bindIndex] = ports
}

// SetDMX posts a set_dmx to the loop.
func (s *Scheduler) SetDMX(addr PortAddress, data []byte) error {
	errCh := make(chan error, 1)
	s.submit(func() {
		errCh <- s.universes.SetDMX(addr, data)
	})
	return <-errCh
}

func (s *Scheduler) submit(f func()) {
	done := make(chan struct{})
	s.cmdCh <- func() {
		f()
		close(done)
	}
	<-done
}

// Run drives the single event loop until ctx is cancelled or the
// transport closes, per spec.md §5/§4.6. It returns when the
// transport is closed, resolving Client.Connect.
func (s *Scheduler) Run(ctx context.Context) error {
	pollTicker := time.NewTicker(s.cfg.PollInterval)
	defer pollTicker.Stop()
	replyTicker := time.NewTicker(s.cfg.PollInterval)
	defer replyTicker.Stop()
	sweepTicker := time.NewTicker(1 * time.Second)
	defer sweepTicker.Stop()
	dmxTicker := time.NewTicker(s.cfg.DMXMinInterval)
	defer dmxTicker.Stop()

	if !s.cfg.Passive {
		s.sendPoll()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case dg, ok := <-s.transport.Recv():
			if !ok {
				return nil
			}
			s.handleDatagram(dg)

		case f := <-s.cmdCh:
			f()

		case <-pollTicker.C:
			if !s.cfg.Passive {
				s.sendPoll()
			}

		case <-replyTicker.C:
			if !s.cfg.Passive && s.wantHeartbeat {
				s.sendReplyBurst()
			}

		case <-sweepTicker.C:
			s.nodes.Sweep(time.Now())

		case addr := <-s.pokeCh:
			if !s.cfg.Passive {
				s.maybeSendDMX(addr, time.Now())
			}

		case <-dmxTicker.C:
			if !s.cfg.Passive {
				s.pacedDMXTick()
			}
		}
	}
}

func (s *Scheduler) handleDatagram(dg Datagram) {
	decodeFn := Decode
	if s.cfg.StrictDecode {
		decodeFn = DecodeStrict
	}
	opCode, pkt, err := decodeFn(dg.Data)
	if err != nil {
		s.stats.recordDecodeError(err)
		return
	}
	s.stats.recordDecoded(opCode)

	switch p := pkt.(type) {
	case *PollPacket:
		s.onPoll(p, dg.Src)
	case *PollReplyPacket:
		s.onPollReply(p, dg.Src.IP)
	case *DMXPacket:
		s.onDMX(p)
	case *Unknown:
		// ignored by upper layers, per spec.md §4.1
	}
}

func (s *Scheduler) onPoll(pkt *PollPacket, src *net.UDPAddr) {
	if pkt.TalkToMe&TalkToMeReplyOnChange != 0 {
		s.wantHeartbeat = true
	}
	// Receiving any well-formed ArtPoll triggers a reply burst,
	// per spec.md §4.1/§4.6. A passive monitor only observes traffic
	// and never answers (its transport may not even support sending).
	if s.cfg.Passive {
		return
	}
	s.sendReplyBurstTo(src)
}

func (s *Scheduler) onPollReply(pkt *PollReplyPacket, srcIP net.IP) {
	localIP := net.IP(s.localIP[:])
	if srcIP.Equal(localIP) {
		return
	}
	s.nodes.UpsertFromReply(pkt, srcIP, time.Now())
}

func (s *Scheduler) onDMX(pkt *DMXPacket) {
	applied := s.universes.OnDMX(pkt.Address, pkt.Sequence, pkt.Data)
	if !applied {
		s.stats.recordSequenceDrop()
	}
}

func (s *Scheduler) sendPoll() {
	pkt := EncodePoll(TalkToMeReplyOnChange, 0x10)
	for _, addr := range s.broadcastAddrs {
		if err := s.transport.Send(addr, pkt); err != nil {
			log.Printf("[->artnet] poll error: dst=%s err=%v", addr, err)
		}
	}
}

// sendReplyBurst emits one ArtPollReply per local bindIndex, in
// ascending order, broadcasting it — used for the 2.5s heartbeat and
// local port-config changes, per spec.md §4.6.
func (s *Scheduler) sendReplyBurst() {
	for _, addr := range s.broadcastAddrs {
		s.sendReplyBurstTo(&net.UDPAddr{IP: addr.IP, Port: addr.Port})
	}
}

// sendReplyBurstTo emits one ArtPollReply per local bindIndex, in
// ascending order, to dst: the ArtPoll sender when answering a poll
// (spec.md §4.1), or a broadcast address when called by sendReplyBurst.
func (s *Scheduler) sendReplyBurstTo(dst *net.UDPAddr) {
	binds := make([]uint8, 0, len(s.localPorts))
	for b := range s.localPorts {
		binds = append(binds, b)
	}
	sort.Slice(binds, func(i, j int) bool { return binds[i] < binds[j] })

	for _, bind := range binds {
		ports := s.localPorts[bind]
		var netSwitch, subSwitch uint8
		if len(ports) > 0 {
			netSwitch = ports[0].Address.Net()
			subSwitch = ports[0].Address.SubNet()
		}
		pkt := EncodePollReply(PollReplyFields{
			IP:        s.localIP,
			MAC:       s.localMAC,
			ShortName: s.cfg.ShortName,
			LongName:  s.cfg.LongName,
			EstaMan:   s.cfg.EstaMan,
			Oem:       s.cfg.OemCode,
			Style:     s.cfg.Style,
			BindIndex: bind,
			NetSwitch: netSwitch,
			SubSwitch: subSwitch,
			Ports:     ports,
		})
		if err := s.transport.Send(dst, pkt); err != nil {
			log.Printf("[->artnet] pollreply error: dst=%s err=%v", dst, err)
		}
	}
}

// maybeSendDMX implements the "send on change" half of spec.md §4.6's
// pacing rule for a local input universe: transmit immediately, but
// never faster than DMXMinInterval. Pokes for other universes (such as
// an accepted inbound ArtDmx on a subscribed universe) send nothing.
func (s *Scheduler) maybeSendDMX(addr PortAddress, now time.Time) {
	isInput := false
	for _, a := range s.universes.localInputAddresses() {
		if a == addr {
			isInput = true
			break
		}
	}
	if !isInput {
		return
	}
	data, lastTX, ok := s.universes.snapshotForTX(addr)
	if !ok {
		return
	}
	if !lastTX.IsZero() && now.Sub(lastTX) < s.cfg.DMXMinInterval {
		return
	}

	prev, seen := s.lastSent[addr]
	if seen && bytesEqual(prev.data, data) {
		return
	}
	s.transmitDMX(addr, data, now)
}

// pacedDMXTick closes the gap maybeSendDMX's min-interval throttle
// leaves open: a change that arrived too soon after the last send
// still needs to go out as soon as DMXMinInterval allows, not wait for
// the next DMXKeepalive sweep. It also carries the keep-alive half of
// spec.md §4.6: if a universe hasn't changed, retransmit every
// DMXKeepalive so downstream consoles see liveness.
func (s *Scheduler) pacedDMXTick() {
	now := time.Now()
	for _, addr := range s.universes.localInputAddresses() {
		data, lastTX, ok := s.universes.snapshotForTX(addr)
		if !ok {
			continue
		}
		if lastTX.IsZero() {
			s.transmitDMX(addr, data, now)
			continue
		}

		prev, seen := s.lastSent[addr]
		changed := !seen || !bytesEqual(prev.data, data)
		elapsed := now.Sub(lastTX)

		switch {
		case changed && elapsed >= s.cfg.DMXMinInterval:
			s.transmitDMX(addr, data, now)
		case !changed && elapsed >= s.cfg.DMXKeepalive:
			s.transmitDMX(addr, data, now)
		}
	}
}

// transmitDMX increments the sequence and sends the payload either
// broadcast (no known subscribers) or unicast to each deduplicated
// subscriber IP, per spec.md §4.6.
func (s *Scheduler) transmitDMX(addr PortAddress, data []byte, now time.Time) {
	seq := s.universes.nextSequence(addr)
	pkt := EncodeDMX(addr, seq, 0, data)

	ips := s.universes.SubscriberIPs(addr)
	if len(ips) == 0 {
		for _, bcast := range s.broadcastAddrs {
			if err := s.transport.Send(bcast, pkt); err != nil {
				log.Printf("[->artnet] dmx error: dst=%s addr=%s err=%v", bcast, addr, err)
			}
		}
	} else {
		for _, ip := range ips {
			dst := &net.UDPAddr{IP: net.ParseIP(ip), Port: Port}
			if err := s.transport.Send(dst, pkt); err != nil {
				log.Printf("[->artnet] dmx error: dst=%s addr=%s err=%v", dst, addr, err)
			}
		}
	}

	s.universes.markSent(addr, now)
	stored := append([]byte(nil), data...)
	s.lastSent[addr] = sentState{data: stored, at: now}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
