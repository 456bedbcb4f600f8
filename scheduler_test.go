package artnet

import (
	"net"
	"testing"
	"time"
)

type fakeTransport struct {
	sent []sentPacket
	recv chan Datagram
}

type sentPacket struct {
	dst  *net.UDPAddr
	data []byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{recv: make(chan Datagram, 16)}
}

func (f *fakeTransport) Send(dst *net.UDPAddr, data []byte) error {
	cp := append([]byte(nil), data...)
	f.sent = append(f.sent, sentPacket{dst: dst, data: cp})
	return nil
}
func (f *fakeTransport) Recv() <-chan Datagram { return f.recv }
func (f *fakeTransport) LocalAddr() net.Addr   { return &net.UDPAddr{} }
func (f *fakeTransport) Close() error          { return nil }

func newTestScheduler() (*Scheduler, *fakeTransport) {
	cfg := DefaultConfig()
	universes := NewUniverseRegistry(false)
	nodes := NewNodeRegistry(universes, time.Second)
	tr := newFakeTransport()
	s := NewScheduler(tr, nodes, universes, cfg, &Stats{})
	s.SetLocalIdentity(net.IPv4(10, 0, 0, 1), net.HardwareAddr{1, 2, 3, 4, 5, 6},
		[]*net.UDPAddr{{IP: net.IPv4(10, 0, 0, 255), Port: Port}})
	return s, tr
}

func TestSendPollBroadcasts(t *testing.T) {
	s, tr := newTestScheduler()
	s.sendPoll()
	if len(tr.sent) != 1 {
		t.Fatalf("sent = %d, want 1", len(tr.sent))
	}
	opCode, _, err := Decode(tr.sent[0].data)
	if err != nil || opCode != OpPoll {
		t.Fatalf("opcode=%#x err=%v, want OpPoll", opCode, err)
	}
}

func TestSendReplyBurstOrdersByBindIndexAscending(t *testing.T) {
	s, tr := newTestScheduler()
	s.localPorts[2] = []Port{{Address: NewPortAddress(0, 0, 1), Direction: DirInput}}
	s.localPorts[0] = []Port{{Address: NewPortAddress(0, 0, 2), Direction: DirInput}}
	s.localPorts[1] = []Port{{Address: NewPortAddress(0, 0, 3), Direction: DirInput}}

	s.sendReplyBurstTo(&net.UDPAddr{IP: net.IPv4(10, 0, 0, 50), Port: Port})

	if len(tr.sent) != 3 {
		t.Fatalf("sent = %d, want 3", len(tr.sent))
	}
	var binds []uint8
	for _, p := range tr.sent {
		_, pkt, err := Decode(p.data)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		reply := pkt.(*PollReplyPacket)
		binds = append(binds, reply.BindIndex)
	}
	if binds[0] != 0 || binds[1] != 1 || binds[2] != 2 {
		t.Fatalf("binds = %v, want ascending 0,1,2", binds)
	}
}

func TestOnPollTriggersReplyBurst(t *testing.T) {
	s, tr := newTestScheduler()
	s.localPorts[0] = []Port{{Address: NewPortAddress(0, 0, 1), Direction: DirInput}}

	src := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 77), Port: Port}
	s.handleDatagram(Datagram{Src: src, Data: EncodePoll(TalkToMeReplyOnChange, 0)})

	if len(tr.sent) != 1 {
		t.Fatalf("sent = %d, want 1 reply", len(tr.sent))
	}
	if tr.sent[0].dst.IP.String() != src.IP.String() {
		t.Fatalf("reply dst = %v, want %v (unicast to poller)", tr.sent[0].dst, src)
	}
}

func TestOnPollReplyIgnoresOwnIP(t *testing.T) {
	s, _ := newTestScheduler()
	ports := []Port{{Address: NewPortAddress(0, 0, 1), Direction: DirInput}}
	reply := testReply(0, ports)
	s.onPollReply(reply, net.IPv4(10, 0, 0, 1)) // same as SetLocalIdentity's IP

	if len(s.nodes.List()) != 0 {
		t.Fatalf("own ArtPollReply should not be registered as a peer node")
	}
}

func TestOnPollReplyRegistersOtherPeer(t *testing.T) {
	s, _ := newTestScheduler()
	ports := []Port{{Address: NewPortAddress(0, 0, 1), Direction: DirInput}}
	reply := testReply(0, ports)
	s.onPollReply(reply, net.IPv4(10, 0, 0, 99))

	if len(s.nodes.List()) != 1 {
		t.Fatalf("expected peer node to be registered")
	}
}

func TestTransmitDMXBroadcastsWithNoSubscribers(t *testing.T) {
	s, tr := newTestScheduler()
	addr := NewPortAddress(0, 0, 1)
	s.universes.ConfigureLocal(addr, true, false)

	s.transmitDMX(addr, []byte{1, 2, 3}, time.Now())

	if len(tr.sent) != 1 {
		t.Fatalf("sent = %d, want 1 broadcast", len(tr.sent))
	}
	if tr.sent[0].dst.IP.String() != "10.0.0.255" {
		t.Fatalf("dst = %v, want broadcast addr", tr.sent[0].dst)
	}
}

func TestTransmitDMXUnicastsToKnownSubscribers(t *testing.T) {
	s, tr := newTestScheduler()
	addr := NewPortAddress(0, 0, 1)
	s.universes.ConfigureLocal(addr, true, false)

	id := NodeID{IP: "10.0.0.50", BindIndex: 0}
	s.universes.reconcile(id, nil, []Port{{Address: addr, Direction: DirOutput}})

	s.transmitDMX(addr, []byte{9}, time.Now())

	if len(tr.sent) != 1 {
		t.Fatalf("sent = %d, want 1 unicast", len(tr.sent))
	}
	if tr.sent[0].dst.IP.String() != "10.0.0.50" {
		t.Fatalf("dst = %v, want unicast to subscriber", tr.sent[0].dst)
	}
}

func TestMaybeSendDMXRespectsMinInterval(t *testing.T) {
	s, tr := newTestScheduler()
	s.cfg.DMXMinInterval = time.Hour
	addr := NewPortAddress(0, 0, 1)
	s.universes.ConfigureLocal(addr, true, false)
	s.universes.SetDMX(addr, []byte{1})

	now := time.Now()
	s.maybeSendDMX(addr, now)
	if len(tr.sent) != 1 {
		t.Fatalf("first send should go out, got %d", len(tr.sent))
	}

	s.universes.SetDMX(addr, []byte{2})
	s.maybeSendDMX(addr, now.Add(time.Millisecond))
	if len(tr.sent) != 1 {
		t.Fatalf("second send within min interval should be withheld, got %d sent", len(tr.sent))
	}
}

func TestMaybeSendDMXSkipsUnchangedPayload(t *testing.T) {
	s, tr := newTestScheduler()
	addr := NewPortAddress(0, 0, 1)
	s.universes.ConfigureLocal(addr, true, false)
	s.universes.SetDMX(addr, []byte{1, 2, 3})

	now := time.Now()
	s.maybeSendDMX(addr, now)
	if len(tr.sent) != 1 {
		t.Fatalf("expected one send, got %d", len(tr.sent))
	}

	s.maybeSendDMX(addr, now.Add(2*time.Second))
	if len(tr.sent) != 1 {
		t.Fatalf("unchanged payload should not retransmit outside pacedDMXTick, got %d sent", len(tr.sent))
	}
}

func TestPacedDMXTickRetransmitsAfterKeepalive(t *testing.T) {
	s, tr := newTestScheduler()
	s.cfg.DMXKeepalive = 10 * time.Millisecond
	addr := NewPortAddress(0, 0, 1)
	s.universes.ConfigureLocal(addr, true, false)
	s.universes.SetDMX(addr, []byte{1, 2, 3})

	now := time.Now()
	s.maybeSendDMX(addr, now)
	if len(tr.sent) != 1 {
		t.Fatalf("expected initial send, got %d", len(tr.sent))
	}

	s.universes.markSent(addr, now.Add(-time.Hour)) // force keepalive window to have elapsed
	s.pacedDMXTick()
	if len(tr.sent) != 2 {
		t.Fatalf("expected keep-alive retransmit, got %d sent", len(tr.sent))
	}
	if !bytesEqual(tr.sent[1].data[18:21], []byte{1, 2, 3}) {
		t.Fatalf("keep-alive payload changed, want unchanged DMX data")
	}
}

func TestPacedDMXTickSendsChangedPayloadOnceMinIntervalElapses(t *testing.T) {
	s, tr := newTestScheduler()
	s.cfg.DMXMinInterval = 10 * time.Millisecond
	s.cfg.DMXKeepalive = time.Hour
	addr := NewPortAddress(0, 0, 1)
	s.universes.ConfigureLocal(addr, true, false)
	s.universes.SetDMX(addr, []byte{1, 2, 3})

	now := time.Now()
	s.maybeSendDMX(addr, now)
	if len(tr.sent) != 1 {
		t.Fatalf("expected initial send, got %d", len(tr.sent))
	}

	// A second change arrives inside the min-interval window: throttled.
	s.universes.SetDMX(addr, []byte{4, 5, 6})
	s.maybeSendDMX(addr, now.Add(time.Millisecond))
	if len(tr.sent) != 1 {
		t.Fatalf("throttled change should not send immediately, got %d sent", len(tr.sent))
	}

	// Once DMXMinInterval has elapsed, pacedDMXTick must flush the
	// changed payload without waiting for the (much longer) keepalive.
	s.pacedDMXTick()
	if len(tr.sent) != 1 {
		t.Fatalf("min interval not yet elapsed, expected no send, got %d", len(tr.sent))
	}

	s.universes.markSent(addr, now.Add(-time.Hour))
	s.lastSent[addr] = sentState{data: []byte{1, 2, 3}, at: now.Add(-time.Hour)}
	s.pacedDMXTick()
	if len(tr.sent) != 2 {
		t.Fatalf("expected changed payload to flush on next tick, got %d sent", len(tr.sent))
	}
	if !bytesEqual(tr.sent[1].data[18:21], []byte{4, 5, 6}) {
		t.Fatalf("flushed payload = %v, want the newer changed value", tr.sent[1].data[18:21])
	}
}

func TestReplyHeartbeatGatedOnTalkToMe(t *testing.T) {
	s, _ := newTestScheduler()
	s.localPorts[0] = []Port{{Address: NewPortAddress(0, 0, 1), Direction: DirInput}}

	if s.wantHeartbeat {
		t.Fatalf("wantHeartbeat should start false")
	}

	src := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 77), Port: Port}
	s.handleDatagram(Datagram{Src: src, Data: EncodePoll(TalkToMeReplyOnChange, 0)})
	if !s.wantHeartbeat {
		t.Fatalf("ArtPoll with TalkToMe reply-on-change bit set should arm the heartbeat")
	}
}

func TestReplyHeartbeatNotArmedWithoutTalkToMeBit(t *testing.T) {
	s, _ := newTestScheduler()
	src := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 77), Port: Port}
	s.handleDatagram(Datagram{Src: src, Data: EncodePoll(0, 0)})
	if s.wantHeartbeat {
		t.Fatalf("ArtPoll without the reply-on-change bit should not arm the heartbeat")
	}
}

func TestHandleDatagramStrictDecodeRejectsUnknownOpCode(t *testing.T) {
	s, _ := newTestScheduler()
	s.cfg.StrictDecode = true

	buf := make([]byte, 20)
	copy(buf[0:8], ArtNetID[:])
	buf[8], buf[9] = 0x00, 0x99

	s.handleDatagram(Datagram{Src: &net.UDPAddr{IP: net.IPv4(10, 0, 0, 5), Port: Port}, Data: buf})

	stats := s.stats.Snapshot()
	if stats.DroppedBadOpCode != 1 {
		t.Fatalf("DroppedBadOpCode = %d, want 1", stats.DroppedBadOpCode)
	}
}

func TestSubmitBlocksUntilLoopRunsCommand(t *testing.T) {
	s, _ := newTestScheduler()
	addr := NewPortAddress(0, 0, 1)
	s.universes.ConfigureLocal(addr, true, false)

	done := make(chan struct{})
	go func() {
		defer close(done)
		f := <-s.cmdCh
		f()
	}()

	if err := s.SetDMX(addr, []byte{5}); err != nil {
		t.Fatalf("SetDMX: %v", err)
	}
	<-done

	data, err := s.universes.GetDMX(addr)
	if err != nil {
		t.Fatalf("GetDMX: %v", err)
	}
	if data[0] != 5 {
		t.Fatalf("data[0] = %d, want 5", data[0])
	}
}
