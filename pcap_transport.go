package artnet

import (
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
)

// PCAPTransport reads Art-Net traffic off the wire via libpcap instead
// of binding UDP port 6454 — useful for passive monitoring alongside
// a console or gateway that already owns the port. It cannot send;
// Send returns an error, matching a read-only capture device.
type PCAPTransport struct {
	handle *pcap.Handle
	recv   chan Datagram
	done   chan struct{}
}

// NewPCAPTransport opens iface for live capture, filtered to UDP port
// 6454, per spec.md §4.7.
func NewPCAPTransport(iface string) (*PCAPTransport, error) {
	handle, err := pcap.OpenLive(iface, 1600, true, pcap.BlockForever)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBindFailed, err)
	}
	if err := handle.SetBPFFilter(fmt.Sprintf("udp port %d", Port)); err != nil {
		handle.Close()
		return nil, fmt.Errorf("%w: %v", ErrBindFailed, err)
	}

	t := &PCAPTransport{
		handle: handle,
		recv:   make(chan Datagram, 64),
		done:   make(chan struct{}),
	}
	go t.receiveLoop()
	return t, nil
}

func (t *PCAPTransport) receiveLoop() {
	defer close(t.recv)
	src := gopacket.NewPacketSource(t.handle, t.handle.LinkType())
	for {
		select {
		case <-t.done:
			return
		case pkt, ok := <-src.Packets():
			if !ok {
				return
			}
			t.handlePacket(pkt)
		}
	}
}

func (t *PCAPTransport) handlePacket(pkt gopacket.Packet) {
	udpLayer := pkt.Layer(layers.LayerTypeUDP)
	if udpLayer == nil {
		return
	}
	udp, ok := udpLayer.(*layers.UDP)
	if !ok {
		return
	}

	ipLayer := pkt.Layer(layers.LayerTypeIPv4)
	if ipLayer == nil {
		return
	}
	ip, ok := ipLayer.(*layers.IPv4)
	if !ok {
		return
	}

	if len(udp.Payload) < 10 {
		return
	}

	data := make([]byte, len(udp.Payload))
	copy(data, udp.Payload)

	select {
	case t.recv <- Datagram{
		Src:  &net.UDPAddr{IP: ip.SrcIP, Port: int(udp.SrcPort)},
		Data: data,
	}:
	case <-t.done:
	}
}

func (t *PCAPTransport) Send(dst *net.UDPAddr, data []byte) error {
	return fmt.Errorf("%w: pcap transport is receive-only", ErrSendFailed)
}

func (t *PCAPTransport) Recv() <-chan Datagram { return t.recv }

func (t *PCAPTransport) LocalAddr() net.Addr { return nil }

func (t *PCAPTransport) Close() error {
	close(t.done)
	t.handle.Close()
	return nil
}
