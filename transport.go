package artnet

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// Transport is the send/receive boundary the rest of the core talks
// to, per spec.md §4.7. UDPTransport and PCAPTransport both satisfy
// it so Client can use either interchangeably.
type Transport interface {
	Send(dst *net.UDPAddr, data []byte) error
	Recv() <-chan Datagram
	LocalAddr() net.Addr
	Close() error
}

// Datagram is one received packet with its source address.
type Datagram struct {
	Src  *net.UDPAddr
	Data []byte
}

// UDPTransport binds 0.0.0.0:6454 with SO_REUSEADDR and SO_BROADCAST
// set explicitly, per spec.md §4.7.
type UDPTransport struct {
	conn *net.UDPConn
	recv chan Datagram
	done chan struct{}
}

// NewUDPTransport binds the Art-Net UDP port. Bind failure is fatal
// at startup per spec.md §7.
func NewUDPTransport() (*UDPTransport, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
					sockErr = err
					return
				}
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}

	pc, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf("0.0.0.0:%d", Port))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBindFailed, err)
	}

	conn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil, fmt.Errorf("%w: unexpected packet conn type", ErrBindFailed)
	}

	t := &UDPTransport{
		conn: conn,
		recv: make(chan Datagram, 64),
		done: make(chan struct{}),
	}
	go t.receiveLoop()
	return t, nil
}

func (t *UDPTransport) receiveLoop() {
	defer close(t.recv)
	buf := make([]byte, 1500)
	for {
		n, src, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-t.done:
				return
			default:
				continue
			}
		}
		data := make([]byte, n)
		copy(data, buf[:n])

		select {
		case t.recv <- Datagram{Src: src, Data: data}:
		case <-t.done:
			return
		}
	}
}

func (t *UDPTransport) Send(dst *net.UDPAddr, data []byte) error {
	_, err := t.conn.WriteToUDP(data, dst)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return nil
}

func (t *UDPTransport) Recv() <-chan Datagram { return t.recv }

func (t *UDPTransport) LocalAddr() net.Addr { return t.conn.LocalAddr() }

func (t *UDPTransport) Close() error {
	close(t.done)
	return t.conn.Close()
}
