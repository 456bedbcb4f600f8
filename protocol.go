package artnet

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Port number and OpCodes, per spec.md §4.1.
const (
	Port = 6454

	OpPoll      = 0x2000
	OpPollReply = 0x2100
	OpDmx       = 0x5000

	ProtocolVersion = 14
)

// ArtNetID is the 8-byte literal preamble of every Art-Net datagram.
var ArtNetID = [8]byte{'A', 'r', 't', '-', 'N', 'e', 't', 0x00}

// Direction of a Port.
type Direction uint8

const (
	DirInput Direction = iota
	DirOutput
)

// Port is one DMX port on a node.
type Port struct {
	Address   PortAddress
	Direction Direction
	IsDMX     bool // low nibble of PortTypes == 0x00 (protocol DMX512)
}

// PollPacket is the decoded ArtPoll payload (OpCode 0x2000).
type PollPacket struct {
	ProtocolVersion uint16
	TalkToMe        uint8
	Priority        uint8
}

// TalkToMe flag bits used by this implementation.
const (
	TalkToMeReplyOnChange = 0x02
)

// DMXPacket is the decoded ArtDmx payload (OpCode 0x5000).
type DMXPacket struct {
	ProtocolVersion uint16
	Sequence        uint8
	Physical        uint8
	Address         PortAddress
	Data            []byte
}

// PollReplyPacket is the decoded ArtPollReply payload (OpCode 0x2100).
// NumPorts is 0..4; Ports holds one entry per input flag (0x80) and
// one per output flag (0x40) set in the first NumPorts PortTypes
// slots, so 0..8 entries.
type PollReplyPacket struct {
	IPAddress   [4]byte
	FirmwareVer uint16
	NetSwitch   uint8
	SubSwitch   uint8
	Oem         uint16
	UbeaVersion uint8
	Status1     uint8
	EstaMan     uint16
	ShortName   string
	LongName    string
	NodeReport  string
	NumPorts    uint8
	Ports       []Port
	Style       uint8
	MAC         [6]byte
	BindIP      [4]byte
	BindIndex   uint8
	Status2     uint8
}

// Unknown wraps any other OpCode: decoded but not interpreted,
// per spec.md §4.1 ("classify unknown OpCodes").
type Unknown struct {
	OpCode  uint16
	Payload []byte
}

// Decode parses a raw datagram in lenient mode (the spec.md §4.1
// default): an unknown OpCode decodes to *Unknown rather than failing.
func Decode(data []byte) (uint16, interface{}, error) {
	return decode(data, false)
}

// DecodeStrict is Decode with the upper layer set to strict mode, per
// spec.md §4.1: an unknown OpCode is reported as ErrBadOpCode instead
// of being classified as *Unknown.
func DecodeStrict(data []byte) (uint16, interface{}, error) {
	return decode(data, true)
}

func decode(data []byte, strict bool) (uint16, interface{}, error) {
	if len(data) < 10 {
		return 0, nil, fmt.Errorf("%w: header", ErrTruncatedFrame)
	}
	if !bytes.Equal(data[:8], ArtNetID[:]) {
		return 0, nil, ErrBadMagic
	}

	opCode := binary.LittleEndian.Uint16(data[8:10])

	switch opCode {
	case OpPoll:
		pkt, err := decodePoll(data)
		return opCode, pkt, err
	case OpPollReply:
		pkt, err := decodePollReply(data)
		return opCode, pkt, err
	case OpDmx:
		pkt, err := decodeDMX(data)
		return opCode, pkt, err
	default:
		if strict {
			return opCode, nil, fmt.Errorf("%w: opcode %#x", ErrBadOpCode, opCode)
		}
		payload := make([]byte, len(data)-10)
		copy(payload, data[10:])
		return opCode, &Unknown{OpCode: opCode, Payload: payload}, nil
	}
}

func decodePoll(data []byte) (*PollPacket, error) {
	if len(data) < 14 {
		return nil, fmt.Errorf("%w: ArtPoll", ErrTruncatedFrame)
	}
	return &PollPacket{
		ProtocolVersion: binary.BigEndian.Uint16(data[10:12]),
		TalkToMe:        data[12],
		Priority:        data[13],
	}, nil
}

func decodeDMX(data []byte) (*DMXPacket, error) {
	if len(data) < 18 {
		return nil, fmt.Errorf("%w: ArtDmx header", ErrTruncatedFrame)
	}

	length := binary.BigEndian.Uint16(data[16:18])
	if int(length) > 512 {
		return nil, fmt.Errorf("%w: ArtDmx length %d > 512", ErrFieldOutOfRange, length)
	}
	if len(data) < 18+int(length) {
		return nil, fmt.Errorf("%w: ArtDmx data", ErrTruncatedFrame)
	}

	subUni := data[14]
	net := data[15]
	payload := make([]byte, length)
	copy(payload, data[18:18+int(length)])

	return &DMXPacket{
		ProtocolVersion: binary.BigEndian.Uint16(data[10:12]),
		Sequence:        data[12],
		Physical:        data[13],
		Address:         NewPortAddress(net, subUni>>4, subUni&0x0F),
		Data:            payload,
	}, nil
}

// pollReplyFixedLen is the fixed (no variable tail) length of an
// ArtPollReply datagram, per spec.md §4.1.
const pollReplyFixedLen = 239

func decodePollReply(data []byte) (*PollReplyPacket, error) {
	if len(data) < pollReplyFixedLen {
		return nil, fmt.Errorf("%w: ArtPollReply", ErrTruncatedFrame)
	}

	pkt := &PollReplyPacket{
		FirmwareVer: binary.BigEndian.Uint16(data[16:18]),
		NetSwitch:   data[18] & 0x7F,
		SubSwitch:   data[19] & 0x0F,
		Oem:         binary.BigEndian.Uint16(data[20:22]),
		UbeaVersion: data[22],
		Status1:     data[23],
		EstaMan:     binary.LittleEndian.Uint16(data[24:26]),
		NumPorts:    data[173],
		Style:       data[200],
		BindIndex:   data[212],
		Status2:     data[213],
	}

	copy(pkt.IPAddress[:], data[10:14])
	copy(pkt.MAC[:], data[201:207])
	copy(pkt.BindIP[:], data[207:211])

	pkt.ShortName = trimNUL(data[26:44])
	pkt.LongName = trimNUL(data[44:108])
	pkt.NodeReport = trimNUL(data[108:172])

	numPorts := int(pkt.NumPorts)
	if numPorts > 4 {
		numPorts = 4
	}

	portTypes := data[174:178]
	swIn := data[186:190]
	swOut := data[190:194]

	for i := 0; i < numPorts; i++ {
		pt := portTypes[i]
		proto := pt & 0x0F
		isDMX := proto == 0x00

		if pt&0x80 != 0 {
			pkt.Ports = append(pkt.Ports, Port{
				Address:   NewPortAddress(pkt.NetSwitch, pkt.SubSwitch, swIn[i]&0x0F),
				Direction: DirInput,
				IsDMX:     isDMX,
			})
		}
		if pt&0x40 != 0 {
			pkt.Ports = append(pkt.Ports, Port{
				Address:   NewPortAddress(pkt.NetSwitch, pkt.SubSwitch, swOut[i]&0x0F),
				Direction: DirOutput,
				IsDMX:     isDMX,
			})
		}
	}

	return pkt, nil
}

func trimNUL(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// EncodePoll builds an ArtPoll datagram.
func EncodePoll(talkToMe, priority uint8) []byte {
	buf := make([]byte, 14)
	copy(buf[0:8], ArtNetID[:])
	binary.LittleEndian.PutUint16(buf[8:10], OpPoll)
	binary.BigEndian.PutUint16(buf[10:12], ProtocolVersion)
	buf[12] = talkToMe
	buf[13] = priority
	return buf
}

// EncodeDMX builds an ArtDmx datagram. Odd-length payloads are padded
// to the next even length with a zero byte, per spec.md §4.1.
func EncodeDMX(addr PortAddress, sequence, physical uint8, data []byte) []byte {
	length := len(data)
	if length > 512 {
		length = 512
	}
	if length%2 != 0 {
		length++
	}
	if length < 2 {
		length = 2
	}

	buf := make([]byte, 18+length)
	copy(buf[0:8], ArtNetID[:])
	binary.LittleEndian.PutUint16(buf[8:10], OpDmx)
	binary.BigEndian.PutUint16(buf[10:12], ProtocolVersion)
	buf[12] = sequence
	buf[13] = physical
	buf[14] = (addr.SubNet() << 4) | addr.Universe()
	buf[15] = addr.Net()
	binary.BigEndian.PutUint16(buf[16:18], uint16(length))
	copy(buf[18:], data)

	return buf
}

// EncodePollReply builds one ArtPollReply datagram for a single
// bindIndex worth of ports (up to 4 inputs and 4 outputs), per spec.md
// §4.6 ("one reply per local bindIndex").
type PollReplyFields struct {
	IP          [4]byte
	MAC         [6]byte
	ShortName   string
	LongName    string
	EstaMan     uint16
	Oem         uint16
	Style       uint8
	BindIndex   uint8
	NetSwitch   uint8
	SubSwitch   uint8
	Ports       []Port // up to 4 inputs and 4 outputs, same bindIndex
}

func EncodePollReply(f PollReplyFields) []byte {
	buf := make([]byte, pollReplyFixedLen)

	copy(buf[0:8], ArtNetID[:])
	binary.LittleEndian.PutUint16(buf[8:10], OpPollReply)
	copy(buf[10:14], f.IP[:])
	binary.LittleEndian.PutUint16(buf[14:16], Port)
	binary.BigEndian.PutUint16(buf[16:18], ProtocolVersion)
	buf[18] = f.NetSwitch & 0x7F
	buf[19] = f.SubSwitch & 0x0F
	binary.BigEndian.PutUint16(buf[20:22], f.Oem)
	buf[22] = 0 // UbeaVersion
	buf[23] = 0 // Status1
	binary.LittleEndian.PutUint16(buf[24:26], f.EstaMan)

	copy(buf[26:44], []byte(truncPad(f.ShortName, 18)))
	copy(buf[44:108], []byte(truncPad(f.LongName, 64)))

	// Inputs fill slots 0..3 in order, and so do outputs, so one slot
	// can carry both an input and an output.
	var nIn, nOut int
	for _, p := range f.Ports {
		if p.Direction == DirInput && nIn < 4 {
			buf[174+nIn] |= 0x80
			buf[186+nIn] = p.Address.Universe()
			buf[178+nIn] = 0x80 // GoodInput: data received
			nIn++
		} else if p.Direction == DirOutput && nOut < 4 {
			buf[174+nOut] |= 0x40
			buf[190+nOut] = p.Address.Universe()
			buf[182+nOut] = 0x80 // GoodOutput: data transmitted
			nOut++
		}
	}
	numPorts := nIn
	if nOut > numPorts {
		numPorts = nOut
	}
	buf[173] = byte(numPorts)

	buf[200] = f.Style
	copy(buf[201:207], f.MAC[:])
	copy(buf[207:211], f.IP[:])
	buf[212] = f.BindIndex
	buf[213] = 0 // Status2

	return buf
}

func truncPad(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
