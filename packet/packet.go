// Package packet implements the wire encoding of SRT data and control
// datagrams: a bit-exact, big-endian codec per the protocol's external
// interface, independent of any socket I/O.
package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	flagBit32 = 1 << 31 // leading bit of word 0: 1 = control packet
	flagBit16 = 1 << 15 // leading bit of the control type field
)

var endianness = binary.BigEndian

// ControlType identifies the kind of control packet.
type ControlType uint16

const (
	CtrlHandshake    ControlType = 0x0
	CtrlKeepalive    ControlType = 0x1
	CtrlAck          ControlType = 0x2
	CtrlNak          ControlType = 0x3
	CtrlCongestion   ControlType = 0x4
	CtrlShutdown     ControlType = 0x5
	CtrlAckAck       ControlType = 0x6
	CtrlDropReq      ControlType = 0x7
	CtrlPeerError    ControlType = 0x8
	CtrlUserDefined  ControlType = 0x7FFF
)

// ControlTypeName returns a human-readable name for logging.
func ControlTypeName(t ControlType) string {
	switch t {
	case CtrlHandshake:
		return "handshake"
	case CtrlKeepalive:
		return "keepalive"
	case CtrlAck:
		return "ack"
	case CtrlNak:
		return "nak"
	case CtrlCongestion:
		return "congestion-warning"
	case CtrlShutdown:
		return "shutdown"
	case CtrlAckAck:
		return "ackack"
	case CtrlDropReq:
		return "dropreq"
	case CtrlPeerError:
		return "peererror"
	case CtrlUserDefined:
		return "user-defined"
	default:
		return fmt.Sprintf("control-%#x", uint16(t))
	}
}

// Packet is any encodable/decodable SRT datagram, data or control.
type Packet interface {
	// DestSockID returns the destination socket id carried in the header.
	DestSockID() uint32
	// Timestamp returns the 32-bit microsecond timestamp carried in the header.
	Timestamp() uint32
	// SetHeader stamps the destination socket id and timestamp before sending.
	SetHeader(destSockID uint32, ts uint32)
	// WriteTo encodes the packet into buf, returning the number of bytes written.
	WriteTo(buf []byte) (int, error)
	// IsControl reports whether this is a control packet.
	IsControl() bool
}

type header struct {
	ts        uint32
	destSockID uint32
}

func (h *header) DestSockID() uint32 { return h.destSockID }
func (h *header) Timestamp() uint32  { return h.ts }

func (h *header) SetHeader(destSockID uint32, ts uint32) {
	h.destSockID = destSockID
	h.ts = ts
}

func (h *header) writeCtrlHdr(buf []byte, t ControlType, subtype uint16, info uint32) (int, error) {
	if len(buf) < 16 {
		return 0, errors.New("packet: control header does not fit")
	}
	endianness.PutUint16(buf[0:2], uint16(t)|flagBit16)
	endianness.PutUint16(buf[2:4], subtype)
	endianness.PutUint32(buf[4:8], info)
	endianness.PutUint32(buf[8:12], h.ts)
	endianness.PutUint32(buf[12:16], h.destSockID)
	return 16, nil
}

func (h *header) readCtrlHdr(data []byte) (subtype uint16, info uint32, err error) {
	if len(data) < 16 {
		return 0, 0, errors.New("packet: control header too short")
	}
	subtype = endianness.Uint16(data[2:4])
	info = endianness.Uint32(data[4:8])
	h.ts = endianness.Uint32(data[8:12])
	h.destSockID = endianness.Uint32(data[12:16])
	return
}

// Decode takes the contents of a received UDP datagram and decodes it into
// a data or control packet.
func Decode(data []byte) (Packet, error) {
	if len(data) < 4 {
		return nil, errors.New("packet: datagram too short")
	}
	w0 := endianness.Uint32(data[0:4])
	if w0&flagBit32 != 0 {
		ctrlType := ControlType((w0 &^ flagBit32) >> 16)
		var p Packet
		switch ctrlType {
		case CtrlHandshake:
			p = &HandshakePacket{}
		case CtrlKeepalive:
			p = &KeepAlivePacket{}
		case CtrlAck:
			if isLightAck(data) {
				p = &LightAckPacket{}
			} else {
				p = &AckPacket{}
			}
		case CtrlNak:
			p = &NakPacket{}
		case CtrlCongestion:
			p = &CongestionWarningPacket{}
		case CtrlShutdown:
			p = &ShutdownPacket{}
		case CtrlAckAck:
			p = &AckAckPacket{}
		case CtrlDropReq:
			p = &DropReqPacket{}
		case CtrlPeerError:
			p = &PeerErrorPacket{}
		case CtrlUserDefined:
			p = &UserDefinedPacket{Subtype: endianness.Uint16(data[2:4])}
		default:
			return nil, fmt.Errorf("packet: unknown control type %#x", uint16(ctrlType))
		}
		if err := p.(decoder).readFrom(data); err != nil {
			return nil, err
		}
		return p, nil
	}

	dp := &DataPacket{Seq: SeqNo(w0 & seqNoMask)}
	if err := dp.readFrom(data); err != nil {
		return nil, err
	}
	return dp, nil
}

// isLightAck distinguishes a light ACK (a 16-byte datagram: header only,
// carrying just the next-expected sequence) from a full ACK by datagram length. A light ACK carries only
// the 4-byte type-specific field already read as `info`; there is no body.
func isLightAck(data []byte) bool {
	return len(data) == 16
}

type decoder interface {
	readFrom(data []byte) error
}
