package packet

import (
	"encoding/binary"
	"errors"
)

// Magic is the fixed value a caller's induction request carries in its
// extension field to identify the protocol (spec §4.1).
const Magic uint32 = 0x4A17

// HSReqType is the handshake request/response discriminator.
type HSReqType int32

const (
	// HsInduction requests the anti-spoof cookie from a listener.
	HsInduction HSReqType = 1
	// HsConclusion carries negotiated parameters and extension TLVs.
	HsConclusion HSReqType = 0
	// HsWaveahand is the first rendezvous message from either peer.
	HsWaveahand HSReqType = -1
	// HsAgreement is the rendezvous tie-break confirmation.
	HsAgreement HSReqType = -2
)

const rejectBase int32 = -1000

// RejectReason enumerates handshake refusal causes (spec §4.1).
type RejectReason int32

const (
	RejUnknown     RejectReason = 0
	RejTimeout     RejectReason = 1
	RejSystem      RejectReason = 2
	RejPeer        RejectReason = 3
	RejResource    RejectReason = 4
	RejRogue       RejectReason = 5
	RejBacklog     RejectReason = 6
	RejIPE         RejectReason = 7
	RejClose       RejectReason = 8
	RejVersion     RejectReason = 9
	RejRdvCookie   RejectReason = 10
	RejBadSecret   RejectReason = 11
	RejUnsecure    RejectReason = 12
	RejMessageAPI  RejectReason = 13
	RejCongestion  RejectReason = 14
	RejFilter      RejectReason = 15
	RejGroup       RejectReason = 16
	RejTimestamp   RejectReason = 17
)

var rejectNames = map[RejectReason]string{
	RejUnknown:    "UNKNOWN",
	RejTimeout:    "TIMEOUT",
	RejSystem:     "SYSTEM",
	RejPeer:       "PEER",
	RejResource:   "RESOURCE",
	RejRogue:      "ROGUE",
	RejBacklog:    "BACKLOG",
	RejIPE:        "IPE",
	RejClose:      "CLOSE",
	RejVersion:    "VERSION",
	RejRdvCookie:  "RDVCOOKIE",
	RejBadSecret:  "BADSECRET",
	RejUnsecure:   "UNSECURE",
	RejMessageAPI: "MESSAGEAPI",
	RejCongestion: "CONGESTION",
	RejFilter:     "FILTER",
	RejGroup:      "GROUP",
	RejTimestamp:  "TIMESTAMP",
}

func (r RejectReason) String() string {
	if s, ok := rejectNames[r]; ok {
		return s
	}
	return "UNKNOWN"
}

// EncodeReject packs a rejection reason into the ReqType field.
func EncodeReject(r RejectReason) HSReqType {
	return HSReqType(rejectBase - int32(r))
}

// DecodeReject reports whether reqType encodes a rejection, and if so which.
func DecodeReject(reqType HSReqType) (RejectReason, bool) {
	v := int32(reqType)
	if v > int32(rejectBase) {
		return 0, false
	}
	return RejectReason(rejectBase - v), true
}

// Extension block types carried after a v5 conclusion handshake body.
type ExtType uint16

const (
	ExtHSReq       ExtType = 1
	ExtHSResp      ExtType = 2
	ExtKMReq       ExtType = 3
	ExtKMResp      ExtType = 4
	ExtStreamID    ExtType = 5
	ExtCongestion  ExtType = 6
	ExtFilter      ExtType = 7
	ExtGroup       ExtType = 8
)

// Extension is one (type, body) TLV block from a handshake conclusion.
type Extension struct {
	Type ExtType
	Body []byte
}

// HandshakePacket negotiates a new connection (induction, conclusion, or
// rendezvous). Body layout per spec §6; v5 appends a TLV extension list.
type HandshakePacket struct {
	header
	Version        uint32
	EncryptionField uint16
	ExtensionField  uint16
	InitSeq        SeqNo
	MSS            uint32
	FlowWindowSize uint32
	ReqType        HSReqType
	SockID         uint32
	Cookie         uint32
	PeerIP         [16]byte
	Extensions     []Extension
}

func (p *HandshakePacket) IsControl() bool { return true }

const hsBodyLen = 48 // version..peerIP, 12 x 4 bytes

func (p *HandshakePacket) WriteTo(buf []byte) (int, error) {
	n, err := p.writeCtrlHdr(buf, CtrlHandshake, 0, 0)
	if err != nil {
		return 0, err
	}
	if len(buf) < n+hsBodyLen {
		return 0, errors.New("packet: handshake body does not fit")
	}
	endianness.PutUint32(buf[n:n+4], p.Version)
	endianness.PutUint16(buf[n+4:n+6], p.EncryptionField)
	endianness.PutUint16(buf[n+6:n+8], p.ExtensionField)
	endianness.PutUint32(buf[n+8:n+12], uint32(p.InitSeq))
	endianness.PutUint32(buf[n+12:n+16], p.MSS)
	endianness.PutUint32(buf[n+16:n+20], p.FlowWindowSize)
	endianness.PutUint32(buf[n+20:n+24], uint32(p.ReqType))
	endianness.PutUint32(buf[n+24:n+28], p.SockID)
	endianness.PutUint32(buf[n+28:n+32], p.Cookie)
	copy(buf[n+32:n+48], p.PeerIP[:])
	n += hsBodyLen

	if p.Version >= 5 {
		for _, ext := range p.Extensions {
			words := (len(ext.Body) + 3) / 4
			need := 4 + words*4
			if len(buf) < n+need {
				return 0, errors.New("packet: handshake extension does not fit")
			}
			endianness.PutUint16(buf[n:n+2], uint16(ext.Type))
			endianness.PutUint16(buf[n+2:n+4], uint16(words))
			n += 4
			copy(buf[n:], ext.Body)
			for i := len(ext.Body); i < words*4; i++ {
				buf[n+i] = 0
			}
			n += words * 4
		}
	}
	return n, nil
}

func (p *HandshakePacket) readFrom(data []byte) error {
	if _, _, err := p.readCtrlHdr(data); err != nil {
		return err
	}
	off := 16
	if len(data) < off+hsBodyLen {
		return errors.New("packet: handshake body too short")
	}
	p.Version = endianness.Uint32(data[off : off+4])
	p.EncryptionField = endianness.Uint16(data[off+4 : off+6])
	p.ExtensionField = endianness.Uint16(data[off+6 : off+8])
	p.InitSeq = SeqNo(endianness.Uint32(data[off+8:off+12]) & seqNoMask)
	p.MSS = endianness.Uint32(data[off+12 : off+16])
	p.FlowWindowSize = endianness.Uint32(data[off+16 : off+20])
	p.ReqType = HSReqType(int32(endianness.Uint32(data[off+20 : off+24])))
	p.SockID = endianness.Uint32(data[off+24 : off+28])
	p.Cookie = endianness.Uint32(data[off+28 : off+32])
	copy(p.PeerIP[:], data[off+32:off+48])
	off += hsBodyLen

	p.Extensions = nil
	if p.Version < 5 {
		return nil
	}
	for off+4 <= len(data) {
		extType := ExtType(endianness.Uint16(data[off : off+2]))
		words := int(endianness.Uint16(data[off+2 : off+4]))
		off += 4
		bodyLen := words * 4
		if off+bodyLen > len(data) {
			return errors.New("packet: truncated handshake extension")
		}
		body := append([]byte(nil), data[off:off+bodyLen]...)
		p.Extensions = append(p.Extensions, Extension{Type: extType, Body: body})
		off += bodyLen
	}
	return nil
}

// FindExtension returns the first extension of the given type, if present.
func (p *HandshakePacket) FindExtension(t ExtType) ([]byte, bool) {
	for _, e := range p.Extensions {
		if e.Type == t {
			return e.Body, true
		}
	}
	return nil, false
}

// PadStreamID zero-pads s to a 4-byte boundary as an extension body.
func PadStreamID(s string) []byte {
	b := []byte(s)
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	return b
}

// UnpadStreamID trims the zero padding added by PadStreamID.
func UnpadStreamID(b []byte) string {
	i := len(b)
	for i > 0 && b[i-1] == 0 {
		i--
	}
	return string(b[:i])
}

// CookieFromSalt derives an anti-spoof cookie, an HMAC-like function (here
// FNV-1a, matching the teacher's preference for stdlib-only hashing away
// from the data plane) of the peer address bytes and a monotonic salt.
func CookieFromSalt(peer []byte, salt uint64, secret uint64) uint32 {
	h := uint64(1469598103934665603) // FNV offset basis
	mix := func(b byte) {
		h ^= uint64(b)
		h *= 1099511628211
	}
	for _, b := range peer {
		mix(b)
	}
	var sb [8]byte
	binary.BigEndian.PutUint64(sb[:], salt)
	for _, b := range sb {
		mix(b)
	}
	var kb [8]byte
	binary.BigEndian.PutUint64(kb[:], secret)
	for _, b := range kb {
		mix(b)
	}
	return uint32(h) ^ uint32(h>>32)
}
