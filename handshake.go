package srt

import (
	"time"

	"github.com/maxsharabayko/srt/km"
	"github.com/maxsharabayko/srt/packet"
)

// HandshakeVersion is the only version this core speaks (spec §4.1 assumes
// the v5 extension-carrying conclusion exchange).
const HandshakeVersion = 5

// cookieSaltPeriod is the rotation period for the listener's anti-spoof
// cookie salt (spec §4.1: "~1-minute period").
const cookieSaltPeriod = 60 * time.Second

// cookieStore issues and validates induction cookies, keeping the current
// and previous salt window so a cookie echoed just after a rotation still
// validates (spec §4.1: "must match one of the two most recent salt
// windows"). Grounded on the general two-generation-cookie pattern used by
// connectionless anti-spoof handshakes; the teacher (UDT) has no cookie
// step at all, since it trusts the three-way handshake alone.
type cookieStore struct {
	clk    interface{ Now() time.Time }
	secret uint64
	period time.Duration
}

func newCookieStore(clk interface{ Now() time.Time }, secret uint64) *cookieStore {
	return &cookieStore{clk: clk, secret: secret, period: cookieSaltPeriod}
}

func (c *cookieStore) currentSalt() uint64 {
	return uint64(c.clk.Now().UnixNano()) / uint64(c.period)
}

// Issue derives a cookie for peer using the current salt window.
func (c *cookieStore) Issue(peer []byte) uint32 {
	return packet.CookieFromSalt(peer, c.currentSalt(), c.secret)
}

// Validate reports whether cookie matches the current or immediately
// preceding salt window for peer.
func (c *cookieStore) Validate(peer []byte, cookie uint32) bool {
	salt := c.currentSalt()
	if packet.CookieFromSalt(peer, salt, c.secret) == cookie {
		return true
	}
	return packet.CookieFromSalt(peer, salt-1, c.secret) == cookie
}

// HandshakeResult is the negotiated outcome of a completed exchange,
// handed to connection construction.
type HandshakeResult struct {
	LocalSockID  uint32
	RemoteSockID uint32
	InitSeq      packet.SeqNo
	PeerInitSeq  packet.SeqNo
	MSS          uint32
	FlowWindow   uint32
	StreamID     string
	PeerKM       *km.WireMessage
	PeerKMMode   km.Mode
}

func buildExtensions(cfg *Config, mgr *km.Manager, kmExtType packet.ExtType) ([]packet.Extension, error) {
	var exts []packet.Extension
	if cfg.StreamID != "" {
		exts = append(exts, packet.Extension{Type: packet.ExtStreamID, Body: packet.PadStreamID(cfg.StreamID)})
	}
	if mgr != nil && mgr.Mode() != km.ModeNone {
		wire, err := mgr.GenerateInitial()
		if err != nil {
			return nil, err
		}
		msg := &packet.KMMessage{
			Version:    1,
			PktType:    2,
			KeyFlags:   packet.KeyFlag(wire.KeyFlags),
			Cipher:     wire.Cipher,
			SE:         2,
			Salt:       wire.Salt,
			WrappedSEK: wire.WrappedSEK,
		}
		exts = append(exts, packet.Extension{Type: kmExtType, Body: msg.Encode()})
	}
	return exts, nil
}

func encryptionField(mode CryptoMode) uint16 {
	switch mode {
	case CryptoCTR, CryptoGCM:
		return 1
	default:
		return 0
	}
}

// peerModeFromKM reports the cipher mode a peer actually used: the
// handshake's encryption field only says whether encryption is on, so
// the mode itself is read from the KM message's Cipher byte (which
// cipherCode gives a distinct value per mode) rather than guessed.
func peerModeFromKM(field uint16, peerKM *km.WireMessage) km.Mode {
	if field == 0 {
		return km.ModeNone
	}
	if peerKM == nil {
		return km.ModeNone
	}
	return km.ModeFromCipherCode(peerKM.Cipher)
}

// CallerHandshake drives the caller side of spec §4.1's three-way
// exchange: send induction, receive the cookie-bearing caretaker reply,
// send conclusion, receive the listener's conclusion or a reject.
type CallerHandshake struct {
	cfg       *Config
	kmMgr     *km.Manager
	localSock uint32
	initSeq   packet.SeqNo

	stage      int // 0 = awaiting caretaker, 1 = awaiting conclusion
	cookie     uint32
	remoteAddr []byte
}

func NewCallerHandshake(cfg *Config, kmMgr *km.Manager, localSock uint32, initSeq packet.SeqNo) *CallerHandshake {
	return &CallerHandshake{cfg: cfg, kmMgr: kmMgr, localSock: localSock, initSeq: initSeq}
}

// Induction builds the first message a caller sends.
func (h *CallerHandshake) Induction() *packet.HandshakePacket {
	return &packet.HandshakePacket{
		Version:  HandshakeVersion,
		InitSeq:  h.initSeq,
		MSS:      uint32(h.cfg.MSS),
		FlowWindowSize: uint32(h.cfg.FlightFlagSize),
		ExtensionField: uint16(packet.Magic),
		ReqType:  packet.HsInduction,
		SockID:   h.localSock,
	}
}

// OnCaretaker consumes the listener's cookie-bearing induction reply and
// returns the conclusion message to send next.
func (h *CallerHandshake) OnCaretaker(reply *packet.HandshakePacket) (*packet.HandshakePacket, error) {
	if reply.ReqType != packet.HsInduction {
		if reason, ok := packet.DecodeReject(reply.ReqType); ok {
			return nil, &RejectError{Reason: reason}
		}
		return nil, ErrMalformedPacket
	}
	h.cookie = reply.Cookie
	exts, err := buildExtensions(h.cfg, h.kmMgr, packet.ExtKMReq)
	if err != nil {
		return nil, err
	}
	return &packet.HandshakePacket{
		Version:         HandshakeVersion,
		EncryptionField: encryptionField(h.cfg.CryptoMode),
		InitSeq:         h.initSeq,
		MSS:             uint32(h.cfg.MSS),
		FlowWindowSize:  uint32(h.cfg.FlightFlagSize),
		ReqType:         packet.HsConclusion,
		SockID:          h.localSock,
		Cookie:          h.cookie,
		Extensions:      exts,
	}, nil
}

// OnConclusion consumes the listener's final conclusion (or reject) and
// produces the negotiated result.
func (h *CallerHandshake) OnConclusion(reply *packet.HandshakePacket) (*HandshakeResult, error) {
	if reason, ok := packet.DecodeReject(reply.ReqType); ok {
		return nil, &RejectError{Reason: reason}
	}
	if reply.ReqType != packet.HsConclusion {
		return nil, ErrMalformedPacket
	}
	res := &HandshakeResult{
		LocalSockID:  h.localSock,
		RemoteSockID: reply.SockID,
		InitSeq:      h.initSeq,
		PeerInitSeq:  reply.InitSeq,
		MSS:          minU32(uint32(h.cfg.MSS), reply.MSS),
		FlowWindow:   minU32(uint32(h.cfg.FlightFlagSize), reply.FlowWindowSize),
	}
	if body, ok := reply.FindExtension(packet.ExtStreamID); ok {
		res.StreamID = packet.UnpadStreamID(body)
	}
	if body, ok := reply.FindExtension(packet.ExtKMResp); ok {
		msg, err := packet.DecodeKMMessage(body)
		if err != nil {
			return nil, ErrKeyMaterialMalformed
		}
		res.PeerKM = &km.WireMessage{KeyFlags: uint8(msg.KeyFlags), Cipher: msg.Cipher, Salt: msg.Salt, WrappedSEK: msg.WrappedSEK}
	}
	res.PeerKMMode = peerModeFromKM(reply.EncryptionField, res.PeerKM)
	return res, nil
}

func minU32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

// AcceptDecision is returned by a listener's acceptance callback.
type AcceptDecision struct {
	Accept bool
	Reason packet.RejectReason // meaningful only if !Accept
}

// ListenerHandshake drives the listener side: issue a cookie on
// induction, validate it and run the acceptance callback on conclusion.
type ListenerHandshake struct {
	cfg      *Config
	cookies  *cookieStore
	accept   func(peer []byte, streamID string) AcceptDecision
	nextSock func() uint32
	nextISN  func() packet.SeqNo
}

func NewListenerHandshake(cfg *Config, cookies *cookieStore, nextSock func() uint32, nextISN func() packet.SeqNo, accept func(peer []byte, streamID string) AcceptDecision) *ListenerHandshake {
	return &ListenerHandshake{cfg: cfg, cookies: cookies, accept: accept, nextSock: nextSock, nextISN: nextISN}
}

// OnInduction replies to a caller's bare induction request with a
// cookie-bearing caretaker response.
func (h *ListenerHandshake) OnInduction(req *packet.HandshakePacket, peerAddr []byte) *packet.HandshakePacket {
	return &packet.HandshakePacket{
		Version:  HandshakeVersion,
		InitSeq:  req.InitSeq,
		MSS:      req.MSS,
		FlowWindowSize: req.FlowWindowSize,
		ReqType:  packet.HsInduction,
		SockID:   req.SockID,
		Cookie:   h.cookies.Issue(peerAddr),
	}
}

// OnConclusion validates the echoed cookie, runs the acceptance callback,
// and either returns a conclusion to send back plus the negotiated
// result, or a reject reason.
func (h *ListenerHandshake) OnConclusion(req *packet.HandshakePacket, peerAddr []byte, kmMgr *km.Manager) (*packet.HandshakePacket, *HandshakeResult, error) {
	if !h.cookies.Validate(peerAddr, req.Cookie) {
		return rejectReply(req, packet.RejRdvCookie), nil, &RejectError{Reason: packet.RejRdvCookie}
	}
	var streamID string
	if body, ok := req.FindExtension(packet.ExtStreamID); ok {
		streamID = packet.UnpadStreamID(body)
	}
	decision := h.accept(peerAddr, streamID)
	if !decision.Accept {
		return rejectReply(req, decision.Reason), nil, &RejectError{Reason: decision.Reason}
	}

	localSock := h.nextSock()
	localSeq := h.nextISN()

	var peerKM *km.WireMessage
	if body, ok := req.FindExtension(packet.ExtKMReq); ok {
		msg, err := packet.DecodeKMMessage(body)
		if err != nil {
			return rejectReply(req, packet.RejBadSecret), nil, ErrKeyMaterialMalformed
		}
		peerKM = &km.WireMessage{KeyFlags: uint8(msg.KeyFlags), Cipher: msg.Cipher, Salt: msg.Salt, WrappedSEK: msg.WrappedSEK}
	}
	peerMode := peerModeFromKM(req.EncryptionField, peerKM)
	if peerKM != nil && kmMgr != nil {
		if err := kmMgr.Accept(peerKM, peerMode); err != nil {
			reason := packet.RejBadSecret
			if kmMgr.State() == km.StateUnsecured || kmMgr.State() == km.StateNoSecret {
				reason = packet.RejUnsecure
			}
			return rejectReply(req, reason), nil, &RejectError{Reason: reason}
		}
	}

	exts, err := buildExtensions(h.cfg, kmMgr, packet.ExtKMResp)
	if err != nil {
		return nil, nil, err
	}
	if streamID != "" {
		// a caller that sent a stream id gets no stream-id extension back
		exts = filterOutStreamID(exts)
	}
	reply := &packet.HandshakePacket{
		Version:         HandshakeVersion,
		EncryptionField: encryptionField(h.cfg.CryptoMode),
		InitSeq:         localSeq,
		MSS:             minU32(uint32(h.cfg.MSS), req.MSS),
		FlowWindowSize:  minU32(uint32(h.cfg.FlightFlagSize), req.FlowWindowSize),
		ReqType:         packet.HsConclusion,
		SockID:          localSock,
		Extensions:      exts,
	}
	result := &HandshakeResult{
		LocalSockID:  localSock,
		RemoteSockID: req.SockID,
		InitSeq:      localSeq,
		PeerInitSeq:  req.InitSeq,
		MSS:          reply.MSS,
		FlowWindow:   reply.FlowWindowSize,
		StreamID:     streamID,
		PeerKM:       peerKM,
		PeerKMMode:   peerMode,
	}
	return reply, result, nil
}

func filterOutStreamID(exts []packet.Extension) []packet.Extension {
	out := exts[:0]
	for _, e := range exts {
		if e.Type != packet.ExtStreamID {
			out = append(out, e)
		}
	}
	return out
}

func rejectReply(req *packet.HandshakePacket, reason packet.RejectReason) *packet.HandshakePacket {
	return &packet.HandshakePacket{
		Version: HandshakeVersion,
		SockID:  req.SockID,
		ReqType: packet.EncodeReject(reason),
	}
}

// RendezvousWinner applies spec §4.1's tie-break rule: the peer with the
// lexicographically smaller socket id is the "winner" that keeps its own
// initial sequence and parameters; the loser adopts the winner's.
func RendezvousWinner(localSockID, remoteSockID uint32) bool {
	return localSockID < remoteSockID
}
