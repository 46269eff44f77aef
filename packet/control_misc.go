package packet

import "errors"

// KeepAlivePacket carries no body; it merely resets the peer's idle timer.
type KeepAlivePacket struct{ header }

func (p *KeepAlivePacket) IsControl() bool          { return true }
func (p *KeepAlivePacket) WriteTo(b []byte) (int, error) { return p.writeCtrlHdr(b, CtrlKeepalive, 0, 0) }
func (p *KeepAlivePacket) readFrom(d []byte) error {
	_, _, err := p.readCtrlHdr(d)
	return err
}

// ShutdownPacket notifies the peer that the connection is closing.
type ShutdownPacket struct{ header }

func (p *ShutdownPacket) IsControl() bool          { return true }
func (p *ShutdownPacket) WriteTo(b []byte) (int, error) { return p.writeCtrlHdr(b, CtrlShutdown, 0, 0) }
func (p *ShutdownPacket) readFrom(d []byte) error {
	_, _, err := p.readCtrlHdr(d)
	return err
}

// CongestionWarningPacket is a legacy one-way-delay congestion signal.
type CongestionWarningPacket struct{ header }

func (p *CongestionWarningPacket) IsControl() bool { return true }
func (p *CongestionWarningPacket) WriteTo(b []byte) (int, error) {
	return p.writeCtrlHdr(b, CtrlCongestion, 0, 0)
}
func (p *CongestionWarningPacket) readFrom(d []byte) error {
	_, _, err := p.readCtrlHdr(d)
	return err
}

// PeerErrorPacket reports a peer-side I/O error (e.g. file system full on
// the other end) — passed through, not acted on, by the core.
type PeerErrorPacket struct {
	header
	ErrCode uint32
}

func (p *PeerErrorPacket) IsControl() bool { return true }
func (p *PeerErrorPacket) WriteTo(b []byte) (int, error) {
	return p.writeCtrlHdr(b, CtrlPeerError, 0, p.ErrCode)
}
func (p *PeerErrorPacket) readFrom(d []byte) error {
	_, info, err := p.readCtrlHdr(d)
	p.ErrCode = info
	return err
}

// DropReqPacket asks the receiver to skip a range of sequences belonging to
// one message, sent by the sender when that message's TsbPd deadline has
// elapsed in live mode (spec §4.2, §4.3).
type DropReqPacket struct {
	header
	MsgNo    MsgNo
	FirstSeq SeqNo
	LastSeq  SeqNo
}

func (p *DropReqPacket) IsControl() bool { return true }

func (p *DropReqPacket) WriteTo(buf []byte) (int, error) {
	n, err := p.writeCtrlHdr(buf, CtrlDropReq, 0, uint32(p.MsgNo))
	if err != nil {
		return 0, err
	}
	if len(buf) < n+8 {
		return 0, errors.New("packet: dropreq body does not fit")
	}
	endianness.PutUint32(buf[n:n+4], uint32(p.FirstSeq))
	endianness.PutUint32(buf[n+4:n+8], uint32(p.LastSeq))
	return n + 8, nil
}

func (p *DropReqPacket) readFrom(data []byte) error {
	_, info, err := p.readCtrlHdr(data)
	if err != nil {
		return err
	}
	p.MsgNo = MsgNo(info & msgNoMask)
	if len(data) < 24 {
		return errors.New("packet: dropreq body too short")
	}
	p.FirstSeq = SeqNo(endianness.Uint32(data[16:20]) & seqNoMask)
	p.LastSeq = SeqNo(endianness.Uint32(data[20:24]) & seqNoMask)
	return nil
}

// UserDefinedPacket is an application-reserved control message, demuxed by
// Subtype. The core never interprets its body.
type UserDefinedPacket struct {
	header
	Subtype uint16
	Body    []byte
}

func (p *UserDefinedPacket) IsControl() bool { return true }

func (p *UserDefinedPacket) WriteTo(buf []byte) (int, error) {
	n, err := p.writeCtrlHdr(buf, CtrlUserDefined, p.Subtype, 0)
	if err != nil {
		return 0, err
	}
	if len(buf) < n+len(p.Body) {
		return 0, errors.New("packet: user-defined body does not fit")
	}
	copy(buf[n:], p.Body)
	return n + len(p.Body), nil
}

func (p *UserDefinedPacket) readFrom(data []byte) error {
	subtype, _, err := p.readCtrlHdr(data)
	if err != nil {
		return err
	}
	p.Subtype = subtype
	p.Body = append([]byte(nil), data[16:]...)
	return nil
}
