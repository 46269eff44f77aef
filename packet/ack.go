package packet

import "errors"

// AckPacket is a periodic full acknowledgement describing link state.
// Body layout: next-expected seq, RTT, RTT variance, available receive
// buffer (packets), and optionally packet rate / link capacity / byte rate.
type AckPacket struct {
	header
	AckSeqNo     uint32 // ACK sequence number (echoed back in the AckAck)
	NextExpected SeqNo  // all sequences before this have been received
	RTT          uint32 // microseconds
	RTTVar       uint32 // microseconds
	AvailBufPkts uint32

	HasRates     bool
	PktRecvRate  uint32 // packets/sec
	EstLinkCap   uint32 // packets/sec
	RecvRateBps  uint32 // bytes/sec
}

func (p *AckPacket) IsControl() bool { return true }

func (p *AckPacket) WriteTo(buf []byte) (int, error) {
	n, err := p.writeCtrlHdr(buf, CtrlAck, 0, p.AckSeqNo)
	if err != nil {
		return 0, err
	}
	const fixed = 16
	if len(buf) < n+fixed {
		return 0, errors.New("packet: ack body does not fit")
	}
	endianness.PutUint32(buf[n:n+4], uint32(p.NextExpected))
	endianness.PutUint32(buf[n+4:n+8], p.RTT)
	endianness.PutUint32(buf[n+8:n+12], p.RTTVar)
	endianness.PutUint32(buf[n+12:n+16], p.AvailBufPkts)
	n += fixed
	if !p.HasRates {
		return n, nil
	}
	if len(buf) < n+12 {
		return 0, errors.New("packet: ack rate fields do not fit")
	}
	endianness.PutUint32(buf[n:n+4], p.PktRecvRate)
	endianness.PutUint32(buf[n+4:n+8], p.EstLinkCap)
	endianness.PutUint32(buf[n+8:n+12], p.RecvRateBps)
	n += 12
	return n, nil
}

func (p *AckPacket) readFrom(data []byte) error {
	ackSeq, info, err := p.readCtrlHdr(data)
	_ = ackSeq
	if err != nil {
		return err
	}
	p.AckSeqNo = info
	off := 16
	if len(data) < off+16 {
		return errors.New("packet: ack body too short")
	}
	p.NextExpected = SeqNo(endianness.Uint32(data[off:off+4]) & seqNoMask)
	p.RTT = endianness.Uint32(data[off+4 : off+8])
	p.RTTVar = endianness.Uint32(data[off+8 : off+12])
	p.AvailBufPkts = endianness.Uint32(data[off+12 : off+16])
	off += 16
	if len(data) >= off+12 {
		p.HasRates = true
		p.PktRecvRate = endianness.Uint32(data[off : off+4])
		p.EstLinkCap = endianness.Uint32(data[off+4 : off+8])
		p.RecvRateBps = endianness.Uint32(data[off+8 : off+12])
	}
	return nil
}

// LightAckPacket is a rapid-feedback ACK carrying only the next-expected
// sequence, used when the data rate is high (spec §4.2).
type LightAckPacket struct {
	header
	NextExpected SeqNo
}

func (p *LightAckPacket) IsControl() bool { return true }

func (p *LightAckPacket) WriteTo(buf []byte) (int, error) {
	return p.writeCtrlHdr(buf, CtrlAck, 0, uint32(p.NextExpected))
}

func (p *LightAckPacket) readFrom(data []byte) error {
	_, info, err := p.readCtrlHdr(data)
	if err != nil {
		return err
	}
	p.NextExpected = SeqNo(info & seqNoMask)
	return nil
}

// AckAckPacket acknowledges receipt of a full ACK, used for RTT estimation.
type AckAckPacket struct {
	header
	AckSeqNo uint32
}

func (p *AckAckPacket) IsControl() bool { return true }

func (p *AckAckPacket) WriteTo(buf []byte) (int, error) {
	return p.writeCtrlHdr(buf, CtrlAckAck, 0, p.AckSeqNo)
}

func (p *AckAckPacket) readFrom(data []byte) error {
	_, info, err := p.readCtrlHdr(data)
	if err != nil {
		return err
	}
	p.AckSeqNo = info
	return nil
}
