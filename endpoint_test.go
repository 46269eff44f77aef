package srt

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/maxsharabayko/srt/clock"
	"github.com/maxsharabayko/srt/packet"
)

type fakeAddr string

func (a fakeAddr) Network() string { return "fake" }
func (a fakeAddr) String() string  { return string(a) }

// fakePacketConn is an in-memory net.PacketConn: ReadFrom blocks on an
// inbox channel instead of touching a socket, and WriteTo records every
// datagram so tests can inspect what the endpoint sent.
type fakePacketConn struct {
	inbox    chan fakeDatagram
	closed   chan struct{}
	selfAddr net.Addr
	peer     *fakePacketConn // set by wireFakePair for a two-sided loopback link

	mu     sync.Mutex
	outbox []fakeDatagram
}

type fakeDatagram struct {
	data []byte
	addr net.Addr
}

func newFakePacketConn() *fakePacketConn {
	return &fakePacketConn{inbox: make(chan fakeDatagram, 64), closed: make(chan struct{})}
}

func (f *fakePacketConn) deliver(addr net.Addr, p packet.Packet) {
	buf := make([]byte, 2048)
	n, err := p.WriteTo(buf)
	if err != nil {
		panic(err)
	}
	f.inbox <- fakeDatagram{data: append([]byte(nil), buf[:n]...), addr: addr}
}

func (f *fakePacketConn) ReadFrom(b []byte) (int, net.Addr, error) {
	select {
	case d := <-f.inbox:
		return copy(b, d.data), d.addr, nil
	case <-f.closed:
		return 0, nil, net.ErrClosed
	}
}

func (f *fakePacketConn) WriteTo(b []byte, addr net.Addr) (int, error) {
	f.mu.Lock()
	f.outbox = append(f.outbox, fakeDatagram{data: append([]byte(nil), b...), addr: addr})
	f.mu.Unlock()
	if f.peer != nil {
		f.peer.inbox <- fakeDatagram{data: append([]byte(nil), b...), addr: f.selfAddr}
	}
	return len(b), nil
}

// wireFakePair connects two fakePacketConns so each one's WriteTo is
// delivered to the other's ReadFrom, letting a Dial/Listen pair run over
// an in-memory transport instead of real UDP sockets.
func wireFakePair(a, b *fakePacketConn, addrA, addrB net.Addr) {
	a.selfAddr, b.selfAddr = addrA, addrB
	a.peer, b.peer = b, a
}

func (f *fakePacketConn) outboxSnapshot() []fakeDatagram {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fakeDatagram(nil), f.outbox...)
}

func (f *fakePacketConn) Close() error {
	select {
	case <-f.closed:
	default:
		close(f.closed)
	}
	return nil
}
func (f *fakePacketConn) LocalAddr() net.Addr                { return fakeAddr("local") }
func (f *fakePacketConn) SetDeadline(time.Time) error        { return nil }
func (f *fakePacketConn) SetReadDeadline(time.Time) error    { return nil }
func (f *fakePacketConn) SetWriteDeadline(time.Time) error   { return nil }

func newTestEndpoint(t *testing.T) (*Endpoint, *fakePacketConn, *clock.FakeClock) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.TransType = TransFile
	cfg.Congestion = CongestionFile
	cfg.TsbPdMode = false
	cfg.MSS = 1500
	fc := newFakePacketConn()
	clk := clock.NewFake(time.Unix(2000, 0))
	ep := NewEndpoint(fc, cfg, clk)
	t.Cleanup(func() { ep.Close() })
	return ep, fc, clk
}

func attachTestConn(ep *Endpoint, addr net.Addr) *Connection {
	res := &HandshakeResult{
		LocalSockID:  500,
		RemoteSockID: 600,
		InitSeq:      10,
		PeerInitSeq:  1000,
		MSS:          ep.cfg.MSS,
		FlowWindow:   uint32(ep.cfg.FlightFlagSize),
	}
	c := NewFromHandshake(ep.cfg, ep.clk, res, nil)
	ep.attach(res.LocalSockID, c, addr)
	return c
}

func TestEndpointDiscardsUnknownDestSocket(t *testing.T) {
	ep, _, _ := newTestEndpoint(t)
	addr := fakeAddr("peer:1")
	dp := &packet.DataPacket{Seq: 1000, Boundary: packet.PbSolo, Data: []byte("x")}
	dp.SetHeader(999, 0)
	ep.dispatch(dp, addr)
	if len(ep.conns) != 0 {
		t.Fatalf("dispatch of an unknown socket id must not create a connection")
	}
}

func TestEndpointDiscardsPeerAddressMismatch(t *testing.T) {
	ep, _, clk := newTestEndpoint(t)
	addr := fakeAddr("peer:1")
	c := attachTestConn(ep, addr)

	dp := &packet.DataPacket{Seq: 1000, Boundary: packet.PbSolo, Data: []byte("x")}
	dp.SetHeader(c.LocalSockID(), 0)
	ep.dispatch(dp, fakeAddr("impostor:2"))

	if c.IdleFor(clk.Now()) != 0 {
		t.Fatalf("a packet from the wrong address must not reach the connection")
	}
}

func TestEndpointDataArrivalGapTriggersNak(t *testing.T) {
	ep, fc, _ := newTestEndpoint(t)
	addr := fakeAddr("peer:1")
	c := attachTestConn(ep, addr)

	first := &packet.DataPacket{Seq: 1000, Boundary: packet.PbSolo, Data: []byte("a")}
	first.SetHeader(c.LocalSockID(), 0)
	ep.dispatch(first, addr)

	gapped := &packet.DataPacket{Seq: 1003, Boundary: packet.PbSolo, Data: []byte("b")}
	gapped.SetHeader(c.LocalSockID(), 0)
	ep.dispatch(gapped, addr)

	var sawNak bool
	for _, d := range fc.outboxSnapshot() {
		p, err := packet.Decode(d.data)
		if err != nil {
			t.Fatalf("decode sent packet: %v", err)
		}
		if nak, ok := p.(*packet.NakPacket); ok {
			sawNak = true
			ranges, err := packet.DecodeLossRanges(nak.CompressedLoss)
			if err != nil {
				t.Fatalf("decode nak ranges: %v", err)
			}
			if len(ranges) != 1 || ranges[0][0] != 1001 || ranges[0][1] != 1002 {
				t.Fatalf("expected loss range [1001,1002], got %v", ranges)
			}
		}
	}
	if !sawNak {
		t.Fatalf("expected a NAK to be sent for the gap")
	}
}

func TestEndpointDropReqClearsReceiveGapAndLoss(t *testing.T) {
	ep, _, _ := newTestEndpoint(t)
	addr := fakeAddr("peer:1")
	c := attachTestConn(ep, addr)

	first := &packet.DataPacket{Seq: 1000, Boundary: packet.PbSolo, Data: []byte("a")}
	first.SetHeader(c.LocalSockID(), 0)
	ep.dispatch(first, addr)

	gapped := &packet.DataPacket{Seq: 1003, Boundary: packet.PbSolo, Data: []byte("b")}
	gapped.SetHeader(c.LocalSockID(), 0)
	ep.dispatch(gapped, addr)

	if c.recvLoss.Empty() {
		t.Fatalf("expected the gap at 1001-1002 to be tracked as loss")
	}

	drop := &packet.DropReqPacket{FirstSeq: 1001, LastSeq: 1002}
	drop.SetHeader(c.LocalSockID(), 0)
	ep.dispatch(drop, addr)

	if !c.recvLoss.Empty() {
		t.Fatalf("DROPREQ must clear the named range from the receiver loss list")
	}
	if c.recvBuf.startSeq.Before(packet.SeqNo(1003)) {
		t.Fatalf("DROPREQ must advance the reassembly window past the dropped range, got startSeq=%v", c.recvBuf.startSeq)
	}
}

func TestEndpointTransmitOneSendsQueuedPayload(t *testing.T) {
	ep, fc, clk := newTestEndpoint(t)
	addr := fakeAddr("peer:1")
	c := attachTestConn(ep, addr)

	seq, err := c.Send([]byte("hello"), 0, packet.PbSolo, true)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	ep.mu.Lock()
	ec := ep.conns[c.LocalSockID()]
	ep.mu.Unlock()
	ep.transmitOne(ec)

	found := false
	for _, d := range fc.outboxSnapshot() {
		p, err := packet.Decode(d.data)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		dp, ok := p.(*packet.DataPacket)
		if !ok {
			continue
		}
		if dp.Seq == seq && string(dp.Data) == "hello" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected the queued payload to be transmitted")
	}
	if c.TimeSinceSend(clk.Now()) != 0 {
		t.Fatalf("expected MarkSent to record the send time")
	}
}

func TestEndpointAckFromPeerEvictsSendBuffer(t *testing.T) {
	ep, fc, _ := newTestEndpoint(t)
	addr := fakeAddr("peer:1")
	c := attachTestConn(ep, addr)

	seq, err := c.Send([]byte("hello"), 0, packet.PbSolo, true)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	ack := &packet.AckPacket{AckSeqNo: 1, NextExpected: seq.Incr(), RTT: 50000, RTTVar: 10000}
	ack.SetHeader(c.LocalSockID(), 0)
	ep.dispatch(ack, addr)

	if c.sendBuf.Len() != 0 {
		t.Fatalf("expected the ACK to evict the acknowledged entry")
	}

	var sawAckAck bool
	for _, d := range fc.outboxSnapshot() {
		p, err := packet.Decode(d.data)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if _, ok := p.(*packet.AckAckPacket); ok {
			sawAckAck = true
		}
	}
	if !sawAckAck {
		t.Fatalf("expected the endpoint to answer a full ACK with an ACKACK")
	}
}
