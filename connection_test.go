package srt

import (
	"testing"
	"time"

	"github.com/maxsharabayko/srt/clock"
	"github.com/maxsharabayko/srt/packet"
)

func newTestConnection(t *testing.T) (*Connection, *clock.FakeClock) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.TransType = TransFile
	cfg.Congestion = CongestionFile
	cfg.TsbPdMode = false
	cfg.FlightFlagSize = 256
	cfg.SendBufBytes = 1456 * 8
	clk := clock.NewFake(time.Unix(1000, 0))
	res := &HandshakeResult{
		LocalSockID:  100,
		RemoteSockID: 200,
		InitSeq:      50,
		PeerInitSeq:  900,
		MSS:          cfg.MSS,
		FlowWindow:   uint32(cfg.FlightFlagSize),
	}
	c := NewFromHandshake(cfg, clk, res, nil)
	return c, clk
}

func TestConnectionStartsConnected(t *testing.T) {
	c, _ := newTestConnection(t)
	if c.State() != StateConnected {
		t.Fatalf("expected CONNECTED, got %s", c.State())
	}
}

func TestConnectionSendAssignsMonotonicSequences(t *testing.T) {
	c, _ := newTestConnection(t)
	seq1, err := c.Send(make([]byte, 100), 0, packet.PbSolo, true)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	seq2, err := c.Send(make([]byte, 100), 1, packet.PbSolo, true)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if seq2 != seq1.Incr() {
		t.Fatalf("expected monotonic sequences, got %d then %d", seq1, seq2)
	}
}

func TestConnectionSendFailsAfterShutdown(t *testing.T) {
	c, _ := newTestConnection(t)
	c.Shutdown()
	if _, err := c.Send(make([]byte, 10), 0, packet.PbSolo, true); err != ErrConnectionBroken {
		t.Fatalf("expected ErrConnectionBroken after shutdown, got %v", err)
	}
}

func TestConnectionSendBackpressureOnFullBuffer(t *testing.T) {
	c, _ := newTestConnection(t)
	var lastErr error
	for i := 0; i < 100; i++ {
		_, lastErr = c.Send(make([]byte, 1456), packet.MsgNo(i), packet.PbSolo, true)
		if lastErr != nil {
			break
		}
	}
	if lastErr != ErrBufferFull {
		t.Fatalf("expected ErrBufferFull once the send buffer fills, got %v", lastErr)
	}
}

func TestConnectionAckEvictsSendBuffer(t *testing.T) {
	c, _ := newTestConnection(t)
	seq, err := c.Send(make([]byte, 10), 0, packet.PbSolo, true)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if c.sendBuf.Len() != 1 {
		t.Fatalf("expected one entry before ack")
	}
	c.OnAckFromPeer(seq.Incr(), 50*time.Millisecond, 10*time.Millisecond)
	if c.sendBuf.Len() != 0 {
		t.Fatalf("expected the send buffer emptied after ack, got %d entries", c.sendBuf.Len())
	}
}

func TestConnectionDataArrivalReportsLossGap(t *testing.T) {
	c, _ := newTestConnection(t)
	dp1 := &packet.DataPacket{Seq: 900, Boundary: packet.PbSolo, Data: []byte("a")}
	if _, _, haveLoss, result := c.OnDataArrival(dp1); haveLoss || result != ResultOK {
		t.Fatalf("first arrival should be in order with no loss, got loss=%v result=%s", haveLoss, result)
	}
	dp2 := &packet.DataPacket{Seq: 905, Boundary: packet.PbSolo, Data: []byte("b")}
	from, to, haveLoss, result := c.OnDataArrival(dp2)
	if !haveLoss || result != ResultOK {
		t.Fatalf("expected a loss report for the gap, got loss=%v result=%s", haveLoss, result)
	}
	if from != 901 || to != 904 {
		t.Fatalf("expected loss range [901,904], got [%d,%d]", from, to)
	}
	if c.recvLoss.Empty() {
		t.Fatalf("expected the gap recorded in the receiver loss list")
	}
}

func TestConnectionReadMessageAfterInOrderArrival(t *testing.T) {
	c, _ := newTestConnection(t)
	dp := &packet.DataPacket{Seq: 900, Boundary: packet.PbSolo, InOrder: true, Data: []byte("hello")}
	c.OnDataArrival(dp)
	c.recvBuf.Ack(901)
	msg, ok := c.ReadMessage()
	if !ok || string(msg) != "hello" {
		t.Fatalf("expected to read %q, got %q ok=%v", "hello", msg, ok)
	}
}

// Drives data arrival across the 32-bit timestamp wrap boundary (spec
// §4.5, §8's literal scenario) and checks the TsbPd playback time
// computed through ReadMessage's path stays monotone across it.
func TestConnectionTsbPdTimeMonotoneAcrossTimestampWrap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TransType = TransLive
	cfg.Congestion = CongestionLive
	cfg.TsbPdMode = true
	cfg.FlightFlagSize = 256
	cfg.SendBufBytes = 1456 * 8
	clk := clock.NewFake(time.Unix(1000, 0))
	res := &HandshakeResult{
		LocalSockID:  100,
		RemoteSockID: 200,
		InitSeq:      50,
		PeerInitSeq:  900,
		MSS:          cfg.MSS,
		FlowWindow:   uint32(cfg.FlightFlagSize),
	}
	c := NewFromHandshake(cfg, clk, res, nil)

	lastWindowStart := uint32(wrapUs - wrapCheckWindowUs)

	before := &packet.DataPacket{Seq: 900, Boundary: packet.PbSolo, InOrder: true, Data: []byte("a")}
	before.SetHeader(0, lastWindowStart+1)
	c.OnDataArrival(before)
	beforeTime := c.recvBuf.tsbpdTime(c.recvBuf.bySeq[900])

	wrapped := &packet.DataPacket{Seq: 901, Boundary: packet.PbSolo, InOrder: true, Data: []byte("b")}
	wrapped.SetHeader(0, 500) // wrapped back around past 0
	c.OnDataArrival(wrapped)
	wrappedTime := c.recvBuf.tsbpdTime(c.recvBuf.bySeq[901])

	if wrappedTime < beforeTime {
		t.Fatalf("expected TsbPd time to stay monotone across the wrap: before=%d wrapped=%d", beforeTime, wrappedTime)
	}

	c.recvBuf.Ack(902)
	// Both playback times lie about 71 minutes past the connection start;
	// advance to the later one so both packets are due.
	clk.Advance(time.Duration(wrappedTime-c.nowUs()) * time.Microsecond)
	msg1, ok := c.ReadMessage()
	if !ok || string(msg1) != "a" {
		t.Fatalf("expected to read %q before the wrap, got %q ok=%v", "a", msg1, ok)
	}
	msg2, ok := c.ReadMessage()
	if !ok || string(msg2) != "b" {
		t.Fatalf("expected to read %q after the wrap, got %q ok=%v", "b", msg2, ok)
	}
}

func TestConnectionIdleForTracksLastReceipt(t *testing.T) {
	c, clk := newTestConnection(t)
	dp := &packet.DataPacket{Seq: 900, Boundary: packet.PbSolo, Data: []byte("x")}
	c.OnDataArrival(dp)
	clk.Advance(2 * time.Second)
	if d := c.IdleFor(clk.Now()); d != 2*time.Second {
		t.Fatalf("expected 2s idle, got %v", d)
	}
}
