package srt

import (
	"testing"

	"github.com/maxsharabayko/srt/packet"
)

// newTestListener builds a Listener directly (bypassing Listen) so the
// backlog capacity can be shrunk below its production default of 64.
func newTestListener(ep *Endpoint, cfg *Config, backlogCap int, accept AcceptFunc) *Listener {
	cookies := newCookieStore(ep.clk, 0xC0FFEE)
	l := &Listener{
		ep:      ep,
		cfg:     cfg,
		history: make(map[string]*acceptRecord),
		backlog: make(chan *Connection, backlogCap),
	}
	l.hs = NewListenerHandshake(cfg, cookies, randUint32, func() packet.SeqNo { return packet.RandomSeqNo(randUint32()) }, accept)
	ep.setListener(l)
	return l
}

// conclusionFrom drives a caller-side CallerHandshake far enough to
// produce a conclusion packet addressed to the listener, without
// needing a second Endpoint.
func conclusionFrom(t *testing.T, ep *Endpoint, cfg *Config, l *Listener, addr fakeAddr, localSock uint32) *packet.HandshakePacket {
	t.Helper()
	caller := NewCallerHandshake(cfg, nil, localSock, packet.RandomSeqNo(1))
	induction := caller.Induction()
	induction.SetHeader(0, 0)
	l.onHandshake(induction, addr)

	fc := ep.pc.(*fakePacketConn)
	var caretaker *packet.HandshakePacket
	for _, d := range fc.outboxSnapshot() {
		p, err := packet.Decode(d.data)
		if err != nil {
			t.Fatalf("decode caretaker: %v", err)
		}
		if hs, ok := p.(*packet.HandshakePacket); ok && hs.ReqType == packet.HsInduction && hs.DestSockID() == localSock {
			caretaker = hs
		}
	}
	if caretaker == nil {
		t.Fatalf("expected the listener to reply to induction")
	}
	conclusion, err := caller.OnCaretaker(caretaker)
	if err != nil {
		t.Fatalf("OnCaretaker: %v", err)
	}
	conclusion.SetHeader(0, 0)
	return conclusion
}

func TestListenerIdempotentOnReplayedConclusion(t *testing.T) {
	ep, _, _ := newTestEndpoint(t)
	cfg := ep.cfg
	l := newTestListener(ep, cfg, 4, acceptAll)

	addr := fakeAddr("peer:1")
	conclusion := conclusionFrom(t, ep, cfg, l, addr, 42)

	l.onHandshake(conclusion, addr)
	l.onHandshake(conclusion, addr) // retransmitted conclusion

	if len(ep.conns) != 1 {
		t.Fatalf("expected exactly one connection from a replayed conclusion, got %d", len(ep.conns))
	}
	select {
	case c := <-l.backlog:
		if c == nil {
			t.Fatalf("expected a non-nil accepted connection")
		}
	default:
		t.Fatalf("expected the first conclusion to produce a backlog entry")
	}
	select {
	case <-l.backlog:
		t.Fatalf("the replayed conclusion must not enqueue a second backlog entry")
	default:
	}
}

func TestListenerDropsConnectionWhenBacklogFull(t *testing.T) {
	ep, _, _ := newTestEndpoint(t)
	cfg := ep.cfg
	l := newTestListener(ep, cfg, 1, acceptAll)

	addrA := fakeAddr("peer:a")
	addrB := fakeAddr("peer:b")
	concA := conclusionFrom(t, ep, cfg, l, addrA, 42)
	l.onHandshake(concA, addrA)

	concB := conclusionFrom(t, ep, cfg, l, addrB, 43)
	l.onHandshake(concB, addrB)

	if len(l.backlog) != 1 {
		t.Fatalf("expected the backlog to hold exactly its one slot, got %d", len(l.backlog))
	}
	ep.mu.Lock()
	attached := len(ep.conns)
	ep.mu.Unlock()
	if attached != 1 {
		t.Fatalf("expected the backlog-dropped connection to be detached, leaving 1 attached, got %d", attached)
	}
}

func TestListenerRejectsViaAcceptCallback(t *testing.T) {
	ep, fc, _ := newTestEndpoint(t)
	cfg := ep.cfg
	reject := func(peer []byte, streamID string) AcceptDecision {
		return AcceptDecision{Accept: false, Reason: packet.RejPeer}
	}
	l := newTestListener(ep, cfg, 4, reject)

	addr := fakeAddr("peer:1")
	conclusion := conclusionFrom(t, ep, cfg, l, addr, 42)
	l.onHandshake(conclusion, addr)

	if len(ep.conns) != 0 {
		t.Fatalf("a rejected conclusion must not create a connection")
	}

	var sawReject bool
	for _, d := range fc.outboxSnapshot() {
		p, err := packet.Decode(d.data)
		if err != nil {
			continue
		}
		if hs, ok := p.(*packet.HandshakePacket); ok {
			if reason, isReject := packet.DecodeReject(hs.ReqType); isReject && reason == packet.RejPeer {
				sawReject = true
			}
		}
	}
	if !sawReject {
		t.Fatalf("expected a reject reply to be sent")
	}
}

func TestListenerCloseStopsAcceptingAndDetaches(t *testing.T) {
	ep, _, _ := newTestEndpoint(t)
	cfg := ep.cfg
	l := newTestListener(ep, cfg, 4, acceptAll)

	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	ep.mu.Lock()
	attached := ep.listener
	ep.mu.Unlock()
	if attached != nil {
		t.Fatalf("expected Close to detach the listener from its endpoint")
	}
	if _, err := l.Accept(); err != ErrLocalClose {
		t.Fatalf("expected ErrLocalClose from Accept after Close, got %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close must be idempotent: %v", err)
	}
}
