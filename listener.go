package srt

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/maxsharabayko/srt/km"
	"github.com/maxsharabayko/srt/packet"
)

// acceptReplayWindow bounds how long a completed handshake's reply is
// cached to answer a retransmitted conclusion idempotently, mirroring
// the teacher's acceptSockHeap/Prune in listener.go — kept as a plain
// map with lazy pruning since a listener's pending-accept set is small
// compared to the heap the teacher needed for its own unrelated dedup
// (by init sequence, not by cookie) concerns.
const acceptReplayWindow = 10 * time.Second

type acceptRecord struct {
	conn    *Connection
	reply   *packet.HandshakePacket
	touched time.Time
}

// Listener accepts incoming SRT connections on one Endpoint, wiring
// ListenerHandshake's induction/conclusion steps to the wire (spec §4.1's
// "Listener-with-acceptance-callback" role).
type Listener struct {
	ep        *Endpoint
	cfg       *Config
	hs        *ListenerHandshake
	kmFactory func() (*km.Manager, error)

	mu      sync.Mutex
	history map[string]*acceptRecord
	backlog chan *Connection
	closed  bool
}

// Listen creates a Listener bound to ep, issuing cookies salted with
// secret and deciding admission via accept. kmFactory, if non-nil, is
// called once per accepted connection to build that connection's own
// key-material manager (each connection negotiates independent key
// state even when every listener shares one passphrase).
func Listen(ep *Endpoint, cfg *Config, secret uint64, kmFactory func() (*km.Manager, error), accept AcceptFunc) *Listener {
	cookies := newCookieStore(ep.clk, secret)
	l := &Listener{
		ep:        ep,
		cfg:       cfg,
		kmFactory: kmFactory,
		history:   make(map[string]*acceptRecord),
		backlog:   make(chan *Connection, 64),
	}
	l.hs = NewListenerHandshake(cfg, cookies, randUint32, func() packet.SeqNo { return packet.RandomSeqNo(randUint32()) }, accept)
	ep.setListener(l)
	return l
}

// AcceptFunc decides whether to admit an incoming connection request,
// mirroring the callback signature spec §4.1 assigns the listener role.
// peer is the address bytes of the requesting socket (addrBytes(addr)).
type AcceptFunc func(peer []byte, streamID string) AcceptDecision

// Accept blocks until a connection completes its handshake, or the
// listener is closed.
func (l *Listener) Accept() (*Connection, error) {
	conn, ok := <-l.backlog
	if !ok {
		return nil, ErrLocalClose
	}
	return conn, nil
}

// Close stops admitting new connections. Already-accepted connections
// are unaffected.
func (l *Listener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.backlog)
	l.mu.Unlock()
	l.ep.setListener(nil)
	return nil
}

func acceptKey(sockID uint32, addr net.Addr) string {
	return fmt.Sprintf("%d|%s", sockID, addr.String())
}

// onHandshake is the endpoint's callback for any handshake packet
// addressed to this listener's socket id (0).
func (l *Listener) onHandshake(hs *packet.HandshakePacket, addr net.Addr) {
	switch hs.ReqType {
	case packet.HsInduction:
		reply := l.hs.OnInduction(hs, addrBytes(addr))
		if err := l.ep.send(hs.SockID, addr, reply); err != nil {
			l.ep.log.Printf("%v", err)
		}
	case packet.HsConclusion:
		l.onConclusion(hs, addr)
	default:
		l.ep.log.Printf("listener ignoring handshake reqtype %v from %v", hs.ReqType, addr)
	}
}

func (l *Listener) onConclusion(hs *packet.HandshakePacket, addr net.Addr) {
	key := acceptKey(hs.SockID, addr)

	l.mu.Lock()
	l.pruneHistory()
	if rec, ok := l.history[key]; ok {
		rec.touched = l.ep.clk.Now()
		l.mu.Unlock()
		if err := l.ep.send(hs.SockID, addr, rec.reply); err != nil {
			l.ep.log.Printf("%v", err)
		}
		return
	}
	l.mu.Unlock()

	var mgr *km.Manager
	if l.kmFactory != nil {
		var err error
		mgr, err = l.kmFactory()
		if err != nil {
			l.ep.log.Printf("km manager init for %v failed: %v", addr, err)
			return
		}
	}

	reply, result, err := l.hs.OnConclusion(hs, addrBytes(addr), mgr)
	if err != nil {
		if rerr, ok := err.(*RejectError); ok {
			if sendErr := l.ep.send(hs.SockID, addr, rejectReply(hs, rerr.Reason)); sendErr != nil {
				l.ep.log.Printf("%v", sendErr)
			}
		} else {
			l.ep.log.Printf("handshake conclusion error from %v: %v", addr, err)
		}
		return
	}

	conn := NewFromHandshake(l.cfg, l.ep.clk, result, mgr)
	l.ep.attach(result.LocalSockID, conn, addr)

	l.mu.Lock()
	l.history[key] = &acceptRecord{conn: conn, reply: reply, touched: l.ep.clk.Now()}
	l.mu.Unlock()

	if err := l.ep.send(hs.SockID, addr, reply); err != nil {
		l.ep.log.Printf("%v", err)
	}

	select {
	case l.backlog <- conn:
	default:
		l.ep.log.Printf("accept backlog full, dropping connection from %v", addr)
		conn.MarkBroken()
		l.ep.detach(result.LocalSockID)
	}
}

// pruneHistory drops replay-dedup records older than acceptReplayWindow.
// Callers must hold l.mu.
func (l *Listener) pruneHistory() {
	cutoff := l.ep.clk.Now().Add(-acceptReplayWindow)
	for k, rec := range l.history {
		if rec.touched.Before(cutoff) {
			delete(l.history, k)
		}
	}
}

func addrBytes(addr net.Addr) []byte {
	return []byte(addr.String())
}
