package srt

import (
	"net"
	"time"

	"github.com/maxsharabayko/srt/km"
	"github.com/maxsharabayko/srt/packet"
)

// synInterval is the handshake retry period (spec §4.9's third timer
// stream), grounded on UDT's SYN-period retry cadence in
// udtsocket_send.go's EXP timer, applied here to the pre-connection
// induction/conclusion exchange instead of post-connection keepalive.
const synInterval = 250 * time.Millisecond

// Dial performs the caller side of a handshake against a listener at
// remoteAddr and returns the resulting Connection (spec §4.1's caller
// role). kmMgr is nil for an unencrypted connection.
func Dial(ep *Endpoint, cfg *Config, remoteAddr net.Addr, kmMgr *km.Manager) (*Connection, error) {
	localSock := randUint32()
	initSeq := packet.RandomSeqNo(randUint32())
	caller := NewCallerHandshake(cfg, kmMgr, localSock, initSeq)

	ch := ep.registerPending(localSock)
	defer ep.unregisterPending(localSock)

	deadline := ep.clk.Now().Add(cfg.ConnTimeout)

	caretaker, err := ep.negotiateHandshake(ch, deadline, remoteAddr, caller.Induction())
	if err != nil {
		return nil, err
	}
	conclusion, err := caller.OnCaretaker(caretaker)
	if err != nil {
		return nil, err
	}
	reply, err := ep.negotiateHandshake(ch, deadline, remoteAddr, conclusion)
	if err != nil {
		return nil, err
	}
	result, err := caller.OnConclusion(reply)
	if err != nil {
		return nil, err
	}

	conn := NewFromHandshake(cfg, ep.clk, result, kmMgr)
	ep.attach(result.LocalSockID, conn, remoteAddr)
	return conn, nil
}

// negotiateHandshake resends req every synInterval until a reply arrives
// on ch or deadline elapses, translating an encoded reject into a
// RejectError.
func (e *Endpoint) negotiateHandshake(ch <-chan *packet.HandshakePacket, deadline time.Time, remoteAddr net.Addr, req *packet.HandshakePacket) (*packet.HandshakePacket, error) {
	for {
		now := e.clk.Now()
		if !now.Before(deadline) {
			return nil, ErrTimeout
		}
		if err := e.send(0, remoteAddr, req); err != nil {
			return nil, err
		}
		wait := synInterval
		if remain := deadline.Sub(now); remain < wait {
			wait = remain
		}
		select {
		case reply := <-ch:
			if reason, isReject := packet.DecodeReject(reply.ReqType); isReject {
				return nil, &RejectError{Reason: reason}
			}
			return reply, nil
		case <-e.clk.After(wait):
			// retry
		case <-e.done:
			return nil, ErrLocalClose
		}
	}
}
