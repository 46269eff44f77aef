package srt

import (
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/maxsharabayko/srt/clock"
	"github.com/maxsharabayko/srt/packet"
)

// keepaliveInterval is how long a connection may go without sending
// anything before the periodic worker inserts a KeepAlivePacket.
const keepaliveInterval = time.Second

// endpointConn is everything an Endpoint tracks about one live connection:
// the connection state machine plus the address packets for it go to.
type endpointConn struct {
	conn *Connection
	addr net.Addr
}

// Endpoint is a single UDP socket multiplexing many SRT connections,
// generalizing the teacher's one-socket-per-multiplexer model
// (udt/multiplexer.go) to SRT's wire layout, where many connections share
// one local port and are told apart by destination socket id rather than
// by each getting its own PacketConn.
type Endpoint struct {
	pc  net.PacketConn
	cfg *Config
	clk clock.Clock
	log *connLog

	mu       sync.Mutex
	conns    map[uint32]*endpointConn
	pending  map[uint32]chan *packet.HandshakePacket // localSockID -> awaiting Dial, before a Connection exists
	listener *Listener
	closing  bool

	done  chan struct{}
	sched *clock.Scheduler // send-pacing heap (spec §4.10)
}

// NewEndpoint wraps pc — typically a *net.UDPConn — with the send worker,
// receive dispatcher, and periodic timer stream spec §4.9-§4.11 describe.
// It starts the endpoint's three background workers immediately.
func NewEndpoint(pc net.PacketConn, cfg *Config, clk clock.Clock) *Endpoint {
	e := &Endpoint{
		pc:    pc,
		cfg:   cfg,
		clk:   clk,
		log:   &connLog{traceID: "endpoint"},
		conns: make(map[uint32]*endpointConn),
		done:  make(chan struct{}),
		sched: clock.NewScheduler(),
	}
	go e.goReceive()
	go e.goTransmit()
	go e.goPeriodic()
	return e
}

// Close stops the background workers and closes the underlying socket.
// Connections already attached are left in whatever state they were in;
// callers should Shutdown them first if a clean SRT close is wanted.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.closing {
		e.mu.Unlock()
		return nil
	}
	e.closing = true
	e.mu.Unlock()
	close(e.done)
	return e.pc.Close()
}

func (e *Endpoint) attach(localSockID uint32, c *Connection, addr net.Addr) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.conns[localSockID] = &endpointConn{conn: c, addr: addr}
	e.sched.Arm(localSockID, e.clk.Now())
}

func (e *Endpoint) detach(localSockID uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.conns, localSockID)
	e.sched.Disarm(localSockID)
}

func (e *Endpoint) setListener(l *Listener) {
	e.mu.Lock()
	e.listener = l
	e.mu.Unlock()
}

// registerPending reserves localSockID for an in-progress Dial: caretaker
// and conclusion replies addressed to it arrive before any Connection
// exists to route them to, so they are delivered on a channel instead.
func (e *Endpoint) registerPending(localSockID uint32) <-chan *packet.HandshakePacket {
	ch := make(chan *packet.HandshakePacket, 4)
	e.mu.Lock()
	if e.pending == nil {
		e.pending = make(map[uint32]chan *packet.HandshakePacket)
	}
	e.pending[localSockID] = ch
	e.mu.Unlock()
	return ch
}

func (e *Endpoint) unregisterPending(localSockID uint32) {
	e.mu.Lock()
	delete(e.pending, localSockID)
	e.mu.Unlock()
}

// send encodes p, stamping destSockID and the current timestamp, and
// writes it to addr.
func (e *Endpoint) send(destSockID uint32, addr net.Addr, p packet.Packet) error {
	p.SetHeader(destSockID, uint32(e.clk.Now().UnixMicro()))
	buf := make([]byte, e.cfg.MSS)
	n, err := p.WriteTo(buf)
	if err != nil {
		return fmt.Errorf("srt: encoding packet to %v: %w", addr, err)
	}
	if _, err := e.pc.WriteTo(buf[:n], addr); err != nil {
		return fmt.Errorf("srt: writing to %v: %w", addr, err)
	}
	return nil
}

// goReceive is the endpoint's single receive worker (spec §5): it reads
// datagrams and demultiplexes each by destination socket id (spec §4.11).
func (e *Endpoint) goReceive() {
	buf := make([]byte, 65536)
	for {
		n, addr, err := e.pc.ReadFrom(buf)
		if err != nil {
			select {
			case <-e.done:
				return
			default:
			}
			e.log.Printf("read error: %v", err)
			return
		}
		raw := append([]byte(nil), buf[:n]...)
		p, err := packet.Decode(raw)
		if err != nil {
			e.log.Printf("decode error from %v: %v", addr, err)
			continue
		}
		e.dispatch(p, addr)
	}
}

// dispatch routes a decoded packet by destination socket id: 0 means a
// handshake addressed to whatever listener is attached, an unknown
// non-zero id is logged and discarded, and an address mismatch against
// the known peer is discarded without rebinding the connection (spec
// §4.11 — SRT does not follow a connection to a new source address).
func (e *Endpoint) dispatch(p packet.Packet, addr net.Addr) {
	destID := p.DestSockID()
	if destID == 0 {
		hs, ok := p.(*packet.HandshakePacket)
		if !ok {
			e.log.Printf("non-handshake packet with destination socket 0 from %v", addr)
			return
		}
		e.mu.Lock()
		l := e.listener
		e.mu.Unlock()
		if l == nil {
			e.log.Printf("handshake from %v with no listener attached, discarding", addr)
			return
		}
		l.onHandshake(hs, addr)
		return
	}

	e.mu.Lock()
	ec, ok := e.conns[destID]
	var pendingCh chan *packet.HandshakePacket
	if !ok {
		pendingCh = e.pending[destID]
	}
	e.mu.Unlock()
	if !ok {
		if pendingCh != nil {
			if hs, isHS := p.(*packet.HandshakePacket); isHS {
				select {
				case pendingCh <- hs:
				default:
				}
				return
			}
		}
		e.log.Printf("unknown destination socket %d from %v, discarding", destID, addr)
		return
	}
	if ec.addr.String() != addr.String() {
		e.log.Printf("peer address mismatch for socket %d: got %v, want %v, discarding", destID, addr, ec.addr)
		return
	}
	e.onConnPacket(ec, p)
}

// onConnPacket applies an already-routed packet to its connection,
// reacting with whatever immediate feedback the protocol requires
// (ACKACK for a full ACK, a NAK for a freshly observed loss range).
func (e *Endpoint) onConnPacket(ec *endpointConn, p packet.Packet) {
	c := ec.conn
	switch pk := p.(type) {
	case *packet.DataPacket:
		lossFrom, lossTo, haveLoss, _ := c.OnDataArrival(pk)
		if haveLoss {
			ranges := [][2]packet.SeqNo{{lossFrom, lossTo}}
			if err := e.send(c.RemoteSockID(), ec.addr, &packet.NakPacket{CompressedLoss: packet.EncodeLossRanges(ranges)}); err != nil {
				e.log.Printf("%v", err)
			}
		}
	case *packet.AckPacket:
		c.OnAckFromPeer(pk.NextExpected, time.Duration(pk.RTT)*time.Microsecond, time.Duration(pk.RTTVar)*time.Microsecond)
		if err := e.send(c.RemoteSockID(), ec.addr, &packet.AckAckPacket{AckSeqNo: pk.AckSeqNo}); err != nil {
			e.log.Printf("%v", err)
		}
		e.sched.Arm(c.LocalSockID(), e.clk.Now())
	case *packet.LightAckPacket:
		c.OnAckFromPeer(pk.NextExpected, c.AckRTT(), c.AckRTTVar())
	case *packet.NakPacket:
		ranges, err := packet.DecodeLossRanges(pk.CompressedLoss)
		if err != nil {
			e.log.Printf("malformed nak from socket %d: %v", c.LocalSockID(), err)
			return
		}
		c.OnNakFromPeer(ranges)
		e.sched.Arm(c.LocalSockID(), e.clk.Now())
	case *packet.AckAckPacket:
		c.OnAckAck(pk.AckSeqNo, pk.Timestamp())
	case *packet.KeepAlivePacket:
		c.Touch(e.clk.Now())
	case *packet.ShutdownPacket:
		c.MarkBroken()
	case *packet.DropReqPacket:
		c.OnDropReq(pk.FirstSeq, pk.LastSeq)
	default:
		e.log.Printf("socket %d: unhandled packet type %T", c.LocalSockID(), p)
	}
}

// goTransmit is the endpoint's single send worker (spec §5): it services
// the pacing heap in deadline order (FIFO on ties), sending at most one
// packet per connection per wake and re-arming that connection at its
// next pacing interval.
func (e *Endpoint) goTransmit() {
	for {
		e.sched.Wait(e.clk, e.done)
		select {
		case <-e.done:
			return
		default:
		}
		key, ok := e.sched.Pop()
		if !ok {
			continue
		}
		sockID := key.(uint32)
		e.mu.Lock()
		ec, ok := e.conns[sockID]
		e.mu.Unlock()
		if !ok {
			continue
		}
		e.transmitOne(ec)
	}
}

func (e *Endpoint) transmitOne(ec *endpointConn) {
	c := ec.conn
	now := e.clk.Now()

	if entry, isResend, ok := c.NextToSend(now); ok {
		dp := &packet.DataPacket{
			Seq:        entry.seq,
			Boundary:   entry.boundary,
			InOrder:    entry.inOrder,
			MsgNo:      entry.msgNo,
			Retransmit: isResend,
			Data:       entry.data,
		}
		if err := e.send(c.RemoteSockID(), ec.addr, dp); err != nil {
			e.log.Printf("%v", err)
		} else {
			c.MarkSent(now)
		}
	}

	for _, dr := range c.DropExpired() {
		req := &packet.DropReqPacket{MsgNo: dr.msgNo, FirstSeq: dr.firstSeq, LastSeq: dr.lastSeq}
		if err := e.send(c.RemoteSockID(), ec.addr, req); err != nil {
			e.log.Printf("%v", err)
		}
	}

	period := c.CongSendPeriod()
	if period <= 0 {
		period = time.Millisecond
	}
	e.sched.Arm(c.LocalSockID(), now.Add(period))
}

// goPeriodic drives the receive-side timer stream (spec §4.9): full ACK
// cadence, due NAK resends, keepalive, and the peer idle break-check,
// swept across every live connection on a fixed tick. A connection found
// BROKEN or CLOSING is retired to CLOSED and detached (spec §5's
// background GC) rather than getting its own heap entry for this —
// the sweep is cheap enough at realistic connection counts that a
// second scheduler would only add bookkeeping.
func (e *Endpoint) goPeriodic() {
	const tick = 10 * time.Millisecond
	for {
		select {
		case <-e.clk.After(tick):
		case <-e.done:
			return
		}
		e.mu.Lock()
		snapshot := make([]*endpointConn, 0, len(e.conns))
		for _, ec := range e.conns {
			snapshot = append(snapshot, ec)
		}
		e.mu.Unlock()

		now := e.clk.Now()
		for _, ec := range snapshot {
			e.serviceConn(ec, now)
		}
	}
}

func (e *Endpoint) serviceConn(ec *endpointConn, now time.Time) {
	c := ec.conn

	switch c.State() {
	case StateBroken, StateClosing:
		_ = e.send(c.RemoteSockID(), ec.addr, &packet.ShutdownPacket{})
		c.setState(StateClosed)
		e.detach(c.LocalSockID())
		return
	case StateClosed, StateNonexist:
		return
	}

	if ackSeqNo, nextExpected, rtt, rttVar, ok := c.BuildFullAck(); ok {
		ack := &packet.AckPacket{
			AckSeqNo:     ackSeqNo,
			NextExpected: nextExpected,
			RTT:          uint32(rtt / time.Microsecond),
			RTTVar:       uint32(rttVar / time.Microsecond),
			AvailBufPkts: uint32(e.cfg.FlightFlagSize),
		}
		if err := e.send(c.RemoteSockID(), ec.addr, ack); err != nil {
			e.log.Printf("%v", err)
		}
	}

	if due := c.DueNaks(); len(due) > 0 {
		ranges := make([][2]packet.SeqNo, len(due))
		for i, d := range due {
			ranges[i] = [2]packet.SeqNo{d.from, d.to}
		}
		nak := &packet.NakPacket{CompressedLoss: packet.EncodeLossRanges(ranges)}
		if err := e.send(c.RemoteSockID(), ec.addr, nak); err != nil {
			e.log.Printf("%v", err)
		}
	}

	if c.TimeSinceSend(now) > keepaliveInterval {
		if err := e.send(c.RemoteSockID(), ec.addr, &packet.KeepAlivePacket{}); err != nil {
			e.log.Printf("%v", err)
		}
		c.MarkSent(now)
	}

	if c.IdleFor(now) > e.cfg.PeerIdleTimeout {
		c.MarkBroken()
	}
}

// randUint32 draws a socket id / initial sequence seed, matching the
// teacher's rand.Uint32() in multiplexer.go's newSocket.
func randUint32() uint32 { return rand.Uint32() }
