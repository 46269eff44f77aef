package srt

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maxsharabayko/srt/cc"
	"github.com/maxsharabayko/srt/clock"
	"github.com/maxsharabayko/srt/km"
	"github.com/maxsharabayko/srt/packet"
)

// State is a connection's control-state (spec §3's data model).
type State int

const (
	StateInit State = iota
	StateOpened
	StateListening
	StateConnecting
	StateConnected
	StateBroken
	StateClosing
	StateClosed
	StateNonexist
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateOpened:
		return "OPENED"
	case StateListening:
		return "LISTENING"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateBroken:
		return "BROKEN"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	case StateNonexist:
		return "NONEXIST"
	default:
		return "UNKNOWN"
	}
}

// Connection is a single SRT socket: the aggregate of the send/receive
// pipelines, loss lists, congestion controller, key material and ACK
// machinery spec §3 assigns to one connection, guarded by the four
// locks spec §5 orders as state < send < receive < ack. This mirrors
// the teacher's per-socket struct in udtsocket.go, generalized from
// UDT's single-purpose channel-actor fields to SRT's richer pipeline.
type Connection struct {
	TraceID string
	cfg     *Config
	clk     clock.Clock
	log     *connLog

	localSockID  uint32
	remoteSockID uint32
	streamID     string

	stateMu sync.Mutex
	state   State

	sendMu      sync.Mutex
	sendBuf     *sendBuffer
	sendLoss    senderLossList
	cong        cc.Controller
	sndSeq      packet.SeqNo // next sequence to assign
	nextSendSeq packet.SeqNo // next sequence the transmit scheduler has not yet sent once
	sndAckSeq   packet.SeqNo // highest sequence acknowledged by the peer

	recvMu  sync.Mutex
	recvBuf *recvBuffer

	ackMu    sync.Mutex
	recvLoss receiverLossList
	ack      *ackEngine
	drift    driftTracer
	kmMgr    *km.Manager

	lastRecvAt time.Time
	lastSendAt time.Time
}

// newConnection wires up the sub-objects shared by both handshake roles;
// callers finish construction by setting sequence numbers and state.
func newConnection(cfg *Config, clk clock.Clock, local, remote uint32, streamID string, kmMgr *km.Manager) *Connection {
	live := cfg.TransType == TransLive
	var controller cc.Controller
	switch cfg.Congestion {
	case CongestionLive:
		controller = cc.NewCopaController(clk, cfg.MSS, cfg.LatencyFactor, 16)
	default:
		controller = cc.NewFileController(clk, cfg.MSS, cfg.FlightFlagSize)
	}
	if cfg.MaxBW > 0 {
		controller.UpdateBandwidth(cfg.MaxBW, cfg.MSS)
	}
	traceID := uuid.NewString()
	return &Connection{
		TraceID:      traceID,
		cfg:          cfg,
		clk:          clk,
		log:          &connLog{traceID: traceID},
		localSockID:  local,
		remoteSockID: remote,
		streamID:     streamID,
		state:        StateOpened,
		sendBuf:      newSendBuffer(int(cfg.SendBufBytes), live, cfg.TsbPdDelay),
		cong:         controller,
		ack:          newAckEngine(defaultReorderMax),
		kmMgr:        kmMgr,
	}
}

// NewFromHandshake builds a connected Connection from a completed
// handshake exchange (either role), ready to send and receive.
func NewFromHandshake(cfg *Config, clk clock.Clock, res *HandshakeResult, kmMgr *km.Manager) *Connection {
	c := newConnection(cfg, clk, res.LocalSockID, res.RemoteSockID, res.StreamID, kmMgr)
	c.sndSeq = res.InitSeq
	c.nextSendSeq = res.InitSeq
	c.sndAckSeq = res.InitSeq
	c.recvBuf = newRecvBuffer(int(cfg.FlightFlagSize)*2, res.PeerInitSeq, cfg.TsbPdMode, int64(cfg.TsbPdDelay/time.Microsecond), int64(clk.Now().UnixMicro()), cfg.TooLatePktDrop)
	c.setState(StateConnected)
	return c
}

func (c *Connection) setState(s State) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.state = s
}

// State reports the current control-state under the state lock.
func (c *Connection) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// nowUs returns the current time as microseconds since the Unix epoch,
// the domain the receive buffer's TsbPd logic operates in.
func (c *Connection) nowUs() int64 {
	return c.clk.Now().UnixMicro()
}

// Send queues payload for transmission, assigning it the next sequence
// and message numbers (spec §4.3's add operation). It takes the send
// lock per spec §5's lock order; callers must not hold the state lock.
func (c *Connection) Send(payload []byte, msgNo packet.MsgNo, boundary packet.PacketBoundary, inOrder bool) (packet.SeqNo, error) {
	if c.State() != StateConnected {
		return 0, ErrConnectionBroken
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	seq := c.sndSeq
	if err := c.sendBuf.Add(seq, msgNo, boundary, inOrder, payload, c.clk.Now()); err != nil {
		return 0, err
	}
	c.sndSeq = c.sndSeq.Incr()
	return seq, nil
}

// PeekForSend returns the next entry to transmit at seq, for the
// transmit scheduler (spec §4.3 step 1/2).
func (c *Connection) PeekForSend(seq packet.SeqNo, isResend bool) (*sendEntry, bool) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.sendBuf.PeekForSend(seq, c.clk.Now(), isResend)
}

// NextToSend returns the next packet the transmit scheduler should put on
// the wire: a due retransmission named by the sender loss list takes
// priority over the next never-sent entry, per spec §4.3's retransmit-
// before-new ordering. Loss entries that are no longer buffered or have
// reached maxRexmit are discarded. ok is false if there is nothing ready
// to send.
func (c *Connection) NextToSend(now time.Time) (entry *sendEntry, isResend bool, ok bool) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	for {
		seq, has := c.sendLoss.PopLowest()
		if !has {
			break
		}
		if c.sendBuf.CanRetransmit(seq) {
			e, _ := c.sendBuf.PeekForSend(seq, now, true)
			return e, true, true
		}
	}
	if c.nextSendSeq == c.sndSeq {
		return nil, false, false
	}
	e, found := c.sendBuf.PeekForSend(c.nextSendSeq, now, false)
	if !found {
		return nil, false, false
	}
	c.nextSendSeq = c.nextSendSeq.Incr()
	return e, false, true
}

// MarkSent records the time a packet last left this connection, for the
// keepalive cadence (spec §4.9). Guarded by sendMu since it's read
// alongside send-side state by TimeSinceSend.
func (c *Connection) MarkSent(now time.Time) {
	c.sendMu.Lock()
	c.lastSendAt = now
	c.sendMu.Unlock()
}

// TimeSinceSend reports how long it has been since MarkSent was last
// called, for the periodic worker's keepalive check.
func (c *Connection) TimeSinceSend(now time.Time) time.Duration {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return now.Sub(c.lastSendAt)
}

// Touch records the time a packet last arrived from the peer without
// running it through the receive buffer, for keepalive/ACKACK handling.
// Guarded by recvMu alongside IdleFor/OnDataArrival's write.
func (c *Connection) Touch(now time.Time) {
	c.recvMu.Lock()
	c.lastRecvAt = now
	c.recvMu.Unlock()
}

// OnAckFromPeer applies an ACK's next-expected sequence: evicts the
// send-buffer entries before it, clears the matching sender loss range, and feeds
// the congestion controller. Takes the send lock, consistent with
// spec §5's ordering (ack-triggered work never holds the ack lock here;
// the caller already released it after decoding the ACK).
func (c *Connection) OnAckFromPeer(ackSeq packet.SeqNo, rtt, rttVar time.Duration) (evictedBytes int) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	acked := ackSeq.Decr() // ackSeq itself has not been received yet
	count, bytes := c.sendBuf.AckUpTo(acked)
	c.sendLoss.RemoveAckedUpTo(acked)
	if acked.After(c.sndAckSeq) {
		c.sndAckSeq = acked
	}
	c.cong.OnAck(cc.AckEvent{AckSeq: uint32(ackSeq), AckedPackets: count, RTT: rtt, RTTVar: rttVar})
	return bytes
}

// OnNakFromPeer records the peer's reported loss ranges in the sender
// loss list and notifies the congestion controller.
func (c *Connection) OnNakFromPeer(ranges [][2]packet.SeqNo) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	for _, r := range ranges {
		c.sendLoss.Add(r[0], r[1])
		c.cong.OnLoss(cc.LossEvent{FirstLost: uint32(r[0]), CurrSeq: uint32(c.sndSeq)})
	}
}

// OnDataArrival inserts an arriving data packet into the receive
// buffer and classifies it against the reorder/loss tracker, returning
// any new loss range that should trigger an immediate NAK (spec §4.6).
func (c *Connection) OnDataArrival(dp *packet.DataPacket) (lossFrom, lossTo packet.SeqNo, haveLoss bool, result InsertResult) {
	c.recvMu.Lock()
	result = c.recvBuf.Insert(dp.Seq, dp.MsgNo, dp.Boundary, dp.InOrder, dp.Timestamp(), dp.Data)
	c.lastRecvAt = c.clk.Now()
	c.recvMu.Unlock()

	c.ackMu.Lock()
	defer c.ackMu.Unlock()
	lossFrom, lossTo, haveLoss, _ = c.ack.OnDataArrival(dp.Seq)
	if haveLoss {
		c.recvLoss.Add(lossFrom, lossTo, c.clk.Now(), c.ack.RTT(), c.ack.RTTVar())
	} else {
		c.recvLoss.Remove(dp.Seq)
	}
	return lossFrom, lossTo, haveLoss, result
}

// OnDropReq applies a peer's DROPREQ: the sender has given up on
// [firstSeq, lastSeq] (spec §4.3/§4.4), so the receiver must stop
// waiting for it, skipping the range in its reassembly window and
// clearing any outstanding NAK bookkeeping for it rather than
// retrying it forever.
func (c *Connection) OnDropReq(firstSeq, lastSeq packet.SeqNo) {
	c.recvMu.Lock()
	c.recvBuf.DropMissing(lastSeq.Incr())
	c.recvMu.Unlock()

	c.ackMu.Lock()
	defer c.ackMu.Unlock()
	c.recvLoss.RemoveRange(firstSeq, lastSeq)
}

// BuildFullAck constructs the next full ACK if one is due, first
// advancing the receive buffer's ACK point up to the first missing
// sequence, then the ACK cadence state. Returns ok=false if no ACK is
// due yet. ackMu and recvMu are taken one at a time, never nested.
func (c *Connection) BuildFullAck() (ackSeqNo uint32, nextExpected packet.SeqNo, rtt, rttVar time.Duration, ok bool) {
	c.ackMu.Lock()
	due := c.ack.ShouldSendFullAck(c.clk.Now())
	c.ackMu.Unlock()
	if !due {
		return 0, 0, 0, 0, false
	}
	c.recvMu.Lock()
	next := c.recvBuf.lastAckSeq
	for c.recvBuf.bySeq[next] != nil {
		next = next.Incr()
	}
	c.recvBuf.Ack(next)
	c.recvMu.Unlock()

	c.ackMu.Lock()
	defer c.ackMu.Unlock()
	ackSeqNo = c.ack.NextFullAck(c.clk.Now())
	return ackSeqNo, next, c.ack.RTT(), c.ack.RTTVar(), true
}

// OnAckAck feeds an ACKACK's round-trip sample into the RTT estimator
// and, via its carried timestamp, a clock-offset sample into the drift
// tracer (spec §4.5/§9). The drift adjustment, once enough samples have
// accumulated, is applied to recvBuf separately under recvMu: ackMu is
// released first so the two locks are never held at once, the same
// non-nested crossing OnDropReq and OnDataArrival already use.
func (c *Connection) OnAckAck(ackSeqNo uint32, peerTs uint32) {
	c.ackMu.Lock()
	c.ack.OnAckAck(ackSeqNo, c.clk.Now())
	localUs := int64(uint32(c.clk.Now().UnixMicro()))
	adjust, fired := c.drift.Sample(localUs, int64(peerTs))
	c.ackMu.Unlock()

	if fired {
		c.recvMu.Lock()
		c.recvBuf.drift = adjust
		c.recvMu.Unlock()
	}
}

// AckRTT and AckRTTVar expose the RTT estimator's current estimates for
// callers outside Connection (e.g. a light ACK's reply), taking ackMu
// rather than letting a caller reach into the ack engine directly.
func (c *Connection) AckRTT() time.Duration {
	c.ackMu.Lock()
	defer c.ackMu.Unlock()
	return c.ack.RTT()
}

func (c *Connection) AckRTTVar() time.Duration {
	c.ackMu.Lock()
	defer c.ackMu.Unlock()
	return c.ack.RTTVar()
}

// CongSendPeriod exposes the congestion controller's current inter-packet
// send interval, taking sendMu rather than letting a caller reach into
// the controller directly.
func (c *Connection) CongSendPeriod() time.Duration {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.cong.PktSendPeriod()
}

// DueNaks returns receiver loss ranges whose resend deadline elapsed.
func (c *Connection) DueNaks() []*recvLossEntry {
	c.ackMu.Lock()
	defer c.ackMu.Unlock()
	return c.recvLoss.DueForResend(c.clk.Now(), c.ack.RTT(), c.ack.RTTVar())
}

// ReadMessage pops the next ready message from the receive buffer, if
// any, applying the too-late drop pass first (spec §4.4).
func (c *Connection) ReadMessage() ([]byte, bool) {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()
	c.recvBuf.UpdateState(c.nowUs())
	if !c.recvBuf.CanRead(c.nowUs()) {
		return nil, false
	}
	return c.recvBuf.ReadMessage()
}

// DropExpired evicts send-buffer entries whose TsbPd deadline elapsed
// without being delivered, returning the message ranges to DROPREQ.
func (c *Connection) DropExpired() []droppedRange {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.sendBuf.DropExpired(c.clk.Now())
}

// Shutdown transitions the connection to CLOSING, per spec §5:
// subsequent application calls observe "connection broken" rather than
// blocking forever or returning a silent zero result.
func (c *Connection) Shutdown() {
	c.setState(StateClosing)
}

// MarkBroken transitions the connection to BROKEN, e.g. after a peer
// idle timeout (spec §7's transport-runtime failure class).
func (c *Connection) MarkBroken() {
	c.setState(StateBroken)
}

// IdleFor reports how long it has been since any packet was received
// from the peer, for the connection-break check (spec §4.9).
func (c *Connection) IdleFor(now time.Time) time.Duration {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()
	if c.lastRecvAt.IsZero() {
		return 0
	}
	return now.Sub(c.lastRecvAt)
}

// Flushed reports whether every sent payload has been acknowledged, the
// condition an orderly Shutdown should wait for.
func (c *Connection) Flushed() bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.sendBuf.Len() == 0
}

// LocalSockID and RemoteSockID identify this connection for dispatch
// (spec §4.11).
func (c *Connection) LocalSockID() uint32  { return c.localSockID }
func (c *Connection) RemoteSockID() uint32 { return c.remoteSockID }
func (c *Connection) StreamID() string     { return c.streamID }
