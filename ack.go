package srt

import (
	"time"

	"github.com/maxsharabayko/srt/packet"
)

const (
	ackInterval         = 10 * time.Millisecond
	ackPktInterval      = 64
	defaultReorderMax   = 100
	initialReorderTol   = 0
)

// rttEstimator implements the EWMA RTT filter of spec §4.6:
// rtt ← 7/8·rtt + 1/8·sample, rttvar ← 3/4·rttvar + 1/4·|rtt−sample|,
// grounded on the teacher's connection RTT smoothing in udtsocket_recv.go.
type rttEstimator struct {
	have   bool
	rtt    time.Duration
	rttVar time.Duration
}

func (e *rttEstimator) Sample(sample time.Duration) {
	if !e.have {
		e.rtt = sample
		e.rttVar = sample / 2
		e.have = true
		return
	}
	diff := e.rtt - sample
	if diff < 0 {
		diff = -diff
	}
	e.rttVar = (3*e.rttVar + diff) / 4
	e.rtt = (7*e.rtt + sample) / 8
}

func (e *rttEstimator) RTT() time.Duration {
	if !e.have {
		return 100 * time.Millisecond // SRT's bootstrap default
	}
	return e.rtt
}

func (e *rttEstimator) RTTVar() time.Duration {
	if !e.have {
		return 50 * time.Millisecond
	}
	return e.rttVar
}

// reorderTolerance implements spec §4.6's additive-growth rule (an
// explicit Open Question decision, see DESIGN.md): the tolerance
// window grows by one packet on every arrival behind the highest
// sequence seen so far, capped at a configurable maximum,
// and never shrinks on its own (a loss event that genuinely exceeds it
// is the only thing that forces a NAK regardless of tolerance).
type reorderTolerance struct {
	window int
	max    int
}

func newReorderTolerance(max int) *reorderTolerance {
	if max <= 0 {
		max = defaultReorderMax
	}
	return &reorderTolerance{window: initialReorderTol, max: max}
}

// Grow bumps the tolerance window by one packet, capped at max.
func (r *reorderTolerance) Grow() {
	if r.window < r.max {
		r.window++
	}
}

// Covers reports whether a gap of the given length (in packets) should
// be tolerated as reordering rather than immediately NAKed.
func (r *reorderTolerance) Covers(gap int32) bool {
	return int(gap) <= r.window
}

// ackEngine drives a receiver's ACK/NAK/ACKACK cadence (spec §4.6): it
// decides when a full ACK is due, assigns each ACK a correlation
// number for the peer's ACKACK, estimates RTT from ACKACK round trips,
// and classifies arrivals as in-order, tolerable reordering, or a real
// loss event. Grounded on the teacher's udtsocket_recv.go ACK-timer
// and rtt-update logic, generalized with SRT's NAK/reorder-tolerance
// additions (UDT has neither).
type ackEngine struct {
	rtt rttEstimator
	tol *reorderTolerance

	lastFullAck  time.Time
	pktsSinceAck int

	nextAckSeqNo uint32
	pending      map[uint32]time.Time // ack seqno -> send time, for ACKACK RTT sampling

	highestSeen packet.SeqNo
	haveHighest bool
}

func newAckEngine(maxReorder int) *ackEngine {
	return &ackEngine{
		tol:     newReorderTolerance(maxReorder),
		pending: make(map[uint32]time.Time),
	}
}

// OnDataArrival classifies one arriving data-packet sequence number
// against the highest sequence seen so far, returning the inclusive
// loss range to report (zero-length if none) and whether the arrival
// was itself in order.
func (e *ackEngine) OnDataArrival(seq packet.SeqNo) (lossFrom, lossTo packet.SeqNo, haveLoss bool, inOrder bool) {
	if !e.haveHighest {
		e.highestSeen = seq
		e.haveHighest = true
		return 0, 0, false, true
	}
	switch {
	case seq == e.highestSeen.Incr():
		e.highestSeen = seq
		return 0, 0, false, true
	case seq.After(e.highestSeen):
		gap := seq.Diff(e.highestSeen) - 1
		from := e.highestSeen.Incr()
		to := seq.Decr()
		e.highestSeen = seq
		if e.tol.Covers(gap) {
			return 0, 0, false, false
		}
		return from, to, true, false
	default:
		// arrived behind the high-water mark: reordering, not new loss.
		e.tol.Grow()
		return 0, 0, false, false
	}
}

// ShouldSendFullAck reports whether enough time or enough packets have
// elapsed since the last full ACK (spec §4.6: every ACK_INTERVAL or
// every ACK_PKT_INTERVAL packets, whichever comes first).
func (e *ackEngine) ShouldSendFullAck(now time.Time) bool {
	if e.lastFullAck.IsZero() {
		return true
	}
	return now.Sub(e.lastFullAck) >= ackInterval || e.pktsSinceAck >= ackPktInterval
}

// OnDataDelivered bumps the packet counter used for ACK_PKT_INTERVAL.
func (e *ackEngine) OnDataDelivered() {
	e.pktsSinceAck++
}

// NextFullAck allocates a correlation number for a full ACK sent now,
// recording its send time for the eventual ACKACK RTT sample.
func (e *ackEngine) NextFullAck(now time.Time) uint32 {
	e.nextAckSeqNo++
	e.pending[e.nextAckSeqNo] = now
	e.lastFullAck = now
	e.pktsSinceAck = 0
	return e.nextAckSeqNo
}

// OnAckAck consumes the correlation number carried by an ACKACK and
// feeds the resulting round-trip sample into the RTT estimator.
func (e *ackEngine) OnAckAck(ackSeqNo uint32, now time.Time) {
	sentAt, ok := e.pending[ackSeqNo]
	if !ok {
		return
	}
	delete(e.pending, ackSeqNo)
	e.rtt.Sample(now.Sub(sentAt))
}

// RTT and RTTVar expose the current smoothed estimates.
func (e *ackEngine) RTT() time.Duration    { return e.rtt.RTT() }
func (e *ackEngine) RTTVar() time.Duration { return e.rtt.RTTVar() }
