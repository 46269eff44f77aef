package srt

import (
	"github.com/maxsharabayko/srt/packet"
)

// InsertResult is the outcome of recvBuffer.Insert (spec §4.4).
type InsertResult int

const (
	ResultOK InsertResult = iota
	ResultDuplicate
	ResultBeforeAck
	ResultOverflow
)

func (r InsertResult) String() string {
	switch r {
	case ResultOK:
		return "OK"
	case ResultDuplicate:
		return "DUPLICATE"
	case ResultBeforeAck:
		return "BEFORE_ACK"
	case ResultOverflow:
		return "OVERFLOW"
	default:
		return "UNKNOWN"
	}
}

// recvSlot is a Receive Buffer slot (spec §3). Slot state (free, good,
// passack, dropped) is derived on the fly from its presence in bySeq
// plus its position relative to lastAckSeq/startSeq, rather than
// stored explicitly — the three are equivalent and deriving it avoids
// a second source of truth that insert/ack/drop would all need to
// keep in lockstep.
type recvSlot struct {
	seq      packet.SeqNo
	msgNo    packet.MsgNo
	boundary packet.PacketBoundary
	inOrder  bool
	tsUs     uint32
	carry    int64 // baseWrapCarry in effect when the slot was inserted
	payload  []byte
}

// recvBuffer is the circular reassembly ring described in spec §4.4.
// Grounded conceptually on the teacher's receive-side bookkeeping in
// udtsocket_recv.go (a sorted/keyed store of arrived-but-unread
// packets gated by an ack boundary), generalized with SRT's TsbPd
// readability rule. Slots are tracked by sequence number in a map
// rather than literal modulo-capacity array indexing: SeqNo already
// carries correct 31-bit wraparound comparisons (packet/seq.go), so
// reimplementing a second modulo space on top of it would only
// duplicate that logic, not add fidelity to spec §3's invariants,
// which are all stated in terms of sequence ranges.
type recvBuffer struct {
	bySeq    map[packet.SeqNo]*recvSlot
	capacity int

	startSeq   packet.SeqNo // rcvStartSeqNo: next sequence the app hasn't read
	lastAckSeq packet.SeqNo // rcvLastAckSeqNo: everything before this is acknowledged
	highestSeq packet.SeqNo
	haveAny    bool

	tsbpdMode    bool
	tsbpdDelayUs int64
	peerStartUs  int64
	tooLateDrop  bool

	baseWrapCarry int64 // committed 2^32us wrap carryover (drift.go)
	drift         int64 // signed drift adjustment in µs (drift.go)
	wrap          tsWrapTracker
}

func newRecvBuffer(capacity int, startSeq packet.SeqNo, tsbpdMode bool, tsbpdDelayUs, peerStartUs int64, tooLateDrop bool) *recvBuffer {
	return &recvBuffer{
		bySeq:        make(map[packet.SeqNo]*recvSlot),
		capacity:     capacity,
		startSeq:     startSeq,
		lastAckSeq:   startSeq,
		highestSeq:   startSeq.Decr(),
		tsbpdMode:    tsbpdMode,
		tsbpdDelayUs: tsbpdDelayUs,
		peerStartUs:  peerStartUs,
		tooLateDrop:  tooLateDrop,
	}
}

func (r *recvBuffer) Insert(seq packet.SeqNo, msgNo packet.MsgNo, boundary packet.PacketBoundary, inOrder bool, tsUs uint32, payload []byte) InsertResult {
	r.baseWrapCarry = r.wrap.Observe(tsUs)
	if seq.Before(r.lastAckSeq) {
		return ResultBeforeAck
	}
	if _, ok := r.bySeq[seq]; ok {
		return ResultDuplicate
	}
	offset := seq.Diff(r.startSeq)
	if offset < 0 {
		return ResultBeforeAck
	}
	if int(offset) >= r.capacity {
		return ResultOverflow
	}
	r.bySeq[seq] = &recvSlot{seq: seq, msgNo: msgNo, boundary: boundary, inOrder: inOrder, tsUs: tsUs, carry: r.baseWrapCarry, payload: payload}
	if !r.haveAny || seq.After(r.highestSeq) {
		r.highestSeq = seq
		r.haveAny = true
	}
	return ResultOK
}

// Ack advances rcvLastAckPos to seq (the next-expected sequence,
// matching packet.AckPacket.NextExpected's convention), returning the
// count and bytes of entries newly covered that are actually present.
func (r *recvBuffer) Ack(seq packet.SeqNo) (count int, bytes int) {
	if !seq.After(r.lastAckSeq) {
		return 0, 0
	}
	for s := r.lastAckSeq; s.Before(seq); s = s.Incr() {
		if slot, ok := r.bySeq[s]; ok {
			count++
			bytes += len(slot.payload)
		}
	}
	r.lastAckSeq = seq
	return count, bytes
}

// DropMissing forcibly advances startSeq (and lastAckSeq, if behind)
// to seq, discarding whatever slots existed below it.
func (r *recvBuffer) DropMissing(seq packet.SeqNo) {
	for s := r.startSeq; s.Before(seq); s = s.Incr() {
		delete(r.bySeq, s)
	}
	r.startSeq = seq
	if r.lastAckSeq.Before(seq) {
		r.lastAckSeq = seq
	}
}

// CanAck reports whether the front of the window is present, i.e.
// whether an ACK could usefully advance past it.
func (r *recvBuffer) CanAck() bool {
	_, ok := r.bySeq[r.startSeq]
	return ok
}

// tsbpdTime computes the playback deadline for a slot (spec §4.4/§4.5):
// peer_start_time + base_wrap_carry + timestamp + tsbpd_delay + drift,
// where base_wrap_carry is the carry recorded with the slot at insert, so
// a packet stamped before a wrap keeps its time after the carry commits.
func (r *recvBuffer) tsbpdTime(s *recvSlot) int64 {
	return r.peerStartUs + s.carry + int64(s.tsUs) + r.tsbpdDelayUs + r.drift
}

// messageSpan looks for a complete message starting at from, returning
// its last sequence number if every intervening packet is present.
func (r *recvBuffer) messageSpan(from packet.SeqNo) (last packet.SeqNo, complete bool, first *recvSlot) {
	head, ok := r.bySeq[from]
	if !ok {
		return 0, false, nil
	}
	switch head.boundary {
	case packet.PbSolo:
		return from, true, head
	case packet.PbFirst:
		seq := from
		for {
			seq = seq.Incr()
			s, ok := r.bySeq[seq]
			if !ok || s.msgNo != head.msgNo {
				return 0, false, head
			}
			if s.boundary == packet.PbLast {
				return seq, true, head
			}
			if s.boundary != packet.PbMiddle {
				return 0, false, head
			}
		}
	default:
		return 0, false, head
	}
}

// CanRead reports whether a complete message is ready for the
// application at the given local time (spec §4.4's readability rule).
func (r *recvBuffer) CanRead(nowUs int64) bool {
	last, complete, first := r.messageSpan(r.startSeq)
	if !complete {
		return false
	}
	if first.inOrder && last.AfterEq(r.lastAckSeq) {
		return false
	}
	if r.tsbpdMode && nowUs < r.tsbpdTime(first) {
		return false
	}
	return true
}

// ReadMessage pops the ready message at the front and returns its
// concatenated payload. Callers must check CanRead first.
func (r *recvBuffer) ReadMessage() ([]byte, bool) {
	last, complete, _ := r.messageSpan(r.startSeq)
	if !complete {
		return nil, false
	}
	var out []byte
	for s := r.startSeq; ; s = s.Incr() {
		slot := r.bySeq[s]
		out = append(out, slot.payload...)
		delete(r.bySeq, s)
		if s == last {
			break
		}
	}
	r.startSeq = last.Incr()
	if r.lastAckSeq.Before(r.startSeq) {
		r.lastAckSeq = r.startSeq
	}
	return out, true
}

// packetInfo answers first_valid_packet_info (spec §4.4).
type packetInfo struct {
	Seq          packet.SeqNo
	Acknowledged bool
	SeqGap       int32
	TsbPdTimeUs  int64
	Present      bool
}

func (r *recvBuffer) FirstValidPacketInfo() packetInfo {
	if slot, ok := r.bySeq[r.startSeq]; ok {
		return packetInfo{
			Seq:          r.startSeq,
			Acknowledged: r.startSeq.Before(r.lastAckSeq),
			SeqGap:       0,
			TsbPdTimeUs:  r.tsbpdTime(slot),
			Present:      true,
		}
	}
	// find the next present slot to report the gap size
	for s := r.startSeq.Incr(); !s.After(r.highestSeq); s = s.Incr() {
		if slot, ok := r.bySeq[s]; ok {
			return packetInfo{
				Seq:          s,
				Acknowledged: s.Before(r.lastAckSeq),
				SeqGap:       s.Diff(r.startSeq),
				TsbPdTimeUs:  r.tsbpdTime(slot),
				Present:      false,
			}
		}
	}
	return packetInfo{Seq: r.startSeq, Present: false}
}

// UpdateState executes the too-late drop (spec §4.4): when enabled,
// there's nothing readable, the front slot is missing, and the first
// present slot beyond the gap has an elapsed TsbPd deadline, drop up
// to that slot and acknowledge it.
func (r *recvBuffer) UpdateState(nowUs int64) {
	if !r.tooLateDrop || r.CanAck() {
		return
	}
	for s := r.startSeq.Incr(); !s.After(r.highestSeq); s = s.Incr() {
		slot, ok := r.bySeq[s]
		if !ok {
			continue
		}
		if r.tsbpdTime(slot) <= nowUs {
			r.DropMissing(s)
			r.Ack(s)
		}
		return
	}
}
