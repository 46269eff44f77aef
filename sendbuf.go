package srt

import (
	"fmt"
	"time"

	"github.com/maxsharabayko/srt/packet"
)

// sendEntry is a Send Buffer entry (spec §3): the payload plus enough
// metadata to retransmit it or decide it has expired.
type sendEntry struct {
	seq             packet.SeqNo
	msgNo           packet.MsgNo
	boundary        packet.PacketBoundary
	inOrder         bool
	data            []byte
	originTime      time.Time
	lastSendTime    time.Time
	retransmitCount int
}

const maxRexmit = 24 // generous ceiling; real deployments bound by conn timeout first

// sendBuffer is the ordered store of outgoing payloads described in
// spec §4.3. Grounded on udtsocket_send.go's sendPktPend heap, but kept
// as a plain FIFO slice rather than a heap: spec §4.3's invariant that
// "entries are appended in strictly monotone sequence order; eviction
// is strictly from the head" makes a heap unnecessary — a slice used
// as a ring/queue is both simpler and sufficient.
type sendBuffer struct {
	entries    []*sendEntry
	byIdx      map[packet.SeqNo]int // seq -> index into entries, for peekForSend/drop
	capacity   int                  // max bytes held
	curBytes   int
	live       bool
	tsbpdDelay time.Duration
}

func newSendBuffer(capacityBytes int, live bool, tsbpdDelay time.Duration) *sendBuffer {
	return &sendBuffer{
		byIdx:      make(map[packet.SeqNo]int),
		capacity:   capacityBytes,
		live:       live,
		tsbpdDelay: tsbpdDelay,
	}
}

// Add appends a new payload at seq. Returns ErrBufferFull if capacity
// would be exceeded.
func (b *sendBuffer) Add(seq packet.SeqNo, msgNo packet.MsgNo, boundary packet.PacketBoundary, inOrder bool, data []byte, now time.Time) error {
	if b.curBytes+len(data) > b.capacity {
		return ErrBufferFull
	}
	e := &sendEntry{
		seq:          seq,
		msgNo:        msgNo,
		boundary:     boundary,
		inOrder:      inOrder,
		data:         data,
		originTime:   now,
		lastSendTime: now,
	}
	b.byIdx[seq] = len(b.entries)
	b.entries = append(b.entries, e)
	b.curBytes += len(data)
	return nil
}

// PeekForSend returns the entry at seq for (re)transmission, bumping
// its retransmit bookkeeping when isResend is true.
func (b *sendBuffer) PeekForSend(seq packet.SeqNo, now time.Time, isResend bool) (*sendEntry, bool) {
	idx, ok := b.byIdx[seq]
	if !ok {
		return nil, false
	}
	e := b.entries[idx]
	if isResend {
		e.retransmitCount++
	}
	e.lastSendTime = now
	return e, true
}

// CanRetransmit reports whether seq is still eligible for resend.
func (b *sendBuffer) CanRetransmit(seq packet.SeqNo) bool {
	idx, ok := b.byIdx[seq]
	if !ok {
		return false
	}
	return b.entries[idx].retransmitCount < maxRexmit
}

// AckUpTo evicts every entry with seq <= ackSeq from the head, per
// spec §4.3 "eviction is strictly from the head". Returns the count and
// byte total evicted.
func (b *sendBuffer) AckUpTo(ackSeq packet.SeqNo) (count int, bytes int) {
	i := 0
	for i < len(b.entries) && !b.entries[i].seq.After(ackSeq) {
		bytes += len(b.entries[i].data)
		delete(b.byIdx, b.entries[i].seq)
		i++
	}
	count = i
	b.curBytes -= bytes
	b.entries = b.entries[i:]
	for seq, idx := range b.byIdx {
		b.byIdx[seq] = idx - i
	}
	return count, bytes
}

// droppedRange reports a live-mode expiry (spec §4.3's drop_expired).
type droppedRange struct {
	msgNo      packet.MsgNo
	firstSeq   packet.SeqNo
	lastSeq    packet.SeqNo
}

// DropExpired scans from the head for entries whose TsbPd deadline
// (origin_time + tsbpd_delay + slack) has elapsed, removing them and
// reporting the message-number ranges a DROPREQ should name. Live
// mode only, per spec §4.3.
func (b *sendBuffer) DropExpired(now time.Time) []droppedRange {
	if !b.live {
		return nil
	}
	const slack = 10 * time.Millisecond // MSG_LATENCY_SLACK
	var dropped []droppedRange
	i := 0
	for i < len(b.entries) {
		e := b.entries[i]
		deadline := e.originTime.Add(b.tsbpdDelay + slack)
		if now.Before(deadline) {
			break
		}
		first, last := e.seq, e.seq
		msgNo := e.msgNo
		j := i
		for j < len(b.entries) && b.entries[j].msgNo == msgNo {
			last = b.entries[j].seq
			delete(b.byIdx, b.entries[j].seq)
			b.curBytes -= len(b.entries[j].data)
			j++
		}
		dropped = append(dropped, droppedRange{msgNo: msgNo, firstSeq: first, lastSeq: last})
		i = j
	}
	if i > 0 {
		b.entries = b.entries[i:]
		for seq, idx := range b.byIdx {
			b.byIdx[seq] = idx - i
		}
	}
	return dropped
}

// Len reports the number of outstanding entries (for flow-window math).
func (b *sendBuffer) Len() int { return len(b.entries) }

func (b *sendBuffer) String() string {
	return fmt.Sprintf("sendBuffer{entries=%d bytes=%d/%d}", len(b.entries), b.curBytes, b.capacity)
}
