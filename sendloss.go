package srt

import (
	"sort"

	"github.com/maxsharabayko/srt/packet"
)

// lossRange is an inclusive ascending sequence range, per spec §3's
// Loss entry type. The sender loss list is kept as a sorted slice of
// disjoint ranges rather than UDT's per-sequence packetIDHeap
// (udt/packetid_heap.go) — SRT's NAKs already arrive range-compressed
// (packet/nak.go), so storing ranges directly avoids re-expanding them
// into one entry per sequence the way UDT's heap does.
type lossRange struct {
	from, to packet.SeqNo
}

// senderLossList is the sender-side mirror of receiver NAKs: sequences
// reported lost that still need retransmission.
type senderLossList struct {
	ranges []lossRange
}

// Add merges a newly reported lost range into the list, coalescing
// with adjacent or overlapping ranges so lookups stay O(log n).
func (l *senderLossList) Add(from, to packet.SeqNo) {
	l.ranges = append(l.ranges, lossRange{from, to})
	sort.Slice(l.ranges, func(i, j int) bool {
		return l.ranges[i].from.Before(l.ranges[j].from)
	})
	merged := l.ranges[:0]
	for _, r := range l.ranges {
		if len(merged) > 0 {
			last := &merged[len(merged)-1]
			if !r.from.After(last.to.Incr()) {
				if r.to.After(last.to) {
					last.to = r.to
				}
				continue
			}
		}
		merged = append(merged, r)
	}
	l.ranges = merged
}

// Empty reports whether any loss remains outstanding.
func (l *senderLossList) Empty() bool { return len(l.ranges) == 0 }

// PopLowest removes and returns the lowest outstanding sequence,
// shrinking its range (or dropping it if now empty). Used by the send
// loop's "retransmit before new data" rule (spec §4.3 step 1).
func (l *senderLossList) PopLowest() (packet.SeqNo, bool) {
	if len(l.ranges) == 0 {
		return 0, false
	}
	r := &l.ranges[0]
	seq := r.from
	if r.from == r.to {
		l.ranges = l.ranges[1:]
	} else {
		r.from = r.from.Incr()
	}
	return seq, true
}

// RemoveAckedUpTo drops any outstanding loss entries at or before seq,
// called when an ACK advances past them (they must have been received
// after all, or the loss report is now moot).
func (l *senderLossList) RemoveAckedUpTo(seq packet.SeqNo) {
	var kept []lossRange
	for _, r := range l.ranges {
		if !r.to.After(seq) {
			continue // entirely acked away
		}
		if r.from.AfterEq(seq.Incr()) {
			kept = append(kept, r)
			continue
		}
		kept = append(kept, lossRange{seq.Incr(), r.to})
	}
	l.ranges = kept
}

// Ranges exposes a snapshot for inspection (tests, ACK-engine NAK reuse).
func (l *senderLossList) Ranges() []lossRange {
	out := make([]lossRange, len(l.ranges))
	copy(out, l.ranges)
	return out
}
