package srt

import (
	"sort"
	"time"

	"github.com/maxsharabayko/srt/packet"
)

// recvLossEntry is the receiver-side mirror of sendloss.go's
// lossRange, carrying the NAK-resend bookkeeping spec §4.6 names
// (feedback_count and a resend deadline).
type recvLossEntry struct {
	from, to      packet.SeqNo
	feedbackCount int
	deadline      time.Time
}

const minNakInterval = 20 * time.Millisecond

// receiverLossList tracks gaps in the arrival sequence (spec §4.6).
type receiverLossList struct {
	entries []*recvLossEntry
}

// Add records a newly observed gap [from, to] and schedules its first
// NAK-resend deadline.
func (l *receiverLossList) Add(from, to packet.SeqNo, now time.Time, rtt, rttVar time.Duration) *recvLossEntry {
	e := &recvLossEntry{from: from, to: to, deadline: now.Add(nakDeadline(rtt, rttVar))}
	l.entries = append(l.entries, e)
	sort.Slice(l.entries, func(i, j int) bool { return l.entries[i].from.Before(l.entries[j].from) })
	return e
}

func nakDeadline(rtt, rttVar time.Duration) time.Duration {
	d := rtt + 4*rttVar
	if d < minNakInterval {
		d = minNakInterval
	}
	return d
}

// Remove clears any loss entries covering seq — a retransmit or a
// late in-order arrival filled the gap. Ranges are split/shrunk as
// needed to keep the remainder strictly ascending and disjoint.
func (l *receiverLossList) Remove(seq packet.SeqNo) {
	var kept []*recvLossEntry
	for _, e := range l.entries {
		switch {
		case seq.Before(e.from) || seq.After(e.to):
			kept = append(kept, e)
		case e.from == e.to:
			// fully consumed, drop
		case seq == e.from:
			e.from = e.from.Incr()
			kept = append(kept, e)
		case seq == e.to:
			e.to = e.to.Decr()
			kept = append(kept, e)
		default:
			kept = append(kept, &recvLossEntry{from: e.from, to: seq.Decr(), feedbackCount: e.feedbackCount, deadline: e.deadline})
			kept = append(kept, &recvLossEntry{from: seq.Incr(), to: e.to, feedbackCount: e.feedbackCount, deadline: e.deadline})
		}
	}
	l.entries = kept
}

// RemoveRange clears any loss entries overlapping [from, to] — a DROPREQ
// named exactly that range as no longer worth waiting for, so it is
// dropped (or trimmed at the edges) regardless of whether a retransmit
// ever arrives.
func (l *receiverLossList) RemoveRange(from, to packet.SeqNo) {
	var kept []*recvLossEntry
	for _, e := range l.entries {
		if to.Before(e.from) || from.After(e.to) {
			kept = append(kept, e)
			continue
		}
		if e.from.Before(from) {
			kept = append(kept, &recvLossEntry{from: e.from, to: from.Decr(), feedbackCount: e.feedbackCount, deadline: e.deadline})
		}
		if e.to.After(to) {
			kept = append(kept, &recvLossEntry{from: to.Incr(), to: e.to, feedbackCount: e.feedbackCount, deadline: e.deadline})
		}
	}
	l.entries = kept
}

// Empty reports whether any loss remains outstanding.
func (l *receiverLossList) Empty() bool { return len(l.entries) == 0 }

// DueForResend returns entries whose NAK-resend deadline has elapsed,
// bumping their feedback count and rescheduling them.
func (l *receiverLossList) DueForResend(now time.Time, rtt, rttVar time.Duration) []*recvLossEntry {
	var due []*recvLossEntry
	for _, e := range l.entries {
		if !now.Before(e.deadline) {
			e.feedbackCount++
			e.deadline = now.Add(nakDeadline(rtt, rttVar))
			due = append(due, e)
		}
	}
	return due
}

// Ranges exposes a snapshot as [from,to] pairs, e.g. for building a NAK.
func (l *receiverLossList) Ranges() [][2]packet.SeqNo {
	out := make([][2]packet.SeqNo, len(l.entries))
	for i, e := range l.entries {
		out[i] = [2]packet.SeqNo{e.from, e.to}
	}
	return out
}
