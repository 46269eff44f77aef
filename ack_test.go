package srt

import (
	"testing"
	"time"

	"github.com/maxsharabayko/srt/packet"
)

func TestRttEstimatorConvergesTowardSample(t *testing.T) {
	var e rttEstimator
	e.Sample(100 * time.Millisecond)
	if e.RTT() != 100*time.Millisecond {
		t.Fatalf("first sample should seed rtt directly, got %v", e.RTT())
	}
	e.Sample(100 * time.Millisecond)
	if e.RTT() != 100*time.Millisecond {
		t.Fatalf("expected steady rtt to stay put, got %v", e.RTT())
	}
	e.Sample(180 * time.Millisecond)
	if e.RTT() <= 100*time.Millisecond || e.RTT() >= 180*time.Millisecond {
		t.Fatalf("expected rtt to move toward the new sample without jumping to it, got %v", e.RTT())
	}
}

func TestReorderToleranceGrowsAndCaps(t *testing.T) {
	tol := newReorderTolerance(3)
	if tol.Covers(1) {
		t.Fatalf("fresh tolerance should not cover a gap of 1")
	}
	tol.Grow()
	tol.Grow()
	tol.Grow()
	tol.Grow() // should cap at 3
	if tol.window != 3 {
		t.Fatalf("expected window capped at 3, got %d", tol.window)
	}
	if !tol.Covers(3) {
		t.Fatalf("expected a gap of 3 to be covered")
	}
	if tol.Covers(4) {
		t.Fatalf("expected a gap of 4 to exceed the capped window")
	}
}

func TestAckEngineClassifiesInOrderVsLoss(t *testing.T) {
	e := newAckEngine(defaultReorderMax)
	_, _, haveLoss, inOrder := e.OnDataArrival(1000)
	if haveLoss || !inOrder {
		t.Fatalf("first packet should be in order with no loss")
	}
	_, _, haveLoss, inOrder = e.OnDataArrival(1001)
	if haveLoss || !inOrder {
		t.Fatalf("contiguous arrival should be in order with no loss")
	}
	from, to, haveLoss, inOrder := e.OnDataArrival(1005)
	if !haveLoss || inOrder {
		t.Fatalf("a jump past the tolerance window should report loss")
	}
	if from != 1002 || to != 1004 {
		t.Fatalf("expected loss range [1002,1004], got [%d,%d]", from, to)
	}
}

func TestAckEngineReorderWithinToleranceGrowsWindow(t *testing.T) {
	e := newAckEngine(5)
	e.OnDataArrival(1000)
	e.OnDataArrival(1001)
	e.OnDataArrival(1003) // gap of 1 isn't covered by a fresh window, reports loss [1002,1002]
	// 1002 now arrives late, behind the high-water mark (1003): reordering, not new loss.
	_, _, haveLoss, inOrder := e.OnDataArrival(1002)
	if haveLoss || inOrder {
		t.Fatalf("a late arrival behind the high-water mark should be neither loss nor in-order")
	}
	if e.tol.window == 0 {
		t.Fatalf("expected the late arrival to grow the tolerance window")
	}
}

func TestAckEngineFullAckCadenceByTimeAndCount(t *testing.T) {
	e := newAckEngine(defaultReorderMax)
	now := time.Unix(0, 0)
	if !e.ShouldSendFullAck(now) {
		t.Fatalf("expected the first ack to always be due")
	}
	e.NextFullAck(now)
	if e.ShouldSendFullAck(now.Add(1 * time.Millisecond)) {
		t.Fatalf("should not be due again immediately")
	}
	if !e.ShouldSendFullAck(now.Add(ackInterval)) {
		t.Fatalf("expected ack due after ackInterval elapses")
	}
	for i := 0; i < ackPktInterval; i++ {
		e.OnDataDelivered()
	}
	if !e.ShouldSendFullAck(now.Add(1 * time.Millisecond)) {
		t.Fatalf("expected ack due after ackPktInterval packets regardless of time")
	}
}

func TestAckEngineAckAckSamplesRTT(t *testing.T) {
	e := newAckEngine(defaultReorderMax)
	now := time.Unix(0, 0)
	seqNo := e.NextFullAck(now)
	e.OnAckAck(seqNo, now.Add(50*time.Millisecond))
	if e.RTT() != 50*time.Millisecond {
		t.Fatalf("expected rtt sample of 50ms, got %v", e.RTT())
	}
	if _, ok := e.pending[seqNo]; ok {
		t.Fatalf("expected the pending entry to be consumed")
	}
}

func TestReceiverLossListAddRemoveAndResend(t *testing.T) {
	var l receiverLossList
	now := time.Unix(0, 0)
	l.Add(100, 105, now, 50*time.Millisecond, 10*time.Millisecond)
	if l.Empty() {
		t.Fatalf("expected a non-empty loss list")
	}
	l.Remove(100)
	l.Remove(105)
	l.Remove(103)
	ranges := l.Ranges()
	if len(ranges) != 2 || ranges[0] != [2]packet.SeqNo{101, 102} || ranges[1] != [2]packet.SeqNo{104, 104} {
		t.Fatalf("unexpected ranges after punching holes: %v", ranges)
	}
	due := l.DueForResend(now, 50*time.Millisecond, 10*time.Millisecond)
	if len(due) != 0 {
		t.Fatalf("should not be due yet")
	}
	due = l.DueForResend(now.Add(100*time.Millisecond), 50*time.Millisecond, 10*time.Millisecond)
	if len(due) != 2 {
		t.Fatalf("expected both remaining ranges due for resend, got %d", len(due))
	}
	if due[0].feedbackCount != 1 {
		t.Fatalf("expected feedback count bumped to 1, got %d", due[0].feedbackCount)
	}
}
