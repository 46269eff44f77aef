// Package cc implements the pluggable congestion controllers (spec §4.7):
// a file-mode AIMD variant and a delay-based live-mode variant. Both
// satisfy the same small Controller interface so a connection can swap
// between them without caring which one is active.
package cc

import "time"

// LossEvent describes a loss report handed to a controller.
type LossEvent struct {
	// FirstLost is the lowest sequence number (as a raw uint32, wrap
	// arithmetic is the caller's concern) named in the loss report.
	FirstLost uint32
	// CurrSeq is the sender's current (highest sent) sequence number
	// at the time the loss was observed.
	CurrSeq uint32
}

// AckEvent describes an ACK handed to a controller.
type AckEvent struct {
	AckSeq       uint32
	AckedPackets int // number of newly-acknowledged packets
	RTT          time.Duration
	RTTVar       time.Duration
	RecvRatePps  uint // receiver's measured packet arrival rate, packets/sec
	BandwidthPps uint // receiver's estimated link capacity, packets/sec
}

// TimerStage distinguishes the timer events a controller may react to.
type TimerStage int

const (
	TimerExpInterval TimerStage = iota
	TimerFastRetransmit
)

// RexmitMethod tells the sender when the controller wants it to
// retransmit lost packets.
type RexmitMethod int

const (
	// RexmitOnNAK retransmits as soon as a loss report names the packet.
	RexmitOnNAK RexmitMethod = iota
	// RexmitLate defers retransmission to the next probe/ack cycle,
	// trading latency for bandwidth (used by the live/delay-based
	// variant, which prefers pacing over immediate resend storms).
	RexmitLate
)

// Controller is the capability set a congestion control strategy must
// implement. A Controller is owned by exactly one connection and is not
// safe for concurrent use; the connection's send loop serializes calls.
type Controller interface {
	// OnAck is invoked when an ACK is processed.
	OnAck(AckEvent)
	// OnLoss is invoked when a loss report (NAK) names missing packets.
	OnLoss(LossEvent)
	// OnTimer is invoked on EXP/fast-retransmit timer firing.
	OnTimer(TimerStage)
	// UpdateBandwidth installs an operator-configured bandwidth ceiling.
	// maxbwBps < 0 means "auto" (no ceiling beyond what's measured).
	UpdateBandwidth(maxbwBps int64, mss uint)
	// NeedsQuickACK lets the controller request an immediate ACK for a
	// packet outside the normal ACK timer cadence.
	NeedsQuickACK() bool
	// RexmitMethod reports this controller's retransmission policy.
	RexmitMethod() RexmitMethod
	// Cwnd returns the current congestion window, in packets.
	Cwnd() uint
	// PktSendPeriod returns the current inter-packet send delay.
	PktSendPeriod() time.Duration
}
