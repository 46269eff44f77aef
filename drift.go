package srt

// wrapUs is the period of a 32-bit microsecond timestamp: ~71m35s
// (spec §4.5).
const wrapUs int64 = 1 << 32

const wrapCheckWindowUs = 30_000_000 // 30s

// tsWrapTracker detects a peer timestamp crossing its 32-bit wrap
// point and accumulates the carry a 64-bit local base needs to add,
// per spec §4.5: the receiver watches for timestamps entering the
// final 30s window before the wrap, then watches the first 30s after
// it to confirm the wrap actually happened before committing the
// carry.
type tsWrapTracker struct {
	checking bool
	carry    int64
}

// Observe feeds one packet's raw 32-bit timestamp and returns the
// currently committed carry to add to it.
func (w *tsWrapTracker) Observe(rawTsUs uint32) int64 {
	lastWindowStart := uint32(wrapUs - wrapCheckWindowUs)
	const firstWindowEnd = uint32(wrapCheckWindowUs)

	if !w.checking {
		if rawTsUs >= lastWindowStart {
			w.checking = true
		}
		return w.carry
	}

	switch {
	case rawTsUs <= firstWindowEnd:
		w.carry += wrapUs
		w.checking = false
	case rawTsUs >= lastWindowStart:
		// still inside the pre-wrap window, keep watching
	default:
		// timestamps moved on without wrapping: false alarm, commit as-is
		w.checking = false
	}
	return w.carry
}

const (
	driftMaxSamples  = 1000
	driftMaxValueUs  = 5000 // 5ms
)

// driftTracer samples (local_recv_time − peer_tsbpd_time) on every
// ACKACK and nudges the receive buffer's base clock once enough
// samples disagree in the same direction (spec §4.5).
type driftTracer struct {
	sum   int64
	count int
}

// Sample records one observation. Once driftMaxSamples have
// accumulated, it reports an adjustment (±driftMaxValueUs, 0 if the
// mean stayed within bounds) and resets the accumulator; until then it
// reports no adjustment.
func (d *driftTracer) Sample(localRecvUs, peerTsbpdUs int64) (adjust int64, fired bool) {
	d.sum += localRecvUs - peerTsbpdUs
	d.count++
	if d.count < driftMaxSamples {
		return 0, false
	}
	mean := d.sum / int64(d.count)
	d.sum, d.count = 0, 0

	switch {
	case mean >= driftMaxValueUs:
		return driftMaxValueUs, true
	case mean <= -driftMaxValueUs:
		return -driftMaxValueUs, true
	default:
		return 0, true
	}
}
