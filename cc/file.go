package cc

import (
	"math"
	"math/rand"
	"time"

	"github.com/maxsharabayko/srt/clock"
)

const rcInterval = 10 * time.Millisecond

// FileController is the AIMD-like file-mode congestion controller
// (spec §4.7 "File variant"), grounded on the UDT native congestion
// control algorithm: slow start by newly-acked packets, AIMD rate
// control gated to one adjustment per rcInterval, and a random-gated
// multiplicative backoff on loss that avoids synchronized decreases
// across flows sharing a bottleneck.
type FileController struct {
	clk clock.Clock
	mss uint

	rcLastTime time.Time
	slowStart  bool
	maxCwnd    uint
	cwnd       uint
	sendPeriod time.Duration

	lastRTT     time.Duration
	lastRecvPps uint
	lastBwPps   uint

	loss          bool
	lastDecSeq    uint32
	haveLastDec   bool
	lastDecPeriod time.Duration
	nakCount      int
	decRandom     int
	avgNAKNum     int
	decCount      int

	minPeriod time.Duration // 0 means no SRTO_MAXBW ceiling installed
}

// NewFileController constructs a file-mode controller. maxCwnd is the
// flow-window ceiling (in packets) that ends slow start; mss is the
// maximum segment size in bytes used by the rate-control formula.
func NewFileController(clk clock.Clock, mss uint, maxCwnd uint) *FileController {
	return &FileController{
		clk:           clk,
		mss:           mss,
		rcLastTime:    clk.Now(),
		slowStart:     true,
		maxCwnd:       maxCwnd,
		cwnd:          16,
		sendPeriod:    time.Microsecond,
		lastDecPeriod: time.Microsecond,
		decRandom:     1,
	}
}

func (f *FileController) Cwnd() uint                    { return f.cwnd }
func (f *FileController) PktSendPeriod() time.Duration   { return f.sendPeriod }
func (f *FileController) NeedsQuickACK() bool            { return false }
func (f *FileController) RexmitMethod() RexmitMethod     { return RexmitOnNAK }

// UpdateBandwidth installs the SRTO_MAXBW ceiling: min_period = 1e6 /
// (maxbw / 8 / MSS) µs, maxbw being in bits per second, expressed as a
// minimum pkt_send_period. maxbwBps < 0
// means auto (no ceiling).
func (f *FileController) UpdateBandwidth(maxbwBps int64, mss uint) {
	if mss > 0 {
		f.mss = mss
	}
	if maxbwBps < 0 {
		f.minPeriod = 0
		return
	}
	maxPktsPerSec := float64(maxbwBps) / 8.0 / float64(f.mss)
	if maxPktsPerSec <= 0 {
		f.minPeriod = 0
		return
	}
	f.minPeriod = time.Duration(1e6/maxPktsPerSec) * time.Microsecond
}

func (f *FileController) enforceCeiling() {
	if f.minPeriod > 0 && f.sendPeriod < f.minPeriod {
		f.sendPeriod = f.minPeriod
	}
}

func (f *FileController) OnAck(ev AckEvent) {
	f.lastRTT = ev.RTT
	f.lastRecvPps = ev.RecvRatePps
	f.lastBwPps = ev.BandwidthPps

	now := f.clk.Now()
	if now.Sub(f.rcLastTime) < rcInterval {
		return
	}
	f.rcLastTime = now

	if f.slowStart {
		f.cwnd += uint(ev.AckedPackets)
		if f.cwnd <= f.maxCwnd {
			return
		}
		f.slowStart = false
		if ev.RecvRatePps > 0 {
			f.sendPeriod = time.Second / time.Duration(ev.RecvRatePps)
		} else {
			f.sendPeriod = (ev.RTT + rcInterval) / time.Duration(f.cwnd)
		}
	} else if ev.RecvRatePps > 0 {
		f.cwnd = uint(float64(ev.RecvRatePps)*(ev.RTT+rcInterval).Seconds()) + 16
	}

	if f.loss {
		f.loss = false
		return
	}

	periodUs := float64(f.sendPeriod.Microseconds())
	if periodUs <= 0 {
		periodUs = 0.01
	}
	bwPkts := float64(ev.BandwidthPps) - 1e6/periodUs
	if f.sendPeriod > f.lastDecPeriod {
		if b9 := float64(ev.BandwidthPps) / 9; b9 < bwPkts {
			bwPkts = b9
		}
	}

	minInc := 1.0 / float64(f.mss)
	var inc float64
	if bwPkts <= 0 {
		inc = minInc
	} else {
		inc = math.Pow10(int(math.Ceil(math.Log10(bwPkts*float64(f.mss)*8.0)))) * 1.5e-6 / float64(f.mss)
		if inc < minInc {
			inc = minInc
		}
	}

	rcUs := float64(rcInterval.Microseconds())
	newPeriodUs := (periodUs * rcUs) / (periodUs*inc + rcUs)
	f.sendPeriod = time.Duration(newPeriodUs * float64(time.Microsecond))
	f.enforceCeiling()
}

func seqAfter(a, b uint32) bool {
	return int32(a-b) > 0
}

func (f *FileController) OnLoss(ev LossEvent) {
	if f.slowStart {
		f.slowStart = false
		if f.lastRecvPps > 0 {
			f.sendPeriod = time.Second / time.Duration(f.lastRecvPps)
		} else if f.lastRTT+rcInterval > 0 {
			f.sendPeriod = time.Duration(float64(time.Microsecond) * float64(f.cwnd) / (f.lastRTT + rcInterval).Seconds() / 1e6)
		}
	}
	f.loss = true

	const backoff = 1.03 // spec §4.7: slow down ~3% per decrease, not UDT's 12.5%

	if !f.haveLastDec || seqAfter(ev.FirstLost, f.lastDecSeq) {
		f.haveLastDec = true
		f.lastDecPeriod = f.sendPeriod
		f.sendPeriod = time.Duration(float64(f.sendPeriod) * backoff)

		f.avgNAKNum = int(math.Ceil(float64(f.avgNAKNum)*0.875 + float64(f.nakCount)*0.125))
		f.nakCount = 1
		f.decCount = 1
		f.lastDecSeq = ev.CurrSeq

		r := rand.Float64()
		f.decRandom = int(math.Ceil(float64(f.avgNAKNum) * r))
		if f.decRandom < 1 {
			f.decRandom = 1
		}
	} else if f.decCount < 5 {
		f.decCount++
		f.nakCount++
		if f.decRandom != 0 && f.nakCount%f.decRandom == 0 {
			f.sendPeriod = time.Duration(float64(f.sendPeriod) * backoff)
			f.lastDecSeq = ev.CurrSeq
		}
	}
	f.enforceCeiling()
}

func (f *FileController) OnTimer(stage TimerStage) {
	if stage != TimerExpInterval || !f.slowStart {
		return
	}
	f.slowStart = false
	if f.lastRecvPps > 0 {
		f.sendPeriod = time.Second / time.Duration(f.lastRecvPps)
	}
}
