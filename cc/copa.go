package cc

import (
	"time"

	"github.com/maxsharabayko/srt/clock"
)

// direction tracks whether cwnd has been trending up or down, used to
// decide when the Copa "velocity" multiplier should double or reset.
type direction int

const (
	dirNone direction = iota
	dirUp
	dirDown
)

// windowedMinFilter keeps the minimum sample observed within a trailing
// time window, grounded on the min/standing RTT filters cc_copa.cpp
// maintains (minRTTFilter_, standingRTTFilter_).
type windowedMinFilter struct {
	window  time.Duration
	samples []minSample
}

type minSample struct {
	val time.Duration
	at  time.Time
}

func newWindowedMinFilter(window time.Duration) *windowedMinFilter {
	return &windowedMinFilter{window: window}
}

func (w *windowedMinFilter) SetWindow(d time.Duration) {
	if d > 0 {
		w.window = d
	}
}

func (w *windowedMinFilter) Update(val time.Duration, now time.Time) {
	w.samples = append(w.samples, minSample{val, now})
	cutoff := now.Add(-w.window)
	i := 0
	for i < len(w.samples) && w.samples[i].at.Before(cutoff) {
		i++
	}
	w.samples = w.samples[i:]
}

func (w *windowedMinFilter) Best() time.Duration {
	if len(w.samples) == 0 {
		return 0
	}
	best := w.samples[0].val
	for _, s := range w.samples[1:] {
		if s.val < best {
			best = s.val
		}
	}
	return best
}

const minRTTWindow = 10 * time.Second

// CopaController is the delay-based live-mode congestion controller
// (spec §4.7 "Delay-based variant"), grounded on srtcore/cc_copa.cpp:
// it targets a rate derived from estimated queuing delay rather than
// reacting only to loss, which suits live low-latency streams where a
// single retransmit can blow the playback deadline.
type CopaController struct {
	clk clock.Clock
	mss uint

	latencyFactor float64
	minCwndPkts   uint

	cwndBytes     uint64
	bytesInFlight uint64
	slowStart     bool

	minRTT      *windowedMinFilter
	standingRTT *windowedMinFilter
	srtt        time.Duration

	velocity     float64
	dir          direction
	lastRecordAt time.Time
	haveRecordAt bool

	lastDoubleAt time.Time
	haveDouble   bool

	minPeriod time.Duration
}

// NewCopaController constructs a Copa-style controller. latencyFactor
// trades delay for throughput (spec's "latency-factor" config option,
// SRTO default 1); minCwndPkts floors cwnd the same way SRT's
// transportSettings.minCwndInMss does.
func NewCopaController(clk clock.Clock, mss uint, latencyFactor float64, minCwndPkts uint) *CopaController {
	if latencyFactor <= 0 {
		latencyFactor = 1
	}
	if minCwndPkts == 0 {
		minCwndPkts = 2
	}
	return &CopaController{
		clk:           clk,
		mss:           mss,
		latencyFactor: latencyFactor,
		minCwndPkts:   minCwndPkts,
		cwndBytes:     10 * uint64(mss),
		slowStart:     true,
		minRTT:        newWindowedMinFilter(minRTTWindow),
		standingRTT:   newWindowedMinFilter(time.Second),
	}
}

func (c *CopaController) Cwnd() uint {
	if c.mss == 0 {
		return 0
	}
	return uint(c.cwndBytes / uint64(c.mss))
}

func (c *CopaController) PktSendPeriod() time.Duration {
	if c.srtt <= 0 || c.cwndBytes == 0 {
		return time.Microsecond
	}
	period := time.Duration(float64(c.mss) * float64(c.srtt) / float64(c.cwndBytes))
	if period < time.Microsecond {
		period = time.Microsecond
	}
	if c.minPeriod > 0 && period < c.minPeriod {
		period = c.minPeriod
	}
	return period
}

func (c *CopaController) NeedsQuickACK() bool        { return true }
func (c *CopaController) RexmitMethod() RexmitMethod { return RexmitLate }

func (c *CopaController) UpdateBandwidth(maxbwBps int64, mss uint) {
	if mss > 0 {
		c.mss = mss
	}
	if maxbwBps < 0 {
		c.minPeriod = 0
		return
	}
	maxPktsPerSec := float64(maxbwBps) / 8.0 / float64(c.mss)
	if maxPktsPerSec <= 0 {
		c.minPeriod = 0
		return
	}
	c.minPeriod = time.Duration(1e6/maxPktsPerSec) * time.Microsecond
}

func (c *CopaController) changeDirection(d direction, now time.Time) {
	if c.dir == d {
		return
	}
	c.dir = d
	c.velocity = 1
	c.lastRecordAt = now
	c.haveRecordAt = true
}

// updateDirection doubles the velocity once per RTT spent in the same
// direction, and resets it on a direction flip (spec §4.7). The
// reference implementation's checkAndUpdateDirection body was not part
// of the retrieved source excerpt; this reconstructs it from the
// documented behavior.
func (c *CopaController) updateDirection(now time.Time, increasing bool) {
	want := dirDown
	if increasing {
		want = dirUp
	}
	if c.dir != want {
		c.changeDirection(want, now)
		return
	}
	if !c.haveRecordAt {
		c.lastRecordAt = now
		c.haveRecordAt = true
		return
	}
	if c.srtt > 0 && now.Sub(c.lastRecordAt) >= c.srtt {
		c.velocity *= 2
		c.lastRecordAt = now
	}
}

func (c *CopaController) floorBytes() uint64 {
	return uint64(c.minCwndPkts) * uint64(c.mss)
}

func (c *CopaController) OnAck(ev AckEvent) {
	now := c.clk.Now()
	c.srtt = ev.RTT

	ackedBytes := uint64(ev.AckedPackets) * uint64(c.mss)
	if ackedBytes > c.bytesInFlight {
		c.bytesInFlight = 0
	} else {
		c.bytesInFlight -= ackedBytes
	}

	lrtt := ev.RTT
	c.minRTT.Update(lrtt, now)
	rttMin := c.minRTT.Best()

	c.standingRTT.SetWindow(c.srtt / 2)
	c.standingRTT.Update(lrtt, now)
	standing := c.standingRTT.Best()

	if standing <= 0 {
		return
	}
	delay := lrtt - rttMin
	if delay < 0 {
		return
	}

	var increase bool
	if delay == 0 {
		increase = true
	} else {
		target := float64(c.mss) * 1e6 / (c.latencyFactor * float64(delay.Microseconds()))
		current := float64(c.cwndBytes) * 1e6 / float64(standing.Microseconds())
		increase = target >= current
	}

	if !(increase && c.slowStart) {
		c.updateDirection(now, increase)
	}

	switch {
	case increase && c.slowStart:
		if !c.haveDouble {
			c.lastDoubleAt = now
			c.haveDouble = true
		} else if now.Sub(c.lastDoubleAt) > c.srtt {
			c.cwndBytes *= 2
			c.lastDoubleAt = now
		}
	case increase:
		if c.dir != dirUp && c.velocity > 1.0 {
			c.changeDirection(dirUp, now)
		}
		addition := uint64(float64(ev.AckedPackets) * float64(c.mss) * float64(c.mss) * c.velocity / (c.latencyFactor * float64(c.cwndBytes)))
		c.cwndBytes += addition
	default:
		if c.dir != dirDown && c.velocity > 1.0 {
			c.changeDirection(dirDown, now)
		}
		reduction := uint64(float64(ev.AckedPackets) * float64(c.mss) * float64(c.mss) * c.velocity / (c.latencyFactor * float64(c.cwndBytes)))
		c.slowStart = false
		floor := c.floorBytes()
		if c.cwndBytes > floor && reduction > c.cwndBytes-floor {
			reduction = c.cwndBytes - floor
		}
		c.cwndBytes -= reduction
	}
}

func (c *CopaController) OnLoss(LossEvent) {
	c.slowStart = false
	half := c.cwndBytes / 2
	if floor := c.floorBytes(); half < floor {
		half = floor
	}
	c.cwndBytes = half
}

func (c *CopaController) OnTimer(stage TimerStage) {
	if stage != TimerExpInterval {
		return
	}
	c.slowStart = false
	half := c.cwndBytes / 2
	if floor := c.floorBytes(); half < floor {
		half = floor
	}
	c.cwndBytes = half
	c.velocity = 1
	c.dir = dirNone
}
