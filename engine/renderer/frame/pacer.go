package frame

import (
	"runtime"
	"time"

	"github.com/spaghettifunk/vortex/engine/mathx"
)

// Sleeps shorter than this are pure busy-waits; the OS scheduler cannot be
// trusted at that granularity.
const minSplitSleepMs = 5.0

type PacerOptions struct {
	// 0 means the refresh rate is unknown; the pacer then only maintains the
	// smoothed delta and never sleeps, avoiding unbounded sleep growth.
	RefreshRateHz float64
	// Target amount of slack to leave between frame completion and vsync.
	HeadroomMs float64
	// Frame times this far past the refresh period count as a spike.
	OvershootMs float64
	// Multiplier applied to the sleep budget when recovering from a spike.
	OvershootScale float64
	// Feedback rate for the sleep budget controller.
	SleepRwa float64
	// Feedback rate for the smoothed delta time.
	SmoothedRwa float64
	// Clamp on a single frame's contribution to the smoothed delta, so a
	// debugger pause does not poison game-logic timing.
	MaxSmoothedS float64
}

// Pacer trades a bounded amount of latency for smoother delivered frame
// timing. Call Sleep once per frame, after presentation, with the time the
// CPU spent blocked on the GPU that frame.
type Pacer struct {
	opts PacerOptions

	sleepMs        float64
	smoothedDeltaS float64
	lastTime       time.Time

	// Stubbed in tests.
	now    func() time.Time
	waitFn func(ms float64)
}

func NewPacer(opts PacerOptions) *Pacer {
	p := &Pacer{
		opts: opts,
		now:  time.Now,
	}
	p.waitFn = p.wait
	return p
}

// Sleep updates the smoothed delta from the measured frame time and, when
// the refresh rate is known, nudges the sleep budget toward leaving
// HeadroomMs of slack, then waits it out.
func (p *Pacer) Sleep(slop time.Duration) {
	now := p.now()
	frameMs := -1.0
	if !p.lastTime.IsZero() {
		deltaS := now.Sub(p.lastTime).Seconds()
		frameMs = deltaS * 1000.0
		p.smoothedDeltaS += (mathx.Min(deltaS, p.opts.MaxSmoothedS) - p.smoothedDeltaS) * p.opts.SmoothedRwa
	}
	p.lastTime = now

	if p.opts.RefreshRateHz <= 0 {
		return
	}

	periodMs := 1000.0 / p.opts.RefreshRateHz
	slopMs := slop.Seconds() * 1000.0

	if frameMs >= 0 && frameMs > periodMs+p.opts.OvershootMs {
		// Spike: back the budget off multiplicatively so one bad frame does
		// not cascade into a missed vsync train.
		p.sleepMs *= p.opts.OvershootScale
	} else {
		p.sleepMs += (slopMs - p.opts.HeadroomMs) * p.opts.SleepRwa
	}
	p.sleepMs = mathx.Clamp(p.sleepMs, 0, periodMs-p.opts.HeadroomMs)

	p.waitFn(p.sleepMs)
}

// SmoothedDelta is the exponentially smoothed frame delta in seconds, for
// game-logic timing.
func (p *Pacer) SmoothedDelta() float64 {
	return p.smoothedDeltaS
}

// SleepBudgetMs exposes the current sleep budget for metrics.
func (p *Pacer) SleepBudgetMs() float64 {
	return p.sleepMs
}

func (p *Pacer) wait(ms float64) {
	if ms <= 0 {
		return
	}
	total := time.Duration(ms * float64(time.Millisecond))
	deadline := time.Now().Add(total)
	if ms > minSplitSleepMs {
		// Sleep most of it, spin the tail: the sleep bounds CPU burn, the
		// spin bounds scheduler overshoot.
		time.Sleep(total * 2 / 3)
	}
	for time.Now().Before(deadline) {
		runtime.Gosched()
	}
}
