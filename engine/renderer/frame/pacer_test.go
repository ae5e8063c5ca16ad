package frame

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPacer(opts PacerOptions) (*Pacer, *[]float64, *time.Time) {
	p := NewPacer(opts)
	waits := &[]float64{}
	now := time.Unix(1000, 0)
	current := &now
	p.now = func() time.Time { return *current }
	p.waitFn = func(ms float64) { *waits = append(*waits, ms) }
	return p, waits, current
}

func defaultOptions() PacerOptions {
	return PacerOptions{
		RefreshRateHz:  60,
		HeadroomMs:     0.5,
		OvershootMs:    1.0,
		OvershootScale: 0.5,
		SleepRwa:       0.1,
		SmoothedRwa:    0.05,
		MaxSmoothedS:   0.1,
	}
}

func TestPacerNudgesSleepTowardHeadroom(t *testing.T) {
	pacer, waits, _ := newTestPacer(defaultOptions())

	// 1ms of slack with 0.5ms headroom nudges the budget by
	// (1.0 - 0.5) * sleepRwa from its initial 0.
	pacer.Sleep(time.Millisecond)

	require.Len(t, *waits, 1)
	assert.InDelta(t, 0.5*0.1, pacer.SleepBudgetMs(), 1e-9)
	assert.InDelta(t, 0.5*0.1, (*waits)[0], 1e-9)
}

func TestPacerSleepBudgetNeverExceedsPeriodMinusHeadroom(t *testing.T) {
	pacer, _, current := newTestPacer(defaultOptions())

	// Hammer it with absurd slack; the budget must stay clamped below
	// 1000/60 - 0.5 regardless of input.
	limit := 1000.0/60.0 - 0.5
	for i := 0; i < 1000; i++ {
		*current = current.Add(16 * time.Millisecond)
		pacer.Sleep(500 * time.Millisecond)
		assert.LessOrEqual(t, pacer.SleepBudgetMs(), limit+1e-9)
	}
	assert.InDelta(t, limit, pacer.SleepBudgetMs(), 1e-6)
}

func TestPacerOvershootScalesBudgetDown(t *testing.T) {
	opts := defaultOptions()
	pacer, _, current := newTestPacer(opts)

	// Build up some budget with on-time frames.
	for i := 0; i < 10; i++ {
		*current = current.Add(16 * time.Millisecond)
		pacer.Sleep(4 * time.Millisecond)
	}
	before := pacer.SleepBudgetMs()
	require.Greater(t, before, 0.0)

	// A 50ms spike overshoots the ~16.7ms period by far more than 1ms.
	*current = current.Add(50 * time.Millisecond)
	pacer.Sleep(0)
	assert.InDelta(t, before*opts.OvershootScale, pacer.SleepBudgetMs(), 1e-9)
}

func TestPacerNoRefreshRateOnlySmoothsDelta(t *testing.T) {
	opts := defaultOptions()
	opts.RefreshRateHz = 0
	opts.SmoothedRwa = 0.5
	pacer, waits, current := newTestPacer(opts)

	pacer.Sleep(time.Millisecond)
	*current = current.Add(10 * time.Millisecond)
	pacer.Sleep(time.Millisecond)

	// Never sleeps, but the smoothed delta tracks the measured 10ms frame.
	assert.Empty(t, *waits)
	assert.InDelta(t, 0.010*0.5, pacer.SmoothedDelta(), 1e-9)
}

func TestPacerSmoothedDeltaClampsSpikes(t *testing.T) {
	opts := defaultOptions()
	opts.RefreshRateHz = 0
	opts.SmoothedRwa = 1.0
	pacer, _, current := newTestPacer(opts)

	pacer.Sleep(0)
	// A 5s hitch (debugger pause) contributes at most MaxSmoothedS.
	*current = current.Add(5 * time.Second)
	pacer.Sleep(0)
	assert.InDelta(t, opts.MaxSmoothedS, pacer.SmoothedDelta(), 1e-9)
}
