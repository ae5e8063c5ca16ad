package core

import "sync"

// Frames folded into the rolling frame-time average.
const frameTimeWindow = 30

type metricsState struct {
	frameTimes  [frameTimeWindow]float64
	frameCursor int
	avgFrameMs  float64

	frames        int32
	accumulatedMs float64
	fps           float64

	sleepBudgetMs   float64
	smoothedDeltaMs float64
}

var onceMetrics sync.Once
var metrics *metricsState

func MetricsInitialize() error {
	onceMetrics.Do(func() {
		metrics = &metricsState{}
	})
	return nil
}

// MetricsUpdate folds one frame's elapsed seconds into the rolling frame-time
// average and the once-per-second FPS counter.
func MetricsUpdate(frameElapsedS float64) {
	frameMs := frameElapsedS * 1000.0
	metrics.frameTimes[metrics.frameCursor] = frameMs
	metrics.frameCursor = (metrics.frameCursor + 1) % frameTimeWindow
	if metrics.frameCursor == 0 {
		sum := 0.0
		for _, ms := range metrics.frameTimes {
			sum += ms
		}
		metrics.avgFrameMs = sum / float64(frameTimeWindow)
	}

	metrics.frames++
	metrics.accumulatedMs += frameMs
	if metrics.accumulatedMs > 1000 {
		metrics.fps = float64(metrics.frames)
		metrics.accumulatedMs -= 1000
		metrics.frames = 0
	}
}

// MetricsObservePacing records the pacer's current gauges alongside the frame
// counters so one stats line can report both.
func MetricsObservePacing(sleepBudgetMs, smoothedDeltaMs float64) {
	metrics.sleepBudgetMs = sleepBudgetMs
	metrics.smoothedDeltaMs = smoothedDeltaMs
}

func MetricsFPS() float64 {
	return metrics.fps
}

func MetricsFrameTimeMs() float64 {
	return metrics.avgFrameMs
}

func MetricsPacing() (sleepBudgetMs, smoothedDeltaMs float64) {
	return metrics.sleepBudgetMs, metrics.smoothedDeltaMs
}
