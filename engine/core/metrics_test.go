package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freshMetrics(t *testing.T) {
	t.Helper()
	require.NoError(t, MetricsInitialize())
	metrics = &metricsState{}
}

func TestMetricsFrameTimeAveragesOverWindow(t *testing.T) {
	freshMetrics(t)

	for i := 0; i < frameTimeWindow; i++ {
		MetricsUpdate(0.010)
	}
	assert.InDelta(t, 10.0, MetricsFrameTimeMs(), 1e-9)
}

func TestMetricsFPSCountsFramesPerSecond(t *testing.T) {
	freshMetrics(t)

	// 60 frames of ~16.7ms pass the one second mark on the 60th.
	for i := 0; i < 60; i++ {
		MetricsUpdate(1.0 / 59.9)
	}
	assert.InDelta(t, 60.0, MetricsFPS(), 0.5)
}

func TestMetricsPacingGaugesHoldLatestObservation(t *testing.T) {
	freshMetrics(t)

	MetricsObservePacing(3.5, 16.6)
	MetricsObservePacing(2.0, 16.8)

	budget, smoothed := MetricsPacing()
	assert.Equal(t, 2.0, budget)
	assert.Equal(t, 16.8, smoothed)
}
