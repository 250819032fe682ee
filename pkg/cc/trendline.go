package cc

import "time"

// TrendlineConfig configures the regression-based delay filter, the modern
// alternative to the Kalman filter used by current WebRTC senders.
type TrendlineConfig struct {
	// WindowSize is the number of samples in the regression window.
	// Larger windows are steadier but slower to react. Default: 20.
	WindowSize int

	// SmoothingCoef is the exponential smoothing applied to accumulated
	// delay before regression. Default: 0.9.
	SmoothingCoef float64

	// ThresholdGain scales the slope into the overuse detector's input
	// range. Default: 4.0.
	ThresholdGain float64
}

// DefaultTrendlineConfig returns the WebRTC reference defaults.
func DefaultTrendlineConfig() TrendlineConfig {
	return TrendlineConfig{
		WindowSize:    20,
		SmoothingCoef: 0.9,
		ThresholdGain: 4.0,
	}
}

type trendSample struct {
	arrivalMs     float64
	smoothedDelay float64
}

// TrendlineEstimator estimates the delay trend as the least-squares slope of
// smoothed accumulated delay over a sliding window of group samples.
type TrendlineEstimator struct {
	config           TrendlineConfig
	history          []trendSample
	accumulatedDelay float64
	smoothedDelay    float64
	numDeltas        int
	firstArrival     time.Time
}

// NewTrendlineEstimator creates a trendline estimator. Window sizes below 2
// cannot support a regression and fall back to the default.
func NewTrendlineEstimator(config TrendlineConfig) *TrendlineEstimator {
	if config.WindowSize < 2 {
		config.WindowSize = 20
	}
	return &TrendlineEstimator{
		config:  config,
		history: make([]trendSample, 0, config.WindowSize),
	}
}

// Update folds one delay-variation sample (milliseconds) into the window and
// returns the modified trend: positive while delay grows, negative while the
// queue drains.
func (t *TrendlineEstimator) Update(arrival time.Time, delayVariationMs float64) float64 {
	if t.firstArrival.IsZero() {
		t.firstArrival = arrival
	}
	arrivalMs := float64(arrival.Sub(t.firstArrival).Milliseconds())

	// Regress over accumulated delay: a steady per-group variation shows up
	// as a constant slope, not a flat line.
	t.accumulatedDelay += delayVariationMs
	t.smoothedDelay = t.config.SmoothingCoef*t.smoothedDelay +
		(1-t.config.SmoothingCoef)*t.accumulatedDelay

	t.history = append(t.history, trendSample{arrivalMs, t.smoothedDelay})
	if len(t.history) > t.config.WindowSize {
		t.history = t.history[1:]
	}
	t.numDeltas++

	slope := t.linearFitSlope()

	// Cap the sample-count multiplier so startup cannot produce runaway
	// trend values.
	numSamples := float64(t.numDeltas)
	if numSamples > 60 {
		numSamples = 60
	}

	return numSamples * slope * t.config.ThresholdGain
}

// linearFitSlope is ordinary least squares over the window.
func (t *TrendlineEstimator) linearFitSlope() float64 {
	n := len(t.history)
	if n < 2 {
		return 0
	}

	var sumX, sumY, sumXX, sumXY float64
	for _, s := range t.history {
		sumX += s.arrivalMs
		sumY += s.smoothedDelay
		sumXX += s.arrivalMs * s.arrivalMs
		sumXY += s.arrivalMs * s.smoothedDelay
	}

	nf := float64(n)
	denom := nf*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (nf*sumXY - sumX*sumY) / denom
}

// Reset clears the window so the estimator can be reused for a new stream.
func (t *TrendlineEstimator) Reset() {
	t.history = t.history[:0]
	t.accumulatedDelay = 0
	t.smoothedDelay = 0
	t.numDeltas = 0
	t.firstArrival = time.Time{}
}
