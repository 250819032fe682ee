package cc

import (
	"math"
	"time"
)

// KalmanConfig holds the tunable parameters of the delay-gradient filter.
type KalmanConfig struct {
	// ProcessNoise (q) is the state noise variance added per predict step.
	// Default: 10^-3.
	ProcessNoise float64

	// InitialError e(0) is the initial error covariance. Default: 0.1.
	InitialError float64

	// Chi is the exponential smoothing coefficient for the measurement
	// noise variance. Recommended range [0.001, 0.1]. Default: 0.01.
	Chi float64
}

// DefaultKalmanConfig returns the standard GCC filter parameters.
func DefaultKalmanConfig() KalmanConfig {
	return KalmanConfig{
		ProcessNoise: 0.001,
		InitialError: 0.1,
		Chi:          0.01,
	}
}

// Variance floors. Covariance and measurement noise must stay strictly
// positive or the gain computation divides by zero.
const (
	minErrorCovariance   = 1e-6
	minMeasurementNoise  = 1.0
	referenceSampleDelta = 30 * time.Millisecond
)

// KalmanFilter is a scalar Kalman filter over inter-group delay variation.
// It tracks the trend of one-way delay, not its absolute value: a positive
// estimate means the path queue is building, a negative one that it drains.
type KalmanFilter struct {
	config       KalmanConfig
	estimate     float64 // m_hat(i), delay gradient in ms
	errorCov     float64 // e(i)
	measureNoise float64 // var_v_hat
}

// NewKalmanFilter creates a filter with the given configuration.
func NewKalmanFilter(config KalmanConfig) *KalmanFilter {
	return &KalmanFilter{
		config:       config,
		estimate:     0,
		errorCov:     config.InitialError,
		measureNoise: minMeasurementNoise,
	}
}

// Update runs one predict/correct cycle. measurement is the inter-group
// delay variation in milliseconds; elapsed is the inter-group send delta,
// which scales the process noise so sparse groups widen the prior the same
// way many dense ones would. Returns the new gradient estimate.
func (k *KalmanFilter) Update(measurement float64, elapsed time.Duration) float64 {
	if math.IsNaN(measurement) || math.IsInf(measurement, 0) {
		return k.estimate
	}

	// Predict: inflate covariance in proportion to elapsed send time.
	scale := 1.0
	if elapsed > 0 {
		scale = math.Min(float64(elapsed)/float64(referenceSampleDelta), 10.0)
	}
	processNoise := k.config.ProcessNoise * scale
	priorCov := k.errorCov + processNoise

	// Innovation, capped at 3 sigma for the noise-variance estimate so one
	// outlier cannot blow up the measurement model.
	z := measurement - k.estimate
	maxDeviation := 3 * math.Sqrt(k.measureNoise)
	zCapped := math.Max(-maxDeviation, math.Min(z, maxDeviation))

	k.measureNoise = math.Max(minMeasurementNoise,
		(1-k.config.Chi)*k.measureNoise+k.config.Chi*zCapped*zCapped)

	gain := priorCov / (k.measureNoise + priorCov)

	// State update uses the uncapped innovation; the cap only protects the
	// variance estimate.
	k.estimate += z * gain
	k.errorCov = math.Max(minErrorCovariance, (1-gain)*priorCov)

	return k.estimate
}

// Estimate returns the current gradient estimate without updating.
func (k *KalmanFilter) Estimate() float64 {
	return k.estimate
}

// Variance returns the current error covariance.
func (k *KalmanFilter) Variance() float64 {
	return k.errorCov
}

// Reset reinitializes the filter to its starting state.
func (k *KalmanFilter) Reset() {
	k.estimate = 0
	k.errorCov = k.config.InitialError
	k.measureNoise = minMeasurementNoise
}
