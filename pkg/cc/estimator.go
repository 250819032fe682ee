package cc

import (
	"time"

	"github.com/voxrtc/cc/pkg/cc/internal"
)

// FilterType selects the delay filter inside the delay estimator.
type FilterType int

const (
	// FilterKalman is the scalar Kalman filter from the GCC draft.
	FilterKalman FilterType = iota

	// FilterTrendline is the linear-regression filter used by current
	// WebRTC senders.
	FilterTrendline
)

// DelayEstimatorConfig configures the delay-based estimation pipeline.
type DelayEstimatorConfig struct {
	// FilterType selects the delay filter.
	FilterType FilterType

	// GroupWindow is the send-time window for burst grouping.
	GroupWindow time.Duration

	// Kalman is used when FilterType is FilterKalman.
	Kalman KalmanConfig

	// Trendline is used when FilterType is FilterTrendline.
	Trendline TrendlineConfig

	// Overuse configures the detector.
	Overuse OveruseConfig
}

// DefaultDelayEstimatorConfig returns the Kalman pipeline with standard
// parameters.
func DefaultDelayEstimatorConfig() DelayEstimatorConfig {
	return DelayEstimatorConfig{
		FilterType:  FilterKalman,
		GroupWindow: DefaultGroupWindow,
		Kalman:      DefaultKalmanConfig(),
		Trendline:   DefaultTrendlineConfig(),
		Overuse:     DefaultOveruseConfig(),
	}
}

// delayFilter abstracts the Kalman and trendline filters behind one seam so
// the pipeline does not branch per packet.
type delayFilter interface {
	Update(arrival time.Time, sample GradientSample) float64
	Reset()
}

type kalmanAdapter struct {
	filter *KalmanFilter
}

func (k *kalmanAdapter) Update(_ time.Time, sample GradientSample) float64 {
	delayMs := float64(sample.DelayVariation.Microseconds()) / 1000.0
	return k.filter.Update(delayMs, sample.SendDelta)
}

func (k *kalmanAdapter) Reset() {
	k.filter.Reset()
}

type trendlineAdapter struct {
	estimator *TrendlineEstimator
}

func (t *trendlineAdapter) Update(arrival time.Time, sample GradientSample) float64 {
	delayMs := float64(sample.DelayVariation.Microseconds()) / 1000.0
	return t.estimator.Update(arrival, delayMs)
}

func (t *trendlineAdapter) Reset() {
	t.estimator.Reset()
}

// DelayEstimator runs the delay-based half of the engine: burst grouping,
// gradient filtering, overuse detection. One packet in, one congestion state
// out.
type DelayEstimator struct {
	config       DelayEstimatorConfig
	accumulator  *GroupAccumulator
	filter       delayFilter
	detector     *OveruseDetector
	lastEstimate float64
}

// NewDelayEstimator creates the pipeline. A nil clock selects the monotonic
// system clock.
func NewDelayEstimator(config DelayEstimatorConfig, clock internal.Clock) *DelayEstimator {
	if clock == nil {
		clock = internal.MonotonicClock{}
	}

	var filter delayFilter
	switch config.FilterType {
	case FilterTrendline:
		filter = &trendlineAdapter{estimator: NewTrendlineEstimator(config.Trendline)}
	default:
		filter = &kalmanAdapter{filter: NewKalmanFilter(config.Kalman)}
	}

	return &DelayEstimator{
		config:      config,
		accumulator: NewGroupAccumulator(config.GroupWindow),
		filter:      filter,
		detector:    NewOveruseDetector(config.Overuse, clock),
	}
}

// OnPacket folds one observation into the pipeline and returns the current
// congestion state. While a group is still accumulating the previous state
// is returned unchanged.
func (e *DelayEstimator) OnPacket(obs PacketObservation) Usage {
	sample, ok := e.accumulator.Add(obs)
	if !ok {
		return e.detector.State()
	}

	e.lastEstimate = e.filter.Update(obs.ArrivalTime, sample)
	return e.detector.Detect(e.lastEstimate)
}

// State returns the current congestion state without consuming a packet.
func (e *DelayEstimator) State() Usage {
	return e.detector.State()
}

// GradientEstimate returns the latest filtered delay gradient.
func (e *DelayEstimator) GradientEstimate() float64 {
	return e.lastEstimate
}

// SetCallback registers a state-change callback on the detector.
func (e *DelayEstimator) SetCallback(cb UsageChangeCallback) {
	e.detector.SetCallback(cb)
}

// Reset reinitializes grouping, filter, and detector state.
func (e *DelayEstimator) Reset() {
	e.accumulator.Reset()
	e.filter.Reset()
	e.detector.Reset()
	e.lastEstimate = 0
}
