package cc

import (
	"math"
	"time"

	"github.com/voxrtc/cc/pkg/cc/internal"
)

// UsageChangeCallback is invoked when the detector's congestion state moves.
type UsageChangeCallback func(old, new Usage)

// OveruseConfig controls the adaptive threshold and detection timing.
type OveruseConfig struct {
	// InitialThreshold is the starting adaptive threshold in ms.
	// Default: 12.5.
	InitialThreshold float64

	// MinThreshold bounds the threshold from below so the detector never
	// becomes hypersensitive. Default: 6.0.
	MinThreshold float64

	// MaxThreshold bounds the threshold from above so the detector never
	// goes blind. Default: 600.0.
	MaxThreshold float64

	// Ku is the adaptation coefficient while the estimate magnitude is
	// above the threshold. Small, so the threshold chases large signals
	// slowly and concurrent TCP flows are not starved. Default: 0.01.
	Ku float64

	// Kd is the adaptation coefficient while the estimate magnitude is
	// below the threshold. Smaller than Ku for stability. Default: 0.00018.
	Kd float64

	// OveruseTime is how long the estimate must stay above the threshold
	// before overuse is signaled. Default: 10ms.
	OveruseTime time.Duration
}

// DefaultOveruseConfig returns detection parameters matching the GCC draft.
func DefaultOveruseConfig() OveruseConfig {
	return OveruseConfig{
		InitialThreshold: 12.5,
		MinThreshold:     6.0,
		MaxThreshold:     600.0,
		Ku:               0.01,
		Kd:               0.00018,
		OveruseTime:      10 * time.Millisecond,
	}
}

// Threshold adaptation skips samples that overshoot the threshold by more
// than this margin, so a single extreme spike cannot drag the threshold up.
const maxAdaptOvershoot = 15.0

// postOveruseDamping shrinks the threshold right after an overuse signal,
// leaving the detector more sensitive to a congestion episode that repeats.
const postOveruseDamping = 0.85

// OveruseDetector classifies the filtered delay gradient into
// Normal/Overuse/Underuse against an adaptive threshold.
//
// Overuse is only signaled after the estimate has exceeded the threshold for
// OveruseTime across more than one consecutive group, and is suppressed while
// the gradient is already falling.
type OveruseDetector struct {
	config          OveruseConfig
	clock           internal.Clock
	threshold       float64
	lastUpdateTime  time.Time
	overuseStart    time.Time
	overuseCounter  int
	inOveruseRegion bool
	prevEstimate    float64
	hypothesis      Usage
	callback        UsageChangeCallback
}

// NewOveruseDetector creates a detector with the given configuration.
// A nil clock selects the monotonic system clock.
func NewOveruseDetector(config OveruseConfig, clock internal.Clock) *OveruseDetector {
	if clock == nil {
		clock = internal.MonotonicClock{}
	}
	return &OveruseDetector{
		config:     config,
		clock:      clock,
		threshold:  config.InitialThreshold,
		hypothesis: UsageNormal,
	}
}

// SetCallback registers cb to run on every state change; nil disables it.
func (d *OveruseDetector) SetCallback(cb UsageChangeCallback) {
	d.callback = cb
}

// Detect classifies one filtered gradient estimate and returns the current
// congestion state.
func (d *OveruseDetector) Detect(estimate float64) Usage {
	now := d.clock.Now()
	d.adaptThreshold(estimate, now)

	oldHypothesis := d.hypothesis

	switch {
	case estimate > d.threshold:
		if !d.inOveruseRegion {
			d.overuseStart = now
			d.overuseCounter = 0
			d.inOveruseRegion = true
		}
		d.overuseCounter++

		if estimate < d.prevEstimate {
			// Gradient already falling; the queue is recovering on its
			// own, hold off.
			d.hypothesis = UsageNormal
		} else if now.Sub(d.overuseStart) >= d.config.OveruseTime && d.overuseCounter > 1 {
			d.hypothesis = UsageOveruse
		}

	case estimate < -d.threshold:
		d.hypothesis = UsageUnderuse
		d.inOveruseRegion = false

	default:
		d.hypothesis = UsageNormal
		d.inOveruseRegion = false
	}

	d.prevEstimate = estimate

	if d.hypothesis != oldHypothesis {
		if d.hypothesis == UsageOveruse {
			// Tighten the threshold so a repeat of this congestion episode
			// is caught sooner.
			d.threshold = math.Max(d.config.MinThreshold, d.threshold*postOveruseDamping)
		}
		if d.callback != nil {
			d.callback(oldHypothesis, d.hypothesis)
		}
	}

	return d.hypothesis
}

// adaptThreshold moves the threshold toward the estimate magnitude:
// del_var_th += dt * K * (|m| - del_var_th), K asymmetric per direction.
func (d *OveruseDetector) adaptThreshold(estimate float64, now time.Time) {
	absEstimate := math.Abs(estimate)

	if d.lastUpdateTime.IsZero() {
		d.lastUpdateTime = now
		return
	}

	deltaT := now.Sub(d.lastUpdateTime).Seconds()
	d.lastUpdateTime = now

	if absEstimate-d.threshold > maxAdaptOvershoot {
		return
	}

	k := d.config.Kd
	if absEstimate > d.threshold {
		k = d.config.Ku
	}
	d.threshold += deltaT * k * (absEstimate - d.threshold)

	d.threshold = math.Max(d.config.MinThreshold, math.Min(d.threshold, d.config.MaxThreshold))
}

// State returns the current hypothesis without consuming an estimate.
func (d *OveruseDetector) State() Usage {
	return d.hypothesis
}

// Threshold returns the current adaptive threshold, for logging and tests.
func (d *OveruseDetector) Threshold() float64 {
	return d.threshold
}

// Reset restores the initial detection state, keeping the configuration.
func (d *OveruseDetector) Reset() {
	d.threshold = d.config.InitialThreshold
	d.hypothesis = UsageNormal
	d.overuseStart = time.Time{}
	d.overuseCounter = 0
	d.inOveruseRegion = false
	d.prevEstimate = 0
	d.lastUpdateTime = time.Time{}
}
