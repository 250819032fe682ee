package cc

import "time"

// Loss policy thresholds from the GCC paper, equation (5): below lowLoss the
// path is clean and the rate may grow, above highLoss it must back off in
// proportion to what was lost, in between it holds.
const (
	lowLossThreshold   = 0.02
	highLossThreshold  = 0.10
	lossIncreaseFactor = 1.05
)

// LossRateConfig configures the loss-based controller.
type LossRateConfig struct {
	// MinBitrate is the floor of the estimate in bits per second.
	// Default: 10,000.
	MinBitrate int64

	// MaxBitrate is the ceiling of the estimate in bits per second.
	// Default: 30,000,000.
	MaxBitrate int64

	// InitialBitrate is the starting sender-side estimate in bits per
	// second. Default: 300,000.
	InitialBitrate int64

	// RTTBound is the round-trip time above which growth is suppressed,
	// treating high RTT as congestion the loss figures have not caught up
	// with yet. Zero disables the ceiling. Default: 300ms.
	RTTBound time.Duration

	// Smoothing is the EMA coefficient folding each reported loss fraction
	// into the smoothed estimate the policy acts on. Default: 0.5.
	Smoothing float64
}

// DefaultLossRateConfig returns the default loss-control parameters.
func DefaultLossRateConfig() LossRateConfig {
	return LossRateConfig{
		MinBitrate:     10_000,
		MaxBitrate:     30_000_000,
		InitialBitrate: 300_000,
		RTTBound:       300 * time.Millisecond,
		Smoothing:      0.5,
	}
}

// LossRateController maintains the sender-side bandwidth estimate As(t)
// driven by reported packet loss and round-trip time. In the combined
// controller it bounds the delay-based estimate from above.
type LossRateController struct {
	config       LossRateConfig
	currentBps   float64
	smoothedLoss float64
}

// NewLossRateController creates a controller; zero config fields take
// defaults. Range validation happens in the owning Controller's Config.
func NewLossRateController(config LossRateConfig) *LossRateController {
	def := DefaultLossRateConfig()
	if config.MinBitrate <= 0 {
		config.MinBitrate = def.MinBitrate
	}
	if config.MaxBitrate <= 0 {
		config.MaxBitrate = def.MaxBitrate
	}
	if config.InitialBitrate <= 0 {
		config.InitialBitrate = def.InitialBitrate
	}
	if config.Smoothing <= 0 || config.Smoothing > 1 {
		config.Smoothing = def.Smoothing
	}

	return &LossRateController{
		config:     config,
		currentBps: float64(config.InitialBitrate),
	}
}

// Update folds one loss report into the smoothed loss figure and applies the
// rate policy, returning the new sender-side estimate in bits per second.
func (c *LossRateController) Update(report LossReport) int64 {
	c.smoothedLoss = (1-c.config.Smoothing)*c.smoothedLoss +
		c.config.Smoothing*report.FractionLost

	switch {
	case c.smoothedLoss > highLossThreshold:
		c.currentBps *= 1.0 - 0.5*c.smoothedLoss

	case c.smoothedLoss < lowLossThreshold:
		if c.config.RTTBound > 0 && report.RTT > c.config.RTTBound {
			// Latent congestion: the path is slow even if it is not
			// dropping yet, so do not probe upward.
			break
		}
		c.currentBps *= lossIncreaseFactor

	default:
		// hold
	}

	c.currentBps = clampFloat(c.currentBps,
		float64(c.config.MinBitrate), float64(c.config.MaxBitrate))

	return int64(c.currentBps)
}

// Estimate returns the current sender-side estimate in bits per second.
func (c *LossRateController) Estimate() int64 {
	return int64(c.currentBps)
}

// SmoothedLoss returns the smoothed loss fraction the policy is acting on.
func (c *LossRateController) SmoothedLoss() float64 {
	return c.smoothedLoss
}

// Reset restores the initial estimate and clears the smoothed loss.
func (c *LossRateController) Reset() {
	c.currentBps = float64(c.config.InitialBitrate)
	c.smoothedLoss = 0
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
