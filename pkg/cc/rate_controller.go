package cc

import (
	"math"
	"time"
)

// Region is the AIMD state machine region.
type Region int

const (
	// RegionHold keeps the rate unchanged. Initial region, and the buffer
	// between Decrease and Increase.
	RegionHold Region = iota
	// RegionIncrease grows the rate additively or multiplicatively.
	RegionIncrease
	// RegionDecrease backs the rate off multiplicatively.
	RegionDecrease
)

// String returns a string representation of the Region.
func (r Region) String() string {
	switch r {
	case RegionHold:
		return "Hold"
	case RegionIncrease:
		return "Increase"
	case RegionDecrease:
		return "Decrease"
	default:
		return "Unknown"
	}
}

// DelayRateConfig configures the delay-based AIMD controller.
type DelayRateConfig struct {
	// MinBitrate is the floor of the estimate in bits per second.
	// Default: 10,000.
	MinBitrate int64

	// MaxBitrate is the ceiling of the estimate in bits per second.
	// Default: 30,000,000.
	MaxBitrate int64

	// InitialBitrate is the starting estimate in bits per second.
	// Default: 300,000.
	InitialBitrate int64

	// Beta is the multiplicative decrease factor applied to the measured
	// incoming rate on overuse. Valid range [0.8, 0.95]. Default: 0.85.
	Beta float64
}

// DefaultDelayRateConfig returns the default AIMD parameters.
func DefaultDelayRateConfig() DelayRateConfig {
	return DelayRateConfig{
		MinBitrate:     10_000,
		MaxBitrate:     30_000_000,
		InitialBitrate: 300_000,
		Beta:           0.85,
	}
}

// Increase tuning. The additive step approximates one expected packet per
// response time, the multiplicative factor is the GCC 1.08 per second.
const (
	multiplicativeIncreaseFactor = 1.08
	assumedFrameRate             = 30.0
	maxPacketBits                = 1200 * 8
	responseTime                 = 400 * time.Millisecond
	minAdditiveStepBits          = 1000.0
	decreaseEMAAlpha             = 0.95
)

// DelayRateController turns congestion signals from the overuse detector
// into a delay-based bitrate estimate via AIMD, following the GCC
// transition table:
//
//	Signal    | Hold     | Increase | Decrease
//	----------+----------+----------+---------
//	Overuse   | Decrease | Decrease | (stay)
//	Normal    | Increase | (stay)   | Hold
//	Underuse  | (stay)   | Hold     | Hold
//
// The decrease always applies Beta to the measured incoming rate rather
// than the current estimate, so the controller responds to what the sender
// actually transmits. Each decrease also records the incoming rate into an
// exponential average: while the incoming rate sits within three standard
// deviations of that average the controller is probing near its last known
// congested operating point and grows additively; far below it, growth is
// multiplicative to recover quickly.
type DelayRateController struct {
	config     DelayRateConfig
	region     Region
	currentBps int64
	lastUpdate time.Time

	// Operating point where overuse last occurred, tracked as an EMA of
	// the incoming rate at decrease time plus its variance.
	decreaseEMA    float64
	decreaseEMAVar float64
	decreaseStdDev float64
}

// NewDelayRateController creates a controller; zero config fields take
// defaults. Range validation happens in the owning Controller's Config.
func NewDelayRateController(config DelayRateConfig) *DelayRateController {
	def := DefaultDelayRateConfig()
	if config.MinBitrate <= 0 {
		config.MinBitrate = def.MinBitrate
	}
	if config.MaxBitrate <= 0 {
		config.MaxBitrate = def.MaxBitrate
	}
	if config.InitialBitrate <= 0 {
		config.InitialBitrate = def.InitialBitrate
	}
	if config.Beta <= 0 || config.Beta >= 1 {
		config.Beta = def.Beta
	}

	return &DelayRateController{
		config:     config,
		region:     RegionHold,
		currentBps: config.InitialBitrate,
	}
}

// Update consumes one congestion signal plus the measured incoming rate and
// returns the new delay-based estimate in bits per second.
func (c *DelayRateController) Update(signal Usage, incomingRate int64, now time.Time) int64 {
	c.transition(signal)
	c.adjust(incomingRate, now)

	// Keep the estimate from running away from reality: never more than
	// 1.5x what is actually arriving.
	if incomingRate > 0 {
		maxByRatio := int64(1.5 * float64(incomingRate))
		if c.currentBps > maxByRatio {
			c.currentBps = maxByRatio
		}
	}

	// Configured bounds win over the ratio clamp.
	c.currentBps = clampInt64(c.currentBps, c.config.MinBitrate, c.config.MaxBitrate)

	c.lastUpdate = now
	return c.currentBps
}

func (c *DelayRateController) transition(signal Usage) {
	switch c.region {
	case RegionHold:
		switch signal {
		case UsageOveruse:
			c.region = RegionDecrease
		case UsageNormal:
			c.region = RegionIncrease
		case UsageUnderuse:
			// stay
		}

	case RegionIncrease:
		switch signal {
		case UsageOveruse:
			c.region = RegionDecrease
		case UsageNormal:
			// stay
		case UsageUnderuse:
			c.region = RegionHold
		}

	case RegionDecrease:
		switch signal {
		case UsageOveruse:
			// stay
		case UsageNormal:
			// Hold first, never straight back to Increase, or the
			// controller oscillates on the congestion boundary.
			c.region = RegionHold
		case UsageUnderuse:
			c.region = RegionHold
		}
	}
}

func (c *DelayRateController) adjust(incomingRate int64, now time.Time) {
	switch c.region {
	case RegionDecrease:
		if incomingRate > 0 {
			c.currentBps = int64(c.config.Beta * float64(incomingRate))
			c.recordDecrease(float64(incomingRate))
		} else {
			c.currentBps = int64(c.config.Beta * float64(c.currentBps))
		}

	case RegionIncrease:
		if c.lastUpdate.IsZero() {
			return
		}
		elapsed := math.Min(now.Sub(c.lastUpdate).Seconds(), 1.0)
		if elapsed <= 0 {
			return
		}
		if c.nearOperatingPoint(incomingRate) {
			c.currentBps += c.additiveStep(elapsed)
		} else {
			eta := math.Pow(multiplicativeIncreaseFactor, elapsed)
			c.currentBps = int64(eta * float64(c.currentBps))
		}

	case RegionHold:
		// no change
	}
}

// nearOperatingPoint reports whether the incoming rate is close to the rate
// at which overuse was last detected.
func (c *DelayRateController) nearOperatingPoint(incomingRate int64) bool {
	if c.decreaseEMA == 0 || incomingRate <= 0 {
		return false
	}
	r := float64(incomingRate)
	return r > c.decreaseEMA-3*c.decreaseStdDev && r < c.decreaseEMA+3*c.decreaseStdDev
}

// additiveStep is roughly one expected packet of bits per response time.
func (c *DelayRateController) additiveStep(elapsedSeconds float64) int64 {
	bitsPerFrame := float64(c.currentBps) / assumedFrameRate
	packetsPerFrame := math.Ceil(bitsPerFrame / maxPacketBits)
	expectedPacketBits := bitsPerFrame / packetsPerFrame

	alpha := 0.5 * math.Min(elapsedSeconds*float64(time.Second)/float64(responseTime), 1.0)
	return int64(math.Max(minAdditiveStepBits, alpha*expectedPacketBits))
}

func (c *DelayRateController) recordDecrease(incomingRate float64) {
	if c.decreaseEMA == 0 {
		c.decreaseEMA = incomingRate
		return
	}
	d := incomingRate - c.decreaseEMA
	c.decreaseEMA += decreaseEMAAlpha * d
	c.decreaseEMAVar = (1 - decreaseEMAAlpha) * (c.decreaseEMAVar + decreaseEMAAlpha*d*d)
	c.decreaseStdDev = math.Sqrt(c.decreaseEMAVar)
}

// Region returns the current AIMD region.
func (c *DelayRateController) Region() Region {
	return c.region
}

// Estimate returns the current delay-based estimate in bits per second.
func (c *DelayRateController) Estimate() int64 {
	return c.currentBps
}

// Reset restores the initial estimate and region.
func (c *DelayRateController) Reset() {
	c.region = RegionHold
	c.currentBps = c.config.InitialBitrate
	c.lastUpdate = time.Time{}
	c.decreaseEMA = 0
	c.decreaseEMAVar = 0
	c.decreaseStdDev = 0
}

func clampInt64(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
