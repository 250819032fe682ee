package cc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelayRateController_InitialState(t *testing.T) {
	config := DefaultDelayRateConfig()
	c := NewDelayRateController(config)

	assert.Equal(t, RegionHold, c.Region(), "should start in Hold")
	assert.Equal(t, config.InitialBitrate, c.Estimate(), "should start at initial bitrate")
}

func TestDelayRateController_Transitions(t *testing.T) {
	// Transition table from the GCC draft:
	//
	// Signal    | Hold     | Increase | Decrease
	// ----------+----------+----------+---------
	// Overuse   | Decrease | Decrease | (stay)
	// Normal    | Increase | (stay)   | Hold
	// Underuse  | (stay)   | Hold     | Hold

	tests := []struct {
		name        string
		startRegion Region
		signal      Usage
		endRegion   Region
	}{
		{"Hold + Overuse -> Decrease", RegionHold, UsageOveruse, RegionDecrease},
		{"Hold + Normal -> Increase", RegionHold, UsageNormal, RegionIncrease},
		{"Hold + Underuse -> Hold", RegionHold, UsageUnderuse, RegionHold},

		{"Increase + Overuse -> Decrease", RegionIncrease, UsageOveruse, RegionDecrease},
		{"Increase + Normal -> Increase", RegionIncrease, UsageNormal, RegionIncrease},
		{"Increase + Underuse -> Hold", RegionIncrease, UsageUnderuse, RegionHold},

		{"Decrease + Overuse -> Decrease", RegionDecrease, UsageOveruse, RegionDecrease},
		{"Decrease + Normal -> Hold", RegionDecrease, UsageNormal, RegionHold},
		{"Decrease + Underuse -> Hold", RegionDecrease, UsageUnderuse, RegionHold},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewDelayRateController(DefaultDelayRateConfig())
			c.region = tt.startRegion // Force starting region

			c.Update(tt.signal, 1_000_000, time.Now())

			assert.Equal(t, tt.endRegion, c.Region(), "unexpected region after transition")
		})
	}
}

func TestDelayRateController_DecreaseAppliesBetaToIncomingRate(t *testing.T) {
	config := DefaultDelayRateConfig()
	config.Beta = 0.85
	c := NewDelayRateController(config)

	// Inflate the estimate well above the incoming rate, then overuse. The
	// decrease must come off the measured rate, not the estimate.
	c.currentBps = 5_000_000
	estimate := c.Update(UsageOveruse, 1_000_000, time.Now())

	assert.Equal(t, int64(850_000), estimate, "decrease should be beta * incoming rate")
	assert.Equal(t, RegionDecrease, c.Region())
}

func TestDelayRateController_DecreaseWithoutIncomingRate(t *testing.T) {
	c := NewDelayRateController(DefaultDelayRateConfig())

	// No measured rate yet: fall back to beta * current estimate.
	estimate := c.Update(UsageOveruse, 0, time.Now())

	assert.Equal(t, int64(float64(DefaultDelayRateConfig().InitialBitrate)*0.85), estimate)
}

func TestDelayRateController_MultiplicativeIncrease(t *testing.T) {
	c := NewDelayRateController(DefaultDelayRateConfig())
	now := time.Now()

	// First update only arms the timer; the estimate cannot grow without a
	// measured elapsed interval.
	estimate := c.Update(UsageNormal, 300_000, now)
	assert.Equal(t, int64(300_000), estimate, "no growth on first update")
	assert.Equal(t, RegionIncrease, c.Region())

	// One second later: 1.08x.
	estimate = c.Update(UsageNormal, 300_000, now.Add(time.Second))
	assert.InDelta(t, 324_000, estimate, 1, "should grow by 1.08 over one second")
}

func TestDelayRateController_IncreaseElapsedCapped(t *testing.T) {
	c := NewDelayRateController(DefaultDelayRateConfig())
	now := time.Now()

	c.Update(UsageNormal, 300_000, now)

	// A 10 second gap must not compound into 1.08^10.
	estimate := c.Update(UsageNormal, 300_000, now.Add(10*time.Second))
	assert.InDelta(t, 324_000, estimate, 1, "elapsed should cap at one second")
}

func TestDelayRateController_AdditiveIncreaseNearOperatingPoint(t *testing.T) {
	c := NewDelayRateController(DefaultDelayRateConfig())
	now := time.Now()

	// Two decreases around 1 Mbps establish the congested operating point.
	c.Update(UsageOveruse, 1_000_000, now)
	c.Update(UsageNormal, 1_000_000, now.Add(time.Second)) // Decrease -> Hold
	c.Update(UsageOveruse, 1_100_000, now.Add(2*time.Second))
	c.Update(UsageNormal, 1_100_000, now.Add(3*time.Second)) // Decrease -> Hold

	before := c.Estimate()

	// Incoming rate sits inside the operating-point band, so growth must be
	// additive: a small fixed step, not 8 percent.
	after := c.Update(UsageNormal, 1_100_000, now.Add(4*time.Second))

	assert.Greater(t, after, before, "should still grow")
	assert.Less(t, after-before, int64(20_000), "growth near the operating point should be additive")
}

func TestDelayRateController_HoldKeepsEstimate(t *testing.T) {
	c := NewDelayRateController(DefaultDelayRateConfig())
	now := time.Now()

	// Underuse from Hold stays in Hold.
	estimate := c.Update(UsageUnderuse, 500_000, now)
	assert.Equal(t, DefaultDelayRateConfig().InitialBitrate, estimate)

	estimate = c.Update(UsageUnderuse, 500_000, now.Add(time.Second))
	assert.Equal(t, DefaultDelayRateConfig().InitialBitrate, estimate)
}

func TestDelayRateController_BoundsEnforced(t *testing.T) {
	t.Run("min bitrate wins over decrease and ratio clamp", func(t *testing.T) {
		config := DefaultDelayRateConfig()
		config.MinBitrate = 50_000
		c := NewDelayRateController(config)

		// beta * 5000 and 1.5 * 5000 are both far below the floor.
		estimate := c.Update(UsageOveruse, 5_000, time.Now())
		assert.Equal(t, int64(50_000), estimate, "estimate must not fall below MinBitrate")
	})

	t.Run("max bitrate caps increase", func(t *testing.T) {
		config := DefaultDelayRateConfig()
		config.MaxBitrate = 320_000
		c := NewDelayRateController(config)
		now := time.Now()

		c.Update(UsageNormal, 10_000_000, now)
		estimate := c.Update(UsageNormal, 10_000_000, now.Add(time.Second))
		assert.Equal(t, int64(320_000), estimate, "estimate must not exceed MaxBitrate")
	})
}

func TestDelayRateController_RatioClamp(t *testing.T) {
	c := NewDelayRateController(DefaultDelayRateConfig())
	now := time.Now()
	c.currentBps = 2_000_000

	// Only 400 kbps is arriving; the estimate must not stay at 5x that.
	estimate := c.Update(UsageNormal, 400_000, now)
	assert.LessOrEqual(t, estimate, int64(600_000), "estimate capped at 1.5x incoming rate")
}

func TestDelayRateController_NoDirectDecreaseToIncrease(t *testing.T) {
	c := NewDelayRateController(DefaultDelayRateConfig())
	now := time.Now()

	c.Update(UsageOveruse, 1_000_000, now)
	assert.Equal(t, RegionDecrease, c.Region())

	// Normal after a decrease lands in Hold, never straight in Increase.
	c.Update(UsageNormal, 1_000_000, now.Add(time.Second))
	assert.Equal(t, RegionHold, c.Region())

	c.Update(UsageNormal, 1_000_000, now.Add(2*time.Second))
	assert.Equal(t, RegionIncrease, c.Region())
}

func TestDelayRateController_ContinuousOveruse(t *testing.T) {
	c := NewDelayRateController(DefaultDelayRateConfig())
	now := time.Now()

	// Repeated overuse keeps decreasing from the (falling) incoming rate
	// and never escapes the configured floor.
	incoming := int64(1_000_000)
	for i := 0; i < 20; i++ {
		estimate := c.Update(UsageOveruse, incoming, now.Add(time.Duration(i)*time.Second))
		assert.GreaterOrEqual(t, estimate, DefaultDelayRateConfig().MinBitrate)
		incoming = estimate
	}
	assert.Equal(t, RegionDecrease, c.Region())
}

func TestDelayRateController_Reset(t *testing.T) {
	c := NewDelayRateController(DefaultDelayRateConfig())
	now := time.Now()

	c.Update(UsageOveruse, 1_000_000, now)
	assert.NotEqual(t, DefaultDelayRateConfig().InitialBitrate, c.Estimate())

	c.Reset()

	assert.Equal(t, RegionHold, c.Region())
	assert.Equal(t, DefaultDelayRateConfig().InitialBitrate, c.Estimate())
}

func TestNewDelayRateController_AppliesDefaults(t *testing.T) {
	c := NewDelayRateController(DelayRateConfig{})

	def := DefaultDelayRateConfig()
	assert.Equal(t, def.InitialBitrate, c.Estimate())
	assert.Equal(t, def.MinBitrate, c.config.MinBitrate)
	assert.Equal(t, def.MaxBitrate, c.config.MaxBitrate)
	assert.Equal(t, def.Beta, c.config.Beta)
}

func TestRegion_String(t *testing.T) {
	tests := []struct {
		region   Region
		expected string
	}{
		{RegionHold, "Hold"},
		{RegionIncrease, "Increase"},
		{RegionDecrease, "Decrease"},
		{Region(42), "Unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.region.String())
		})
	}
}
