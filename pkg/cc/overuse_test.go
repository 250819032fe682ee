package cc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/voxrtc/cc/pkg/cc/internal"
)

func TestOveruseDetector_InitialState(t *testing.T) {
	d := NewOveruseDetector(DefaultOveruseConfig(), internal.NewMockClock(time.Time{}))

	assert.Equal(t, UsageNormal, d.State())
	assert.Equal(t, DefaultOveruseConfig().InitialThreshold, d.Threshold())
}

func TestOveruseDetector_BelowThresholdIsNormal(t *testing.T) {
	clk := internal.NewMockClock(time.Time{})
	d := NewOveruseDetector(DefaultOveruseConfig(), clk)

	for i := 0; i < 10; i++ {
		assert.Equal(t, UsageNormal, d.Detect(5.0))
		clk.Advance(20 * time.Millisecond)
	}
}

func TestOveruseDetector_SustainedOveruse(t *testing.T) {
	clk := internal.NewMockClock(time.Time{})
	d := NewOveruseDetector(DefaultOveruseConfig(), clk)

	// First estimate above the threshold opens the overuse region but must
	// not signal yet: one sample is not sustained.
	assert.Equal(t, UsageNormal, d.Detect(20.0))

	// Second consecutive sample after more than OveruseTime, still rising.
	clk.Advance(20 * time.Millisecond)
	assert.Equal(t, UsageOveruse, d.Detect(21.0))
}

func TestOveruseDetector_TooShortIsNotOveruse(t *testing.T) {
	clk := internal.NewMockClock(time.Time{})
	d := NewOveruseDetector(DefaultOveruseConfig(), clk)

	d.Detect(20.0)
	clk.Advance(2 * time.Millisecond) // below OveruseTime
	assert.Equal(t, UsageNormal, d.Detect(21.0), "overuse needs at least OveruseTime above threshold")
}

func TestOveruseDetector_FallingGradientSuppressed(t *testing.T) {
	clk := internal.NewMockClock(time.Time{})
	d := NewOveruseDetector(DefaultOveruseConfig(), clk)

	d.Detect(30.0)
	clk.Advance(20 * time.Millisecond)

	// Still above the threshold but falling: the queue is draining on its
	// own, no signal.
	assert.Equal(t, UsageNormal, d.Detect(20.0))
}

func TestOveruseDetector_Underuse(t *testing.T) {
	clk := internal.NewMockClock(time.Time{})
	d := NewOveruseDetector(DefaultOveruseConfig(), clk)

	assert.Equal(t, UsageUnderuse, d.Detect(-20.0))
}

func TestOveruseDetector_RecoversToNormal(t *testing.T) {
	clk := internal.NewMockClock(time.Time{})
	d := NewOveruseDetector(DefaultOveruseConfig(), clk)

	d.Detect(20.0)
	clk.Advance(20 * time.Millisecond)
	assert.Equal(t, UsageOveruse, d.Detect(21.0))

	clk.Advance(20 * time.Millisecond)
	assert.Equal(t, UsageNormal, d.Detect(1.0))
}

func TestOveruseDetector_CallbackOnStateChange(t *testing.T) {
	clk := internal.NewMockClock(time.Time{})
	d := NewOveruseDetector(DefaultOveruseConfig(), clk)

	type change struct{ old, new Usage }
	var changes []change
	d.SetCallback(func(old, new Usage) {
		changes = append(changes, change{old, new})
	})

	d.Detect(20.0)
	clk.Advance(20 * time.Millisecond)
	d.Detect(21.0) // Normal -> Overuse
	clk.Advance(20 * time.Millisecond)
	d.Detect(1.0) // Overuse -> Normal
	clk.Advance(20 * time.Millisecond)
	d.Detect(1.0) // no change, no callback

	assert.Equal(t, []change{
		{UsageNormal, UsageOveruse},
		{UsageOveruse, UsageNormal},
	}, changes)
}

func TestOveruseDetector_ThresholdTightensAfterOveruse(t *testing.T) {
	clk := internal.NewMockClock(time.Time{})
	d := NewOveruseDetector(DefaultOveruseConfig(), clk)

	before := d.Threshold()

	d.Detect(20.0)
	clk.Advance(20 * time.Millisecond)
	d.Detect(21.0)

	assert.Less(t, d.Threshold(), before, "threshold should tighten after an overuse signal")
	assert.GreaterOrEqual(t, d.Threshold(), DefaultOveruseConfig().MinThreshold)
}

func TestOveruseDetector_ThresholdAdaptsDownward(t *testing.T) {
	clk := internal.NewMockClock(time.Time{})
	d := NewOveruseDetector(DefaultOveruseConfig(), clk)

	// Small gradients pull the threshold slowly toward them.
	d.Detect(2.0) // first call only arms the adaptation timer
	for i := 0; i < 50; i++ {
		clk.Advance(100 * time.Millisecond)
		d.Detect(2.0)
	}

	assert.Less(t, d.Threshold(), DefaultOveruseConfig().InitialThreshold)
	assert.GreaterOrEqual(t, d.Threshold(), DefaultOveruseConfig().MinThreshold)
}

func TestOveruseDetector_ExtremeSpikeDoesNotDragThreshold(t *testing.T) {
	clk := internal.NewMockClock(time.Time{})
	d := NewOveruseDetector(DefaultOveruseConfig(), clk)

	d.Detect(100.0) // arms the timer; overshoot far above the adapt margin
	assert.Equal(t, DefaultOveruseConfig().InitialThreshold, d.Threshold())

	clk.Advance(20 * time.Millisecond)
	d.Detect(100.0) // adaptation skipped, then the overuse signal tightens

	assert.InDelta(t, DefaultOveruseConfig().InitialThreshold*postOveruseDamping, d.Threshold(), 1e-9,
		"spike must not adapt the threshold; only the overuse damping applies")
}

func TestOveruseDetector_Reset(t *testing.T) {
	clk := internal.NewMockClock(time.Time{})
	d := NewOveruseDetector(DefaultOveruseConfig(), clk)

	d.Detect(20.0)
	clk.Advance(20 * time.Millisecond)
	assert.Equal(t, UsageOveruse, d.Detect(21.0))

	d.Reset()

	assert.Equal(t, UsageNormal, d.State())
	assert.Equal(t, DefaultOveruseConfig().InitialThreshold, d.Threshold())
}

func TestOveruseDetector_NilClockDefaults(t *testing.T) {
	d := NewOveruseDetector(DefaultOveruseConfig(), nil)
	assert.Equal(t, UsageNormal, d.Detect(1.0))
}
