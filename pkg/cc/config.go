package cc

import (
	"errors"
	"fmt"
	"time"

	"github.com/pion/logging"
)

// ErrConfiguration is returned by New when the configuration is invalid.
// It is the only hard failure the engine surfaces; every per-event error is
// handled internally by dropping the event.
var ErrConfiguration = errors.New("invalid congestion controller configuration")

// Variant selects the controller composition at construction time. The
// choice is fixed for the controller's lifetime; there is no per-call
// dispatch between variants.
type Variant int

const (
	// VariantDelayOnly produces the delay-based estimate alone and only
	// logs loss reports, matching classic REMB behavior.
	VariantDelayOnly Variant = iota

	// VariantDelayLoss combines both signals: the target is the minimum of
	// the delay-based and loss-based estimates.
	VariantDelayLoss
)

// String returns a string representation of the Variant.
func (v Variant) String() string {
	switch v {
	case VariantDelayOnly:
		return "delay-only"
	case VariantDelayLoss:
		return "delay+loss"
	default:
		return "unknown"
	}
}

// Beta must stay inside this range; outside it the decrease either barely
// reacts or collapses the rate.
const (
	minBeta = 0.80
	maxBeta = 0.95
)

// Config is the construction-time configuration of a Controller.
// Zero-valued fields take defaults; fields that are set must be consistent
// or New fails with ErrConfiguration.
type Config struct {
	// Variant selects the controller composition.
	Variant Variant

	// MinBitrate and MaxBitrate bound the target in bits per second.
	// Defaults: 10,000 and 30,000,000.
	MinBitrate int64
	MaxBitrate int64

	// InitialBitrate is the starting target in bits per second and must
	// lie within [MinBitrate, MaxBitrate]. Default: 300,000.
	InitialBitrate int64

	// Beta is the multiplicative decrease factor, within [0.80, 0.95].
	// Default: 0.85.
	Beta float64

	// GroupWindow is the send-time window for burst grouping.
	// Default: 5ms.
	GroupWindow time.Duration

	// FeedbackInterval is the minimum spacing between applied loss
	// reports; reports arriving faster coalesce into the next update.
	// Default: 1s.
	FeedbackInterval time.Duration

	// RTTBound is the round-trip time above which the loss controller
	// stops probing upward. Default: 300ms.
	RTTBound time.Duration

	// Hysteresis is the relative change of the target required before the
	// output callback fires. Default: 0.03.
	Hysteresis float64

	// FilterType selects the delay filter. Default: FilterKalman.
	FilterType FilterType

	// LoggerFactory builds the controller's logger. Default: the pion
	// default factory.
	LoggerFactory logging.LoggerFactory
}

// DefaultConfig returns a combined-variant configuration with standard
// parameters.
func DefaultConfig() Config {
	return Config{
		Variant:          VariantDelayLoss,
		MinBitrate:       10_000,
		MaxBitrate:       30_000_000,
		InitialBitrate:   300_000,
		Beta:             0.85,
		GroupWindow:      DefaultGroupWindow,
		FeedbackInterval: time.Second,
		RTTBound:         300 * time.Millisecond,
		Hysteresis:       0.03,
		FilterType:       FilterKalman,
	}
}

// withDefaults fills unset fields. Called after validation, so it never
// masks an inconsistent value.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MinBitrate == 0 {
		c.MinBitrate = def.MinBitrate
	}
	if c.MaxBitrate == 0 {
		c.MaxBitrate = def.MaxBitrate
	}
	if c.InitialBitrate == 0 {
		c.InitialBitrate = clampInt64(def.InitialBitrate, c.MinBitrate, c.MaxBitrate)
	}
	if c.Beta == 0 {
		c.Beta = def.Beta
	}
	if c.GroupWindow == 0 {
		c.GroupWindow = def.GroupWindow
	}
	if c.FeedbackInterval == 0 {
		c.FeedbackInterval = def.FeedbackInterval
	}
	if c.RTTBound == 0 {
		c.RTTBound = def.RTTBound
	}
	if c.Hysteresis == 0 {
		c.Hysteresis = def.Hysteresis
	}
	if c.LoggerFactory == nil {
		c.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	return c
}

// Validate checks the configuration for consistency. Inconsistent values
// are a hard error, never silently clamped.
func (c Config) Validate() error {
	if c.Variant != VariantDelayOnly && c.Variant != VariantDelayLoss {
		return fmt.Errorf("%w: unknown variant %d", ErrConfiguration, int(c.Variant))
	}
	if c.FilterType != FilterKalman && c.FilterType != FilterTrendline {
		return fmt.Errorf("%w: unknown filter type %d", ErrConfiguration, int(c.FilterType))
	}
	if c.MinBitrate < 0 || c.MaxBitrate < 0 || c.InitialBitrate < 0 {
		return fmt.Errorf("%w: bitrates must be non-negative", ErrConfiguration)
	}
	if c.MinBitrate != 0 && c.MaxBitrate != 0 && c.MinBitrate > c.MaxBitrate {
		return fmt.Errorf("%w: min bitrate %d above max bitrate %d",
			ErrConfiguration, c.MinBitrate, c.MaxBitrate)
	}
	if c.InitialBitrate != 0 {
		if c.MinBitrate != 0 && c.InitialBitrate < c.MinBitrate {
			return fmt.Errorf("%w: initial bitrate %d below min bitrate %d",
				ErrConfiguration, c.InitialBitrate, c.MinBitrate)
		}
		if c.MaxBitrate != 0 && c.InitialBitrate > c.MaxBitrate {
			return fmt.Errorf("%w: initial bitrate %d above max bitrate %d",
				ErrConfiguration, c.InitialBitrate, c.MaxBitrate)
		}
	}
	if c.Beta != 0 && (c.Beta < minBeta || c.Beta > maxBeta) {
		return fmt.Errorf("%w: beta %.3f outside [%.2f, %.2f]",
			ErrConfiguration, c.Beta, minBeta, maxBeta)
	}
	if c.GroupWindow < 0 || c.FeedbackInterval < 0 || c.RTTBound < 0 {
		return fmt.Errorf("%w: durations must be non-negative", ErrConfiguration)
	}
	if c.Hysteresis < 0 || c.Hysteresis >= 1 {
		return fmt.Errorf("%w: hysteresis %.3f outside [0, 1)", ErrConfiguration, c.Hysteresis)
	}
	return nil
}
