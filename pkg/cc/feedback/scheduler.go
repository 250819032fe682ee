package feedback

import (
	"time"

	"github.com/voxrtc/cc/pkg/cc"
)

// SchedulerConfig configures outgoing feedback timing.
type SchedulerConfig struct {
	// Interval is the regular feedback send interval. Default: 1 second.
	Interval time.Duration

	// DecreaseThreshold is the minimum relative decrease of the target
	// that triggers an immediate send instead of waiting for the next
	// interval. Default: 0.03.
	DecreaseThreshold float64

	// SenderSSRC identifies us, the report sender, in outgoing REMB.
	SenderSSRC uint32
}

// DefaultSchedulerConfig returns the default feedback timing.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Interval:          time.Second,
		DecreaseThreshold: 0.03,
	}
}

// Scheduler decides when the current target bitrate goes back out on the
// wire: once per interval, and immediately after a significant decrease so
// the sender backs off without waiting out the cycle.
type Scheduler struct {
	config    SchedulerConfig
	lastSent  time.Time
	lastValue uint32
}

// NewScheduler creates a Scheduler. A non-positive interval selects the
// default.
func NewScheduler(config SchedulerConfig) *Scheduler {
	if config.Interval <= 0 {
		config.Interval = time.Second
	}
	return &Scheduler{config: config}
}

// ShouldSend reports whether the target should be sent at now.
func (s *Scheduler) ShouldSend(target uint32, now time.Time) bool {
	if s.lastValue > 0 {
		decrease := float64(int64(s.lastValue)-int64(target)) / float64(s.lastValue)
		if decrease >= s.config.DecreaseThreshold {
			return true
		}
	}
	return s.lastSent.IsZero() || now.Sub(s.lastSent) >= s.config.Interval
}

// MaybeEncode checks the schedule and, when due, marshals a REMB for the
// output and records the send. Returns (nil, false, nil) when nothing is
// due.
func (s *Scheduler) MaybeEncode(out cc.Output, mediaSSRCs []uint32, now time.Time) ([]byte, bool, error) {
	if !s.ShouldSend(out.TargetBitrate, now) {
		return nil, false, nil
	}

	data, err := MarshalTarget(out, s.config.SenderSSRC, mediaSSRCs)
	if err != nil {
		return nil, false, err
	}

	s.lastSent = now
	s.lastValue = out.TargetBitrate
	return data, true, nil
}

// LastSent returns the value and time of the last send, zero before the
// first one.
func (s *Scheduler) LastSent() (uint32, time.Time) {
	return s.lastValue, s.lastSent
}

// Reset clears the send history.
func (s *Scheduler) Reset() {
	s.lastSent = time.Time{}
	s.lastValue = 0
}
