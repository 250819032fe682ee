// Package cc implements congestion control for real-time media transports.
// It combines delay-based and loss-based bandwidth estimation in the style
// of Google Congestion Control (GCC) and exposes a pluggable controller that
// produces a target send bitrate.
package cc

import "time"

// Usage is the congestion state reported by the delay-based detector.
type Usage int

const (
	// UsageNormal means no congestion trend is detected.
	UsageNormal Usage = iota
	// UsageUnderuse means one-way delay is falling, the path queue is
	// draining faster than the sending rate assumes.
	UsageUnderuse
	// UsageOveruse means one-way delay is rising, the path queue is
	// building and the sending rate should back off.
	UsageOveruse
)

// String returns a string representation of the Usage state.
func (u Usage) String() string {
	switch u {
	case UsageNormal:
		return "Normal"
	case UsageUnderuse:
		return "Underuse"
	case UsageOveruse:
		return "Overuse"
	default:
		return "Unknown"
	}
}

// PacketObservation describes a single received media packet. It is produced
// once per packet on the measuring side and folded into filter state; no
// history is retained beyond the current burst group.
type PacketObservation struct {
	// SequenceNumber is the RTP sequence number, extended past 16 bits by
	// the transport where available.
	SequenceNumber uint32

	// SendTime is the 24-bit abs-send-time value stamped by the sender.
	// 6.18 fixed point, NTP seconds modulo 64.
	SendTime uint32

	// ArrivalTime is the local receive time from a monotonic clock.
	ArrivalTime time.Time

	// Size is the payload size in bytes, including padding.
	Size int
}

// LossReport carries the loss and timing figures from one transport feedback
// interval, typically one RTCP receiver report.
type LossReport struct {
	// FractionLost is the fraction of packets lost in the interval,
	// normalized to [0.0, 1.0].
	FractionLost float64

	// RTT is the round-trip time measured from the report, zero when the
	// transport could not derive one.
	RTT time.Duration

	// ExtendedHighestSeq is the extended highest sequence number received,
	// used to reject stale or reordered reports.
	ExtendedHighestSeq uint32
}

// Output is the controller's sole externally visible artifact: the target
// bitrate at a point in time.
type Output struct {
	// TargetBitrate is the target send bitrate in bits per second.
	TargetBitrate uint32

	// At is when the target was computed.
	At time.Time
}

// Constants for the abs-send-time header extension. The field is a 24-bit
// 6.18 fixed-point representation of NTP time modulo 64 seconds.
const (
	// AbsSendTimeMax is the wrap point of the 24-bit abs-send-time field.
	AbsSendTimeMax = 1 << 24

	// AbsSendTimeResolution is the duration of one abs-send-time unit in
	// seconds: 1/2^18, about 3.8 microseconds.
	AbsSendTimeResolution = 1.0 / (1 << 18)
)
