package cc

import "time"

// AbsSendTimeToDuration converts a 24-bit abs-send-time value to a Duration
// since the (arbitrary) epoch of the field. Value 1<<18 is exactly one second.
func AbsSendTimeToDuration(value uint32) time.Duration {
	seconds := float64(value) * AbsSendTimeResolution
	return time.Duration(seconds * float64(time.Second))
}

// UnwrapAbsSendTime computes the signed delta between two abs-send-time
// values, handling the 64-second wraparound with a half-range comparison:
// an apparent jump of more than 32 seconds in either direction is taken as
// a wrap. Returns the delta in abs-send-time units.
func UnwrapAbsSendTime(prev, curr uint32) int64 {
	diff := int32(curr) - int32(prev)

	halfRange := int32(AbsSendTimeMax / 2)
	if diff > halfRange {
		diff -= int32(AbsSendTimeMax)
	} else if diff < -halfRange {
		diff += int32(AbsSendTimeMax)
	}

	return int64(diff)
}

// UnwrapAbsSendTimeDuration computes the wrap-corrected time delta between
// two abs-send-time values as a Duration.
func UnwrapAbsSendTimeDuration(prev, curr uint32) time.Duration {
	delta := UnwrapAbsSendTime(prev, curr)
	seconds := float64(delta) * AbsSendTimeResolution
	return time.Duration(seconds * float64(time.Second))
}

// AbsCaptureTimeResolution is the duration of one abs-capture-time unit.
// The UQ32.32 format carries 32 fractional bits: 1/2^32 seconds per unit.
const AbsCaptureTimeResolution = 1.0 / (1 << 32)

// AbsCaptureTimeToDuration converts a 64-bit UQ32.32 abs-capture-time value
// to a Duration. Upper 32 bits are whole seconds, lower 32 are the fraction.
func AbsCaptureTimeToDuration(value uint64) time.Duration {
	seconds := value >> 32
	fraction := value & 0xFFFFFFFF

	fractionDuration := time.Duration(float64(fraction) * AbsCaptureTimeResolution * float64(time.Second))

	return time.Duration(seconds)*time.Second + fractionDuration
}
