// Package feedback adapts the congestion-control core to the transport's
// native RTP/RTCP structures. The core never sees a wire format: this
// package decodes packets and receiver reports into observations and loss
// reports, and encodes target bitrates back into REMB feedback.
package feedback

import (
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/voxrtc/cc/pkg/cc"
)

// ntpEpochOffset is the offset between the NTP epoch (1900) and the Unix
// epoch (1970) in seconds.
const ntpEpochOffset = 2208988800

// dlsrResolution is the unit of the LSR/DLSR fields: 1/65536 second.
const dlsrResolution = float64(time.Second) / 65536

// Codec translates between transport structures and controller events.
// Extension IDs come from SDP negotiation and are fixed per session.
type Codec struct {
	// AbsSendTimeID is the negotiated header extension ID for
	// abs-send-time. Zero means not negotiated.
	AbsSendTimeID uint8

	// AbsCaptureTimeID is the negotiated header extension ID for
	// abs-capture-time, used as a fallback when abs-send-time is absent.
	AbsCaptureTimeID uint8
}

// DecodePacket parses a raw RTP packet into a PacketObservation. ok is
// false when the packet is not valid RTP or carries no usable timing
// extension; such packets contribute nothing to estimation.
func (c *Codec) DecodePacket(raw []byte, arrival time.Time) (obs cc.PacketObservation, ok bool) {
	var header rtp.Header
	if _, err := header.Unmarshal(raw); err != nil {
		return cc.PacketObservation{}, false
	}

	sendTime, ok := c.sendTimeFromHeader(&header)
	if !ok {
		return cc.PacketObservation{}, false
	}

	return cc.PacketObservation{
		SequenceNumber: uint32(header.SequenceNumber),
		SendTime:       sendTime,
		ArrivalTime:    arrival,
		Size:           len(raw),
	}, true
}

// sendTimeFromHeader extracts a 24-bit abs-send-time value, converting from
// abs-capture-time when only that extension was negotiated.
func (c *Codec) sendTimeFromHeader(header *rtp.Header) (uint32, bool) {
	if c.AbsSendTimeID != 0 {
		if extData := header.GetExtension(c.AbsSendTimeID); len(extData) >= 3 {
			var ext rtp.AbsSendTimeExtension
			if err := ext.Unmarshal(extData); err == nil {
				return uint32(ext.Timestamp), true
			}
		}
	}

	if c.AbsCaptureTimeID != 0 {
		if extData := header.GetExtension(c.AbsCaptureTimeID); len(extData) >= 8 {
			var ext rtp.AbsCaptureTimeExtension
			if err := ext.Unmarshal(extData); err == nil {
				// Fold the UQ32.32 capture time into abs-send-time's
				// 6.18 layout: 6 bits of seconds mod 64, top 18 bits of
				// the fraction.
				seconds := (ext.Timestamp >> 32) & 0x3F
				fraction := (ext.Timestamp >> 14) & 0x3FFFF
				return uint32((seconds << 18) | fraction), true
			}
		}
	}

	return 0, false
}

// DecodeReceptionReport converts one RTCP reception report block into a
// LossReport. now is used together with the LSR/DLSR fields to derive the
// round-trip time; RTT stays zero when the block carries no LSR.
func DecodeReceptionReport(report rtcp.ReceptionReport, now time.Time) cc.LossReport {
	lr := cc.LossReport{
		FractionLost:       float64(report.FractionLost) / 255.0,
		ExtendedHighestSeq: report.LastSequenceNumber,
	}

	if report.LastSenderReport != 0 {
		// RTT = now - LSR - DLSR, all in middle-32 NTP units.
		nowNTP := ntpMiddle32(now)
		units := nowNTP - report.LastSenderReport - report.Delay
		// A negative span wraps around uint32; treat anything above half
		// the range as clock skew and report no RTT.
		if units < 1<<31 {
			lr.RTT = time.Duration(float64(units) * dlsrResolution)
		}
	}

	return lr
}

// EncodeTarget builds a REMB packet carrying the controller output for the
// given media SSRCs, ready to hand to the transport's RTCP writer.
func EncodeTarget(out cc.Output, senderSSRC uint32, mediaSSRCs []uint32) *rtcp.ReceiverEstimatedMaximumBitrate {
	return &rtcp.ReceiverEstimatedMaximumBitrate{
		SenderSSRC: senderSSRC,
		Bitrate:    float32(out.TargetBitrate),
		SSRCs:      mediaSSRCs,
	}
}

// MarshalTarget is EncodeTarget plus serialization to wire bytes.
func MarshalTarget(out cc.Output, senderSSRC uint32, mediaSSRCs []uint32) ([]byte, error) {
	return EncodeTarget(out, senderSSRC, mediaSSRCs).Marshal()
}

// ntpMiddle32 returns the middle 32 bits of t as an NTP timestamp: low 16
// bits of the seconds, high 16 bits of the fraction.
func ntpMiddle32(t time.Time) uint32 {
	seconds := uint64(t.Unix() + ntpEpochOffset)
	fraction := uint64(t.Nanosecond()) << 32 / uint64(time.Second)
	return uint32(((seconds & 0xFFFF) << 16) | (fraction >> 16))
}
