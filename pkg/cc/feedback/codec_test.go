package feedback

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxrtc/cc/pkg/cc"
)

// makeRTPWithAbsSendTime builds an RTP packet carrying the 3-byte
// abs-send-time extension in one-byte header format.
func makeRTPWithAbsSendTime(ssrc uint32, extID uint8, sendTime uint32) []byte {
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    96,
			SequenceNumber: 4321,
			Timestamp:      12345678,
			SSRC:           ssrc,
		},
		Payload: []byte{0x00, 0x01, 0x02, 0x03},
	}
	extData := []byte{
		byte(sendTime >> 16),
		byte(sendTime >> 8),
		byte(sendTime),
	}
	_ = pkt.Header.SetExtension(extID, extData)

	data, _ := pkt.Marshal()
	return data
}

// makeRTPWithAbsCaptureTime builds an RTP packet carrying the 8-byte
// abs-capture-time extension.
func makeRTPWithAbsCaptureTime(ssrc uint32, extID uint8, captureTime uint64) []byte {
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    96,
			SequenceNumber: 4321,
			SSRC:           ssrc,
		},
		Payload: []byte{0x00, 0x01, 0x02, 0x03},
	}
	extData := make([]byte, 8)
	binary.BigEndian.PutUint64(extData, captureTime)
	_ = pkt.Header.SetExtension(extID, extData)

	data, _ := pkt.Marshal()
	return data
}

func makeRTPPlain(ssrc uint32) []byte {
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    96,
			SequenceNumber: 4321,
			SSRC:           ssrc,
		},
		Payload: []byte{0x00, 0x01, 0x02, 0x03},
	}
	data, _ := pkt.Marshal()
	return data
}

func TestCodec_DecodePacket_AbsSendTime(t *testing.T) {
	codec := &Codec{AbsSendTimeID: 3}
	arrival := time.Now()
	sendTime := uint32(0x010000) // a quarter second in 6.18 format

	raw := makeRTPWithAbsSendTime(0xABCD, 3, sendTime)
	obs, ok := codec.DecodePacket(raw, arrival)

	require.True(t, ok)
	assert.Equal(t, sendTime, obs.SendTime)
	assert.Equal(t, uint32(4321), obs.SequenceNumber)
	assert.Equal(t, arrival, obs.ArrivalTime)
	assert.Equal(t, len(raw), obs.Size)
}

func TestCodec_DecodePacket_AbsCaptureTimeFallback(t *testing.T) {
	codec := &Codec{AbsCaptureTimeID: 5}

	// 100.25 seconds in UQ32.32.
	captureTime := uint64(100)<<32 | uint64(1)<<30
	raw := makeRTPWithAbsCaptureTime(0xABCD, 5, captureTime)

	obs, ok := codec.DecodePacket(raw, time.Now())
	require.True(t, ok)

	// Same instant folded into 6.18: seconds mod 64, top 18 fraction bits.
	expected := uint32((100%64)<<18 | 1<<16)
	assert.Equal(t, expected, obs.SendTime)
}

func TestCodec_DecodePacket_NoTimingExtension(t *testing.T) {
	codec := &Codec{AbsSendTimeID: 3}

	_, ok := codec.DecodePacket(makeRTPPlain(0xABCD), time.Now())
	assert.False(t, ok, "packet without the negotiated extension is unusable")
}

func TestCodec_DecodePacket_NoNegotiatedIDs(t *testing.T) {
	codec := &Codec{}

	_, ok := codec.DecodePacket(makeRTPWithAbsSendTime(0xABCD, 3, 1000), time.Now())
	assert.False(t, ok, "without negotiated IDs nothing can be extracted")
}

func TestCodec_DecodePacket_Garbage(t *testing.T) {
	codec := &Codec{AbsSendTimeID: 3}

	_, ok := codec.DecodePacket([]byte{0x01, 0x02}, time.Now())
	assert.False(t, ok)

	_, ok = codec.DecodePacket(nil, time.Now())
	assert.False(t, ok)
}

func TestDecodeReceptionReport_FractionLost(t *testing.T) {
	tests := []struct {
		name     string
		fraction uint8
		expected float64
	}{
		{"no loss", 0, 0},
		{"half", 128, 128.0 / 255.0},
		{"total", 255, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := DecodeReceptionReport(rtcp.ReceptionReport{
				FractionLost:       tt.fraction,
				LastSequenceNumber: 1000,
			}, time.Now())
			assert.InDelta(t, tt.expected, report.FractionLost, 1e-9)
			assert.Equal(t, uint32(1000), report.ExtendedHighestSeq)
		})
	}
}

func TestDecodeReceptionReport_RTT(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// The sender report left 300ms ago, the receiver held it 200ms before
	// reporting: 100ms of round trip remain.
	lsr := ntpMiddle32(now.Add(-300 * time.Millisecond))
	dlsr := uint32(200 * 65536 / 1000)

	report := DecodeReceptionReport(rtcp.ReceptionReport{
		LastSenderReport: lsr,
		Delay:            dlsr,
	}, now)

	assert.InDelta(t, float64(100*time.Millisecond), float64(report.RTT), float64(2*time.Millisecond))
}

func TestDecodeReceptionReport_NoLSRNoRTT(t *testing.T) {
	report := DecodeReceptionReport(rtcp.ReceptionReport{FractionLost: 10}, time.Now())
	assert.Zero(t, report.RTT, "no LSR means no RTT")
}

func TestDecodeReceptionReport_SkewedLSRNoRTT(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// LSR claims to be from the future: clock skew, report no RTT rather
	// than a bogus near-2^32 value.
	lsr := ntpMiddle32(now.Add(10 * time.Second))
	report := DecodeReceptionReport(rtcp.ReceptionReport{LastSenderReport: lsr}, now)

	assert.Zero(t, report.RTT)
}

func TestEncodeTarget(t *testing.T) {
	out := cc.Output{TargetBitrate: 250_000}
	pkt := EncodeTarget(out, 0x1111, []uint32{0x2222, 0x3333})

	assert.Equal(t, uint32(0x1111), pkt.SenderSSRC)
	assert.Equal(t, float32(250_000), pkt.Bitrate)
	assert.Equal(t, []uint32{0x2222, 0x3333}, pkt.SSRCs)
}

func TestMarshalTarget_Roundtrip(t *testing.T) {
	out := cc.Output{TargetBitrate: 250_000}

	data, err := MarshalTarget(out, 0x1111, []uint32{0x2222})
	require.NoError(t, err)

	pkts, err := rtcp.Unmarshal(data)
	require.NoError(t, err)
	require.Len(t, pkts, 1)

	remb, ok := pkts[0].(*rtcp.ReceiverEstimatedMaximumBitrate)
	require.True(t, ok)
	assert.InDelta(t, 250_000, remb.Bitrate, 1)
	assert.Equal(t, []uint32{0x2222}, remb.SSRCs)
}

func TestNTPMiddle32_Monotone(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := ntpMiddle32(now)
	b := ntpMiddle32(now.Add(500 * time.Millisecond))

	// 500ms is 32768 units of 1/65536s.
	assert.Equal(t, uint32(32768), b-a)
}
