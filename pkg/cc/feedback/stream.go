package feedback

import (
	"sync/atomic"
	"time"
)

// streamState tracks one bound remote stream: its SSRC and when it last
// produced a packet. The timestamp is atomic because the RTP read path
// writes it per packet while the cleanup loop reads it concurrently.
type streamState struct {
	ssrc           uint32
	lastPacketTime atomic.Value // time.Time
}

func newStreamState(ssrc uint32) *streamState {
	s := &streamState{ssrc: ssrc}
	s.lastPacketTime.Store(time.Now())
	return s
}

// UpdateLastPacket records the arrival time of the newest packet.
func (s *streamState) UpdateLastPacket(t time.Time) {
	s.lastPacketTime.Store(t)
}

// LastPacket returns the newest recorded arrival time.
func (s *streamState) LastPacket() time.Time {
	return s.lastPacketTime.Load().(time.Time)
}

// SSRC returns the stream identifier.
func (s *streamState) SSRC() uint32 {
	return s.ssrc
}
