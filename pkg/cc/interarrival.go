package cc

import "time"

// DefaultGroupWindow is the default send-time window for coalescing packets
// into groups. Packets sent within this window (one video frame, typically)
// are measured as a single unit to keep burst noise out of the delay filter.
const DefaultGroupWindow = 5 * time.Millisecond

// maxBurstDuration caps how long a compressed burst may keep extending the
// current group past the send-time window.
const maxBurstDuration = 100 * time.Millisecond

// PacketGroup is a burst of packets coalesced into one measurement.
type PacketGroup struct {
	// FirstSendTime is the abs-send-time of the first packet in the group.
	FirstSendTime uint32

	// LastSendTime is the abs-send-time of the last packet in the group.
	LastSendTime uint32

	// FirstArrival is the arrival time of the first packet.
	FirstArrival time.Time

	// LastArrival is the arrival time of the last packet.
	LastArrival time.Time

	// Size is the total bytes across the group.
	Size int

	// NumPackets is the packet count of the group.
	NumPackets int
}

// GradientSample is one inter-group delay measurement, produced when a group
// completes and consumed by the delay filter. It is not retained.
type GradientSample struct {
	// DelayVariation is arrival delta minus send delta between consecutive
	// groups. Positive means the queue is building.
	DelayVariation time.Duration

	// SendDelta is the inter-group send time delta.
	SendDelta time.Duration

	// ArrivalDelta is the inter-group arrival time delta.
	ArrivalDelta time.Duration

	// NumPackets is the size of the completed group.
	NumPackets int
}

// GroupAccumulator coalesces received packets into groups and emits one
// GradientSample per completed group pair.
//
// A packet joins the current group when its send time falls within the group
// window of the group's first packet. Bursts that the network compressed are
// also absorbed: a packet whose arrival delta stays within the window while
// the propagation delta is negative belongs to the tail of the same burst,
// up to maxBurstDuration.
type GroupAccumulator struct {
	window   time.Duration
	current  *PacketGroup
	previous *PacketGroup
}

// NewGroupAccumulator creates a GroupAccumulator with the given send-time
// window. A non-positive window selects DefaultGroupWindow.
func NewGroupAccumulator(window time.Duration) *GroupAccumulator {
	if window <= 0 {
		window = DefaultGroupWindow
	}
	return &GroupAccumulator{window: window}
}

// Add folds a packet into the accumulator. When the packet starts a new
// group and a previous group exists, it returns the inter-group sample with
// ok set to true.
func (a *GroupAccumulator) Add(obs PacketObservation) (sample GradientSample, ok bool) {
	if a.belongsToCurrent(obs) {
		a.current.LastSendTime = obs.SendTime
		a.current.LastArrival = obs.ArrivalTime
		a.current.Size += obs.Size
		a.current.NumPackets++
		return GradientSample{}, false
	}

	if a.current != nil {
		a.previous = a.current
	}

	a.current = &PacketGroup{
		FirstSendTime: obs.SendTime,
		LastSendTime:  obs.SendTime,
		FirstArrival:  obs.ArrivalTime,
		LastArrival:   obs.ArrivalTime,
		Size:          obs.Size,
		NumPackets:    1,
	}

	if a.previous == nil {
		return GradientSample{}, false
	}

	arrivalDelta := a.current.FirstArrival.Sub(a.previous.LastArrival)
	sendDelta := UnwrapAbsSendTimeDuration(a.previous.LastSendTime, a.current.FirstSendTime)

	return GradientSample{
		DelayVariation: arrivalDelta - sendDelta,
		SendDelta:      sendDelta,
		ArrivalDelta:   arrivalDelta,
		NumPackets:     a.previous.NumPackets,
	}, true
}

// belongsToCurrent reports whether obs extends the current group.
func (a *GroupAccumulator) belongsToCurrent(obs PacketObservation) bool {
	if a.current == nil {
		return false
	}

	sendDelta := UnwrapAbsSendTimeDuration(a.current.FirstSendTime, obs.SendTime)
	if sendDelta < 0 {
		// Out-of-order within the transport; fold into the current group
		// rather than fabricating a negative-length group.
		return true
	}
	if sendDelta < a.window {
		return true
	}

	// Compressed burst: arrived tightly packed and earlier than the send
	// spacing predicts.
	arrivalDeltaLast := obs.ArrivalTime.Sub(a.current.LastArrival)
	arrivalDeltaFirst := obs.ArrivalTime.Sub(a.current.FirstArrival)
	propagationDelta := arrivalDeltaFirst - sendDelta
	return propagationDelta < 0 && arrivalDeltaLast <= a.window && arrivalDeltaFirst < maxBurstDuration
}

// Current returns the group being accumulated, nil before the first packet.
func (a *GroupAccumulator) Current() *PacketGroup {
	return a.current
}

// Window returns the configured group window.
func (a *GroupAccumulator) Window() time.Duration {
	return a.window
}

// Reset drops all grouping state. Call on stream restart or after a long gap.
func (a *GroupAccumulator) Reset() {
	a.current = nil
	a.previous = nil
}
