package cc

import (
	"math"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/voxrtc/cc/pkg/cc/internal"
)

// Controller is the congestion-control engine owned by one media stream.
// The transport layer feeds it packet observations and receiver reports;
// the sender's pacer and encoder read the target bitrate back out.
//
// Implementations are safe for concurrent use, but all state mutation is
// serialized internally: filter and AIMD updates are not commutative and
// must apply in feedback arrival order.
type Controller interface {
	// OnPacketReceived folds one received media packet into the delay
	// estimator. Invalid observations are dropped and counted, never
	// surfaced.
	OnPacketReceived(obs PacketObservation)

	// OnReceiverReport folds one feedback-interval loss report into the
	// loss estimator. Reports arriving faster than the configured
	// feedback interval coalesce into the next update.
	OnReceiverReport(report LossReport)

	// TargetBitrate returns the current target in bits per second. It is
	// a pure read: repeated calls without new events return the same
	// value.
	TargetBitrate() uint32

	// OnOutputChanged registers cb to run whenever the target moves by
	// more than the configured hysteresis. The callback runs on the
	// controller's event path and must not call back into the
	// Controller. Pass nil to disable.
	OnOutputChanged(cb func(Output))

	// Stats returns the drop and coalesce counters.
	Stats() Stats

	// Reset reinitializes all estimation state, as on stream restart.
	Reset()
}

// Stats counts the events the controller absorbed without applying.
type Stats struct {
	// DroppedObservations is the number of packet observations rejected
	// as invalid (non-positive size, non-monotonic arrival).
	DroppedObservations uint64

	// DroppedReports is the number of loss reports rejected as invalid
	// (loss fraction outside [0,1], extended sequence regression).
	DroppedReports uint64

	// CoalescedReports is the number of loss reports deferred because
	// they arrived inside the feedback interval.
	CoalescedReports uint64
}

// New builds a Controller of the configured variant. The variant is fixed
// at construction; the composed pipeline has no per-call dispatch.
// A nil clock selects the monotonic system clock.
//
// New is the only call that can fail: an inconsistent Config returns
// ErrConfiguration.
func New(config Config, clock internal.Clock) (Controller, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config = config.withDefaults()
	if clock == nil {
		clock = internal.MonotonicClock{}
	}

	eng := newEngine(config, clock)
	switch config.Variant {
	case VariantDelayLoss:
		return &combinedController{engine: eng}, nil
	default:
		return &delayOnlyController{engine: eng}, nil
	}
}

// engine holds the shared estimation state of both variants. One mutex
// serializes every mutation.
type engine struct {
	mu     sync.Mutex
	config Config
	clock  internal.Clock
	log    logging.LeveledLogger

	delay     *DelayEstimator
	rateStats *RateStats
	delayRate *DelayRateController
	loss      *LossRateController

	lastArrival    time.Time
	lastRateUpdate time.Time
	forceDecrease  bool

	pendingReport   *LossReport
	lastLossApplied time.Time
	lastExtendedSeq uint32
	seenReport      bool

	lastNotified int64
	onOutput     func(Output)

	stats Stats
}

func newEngine(config Config, clock internal.Clock) *engine {
	delayConfig := DelayEstimatorConfig{
		FilterType:  config.FilterType,
		GroupWindow: config.GroupWindow,
		Kalman:      DefaultKalmanConfig(),
		Trendline:   DefaultTrendlineConfig(),
		Overuse:     DefaultOveruseConfig(),
	}
	rateConfig := DelayRateConfig{
		MinBitrate:     config.MinBitrate,
		MaxBitrate:     config.MaxBitrate,
		InitialBitrate: config.InitialBitrate,
		Beta:           config.Beta,
	}
	lossConfig := LossRateConfig{
		MinBitrate:     config.MinBitrate,
		MaxBitrate:     config.MaxBitrate,
		InitialBitrate: config.InitialBitrate,
		RTTBound:       config.RTTBound,
	}

	e := &engine{
		config:    config,
		clock:     clock,
		log:       config.LoggerFactory.NewLogger("cc_controller"),
		delay:     NewDelayEstimator(delayConfig, clock),
		rateStats: NewRateStats(DefaultRateStatsConfig()),
		delayRate: NewDelayRateController(rateConfig),
		loss:      NewLossRateController(lossConfig),
	}
	e.delay.SetCallback(func(old, new Usage) {
		e.log.Debugf("usage %v -> %v", old, new)
		if new == UsageOveruse {
			e.forceDecrease = true
		}
	})
	return e
}

// onPacket is the shared packet path: validate, measure the incoming rate,
// run the delay pipeline, and advance the AIMD on schedule or immediately
// on an overuse transition.
func (e *engine) onPacket(obs PacketObservation) {
	if obs.Size <= 0 {
		e.stats.DroppedObservations++
		e.log.Debugf("dropping observation seq=%d: non-positive size %d", obs.SequenceNumber, obs.Size)
		return
	}
	if !e.lastArrival.IsZero() && obs.ArrivalTime.Before(e.lastArrival) {
		e.stats.DroppedObservations++
		e.log.Debugf("dropping observation seq=%d: arrival time went backwards", obs.SequenceNumber)
		return
	}
	e.lastArrival = obs.ArrivalTime

	e.rateStats.Update(int64(obs.Size), obs.ArrivalTime)
	usage := e.delay.OnPacket(obs)

	e.maybeApplyPending(obs.ArrivalTime)

	scheduled := e.lastRateUpdate.IsZero() ||
		obs.ArrivalTime.Sub(e.lastRateUpdate) >= e.config.FeedbackInterval
	if !scheduled && !e.forceDecrease {
		return
	}
	e.forceDecrease = false

	incomingRate, ok := e.rateStats.Rate(obs.ArrivalTime)
	if !ok {
		return
	}
	e.delayRate.Update(usage, incomingRate, obs.ArrivalTime)
	e.lastRateUpdate = obs.ArrivalTime
}

// onReport validates one loss report and either applies it or, inside the
// feedback interval, stashes it to coalesce with the next update.
func (e *engine) onReport(report LossReport, apply bool) {
	if report.FractionLost < 0 || report.FractionLost > 1 ||
		math.IsNaN(report.FractionLost) {
		e.stats.DroppedReports++
		e.log.Debugf("dropping loss report: fraction %f outside [0,1]", report.FractionLost)
		return
	}
	if e.seenReport && report.ExtendedHighestSeq != 0 &&
		report.ExtendedHighestSeq < e.lastExtendedSeq {
		e.stats.DroppedReports++
		e.log.Debugf("dropping loss report: extended seq %d regressed below %d",
			report.ExtendedHighestSeq, e.lastExtendedSeq)
		return
	}
	if report.ExtendedHighestSeq != 0 {
		e.lastExtendedSeq = report.ExtendedHighestSeq
		e.seenReport = true
	}

	if !apply {
		return
	}

	now := e.clock.Now()
	if !e.lastLossApplied.IsZero() && now.Sub(e.lastLossApplied) < e.config.FeedbackInterval {
		// Redundant report inside the interval: keep only the newest.
		e.pendingReport = &report
		e.stats.CoalescedReports++
		return
	}
	e.applyReport(report, now)
}

func (e *engine) applyReport(report LossReport, now time.Time) {
	e.loss.Update(report)
	e.lastLossApplied = now
	e.pendingReport = nil
}

// maybeApplyPending flushes a coalesced report once the interval boundary
// has passed.
func (e *engine) maybeApplyPending(now time.Time) {
	if e.pendingReport == nil {
		return
	}
	if now.Sub(e.lastLossApplied) < e.config.FeedbackInterval {
		return
	}
	e.applyReport(*e.pendingReport, now)
}

// notify fires the output callback when the target moved past the
// hysteresis band. Runs under the mutex; the callback must not call back
// into the controller.
func (e *engine) notify(target int64) {
	if e.onOutput == nil {
		return
	}
	if e.lastNotified > 0 {
		change := math.Abs(float64(target-e.lastNotified)) / float64(e.lastNotified)
		if change <= e.config.Hysteresis {
			return
		}
	}
	e.lastNotified = target
	e.onOutput(Output{TargetBitrate: uint32(target), At: e.clock.Now()})
}

func (e *engine) setOnOutput(cb func(Output)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onOutput = cb
}

func (e *engine) statsLocked() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

func (e *engine) reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.delay.Reset()
	e.rateStats.Reset()
	e.delayRate.Reset()
	e.loss.Reset()
	e.lastArrival = time.Time{}
	e.lastRateUpdate = time.Time{}
	e.forceDecrease = false
	e.pendingReport = nil
	e.lastLossApplied = time.Time{}
	e.lastExtendedSeq = 0
	e.seenReport = false
	e.lastNotified = 0
}

// delayOnlyController is the REMB-style variant: the target is the
// delay-based estimate and loss reports are only logged.
type delayOnlyController struct {
	*engine
}

func (c *delayOnlyController) OnPacketReceived(obs PacketObservation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onPacket(obs)
	c.notify(c.delayRate.Estimate())
}

func (c *delayOnlyController) OnReceiverReport(report LossReport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReport(report, false)
	c.log.Tracef("loss report ignored by delay-only variant: lost=%.3f rtt=%v",
		report.FractionLost, report.RTT)
}

func (c *delayOnlyController) TargetBitrate() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return uint32(c.delayRate.Estimate())
}

func (c *delayOnlyController) OnOutputChanged(cb func(Output)) { c.setOnOutput(cb) }
func (c *delayOnlyController) Stats() Stats                    { return c.statsLocked() }
func (c *delayOnlyController) Reset()                          { c.reset() }

// combinedController is the GCC-style variant: neither signal can override
// the other optimistically, the target is the minimum of the delay-based
// estimate Ar and the loss-bounded estimate As.
type combinedController struct {
	*engine
}

func (c *combinedController) OnPacketReceived(obs PacketObservation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onPacket(obs)
	c.notify(c.targetLocked())
}

func (c *combinedController) OnReceiverReport(report LossReport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReport(report, true)
	c.notify(c.targetLocked())
}

func (c *combinedController) TargetBitrate() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return uint32(c.targetLocked())
}

func (c *combinedController) targetLocked() int64 {
	delayBps := c.delayRate.Estimate()
	lossBps := c.loss.Estimate()
	if lossBps < delayBps {
		return lossBps
	}
	return delayBps
}

func (c *combinedController) OnOutputChanged(cb func(Output)) { c.setOnOutput(cb) }
func (c *combinedController) Stats() Stats                    { return c.statsLocked() }
func (c *combinedController) Reset()                          { c.reset() }
