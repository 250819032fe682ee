package feedback

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/rtcp"

	"github.com/voxrtc/cc/pkg/cc"
)

// streamTimeout is how long an inactive stream stays tracked. Streams with
// no packets for this long are dropped from the SSRC set.
const streamTimeout = 2 * time.Second

// Interceptor wires a cc.Controller into a Pion interceptor chain. It
// observes incoming RTP for the delay path, decodes reception reports from
// incoming RTCP for the loss path, and emits REMB feedback carrying the
// controller's target bitrate.
type Interceptor struct {
	interceptor.NoOp

	controller cc.Controller
	codec      Codec
	scheduler  *Scheduler
	log        logging.LeveledLogger
	streams    sync.Map // uint32 -> *streamState

	absExtID     atomic.Uint32
	captureExtID atomic.Uint32

	mu         sync.Mutex
	rtcpWriter interceptor.RTCPWriter
	onTarget   func(bitrate uint32, ssrcs []uint32)

	feedbackInterval time.Duration

	closed    chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
}

// Option configures an Interceptor.
type Option func(*Interceptor)

// WithFeedbackInterval sets the regular REMB send interval. Default 1s.
func WithFeedbackInterval(d time.Duration) Option {
	return func(i *Interceptor) {
		i.feedbackInterval = d
	}
}

// WithSenderSSRC sets the SSRC used as sender in outgoing REMB packets.
func WithSenderSSRC(ssrc uint32) Option {
	return func(i *Interceptor) {
		i.scheduler.config.SenderSSRC = ssrc
	}
}

// WithOnTarget sets a callback invoked after each REMB send with the
// bitrate and the SSRCs it covered.
func WithOnTarget(fn func(bitrate uint32, ssrcs []uint32)) Option {
	return func(i *Interceptor) {
		i.onTarget = fn
	}
}

// NewInterceptor wraps controller for use in a Pion interceptor registry.
// A nil loggerFactory selects the pion default.
func NewInterceptor(controller cc.Controller, loggerFactory logging.LoggerFactory, opts ...Option) *Interceptor {
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}
	i := &Interceptor{
		controller:       controller,
		scheduler:        NewScheduler(DefaultSchedulerConfig()),
		log:              loggerFactory.NewLogger("cc_feedback"),
		feedbackInterval: time.Second,
		closed:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(i)
	}
	i.scheduler.config.Interval = i.feedbackInterval
	return i
}

// Close shuts down the feedback loops.
func (i *Interceptor) Close() error {
	close(i.closed)
	i.wg.Wait()
	return nil
}

// BindRTCPWriter captures the writer for outgoing REMB and starts the
// feedback loop.
func (i *Interceptor) BindRTCPWriter(writer interceptor.RTCPWriter) interceptor.RTCPWriter {
	i.mu.Lock()
	i.rtcpWriter = writer
	i.mu.Unlock()

	i.wg.Add(1)
	go i.feedbackLoop()

	return writer
}

// BindRTCPReader wraps the reader to decode incoming reception reports
// into loss reports for the controller.
func (i *Interceptor) BindRTCPReader(reader interceptor.RTCPReader) interceptor.RTCPReader {
	return interceptor.RTCPReaderFunc(func(b []byte, a interceptor.Attributes) (int, interceptor.Attributes, error) {
		n, a, err := reader.Read(b, a)
		if err == nil && n > 0 {
			i.processRTCP(b[:n])
		}
		return n, a, err
	})
}

// BindRemoteStream registers the stream, resolves timing extension IDs,
// and wraps the reader to observe every incoming packet.
func (i *Interceptor) BindRemoteStream(info *interceptor.StreamInfo, reader interceptor.RTPReader) interceptor.RTPReader {
	i.startOnce.Do(func() {
		i.wg.Add(1)
		go i.cleanupLoop()
	})

	if absID := FindAbsSendTimeID(info.RTPHeaderExtensions); absID != 0 {
		i.absExtID.CompareAndSwap(0, uint32(absID))
	}
	if captureID := FindAbsCaptureTimeID(info.RTPHeaderExtensions); captureID != 0 {
		i.captureExtID.CompareAndSwap(0, uint32(captureID))
	}

	i.streams.Store(info.SSRC, newStreamState(info.SSRC))

	return interceptor.RTPReaderFunc(func(b []byte, a interceptor.Attributes) (int, interceptor.Attributes, error) {
		n, a, err := reader.Read(b, a)
		if err == nil && n > 0 {
			i.processRTP(b[:n], info.SSRC)
		}
		return n, a, err
	})
}

// UnbindRemoteStream drops the stream from the tracked set.
func (i *Interceptor) UnbindRemoteStream(info *interceptor.StreamInfo) {
	i.streams.Delete(info.SSRC)
}

// processRTP decodes one incoming packet and feeds it to the controller.
func (i *Interceptor) processRTP(raw []byte, ssrc uint32) {
	now := time.Now()

	if state, ok := i.streams.Load(ssrc); ok {
		state.(*streamState).UpdateLastPacket(now)
	}

	codec := Codec{
		AbsSendTimeID:    uint8(i.absExtID.Load()),
		AbsCaptureTimeID: uint8(i.captureExtID.Load()),
	}
	obs, ok := codec.DecodePacket(raw, now)
	if !ok {
		return
	}
	i.controller.OnPacketReceived(obs)
}

// processRTCP extracts reception report blocks from incoming compound RTCP
// and forwards them as loss reports.
func (i *Interceptor) processRTCP(raw []byte) {
	pkts, err := rtcp.Unmarshal(raw)
	if err != nil {
		i.log.Debugf("dropping RTCP: %v", err)
		return
	}

	now := time.Now()
	for _, pkt := range pkts {
		var reports []rtcp.ReceptionReport
		switch p := pkt.(type) {
		case *rtcp.ReceiverReport:
			reports = p.Reports
		case *rtcp.SenderReport:
			reports = p.Reports
		default:
			continue
		}
		for _, report := range reports {
			if _, tracked := i.streams.Load(report.SSRC); !tracked && i.hasStreams() {
				continue
			}
			i.controller.OnReceiverReport(DecodeReceptionReport(report, now))
		}
	}
}

func (i *Interceptor) hasStreams() bool {
	seen := false
	i.streams.Range(func(_, _ any) bool {
		seen = true
		return false
	})
	return seen
}

// feedbackLoop periodically asks the scheduler whether the current target
// should go out. The check runs more often than the feedback interval so
// the immediate-decrease trigger fires promptly.
func (i *Interceptor) feedbackLoop() {
	defer i.wg.Done()

	checkInterval := i.feedbackInterval / 4
	if checkInterval < 100*time.Millisecond {
		checkInterval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-i.closed:
			return
		case now := <-ticker.C:
			i.maybeSendFeedback(now)
		}
	}
}

// maybeSendFeedback emits a REMB when due.
func (i *Interceptor) maybeSendFeedback(now time.Time) {
	ssrcs := i.trackedSSRCs()
	if len(ssrcs) == 0 {
		return
	}

	out := cc.Output{TargetBitrate: i.controller.TargetBitrate(), At: now}
	data, send, err := i.scheduler.MaybeEncode(out, ssrcs, now)
	if err != nil || !send {
		return
	}

	i.mu.Lock()
	writer := i.rtcpWriter
	i.mu.Unlock()
	if writer == nil {
		return
	}

	pkts, err := rtcp.Unmarshal(data)
	if err != nil {
		return
	}
	if _, err := writer.Write(pkts, nil); err != nil {
		i.log.Debugf("feedback write failed: %v", err)
		return
	}

	if i.onTarget != nil {
		i.onTarget(out.TargetBitrate, ssrcs)
	}
}

func (i *Interceptor) trackedSSRCs() []uint32 {
	var ssrcs []uint32
	i.streams.Range(func(key, _ any) bool {
		ssrcs = append(ssrcs, key.(uint32))
		return true
	})
	return ssrcs
}

// cleanupLoop expires streams with no packets for streamTimeout.
func (i *Interceptor) cleanupLoop() {
	defer i.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-i.closed:
			return
		case now := <-ticker.C:
			i.streams.Range(func(key, value any) bool {
				if now.Sub(value.(*streamState).LastPacket()) > streamTimeout {
					i.streams.Delete(key)
				}
				return true
			})
		}
	}
}
