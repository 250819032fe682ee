package feedback

import (
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/logging"

	"github.com/voxrtc/cc/pkg/cc"
)

// FactoryOption configures an InterceptorFactory.
type FactoryOption func(*InterceptorFactory) error

// InterceptorFactory builds one Interceptor (with its own Controller) per
// peer connection. Register it with the Pion interceptor registry.
type InterceptorFactory struct {
	config           cc.Config
	loggerFactory    logging.LoggerFactory
	feedbackInterval time.Duration
	senderSSRC       uint32
	onTarget         func(bitrate uint32, ssrcs []uint32)
}

// WithVariant selects the controller variant. Default: VariantDelayLoss.
func WithVariant(v cc.Variant) FactoryOption {
	return func(f *InterceptorFactory) error {
		f.config.Variant = v
		return nil
	}
}

// WithInitialBitrate sets the starting target in bits per second.
func WithInitialBitrate(bitrate int64) FactoryOption {
	return func(f *InterceptorFactory) error {
		f.config.InitialBitrate = bitrate
		return nil
	}
}

// WithMinBitrate sets the target floor in bits per second.
func WithMinBitrate(bitrate int64) FactoryOption {
	return func(f *InterceptorFactory) error {
		f.config.MinBitrate = bitrate
		return nil
	}
}

// WithMaxBitrate sets the target ceiling in bits per second.
func WithMaxBitrate(bitrate int64) FactoryOption {
	return func(f *InterceptorFactory) error {
		f.config.MaxBitrate = bitrate
		return nil
	}
}

// WithFactoryFeedbackInterval sets the REMB send interval for every
// interceptor the factory builds.
func WithFactoryFeedbackInterval(d time.Duration) FactoryOption {
	return func(f *InterceptorFactory) error {
		f.feedbackInterval = d
		return nil
	}
}

// WithFactorySenderSSRC sets the sender SSRC for outgoing REMB.
func WithFactorySenderSSRC(ssrc uint32) FactoryOption {
	return func(f *InterceptorFactory) error {
		f.senderSSRC = ssrc
		return nil
	}
}

// WithFactoryOnTarget sets the per-send callback on every interceptor the
// factory builds.
func WithFactoryOnTarget(fn func(bitrate uint32, ssrcs []uint32)) FactoryOption {
	return func(f *InterceptorFactory) error {
		f.onTarget = fn
		return nil
	}
}

// WithLoggerFactory sets the logger factory used by the controller and the
// interceptor.
func WithLoggerFactory(lf logging.LoggerFactory) FactoryOption {
	return func(f *InterceptorFactory) error {
		f.loggerFactory = lf
		return nil
	}
}

// NewInterceptorFactory creates a factory with the given options. Option
// values flow into cc.Config, so inconsistent bitrates surface as
// cc.ErrConfiguration from NewInterceptor, not here.
func NewInterceptorFactory(opts ...FactoryOption) (*InterceptorFactory, error) {
	f := &InterceptorFactory{
		config:           cc.DefaultConfig(),
		feedbackInterval: time.Second,
	}
	for _, opt := range opts {
		if err := opt(f); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// NewInterceptor builds a fresh Controller and Interceptor pair. The id is
// assigned by Pion and unused here.
func (f *InterceptorFactory) NewInterceptor(_ string) (interceptor.Interceptor, error) {
	config := f.config
	config.LoggerFactory = f.loggerFactory

	controller, err := cc.New(config, nil)
	if err != nil {
		return nil, err
	}

	opts := []Option{
		WithFeedbackInterval(f.feedbackInterval),
		WithSenderSSRC(f.senderSSRC),
	}
	if f.onTarget != nil {
		opts = append(opts, WithOnTarget(f.onTarget))
	}

	return NewInterceptor(controller, f.loggerFactory, opts...), nil
}
