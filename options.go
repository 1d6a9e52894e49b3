package evloop

import (
	"time"

	"github.com/joeycumines/logiface"
)

// BackendFactory creates a readiness backend. It is called once by New, and
// again by the first iteration following Loop.Fork.
type BackendFactory func() (Backend, error)

// loopOptions holds configuration options for Loop creation.
type loopOptions struct {
	logger          *logiface.Logger[logiface.Event]
	backend         BackendFactory
	errorLogRates   map[time.Duration]int
	ioCollect       time.Duration
	timeoutCollect  time.Duration
	metricsEnabled  bool
	errorLogLimited bool
}

// --- Loop Options ---

// LoopOption configures a Loop instance.
type LoopOption interface {
	applyLoop(*loopOptions) error
}

// loopOptionImpl implements LoopOption.
type loopOptionImpl struct {
	applyLoopFunc func(*loopOptions) error
}

func (l *loopOptionImpl) applyLoop(opts *loopOptions) error {
	return l.applyLoopFunc(opts)
}

// WithLogger attaches a structured logger. A nil logger (the default)
// disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithBackend replaces the platform readiness backend.
func WithBackend(factory BackendFactory) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		if factory == nil {
			return usageError("WithBackend", ErrInvalidArgument)
		}
		opts.backend = factory
		return nil
	}}
}

// WithMetrics enables runtime metrics collection on the Loop.
// When enabled, metrics can be accessed via Loop.Metrics().
func WithMetrics(enabled bool) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.metricsEnabled = enabled
		return nil
	}}
}

// WithIOCollectInterval makes the loop sleep up to interval before polling,
// so that more readiness events are batched into one iteration. Zero (the
// default) disables it.
func WithIOCollectInterval(interval time.Duration) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		if interval < 0 {
			return usageError("WithIOCollectInterval", ErrInvalidArgument)
		}
		opts.ioCollect = interval
		return nil
	}}
}

// WithTimeoutCollectInterval prevents the poll timeout from dropping below
// interval, so that timers expiring close together are handled in one
// iteration. Zero (the default) disables it.
func WithTimeoutCollectInterval(interval time.Duration) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		if interval < 0 {
			return usageError("WithTimeoutCollectInterval", ErrInvalidArgument)
		}
		opts.timeoutCollect = interval
		return nil
	}}
}

// WithCallbackErrorLogRates sets the rate limits applied, per watcher kind,
// when logging recovered callback panics. Rates map a window to the number of
// events allowed within it. A nil map disables rate limiting.
//
// The default is 10 per second and 100 per minute.
func WithCallbackErrorLogRates(rates map[time.Duration]int) LoopOption {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.errorLogRates = rates
		opts.errorLogLimited = rates != nil
		return nil
	}}
}

// resolveLoopOptions applies LoopOption instances to loopOptions.
func resolveLoopOptions(opts []LoopOption) (*loopOptions, error) {
	cfg := &loopOptions{
		backend:         newPlatformBackend,
		errorLogRates:   map[time.Duration]int{time.Second: 10, time.Minute: 100},
		errorLogLimited: true,
	}
	for _, opt := range opts {
		if opt == nil {
			continue // Skip nil options gracefully
		}
		if err := opt.applyLoop(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
