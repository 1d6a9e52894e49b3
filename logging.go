package evloop

import (
	"github.com/joeycumines/go-catrate"
)

// newErrorLimiter builds the limiter applied to callback panic logs, keyed by
// watcher kind.
func newErrorLimiter(opts *loopOptions) *catrate.Limiter {
	if opts.logger == nil || !opts.errorLogLimited || len(opts.errorLogRates) == 0 {
		return nil
	}
	return catrate.NewLimiter(opts.errorLogRates)
}

// logCallbackError logs a recovered callback panic, subject to the per-kind
// rate limit.
func (l *Loop) logCallbackError(err *CallbackError) {
	b := l.logger.Err()
	if !b.Enabled() {
		b.Release()
		return
	}
	kind := err.Watcher.Kind()
	if _, ok := l.errLimiter.Allow(kind); !ok {
		b.Release()
		return
	}
	b.Err(err).
		Str(`kind`, kind.String()).
		Int(`priority`, err.Watcher.Priority()).
		Str(`events`, err.Events.String()).
		Str(`stack`, string(err.Stack)).
		Log(`watcher callback panicked`)
}

// logCritical logs a condition that stops the loop.
func (l *Loop) logCritical(msg string, err error) {
	l.logger.Crit().Err(err).Log(msg)
}
