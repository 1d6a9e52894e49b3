package evloop

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
)

// BreakHow selects which Run calls a break request ends.
type BreakHow int32

const (
	// BreakCancel withdraws a break request that has not been observed.
	BreakCancel BreakHow = iota
	// BreakOne ends the innermost Run.
	BreakOne
	// BreakAll ends every nested Run.
	BreakAll
)

type runMode int

const (
	runDefault runMode = iota
	runOnce
	runNoWait
)

const (
	// maxBlockTime bounds a single poll, so the loop wakes to notice clock
	// changes even with nothing scheduled.
	maxBlockTime = 60 * time.Second

	// timeJumpThreshold is the divergence between the wall and monotonic
	// clocks beyond which periodic watchers are rescheduled.
	timeJumpThreshold = time.Second
)

var defaultLoop struct {
	sync.Mutex
	loop *Loop
}

// Loop is a single-goroutine reactor, dispatching watcher callbacks.
//
// A loop is driven by one goroutine at a time, through Run, RunOnce or
// RunNoWait. Watchers bound to the loop, and the loop itself, may only be
// mutated by that goroutine while it is running, or by any single goroutine
// while it is not. The exceptions are Async.Send, Loop.Break and Loop.Stop,
// which may be called from any goroutine.
type Loop struct {
	state      *FastState
	backend    Backend
	newBackend BackendFactory
	logger     *logiface.Logger[logiface.Event]
	errLimiter *catrate.Limiter
	metrics    *Metrics

	// active holds every started watcher, excluding internal ones
	active      mapset.Set[Watcher]
	activeCount int // active watchers that keep the loop alive
	refAdjust   int

	timers    timerHeap // monotonic deadlines
	periodics timerHeap // wall clock deadlines
	dueBuf    []*timerEntry

	pending *pendingQueue
	phase   *pendingQueue // prepare, check, fork and cleanup dispatch

	fds       map[int]*fdState
	fdChanges []int
	onReady   func(fd int, events Event)
	woke      bool

	prepares watcherList
	checks   watcherList
	forks    watcherList
	cleanups watcherList
	asyncs   watcherList
	children watcherList
	idles    [numPriorities]watcherList
	idleAll  int

	signals  map[os.Signal]*signalSlot
	childSig *signalSlot

	asyncPending  atomic.Bool
	signalPending atomic.Bool
	childPending  atomic.Bool
	wakePending   atomic.Uint32
	wakeMu        sync.RWMutex // guards the wake descriptors against Close
	wakeFd        int
	wakeWriteFd   int

	now         time.Time // monotonic
	wallNow     time.Time // now, without the monotonic reading
	suspendedAt time.Time

	loopGoroutineID atomic.Uint64
	breakMode       atomic.Int32
	depth           int
	iteration       uint64

	invokePending func(*Loop)
	data          any
	cbErrs        []error
	fatal         error

	ioCollect      time.Duration
	timeoutCollect time.Duration

	isDefault bool
	postFork  bool
}

// New creates a loop.
func New(opts ...LoopOption) (*Loop, error) {
	cfg, err := resolveLoopOptions(opts)
	if err != nil {
		return nil, err
	}

	backend, err := cfg.backend()
	if err != nil {
		return nil, err
	}

	l := &Loop{
		state:          NewFastState(),
		backend:        backend,
		newBackend:     cfg.backend,
		logger:         cfg.logger,
		errLimiter:     newErrorLimiter(cfg),
		active:         mapset.NewThreadUnsafeSet[Watcher](),
		pending:        newPendingQueue(),
		phase:          newPendingQueue(),
		fds:            make(map[int]*fdState),
		signals:        make(map[os.Signal]*signalSlot),
		ioCollect:      cfg.ioCollect,
		timeoutCollect: cfg.timeoutCollect,
		wakeFd:         -1,
		wakeWriteFd:    -1,
	}
	if cfg.metricsEnabled {
		l.metrics = newMetrics()
	}
	l.onReady = l.fdReady

	if err := l.openWake(); err != nil {
		_ = backend.Close()
		return nil, err
	}

	l.updateNow()

	return l, nil
}

// Default returns the process-wide default loop, creating it on first use.
// Options are applied only on creation. Child watchers may only be started
// on the default loop. Closing the default loop allows a new one to be
// created by the next call.
func Default(opts ...LoopOption) (*Loop, error) {
	defaultLoop.Lock()
	defer defaultLoop.Unlock()
	if defaultLoop.loop != nil {
		return defaultLoop.loop, nil
	}
	l, err := New(opts...)
	if err != nil {
		return nil, err
	}
	l.isDefault = true
	defaultLoop.loop = l
	return l, nil
}

// IsDefault reports whether this is the default loop.
func (l *Loop) IsDefault() bool { return l.isDefault }

// openWake creates the wake descriptors, registering the read end.
func (l *Loop) openWake() error {
	rfd, wfd, err := createWakeFd()
	if err != nil {
		return err
	}
	if err := l.backend.Add(rfd, EventRead); err != nil {
		_ = closeFD(rfd)
		if wfd != rfd {
			_ = closeFD(wfd)
		}
		return err
	}
	l.wakeMu.Lock()
	l.wakeFd, l.wakeWriteFd = rfd, wfd
	l.wakeMu.Unlock()
	return nil
}

// closeWake closes the wake descriptors. Wakeups become no-ops.
func (l *Loop) closeWake() {
	l.wakeMu.Lock()
	defer l.wakeMu.Unlock()
	if l.wakeFd >= 0 {
		_ = closeFD(l.wakeFd)
		if l.wakeWriteFd != l.wakeFd {
			_ = closeFD(l.wakeWriteFd)
		}
	}
	l.wakeFd, l.wakeWriteFd = -1, -1
}

// wakeup interrupts a blocked poll. It is safe to call from any goroutine,
// and writes at most once until the loop drains the descriptor.
func (l *Loop) wakeup() {
	if !l.wakePending.CompareAndSwap(0, 1) {
		return
	}
	l.wakeMu.RLock()
	defer l.wakeMu.RUnlock()
	if l.wakeWriteFd < 0 {
		return
	}
	// eventfd requires 8 bytes, any non-zero value
	buf := [8]byte{1}
	_, _ = writeFD(l.wakeWriteFd, buf[:])
}

// drainWake consumes pending wakeups. Flags set by wakers must be checked
// after this returns.
func (l *Loop) drainWake() {
	var buf [64]byte
	for {
		n, err := readFD(l.wakeFd, buf[:])
		if n <= 0 || err != nil {
			break
		}
	}
	l.wakePending.Store(0)
	if l.metrics != nil {
		l.metrics.wakeups.Add(1)
	}
}

// Run drives the loop until no active watcher remains, a break is
// requested, or ctx is done.
//
// Calling Run from within a callback runs a nested loop, ended by Stop,
// which only affects the innermost Run. Calling Run from another goroutine
// while the loop is running fails with ErrConcurrentAccess.
//
// Errors returned include *BackendError, panics recovered from callbacks
// (as *CallbackError, joined if there were several) when no hook is set via
// SetCallbackErrorHook, and ctx.Err() if ctx ended the run.
func (l *Loop) Run(ctx context.Context) error {
	return l.run(ctx, runDefault)
}

// RunOnce performs a single iteration, blocking in the poll until an event
// arrives or the next timer is due. A single poll is bounded, so the call
// may return without having handled anything.
func (l *Loop) RunOnce(ctx context.Context) error {
	return l.run(ctx, runOnce)
}

// RunNoWait performs a single iteration without blocking.
func (l *Loop) RunNoWait(ctx context.Context) error {
	return l.run(ctx, runNoWait)
}

func (l *Loop) run(ctx context.Context, mode runMode) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if l.state.Load() == StateRunning && l.isLoopThread() {
		return l.runLevel(ctx, mode)
	}

	if !l.state.TryTransition(StateIdle, StateRunning) {
		if l.state.IsClosed() {
			return usageError("Run", ErrLoopClosed)
		}
		return usageError("Run", ErrConcurrentAccess)
	}

	runtime.LockOSThread()
	l.loopGoroutineID.Store(getGoroutineID())
	defer func() {
		l.loopGoroutineID.Store(0)
		runtime.UnlockOSThread()
		l.breakMode.Store(int32(BreakCancel))
		l.state.Store(StateIdle)
	}()

	err := l.runLevel(ctx, mode)
	if l.failed() {
		return l.takeErrors()
	}
	return err
}

// runLevel runs one nesting level, returning ctx.Err() if ctx ended it, or
// the retained errors if the loop failed.
func (l *Loop) runLevel(ctx context.Context, mode runMode) error {
	if l.depth != 0 {
		// a break of the enclosing level must not end this one
		l.breakMode.CompareAndSwap(int32(BreakOne), int32(BreakCancel))
	}
	l.depth++
	defer func() {
		l.depth--
		l.breakMode.CompareAndSwap(int32(BreakOne), int32(BreakCancel))
	}()

	if ctx.Done() != nil {
		defer context.AfterFunc(ctx, l.wakeup)()
	}

	for {
		l.iterate(ctx, mode)
		if l.failed() {
			l.breakMode.Store(int32(BreakAll))
			return l.peekErrors()
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if l.breakMode.Load() != int32(BreakCancel) || mode != runDefault || !l.alive() {
			return nil
		}
	}
}

// iterate performs one iteration of the loop.
func (l *Loop) iterate(ctx context.Context, mode runMode) {
	if l.postFork {
		l.afterFork()
		if l.failed() {
			return
		}
	}

	if len(l.prepares) != 0 {
		l.queueList(l.phase, l.prepares, EventPrepare)
		l.dispatch(l.phase)
	}

	if l.breakMode.Load() != int32(BreakCancel) || ctx.Err() != nil || l.failed() {
		return
	}

	if err := l.reifyFDs(); err != nil {
		l.fail(err)
		return
	}

	l.updateNow()
	timeout := l.computeTimeout(mode)
	if l.ioCollect > 0 && timeout > 0 {
		sleep := min(l.ioCollect, timeout)
		time.Sleep(sleep)
		timeout -= sleep
	}

	l.poll(timeout)
	if l.failed() {
		return
	}
	l.iteration++
	if l.metrics != nil {
		l.metrics.iterations.Add(1)
	}

	l.updateNow()
	l.processWakeups()
	l.expireTimers()
	l.expirePeriodics()
	l.queueIdles()

	if len(l.checks) != 0 {
		l.queueList(l.phase, l.checks, EventCheck)
		l.dispatch(l.phase)
	}

	if fn := l.invokePending; fn != nil {
		fn(l)
	} else {
		l.dispatch(l.pending)
	}
}

// computeTimeout returns how long the poll may block.
func (l *Loop) computeTimeout(mode runMode) time.Duration {
	if mode == runNoWait ||
		l.idleAll != 0 ||
		!l.alive() ||
		l.pending.live != 0 ||
		l.asyncPending.Load() ||
		l.signalPending.Load() ||
		l.childPending.Load() ||
		l.breakMode.Load() != int32(BreakCancel) {
		return 0
	}

	timeout := maxBlockTime
	if e := l.timers.peek(); e != nil {
		timeout = min(timeout, e.when.Sub(l.now))
	}
	if e := l.periodics.peek(); e != nil {
		timeout = min(timeout, e.when.Sub(l.wallNow))
	}
	if timeout < l.timeoutCollect {
		timeout = l.timeoutCollect
	}
	return max(timeout, 0)
}

// poll waits on the backend, retrying interrupted waits with the remaining
// timeout.
func (l *Loop) poll(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for {
		err := l.backend.Wait(timeout, l.onReady)
		if err == nil {
			return
		}
		if !errors.Is(err, ErrInterrupted) {
			l.fail(&BackendError{Op: "wait", FD: -1, Err: err})
			return
		}
		if l.metrics != nil {
			l.metrics.interrupts.Add(1)
		}
		l.logger.Debug().Log(`poll interrupted, retrying`)
		timeout = max(time.Until(deadline), 0)
	}
}

// fail records a fatal backend error, stopping the loop.
func (l *Loop) fail(err error) {
	if l.metrics != nil {
		l.metrics.backendErrors.Add(1)
	}
	l.logCritical(`backend failure, stopping loop`, err)
	if l.fatal == nil {
		l.fatal = err
	}
}

// processWakeups handles the flags set by other goroutines.
func (l *Loop) processWakeups() {
	if l.woke {
		l.woke = false
		l.drainWake()
	}
	if l.asyncPending.Swap(false) {
		for _, w := range l.asyncs {
			if w.self.(*Async).sent.Swap(false) {
				l.feed(w, EventAsync)
			}
		}
	}
	if l.signalPending.Swap(false) {
		l.processSignals()
	}
	if l.childPending.Swap(false) {
		l.reapChildren()
	}
}

// expireTimers queues every due timer.
func (l *Loop) expireTimers() {
	l.dueBuf = l.timers.popDue(l.now, l.dueBuf[:0])
	for i, e := range l.dueBuf {
		l.dueBuf[i] = nil
		e.fire(l.now)
	}
}

// expirePeriodics queues every due periodic.
func (l *Loop) expirePeriodics() {
	l.dueBuf = l.periodics.popDue(l.wallNow, l.dueBuf[:0])
	for i, e := range l.dueBuf {
		l.dueBuf[i] = nil
		e.fire(l.wallNow)
	}
}

// queueIdles queues the idle watchers of the highest priority that has
// any, provided no work is pending at that priority or above.
func (l *Loop) queueIdles() {
	if l.idleAll == 0 {
		return
	}
	for p := MaxPriority; p >= MinPriority; p-- {
		if l.pending.liveAt(p) != 0 {
			return
		}
		if idles := l.idles[p-MinPriority]; len(idles) != 0 {
			l.queueList(l.pending, idles, EventIdle)
			return
		}
	}
}

func (l *Loop) queueList(q *pendingQueue, list watcherList, revents Event) {
	for _, w := range list {
		q.push(w, revents)
	}
}

// feed queues w for general dispatch.
func (l *Loop) feed(w *watcher, revents Event) {
	if e := w.pending; e != nil {
		// may be queued for its phase, which it must not leave
		e.revents |= revents
		return
	}
	l.pending.push(w, revents)
}

// afterFork reinitialises the kernel state after Fork was called.
func (l *Loop) afterFork() {
	l.postFork = false
	l.logger.Info().Str(`backend`, l.backend.Name()).Log(`reinitialising loop after fork`)

	_ = l.backend.Close()
	l.closeWake()
	backend, err := l.newBackend()
	if err != nil {
		l.fail(&BackendError{Op: "fork", FD: -1, Err: err})
		return
	}
	l.backend = backend
	if err := l.openWake(); err != nil {
		l.fail(&BackendError{Op: "fork", FD: -1, Err: err})
		return
	}
	// a wakeup written to the old descriptor was lost
	l.wakePending.Store(0)
	for fd, st := range l.fds {
		st.registered = EventNone
		l.markFD(fd, st)
	}

	if len(l.forks) != 0 {
		l.queueList(l.phase, l.forks, EventFork)
		l.dispatch(l.phase)
	}
}

// Fork schedules reinitialisation of the loop's kernel state (backend and
// wake descriptors) at the start of the next iteration, after which Fork
// watchers are dispatched. Call it in a child process that continues to use
// the loop.
func (l *Loop) Fork() error {
	if err := l.checkOwner("Fork"); err != nil {
		return err
	}
	l.postFork = true
	return nil
}

// Break requests that Run return, per how. It may be called from any
// goroutine. It is a no-op if the loop is not running.
func (l *Loop) Break(how BreakHow) {
	if l.state.Load() != StateRunning {
		return
	}
	l.breakMode.Store(int32(how))
	if !l.isLoopThread() {
		l.wakeup()
	}
}

// Stop ends the innermost Run, at the next iteration boundary. It is
// equivalent to Break(BreakOne).
func (l *Loop) Stop() {
	l.Break(BreakOne)
}

// State returns the current run state.
func (l *Loop) State() LoopState {
	s := l.state.Load()
	if s == StateRunning && l.breakMode.Load() != int32(BreakCancel) {
		return StateStopping
	}
	return s
}

// Close destroys the loop, dispatching its Cleanup watchers. It fails with
// ErrLoopBusy while any other watcher is active, and with ErrInvalidState if
// called from one of the loop's callbacks.
func (l *Loop) Close() error {
	if !l.state.TryTransition(StateIdle, StateRunning) {
		switch {
		case l.state.IsClosed():
			return usageError("Close", ErrLoopClosed)
		case l.isLoopThread():
			return usageError("Close", ErrInvalidState)
		default:
			return usageError("Close", ErrConcurrentAccess)
		}
	}
	l.loopGoroutineID.Store(getGoroutineID())
	if l.activeCount != 0 {
		l.loopGoroutineID.Store(0)
		l.state.Store(StateIdle)
		return usageError("Close", ErrLoopBusy)
	}

	l.depth++
	if len(l.cleanups) != 0 {
		l.queueList(l.phase, l.cleanups, EventCleanup)
		l.dispatch(l.phase)
	}
	for len(l.cleanups) != 0 {
		l.cleanups[len(l.cleanups)-1].halt()
	}
	l.depth--

	l.pending.clear()
	l.phase.clear()

	l.closeWake()
	if err := l.backend.Close(); err != nil {
		l.logger.Warning().Err(err).Log(`failed to close backend`)
	}

	if l.isDefault {
		defaultLoop.Lock()
		if defaultLoop.loop == l {
			defaultLoop.loop = nil
		}
		defaultLoop.Unlock()
	}

	l.loopGoroutineID.Store(0)
	l.state.Store(StateClosed)
	return l.takeErrors()
}

// checkOwner fails if the loop is being driven by another goroutine.
func (l *Loop) checkOwner(op string) error {
	if l.state.Load() == StateRunning && !l.isLoopThread() {
		return usageError(op, ErrConcurrentAccess)
	}
	return nil
}

// isLoopThread checks if we're on the loop goroutine.
func (l *Loop) isLoopThread() bool {
	loopID := l.loopGoroutineID.Load()
	if loopID == 0 {
		return false
	}
	return getGoroutineID() == loopID
}

// activate records w as started.
func (l *Loop) activate(w *watcher) {
	w.active = true
	if w.internal {
		return
	}
	l.active.Add(w.self)
	if w.kind != KindCleanup {
		l.activeCount++
	}
	if l.metrics != nil {
		l.metrics.active.Add(1)
	}
}

// deactivate records w as stopped.
func (l *Loop) deactivate(w *watcher) {
	w.active = false
	if w.internal {
		return
	}
	l.active.Remove(w.self)
	if w.kind != KindCleanup {
		l.activeCount--
	}
	if l.metrics != nil {
		l.metrics.active.Add(-1)
	}
}

func (l *Loop) alive() bool {
	return l.activeCount+l.refAdjust > 0
}

// Ref undoes Unref.
func (l *Loop) Ref() { l.refAdjust++ }

// Unref stops one active watcher from keeping Run from returning. It is
// typically called after starting a watcher that only exists to serve
// others.
func (l *Loop) Unref() { l.refAdjust-- }

// Watchers returns the active watchers, in no particular order.
func (l *Loop) Watchers() []Watcher {
	return l.active.ToSlice()
}

// ActiveCount returns the number of active watchers that keep the loop
// alive, ignoring Ref and Unref.
func (l *Loop) ActiveCount() int { return l.activeCount }

// Iteration returns the number of polls performed.
func (l *Loop) Iteration() uint64 { return l.iteration }

// Depth returns the number of Run calls in progress.
func (l *Loop) Depth() int { return l.depth }

// PendingCount returns the number of queued invocations.
func (l *Loop) PendingCount() int { return l.pending.live + l.phase.live }

// InvokePending dispatches every pending watcher. Outside of Run, it
// returns the errors recovered from callbacks, as Run would.
func (l *Loop) InvokePending() error {
	if err := l.checkOwner("InvokePending"); err != nil {
		return err
	}
	l.dispatch(l.pending)
	if l.depth == 0 {
		return l.takeErrors()
	}
	return nil
}

// SetInvokePendingFunc replaces the dispatch step of each iteration. The
// function must eventually call InvokePending. nil restores the default.
func (l *Loop) SetInvokePendingFunc(fn func(*Loop)) error {
	if err := l.checkOwner("SetInvokePendingFunc"); err != nil {
		return err
	}
	l.invokePending = fn
	return nil
}

// Backend returns the name of the readiness backend.
func (l *Loop) Backend() string { return l.backend.Name() }

// Metrics returns a snapshot of the loop's metrics, or nil if they were not
// enabled with WithMetrics.
func (l *Loop) Metrics() *MetricsSnapshot {
	if l.metrics == nil {
		return nil
	}
	s := l.metrics.Snapshot()
	return &s
}

// Data returns the user data slot.
func (l *Loop) Data() any { return l.data }

// SetData sets the user data slot.
func (l *Loop) SetData(data any) { l.data = data }

// Now returns the time cached at the start of the current iteration.
func (l *Loop) Now() time.Time { return l.now }

// UpdateNow refreshes the cached time.
func (l *Loop) UpdateNow() { l.updateNow() }

func (l *Loop) updateNow() {
	now := time.Now()
	prev := l.now
	l.now = now
	l.wallNow = now.Round(0)
	if prev.IsZero() {
		return
	}
	jump := l.wallNow.Sub(prev.Round(0)) - now.Sub(prev)
	if jump > timeJumpThreshold || jump < -timeJumpThreshold {
		l.logger.Info().Dur(`jump`, jump).Log(`wall clock jumped, rescheduling periodics`)
		l.reschedulePeriodics()
	}
}

// Suspend records the time, for Resume. Use it around periods in which the
// process will not run, e.g. a system suspend.
func (l *Loop) Suspend() {
	l.updateNow()
	l.suspendedAt = l.now
}

// Resume shifts every timer by the time elapsed since Suspend, so that
// relative timeouts do not all expire at once, and reschedules periodics.
func (l *Loop) Resume() {
	if l.suspendedAt.IsZero() {
		return
	}
	l.updateNow()
	l.timers.shift(l.now.Sub(l.suspendedAt))
	l.suspendedAt = time.Time{}
	l.reschedulePeriodics()
}

// Verify checks internal invariants, returning an error describing the
// first violation found. It is intended for tests.
func (l *Loop) Verify() error {
	if err := l.timers.verify(); err != nil {
		return err
	}
	if err := l.periodics.verify(); err != nil {
		return fmt.Errorf("periodic %w", err)
	}
	if !l.pending.verify() || !l.phase.verify() {
		return errors.New("pending queue: live counts out of sync")
	}
	var count int
	for _, w := range l.active.ToSlice() {
		b := w.base()
		if !b.active {
			return fmt.Errorf("inactive %s watcher in the active set", b.kind)
		}
		if b.kind != KindCleanup {
			count++
		}
	}
	if count != l.activeCount {
		return fmt.Errorf("active count %d, expected %d", l.activeCount, count)
	}
	lists := [...]watcherList{l.prepares, l.checks, l.forks, l.cleanups, l.asyncs, l.children}
	for _, list := range append(lists[:], l.idles[:]...) {
		for i, w := range list {
			if w.listIdx != i || !w.active {
				return fmt.Errorf("%s watcher list corrupted at %d", w.kind, i)
			}
		}
	}
	for fd, st := range l.fds {
		for _, w := range st.watchers {
			if w.fd != fd || !w.active {
				return fmt.Errorf("fd %d: stale io watcher", fd)
			}
		}
	}
	return nil
}
