package evloop

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Metrics tracks runtime statistics for a loop. It is attached with
// WithMetrics, and read through Loop.Metrics.
//
// Thread Safety: the loop goroutine is the only writer. Snapshot may be
// called from any goroutine.
type Metrics struct {
	latency      LatencyMetrics
	pending      PendingMetrics
	dispatchRate *TPSCounter

	iterations     atomic.Uint64
	dispatched     atomic.Uint64
	callbackErrors atomic.Uint64
	wakeups        atomic.Uint64
	interrupts     atomic.Uint64
	backendErrors  atomic.Uint64
	active         atomic.Int64
}

// MetricsSnapshot is a point-in-time copy of a loop's metrics.
type MetricsSnapshot struct {
	// Latency is the distribution of callback run times.
	Latency LatencySnapshot
	// Pending describes the depth of the pending queue at dispatch.
	Pending PendingSnapshot
	// DispatchRate is callbacks per second over the last 10 seconds.
	DispatchRate float64

	Iterations     uint64
	Dispatched     uint64
	CallbackErrors uint64
	// Wakeups counts cross-goroutine wakes observed by the poll.
	Wakeups uint64
	// Interrupts counts polls retried after EINTR.
	Interrupts     uint64
	BackendErrors  uint64
	ActiveWatchers int64
}

func newMetrics() *Metrics {
	return &Metrics{dispatchRate: NewTPSCounter(10*time.Second, 100*time.Millisecond)}
}

// Snapshot computes the current statistics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Latency:        m.latency.Sample(),
		Pending:        m.pending.Snapshot(),
		DispatchRate:   m.dispatchRate.TPS(),
		Iterations:     m.iterations.Load(),
		Dispatched:     m.dispatched.Load(),
		CallbackErrors: m.callbackErrors.Load(),
		Wakeups:        m.wakeups.Load(),
		Interrupts:     m.interrupts.Load(),
		BackendErrors:  m.backendErrors.Load(),
		ActiveWatchers: m.active.Load(),
	}
}

func (m *Metrics) recordCallback(d time.Duration) {
	m.dispatched.Add(1)
	m.dispatchRate.Increment()
	m.latency.Record(d)
}

// LatencyMetrics tracks latency distribution with percentiles.
type LatencyMetrics struct {
	mu          sync.Mutex
	samples     [sampleSize]time.Duration
	sampleIdx   int
	sampleCount int
	sum         time.Duration
}

// LatencySnapshot holds percentiles computed by LatencyMetrics.Sample.
type LatencySnapshot struct {
	P50     time.Duration
	P90     time.Duration
	P95     time.Duration
	P99     time.Duration
	Max     time.Duration
	Mean    time.Duration
	Samples int
}

// sampleSize is the maximum number of latency samples to retain.
// We keep a rolling buffer of 1000 samples to compute percentiles.
const sampleSize = 1000

// Record records a latency sample.
func (l *LatencyMetrics) Record(duration time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	// If buffer is full, subtract the old sample that we're replacing
	if l.sampleCount >= sampleSize {
		l.sum -= l.samples[l.sampleIdx]
	}

	l.samples[l.sampleIdx] = duration
	l.sum += duration
	l.sampleIdx++
	if l.sampleIdx >= sampleSize {
		l.sampleIdx = 0
	}
	if l.sampleCount < sampleSize {
		l.sampleCount++
	}
}

// Sample computes percentiles from the retained samples.
func (l *LatencyMetrics) Sample() LatencySnapshot {
	l.mu.Lock()
	count := l.sampleCount
	sorted := make([]time.Duration, count)
	copy(sorted, l.samples[:count])
	sum := l.sum
	l.mu.Unlock()

	if count == 0 {
		return LatencySnapshot{}
	}
	slices.Sort(sorted)
	return LatencySnapshot{
		P50:     sorted[percentileIndex(count, 50)],
		P90:     sorted[percentileIndex(count, 90)],
		P95:     sorted[percentileIndex(count, 95)],
		P99:     sorted[percentileIndex(count, 99)],
		Max:     sorted[count-1],
		Mean:    sum / time.Duration(count),
		Samples: count,
	}
}

// percentileIndex computes the index for a given percentile (0-100).
func percentileIndex(n, p int) int {
	index := (p * n) / 100
	if index >= n {
		return n - 1
	}
	return index
}

// PendingMetrics tracks pending queue depth statistics.
type PendingMetrics struct {
	mu             sync.Mutex
	current        int
	max            int
	avg            float64
	emaInitialized bool
}

// PendingSnapshot is a copy of PendingMetrics.
type PendingSnapshot struct {
	Current int
	Max     int
	// Avg is an exponential moving average with alpha=0.1.
	Avg float64
}

// Update records the depth observed at the start of a dispatch phase.
func (q *PendingMetrics) Update(depth int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.current = depth
	if depth > q.max {
		q.max = depth
	}
	// Warmstart: initialize to first observed value for accuracy
	if !q.emaInitialized {
		q.avg = float64(depth)
		q.emaInitialized = true
	} else {
		q.avg = 0.9*q.avg + 0.1*float64(depth)
	}
}

// Snapshot returns a copy of the current values.
func (q *PendingMetrics) Snapshot() PendingSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	return PendingSnapshot{Current: q.current, Max: q.max, Avg: q.avg}
}

// TPSCounter tracks events per second with a rolling window.
//
// At startup the rate is underestimated until the window fills, as it is
// always computed over the entire window.
//
// Thread Safety: All methods (Increment, TPS) are thread-safe.
type TPSCounter struct {
	lastRotation atomic.Value // Stores time.Time
	buckets      []int64
	bucketSize   time.Duration
	windowSize   time.Duration
	mu           sync.Mutex
}

// NewTPSCounter creates a new counter.
// windowSize is the time window for rate calculation (e.g., 10*time.Second).
// bucketSize is the granularity of the rolling window (e.g., 100*time.Millisecond).
func NewTPSCounter(windowSize, bucketSize time.Duration) *TPSCounter {
	bucketCount := int(windowSize / bucketSize)
	if bucketCount < 1 {
		bucketCount = 1
	}
	counter := &TPSCounter{
		buckets:    make([]int64, bucketCount),
		bucketSize: bucketSize,
		windowSize: windowSize,
	}
	counter.lastRotation.Store(time.Now())
	return counter
}

// Increment records an event.
func (t *TPSCounter) Increment() {
	t.rotate()
	t.mu.Lock()
	t.buckets[len(t.buckets)-1]++
	t.mu.Unlock()
}

// rotate advances the bucket counter if time has passed.
func (t *TPSCounter) rotate() {
	now := time.Now()
	lastRotation := t.lastRotation.Load().(time.Time)
	bucketsToAdvance := int(now.Sub(lastRotation) / t.bucketSize)

	if bucketsToAdvance >= len(t.buckets) {
		// Full window reset
		t.mu.Lock()
		clear(t.buckets)
		t.mu.Unlock()
		t.lastRotation.Store(now)
		return
	}

	if bucketsToAdvance > 0 {
		t.mu.Lock()
		// Shift buckets left, filling with zeros
		n := copy(t.buckets, t.buckets[bucketsToAdvance:])
		clear(t.buckets[n:])
		t.mu.Unlock()
		t.lastRotation.Store(lastRotation.Add(time.Duration(bucketsToAdvance) * t.bucketSize))
	}
}

// TPS returns the current events per second.
func (t *TPSCounter) TPS() float64 {
	t.rotate()

	t.mu.Lock()
	defer t.mu.Unlock()

	var sum int64
	for _, count := range t.buckets {
		sum += count
	}
	if sum == 0 {
		return 0
	}
	return float64(sum) / t.windowSize.Seconds()
}
