// Package evprom exports the metrics of an evloop.Loop to Prometheus.
package evprom

import (
	"github.com/joeycumines/go-evloop"
	"github.com/prometheus/client_golang/prometheus"
)

// Source provides metric snapshots, see evloop.Loop.Metrics. A nil snapshot
// means metrics are disabled, and nothing is collected.
type Source interface {
	Metrics() *evloop.MetricsSnapshot
}

var _ Source = (*evloop.Loop)(nil)

// Collector is a prometheus.Collector reading a Source on each scrape.
type Collector struct {
	source Source

	iterations     *prometheus.Desc
	dispatched     *prometheus.Desc
	callbackErrors *prometheus.Desc
	wakeups        *prometheus.Desc
	interrupts     *prometheus.Desc
	backendErrors  *prometheus.Desc
	activeWatchers *prometheus.Desc
	pendingCurrent *prometheus.Desc
	pendingMax     *prometheus.Desc
	pendingAvg     *prometheus.Desc
	dispatchRate   *prometheus.Desc
	latency        *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// Option configures a Collector.
type Option func(*options)

type options struct {
	namespace   string
	constLabels prometheus.Labels
}

// WithNamespace sets the metric name prefix. The default is "evloop".
func WithNamespace(namespace string) Option {
	return func(o *options) { o.namespace = namespace }
}

// WithConstLabels attaches labels to every metric, e.g. to distinguish the
// loops of one process.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(o *options) { o.constLabels = labels }
}

// NewCollector creates a collector for source. The loop must have been
// created with evloop.WithMetrics(true) for anything to be reported.
func NewCollector(source Source, opts ...Option) *Collector {
	o := options{namespace: "evloop"}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(o.namespace, "", name), help, nil, o.constLabels)
	}
	return &Collector{
		source:         source,
		iterations:     desc("iterations_total", "Number of loop iterations (polls)."),
		dispatched:     desc("callbacks_total", "Number of watcher callbacks invoked."),
		callbackErrors: desc("callback_errors_total", "Number of panics recovered from watcher callbacks."),
		wakeups:        desc("wakeups_total", "Number of cross-goroutine wakeups observed."),
		interrupts:     desc("poll_interrupts_total", "Number of polls retried after an interruption."),
		backendErrors:  desc("backend_errors_total", "Number of fatal backend errors."),
		activeWatchers: desc("active_watchers", "Number of active watchers."),
		pendingCurrent: desc("pending_depth", "Pending queue depth at the most recent dispatch."),
		pendingMax:     desc("pending_depth_max", "Largest pending queue depth observed."),
		pendingAvg:     desc("pending_depth_avg", "Moving average of the pending queue depth."),
		dispatchRate:   desc("callbacks_per_second", "Callback rate over the last 10 seconds."),
		latency:        desc("callback_duration_seconds", "Callback run time, over recent samples."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.descs() {
		ch <- d
	}
}

func (c *Collector) descs() []*prometheus.Desc {
	return []*prometheus.Desc{
		c.iterations, c.dispatched, c.callbackErrors, c.wakeups, c.interrupts, c.backendErrors,
		c.activeWatchers, c.pendingCurrent, c.pendingMax, c.pendingAvg, c.dispatchRate, c.latency,
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	m := c.source.Metrics()
	if m == nil {
		return
	}

	counter := func(d *prometheus.Desc, v uint64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v)
	}

	counter(c.iterations, m.Iterations)
	counter(c.dispatched, m.Dispatched)
	counter(c.callbackErrors, m.CallbackErrors)
	counter(c.wakeups, m.Wakeups)
	counter(c.interrupts, m.Interrupts)
	counter(c.backendErrors, m.BackendErrors)
	gauge(c.activeWatchers, float64(m.ActiveWatchers))
	gauge(c.pendingCurrent, float64(m.Pending.Current))
	gauge(c.pendingMax, float64(m.Pending.Max))
	gauge(c.pendingAvg, m.Pending.Avg)
	gauge(c.dispatchRate, m.DispatchRate)

	l := m.Latency
	ch <- prometheus.MustNewConstSummary(
		c.latency,
		uint64(l.Samples),
		l.Mean.Seconds()*float64(l.Samples),
		map[float64]float64{
			0.5:  l.P50.Seconds(),
			0.9:  l.P90.Seconds(),
			0.95: l.P95.Seconds(),
			0.99: l.P99.Seconds(),
		},
	)
}
