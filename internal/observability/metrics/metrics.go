// Package metrics defines the bot's Prometheus collectors on a private
// registry. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "schedbot"

// Refresh results.
const (
	RefreshOK          = "ok"
	RefreshNotModified = "not_modified"
	RefreshGone        = "message_gone"
	RefreshError       = "error"
	RefreshSkipped     = "skipped"
)

// Command results.
const (
	CommandOK       = "ok"
	CommandRejected = "rejected"
	CommandError    = "error"
)

type Metrics struct {
	reg *prometheus.Registry

	refreshTotal    *prometheus.CounterVec
	refreshDuration prometheus.Histogram
	refreshRuns     prometheus.Counter
	scheduleChars   *prometheus.GaugeVec

	commandTotal    *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec

	guildsEnabled  prometheus.Gauge
	updatesDropped prometheus.Counter
	busDropped     prometheus.Counter
}

// New registers every collector plus the Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		refreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "refresh", Name: "guilds_total",
			Help: "Per-guild schedule refreshes by result.",
		}, []string{"result"}),
		refreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "refresh", Name: "guild_duration_seconds",
			Help:    "Time to render and publish one guild schedule.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		refreshRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "refresh", Name: "runs_total",
			Help: "Periodic refresh passes over all enabled guilds.",
		}),
		scheduleChars: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "refresh", Name: "schedule_chars",
			Help: "Rendered schedule length of the most recent refresh, per slot.",
		}, []string{"slot"}),
		commandTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "commands", Name: "total",
			Help: "Handled commands and callbacks by result.",
		}, []string{"command", "result"}),
		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "commands", Name: "duration_seconds",
			Help:    "Command handling time.",
			Buckets: prometheus.DefBuckets,
		}, []string{"command"}),
		guildsEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "guilds_enabled",
			Help: "Enabled guilds seen by the last refresh pass.",
		}),
		updatesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "telegram", Name: "updates_dropped_total",
			Help: "Incoming updates dropped because the dispatch queue was full.",
		}),
		busDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "eventbus", Name: "dropped_total",
			Help: "Bus events dropped because a subscriber was slow.",
		}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.refreshTotal, m.refreshDuration, m.refreshRuns, m.scheduleChars,
		m.commandTotal, m.commandDuration,
		m.guildsEnabled, m.updatesDropped, m.busDropped,
	)
	return m
}

// Registry is the gatherer served on /metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) ObserveRefresh(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.refreshTotal.WithLabelValues(result).Inc()
	if result != RefreshSkipped {
		m.refreshDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) RefreshRun(enabledGuilds int) {
	if m == nil {
		return
	}
	m.refreshRuns.Inc()
	m.guildsEnabled.Set(float64(enabledGuilds))
}

// ScheduleLength records the rendered size of slot i.
func (m *Metrics) ScheduleLength(slot string, chars int) {
	if m == nil {
		return
	}
	m.scheduleChars.WithLabelValues(slot).Set(float64(chars))
}

func (m *Metrics) ObserveCommand(command, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.commandTotal.WithLabelValues(command, result).Inc()
	m.commandDuration.WithLabelValues(command).Observe(d.Seconds())
}

func (m *Metrics) UpdatesDropped(n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.updatesDropped.Add(float64(n))
}

func (m *Metrics) BusDropped() {
	if m == nil {
		return
	}
	m.busDropped.Inc()
}
