package observability

import (
	"context"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"admind/internal/adminapi"
	"admind/internal/scanner"
	"admind/internal/scheduler"
)

// Metrics holds the daemon's collectors on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	ticks       prometheus.Counter
	actions     *prometheus.CounterVec
	launches    *prometheus.CounterVec
	exits       *prometheus.CounterVec
	active      prometheus.Gauge
	epochHours  prometheus.Gauge
	lastTickSec prometheus.Gauge
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "admind_ticks_total",
			Help: "Base ticks completed.",
		}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "admind_remote_actions_total",
			Help: "Admin API calls by action and outcome.",
		}, []string{"action", "outcome"}),
		launches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "admind_scanner_launches_total",
			Help: "Scanner launch attempts by result.",
		}, []string{"result"}),
		exits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "admind_scanner_exits_total",
			Help: "Scanner process exits by exit code.",
		}, []string{"code"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "admind_scanner_active",
			Help: "Scanner processes currently running.",
		}),
		epochHours: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "admind_schedule_epoch_hours",
			Help: "Schedule epoch in whole hours since the Unix epoch.",
		}),
		lastTickSec: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "admind_last_tick_duration_seconds",
			Help: "Wall time of the most recent tick.",
		}),
	}
	reg.MustRegister(
		m.ticks, m.actions, m.launches, m.exits, m.active, m.epochHours, m.lastTickSec,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) SetEpoch(e scheduler.Epoch) { m.epochHours.Set(float64(e)) }

// ObserveOutcome matches adminapi.Observer.
func (m *Metrics) ObserveOutcome(_ context.Context, o adminapi.Outcome) {
	m.actions.WithLabelValues(string(o.Action), o.Label()).Inc()
}

func (m *Metrics) ObserveTick(r scheduler.TickReport) {
	m.ticks.Inc()
	m.lastTickSec.Set(r.Took.Seconds())
}

func (m *Metrics) ObserveLaunch(_ *scanner.Run, err error) {
	if err != nil {
		m.launches.WithLabelValues("spawn_error").Inc()
		return
	}
	m.launches.WithLabelValues("started").Inc()
	m.active.Inc()
}

func (m *Metrics) ObserveExit(_ *scanner.Run, e scanner.Exit) {
	m.exits.WithLabelValues(strconv.Itoa(e.Code)).Inc()
	m.active.Dec()
}
