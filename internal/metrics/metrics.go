// Package metrics exposes agent activity as Prometheus metrics.
//
// Everything is driven by eventbus events, so the loop never touches
// a collector directly.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"seatwatch/internal/agent"
	"seatwatch/internal/backup"
	"seatwatch/internal/eventbus"
)

const namespace = "seatwatch"

type Metrics struct {
	reg *prometheus.Registry

	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	newItems      prometheus.Counter
	changes       prometheus.Counter
	knownItems    prometheus.Gauge
	failures      prometheus.Gauge
	nextDelay     *prometheus.GaugeVec
	notifications *prometheus.CounterVec
	saveFailures  prometheus.Counter
	backups       *prometheus.CounterVec
	lastBackup    prometheus.Gauge
}

// New builds a private registry with process and Go collectors.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "cycles_total",
			Help: "Completed cycles by outcome.",
		}, []string{"outcome"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "cycle_duration_seconds",
			Help:    "Wall time of one cycle, observation included.",
			Buckets: []float64{1, 5, 10, 20, 30, 60, 90, 120, 180},
		}),
		newItems: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "new_items_total",
			Help: "Item codes seen for the first time.",
		}),
		changes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "quantity_changes_total",
			Help: "Quantity changes on known items.",
		}),
		knownItems: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "known_items",
			Help: "Items in the last successful snapshot.",
		}),
		failures: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "consecutive_failures",
			Help: "Failed cycles since the last success.",
		}),
		nextDelay: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "next_delay_seconds",
			Help: "Sleep chosen after the last cycle, labelled by the rule that chose it.",
		}, []string{"rule"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "notifications_total",
			Help: "Notification deliveries by result.",
		}, []string{"result"}),
		saveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "save_failures_total",
			Help: "Cycles whose record could not be persisted.",
		}),
		backups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "backups_total",
			Help: "Backup runs by result.",
		}, []string{"result"}),
		lastBackup: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_backup_timestamp_seconds",
			Help: "Unix time of the last successful backup.",
		}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.cycles, m.cycleDuration, m.newItems, m.changes, m.knownItems,
		m.failures, m.nextDelay, m.notifications, m.saveFailures,
		m.backups, m.lastBackup,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Run consumes bus events until ctx is done.
func (m *Metrics) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(64)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			m.Observe(ev)
		}
	}
}

// Observe applies one event.
func (m *Metrics) Observe(ev eventbus.Event) {
	switch ev.Type {
	case eventbus.TypeCycle:
		res, ok := ev.Data.(agent.CycleResult)
		if !ok || res.Aborted {
			return
		}
		m.cycles.WithLabelValues(string(res.Outcome)).Inc()
		m.cycleDuration.Observe(res.Duration.Seconds())
		m.failures.Set(float64(res.Failures))
		m.nextDelay.Reset()
		m.nextDelay.WithLabelValues(string(res.Rule)).Set(res.Delay.Seconds())
		if res.Outcome == agent.OutcomeSuccess {
			m.knownItems.Set(float64(res.Items))
			m.newItems.Add(float64(len(res.Decision.NewCodes)))
			m.changes.Add(float64(len(res.Decision.QuantityChanges)))
		}
	case eventbus.TypePersistFailed:
		m.saveFailures.Inc()
	case eventbus.TypeNotifySent:
		m.notifications.WithLabelValues("sent").Inc()
	case eventbus.TypeNotifyFailed:
		m.notifications.WithLabelValues("failed").Inc()
	case eventbus.TypeBackupFinished:
		res, ok := ev.Data.(backup.Result)
		if !ok {
			return
		}
		if res.Error != "" {
			m.backups.WithLabelValues("failed").Inc()
			return
		}
		m.backups.WithLabelValues("ok").Inc()
		m.lastBackup.Set(float64(ev.Time.Unix()))
	}
}
