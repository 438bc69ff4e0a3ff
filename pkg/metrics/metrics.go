// Package metrics - prometheus-метрики импорта.
// Все методы безопасны для nil *Metrics (метрики выключены).
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "forum_import"

// Metrics - набор метрик одного процесса импорта
type Metrics struct {
	registry *prometheus.Registry

	units         *prometheus.CounterVec
	batches       *prometheus.CounterVec
	phaseDuration *prometheus.HistogramVec
	degraded      *prometheus.CounterVec
	lastOffset    *prometheus.GaugeVec
}

// New регистрирует метрики в собственном registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		units: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_total",
			Help:      "Import units by entity kind and outcome.",
		}, []string{"kind", "status"}),
		batches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Source pages processed by phase and outcome.",
		}, []string{"phase", "outcome"}),
		phaseDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "phase_duration_seconds",
			Help:      "Wall time of an import phase.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 10),
		}, []string{"phase"}),
		degraded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degraded_total",
			Help:      "Best-effort operations that failed and were skipped.",
		}, []string{"op"}),
		lastOffset: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "phase_offset",
			Help:      "Offset of the next source page per phase.",
		}, []string{"phase"}),
	}
}

// Unit - итог одной единицы импорта
func (m *Metrics) Unit(kind, status string) {
	if m == nil {
		return
	}
	m.units.WithLabelValues(kind, status).Inc()
}

// Batch - обработанная страница
func (m *Metrics) Batch(phase string, offset int, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.batches.WithLabelValues(phase, outcome).Inc()
	m.lastOffset.WithLabelValues(phase).Set(float64(offset))
}

// Phase - длительность фазы
func (m *Metrics) Phase(phase string, d time.Duration) {
	if m == nil {
		return
	}
	m.phaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// Degraded - погашенная ошибка побочной операции
func (m *Metrics) Degraded(op string) {
	if m == nil {
		return
	}
	m.degraded.WithLabelValues(op).Inc()
}

// Registry - registry для тестов и внешней регистрации
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler - http.Handler для /metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
