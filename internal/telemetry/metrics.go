package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics — Prometheus метрики conveyor.
//
// Все методы безопасны для nil-получателя: компоненты, собранные
// без метрик (CLI, тесты), просто ничего не записывают.
type Metrics struct {
	runsTotal    *prometheus.CounterVec
	runsActive   prometheus.Gauge
	stepDuration *prometheus.HistogramVec
	cacheLookups *prometheus.CounterVec
	httpRequests *prometheus.CounterVec
	eventsTotal  *prometheus.CounterVec
}

// NewMetrics регистрирует метрики в reg.
// Если reg == nil, используется prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "conveyor_runs_total",
			Help: "Total finished pipeline runs by status",
		}, []string{"status"}),

		runsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "conveyor_runs_active",
			Help: "Pipeline runs currently executing",
		}),

		stepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "conveyor_step_duration_seconds",
			Help:    "Step execution duration by kind and status",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"kind", "status"}),

		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "conveyor_cache_lookups_total",
			Help: "Cache restore lookups by result (hit, miss, error)",
		}, []string{"result"}),

		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "conveyor_api_http_requests_total",
			Help: "Total HTTP requests handled by conveyor api",
		}, []string{"method", "code"}),

		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "conveyor_events_total",
			Help: "Trigger events received by type and whether they matched",
		}, []string{"type", "matched"}),
	}
}

// RunStarted увеличивает число активных run.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.runsActive.Inc()
}

// RunFinished фиксирует завершение run.
func (m *Metrics) RunFinished(status string) {
	if m == nil {
		return
	}
	m.runsActive.Dec()
	m.runsTotal.WithLabelValues(status).Inc()
}

// ObserveStep фиксирует длительность шага.
func (m *Metrics) ObserveStep(kind, status string, seconds float64) {
	if m == nil {
		return
	}
	m.stepDuration.WithLabelValues(kind, status).Observe(seconds)
}

// CacheLookup фиксирует результат восстановления кэша: "hit", "miss" или "error".
func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// HTTPRequest фиксирует обработанный HTTP-запрос.
func (m *Metrics) HTTPRequest(method, code string) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, code).Inc()
}

// EventReceived фиксирует полученное событие-триггер.
func (m *Metrics) EventReceived(eventType string, matched bool) {
	if m == nil {
		return
	}
	label := "false"
	if matched {
		label = "true"
	}
	m.eventsTotal.WithLabelValues(eventType, label).Inc()
}
