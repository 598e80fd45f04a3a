package priority

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the priority engine.
type Metrics struct {
	CyclesTotal         *prometheus.CounterVec
	CycleDuration       prometheus.Histogram
	CycleSurfaced       prometheus.Histogram
	AdapterFetchTotal   *prometheus.CounterVec
	AdapterDuration     *prometheus.HistogramVec
	AdapterRecords      *prometheus.HistogramVec
	NormalizationErrors *prometheus.CounterVec
	UpsertsTotal        *prometheus.CounterVec
	TransitionsTotal    *prometheus.CounterVec
	RuleErrorsTotal     *prometheus.CounterVec
	EffectsTotal        *prometheus.CounterVec
	CreatesTotal        *prometheus.CounterVec
}

// NewMetrics registers and returns priority metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "surfacer_cycles_total",
			Help: "Total cycles by outcome.",
		}, []string{"outcome"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "surfacer_cycle_duration_seconds",
			Help:    "Duration of per-user cycles in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms .. ~20s
		}),
		CycleSurfaced: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "surfacer_cycle_surfaced_items",
			Help:    "Items newly surfaced per cycle.",
			Buckets: prometheus.LinearBuckets(0, 1, 11), // 0 .. 10
		}),
		AdapterFetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "surfacer_adapter_fetch_total",
			Help: "Source adapter fetches by adapter and outcome.",
		}, []string{"adapter", "outcome"}),
		AdapterDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "surfacer_adapter_fetch_duration_seconds",
			Help:    "Duration of source adapter fetches in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 11), // 10ms .. ~10s
		}, []string{"adapter"}),
		AdapterRecords: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "surfacer_adapter_records",
			Help:    "Raw records returned per adapter fetch.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1 .. 512
		}, []string{"adapter"}),
		NormalizationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "surfacer_normalization_errors_total",
			Help: "Raw records dropped during normalization by source type.",
		}, []string{"source_type"}),
		UpsertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "surfacer_upserts_total",
			Help: "Record upserts by outcome.",
		}, []string{"outcome"}),
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "surfacer_transitions_total",
			Help: "Lifecycle transitions by event and resulting status.",
		}, []string{"event", "status"}),
		RuleErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "surfacer_elimination_rule_errors_total",
			Help: "Elimination rules skipped because of an evaluation error.",
		}, []string{"rule"}),
		EffectsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "surfacer_visibility_effects_total",
			Help: "Visibility effects by visibility and outcome.",
		}, []string{"visibility", "outcome"}),
		CreatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "surfacer_item_creates_total",
			Help: "Item create requests by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.CyclesTotal,
		m.CycleDuration,
		m.CycleSurfaced,
		m.AdapterFetchTotal,
		m.AdapterDuration,
		m.AdapterRecords,
		m.NormalizationErrors,
		m.UpsertsTotal,
		m.TransitionsTotal,
		m.RuleErrorsTotal,
		m.EffectsTotal,
		m.CreatesTotal,
	)

	return m
}

func outcome(isError bool) string {
	if isError {
		return "error"
	}
	return "success"
}

// Hooks returns EngineHooks that update the corresponding metrics.
func (m *Metrics) Hooks() EngineHooks {
	return EngineHooks{
		OnFetch: func(adapter string, records int, duration float64, isError bool) {
			m.AdapterFetchTotal.WithLabelValues(adapter, outcome(isError)).Inc()
			m.AdapterDuration.WithLabelValues(adapter).Observe(duration)
			m.AdapterRecords.WithLabelValues(adapter).Observe(float64(records))
		},
		OnNormalizationError: func(source SourceType) {
			m.NormalizationErrors.WithLabelValues(string(source)).Inc()
		},
		OnUpsert: func(o UpsertOutcome) {
			m.UpsertsTotal.WithLabelValues(string(o)).Inc()
		},
		OnTransition: func(ev Event, to Status) {
			m.TransitionsTotal.WithLabelValues(string(ev), string(to)).Inc()
		},
		OnRuleError: func(rule string) {
			m.RuleErrorsTotal.WithLabelValues(rule).Inc()
		},
		OnEffect: func(v Visibility, isError bool) {
			m.EffectsTotal.WithLabelValues(string(v), outcome(isError)).Inc()
		},
		OnCycle: func(r *CycleReport, err error) {
			m.CyclesTotal.WithLabelValues(outcome(err != nil)).Inc()
			if r == nil {
				return
			}
			m.CycleDuration.Observe(r.Duration.Seconds())
			m.CycleSurfaced.Observe(float64(r.Surfaced))
		},
	}
}

// ServiceHooks returns ServiceHooks that update the corresponding metrics.
func (m *Metrics) ServiceHooks() ServiceHooks {
	return ServiceHooks{
		OnCreate: func(status string) {
			m.CreatesTotal.WithLabelValues(status).Inc()
		},
	}
}
