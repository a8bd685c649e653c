package httpapi

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/timbrinded/degen-ai-sub000/pkg/types"
)

// metricsRegistry holds the Prometheus gauges/counters exposed at /metrics.
type metricsRegistry struct {
	registry *prometheus.Registry

	regimeConfidence  prometheus.Gauge
	tripwireEventsTot prometheus.Counter
	planPnL           prometheus.Gauge
	planDrawdownPct   prometheus.Gauge
	planDriftPct      prometheus.Gauge
	planHitRate       prometheus.Gauge
}

func newMetricsRegistry() *metricsRegistry {
	m := &metricsRegistry{
		registry: prometheus.NewRegistry(),
		regimeConfidence: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gov_regime_confidence",
			Help: "Confidence of the most recently confirmed regime classification.",
		}),
		tripwireEventsTot: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gov_tripwire_events_total",
			Help: "Total tripwire events fired across all categories.",
		}),
		planPnL: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gov_active_plan_pnl_usd",
			Help: "Mark-to-market PnL of the active plan in USD.",
		}),
		planDrawdownPct: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gov_active_plan_max_drawdown_pct",
			Help: "Maximum drawdown of the active plan since activation.",
		}),
		planDriftPct: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gov_active_plan_avg_drift_pct",
			Help: "Average allocation drift of the active plan from its targets.",
		}),
		planHitRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gov_active_plan_hit_rate_pct",
			Help: "Winning-trade percentage of the active plan.",
		}),
	}
	m.registry.MustRegister(
		m.regimeConfidence,
		m.tripwireEventsTot,
		m.planPnL,
		m.planDrawdownPct,
		m.planDriftPct,
		m.planHitRate,
	)
	return m
}

func (m *metricsRegistry) observeRegimeConfidence(confidence float64) {
	m.regimeConfidence.Set(confidence)
}

func (m *metricsRegistry) incTripwireEvents(n int) {
	m.tripwireEventsTot.Add(float64(n))
}

func (m *metricsRegistry) observePlanMetrics(metrics types.PlanMetrics) {
	m.planPnL.Set(toFloat(metrics.TotalPnL))
	m.planDrawdownPct.Set(toFloat(metrics.MaxDrawdownPct))
	m.planDriftPct.Set(toFloat(metrics.AvgDriftPct))
	m.planHitRate.Set(toFloat(metrics.HitRate))
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
