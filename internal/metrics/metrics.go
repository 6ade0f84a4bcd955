// Package metrics exports cascade activity as Prometheus collectors.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/awmpietro/golang-cascade-escalation/internal/audit"
	"github.com/awmpietro/golang-cascade-escalation/internal/cascade"
)

// Metrics implements cascade.TierObserver, cascade.EscalationObserver and audit.Sink.
type Metrics struct {
	TierDuration *prometheus.HistogramVec
	TierOutcomes *prometheus.CounterVec
	Escalations  *prometheus.CounterVec
	Cascades     *prometheus.CounterVec
	CascadeTime  *prometheus.HistogramVec
}

var (
	_ cascade.TierObserver       = (*Metrics)(nil)
	_ cascade.EscalationObserver = (*Metrics)(nil)
	_ audit.Sink                 = (*Metrics)(nil)
)

// New builds the collectors and registers them on reg. Collectors that are already
// registered are reused, so New may be called more than once per registry.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		TierDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cascade_tier_duration_seconds",
			Help:    "Duration of a tier including its retries.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"tier", "outcome"}),
		TierOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cascade_tier_outcomes_total",
			Help: "Tier attempts by outcome.",
		}, []string{"tier", "outcome"}),
		Escalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cascade_escalations_total",
			Help: "Hand-offs from one tier to the next.",
		}, []string{"from", "to"}),
		Cascades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cascade_runs_total",
			Help: "Finished cascades by cascade name and status.",
		}, []string{"cascade", "status"}),
		CascadeTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cascade_run_duration_seconds",
			Help:    "End to end cascade duration.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"cascade"}),
	}

	if reg == nil {
		return m, nil
	}

	var errs []error
	m.TierDuration = register(reg, m.TierDuration, &errs)
	m.TierOutcomes = register(reg, m.TierOutcomes, &errs)
	m.Escalations = register(reg, m.Escalations, &errs)
	m.Cascades = register(reg, m.Cascades, &errs)
	m.CascadeTime = register(reg, m.CascadeTime, &errs)
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return m, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T, errs *[]error) T {
	err := reg.Register(c)
	if err == nil {
		return c
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(T); ok {
			return existing
		}
	}
	*errs = append(*errs, err)
	return c
}

func (m *Metrics) ObserveTier(tier string, outcome cascade.Outcome, d time.Duration) {
	m.TierDuration.WithLabelValues(tier, string(outcome)).Observe(d.Seconds())
	m.TierOutcomes.WithLabelValues(tier, string(outcome)).Inc()
}

func (m *Metrics) ObserveEscalation(from, to string) {
	m.Escalations.WithLabelValues(from, to).Inc()
}

// Emit counts finished cascades; other events are ignored.
func (m *Metrics) Emit(ev audit.Event) {
	if ev.What != audit.CascadeAction {
		return
	}
	switch ev.How.Status {
	case audit.StatusCompleted, audit.StatusAborted:
		m.Cascades.WithLabelValues(ev.Where, string(ev.How.Status)).Inc()
		m.CascadeTime.WithLabelValues(ev.Where).Observe(ev.How.Duration().Seconds())
	}
}
