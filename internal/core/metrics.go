package core

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"dmagent/pkg/schema"
)

// Metrics exposes dispatcher counters. A nil *Metrics records nothing.
type Metrics struct {
	Hops             *prometheus.CounterVec
	Classifications  *prometheus.CounterVec
	HandlerFailures  *prometheus.CounterVec
	Turns            *prometheus.CounterVec
	HandlerDuration  *prometheus.HistogramVec
	InteractionDrops prometheus.Counter
	DiceRolls        *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
// Pass nil to create unregistered collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Hops: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dmagent_hops_total",
				Help: "Dispatcher hops by routing target",
			},
			[]string{"target"},
		),
		Classifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dmagent_classifications_total",
				Help: "Supervisor routing decisions by target and fallback reason",
			},
			[]string{"target", "fallback"},
		),
		HandlerFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dmagent_handler_failures_total",
				Help: "Handler failures recovered by the dispatcher",
			},
			[]string{"target"},
		),
		Turns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dmagent_turns_total",
				Help: "Completed user turns by outcome",
			},
			[]string{"outcome"},
		),
		HandlerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dmagent_handler_duration_seconds",
				Help:    "Duration of handler and classification hops",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"target"},
		),
		InteractionDrops: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dmagent_interaction_log_failures_total",
				Help: "Interaction records that could not be written",
			},
		),
		DiceRolls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dmagent_dice_rolls_total",
				Help: "Dice expressions rolled by mode",
			},
			[]string{"mode"},
		),
	}

	for _, t := range schema.AllTargets {
		if t == schema.TargetTerminal {
			continue
		}
		m.Hops.WithLabelValues(string(t))
		if t.IsHandler() {
			m.HandlerFailures.WithLabelValues(string(t))
		}
	}

	if reg != nil {
		reg.MustRegister(m.Hops, m.Classifications, m.HandlerFailures, m.Turns, m.HandlerDuration, m.InteractionDrops, m.DiceRolls)
	}
	return m
}

func (m *Metrics) hop(target schema.Target, started time.Time) {
	if m == nil {
		return
	}
	m.Hops.WithLabelValues(string(target)).Inc()
	m.HandlerDuration.WithLabelValues(string(target)).Observe(time.Since(started).Seconds())
}

func (m *Metrics) classified(c Classification) {
	if m == nil {
		return
	}
	m.Classifications.WithLabelValues(string(c.Target), string(c.Fallback)).Inc()
}

func (m *Metrics) handlerFailed(target schema.Target) {
	if m == nil {
		return
	}
	m.HandlerFailures.WithLabelValues(string(target)).Inc()
}

func (m *Metrics) turn(outcome TurnOutcome) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(string(outcome)).Inc()
}

func (m *Metrics) interactionDropped() {
	if m == nil {
		return
	}
	m.InteractionDrops.Inc()
}

// DiceRolled counts one evaluated dice expression. Mode is normal,
// advantage, disadvantage or fallback.
func (m *Metrics) DiceRolled(mode string) {
	if m == nil {
		return
	}
	m.DiceRolls.WithLabelValues(mode).Inc()
}
