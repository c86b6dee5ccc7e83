package escrow

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the service's prometheus collectors.
type Metrics struct {
	operations *prometheus.CounterVec
	payouts    *prometheus.CounterVec
	claimers   *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "claim",
				Subsystem: "escrow",
				Name:      "operations_total",
				Help:      "Round operations by name and outcome.",
			},
			[]string{"op", "result"},
		),
		payouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "claim",
				Subsystem: "escrow",
				Name:      "payout_units_total",
				Help:      "Units of the pool asset paid out, by asset.",
			},
			[]string{"asset"},
		),
		claimers: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "claim",
				Subsystem: "escrow",
				Name:      "round_claimers",
				Help:      "Registered claimers per round.",
			},
			[]string{"round"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.operations, m.payouts, m.claimers)
	}
	return m
}

func (m *Metrics) observe(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.operations.WithLabelValues(op, result).Inc()
}
