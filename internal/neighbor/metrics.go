package neighbor

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	solicitations *prometheus.CounterVec
	removals      *prometheus.CounterVec
	confirmations prometheus.Counter
	transitions   *prometheus.CounterVec
}

func newMetrics() *metrics {
	return &metrics{
		solicitations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nd6_solicitations_total",
			Help: "Neighbor Solicitations emitted by the NUD state machine.",
		}, []string{"kind"}),
		removals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nd6_neighbor_removals_total",
			Help: "Neighbor records removed, by reason.",
		}, []string{"table", "reason"}),
		confirmations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nd6_link_confirmations_total",
			Help: "Reachability confirmations from link-layer acknowledgements.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nd6_state_transitions_total",
			Help: "NUD state transitions.",
		}, []string{"from", "to"}),
	}
}

func (m *metrics) register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.solicitations, m.removals, m.confirmations, m.transitions} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
