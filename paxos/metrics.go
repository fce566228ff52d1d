package paxos

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the gauges and histograms the Acceptor and Proposer
// state machines update as they run. Grounded on
// paxos/proposermanager.go's ProposerMetrics (Gauge + Lifespan
// Observer), widened to cover both registries this package now owns.
type Metrics struct {
	AcceptorsLive prometheus.Gauge
	ProposersLive prometheus.Gauge
	DecreeLatency prometheus.Observer
}

func NewMetrics() *Metrics {
	return &Metrics{
		AcceptorsLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "store_acceptors_live",
			Help: "Number of Acceptor instances currently resident in memory.",
		}),
		ProposersLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "store_proposers_live",
			Help: "Number of Proposer instances currently resident in memory.",
		}),
		DecreeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "store_decree_latency_seconds",
			Help:    "Time from a Proposer's open to its transition to Closed.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(m.AcceptorsLive, m.ProposersLive, m.DecreeLatency.(prometheus.Collector))
}
