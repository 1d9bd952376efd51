package flowchain

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the flow chain collectors. A nil *Metrics records nothing.
type Metrics struct {
	layoutSaves  *prometheus.CounterVec
	broadcasts   *prometheus.CounterVec
	itemsCreated *prometheus.CounterVec
	chainNodes   prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		layoutSaves: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowchain_layout_saves_total",
				Help: "Flow layout save attempts by result (ok, conflict, error).",
			},
			[]string{"result"},
		),
		broadcasts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowchain_broadcasts_total",
				Help: "Flow UI change notifications by result (ok, error).",
			},
			[]string{"result"},
		),
		itemsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowchain_items_created_total",
				Help: "Artifacts created from the flow chain by item type.",
			},
			[]string{"item_type"},
		),
		chainNodes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "flowchain_chain_nodes",
				Help:    "Number of nodes in derived flow chains.",
				Buckets: prometheus.ExponentialBuckets(1, 2, 10),
			},
		),
	}
	reg.MustRegister(m.layoutSaves, m.broadcasts, m.itemsCreated, m.chainNodes)
	return m
}

func (m *Metrics) layoutSaved(result string) {
	if m != nil {
		m.layoutSaves.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) broadcast(result string) {
	if m != nil {
		m.broadcasts.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) itemCreated(t NodeType) {
	if m != nil {
		m.itemsCreated.WithLabelValues(string(t)).Inc()
	}
}

func (m *Metrics) chainDerived(nodes int) {
	if m != nil {
		m.chainNodes.Observe(float64(nodes))
	}
}
