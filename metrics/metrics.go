// Package metrics exposes Prometheus collectors for the node's Art-Net
// and RDM activity, grounded on the pack's Prometheus client usage
// (yuuki-rdma_exporter, leptonai-gpud) adapted to this domain: counters
// for packets and RDM transactions, gauges for discovered responder
// counts, a histogram for RDM round-trip latency.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collectors bundles every metric the node publishes. Callers register
// it once against a prometheus.Registerer (or prometheus.DefaultRegisterer)
// and update the exported collectors directly from the relevant
// artnet/queue callbacks; Collectors has no helper methods for that.
type Collectors struct {
	PacketsReceived  *prometheus.CounterVec
	PacketsSent      *prometheus.CounterVec
	RDMRequests      *prometheus.CounterVec
	RDMLatency       prometheus.Histogram
	DiscoveredUIDs   *prometheus.GaugeVec
	RDMQueueDepth    *prometheus.GaugeVec
	DiscoveryPasses  *prometheus.CounterVec
}

// New builds a Collectors with all metrics instantiated but not yet
// registered.
func New() *Collectors {
	return &Collectors{
		PacketsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "olanode",
			Subsystem: "artnet",
			Name:      "packets_received_total",
			Help:      "Art-Net packets received, labelled by opcode.",
		}, []string{"opcode"}),
		PacketsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "olanode",
			Subsystem: "artnet",
			Name:      "packets_sent_total",
			Help:      "Art-Net packets sent, labelled by opcode.",
		}, []string{"opcode"}),
		RDMRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "olanode",
			Subsystem: "rdm",
			Name:      "requests_total",
			Help:      "RDM requests completed, labelled by outcome status.",
		}, []string{"status"}),
		RDMLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "olanode",
			Subsystem: "rdm",
			Name:      "request_latency_seconds",
			Help:      "Time from sending an RDM request to its resolution (ACK, NACK, or timeout).",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2},
		}),
		DiscoveredUIDs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "olanode",
			Subsystem: "rdm",
			Name:      "discovered_uids",
			Help:      "Number of RDM responder UIDs currently known per universe.",
		}, []string{"universe"}),
		RDMQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "olanode",
			Subsystem: "rdm",
			Name:      "queue_depth",
			Help:      "Number of GET/SET requests waiting in the Queueing RDM Controller per universe.",
		}, []string{"universe"}),
		DiscoveryPasses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "olanode",
			Subsystem: "rdm",
			Name:      "discovery_passes_total",
			Help:      "TOD discovery passes completed, labelled by kind (full/incremental) and outcome.",
		}, []string{"kind", "outcome"}),
	}
}

// MustRegister registers every collector against reg, panicking on a
// duplicate-registration error the way Register() would for a
// misconfigured collector (mirrors the ecosystem's MustRegister idiom).
func (c *Collectors) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		c.PacketsReceived,
		c.PacketsSent,
		c.RDMRequests,
		c.RDMLatency,
		c.DiscoveredUIDs,
		c.RDMQueueDepth,
		c.DiscoveryPasses,
	)
}
