package sfu

import "github.com/prometheus/client_golang/prometheus"

var (
	roomsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sfu",
		Name:      "rooms",
		Help:      "Number of live rooms.",
	})
	ingestLinks = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sfu",
		Name:      "ingest_links",
		Help:      "Number of publisher ingest links.",
	})
	egressLinks = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sfu",
		Name:      "egress_links",
		Help:      "Number of subscriber egress links.",
	})
	signalMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sfu",
		Name:      "signal_messages_total",
		Help:      "Inbound signal messages by event.",
	}, []string{"event"})
	droppedMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sfu",
		Name:      "dropped_messages_total",
		Help:      "Inbound signal messages dropped by event and reason.",
	}, []string{"event", "reason"})
	negotiationFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sfu",
		Name:      "negotiation_failures_total",
		Help:      "Abandoned negotiations by link role.",
	}, []string{"role"})
)

func init() {
	prometheus.MustRegister(roomsGauge, ingestLinks, egressLinks, signalMessages, droppedMessages, negotiationFailures)
}
