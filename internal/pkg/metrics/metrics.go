// Package metrics defines the Prometheus metrics of the dispatch server.
//
// Metrics are registered with the default registry at init through promauto and
// served by the /metrics route.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ultramedic"

// LiveConnections is the number of registered live channels.
var LiveConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "live_connections",
		Help:      "Number of live channels currently registered in the hub.",
	},
)

// ToursCreatedTotal counts successfully created tours.
var ToursCreatedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tours_created_total",
		Help:      "Total number of tours created.",
	},
)

// ToursClosedTotal counts deleted tours.
// Label:
//   - reason: "completed", "cancelled"
var ToursClosedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tours_closed_total",
		Help:      "Total number of tours removed from the store.",
	},
	[]string{"reason"},
)

// InboundMessagesTotal counts messages received over live channels.
// Label:
//   - op: the operation code, or "unknown"
var InboundMessagesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "inbound_messages_total",
		Help:      "Total number of messages received over live channels, by op.",
	},
	[]string{"op"},
)

// StoreErrorsTotal counts tour store failures.
// Label:
//   - op: store operation (e.g. "create", "update", "get")
var StoreErrorsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tour_store_errors_total",
		Help:      "Total number of tour store I/O failures, by operation.",
	},
	[]string{"op"},
)

// DroppedPushesTotal counts pushes that could not be queued for a client.
var DroppedPushesTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dropped_pushes_total",
		Help:      "Total number of pushes dropped because the client queue was full or closed.",
	},
)
