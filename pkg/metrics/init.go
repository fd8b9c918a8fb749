package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initPropertyMetrics() {
	r.PropertyResolutionsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "chdr_property_resolutions_total",
			Help: "Total number of property resolver invocations",
		},
		[]string{"resolver", "status"},
	)

	r.PropertyResolutionDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chdr_property_resolution_duration_seconds",
			Help:    "Duration of a single resolver invocation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"resolver"},
	)

	r.PropertyResolveSweeps = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chdr_property_resolve_sweep_duration_seconds",
			Help:    "Duration of a full fixed-point propagation pass over a node",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"node_id"},
	)

	r.PropertiesDirtyTotal = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "chdr_properties_dirty_total",
			Help: "Number of properties currently marked dirty and awaiting resolution",
		},
	)
}

func (r *Registry) initActionMetrics() {
	r.ActionsRoutedTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "chdr_actions_routed_total",
			Help: "Total number of actions dequeued and dispatched",
		},
		[]string{"action_key", "status"},
	)

	r.ActionQueueDepth = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "chdr_action_queue_depth",
			Help: "Number of actions currently pending in the routing queue",
		},
	)

	r.ActionHandlerDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chdr_action_handler_duration_seconds",
			Help:    "Duration of a single action handler invocation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action_key"},
	)

	r.ActionOverflowsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "chdr_action_overflows_total",
			Help: "Total number of times action routing hit its re-entrant iteration cap",
		},
	)
}

func (r *Registry) initGraphMetrics() {
	r.GraphNodesTotal = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "chdr_graph_nodes_total",
			Help: "Total number of nodes in the graph",
		},
	)

	r.GraphEdgesTotal = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "chdr_graph_edges_total",
			Help: "Total number of edges in the graph",
		},
	)

	r.GraphConnectsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "chdr_graph_connects_total",
			Help: "Total number of connect() calls by outcome",
		},
		[]string{"status"}, // ok, cycle_rejected, error
	)

	r.GraphCyclesRejected = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "chdr_graph_cycles_rejected_total",
			Help: "Total number of connect() calls rejected for introducing a cycle",
		},
	)
}

func (r *Registry) initTransportMetrics() {
	r.PacketsSentTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "chdr_packets_sent_total",
			Help: "Total number of CHDR packets transmitted",
		},
		[]string{"vc", "packet_type"},
	)

	r.PacketsRecvTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "chdr_packets_received_total",
			Help: "Total number of CHDR packets received",
		},
		[]string{"vc", "packet_type"},
	)

	r.BytesSentTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "chdr_bytes_sent_total",
			Help: "Total number of CHDR payload bytes transmitted",
		},
		[]string{"vc"},
	)

	r.BytesRecvTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "chdr_bytes_received_total",
			Help: "Total number of CHDR payload bytes received",
		},
		[]string{"vc"},
	)

	r.MalformedPacketsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "chdr_malformed_packets_total",
			Help: "Total number of packets rejected during decode",
		},
		[]string{"vc", "reason"},
	)
}

func (r *Registry) initStreamerMetrics() {
	r.StreamerStateTotal = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chdr_streamer_state",
			Help: "Streamer state machine state (1 for current state, 0 otherwise)",
		},
		[]string{"channel", "state"},
	)

	r.StreamerOverrunsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "chdr_streamer_overruns_total",
			Help: "Total number of RX streamer overrun events",
		},
		[]string{"channel"},
	)

	r.StreamerUnderrunsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "chdr_streamer_underruns_total",
			Help: "Total number of TX streamer underrun events",
		},
		[]string{"channel"},
	)

	r.StreamerCreditsOutstanding = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chdr_streamer_credits_outstanding",
			Help: "Flow-control credits currently outstanding for a channel",
		},
		[]string{"channel"},
	)

	r.StreamerSamplesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "chdr_streamer_samples_total",
			Help: "Total number of samples transferred through a streamer channel",
		},
		[]string{"channel"},
	)
}

func (r *Registry) initClientZeroMetrics() {
	r.ClientZeroRequestsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "chdr_client_zero_requests_total",
			Help: "Total number of client-zero register-interface requests",
		},
		[]string{"op", "status"},
	)

	r.ClientZeroErrorsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "chdr_client_zero_errors_total",
			Help: "Total number of client-zero requests that returned an error",
		},
		[]string{"op"},
	)
}
