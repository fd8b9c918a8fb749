// Package metrics exposes the Prometheus registry a CHDR host uses to
// report graph, action-routing, and streamer activity.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every metric a CHDR host instance reports.
type Registry struct {
	// Property graph metrics
	PropertyResolutionsTotal   *prometheus.CounterVec
	PropertyResolutionDuration *prometheus.HistogramVec
	PropertyResolveSweeps      *prometheus.HistogramVec
	PropertiesDirtyTotal       prometheus.Gauge

	// Action routing metrics
	ActionsRoutedTotal    *prometheus.CounterVec
	ActionQueueDepth      prometheus.Gauge
	ActionHandlerDuration *prometheus.HistogramVec
	ActionOverflowsTotal  prometheus.Counter

	// Graph topology metrics
	GraphNodesTotal     prometheus.Gauge
	GraphEdgesTotal      prometheus.Gauge
	GraphConnectsTotal  *prometheus.CounterVec
	GraphCyclesRejected prometheus.Counter

	// CHDR transport metrics
	PacketsSentTotal     *prometheus.CounterVec
	PacketsRecvTotal     *prometheus.CounterVec
	BytesSentTotal       *prometheus.CounterVec
	BytesRecvTotal       *prometheus.CounterVec
	MalformedPacketsTotal *prometheus.CounterVec

	// Streamer metrics
	StreamerStateTotal     *prometheus.GaugeVec
	StreamerOverrunsTotal  *prometheus.CounterVec
	StreamerUnderrunsTotal *prometheus.CounterVec
	StreamerCreditsOutstanding *prometheus.GaugeVec
	StreamerSamplesTotal   *prometheus.CounterVec

	// Client-zero metrics
	ClientZeroRequestsTotal *prometheus.CounterVec
	ClientZeroErrorsTotal   *prometheus.CounterVec

	registry *prometheus.Registry
	mu       sync.RWMutex
}

var (
	defaultRegistry *Registry
	once            sync.Once
)

// DefaultRegistry returns the process-wide metrics registry.
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry builds a fresh registry with every metric initialized. Tests
// and multi-device hosts should use this instead of DefaultRegistry to avoid
// duplicate-registration panics.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{registry: reg}

	r.initPropertyMetrics()
	r.initActionMetrics()
	r.initGraphMetrics()
	r.initTransportMetrics()
	r.initStreamerMetrics()
	r.initClientZeroMetrics()

	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry, for
// wiring into an HTTP /metrics handler.
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}

// RecordResolution records the outcome of a single property resolver call.
func (r *Registry) RecordResolution(resolverName, status string, duration time.Duration) {
	r.PropertyResolutionsTotal.WithLabelValues(resolverName, status).Inc()
	r.PropertyResolutionDuration.WithLabelValues(resolverName).Observe(duration.Seconds())
}

// RecordResolveSweep records one full fixed-point propagation pass.
func (r *Registry) RecordResolveSweep(nodeID string, duration time.Duration) {
	r.PropertyResolveSweeps.WithLabelValues(nodeID).Observe(duration.Seconds())
}

// SetDirtyProperties updates the gauge tracking properties awaiting resolution.
func (r *Registry) SetDirtyProperties(n int) {
	r.PropertiesDirtyTotal.Set(float64(n))
}

// RecordAction records a single action dequeue-and-dispatch.
func (r *Registry) RecordAction(actionKey, status string, duration time.Duration) {
	r.ActionsRoutedTotal.WithLabelValues(actionKey, status).Inc()
	r.ActionHandlerDuration.WithLabelValues(actionKey).Observe(duration.Seconds())
}

// SetActionQueueDepth updates the gauge tracking pending actions.
func (r *Registry) SetActionQueueDepth(n int) {
	r.ActionQueueDepth.Set(float64(n))
}

// RecordActionOverflow records the action queue hitting its iteration cap.
func (r *Registry) RecordActionOverflow() {
	r.ActionOverflowsTotal.Inc()
}

// UpdateGraphTopology updates node/edge count gauges.
func (r *Registry) UpdateGraphTopology(nodes, edges int) {
	r.GraphNodesTotal.Set(float64(nodes))
	r.GraphEdgesTotal.Set(float64(edges))
}

// RecordConnect records a graph connect() call and whether it succeeded.
func (r *Registry) RecordConnect(status string) {
	r.GraphConnectsTotal.WithLabelValues(status).Inc()
}

// RecordCycleRejected records a connect() rejected for introducing a cycle.
func (r *Registry) RecordCycleRejected() {
	r.GraphCyclesRejected.Inc()
}

// RecordPacketSent records a CHDR packet transmitted on a given virtual channel.
func (r *Registry) RecordPacketSent(vc string, packetType string, bytes int) {
	r.PacketsSentTotal.WithLabelValues(vc, packetType).Inc()
	r.BytesSentTotal.WithLabelValues(vc).Add(float64(bytes))
}

// RecordPacketRecv records a CHDR packet received on a given virtual channel.
func (r *Registry) RecordPacketRecv(vc string, packetType string, bytes int) {
	r.PacketsRecvTotal.WithLabelValues(vc, packetType).Inc()
	r.BytesRecvTotal.WithLabelValues(vc).Add(float64(bytes))
}

// RecordMalformedPacket records a packet rejected during decode.
func (r *Registry) RecordMalformedPacket(vc, reason string) {
	r.MalformedPacketsTotal.WithLabelValues(vc, reason).Inc()
}

// SetStreamerState reports the current state machine state for a streamer channel.
// The gauge is 1 for the active state and 0 for all others, mirroring the
// cluster-role pattern of reporting enum state as a label set.
func (r *Registry) SetStreamerState(channel, state string, allStates []string) {
	for _, s := range allStates {
		if s == state {
			r.StreamerStateTotal.WithLabelValues(channel, s).Set(1)
		} else {
			r.StreamerStateTotal.WithLabelValues(channel, s).Set(0)
		}
	}
}

// RecordOverrun records an RX streamer overrun on the given channel.
func (r *Registry) RecordOverrun(channel string) {
	r.StreamerOverrunsTotal.WithLabelValues(channel).Inc()
}

// RecordUnderrun records a TX streamer underrun on the given channel.
func (r *Registry) RecordUnderrun(channel string) {
	r.StreamerUnderrunsTotal.WithLabelValues(channel).Inc()
}

// SetCreditsOutstanding updates the flow-control credit gauge for a channel.
func (r *Registry) SetCreditsOutstanding(channel string, credits int) {
	r.StreamerCreditsOutstanding.WithLabelValues(channel).Set(float64(credits))
}

// RecordSamples records samples transferred through a streamer channel.
func (r *Registry) RecordSamples(channel string, n int) {
	r.StreamerSamplesTotal.WithLabelValues(channel).Add(float64(n))
}

// RecordClientZeroRequest records a client-zero register/adjacency request.
func (r *Registry) RecordClientZeroRequest(op, status string) {
	r.ClientZeroRequestsTotal.WithLabelValues(op, status).Inc()
	if status != "ok" {
		r.ClientZeroErrorsTotal.WithLabelValues(op).Inc()
	}
}
