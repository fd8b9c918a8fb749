package metrics

import (
	"strings"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
)

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	if r == nil {
		t.Fatal("NewRegistry() returned nil")
	}

	if r.PropertyResolutionsTotal == nil {
		t.Error("PropertyResolutionsTotal not initialized")
	}
	if r.ActionsRoutedTotal == nil {
		t.Error("ActionsRoutedTotal not initialized")
	}
	if r.StreamerStateTotal == nil {
		t.Error("StreamerStateTotal not initialized")
	}
	if r.registry == nil {
		t.Error("Prometheus registry not initialized")
	}
}

func TestDefaultRegistry(t *testing.T) {
	r1 := DefaultRegistry()
	r2 := DefaultRegistry()

	if r1 != r2 {
		t.Error("DefaultRegistry() should return the same instance")
	}
}

func TestRecordResolution(t *testing.T) {
	r := NewRegistry()

	r.RecordResolution("set_rate", "ok", 10*time.Microsecond)
	r.RecordResolution("set_rate", "ok", 20*time.Microsecond)
	r.RecordResolution("set_rate", "error", 5*time.Microsecond)

	counter, err := r.PropertyResolutionsTotal.GetMetricWithLabelValues("set_rate", "ok")
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues: %v", err)
	}

	var metric dto.Metric
	if err := counter.Write(&metric); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if metric.Counter.GetValue() != 2 {
		t.Errorf("counter = %v, want 2", metric.Counter.GetValue())
	}
}

func TestRecordAction(t *testing.T) {
	r := NewRegistry()

	r.RecordAction("stream_cmd", "ok", time.Millisecond)
	r.RecordAction("stream_cmd", "dropped", time.Millisecond)

	dropped, err := r.ActionsRoutedTotal.GetMetricWithLabelValues("stream_cmd", "dropped")
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues: %v", err)
	}
	var metric dto.Metric
	if err := dropped.Write(&metric); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if metric.Counter.GetValue() != 1 {
		t.Errorf("dropped counter = %v, want 1", metric.Counter.GetValue())
	}
}

func TestSetStreamerState(t *testing.T) {
	r := NewRegistry()
	states := []string{"IDLE", "STREAMING", "OVERRUN_PENDING"}

	r.SetStreamerState("0", "STREAMING", states)

	streaming, _ := r.StreamerStateTotal.GetMetricWithLabelValues("0", "STREAMING")
	idle, _ := r.StreamerStateTotal.GetMetricWithLabelValues("0", "IDLE")

	var metric dto.Metric
	if err := streaming.Write(&metric); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if metric.Gauge.GetValue() != 1 {
		t.Errorf("STREAMING gauge = %v, want 1", metric.Gauge.GetValue())
	}

	if err := idle.Write(&metric); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if metric.Gauge.GetValue() != 0 {
		t.Errorf("IDLE gauge = %v, want 0", metric.Gauge.GetValue())
	}

	r.SetStreamerState("0", "IDLE", states)
	if err := idle.Write(&metric); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if metric.Gauge.GetValue() != 1 {
		t.Errorf("after switch, IDLE gauge = %v, want 1", metric.Gauge.GetValue())
	}
}

func TestRecordPacketSentAndReceived(t *testing.T) {
	r := NewRegistry()

	r.RecordPacketSent("0", "data", 1024)
	r.RecordPacketRecv("0", "strs", 32)

	sentBytes, _ := r.BytesSentTotal.GetMetricWithLabelValues("0")
	var metric dto.Metric
	if err := sentBytes.Write(&metric); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if metric.Counter.GetValue() != 1024 {
		t.Errorf("bytes sent = %v, want 1024", metric.Counter.GetValue())
	}
}

func TestUpdateGraphTopology(t *testing.T) {
	r := NewRegistry()

	r.UpdateGraphTopology(5, 7)

	var metric dto.Metric
	if err := r.GraphNodesTotal.Write(&metric); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if metric.Gauge.GetValue() != 5 {
		t.Errorf("GraphNodesTotal = %v, want 5", metric.Gauge.GetValue())
	}

	if err := r.GraphEdgesTotal.Write(&metric); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if metric.Gauge.GetValue() != 7 {
		t.Errorf("GraphEdgesTotal = %v, want 7", metric.Gauge.GetValue())
	}
}

func TestGetPrometheusRegistry(t *testing.T) {
	r := NewRegistry()
	promRegistry := r.GetPrometheusRegistry()
	if promRegistry == nil {
		t.Fatal("GetPrometheusRegistry() returned nil")
	}

	metrics, err := promRegistry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(metrics) == 0 {
		t.Error("no metrics registered")
	}

	metricNames := make(map[string]bool)
	for _, m := range metrics {
		metricNames[m.GetName()] = true
	}
	for _, expected := range []string{"chdr_graph_nodes_total", "chdr_action_queue_depth", "chdr_properties_dirty_total"} {
		if !metricNames[expected] {
			t.Errorf("expected metric %s not found", expected)
		}
	}
}

func TestMetricNaming(t *testing.T) {
	r := NewRegistry()
	metrics, err := r.GetPrometheusRegistry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, m := range metrics {
		if !strings.HasPrefix(m.GetName(), "chdr_") {
			t.Errorf("metric %s does not have chdr_ prefix", m.GetName())
		}
	}
}

func TestConcurrentMetricUpdates(t *testing.T) {
	r := NewRegistry()

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				r.RecordAction("set_rate", "ok", time.Microsecond)
			}
			done <- true
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	counter, err := r.ActionsRoutedTotal.GetMetricWithLabelValues("set_rate", "ok")
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues: %v", err)
	}
	var metric dto.Metric
	if err := counter.Write(&metric); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if metric.Counter.GetValue() != 1000 {
		t.Errorf("counter = %v, want 1000", metric.Counter.GetValue())
	}
}

func BenchmarkRecordAction(b *testing.B) {
	r := NewRegistry()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.RecordAction("set_rate", "ok", time.Microsecond)
	}
}
