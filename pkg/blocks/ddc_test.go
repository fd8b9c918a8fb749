package blocks

import (
	"testing"

	"github.com/iprivit/uhd/pkg/graph"
	"github.com/iprivit/uhd/pkg/node"
	"github.com/iprivit/uhd/pkg/property"
	"github.com/iprivit/uhd/pkg/streamer"
)

// buildSourceDDCSink wires source(1) -> DDC(decim) -> sink(1), mirroring
// spec.md §8's seed-scenario graph shape.
func buildSourceDDCSink(t *testing.T, decim int64) (*graph.Graph, *node.Node, *node.Node, *node.Node) {
	t.Helper()
	g := graph.New()
	source := node.New("source", 0, 1)
	ddc := NewDDC("ddc", decim, nil)
	sink := node.New("sink", 1, 0)

	for _, n := range []*node.Node{source, ddc, sink} {
		if err := g.AddNode(n); err != nil {
			t.Fatalf("AddNode(%s): %v", n.ID(), err)
		}
	}

	rateOutSrc := property.New(property.EdgeKey("samp_rate", property.SourceOutputEdge, 0), property.TypeFloat64, property.ReadWrite)
	source.RegisterProperty(rateOutSrc)

	return g, source, ddc, sink
}

func TestDDC_DecimationPropagatesRates(t *testing.T) {
	g, source, ddc, sink := buildSourceDDCSink(t, 4)

	rateKey := property.EdgeKey("samp_rate", property.SourceOutputEdge, 0)
	if err := source.Set(rateKey, property.Float64Value(200e6)); err != nil {
		t.Fatalf("set source rate: %v", err)
	}

	if err := g.Connect("source", 0, "ddc", 0, true); err != nil {
		t.Fatalf("connect source->ddc: %v", err)
	}
	if err := g.Connect("ddc", 0, "sink", 0, true); err != nil {
		t.Fatalf("connect ddc->sink: %v", err)
	}
	if err := g.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	sinkIn, ok := sink.PropertyAt(property.EdgeKey("samp_rate", property.SourceInputEdge, 0))
	if !ok {
		t.Fatal("expected sink's mirrored INPUT_EDGE samp_rate property")
	}
	got, _ := sinkIn.Value.AsFloat64()
	if got != 50e6 {
		t.Errorf("sink rate = %v, want 50e6", got)
	}
	decimVal, ok := ddc.PropertyAt(property.UserKey("decim"))
	if !ok {
		t.Fatal("expected decim property")
	}
	d, _ := decimVal.Value.AsInt64()
	if d != 4 {
		t.Errorf("decim = %d, want 4", d)
	}

	// Now request 25e6 at the DDC's output; decim must recompute to 8 and
	// the source's own rate must stay untouched.
	if err := ddc.Set(property.UserKey(requestedRateID), property.Float64Value(25e6)); err != nil {
		t.Fatalf("set requested_rate: %v", err)
	}
	if err := g.Commit(); err != nil {
		t.Fatalf("second Commit: %v", err)
	}

	decimVal, _ = ddc.PropertyAt(property.UserKey("decim"))
	d, _ = decimVal.Value.AsInt64()
	if d != 8 {
		t.Errorf("decim after rate request = %d, want 8", d)
	}
	srcRate, _ := source.PropertyAt(rateKey)
	got, _ = srcRate.Value.AsFloat64()
	if got != 200e6 {
		t.Errorf("source rate changed to %v, want unchanged 200e6", got)
	}
}

func TestDDC_CoercesNonIntegerDecimOddRatioTimesFour(t *testing.T) {
	g, source, ddc, sink := buildSourceDDCSink(t, 4)
	_ = sink

	rateKey := property.EdgeKey("samp_rate", property.SourceOutputEdge, 0)
	source.Set(rateKey, property.Float64Value(200e6))

	if err := g.Connect("source", 0, "ddc", 0, true); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := g.Connect("ddc", 0, "sink", 0, true); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := g.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if err := ddc.Set(property.UserKey(requestedRateID), property.Float64Value(200e6/7)); err != nil {
		t.Fatalf("set requested_rate: %v", err)
	}
	if err := g.Commit(); err != nil {
		t.Fatalf("second Commit: %v", err)
	}

	decimVal, _ := ddc.PropertyAt(property.UserKey("decim"))
	d, _ := decimVal.Value.AsInt64()
	if d != 28 {
		t.Errorf("decim = %d, want 28", d)
	}

	rateOutVal, _ := ddc.PropertyAt(property.EdgeKey("samp_rate", property.SourceOutputEdge, 0))
	got, _ := rateOutVal.Value.AsFloat64()
	want := 200e6 / 28
	if got != want {
		t.Errorf("achieved rate = %v, want %v", got, want)
	}
}

func TestDDC_StreamCommandScalesNumSampsAcrossTheBlock(t *testing.T) {
	g, source, _, sink := buildSourceDDCSink(t, 4)

	rateKey := property.EdgeKey("samp_rate", property.SourceOutputEdge, 0)
	source.Set(rateKey, property.Float64Value(200e6))

	if err := g.Connect("source", 0, "ddc", 0, true); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := g.Connect("ddc", 0, "sink", 0, true); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := g.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	received := make(chan streamer.StreamCommand, 1)
	source.RegisterActionHandler(streamer.StreamCommandKey, func(acc node.Accessor, incoming node.EdgeSide, action node.Action) error {
		if cmd, ok := action.Payload.(streamer.StreamCommand); ok {
			received <- cmd
		}
		return nil
	})

	cmd := streamer.StreamCommand{Mode: streamer.ModeNumSampsAndDone, NumSamps: 1000}
	if err := sink.PostAction(0, node.InputPort, streamer.NewStreamCommandAction(cmd)); err != nil {
		t.Fatalf("PostAction: %v", err)
	}

	select {
	case got := <-received:
		if got.NumSamps != 4000 {
			t.Errorf("source received num_samps = %d, want 4000", got.NumSamps)
		}
	default:
		t.Fatal("source never received the scaled stream command")
	}
}
