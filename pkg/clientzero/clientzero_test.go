package clientzero

import (
	"context"
	"testing"
	"time"

	"github.com/iprivit/uhd/pkg/chdr"
	"github.com/iprivit/uhd/pkg/graph"
	"github.com/iprivit/uhd/pkg/node"
)

func buildTestGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g := graph.New()
	src := node.New("radio0", 0, 1)
	ddc := node.New("ddc0", 1, 1)
	sink := node.New("sink0", 1, 0)
	for _, n := range []*node.Node{src, ddc, sink} {
		if err := g.AddNode(n); err != nil {
			t.Fatalf("AddNode(%s): %v", n.ID(), err)
		}
	}
	if err := g.Connect("radio0", 0, "ddc0", 0, true); err != nil {
		t.Fatalf("Connect radio0->ddc0: %v", err)
	}
	if err := g.Connect("ddc0", 0, "sink0", 0, true); err != nil {
		t.Fatalf("Connect ddc0->sink0: %v", err)
	}
	return g
}

func TestClientZero_DeviceInfoReportsToplogyCounts(t *testing.T) {
	g := buildTestGraph(t)
	host, _ := newLoopback()
	codec := testCodec(t)
	reg := NewRegisterLink(host, codec, 1)

	cz := New(g, reg, 1, "x410", 2, nil)
	info := cz.DeviceInfo()

	if info.NumBlocks != 3 {
		t.Errorf("NumBlocks = %d, want 3", info.NumBlocks)
	}
	if info.NumEdges != 2 {
		t.Errorf("NumEdges = %d, want 2", info.NumEdges)
	}
	if info.NumStreamEndpoints != 2 {
		t.Errorf("NumStreamEndpoints = %d, want 2 (radio0 has no inputs, sink0 has no outputs)", info.NumStreamEndpoints)
	}
	if info.DeviceType != "x410" || info.ProtoVer != 1 || info.NumTransports != 2 {
		t.Errorf("DeviceInfo identity fields = %+v, want protoVer=1 devType=x410 nTransports=2", info)
	}
}

func TestClientZero_AdjacencyListUsesBlockIndices(t *testing.T) {
	g := buildTestGraph(t)
	host, _ := newLoopback()
	codec := testCodec(t)
	reg := NewRegisterLink(host, codec, 1)
	cz := New(g, reg, 1, "x410", 2, nil)

	ids := g.NodeIDs() // sorted: ddc0, radio0, sink0
	idx := make(map[string]int, len(ids))
	for i, id := range ids {
		idx[id] = i
	}

	adj := cz.AdjacencyList()
	if len(adj) != 2 {
		t.Fatalf("AdjacencyList() has %d entries, want 2", len(adj))
	}
	want := map[BlockEdge]bool{
		{SrcBlockIdx: idx["radio0"], SrcPort: 0, DstBlockIdx: idx["ddc0"], DstPort: 0}: true,
		{SrcBlockIdx: idx["ddc0"], SrcPort: 0, DstBlockIdx: idx["sink0"], DstPort: 0}:  true,
	}
	for _, e := range adj {
		if !want[e] {
			t.Errorf("unexpected adjacency entry %+v", e)
		}
	}
}

func TestClientZero_FlushPortPollsUntilDone(t *testing.T) {
	g := buildTestGraph(t)
	host, device := newLoopback()
	codec := testCodec(t)
	stop := make(chan struct{})
	defer close(stop)
	fakeDevice(t, codec, device, 1, chdr.StatusOkay, stop)

	reg := NewRegisterLink(host, codec, 1)
	reg.Bind("radio0", Endpoint{EPID: 9, Port: 3})
	cz := New(g, reg, 1, "x410", 1, nil)

	if err := cz.FlushPort(context.Background(), "radio0", time.Second); err != nil {
		t.Fatalf("FlushPort: %v", err)
	}
}

func TestClientZero_AllStaticInfoFansOutAcrossBlocks(t *testing.T) {
	g := buildTestGraph(t)
	host, device := newLoopback()
	codec := testCodec(t)
	stop := make(chan struct{})
	defer close(stop)
	fakeDevice(t, codec, device, 4, chdr.StatusOkay, stop)

	reg := NewRegisterLink(host, codec, 1)
	reg.Bind("radio0", Endpoint{EPID: 1, Port: 0})
	reg.Bind("ddc0", Endpoint{EPID: 1, Port: 1})
	reg.Bind("sink0", Endpoint{EPID: 1, Port: 2})
	cz := New(g, reg, 1, "x410", 1, nil)

	infos, err := cz.AllStaticInfo(context.Background(), []string{"radio0", "ddc0", "sink0"}, time.Second)
	if err != nil {
		t.Fatalf("AllStaticInfo: %v", err)
	}
	if len(infos) != 3 {
		t.Fatalf("AllStaticInfo() returned %d entries, want 3", len(infos))
	}
	for name, info := range infos {
		if info.NumInputPorts != 4 || info.ItemWidth != 4 {
			t.Errorf("block %s: StaticInfo = %+v, want every field 4 (fake device echoes 4)", name, info)
		}
	}
}
