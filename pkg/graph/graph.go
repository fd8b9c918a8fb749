// Package graph implements the computation graph runtime: a directed
// multigraph of node.Node vertices connected by property-propagation edges,
// the fixed-point property propagation algorithm, and the action routing
// loop that delivers posted actions to neighbouring nodes.
package graph

import (
	"fmt"
	"sort"
	"sync"

	"github.com/iprivit/uhd/pkg/chdrerr"
	"github.com/iprivit/uhd/pkg/metrics"
	"github.com/iprivit/uhd/pkg/node"
)

// maxActionIterations bounds the action routing loop against an action
// cascade that never terminates.
const maxActionIterations = 200

// Edge is a directed connection between two nodes' ports. PropagationActive
// marks it as part of the forward-only view used for topological sort and
// dirty-property search; inactive edges are consistency-checked only.
type Edge struct {
	SrcNode             string
	SrcPort             int
	DstNode             string
	DstPort             int
	PropagationActive   bool
}

type queuedAction struct {
	srcNode string
	srcPort int
	dir     node.PortDirection
	action  node.Action
}

// Graph owns a set of nodes and the edges between them. A freshly
// constructed Graph starts suspended (release count 1); Commit runs
// check_topology and, once the count reaches zero, property propagation.
type Graph struct {
	mu       sync.Mutex
	nodes    map[string]*node.Node
	edges    []Edge
	released int // 0 == active; >0 == suspended

	actionMu      sync.Mutex // approximates the re-entrant thread-local lock from spec
	actionRunning bool
	actionQueue   []queuedAction
	nextActionID  uint64

	metrics *metrics.Registry
}

// New constructs an empty, suspended graph.
func New() *Graph {
	return &Graph{
		nodes:    make(map[string]*node.Node),
		released: 1,
		metrics:  metrics.DefaultRegistry(),
	}
}

// AddNode registers a node with the graph and installs the graph as its
// action router.
func (g *Graph) AddNode(n *node.Node) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.nodes[n.ID()]; exists {
		return chdrerr.New("add_node").On("node", n.ID()).Lookup(fmt.Errorf("node already present"))
	}
	n.SetRouter(g)
	g.nodes[n.ID()] = n
	if g.metrics != nil {
		g.metrics.UpdateGraphTopology(len(g.nodes), len(g.edges))
	}
	return nil
}

// Connect adds a directed edge between two node ports.
func (g *Graph) Connect(srcNode string, srcPort int, dstNode string, dstPort int, propagationActive bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	src, ok := g.nodes[srcNode]
	if !ok {
		return chdrerr.New("connect").On("node", srcNode).Lookup(fmt.Errorf("unknown source node"))
	}
	dst, ok := g.nodes[dstNode]
	if !ok {
		return chdrerr.New("connect").On("node", dstNode).Lookup(fmt.Errorf("unknown destination node"))
	}
	if srcPort < 0 || srcPort >= src.NumOutputPorts() {
		return chdrerr.New("connect").On("port", fmt.Sprintf("%s:%d", srcNode, srcPort)).
			Value(fmt.Errorf("source port out of range"))
	}
	if dstPort < 0 || dstPort >= dst.NumInputPorts() {
		return chdrerr.New("connect").On("port", fmt.Sprintf("%s:%d", dstNode, dstPort)).
			Value(fmt.Errorf("destination port out of range"))
	}

	if propagationActive {
		adj := g.forwardAdjacency()
		adj[srcNode] = append(adj[srcNode], dstNode)
		if hasCycle(adj) {
			if g.metrics != nil {
				g.metrics.RecordConnect("cycle_error")
			}
			return chdrerr.New("connect").On("edge", fmt.Sprintf("%s:%d->%s:%d", srcNode, srcPort, dstNode, dstPort)).
				Cycle(errCyclicPropagation)
		}
	}

	g.edges = append(g.edges, Edge{
		SrcNode: srcNode, SrcPort: srcPort,
		DstNode: dstNode, DstPort: dstPort,
		PropagationActive: propagationActive,
	})
	if g.metrics != nil {
		g.metrics.UpdateGraphTopology(len(g.nodes), len(g.edges))
		g.metrics.RecordConnect("ok")
	}
	return nil
}

// Commit decrements the release counter. At the zero transition it runs
// check_topology on every node (aborting with a topology_error if any node
// rejects its connection pattern) and then runs property propagation.
func (g *Graph) Commit() error {
	g.mu.Lock()
	if g.released > 0 {
		g.released--
	}
	atZero := g.released == 0
	g.mu.Unlock()

	if !atZero {
		return nil
	}
	if err := g.checkAllTopology(); err != nil {
		return err
	}
	return g.Propagate()
}

// Release increments the release counter, suspending routing and
// propagation until a matching number of Commit calls bring it back to
// zero.
func (g *Graph) Release() {
	g.mu.Lock()
	g.released++
	g.mu.Unlock()
}

// active reports whether the graph is not suspended (released == 0).
func (g *Graph) active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.released == 0
}

func (g *Graph) checkAllTopology() error {
	g.mu.Lock()
	connIn, connOut := g.connectionMaps()
	nodes := make(map[string]*node.Node, len(g.nodes))
	for id, n := range g.nodes {
		nodes[id] = n
	}
	g.mu.Unlock()

	for id, n := range nodes {
		if !n.CheckTopology(connIn[id], connOut[id]) {
			return chdrerr.New("commit").On("node", id).
				Topology(fmt.Errorf("node rejected its connection pattern"))
		}
	}
	return nil
}

// NodeIDs returns every node ID currently in the graph, sorted, for callers
// (client-zero's static adjacency query) that need a stable block-index
// assignment.
func (g *Graph) NodeIDs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Node looks up a node by ID.
func (g *Graph) Node(id string) (*node.Node, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[id]
	return n, ok
}

// Edges returns a copy of the graph's edge list.
func (g *Graph) Edges() []Edge {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Edge, len(g.edges))
	copy(out, g.edges)
	return out
}

// connectionMaps builds, per node, a bool slice per port index reporting
// whether that port has at least one edge attached. Caller must hold g.mu.
func (g *Graph) connectionMaps() (map[string][]bool, map[string][]bool) {
	connIn := make(map[string][]bool, len(g.nodes))
	connOut := make(map[string][]bool, len(g.nodes))
	for id, n := range g.nodes {
		connIn[id] = make([]bool, n.NumInputPorts())
		connOut[id] = make([]bool, n.NumOutputPorts())
	}
	for _, e := range g.edges {
		if ports, ok := connOut[e.SrcNode]; ok && e.SrcPort < len(ports) {
			ports[e.SrcPort] = true
		}
		if ports, ok := connIn[e.DstNode]; ok && e.DstPort < len(ports) {
			ports[e.DstPort] = true
		}
	}
	return connIn, connOut
}
