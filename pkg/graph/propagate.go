package graph

import (
	"fmt"
	"time"

	"github.com/iprivit/uhd/pkg/chdrerr"
	"github.com/iprivit/uhd/pkg/node"
	"github.com/iprivit/uhd/pkg/property"
)

// Propagate runs the graph's property propagation algorithm to a fixed
// point: if no node carries a dirty non-framework property, it is a no-op.
// Otherwise it topologically sorts the propagation-active edges, visits
// every node forward to the end, reverse back to the start, then forward
// once more, running resolve -> forward-edge-copy -> clean at each visit.
// After the three passes every non-framework property must be clean and
// every back-edge pair must agree, or propagation reports a resolve_error.
func (g *Graph) Propagate() error {
	start := time.Now()
	g.mu.Lock()
	anyDirty := false
	for _, n := range g.nodes {
		if n.AnyDirty() {
			anyDirty = true
			break
		}
	}
	if !anyDirty {
		g.mu.Unlock()
		return nil
	}

	order, err := g.topologicalSort()
	if err != nil {
		g.mu.Unlock()
		if g.metrics != nil {
			g.metrics.RecordCycleRejected()
		}
		return err
	}

	nodes := make(map[string]*node.Node, len(g.nodes))
	for id, n := range g.nodes {
		nodes[id] = n
	}
	edges := append([]Edge(nil), g.edges...)
	g.mu.Unlock()

	reversed := make([]string, len(order))
	for i, id := range order {
		reversed[len(order)-1-i] = id
	}

	for _, sweep := range [][]string{order, reversed, order} {
		for _, id := range sweep {
			n := nodes[id]
			if err := n.ResolveProps(); err != nil {
				return err
			}
			if err := forwardEdgeProps(nodes, edges, id); err != nil {
				return err
			}
			n.CleanProps()
		}
	}

	for id, n := range nodes {
		if !n.AllClean() {
			return chdrerr.New("propagate").On("node", id).
				Resolve(fmt.Errorf("property did not reach a clean fixed point"))
		}
	}

	if err := checkBackEdgesConsistent(nodes, edges); err != nil {
		return err
	}

	if g.metrics != nil {
		g.metrics.RecordResolveSweep("graph", time.Since(start))
	}
	return nil
}

// forwardEdgeProps copies every forwardable OUTPUT_EDGE property on srcNode
// to the matching INPUT_EDGE property on each propagation-active edge's
// destination. The first time an edge carries a property id the
// destination has never seen, the value is cloned straight across as a new
// INPUT_EDGE property (this is the cross-node edge copy; a node's own
// ForwardEdgeProperty handles fanning a newly-discovered property out to
// its *other* same-node ports per forwarding policy, a separate concern).
func forwardEdgeProps(nodes map[string]*node.Node, edges []Edge, srcNodeID string) error {
	src, ok := nodes[srcNodeID]
	if !ok {
		return nil
	}

	for _, e := range edges {
		if !e.PropagationActive || e.SrcNode != srcNodeID {
			continue
		}
		dst, ok := nodes[e.DstNode]
		if !ok {
			continue
		}

		for _, key := range src.PropertyKeys() {
			if key.Source != property.SourceOutputEdge || key.Port != e.SrcPort {
				continue
			}
			srcProp, ok := src.PropertyAt(key)
			if !ok || !srcProp.Forwardable() {
				continue
			}

			dstKey := property.EdgeKey(key.ID, property.SourceInputEdge, e.DstPort)
			if _, ok := dst.PropertyAt(dstKey); !ok {
				if err := dst.RegisterProperty(srcProp.Clone(dstKey)); err != nil {
					return err
				}
			}
			if err := dst.SetEdgeValue(dstKey, srcProp.Value); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkBackEdgesConsistent verifies that non-propagation-active edges
// (consistency-only back edges) carry agreeing values on both sides.
func checkBackEdgesConsistent(nodes map[string]*node.Node, edges []Edge) error {
	for _, e := range edges {
		if e.PropagationActive {
			continue
		}
		src, ok := nodes[e.SrcNode]
		if !ok {
			continue
		}
		dst, ok := nodes[e.DstNode]
		if !ok {
			continue
		}
		for _, key := range src.PropertyKeys() {
			if key.Source != property.SourceOutputEdge || key.Port != e.SrcPort {
				continue
			}
			srcProp, ok := src.PropertyAt(key)
			if !ok {
				continue
			}
			dstKey := property.EdgeKey(key.ID, property.SourceInputEdge, e.DstPort)
			dstProp, ok := dst.PropertyAt(dstKey)
			if !ok {
				continue
			}
			if !srcProp.Value.Equal(dstProp.Value) {
				return chdrerr.New("propagate").On("edge", fmt.Sprintf("%s:%d->%s:%d", e.SrcNode, e.SrcPort, e.DstNode, e.DstPort)).
					Resolve(fmt.Errorf("back-edges inconsistent"))
			}
		}
	}
	return nil
}
