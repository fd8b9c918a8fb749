package graph

import (
	"fmt"
	"time"

	"github.com/iprivit/uhd/pkg/chdrerr"
	"github.com/iprivit/uhd/pkg/node"
)

// Route implements node.Router. Go has no real thread-local storage, so the
// spec's "thread-local re-entrancy flag" is approximated here with a single
// mutex-guarded actionRunning bool: the first PostAction call on an idle
// graph drains the queue itself (including actions posted recursively by
// handlers it invokes, which only append). A PostAction from another
// goroutine while a drain is running is not blocked: it is appended to the
// same queue and returns at once, and the draining goroutine delivers it in
// queue order, interleaved with the running cascade. If a delivery fails or
// the iteration cap is hit, the actions still queued are discarded.
func (g *Graph) Route(n *node.Node, srcPort int, dir node.PortDirection, action node.Action) error {
	if !g.active() {
		// Action routing only runs while the graph is released (commit
		// counter at zero); a suspended graph silently drops posted actions.
		return nil
	}

	g.actionMu.Lock()
	g.nextActionID++
	action.ID = g.nextActionID
	g.actionQueue = append(g.actionQueue, queuedAction{srcNode: n.ID(), srcPort: srcPort, dir: dir, action: action})

	if g.actionRunning {
		if g.metrics != nil {
			g.metrics.SetActionQueueDepth(len(g.actionQueue))
		}
		g.actionMu.Unlock()
		return nil
	}
	g.actionRunning = true
	g.actionMu.Unlock()

	return g.drainActionQueue()
}

func (g *Graph) drainActionQueue() error {
	drained := false
	defer func() {
		if drained {
			return
		}
		g.actionMu.Lock()
		g.actionRunning = false
		g.actionQueue = nil
		g.actionMu.Unlock()
	}()

	for i := 0; ; i++ {
		if i >= maxActionIterations {
			return chdrerr.New("route_action").On("graph", "").
				Fatal(fmt.Errorf("action cascade exceeded %d iterations", maxActionIterations))
		}

		g.actionMu.Lock()
		if len(g.actionQueue) == 0 {
			// Clear the flag under the same lock hold as the emptiness check,
			// so an action appended after it starts a new drain instead of
			// landing in a queue that is about to be reset.
			g.actionRunning = false
			drained = true
			g.actionMu.Unlock()
			return nil
		}
		qa := g.actionQueue[0]
		g.actionQueue = g.actionQueue[1:]
		if g.metrics != nil {
			g.metrics.SetActionQueueDepth(len(g.actionQueue))
		}
		g.actionMu.Unlock()

		if err := g.deliver(qa); err != nil {
			return err
		}
	}
}

// deliver finds the single neighbour across the port an action left through
// and hands it to that neighbour's HandleAction. An action leaving a port
// with no connected edge is dropped without being logged; the drop is only
// counted in the action metrics under status "no_neighbour".
func (g *Graph) deliver(qa queuedAction) error {
	start := time.Now()

	g.mu.Lock()
	neighbourID, incoming, found := g.findNeighbour(qa.srcNode, qa.srcPort, qa.dir)
	var neighbour *node.Node
	if found {
		neighbour = g.nodes[neighbourID]
	}
	g.mu.Unlock()

	if !found || neighbour == nil {
		if g.metrics != nil {
			g.metrics.RecordAction(qa.action.Key, "no_neighbour", time.Since(start))
		}
		return nil
	}

	err := neighbour.HandleAction(incoming, qa.action)
	status := "ok"
	if err != nil {
		status = "error"
	}
	if g.metrics != nil {
		g.metrics.RecordAction(qa.action.Key, status, time.Since(start))
	}
	return err
}

// findNeighbour locates the edge connecting srcNode's port srcPort (in
// direction dir) to exactly one other node, and returns the EdgeSide that
// neighbour receives the action on (the inverted port type). Caller must
// hold g.mu.
func (g *Graph) findNeighbour(srcNode string, srcPort int, dir node.PortDirection) (string, node.EdgeSide, bool) {
	for _, e := range g.edges {
		if dir == node.OutputPort && e.SrcNode == srcNode && e.SrcPort == srcPort {
			return e.DstNode, node.EdgeSide{Port: e.DstPort, Dir: node.InputPort}, true
		}
		if dir == node.InputPort && e.DstNode == srcNode && e.DstPort == srcPort {
			return e.SrcNode, node.EdgeSide{Port: e.SrcPort, Dir: node.OutputPort}, true
		}
	}
	return "", node.EdgeSide{}, false
}
