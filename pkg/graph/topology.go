package graph

import "github.com/iprivit/uhd/pkg/chdrerr"

const (
	white = 0
	gray  = 1
	black = 2
)

// forwardAdjacency builds the forward-only adjacency list (propagation-active
// edges only) used for topological sort and cycle detection.
func (g *Graph) forwardAdjacency() map[string][]string {
	adj := make(map[string][]string, len(g.nodes))
	for id := range g.nodes {
		adj[id] = nil
	}
	for _, e := range g.edges {
		if e.PropagationActive {
			adj[e.SrcNode] = append(adj[e.SrcNode], e.DstNode)
		}
	}
	return adj
}

// hasCycle runs a three-color DFS over the forward adjacency list.
func hasCycle(adj map[string][]string) bool {
	color := make(map[string]int, len(adj))
	for id := range adj {
		color[id] = white
	}
	for id := range adj {
		if color[id] == white {
			if hasCycleDFS(adj, id, color) {
				return true
			}
		}
	}
	return false
}

func hasCycleDFS(adj map[string][]string, id string, color map[string]int) bool {
	color[id] = gray
	for _, next := range adj[id] {
		if color[next] == gray {
			return true
		}
		if color[next] == white && hasCycleDFS(adj, next, color) {
			return true
		}
	}
	color[id] = black
	return false
}

// topologicalSort orders nodes via Kahn's algorithm over the forward
// adjacency list. Returns a cycle_error if the forward view is not a DAG.
func (g *Graph) topologicalSort() ([]string, error) {
	adj := g.forwardAdjacency()
	if hasCycle(adj) {
		return nil, chdrerr.New("propagate").On("graph", "").
			Cycle(errCyclicPropagation)
	}

	inDegree := make(map[string]int, len(adj))
	for id := range adj {
		inDegree[id] = 0
	}
	for id := range adj {
		for _, next := range adj[id] {
			inDegree[next]++
		}
	}

	queue := make([]string, 0, len(adj))
	for _, id := range g.sortedNodeIDs() {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	sorted := make([]string, 0, len(adj))
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		sorted = append(sorted, cur)
		for _, next := range adj[cur] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(sorted) != len(adj) {
		return nil, chdrerr.New("propagate").On("graph", "").
			Cycle(errCyclicPropagation)
	}
	return sorted, nil
}

// sortedNodeIDs returns node IDs in a deterministic order so that
// topologicalSort's queue seeding (and therefore propagation order) is
// stable across runs with identical topology.
func (g *Graph) sortedNodeIDs() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
	return ids
}

var errCyclicPropagation = cyclicPropagationError{}

type cyclicPropagationError struct{}

func (cyclicPropagationError) Error() string {
	return "propagation-active edges form a cycle"
}
