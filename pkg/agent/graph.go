package agent

import (
	"fmt"
	"sort"
)

// Graph is the agent dependency graph: adjacency lists keyed by agent id,
// where an edge A -> B means A must run before B.
type Graph struct {
	nodes map[string]*Definition
	edges map[string]map[string]bool
}

// Edges returns the successors of an agent, sorted.
func (g *Graph) Edges(id string) []string {
	var out []string
	for to := range g.edges[id] {
		out = append(out, to)
	}
	sort.Strings(out)
	return out
}

// Nodes returns all agent ids in the graph, sorted.
func (g *Graph) Nodes() []string {
	var out []string
	for id := range g.nodes {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// buildGraph assembles edges from explicit hints plus inferred edges: when
// agent B requires a field that agent A produces, A precedes B.
func buildGraph(defs []*Definition) *Graph {
	g := &Graph{
		nodes: make(map[string]*Definition, len(defs)),
		edges: make(map[string]map[string]bool, len(defs)),
	}
	for _, d := range defs {
		g.nodes[d.ID] = d
		g.edges[d.ID] = make(map[string]bool)
	}

	addEdge := func(from, to string) {
		if from == to {
			return
		}
		if _, ok := g.nodes[from]; !ok {
			return
		}
		if _, ok := g.nodes[to]; !ok {
			return
		}
		g.edges[from][to] = true
	}

	producers := make(map[string][]string)
	for _, d := range defs {
		for _, f := range d.Produces.StateFields {
			producers[f] = append(producers[f], d.ID)
		}
	}

	for _, d := range defs {
		for _, up := range d.Dependencies.Upstream {
			addEdge(up, d.ID)
		}
		for _, down := range d.Dependencies.Downstream {
			addEdge(d.ID, down)
		}
		for _, f := range d.Consumes.Required {
			for _, producer := range producers[f] {
				addEdge(producer, d.ID)
			}
		}
	}

	return g
}

// DetectCycles returns every cycle found in the graph as a path of agent
// ids. An empty result means the graph is acyclic.
func (g *Graph) DetectCycles() [][]string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(g.nodes))
	var cycles [][]string
	var stack []string

	var visit func(id string)
	visit = func(id string) {
		color[id] = gray
		stack = append(stack, id)

		for _, next := range g.Edges(id) {
			switch color[next] {
			case white:
				visit(next)
			case gray:
				// Found a back edge; slice the cycle out of the stack.
				for i, v := range stack {
					if v == next {
						cycle := append([]string{}, stack[i:]...)
						cycle = append(cycle, next)
						cycles = append(cycles, cycle)
						break
					}
				}
			}
		}

		stack = stack[:len(stack)-1]
		color[id] = black
	}

	for _, id := range g.Nodes() {
		if color[id] == white {
			visit(id)
		}
	}
	return cycles
}

// TopologicalSort returns a linear order of the given agent subset
// respecting the graph. Ties break by priority (higher first), then id.
// A nil subset sorts the whole graph.
func (g *Graph) TopologicalSort(subset []string) ([]string, error) {
	include := make(map[string]bool)
	if subset == nil {
		for id := range g.nodes {
			include[id] = true
		}
	} else {
		for _, id := range subset {
			if _, ok := g.nodes[id]; !ok {
				return nil, fmt.Errorf("agent '%s' not in dependency graph", id)
			}
			include[id] = true
		}
	}

	indegree := make(map[string]int, len(include))
	for id := range include {
		indegree[id] = 0
	}
	for from := range include {
		for to := range g.edges[from] {
			if include[to] {
				indegree[to]++
			}
		}
	}

	var order []string
	for len(order) < len(include) {
		candidate := ""
		for id, deg := range indegree {
			if deg != 0 {
				continue
			}
			if candidate == "" || preferredBefore(g.nodes[id], g.nodes[candidate]) {
				candidate = id
			}
		}
		if candidate == "" {
			return nil, fmt.Errorf("dependency graph contains a cycle")
		}

		order = append(order, candidate)
		delete(indegree, candidate)
		for to := range g.edges[candidate] {
			if _, pending := indegree[to]; pending {
				indegree[to]--
			}
		}
	}

	return order, nil
}

func preferredBefore(a, b *Definition) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.ID < b.ID
}
