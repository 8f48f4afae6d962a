package resolve

import (
	"sort"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/ongardie/cubicle/internal/cubicleerr"
)

// idNode is a gonum graph.Node carrying the package identity it represents.
type idNode struct {
	id   int64
	name string
}

func (n *idNode) ID() int64 { return n.id }

// nodeGraph is a directed graph over package identities, where an edge
// dep -> dependent records that dep must be ready before dependent. It is
// built once per traversal (see expand in resolve.go) and sorted with a
// deterministic Kahn's algorithm: ties among ready nodes are always broken
// by name, so the emitted order is a pure function of the graph's contents.
type nodeGraph struct {
	g      *simple.DirectedGraph
	byName map[string]*idNode
	nextID int64
}

func newNodeGraph() *nodeGraph {
	return &nodeGraph{
		g:      simple.NewDirectedGraph(),
		byName: make(map[string]*idNode),
	}
}

func (ng *nodeGraph) node(name string) *idNode {
	n, ok := ng.byName[name]
	if ok {
		return n
	}
	n = &idNode{id: ng.nextID, name: name}
	ng.nextID++
	ng.byName[name] = n
	ng.g.AddNode(n)
	return n
}

func (ng *nodeGraph) edge(dep, dependent string) {
	d := ng.node(dep)
	t := ng.node(dependent)
	if d.ID() == t.ID() {
		return
	}
	ng.g.SetEdge(ng.g.NewEdge(d, t))
}

// sorted returns a topological order over every node added so far (every
// dependency precedes every one of its dependents), breaking ties between
// simultaneously-ready nodes by name. If the graph contains a cycle, it
// returns a *cubicleerr.CyclicDependency naming every package on one such
// cycle.
func (ng *nodeGraph) sorted() ([]string, error) {
	nodes := graph.NodesOf(ng.g.Nodes())
	indegree := make(map[int64]int, len(nodes))
	for _, n := range nodes {
		indegree[n.ID()] = 0
	}
	for _, n := range nodes {
		it := ng.g.From(n.ID())
		for it.Next() {
			indegree[it.Node().ID()]++
		}
	}

	var ready []*idNode
	for _, n := range nodes {
		if indegree[n.ID()] == 0 {
			ready = append(ready, n.(*idNode))
		}
	}
	byName := func(ns []*idNode) {
		sort.Slice(ns, func(i, j int) bool { return ns[i].name < ns[j].name })
	}
	byName(ready)

	order := make([]string, 0, len(nodes))
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		order = append(order, n.name)

		var freed []*idNode
		it := ng.g.From(n.ID())
		for it.Next() {
			nd := it.Node().(*idNode)
			indegree[nd.ID()]--
			if indegree[nd.ID()] == 0 {
				freed = append(freed, nd)
			}
		}
		byName(freed)
		ready = append(ready, freed...)
		byName(ready)
	}

	if len(order) != len(nodes) {
		return nil, &cubicleerr.CyclicDependency{Cycle: ng.findCycle(indegree)}
	}
	return order, nil
}

// findCycle returns the names of one cycle among the nodes whose indegree
// never reached zero (i.e. everything Kahn's algorithm could not place).
func (ng *nodeGraph) findCycle(remaining map[int64]int) []string {
	var start *idNode
	for _, n := range graph.NodesOf(ng.g.Nodes()) {
		if remaining[n.ID()] > 0 {
			id := n.(*idNode)
			if start == nil || id.name < start.name {
				start = id
			}
		}
	}
	if start == nil {
		return nil
	}

	visited := make(map[int64]bool)
	var path []*idNode
	var dfs func(n *idNode) []*idNode
	dfs = func(n *idNode) []*idNode {
		visited[n.ID()] = true
		path = append(path, n)
		it := ng.g.From(n.ID())
		var nexts []*idNode
		for it.Next() {
			if remaining[it.Node().ID()] > 0 {
				nexts = append(nexts, it.Node().(*idNode))
			}
		}
		sort.Slice(nexts, func(i, j int) bool { return nexts[i].name < nexts[j].name })
		for _, next := range nexts {
			for i, p := range path {
				if p.ID() == next.ID() {
					cycle := path[i:]
					names := make([]string, len(cycle)+1)
					for j, c := range cycle {
						names[j] = c.name
					}
					names[len(cycle)] = next.name
					return names
				}
			}
			if !visited[next.ID()] {
				if found := dfs(next); found != nil {
					return found
				}
			}
		}
		path = path[:len(path)-1]
		return nil
	}
	if found := dfs(start); found != nil {
		return found
	}
	return []string{start.name}
}
