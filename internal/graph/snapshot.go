package graph

import "sort"

// Snapshot is a point-in-time copy of the graph's node and edge sets, used
// to diff graph state across an interval.
type Snapshot struct {
	Nodes map[string]Node `json:"nodes"`
	Edges []Edge          `json:"edges"`
	At    string          `json:"at"`
}

// Snapshot copies the current graph under the read lock.
func (g *Graph) Snapshot(at string) Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s := Snapshot{
		Nodes: make(map[string]Node, len(g.nodes)),
		At:    at,
	}
	for id, n := range g.nodes {
		s.Nodes[id] = n
	}
	for _, edges := range g.out {
		s.Edges = append(s.Edges, edges...)
	}
	return s
}

// Diff is what appeared between two snapshots. Nodes and edges are never
// removed from the graph, so a diff only ever adds.
type Diff struct {
	AddedNodes []Node `json:"added_nodes"`
	AddedEdges []Edge `json:"added_edges"`
}

// DiffSnapshots returns everything present in after but not in before,
// deterministically ordered.
func DiffSnapshots(before, after Snapshot) Diff {
	var d Diff
	for id, n := range after.Nodes {
		if _, ok := before.Nodes[id]; !ok {
			d.AddedNodes = append(d.AddedNodes, n)
		}
	}
	sort.Slice(d.AddedNodes, func(i, j int) bool {
		if d.AddedNodes[i].At != d.AddedNodes[j].At {
			return d.AddedNodes[i].At < d.AddedNodes[j].At
		}
		return d.AddedNodes[i].ID < d.AddedNodes[j].ID
	})

	have := make(map[Edge]bool, len(before.Edges))
	for _, e := range before.Edges {
		have[e] = true
	}
	for _, e := range after.Edges {
		if !have[e] {
			d.AddedEdges = append(d.AddedEdges, e)
		}
	}
	sort.Slice(d.AddedEdges, func(i, j int) bool {
		a, b := d.AddedEdges[i], d.AddedEdges[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.From != b.From {
			return a.From < b.From
		}
		return a.To < b.To
	})
	return d
}
