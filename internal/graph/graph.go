// Package graph maintains the provenance graph linking episodes, drift
// signals, and patches. Nodes are append-only; edges are typed and directed.
// Every multi-part mutation happens under one lock so readers never observe
// a drift node without its triggering edge.
package graph

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ppiankov/driftwatch/internal/model"
)

// NodeKind discriminates graph nodes.
type NodeKind string

const (
	NodeEpisode NodeKind = "episode"
	NodeDrift   NodeKind = "drift"
	NodePatch   NodeKind = "patch"
)

// EdgeKind discriminates graph edges.
type EdgeKind string

const (
	// EdgeTriggered points episode -> drift: the episode tripped the rule.
	EdgeTriggered EdgeKind = "triggered"
	// EdgeResolvedBy points drift -> patch.
	EdgeResolvedBy EdgeKind = "resolved_by"
	// EdgeDerivedFrom points episode -> episode: a later decision consumed
	// an earlier one's outputs.
	EdgeDerivedFrom EdgeKind = "derived_from"
	// EdgeSupersedes points patch -> patch: a newer correction replaces an
	// older one for the same drift.
	EdgeSupersedes EdgeKind = "supersedes"
	// EdgePartOf points episode -> episode: membership in a composite
	// decision. Asserted by the producer via an envelope link.
	EdgePartOf EdgeKind = "part_of"
	// EdgeCausedBy points episode -> episode: a direct cause named by the
	// producer, as opposed to derived_from's consumed outputs.
	EdgeCausedBy EdgeKind = "caused_by"
	// EdgeVerifiedBy points episode -> episode: the decision that checked
	// this one's outcome.
	EdgeVerifiedBy EdgeKind = "verified_by"
)

// Node is one graph vertex. Label is a short human-readable summary used by
// the resolver's text output.
type Node struct {
	ID       string   `json:"id"`
	Kind     NodeKind `json:"kind"`
	Label    string   `json:"label"`
	Decision string   `json:"decision_type,omitempty"`
	At       string   `json:"at"` // creation timestamp of the underlying record
}

// Edge is one directed typed edge.
type Edge struct {
	From string   `json:"from"`
	To   string   `json:"to"`
	Kind EdgeKind `json:"kind"`
}

// Graph is the in-memory provenance graph.
type Graph struct {
	mu    sync.RWMutex
	nodes map[string]Node
	out   map[string][]Edge // keyed by From
	in    map[string][]Edge // keyed by To
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[string]Node),
		out:   make(map[string][]Edge),
		in:    make(map[string][]Edge),
	}
}

// AddEpisode inserts an episode node, plus derived_from edges to any prior
// episodes it consumed. Missing ancestors are skipped, not invented.
func (g *Graph) AddEpisode(ep *model.Episode, derivedFrom []string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.putNode(Node{
		ID:       ep.EpisodeID,
		Kind:     NodeEpisode,
		Label:    fmt.Sprintf("%s by %s (%s)", ep.DecisionType, ep.Actor.ID, ep.Outcome.Code),
		Decision: ep.DecisionType,
		At:       ep.Seal.SealedAt,
	})
	for _, ancestor := range derivedFrom {
		if _, ok := g.nodes[ancestor]; !ok {
			continue
		}
		g.putEdge(Edge{From: ep.EpisodeID, To: ancestor, Kind: EdgeDerivedFrom})
	}
}

// AddDrift inserts a drift node and its triggered edge from the source
// episode in one step.
func (g *Graph) AddDrift(sig model.DriftSignal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.putNode(Node{
		ID:       sig.DriftID,
		Kind:     NodeDrift,
		Label:    fmt.Sprintf("%s drift (%s) on %s", sig.DriftType, sig.Severity, sig.DecisionType),
		Decision: sig.DecisionType,
		At:       sig.DetectedAt,
	})
	if _, ok := g.nodes[sig.SourceEpisodeID]; ok {
		g.putEdge(Edge{From: sig.SourceEpisodeID, To: sig.DriftID, Kind: EdgeTriggered})
	}
}

// AddPatch inserts a patch node, its resolved_by edge from the target drift,
// and a supersedes edge over any earlier patch for the same drift.
func (g *Graph) AddPatch(p model.Patch) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.nodes[p.TargetDriftID]; !ok {
		return fmt.Errorf("drift %s: %w", p.TargetDriftID, model.ErrNotFound)
	}

	var prior string
	for _, e := range g.out[p.TargetDriftID] {
		if e.Kind == EdgeResolvedBy {
			prior = e.To
		}
	}

	g.putNode(Node{
		ID:    p.PatchID,
		Kind:  NodePatch,
		Label: fmt.Sprintf("%s: %s", p.PatchType, p.Description),
		At:    p.AppliedAt,
	})
	g.putEdge(Edge{From: p.TargetDriftID, To: p.PatchID, Kind: EdgeResolvedBy})
	if prior != "" {
		g.putEdge(Edge{From: p.PatchID, To: prior, Kind: EdgeSupersedes})
	}
	return nil
}

// Relate adds a typed edge between two existing nodes. Either endpoint
// missing is an error; the caller decides whether that is fatal.
func (g *Graph) Relate(from, to string, kind EdgeKind) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.nodes[from]; !ok {
		return fmt.Errorf("node %s: %w", from, model.ErrNotFound)
	}
	if _, ok := g.nodes[to]; !ok {
		return fmt.Errorf("node %s: %w", to, model.ErrNotFound)
	}
	g.putEdge(Edge{From: from, To: to, Kind: kind})
	return nil
}

// Resolved reports whether the drift node has at least one resolved_by edge.
func (g *Graph) Resolved(driftID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, e := range g.out[driftID] {
		if e.Kind == EdgeResolvedBy {
			return true
		}
	}
	return false
}

// Node returns the node and whether it exists.
func (g *Graph) Node(id string) (Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	return n, ok
}

// Out returns a copy of the node's outgoing edges.
func (g *Graph) Out(id string) []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]Edge{}, g.out[id]...)
}

// In returns a copy of the node's incoming edges.
func (g *Graph) In(id string) []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]Edge{}, g.in[id]...)
}

// CountKind returns the number of nodes of one kind.
func (g *Graph) CountKind(kind NodeKind) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := 0
	for _, node := range g.nodes {
		if node.Kind == kind {
			n++
		}
	}
	return n
}

// Stats summarizes the graph by node kind and edge kind.
type Stats struct {
	Nodes  int              `json:"nodes"`
	Edges  int              `json:"edges"`
	ByKind map[NodeKind]int `json:"by_kind"`
	ByEdge map[EdgeKind]int `json:"by_edge"`
}

// Stats computes graph counts.
func (g *Graph) Stats() Stats {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s := Stats{
		ByKind: make(map[NodeKind]int),
		ByEdge: make(map[EdgeKind]int),
	}
	for _, n := range g.nodes {
		s.Nodes++
		s.ByKind[n.Kind]++
	}
	for _, edges := range g.out {
		for _, e := range edges {
			s.Edges++
			s.ByEdge[e.Kind]++
		}
	}
	return s
}

// Step is one hop of a traversal: the edge taken and the node reached.
type Step struct {
	Edge Edge `json:"edge"`
	Node Node `json:"node"`
}

// Neighbors walks from start up to maxDepth hops and returns every reachable
// step in breadth-first order. kinds restricts which edge kinds are followed;
// nil follows all. Visited tracking makes cycles terminate; a node is
// reported once, at its shortest depth. Backward follows incoming edges,
// forward outgoing.
func (g *Graph) Neighbors(start string, kinds []EdgeKind, maxDepth int, backward bool) ([]Step, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, ok := g.nodes[start]; !ok {
		return nil, fmt.Errorf("node %s: %w", start, model.ErrNotFound)
	}

	var follow map[EdgeKind]bool
	if len(kinds) > 0 {
		follow = make(map[EdgeKind]bool, len(kinds))
		for _, k := range kinds {
			follow[k] = true
		}
	}

	visited := map[string]bool{start: true}
	frontier := []string{start}
	var steps []Step
	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, id := range frontier {
			for _, e := range g.edges(id, backward) {
				if follow != nil && !follow[e.Kind] {
					continue
				}
				target := e.To
				if backward {
					target = e.From
				}
				if visited[target] {
					continue
				}
				visited[target] = true
				steps = append(steps, Step{Edge: e, Node: g.nodes[target]})
				next = append(next, target)
			}
		}
		frontier = next
	}
	return steps, nil
}

// edges returns the edges leaving (or entering) a node, deterministically
// ordered. Caller holds the lock.
func (g *Graph) edges(id string, backward bool) []Edge {
	var edges []Edge
	if backward {
		edges = append([]Edge{}, g.in[id]...)
	} else {
		edges = append([]Edge{}, g.out[id]...)
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Kind != edges[j].Kind {
			return edges[i].Kind < edges[j].Kind
		}
		if edges[i].From != edges[j].From {
			return edges[i].From < edges[j].From
		}
		return edges[i].To < edges[j].To
	})
	return edges
}

func (g *Graph) putNode(n Node) {
	g.nodes[n.ID] = n
}

func (g *Graph) putEdge(e Edge) {
	for _, have := range g.out[e.From] {
		if have == e {
			return
		}
	}
	g.out[e.From] = append(g.out[e.From], e)
	g.in[e.To] = append(g.in[e.To], e)
}
