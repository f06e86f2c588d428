// Package iris resolves operator queries (WHY, WHAT_CHANGED, STATUS, SHOW)
// by walking the memory graph and consulting the episode store, drift
// detector, and latest coherence report. Every response carries the
// provenance chain that produced it.
package iris

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/driftwatch/internal/drift"
	"github.com/ppiankov/driftwatch/internal/episode"
	"github.com/ppiankov/driftwatch/internal/graph"
	"github.com/ppiankov/driftwatch/internal/model"
	"github.com/ppiankov/driftwatch/internal/score"
)

// QueryType names a supported query.
type QueryType string

const (
	QueryWhy         QueryType = "WHY"
	QueryWhatChanged QueryType = "WHAT_CHANGED"
	QueryStatus      QueryType = "STATUS"
	QueryShow        QueryType = "SHOW"
)

// QueryTypes lists all supported query types.
var QueryTypes = []QueryType{QueryWhy, QueryWhatChanged, QueryStatus, QueryShow}

// Status grades how completely a query resolved. A query that found its
// primary source resolves; one that found only secondary evidence is
// partial.
type Status string

const (
	StatusResolved Status = "resolved"
	StatusPartial  Status = "partial"
	StatusNotFound Status = "not_found"
)

// DefaultWhyDepth bounds the backward causal walk.
const DefaultWhyDepth = 10

// DefaultShowDepth bounds the induced subgraph around a SHOW subject.
const DefaultShowDepth = 3

// Query is the structured query input.
type Query struct {
	Type QueryType `json:"query_type"`

	// TargetID is the episode, drift, or patch ID for WHY and SHOW.
	TargetID string `json:"target_id,omitempty"`

	// Since and Until bound WHAT_CHANGED, inclusive. Empty means unbounded.
	Since string `json:"since,omitempty"`
	Until string `json:"until,omitempty"`

	// Depth overrides the default traversal bound when positive.
	Depth int `json:"depth,omitempty"`
}

// Link is one provenance chain entry naming the artifact consulted.
type Link struct {
	Artifact string `json:"artifact"` // store, graph, detector, scorer
	Ref      string `json:"ref"`
	Role     string `json:"role"` // source, evidence, context
	Detail   string `json:"detail"`
}

// WhyResult is the causal chain behind one record.
type WhyResult struct {
	Target  graph.Node     `json:"target"`
	Episode *model.Episode `json:"episode,omitempty"`
	Chain   []graph.Step   `json:"chain,omitempty"`
}

// ChangeGroup collects the drift signals and patches for one decision type.
type ChangeGroup struct {
	DecisionType string              `json:"decision_type"`
	Signals      []model.DriftSignal `json:"signals,omitempty"`
	Patches      []graph.Node        `json:"patches,omitempty"`
}

// ChangedResult groups interval changes by decision type.
type ChangedResult struct {
	Groups       []ChangeGroup `json:"groups"`
	TotalSignals int           `json:"total_signals"`
	TotalPatches int           `json:"total_patches"`
}

// StatusResult is the health snapshot behind a STATUS query.
type StatusResult struct {
	Report     *score.Report          `json:"report,omitempty"`
	Unresolved map[model.Severity]int `json:"unresolved_by_severity"`
	Graph      graph.Stats            `json:"graph"`
	Drift      drift.Summary          `json:"drift"`
}

// ShowResult is the induced subgraph around a subject node.
type ShowResult struct {
	Center graph.Node   `json:"center"`
	Nodes  []graph.Node `json:"nodes"`
	Edges  []graph.Edge `json:"edges"`
}

// Response is the structured query answer.
type Response struct {
	QueryID    string    `json:"query_id"`
	QueryType  QueryType `json:"query_type"`
	Status     Status    `json:"status"`
	Summary    string    `json:"summary"`
	Provenance []Link    `json:"provenance,omitempty"`
	Warnings   []string  `json:"warnings,omitempty"`
	ElapsedMS  float64   `json:"elapsed_ms"`

	Why     *WhyResult     `json:"why,omitempty"`
	Changed *ChangedResult `json:"what_changed,omitempty"`
	Health  *StatusResult  `json:"health,omitempty"`
	Show    *ShowResult    `json:"show,omitempty"`
}

// Resolver answers queries over a live engine's components. All reads; a
// resolver never mutates any of its sources.
type Resolver struct {
	store    *episode.Store
	graph    *graph.Graph
	detector *drift.Detector
	latest   func() *score.Report
}

// NewResolver wires a resolver to its sources. latest may return nil when no
// report has been computed yet.
func NewResolver(store *episode.Store, g *graph.Graph, d *drift.Detector, latest func() *score.Report) *Resolver {
	return &Resolver{store: store, graph: g, detector: d, latest: latest}
}

// Resolve dispatches one query. Unknown query types and missing targets
// return errors wrapping model.ErrValidation and model.ErrNotFound; the
// caller maps those to its boundary.
func (r *Resolver) Resolve(q Query) (*Response, error) {
	start := time.Now()
	resp := &Response{
		QueryID:   newQueryID(),
		QueryType: q.Type,
	}

	var err error
	switch q.Type {
	case QueryWhy:
		err = r.resolveWhy(q, resp)
	case QueryWhatChanged:
		err = r.resolveWhatChanged(q, resp)
	case QueryStatus:
		err = r.resolveStatus(resp)
	case QueryShow:
		err = r.resolveShow(q, resp)
	default:
		err = fmt.Errorf("unknown query type %q: %w", q.Type, model.ErrValidation)
	}
	if err != nil {
		return nil, err
	}

	resp.ElapsedMS = float64(time.Since(start).Microseconds()) / 1000
	return resp, nil
}

func (r *Resolver) resolveWhy(q Query, resp *Response) error {
	if q.TargetID == "" {
		return fmt.Errorf("WHY requires a target id: %w", model.ErrValidation)
	}
	node, ok := r.graph.Node(q.TargetID)
	if !ok {
		return fmt.Errorf("target %s: %w", q.TargetID, model.ErrNotFound)
	}

	depth := q.Depth
	if depth <= 0 {
		depth = DefaultWhyDepth
	}

	why := &WhyResult{Target: node}
	resp.Provenance = append(resp.Provenance, Link{
		Artifact: "graph", Ref: node.ID, Role: "source", Detail: node.Label,
	})

	// Drift and patch nodes trace backward to the episode that caused them.
	// Episode nodes trace forward along ancestry edges only: the drift
	// signals an episode triggered are effects, not causes.
	backward := node.Kind != graph.NodeEpisode
	var kinds []graph.EdgeKind
	if !backward {
		kinds = []graph.EdgeKind{graph.EdgeDerivedFrom, graph.EdgeCausedBy}
	}
	steps, err := r.graph.Neighbors(q.TargetID, kinds, depth, backward)
	if err != nil {
		return err
	}
	why.Chain = steps
	for _, s := range steps {
		resp.Provenance = append(resp.Provenance, Link{
			Artifact: "graph",
			Ref:      s.Node.ID,
			Role:     "evidence",
			Detail:   fmt.Sprintf("%s via %s", s.Node.Label, s.Edge.Kind),
		})
	}

	resolved := true
	if node.Kind == graph.NodeEpisode {
		ep, err := r.store.Get(node.ID)
		if err == nil {
			why.Episode = ep
			for _, in := range ep.Context.Inputs {
				resp.Provenance = append(resp.Provenance, Link{
					Artifact: "store", Ref: in.Ref, Role: "evidence",
					Detail: fmt.Sprintf("context input observed %s", in.ObservedAt),
				})
			}
			if ep.PolicyStamp != nil {
				resp.Provenance = append(resp.Provenance, Link{
					Artifact: "store", Ref: ep.PolicyStamp.PolicyID, Role: "context",
					Detail: "governing policy version " + ep.PolicyStamp.Version,
				})
			}
		} else {
			resolved = false
			resp.Warnings = append(resp.Warnings, fmt.Sprintf("episode %s present in graph but not in store", node.ID))
		}
	}

	resp.Why = why
	resp.Status = StatusResolved
	if !resolved {
		resp.Status = StatusPartial
	}
	resp.Summary = fmt.Sprintf("%s: %d link(s) in causal chain", node.Label, len(why.Chain))
	return nil
}

func (r *Resolver) resolveWhatChanged(q Query, resp *Response) error {
	since, until, err := parseRange(q.Since, q.Until)
	if err != nil {
		return err
	}

	groups := make(map[string]*ChangeGroup)
	group := func(decisionType string) *ChangeGroup {
		g, ok := groups[decisionType]
		if !ok {
			g = &ChangeGroup{DecisionType: decisionType}
			groups[decisionType] = g
		}
		return g
	}

	changed := &ChangedResult{}
	for _, sig := range r.detector.Signals() {
		if !inRange(sig.DetectedAt, since, until) {
			continue
		}
		group(sig.DecisionType).Signals = append(group(sig.DecisionType).Signals, sig)
		changed.TotalSignals++
	}

	// Patches live in the graph; their decision type comes from the drift
	// node they resolve.
	for _, sig := range r.detector.Signals() {
		for _, e := range r.graph.Out(sig.DriftID) {
			if e.Kind != graph.EdgeResolvedBy {
				continue
			}
			pn, ok := r.graph.Node(e.To)
			if !ok || !inRange(pn.At, since, until) {
				continue
			}
			group(sig.DecisionType).Patches = append(group(sig.DecisionType).Patches, pn)
			changed.TotalPatches++
		}
	}

	for _, g := range sortedGroups(groups) {
		changed.Groups = append(changed.Groups, *g)
	}

	resp.Changed = changed
	resp.Status = StatusResolved
	if changed.TotalSignals == 0 && changed.TotalPatches == 0 {
		resp.Status = StatusNotFound
		resp.Summary = "no drift signals or patches in range"
		return nil
	}
	resp.Provenance = append(resp.Provenance,
		Link{Artifact: "detector", Ref: "drift-scan", Role: "source",
			Detail: fmt.Sprintf("%d signal(s) in range", changed.TotalSignals)},
		Link{Artifact: "graph", Ref: "patch-scan", Role: "evidence",
			Detail: fmt.Sprintf("%d patch(es) in range", changed.TotalPatches)},
	)
	resp.Summary = fmt.Sprintf("%d drift signal(s) and %d patch(es) across %d decision type(s)",
		changed.TotalSignals, changed.TotalPatches, len(changed.Groups))
	return nil
}

func (r *Resolver) resolveStatus(resp *Response) error {
	health := &StatusResult{
		Unresolved: make(map[model.Severity]int),
		Graph:      r.graph.Stats(),
		Drift:      r.detector.Summarize(),
	}
	for _, sig := range r.detector.Signals() {
		if !r.graph.Resolved(sig.DriftID) {
			health.Unresolved[sig.Severity]++
		}
	}

	resp.Health = health
	resp.Status = StatusPartial
	if rep := r.latest(); rep != nil {
		health.Report = rep
		resp.Status = StatusResolved
		resp.Provenance = append(resp.Provenance, Link{
			Artifact: "scorer", Ref: "coherence-report", Role: "source",
			Detail: fmt.Sprintf("%.2f/100 (%s)", rep.Overall, rep.Grade),
		})
	} else {
		resp.Warnings = append(resp.Warnings, "no coherence report computed yet")
	}
	resp.Provenance = append(resp.Provenance,
		Link{Artifact: "detector", Ref: "drift-scan", Role: "evidence",
			Detail: fmt.Sprintf("%d signal(s) total", health.Drift.Total)},
		Link{Artifact: "graph", Ref: "graph-stats", Role: "evidence",
			Detail: fmt.Sprintf("%d node(s), %d edge(s)", health.Graph.Nodes, health.Graph.Edges)},
	)

	unresolved := 0
	for _, n := range health.Unresolved {
		unresolved += n
	}
	if health.Report != nil {
		resp.Summary = fmt.Sprintf("coherence %.2f/100 (%s), %d unresolved drift signal(s)",
			health.Report.Overall, health.Report.Grade, unresolved)
	} else {
		resp.Summary = fmt.Sprintf("%d unresolved drift signal(s), no report yet", unresolved)
	}
	return nil
}

func (r *Resolver) resolveShow(q Query, resp *Response) error {
	if q.TargetID == "" {
		return fmt.Errorf("SHOW requires a target id: %w", model.ErrValidation)
	}
	center, ok := r.graph.Node(q.TargetID)
	if !ok {
		return fmt.Errorf("target %s: %w", q.TargetID, model.ErrNotFound)
	}

	depth := q.Depth
	if depth <= 0 {
		depth = DefaultShowDepth
	}

	// The induced subgraph is the union of forward and backward reach.
	seen := map[string]graph.Node{center.ID: center}
	edges := make(map[graph.Edge]bool)
	for _, backward := range []bool{false, true} {
		steps, err := r.graph.Neighbors(center.ID, nil, depth, backward)
		if err != nil {
			return err
		}
		for _, s := range steps {
			seen[s.Node.ID] = s.Node
			edges[s.Edge] = true
		}
	}

	show := &ShowResult{Center: center}
	for _, n := range seen {
		show.Nodes = append(show.Nodes, n)
	}
	sortNodes(show.Nodes)
	for e := range edges {
		show.Edges = append(show.Edges, e)
	}
	sortEdges(show.Edges)

	resp.Show = show
	resp.Status = StatusResolved
	resp.Provenance = append(resp.Provenance, Link{
		Artifact: "graph", Ref: center.ID, Role: "source",
		Detail: fmt.Sprintf("subgraph of %d node(s) within depth %d", len(show.Nodes), depth),
	})
	resp.Summary = fmt.Sprintf("%s: %d node(s), %d edge(s)", center.Label, len(show.Nodes), len(show.Edges))
	return nil
}

func newQueryID() string {
	u := uuid.New()
	return "iris-" + hex.EncodeToString(u[:])[:12]
}

func parseRange(since, until string) (time.Time, time.Time, error) {
	var lo, hi time.Time
	var err error
	if since != "" {
		lo, err = time.Parse(model.TimestampFormat, since)
		if err != nil {
			return lo, hi, fmt.Errorf("invalid since %q: %w", since, model.ErrValidation)
		}
	}
	if until != "" {
		hi, err = time.Parse(model.TimestampFormat, until)
		if err != nil {
			return lo, hi, fmt.Errorf("invalid until %q: %w", until, model.ErrValidation)
		}
	}
	return lo, hi, nil
}

func inRange(ts string, lo, hi time.Time) bool {
	t, err := time.Parse(model.TimestampFormat, ts)
	if err != nil {
		return false
	}
	if !lo.IsZero() && t.Before(lo) {
		return false
	}
	if !hi.IsZero() && t.After(hi) {
		return false
	}
	return true
}
