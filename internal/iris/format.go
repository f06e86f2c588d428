package iris

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ppiankov/driftwatch/internal/graph"
	"github.com/ppiankov/driftwatch/internal/model"
)

func sortedGroups(groups map[string]*ChangeGroup) []*ChangeGroup {
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*ChangeGroup, 0, len(keys))
	for _, k := range keys {
		out = append(out, groups[k])
	}
	return out
}

func sortNodes(nodes []graph.Node) {
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].At != nodes[j].At {
			return nodes[i].At < nodes[j].At
		}
		return nodes[i].ID < nodes[j].ID
	})
}

func sortEdges(edges []graph.Edge) {
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Kind != edges[j].Kind {
			return edges[i].Kind < edges[j].Kind
		}
		if edges[i].From != edges[j].From {
			return edges[i].From < edges[j].From
		}
		return edges[i].To < edges[j].To
	})
}

// Format renders a response as operator-readable text for the CLI.
func Format(resp *Response) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s [%s] %.0fms\n", resp.QueryID, resp.QueryType, resp.Status, resp.ElapsedMS)
	fmt.Fprintf(&b, "%s\n", resp.Summary)

	switch {
	case resp.Why != nil:
		formatWhy(&b, resp.Why)
	case resp.Changed != nil:
		formatChanged(&b, resp.Changed)
	case resp.Health != nil:
		formatHealth(&b, resp.Health)
	case resp.Show != nil:
		formatShow(&b, resp.Show)
	}

	if len(resp.Provenance) > 0 {
		b.WriteString("\nprovenance:\n")
		for _, l := range resp.Provenance {
			fmt.Fprintf(&b, "  [%s] %s (%s): %s\n", l.Artifact, l.Ref, l.Role, l.Detail)
		}
	}
	for _, w := range resp.Warnings {
		fmt.Fprintf(&b, "warning: %s\n", w)
	}
	return b.String()
}

func formatWhy(b *strings.Builder, why *WhyResult) {
	fmt.Fprintf(b, "\ntarget: %s (%s)\n", why.Target.ID, why.Target.Kind)
	if why.Episode != nil {
		ep := why.Episode
		fmt.Fprintf(b, "  decision: %s by %s/%s\n", ep.DecisionType, ep.Actor.Type, ep.Actor.ID)
		fmt.Fprintf(b, "  outcome:  %s", ep.Outcome.Code)
		if ep.Outcome.Detail != "" {
			fmt.Fprintf(b, " (%s)", ep.Outcome.Detail)
		}
		b.WriteString("\n")
		fmt.Fprintf(b, "  sealed:   %s v%d %s\n", ep.Seal.SealedAt, ep.Seal.Version, ep.Seal.Hash)
	}
	if len(why.Chain) > 0 {
		b.WriteString("causal chain:\n")
		for _, s := range why.Chain {
			fmt.Fprintf(b, "  %s -> %s [%s] %s\n", s.Edge.From, s.Edge.To, s.Edge.Kind, s.Node.Label)
		}
	}
}

func formatChanged(b *strings.Builder, c *ChangedResult) {
	for _, g := range c.Groups {
		fmt.Fprintf(b, "\n%s:\n", g.DecisionType)
		for _, sig := range g.Signals {
			recurring := ""
			if sig.Recurring {
				recurring = " recurring"
			}
			fmt.Fprintf(b, "  drift %s %s (%s)%s: %s\n",
				sig.DriftID, sig.DriftType, sig.Severity, recurring, sig.Detail)
		}
		for _, p := range g.Patches {
			fmt.Fprintf(b, "  patch %s: %s\n", p.ID, p.Label)
		}
	}
}

func formatHealth(b *strings.Builder, h *StatusResult) {
	if h.Report != nil {
		rep := h.Report
		fmt.Fprintf(b, "\ncoherence: %.2f/100 (%s) at %s\n", rep.Overall, rep.Grade, rep.GeneratedAt)
		fmt.Fprintf(b, "  policy_adherence:    %6.2f x%.2f  %s\n", rep.PolicyAdherence.Score, rep.PolicyAdherence.Weight, rep.PolicyAdherence.Detail)
		fmt.Fprintf(b, "  outcome_health:      %6.2f x%.2f  %s\n", rep.OutcomeHealth.Score, rep.OutcomeHealth.Weight, rep.OutcomeHealth.Detail)
		fmt.Fprintf(b, "  drift_control:       %6.2f x%.2f  %s\n", rep.DriftControl.Score, rep.DriftControl.Weight, rep.DriftControl.Detail)
		fmt.Fprintf(b, "  memory_completeness: %6.2f x%.2f  %s\n", rep.MemoryCompleteness.Score, rep.MemoryCompleteness.Weight, rep.MemoryCompleteness.Detail)
	}
	for _, sev := range []model.Severity{model.SeverityRed, model.SeverityYellow, model.SeverityGreen} {
		if n := h.Unresolved[sev]; n > 0 {
			fmt.Fprintf(b, "unresolved %s: %d\n", sev, n)
		}
	}
	fmt.Fprintf(b, "graph: %d node(s), %d edge(s)\n", h.Graph.Nodes, h.Graph.Edges)
}

func formatShow(b *strings.Builder, s *ShowResult) {
	b.WriteString("\nnodes:\n")
	for _, n := range s.Nodes {
		marker := " "
		if n.ID == s.Center.ID {
			marker = "*"
		}
		fmt.Fprintf(b, "  %s %-8s %s  %s\n", marker, n.Kind, n.ID, n.Label)
	}
	if len(s.Edges) > 0 {
		b.WriteString("edges:\n")
		for _, e := range s.Edges {
			fmt.Fprintf(b, "  %s -> %s [%s]\n", e.From, e.To, e.Kind)
		}
	}
}
