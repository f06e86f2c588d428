// Package score computes the coherence report: four weighted dimensions
// rolled into a 0-100 score with a letter grade. Scoring is a pure function
// of its input; the same input always produces the same report.
package score

import (
	"fmt"
	"math"

	"github.com/ppiankov/driftwatch/internal/config"
	"github.com/ppiankov/driftwatch/internal/model"
)

// Input is everything the scorer reads. Callers assemble it from a
// consistent snapshot; the scorer never touches live state.
type Input struct {
	Episodes []model.Episode

	// Unresolved are drift signals with no resolving patch yet. Resolved
	// signals stop counting against drift control.
	Unresolved []model.DriftSignal

	// RecurringPatterns is the number of distinct fingerprints seen more
	// than once inside the recurrence window.
	RecurringPatterns int

	// EpisodeNodes and ExpectedEpisodes drive memory completeness:
	// graph episode nodes against the store's active count.
	EpisodeNodes     int
	ExpectedEpisodes int
}

// Dimension is one scored axis with its weight and an explanation.
type Dimension struct {
	Score  float64 `json:"score"`
	Weight float64 `json:"weight"`
	Detail string  `json:"detail"`
}

// Report is the full coherence assessment.
type Report struct {
	Overall            float64   `json:"overall"`
	Grade              string    `json:"grade"`
	PolicyAdherence    Dimension `json:"policy_adherence"`
	OutcomeHealth      Dimension `json:"outcome_health"`
	DriftControl       Dimension `json:"drift_control"`
	MemoryCompleteness Dimension `json:"memory_completeness"`
	GeneratedAt        string    `json:"generated_at"`
}

// Dimensions returns the four dimensions in canonical order.
func (r *Report) Dimensions() map[string]Dimension {
	return map[string]Dimension{
		"policy_adherence":    r.PolicyAdherence,
		"outcome_health":      r.OutcomeHealth,
		"drift_control":       r.DriftControl,
		"memory_completeness": r.MemoryCompleteness,
	}
}

// Score computes the report for one snapshot.
func Score(in Input, weights config.ScoreWeights) Report {
	pa := policyAdherence(in.Episodes)
	oh := outcomeHealth(in.Episodes)
	dc := driftControl(in.Unresolved, in.RecurringPatterns)
	mc := memoryCompleteness(in.EpisodeNodes, in.ExpectedEpisodes)

	pa.Weight = weights.PolicyAdherence
	oh.Weight = weights.OutcomeHealth
	dc.Weight = weights.DriftControl
	mc.Weight = weights.MemoryCompleteness

	overall := round2(pa.Score*pa.Weight + oh.Score*oh.Weight + dc.Score*dc.Weight + mc.Score*mc.Weight)
	return Report{
		Overall:            overall,
		Grade:              Grade(overall),
		PolicyAdherence:    pa,
		OutcomeHealth:      oh,
		DriftControl:       dc,
		MemoryCompleteness: mc,
		GeneratedAt:        model.UTCNowISO(),
	}
}

// Grade maps an overall score onto a letter grade.
func Grade(overall float64) string {
	switch {
	case overall >= 90:
		return "A"
	case overall >= 75:
		return "B"
	case overall >= 60:
		return "C"
	case overall >= 40:
		return "D"
	default:
		return "F"
	}
}

// policyAdherence is the fraction of episodes carrying a policy stamp.
// No episodes means no evidence either way, which scores the neutral 50.
func policyAdherence(eps []model.Episode) Dimension {
	if len(eps) == 0 {
		return Dimension{Score: 50, Detail: "no episodes to assess"}
	}
	stamped := 0
	for _, ep := range eps {
		if ep.PolicyStamp != nil && ep.PolicyStamp.PolicyID != "" {
			stamped++
		}
	}
	score := round2(100 * float64(stamped) / float64(len(eps)))
	return Dimension{
		Score:  score,
		Detail: fmt.Sprintf("%d of %d episodes carry a policy stamp", stamped, len(eps)),
	}
}

// outcomeHealth blends the success rate (weight 0.6) with the verification
// pass rate (weight 0.4). Components with no evidence default to 0.5.
func outcomeHealth(eps []model.Episode) Dimension {
	if len(eps) == 0 {
		return Dimension{Score: 50, Detail: "no episodes to assess"}
	}
	success := 0
	vpass, vran := 0, 0
	for _, ep := range eps {
		if ep.Outcome.Code == model.OutcomeSuccess {
			success++
		}
		switch ep.Verification.Result {
		case model.VerifyPass:
			vpass++
			vran++
		case model.VerifyFail:
			vran++
		}
	}
	sr := float64(success) / float64(len(eps))
	vr := 0.5
	if vran > 0 {
		vr = float64(vpass) / float64(vran)
	}
	score := round2(100 * (0.6*sr + 0.4*vr))
	return Dimension{
		Score: score,
		Detail: fmt.Sprintf("success rate %.0f%%, verification pass rate %.0f%% over %d episodes",
			sr*100, vr*100, len(eps)),
	}
}

// driftControl starts at 100 and charges unresolved signals: 15 per red,
// 10 per recurring pattern, 2 per signal of any severity. The floor is 0.
func driftControl(unresolved []model.DriftSignal, recurring int) Dimension {
	reds := 0
	for _, sig := range unresolved {
		if sig.Severity == model.SeverityRed {
			reds++
		}
	}
	penalty := float64(reds)*15 + float64(recurring)*10 + float64(len(unresolved))*2
	if penalty > 100 {
		penalty = 100
	}
	return Dimension{
		Score: round2(100 - penalty),
		Detail: fmt.Sprintf("%d unresolved signal(s), %d red, %d recurring pattern(s)",
			len(unresolved), reds, recurring),
	}
}

// memoryCompleteness compares graph episode nodes against the number of
// episodes the store holds. A populated graph with no baseline scores the
// neutral 50; an empty graph scores 0.
func memoryCompleteness(nodes, expected int) Dimension {
	if expected <= 0 {
		if nodes > 0 {
			return Dimension{Score: 50, Detail: "graph populated but no episode baseline"}
		}
		return Dimension{Score: 0, Detail: "memory graph is empty"}
	}
	score := 100 * float64(nodes) / float64(expected)
	if score > 100 {
		score = 100
	}
	return Dimension{
		Score:  round2(score),
		Detail: fmt.Sprintf("%d of %d expected episode nodes present", nodes, expected),
	}
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
