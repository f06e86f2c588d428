package drift

import (
	"fmt"
	"time"

	"github.com/ppiankov/driftwatch/internal/config"
	"github.com/ppiankov/driftwatch/internal/model"
)

// WindowView is the immutable input to every classifier: the newly sealed
// episode plus the trailing window of prior episodes for the same
// decision_type, copied under the store's read lock.
type WindowView struct {
	Episode model.Episode
	Prior   []model.Episode
	Now     time.Time
}

// candidate is a classifier's verdict before fingerprinting and recurrence
// escalation.
type candidate struct {
	Severity  model.Severity
	Dimension string // discriminating dimension for the fingerprint
	Detail    string
	PatchType model.PatchType
}

// Classifier is one pure drift rule. It returns (nil, "") when the episode
// shows no drift of this type, and (nil, note) when the telemetry needed to
// decide is missing. Insufficient evidence is a quality note, never an
// error.
type Classifier struct {
	Type     model.DriftType
	Classify func(v WindowView, cfg *config.DriftConfig) (*candidate, string)
}

// Registry returns all classifiers in evaluation order, one per drift type.
func Registry() []Classifier {
	return []Classifier{
		{model.DriftTime, classifyTime},
		{model.DriftFreshness, classifyFreshness},
		{model.DriftFallback, classifyFallback},
		{model.DriftBypass, classifyBypass},
		{model.DriftVerify, classifyVerify},
		{model.DriftOutcome, classifyOutcome},
		{model.DriftFanout, classifyFanout},
		{model.DriftContention, classifyContention},
	}
}

// severityForRatio maps a deviation ratio onto the soft/hard thresholds.
// Below soft there is no signal.
func severityForRatio(ratio float64, t config.DriftThresholds) (model.Severity, bool) {
	switch {
	case ratio >= t.Hard:
		return model.SeverityRed, true
	case ratio >= t.Soft:
		return model.SeverityYellow, true
	default:
		return "", false
	}
}

// classifyTime flags episodes that ran long against their declared target.
func classifyTime(v WindowView, cfg *config.DriftConfig) (*candidate, string) {
	tel := v.Episode.Telemetry
	if tel.TargetMS <= 0 || tel.DurationMS <= 0 {
		if tel.DurationMS > 0 && tel.TargetMS <= 0 {
			return nil, "time: no target_ms declared, skipping"
		}
		return nil, ""
	}
	ratio := float64(tel.DurationMS) / float64(tel.TargetMS)
	sev, ok := severityForRatio(ratio, cfg.Time)
	if !ok {
		return nil, ""
	}
	return &candidate{
		Severity:  sev,
		Dimension: "duration",
		Detail:    fmt.Sprintf("ran %dms against target %dms (%.2fx)", tel.DurationMS, tel.TargetMS, ratio),
		PatchType: model.PatchRouting,
	}, ""
}

// classifyFreshness flags inputs older than their declared TTL at use time.
func classifyFreshness(v WindowView, cfg *config.DriftConfig) (*candidate, string) {
	useTime, err := useTimestamp(v.Episode)
	if err != nil {
		return nil, "freshness: " + err.Error()
	}

	worstRatio := 0.0
	worstRef := ""
	for _, in := range v.Episode.Context.Inputs {
		if in.TTLSeconds <= 0 || in.ObservedAt == "" {
			continue
		}
		observed, err := time.Parse(model.TimestampFormat, in.ObservedAt)
		if err != nil {
			return nil, fmt.Sprintf("freshness: unparseable observed_at for %s, skipping", in.Ref)
		}
		age := useTime.Sub(observed).Seconds()
		ratio := age / float64(in.TTLSeconds)
		if ratio > worstRatio {
			worstRatio = ratio
			worstRef = in.Ref
		}
	}
	if worstRef == "" {
		return nil, ""
	}
	sev, ok := severityForRatio(worstRatio, cfg.Freshness)
	if !ok {
		return nil, ""
	}
	return &candidate{
		Severity:  sev,
		Dimension: worstRef,
		Detail:    fmt.Sprintf("input %s was %.2fx past its TTL at use time", worstRef, worstRatio),
		PatchType: model.PatchTTL,
	}, ""
}

// classifyFallback flags decisions that ran on a degraded path.
func classifyFallback(v WindowView, _ *config.DriftConfig) (*candidate, string) {
	steps := v.Episode.Telemetry.DegradeSteps
	if len(steps) == 0 {
		return nil, ""
	}
	sev := model.SeverityYellow
	if len(steps) >= 2 {
		sev = model.SeverityRed
	}
	return &candidate{
		Severity:  sev,
		Dimension: steps[len(steps)-1],
		Detail:    fmt.Sprintf("decision degraded through %d fallback step(s), last %q", len(steps), steps[len(steps)-1]),
		PatchType: model.PatchRouting,
	}, ""
}

// classifyBypass flags required verification that was skipped outright.
func classifyBypass(v WindowView, _ *config.DriftConfig) (*candidate, string) {
	ep := v.Episode
	skipped := ep.Verification.Required && ep.Verification.Result == model.VerifySkipped
	if !skipped && ep.Outcome.Code != model.OutcomeBypassed {
		return nil, ""
	}
	sev := model.SeverityYellow
	if ep.Outcome.Code == model.OutcomeBypassed || maxBlast(ep.Actions) == model.BlastHigh {
		sev = model.SeverityRed
	}
	return &candidate{
		Severity:  sev,
		Dimension: "verification",
		Detail:    "a required verification step was skipped",
		PatchType: model.PatchVerify,
	}, ""
}

// classifyVerify flags required verification that ran and failed. A failed
// advisory check is the caller's business, not drift.
func classifyVerify(v WindowView, _ *config.DriftConfig) (*candidate, string) {
	ep := v.Episode
	if !ep.Verification.Required || ep.Verification.Result != model.VerifyFail {
		return nil, ""
	}
	sev := model.SeverityYellow
	if maxBlast(ep.Actions) == model.BlastHigh {
		sev = model.SeverityRed
	}
	return &candidate{
		Severity:  sev,
		Dimension: "verification",
		Detail:    "verification ran and failed",
		PatchType: model.PatchVerify,
	}, ""
}

// classifyOutcome flags a fail outcome against a healthy prior baseline:
// failing where this decision type almost always succeeds is drift, failing
// where it already fails often is just the baseline.
func classifyOutcome(v WindowView, cfg *config.DriftConfig) (*candidate, string) {
	if v.Episode.Outcome.Code != model.OutcomeFail {
		return nil, ""
	}
	if len(v.Prior) == 0 {
		return nil, ""
	}
	success := 0
	for _, ep := range v.Prior {
		if ep.Outcome.Code == model.OutcomeSuccess {
			success++
		}
	}
	rate := float64(success) / float64(len(v.Prior))
	if rate <= cfg.SuccessFloor {
		return nil, ""
	}
	sev := model.SeverityYellow
	if rate >= 0.95 {
		sev = model.SeverityRed
	}
	return &candidate{
		Severity:  sev,
		Dimension: "outcome",
		Detail:    fmt.Sprintf("fail outcome while prior success rate was %.0f%%", rate*100),
		PatchType: model.PatchPolicy,
	}, ""
}

// classifyFanout flags episodes executing more actions than declared.
func classifyFanout(v WindowView, cfg *config.DriftConfig) (*candidate, string) {
	expected := v.Episode.Telemetry.FanoutExpected
	if expected <= 0 {
		return nil, ""
	}
	ratio := float64(len(v.Episode.Actions)) / float64(expected)
	sev, ok := severityForRatio(ratio, cfg.Fanout)
	if !ok {
		return nil, ""
	}
	return &candidate{
		Severity:  sev,
		Dimension: "fanout",
		Detail:    fmt.Sprintf("executed %d actions against expected %d", len(v.Episode.Actions), expected),
		PatchType: model.PatchRouting,
	}, ""
}

// classifyContention flags retry storms. The thresholds are retry counts,
// not ratios.
func classifyContention(v WindowView, cfg *config.DriftConfig) (*candidate, string) {
	retries := v.Episode.Telemetry.Retries
	sev, ok := severityForRatio(float64(retries), cfg.Contention)
	if !ok {
		return nil, ""
	}
	return &candidate{
		Severity:  sev,
		Dimension: "retries",
		Detail:    fmt.Sprintf("%d retries before completion", retries),
		PatchType: model.PatchRouting,
	}, ""
}

// useTimestamp is the moment inputs were used: telemetry start when present,
// otherwise the seal time.
func useTimestamp(ep model.Episode) (time.Time, error) {
	ts := ep.Telemetry.StartedAt
	if ts == "" {
		ts = ep.Seal.SealedAt
	}
	if ts == "" {
		return time.Time{}, fmt.Errorf("no usable timestamp on episode, skipping")
	}
	t, err := time.Parse(model.TimestampFormat, ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("unparseable timestamp %q, skipping", ts)
	}
	return t, nil
}

func maxBlast(actions []model.Action) model.BlastRadius {
	out := model.BlastLow
	for _, a := range actions {
		if model.BlastRank[a.BlastRadius] > model.BlastRank[out] {
			out = a.BlastRadius
		}
	}
	return out
}
