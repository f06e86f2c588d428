package drift

import (
	"testing"
	"time"

	"github.com/ppiankov/driftwatch/internal/config"
	"github.com/ppiankov/driftwatch/internal/model"
)

func baseEpisode(decisionType string) model.Episode {
	return model.Episode{
		EpisodeID:    model.NewEpisodeID(),
		DecisionType: decisionType,
		Actor:        model.Actor{Type: "agent", ID: "agent-1"},
		Actions: []model.Action{
			{Type: "apply", IdempotencyKey: "k1", BlastRadius: model.BlastLow},
		},
		Verification: model.Verification{Required: false, Result: model.VerifyNotApplicable},
		Outcome:      model.Outcome{Code: model.OutcomeSuccess},
		State:        model.StateSealed,
		Seal:         model.Seal{Hash: "sha256:test", SealedAt: "2026-03-01T12:00:00.000Z", Version: 1},
	}
}

func detectOne(t *testing.T, ep model.Episode, prior []model.Episode) ([]model.DriftSignal, []string) {
	t.Helper()
	d := NewDetector(&config.Default().Detect)
	now, err := time.Parse(model.TimestampFormat, "2026-03-01T12:00:00.000Z")
	if err != nil {
		t.Fatalf("parse now: %v", err)
	}
	return d.Detect(WindowView{Episode: ep, Prior: prior, Now: now})
}

func findType(signals []model.DriftSignal, dt model.DriftType) *model.DriftSignal {
	for i := range signals {
		if signals[i].DriftType == dt {
			return &signals[i]
		}
	}
	return nil
}

func TestTimeDrift(t *testing.T) {
	tests := []struct {
		name     string
		duration int64
		target   int64
		want     model.Severity
		none     bool
	}{
		{"under target", 500, 1000, "", true},
		{"at soft threshold", 1000, 1000, model.SeverityYellow, false},
		{"between thresholds", 1200, 1000, model.SeverityYellow, false},
		{"at hard threshold", 1500, 1000, model.SeverityRed, false},
		{"far past hard", 4000, 1000, model.SeverityRed, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep := baseEpisode("deploy")
			ep.Telemetry.DurationMS = tt.duration
			ep.Telemetry.TargetMS = tt.target
			signals, _ := detectOne(t, ep, nil)
			sig := findType(signals, model.DriftTime)
			if tt.none {
				if sig != nil {
					t.Fatalf("expected no time drift, got %+v", sig)
				}
				return
			}
			if sig == nil {
				t.Fatalf("expected time drift, got none")
			}
			if sig.Severity != tt.want {
				t.Errorf("severity = %s, want %s", sig.Severity, tt.want)
			}
			if sig.RecommendedPatchType != model.PatchRouting {
				t.Errorf("patch type = %s, want %s", sig.RecommendedPatchType, model.PatchRouting)
			}
		})
	}
}

func TestTimeDriftMissingTarget(t *testing.T) {
	ep := baseEpisode("deploy")
	ep.Telemetry.DurationMS = 4000
	signals, notes := detectOne(t, ep, nil)
	if sig := findType(signals, model.DriftTime); sig != nil {
		t.Fatalf("expected no signal without target_ms, got %+v", sig)
	}
	if len(notes) == 0 {
		t.Fatal("expected a quality note for missing target_ms")
	}
}

func TestFreshnessDrift(t *testing.T) {
	ep := baseEpisode("deploy")
	ep.Telemetry.StartedAt = "2026-03-01T12:00:00.000Z"
	ep.Context.Inputs = []model.ContextInput{
		{Ref: "inventory", ObservedAt: "2026-03-01T11:59:30.000Z", TTLSeconds: 300}, // fresh
		{Ref: "pricing", ObservedAt: "2026-03-01T11:00:00.000Z", TTLSeconds: 1800}, // 2x past TTL
	}
	signals, _ := detectOne(t, ep, nil)
	sig := findType(signals, model.DriftFreshness)
	if sig == nil {
		t.Fatal("expected freshness drift")
	}
	if sig.Severity != model.SeverityRed {
		t.Errorf("severity = %s, want red", sig.Severity)
	}
	if sig.RecommendedPatchType != model.PatchTTL {
		t.Errorf("patch type = %s, want %s", sig.RecommendedPatchType, model.PatchTTL)
	}
	// Fingerprint is keyed by the worst input, not the episode.
	want := Fingerprint(model.DriftFreshness, "deploy", "pricing")
	if sig.Fingerprint != want {
		t.Errorf("fingerprint = %s, want %s", sig.Fingerprint, want)
	}
}

func TestFallbackDrift(t *testing.T) {
	ep := baseEpisode("route")
	ep.Telemetry.DegradeSteps = []string{"cache"}
	signals, _ := detectOne(t, ep, nil)
	sig := findType(signals, model.DriftFallback)
	if sig == nil || sig.Severity != model.SeverityYellow {
		t.Fatalf("one step should be yellow, got %+v", sig)
	}

	ep.Telemetry.DegradeSteps = []string{"cache", "static"}
	signals, _ = detectOne(t, ep, nil)
	sig = findType(signals, model.DriftFallback)
	if sig == nil || sig.Severity != model.SeverityRed {
		t.Fatalf("two steps should be red, got %+v", sig)
	}
}

func TestBypassDrift(t *testing.T) {
	ep := baseEpisode("deploy")
	ep.Verification = model.Verification{Required: true, Result: model.VerifySkipped}
	signals, _ := detectOne(t, ep, nil)
	sig := findType(signals, model.DriftBypass)
	if sig == nil || sig.Severity != model.SeverityYellow {
		t.Fatalf("skipped verification on low blast should be yellow, got %+v", sig)
	}

	ep.Actions[0].BlastRadius = model.BlastHigh
	signals, _ = detectOne(t, ep, nil)
	sig = findType(signals, model.DriftBypass)
	if sig == nil || sig.Severity != model.SeverityRed {
		t.Fatalf("skipped verification on high blast should be red, got %+v", sig)
	}
}

func TestSignalCarriesDimension(t *testing.T) {
	ep := baseEpisode("deploy")
	ep.Verification = model.Verification{Required: true, Result: model.VerifySkipped}
	signals, _ := detectOne(t, ep, nil)
	sig := findType(signals, model.DriftBypass)
	if sig == nil {
		t.Fatal("expected bypass drift")
	}
	if sig.Dimension != "verification" {
		t.Errorf("dimension = %q, want verification", sig.Dimension)
	}
	// The stored dimension is the one the fingerprint was keyed on.
	if want := Fingerprint(model.DriftBypass, "deploy", sig.Dimension); sig.Fingerprint != want {
		t.Errorf("fingerprint = %s, want %s", sig.Fingerprint, want)
	}
}

func TestVerifyDrift(t *testing.T) {
	ep := baseEpisode("deploy")
	ep.Verification = model.Verification{Required: true, Result: model.VerifyFail}
	signals, _ := detectOne(t, ep, nil)
	sig := findType(signals, model.DriftVerify)
	if sig == nil || sig.Severity != model.SeverityYellow {
		t.Fatalf("failed verification on low blast should be yellow, got %+v", sig)
	}

	// An advisory check failing is not drift.
	ep.Verification.Required = false
	signals, _ = detectOne(t, ep, nil)
	if sig := findType(signals, model.DriftVerify); sig != nil {
		t.Fatalf("non-required verification should not signal, got %+v", sig)
	}
}

func TestOutcomeDrift(t *testing.T) {
	prior := make([]model.Episode, 10)
	for i := range prior {
		prior[i] = baseEpisode("deploy")
	}

	ep := baseEpisode("deploy")
	ep.Outcome.Code = model.OutcomeFail

	// All-success baseline: a fail is red outcome drift.
	signals, _ := detectOne(t, ep, prior)
	sig := findType(signals, model.DriftOutcome)
	if sig == nil || sig.Severity != model.SeverityRed {
		t.Fatalf("fail against 100%% success baseline should be red, got %+v", sig)
	}

	// Baseline at the floor: no signal.
	for i := 0; i < 2; i++ {
		prior[i].Outcome.Code = model.OutcomeFail
	}
	signals, _ = detectOne(t, ep, prior)
	if sig := findType(signals, model.DriftOutcome); sig != nil {
		t.Fatalf("fail against 80%% baseline should not signal, got %+v", sig)
	}
}

func TestFanoutDrift(t *testing.T) {
	ep := baseEpisode("sync")
	ep.Telemetry.FanoutExpected = 2
	ep.Actions = []model.Action{
		{Type: "apply", IdempotencyKey: "k1", BlastRadius: model.BlastLow},
		{Type: "apply", IdempotencyKey: "k2", BlastRadius: model.BlastLow},
		{Type: "apply", IdempotencyKey: "k3", BlastRadius: model.BlastLow},
		{Type: "apply", IdempotencyKey: "k4", BlastRadius: model.BlastLow},
	}
	signals, _ := detectOne(t, ep, nil)
	sig := findType(signals, model.DriftFanout)
	if sig == nil || sig.Severity != model.SeverityRed {
		t.Fatalf("4 actions against expected 2 should be red, got %+v", sig)
	}
}

func TestContentionDrift(t *testing.T) {
	ep := baseEpisode("sync")
	ep.Telemetry.Retries = 4
	signals, _ := detectOne(t, ep, nil)
	sig := findType(signals, model.DriftContention)
	if sig == nil || sig.Severity != model.SeverityYellow {
		t.Fatalf("4 retries should be yellow, got %+v", sig)
	}

	ep.Telemetry.Retries = 6
	signals, _ = detectOne(t, ep, nil)
	sig = findType(signals, model.DriftContention)
	if sig == nil || sig.Severity != model.SeverityRed {
		t.Fatalf("6 retries should be red, got %+v", sig)
	}
}

func TestRecurrenceEscalation(t *testing.T) {
	d := NewDetector(&config.Default().Detect)
	base, _ := time.Parse(model.TimestampFormat, "2026-03-01T12:00:00.000Z")

	slow := func() model.Episode {
		ep := baseEpisode("deploy")
		ep.Telemetry.DurationMS = 1200
		ep.Telemetry.TargetMS = 1000
		return ep
	}

	// First occurrence: yellow, not recurring.
	sigs, _ := d.Detect(WindowView{Episode: slow(), Now: base})
	first := findType(sigs, model.DriftTime)
	if first == nil || first.Severity != model.SeverityYellow || first.Recurring {
		t.Fatalf("first occurrence should be yellow and not recurring, got %+v", first)
	}

	// Second: still yellow, flagged recurring.
	sigs, _ = d.Detect(WindowView{Episode: slow(), Now: base.Add(time.Hour)})
	second := findType(sigs, model.DriftTime)
	if second == nil || second.Severity != model.SeverityYellow || !second.Recurring {
		t.Fatalf("second occurrence should be yellow and recurring, got %+v", second)
	}
	if second.Fingerprint != first.Fingerprint {
		t.Fatalf("fingerprints should match: %s vs %s", first.Fingerprint, second.Fingerprint)
	}

	// Third inside the window: escalated to red.
	sigs, _ = d.Detect(WindowView{Episode: slow(), Now: base.Add(2 * time.Hour)})
	third := findType(sigs, model.DriftTime)
	if third == nil || third.Severity != model.SeverityRed || !third.Recurring {
		t.Fatalf("third occurrence should escalate to red, got %+v", third)
	}

	if got := d.RecurringCount(base.Add(2 * time.Hour)); got != 1 {
		t.Errorf("RecurringCount = %d, want 1", got)
	}
}

func TestRecurrenceWindowExpiry(t *testing.T) {
	d := NewDetector(&config.Default().Detect)
	base, _ := time.Parse(model.TimestampFormat, "2026-03-01T12:00:00.000Z")

	slow := baseEpisode("deploy")
	slow.Telemetry.DurationMS = 1200
	slow.Telemetry.TargetMS = 1000

	d.Detect(WindowView{Episode: slow, Now: base})
	d.Detect(WindowView{Episode: slow, Now: base.Add(time.Hour)})

	// 25h later both prior occurrences have aged out: back to first sight.
	sigs, _ := d.Detect(WindowView{Episode: slow, Now: base.Add(26 * time.Hour)})
	sig := findType(sigs, model.DriftTime)
	if sig == nil || sig.Severity != model.SeverityYellow || sig.Recurring {
		t.Fatalf("occurrence outside recurrence window should reset, got %+v", sig)
	}
}

func TestMultipleTypesFromOneEpisode(t *testing.T) {
	ep := baseEpisode("deploy")
	ep.Telemetry.DurationMS = 5000
	ep.Telemetry.TargetMS = 1000
	ep.Telemetry.Retries = 7
	ep.Verification = model.Verification{Required: true, Result: model.VerifySkipped}
	signals, _ := detectOne(t, ep, nil)
	if len(signals) != 3 {
		t.Fatalf("expected 3 signals (time, bypass, contention), got %d: %+v", len(signals), signals)
	}
}

func TestSummarize(t *testing.T) {
	d := NewDetector(&config.Default().Detect)
	base, _ := time.Parse(model.TimestampFormat, "2026-03-01T12:00:00.000Z")

	slow := baseEpisode("deploy")
	slow.Telemetry.DurationMS = 1200
	slow.Telemetry.TargetMS = 1000
	d.Detect(WindowView{Episode: slow, Now: base})
	d.Detect(WindowView{Episode: slow, Now: base.Add(time.Minute)})

	retry := baseEpisode("sync")
	retry.Telemetry.Retries = 8
	d.Detect(WindowView{Episode: retry, Now: base.Add(2 * time.Minute)})

	sum := d.Summarize()
	if sum.Total != 3 {
		t.Fatalf("total = %d, want 3", sum.Total)
	}
	if sum.ByType[model.DriftTime] != 2 || sum.ByType[model.DriftContention] != 1 {
		t.Errorf("by_type = %+v", sum.ByType)
	}
	if sum.BySeverity[model.SeverityRed] != 1 || sum.BySeverity[model.SeverityYellow] != 2 {
		t.Errorf("by_severity = %+v", sum.BySeverity)
	}
	if len(sum.TopPatterns) != 1 || sum.TopPatterns[0].Count != 2 {
		t.Errorf("top_patterns = %+v", sum.TopPatterns)
	}
}
