package engine

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/driftwatch/internal/config"
	"github.com/ppiankov/driftwatch/internal/graph"
	"github.com/ppiankov/driftwatch/internal/ingest"
	"github.com/ppiankov/driftwatch/internal/iris"
	"github.com/ppiankov/driftwatch/internal/journal"
	"github.com/ppiankov/driftwatch/internal/model"
)

func healthyDraft(key string, outcome model.OutcomeCode, verification model.Verification) model.EpisodeDraft {
	return model.EpisodeDraft{
		DecisionType: "deploy",
		Actor:        model.Actor{Type: "agent", ID: "agent-1"},
		Actions: []model.Action{
			{Type: "apply", IdempotencyKey: key, BlastRadius: model.BlastLow},
		},
		Verification: verification,
		Outcome:      model.Outcome{Code: outcome},
		PolicyStamp:  &model.PolicyStamp{PolicyID: "pol-1", Version: "3"},
	}
}

func submitHealthyBatch(t *testing.T, e *Engine) *SubmitResult {
	t.Helper()
	var last *SubmitResult
	drafts := []model.EpisodeDraft{
		healthyDraft("k1", model.OutcomeSuccess, model.Verification{Required: true, Result: model.VerifyPass}),
		healthyDraft("k2", model.OutcomeSuccess, model.Verification{Required: true, Result: model.VerifyPass}),
		healthyDraft("k3", model.OutcomePartial, model.Verification{Required: false, Result: model.VerifyFail}),
	}
	for _, d := range drafts {
		res, err := e.Submit(d, nil, nil)
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		if len(res.Signals) != 0 {
			t.Fatalf("healthy episode produced drift: %+v", res.Signals)
		}
		last = res
	}
	return last
}

func TestHealthyBatchScores(t *testing.T) {
	e, err := New(config.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	res := submitHealthyBatch(t, e)
	rep := res.Report
	if rep.Overall != 90.00 || rep.Grade != "A" {
		t.Fatalf("overall = %.2f (%s), want 90.00 (A)", rep.Overall, rep.Grade)
	}
	if rep.PolicyAdherence.Score != 100 || rep.OutcomeHealth.Score != 66.67 ||
		rep.DriftControl.Score != 100 || rep.MemoryCompleteness.Score != 100 {
		t.Errorf("dimensions = %+v", rep)
	}
}

func TestBypassCycleDropsAndRecovers(t *testing.T) {
	e, err := New(config.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()
	submitHealthyBatch(t, e)

	before := e.Graph().Snapshot(model.UTCNowISO())

	bypass := healthyDraft("k4", model.OutcomeSuccess, model.Verification{Required: true, Result: model.VerifySkipped})
	bypass.Actions[0].BlastRadius = model.BlastHigh
	res, err := e.Submit(bypass, nil, nil)
	if err != nil {
		t.Fatalf("Submit bypass: %v", err)
	}
	if len(res.Signals) != 1 || res.Signals[0].DriftType != model.DriftBypass || res.Signals[0].Severity != model.SeverityRed {
		t.Fatalf("expected one red bypass signal, got %+v", res.Signals)
	}
	if res.Report.DriftControl.Score != 83.00 {
		t.Errorf("drift_control = %.2f, want 83.00", res.Report.DriftControl.Score)
	}
	if res.Report.Grade != "B" {
		t.Errorf("grade = %s, want B", res.Report.Grade)
	}

	rep, err := e.ResolveDrift(model.Patch{
		PatchType:     model.PatchVerify,
		TargetDriftID: res.Signals[0].DriftID,
		Description:   "re-enable verification for deploy",
		AppliedBy:     "operator",
	})
	if err != nil {
		t.Fatalf("ResolveDrift: %v", err)
	}
	if rep.DriftControl.Score != 100 {
		t.Errorf("drift_control after resolve = %.2f, want 100", rep.DriftControl.Score)
	}
	if rep.Overall <= res.Report.Overall || rep.Grade != "A" {
		t.Errorf("resolve did not recover the score: %.2f (%s)", rep.Overall, rep.Grade)
	}

	// The whole cycle added one episode node, one drift node, one patch
	// node, the triggered edge, and the resolved_by edge. Nothing else.
	d := graph.DiffSnapshots(before, e.Graph().Snapshot(model.UTCNowISO()))
	kinds := map[graph.NodeKind]int{}
	for _, n := range d.AddedNodes {
		kinds[n.Kind]++
	}
	if kinds[graph.NodeDrift] != 1 || kinds[graph.NodePatch] != 1 || kinds[graph.NodeEpisode] != 1 {
		t.Errorf("added nodes = %+v", d.AddedNodes)
	}
	edgeKinds := map[graph.EdgeKind]int{}
	for _, edge := range d.AddedEdges {
		edgeKinds[edge.Kind]++
	}
	if edgeKinds[graph.EdgeResolvedBy] != 1 || edgeKinds[graph.EdgeTriggered] != 1 || len(d.AddedEdges) != 2 {
		t.Errorf("added edges = %+v", d.AddedEdges)
	}
}

func TestPatchEpisodeJournalsAndPersists(t *testing.T) {
	cfg := config.Default()
	dir := t.TempDir()
	cfg.DBPath = filepath.Join(dir, "driftwatch.db")
	cfg.JournalPath = filepath.Join(dir, "ops.jsonl")

	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res := submitHealthyBatch(t, e)

	ep, err := e.PatchEpisode(res.Episode.EpisodeID, "observed_at was wrong", "operator",
		map[string]string{"notes.observed_at": "2026-03-01T11:58:00.000Z"}, 1)
	if err != nil {
		t.Fatalf("PatchEpisode: %v", err)
	}
	if ep.Seal.Version != 2 || len(ep.Seal.PatchLog) != 1 {
		t.Fatalf("seal = %+v", ep.Seal)
	}
	if err := e.VerifyChains(); err != nil {
		t.Fatalf("VerifyChains: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if v := journal.Verify(cfg.JournalPath); !v.Valid {
		t.Fatalf("journal chain invalid: %+v", v)
	}

	// A fresh engine warms up from the database.
	e2, err := New(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer e2.Close()
	if got := e2.Store().ActiveCount(); got != 3 {
		t.Fatalf("active count after warm-up = %d, want 3", got)
	}
	restored, err := e2.Store().Get(ep.EpisodeID)
	if err != nil {
		t.Fatalf("Get after warm-up: %v", err)
	}
	if restored.Seal.Version != 2 || len(restored.Seal.PatchLog) != 1 {
		t.Errorf("patch log lost in warm-up: %+v", restored.Seal)
	}
	if e2.Latest() == nil {
		t.Error("latest report not restored")
	}
}

func TestPatchImmutableFieldRejected(t *testing.T) {
	e, err := New(config.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()
	res := submitHealthyBatch(t, e)

	_, err = e.PatchEpisode(res.Episode.EpisodeID, "rewrite outcome", "operator",
		map[string]string{"outcome.code": "success"}, 0)
	if !errors.Is(err, model.ErrImmutableField) {
		t.Fatalf("expected ErrImmutableField, got %v", err)
	}
	// Failed patch left nothing behind.
	ep, _ := e.Store().Get(res.Episode.EpisodeID)
	if ep.Seal.Version != 1 || len(ep.Seal.PatchLog) != 0 {
		t.Errorf("failed patch mutated state: %+v", ep.Seal)
	}
}

func TestArchiveShrinksActiveWindow(t *testing.T) {
	e, err := New(config.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()
	res := submitHealthyBatch(t, e)

	if err := e.Archive(res.Episode.EpisodeID); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if got := e.Store().ActiveCount(); got != 2 {
		t.Errorf("active count = %d, want 2", got)
	}
	// Patching an archived episode is rejected.
	_, err = e.PatchEpisode(res.Episode.EpisodeID, "r", "a", map[string]string{"notes.x": "y"}, 0)
	if !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound for archived episode, got %v", err)
	}
}

func linkedEnvelope(id string, links []ingest.Link) *ingest.Envelope {
	return &ingest.Envelope{
		RecordID:   id,
		RecordType: "decision",
		CreatedAt:  "2026-03-01T12:00:00.000Z",
		Source: ingest.Source{
			System: "orchestrator",
			Actor:  model.Actor{Type: "agent", ID: "agent-1"},
		},
		Links: links,
		Content: ingest.Content{
			DecisionType: "deploy",
			Actions: []model.Action{
				{Type: "apply", IdempotencyKey: "k-" + id, BlastRadius: model.BlastLow},
			},
			Verification: model.Verification{Required: true, Result: model.VerifyPass},
			Outcome:      model.Outcome{Code: model.OutcomeSuccess},
			PolicyStamp:  &model.PolicyStamp{PolicyID: "pol-1", Version: "3"},
		},
	}
}

func TestIngestLinksRelatedRecords(t *testing.T) {
	e, err := New(config.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	if _, err := e.Ingest(linkedEnvelope("rec-1", nil)); err != nil {
		t.Fatalf("Ingest rec-1: %v", err)
	}
	res, err := e.Ingest(linkedEnvelope("rec-2", []ingest.Link{
		{Rel: "caused_by", RecordID: "rec-1"},
		{Rel: "verified_by", RecordID: "rec-ghost"},
	}))
	if err != nil {
		t.Fatalf("Ingest rec-2: %v", err)
	}

	out := e.Graph().Out("rec-2")
	if len(out) != 1 || out[0].Kind != graph.EdgeCausedBy || out[0].To != "rec-1" {
		t.Fatalf("expected caused_by edge rec-2 -> rec-1, got %+v", out)
	}
	// The link to an unknown record is a warning, not an edge or an error.
	found := false
	for _, w := range res.Warnings {
		if strings.Contains(w, "rec-ghost") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a warning for rec-ghost, got %v", res.Warnings)
	}
}

func TestRetentionSweepArchivesOldEpisodes(t *testing.T) {
	cfg := config.Default()
	cfg.RetentionWindow = config.Duration(time.Millisecond)
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	first, err := e.Submit(healthyDraft("k1", model.OutcomeSuccess,
		model.Verification{Required: true, Result: model.VerifyPass}), nil, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// The next write sweeps everything sealed before the retention window.
	time.Sleep(50 * time.Millisecond)
	if _, err := e.Submit(healthyDraft("k2", model.OutcomeSuccess,
		model.Verification{Required: true, Result: model.VerifyPass}), nil, nil); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if got := e.Store().ActiveCount(); got != 1 {
		t.Fatalf("active count = %d, want 1", got)
	}
	swept, err := e.Store().Get(first.Episode.EpisodeID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if swept.State != model.StateArchived {
		t.Errorf("state = %s, want %s", swept.State, model.StateArchived)
	}
}

func TestReloadSwapsThresholds(t *testing.T) {
	e, err := New(config.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()

	next := config.Default()
	next.Detect.Contention.Soft = 1
	next.Detect.Contention.Hard = 2
	if err := e.Reload(next); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	d := healthyDraft("k9", model.OutcomeSuccess, model.Verification{Required: true, Result: model.VerifyPass})
	d.Telemetry.Retries = 2
	res, err := e.Submit(d, nil, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	found := false
	for _, sig := range res.Signals {
		if sig.DriftType == model.DriftContention && sig.Severity == model.SeverityRed {
			found = true
		}
	}
	if !found {
		t.Errorf("reloaded thresholds not applied: %+v", res.Signals)
	}

	bad := config.Default()
	bad.Weights.PolicyAdherence = 0.9
	if err := e.Reload(bad); err == nil {
		t.Error("invalid config accepted on reload")
	}
}

func TestResolverAnswersOverEngineState(t *testing.T) {
	e, err := New(config.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Close()
	res := submitHealthyBatch(t, e)

	resp, err := e.Resolver().Resolve(iris.Query{Type: iris.QueryWhy, TargetID: res.Episode.EpisodeID})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resp.Status != iris.StatusResolved || resp.Why.Episode == nil {
		t.Errorf("resolver response = %+v", resp)
	}

	status, err := e.Resolver().Resolve(iris.Query{Type: iris.QueryStatus})
	if err != nil {
		t.Fatalf("STATUS: %v", err)
	}
	if status.Health.Report == nil || status.Health.Report.Overall != 90.00 {
		t.Errorf("status report = %+v", status.Health.Report)
	}
}
