package episode

import (
	"errors"
	"strings"
	"testing"

	"github.com/ppiankov/driftwatch/internal/model"
)

func draft(id, decisionType string) model.EpisodeDraft {
	return model.EpisodeDraft{
		EpisodeID:    id,
		DecisionType: decisionType,
		Actor:        model.Actor{Type: "agent", ID: "agent-1"},
		Actions: []model.Action{
			{Type: "apply", IdempotencyKey: "k-" + id, BlastRadius: model.BlastLow},
		},
		Verification: model.Verification{Required: true, Result: model.VerifyPass},
		Outcome:      model.Outcome{Code: model.OutcomeSuccess},
		PolicyStamp:  &model.PolicyStamp{PolicyID: "pol-1", Version: "3"},
	}
}

func TestSubmitSeals(t *testing.T) {
	s := NewStore()
	ep, err := s.Submit(draft("ep-1", "deploy"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if ep.State != model.StateSealed {
		t.Errorf("state = %s, want sealed", ep.State)
	}
	if !strings.HasPrefix(ep.Seal.Hash, "sha256:") || ep.Seal.Version != 1 {
		t.Errorf("seal = %+v", ep.Seal)
	}
	if ep.Seal.SealedAt == "" {
		t.Error("sealed_at not set")
	}

	// Identical content yields an identical content hash.
	want, err := ContentHash(ep)
	if err != nil {
		t.Fatalf("ContentHash: %v", err)
	}
	if ep.Seal.Hash != want {
		t.Errorf("hash %s does not match recomputed %s", ep.Seal.Hash, want)
	}
}

func TestSubmitGeneratesID(t *testing.T) {
	s := NewStore()
	ep, err := s.Submit(draft("", "deploy"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !strings.HasPrefix(ep.EpisodeID, "ep-") {
		t.Errorf("generated id = %q", ep.EpisodeID)
	}
}

func TestSubmitDuplicate(t *testing.T) {
	s := NewStore()
	if _, err := s.Submit(draft("ep-1", "deploy")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	_, err := s.Submit(draft("ep-1", "deploy"))
	if !errors.Is(err, model.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestSubmitValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.EpisodeDraft)
	}{
		{"missing decision_type", func(d *model.EpisodeDraft) { d.DecisionType = "" }},
		{"missing actor id", func(d *model.EpisodeDraft) { d.Actor.ID = "" }},
		{"no actions", func(d *model.EpisodeDraft) { d.Actions = nil }},
		{"missing idempotency key", func(d *model.EpisodeDraft) { d.Actions[0].IdempotencyKey = "" }},
		{"bad blast radius", func(d *model.EpisodeDraft) { d.Actions[0].BlastRadius = "huge" }},
		{"bad outcome", func(d *model.EpisodeDraft) { d.Outcome.Code = "exploded" }},
		{"bad verification result", func(d *model.EpisodeDraft) { d.Verification.Result = "maybe" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore()
			d := draft("ep-1", "deploy")
			tt.mutate(&d)
			if _, err := s.Submit(d); !errors.Is(err, model.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
			if s.ActiveCount() != 0 {
				t.Error("rejected draft was stored")
			}
		})
	}
}

func TestPatchChains(t *testing.T) {
	s := NewStore()
	ep, err := s.Submit(draft("ep-1", "deploy"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	p1, err := s.Patch("ep-1", "wrong note", "operator",
		map[string]string{"notes.observed_at": "2026-03-01T11:58:00.000Z"}, 1)
	if err != nil {
		t.Fatalf("Patch: %v", err)
	}
	if p1.Seal.Version != 2 || len(p1.Seal.PatchLog) != 1 {
		t.Fatalf("seal after patch = %+v", p1.Seal)
	}
	if p1.Seal.Hash != ep.Seal.Hash {
		t.Error("content hash changed by patch")
	}
	if p1.State != model.StatePatched {
		t.Errorf("state = %s, want patched", p1.State)
	}

	// The first entry chains from the content hash.
	want, _ := PatchHash(ep.Seal.Hash, map[string]string{"notes.observed_at": "2026-03-01T11:58:00.000Z"})
	if p1.Seal.PatchLog[0].NewHash != want {
		t.Errorf("patch hash = %s, want %s", p1.Seal.PatchLog[0].NewHash, want)
	}

	// A second patch chains from the first.
	p2, err := s.Patch("ep-1", "another note", "operator",
		map[string]string{"notes.region": "eu-west-1"}, 2)
	if err != nil {
		t.Fatalf("second Patch: %v", err)
	}
	want2, _ := PatchHash(p1.Seal.PatchLog[0].NewHash, map[string]string{"notes.region": "eu-west-1"})
	if p2.Seal.PatchLog[1].NewHash != want2 {
		t.Errorf("second patch hash = %s, want %s", p2.Seal.PatchLog[1].NewHash, want2)
	}

	if err := s.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestPatchRejectsSealedFields(t *testing.T) {
	s := NewStore()
	if _, err := s.Submit(draft("ep-1", "deploy")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	for _, key := range []string{"outcome.code", "actions", "seal.hash", "decision_type"} {
		_, err := s.Patch("ep-1", "r", "a", map[string]string{key: "x"}, 0)
		if !errors.Is(err, model.ErrImmutableField) {
			t.Errorf("correction %q: expected ErrImmutableField, got %v", key, err)
		}
	}
	ep, _ := s.Get("ep-1")
	if ep.Seal.Version != 1 || len(ep.Seal.PatchLog) != 0 {
		t.Errorf("rejected patch mutated state: %+v", ep.Seal)
	}
}

func TestPatchVersionConflict(t *testing.T) {
	s := NewStore()
	if _, err := s.Submit(draft("ep-1", "deploy")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := s.Patch("ep-1", "r", "a", map[string]string{"notes.x": "1"}, 1); err != nil {
		t.Fatalf("Patch: %v", err)
	}
	// A second writer holding the stale version loses.
	_, err := s.Patch("ep-1", "r", "a", map[string]string{"notes.y": "2"}, 1)
	if !errors.Is(err, model.ErrValidation) {
		t.Fatalf("expected version conflict, got %v", err)
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	s := NewStore()
	ep, err := s.Submit(draft("ep-1", "deploy"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := s.Patch("ep-1", "r", "a", map[string]string{"notes.x": "1"}, 0); err != nil {
		t.Fatalf("Patch: %v", err)
	}

	// Reach in and rewrite the stored outcome. Verify must notice.
	s.mu.Lock()
	s.byID["ep-1"].Outcome.Code = model.OutcomeFail
	s.mu.Unlock()
	if err := s.Verify(); !errors.Is(err, model.ErrChainIntegrity) {
		t.Fatalf("expected ErrChainIntegrity, got %v", err)
	}

	// Restore refuses a tampered chain outright.
	bad := *ep
	bad.EpisodeID = "ep-2"
	if err := NewStore().Restore([]model.Episode{bad}); !errors.Is(err, model.ErrChainIntegrity) {
		t.Fatalf("expected ErrChainIntegrity on restore, got %v", err)
	}
}

func TestListOrderAndCursor(t *testing.T) {
	s := NewStore()
	for _, id := range []string{"ep-1", "ep-2", "ep-3", "ep-4"} {
		if _, err := s.Submit(draft(id, "deploy")); err != nil {
			t.Fatalf("Submit %s: %v", id, err)
		}
	}
	if _, err := s.Submit(draft("ep-5", "rollback")); err != nil {
		t.Fatalf("Submit ep-5: %v", err)
	}

	page := s.List(Filter{DecisionType: "deploy", Limit: 2})
	if len(page) != 2 || page[0].EpisodeID != "ep-1" || page[1].EpisodeID != "ep-2" {
		t.Fatalf("first page = %+v", page)
	}
	page = s.List(Filter{DecisionType: "deploy", Cursor: page[1].EpisodeID, Limit: 2})
	if len(page) != 2 || page[0].EpisodeID != "ep-3" || page[1].EpisodeID != "ep-4" {
		t.Fatalf("second page = %+v", page)
	}
}

func TestArchiveExcludesFromScans(t *testing.T) {
	s := NewStore()
	for _, id := range []string{"ep-1", "ep-2"} {
		if _, err := s.Submit(draft(id, "deploy")); err != nil {
			t.Fatalf("Submit %s: %v", id, err)
		}
	}
	if err := s.Archive("ep-1"); err != nil {
		t.Fatalf("Archive: %v", err)
	}

	if got := len(s.List(Filter{})); got != 1 {
		t.Errorf("default scan sees %d episodes, want 1", got)
	}
	if got := len(s.List(Filter{IncludeArchived: true})); got != 2 {
		t.Errorf("archived scan sees %d episodes, want 2", got)
	}
	// The record itself is retained.
	if _, err := s.Get("ep-1"); err != nil {
		t.Errorf("archived episode gone: %v", err)
	}
	if err := s.Archive("ep-9"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestArchiveOlderThan(t *testing.T) {
	s := NewStore()
	old, err := s.Submit(draft("ep-old", "deploy"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := s.Submit(draft("ep-new", "deploy")); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// SealedAt is not covered by the content hash, so a restored episode
	// with a rewritten timestamp still verifies.
	old.Seal.SealedAt = "2020-01-01T00:00:00.000Z"
	aged := NewStore()
	if err := aged.Restore([]model.Episode{*old}); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if _, err := aged.Submit(draft("ep-new", "deploy")); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	archived := aged.ArchiveOlderThan("2021-01-01T00:00:00.000Z")
	if len(archived) != 1 || archived[0] != "ep-old" {
		t.Fatalf("archived = %v, want [ep-old]", archived)
	}
	if got := aged.ActiveCount(); got != 1 {
		t.Errorf("active count = %d, want 1", got)
	}
	for _, ep := range aged.List(Filter{}) {
		if ep.EpisodeID == "ep-old" {
			t.Error("archived episode still listed")
		}
	}

	// A second sweep with the same cutoff is a no-op.
	if again := aged.ArchiveOlderThan("2021-01-01T00:00:00.000Z"); len(again) != 0 {
		t.Errorf("second sweep archived %v", again)
	}
}

func TestWindowTrailing(t *testing.T) {
	s := NewStore()
	for _, id := range []string{"ep-1", "ep-2", "ep-3"} {
		if _, err := s.Submit(draft(id, "deploy")); err != nil {
			t.Fatalf("Submit %s: %v", id, err)
		}
	}
	w := s.Window("deploy", 2)
	if len(w) != 2 || w[0].EpisodeID != "ep-2" || w[1].EpisodeID != "ep-3" {
		t.Fatalf("window = %+v", w)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	s := NewStore()
	if _, err := s.Submit(draft("ep-1", "deploy")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	ep, _ := s.Get("ep-1")
	ep.Actions[0].Type = "mutated"
	again, _ := s.Get("ep-1")
	if again.Actions[0].Type != "apply" {
		t.Error("caller mutation reached the store")
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	s := NewStore()
	if _, err := s.Submit(draft("ep-1", "deploy")); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := s.Patch("ep-1", "r", "a", map[string]string{"notes.x": "1"}, 0); err != nil {
		t.Fatalf("Patch: %v", err)
	}

	fresh := NewStore()
	if err := fresh.Restore(s.List(Filter{IncludeArchived: true})); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	ep, err := fresh.Get("ep-1")
	if err != nil {
		t.Fatalf("Get after restore: %v", err)
	}
	if ep.Seal.Version != 2 || len(ep.Seal.PatchLog) != 1 {
		t.Errorf("restored seal = %+v", ep.Seal)
	}
	if err := fresh.Verify(); err != nil {
		t.Errorf("Verify after restore: %v", err)
	}
}
