package episode

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ppiankov/driftwatch/internal/model"
)

// sealedFields are the top-level fields frozen by the seal. A patch whose
// corrections target any of these (or a dotted path under them) is rejected.
var sealedFields = map[string]bool{
	"episode_id":    true,
	"decision_type": true,
	"actor":         true,
	"context":       true,
	"actions":       true,
	"verification":  true,
	"outcome":       true,
	"policy_stamp":  true,
	"telemetry":     true,
	"seal":          true,
	"state":         true,
}

// Filter selects episodes for List. Archived episodes are excluded unless
// IncludeArchived is set.
type Filter struct {
	DecisionType    string
	IncludeArchived bool
	Cursor          string // episode ID of the last item from the previous page
	Limit           int    // 0 = no limit
}

// Store is the in-memory episode store: single writer per episode lineage,
// concurrent readers. Submission and patching are serialized per episode_id
// by a version check under the store lock, so two concurrent patches can
// never both chain from the same prior hash.
type Store struct {
	mu      sync.RWMutex
	byID    map[string]*model.Episode
	ordered []string // episode IDs in sealed_at order
}

// NewStore creates an empty episode store.
func NewStore() *Store {
	return &Store{byID: make(map[string]*model.Episode)}
}

// Submit validates the draft, seals it, and inserts it. Validation failures
// return a wrapped model.ErrValidation and persist nothing.
func (s *Store) Submit(draft model.EpisodeDraft) (*model.Episode, error) {
	if err := validateDraft(&draft); err != nil {
		return nil, err
	}

	ep := &model.Episode{
		EpisodeID:    draft.EpisodeID,
		DecisionType: draft.DecisionType,
		Actor:        draft.Actor,
		Context:      draft.Context,
		Actions:      draft.Actions,
		Verification: draft.Verification,
		Outcome:      draft.Outcome,
		PolicyStamp:  draft.PolicyStamp,
		Telemetry:    draft.Telemetry,
		State:        model.StateCreated,
	}
	if ep.EpisodeID == "" {
		ep.EpisodeID = model.NewEpisodeID()
	}

	hash, err := ContentHash(ep)
	if err != nil {
		return nil, err
	}
	ep.Seal = model.Seal{
		Hash:     hash,
		SealedAt: model.UTCNowISO(),
		Version:  1,
	}
	ep.State = model.StateSealed

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[ep.EpisodeID]; exists {
		return nil, fmt.Errorf("episode %s: %w", ep.EpisodeID, model.ErrDuplicate)
	}
	s.byID[ep.EpisodeID] = ep
	s.ordered = append(s.ordered, ep.EpisodeID)

	out := cloneEpisode(ep)
	return &out, nil
}

// Patch appends a correction to the episode's patch log. Corrections may not
// target sealed fields; the new seal value is reconstructed, not mutated.
// expectedVersion guards against concurrent patches forking the chain; pass 0
// to chain from whatever version is current.
func (s *Store) Patch(episodeID, reason, author string, corrections map[string]string, expectedVersion int) (*model.Episode, error) {
	if reason == "" {
		return nil, fmt.Errorf("patch reason is required: %w", model.ErrValidation)
	}
	if author == "" {
		return nil, fmt.Errorf("patch author is required: %w", model.ErrValidation)
	}
	for key := range corrections {
		root := key
		if i := strings.IndexByte(key, '.'); i >= 0 {
			root = key[:i]
		}
		if sealedFields[root] {
			return nil, fmt.Errorf("correction targets sealed field %q: %w", key, model.ErrImmutableField)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ep, ok := s.byID[episodeID]
	if !ok || ep.State == model.StateArchived {
		return nil, fmt.Errorf("episode %s: %w", episodeID, model.ErrNotFound)
	}
	if expectedVersion != 0 && ep.Seal.Version != expectedVersion {
		return nil, fmt.Errorf("episode %s version is %d, expected %d: %w",
			episodeID, ep.Seal.Version, expectedVersion, model.ErrValidation)
	}

	newHash, err := PatchHash(chainTip(ep.Seal), corrections)
	if err != nil {
		return nil, err
	}

	entry := model.PatchEntry{
		Reason:      reason,
		Author:      author,
		PatchedAt:   model.UTCNowISO(),
		Corrections: corrections,
		NewHash:     newHash,
	}

	// Rebuild the seal as a value: same content hash, appended log, bumped
	// version. The old seal is never written through.
	next := model.Seal{
		Hash:     ep.Seal.Hash,
		SealedAt: ep.Seal.SealedAt,
		Version:  ep.Seal.Version + 1,
		PatchLog: append(append([]model.PatchEntry{}, ep.Seal.PatchLog...), entry),
	}
	ep.Seal = next
	ep.State = model.StatePatched

	out := cloneEpisode(ep)
	return &out, nil
}

// Get returns a copy of the episode.
func (s *Store) Get(episodeID string) (*model.Episode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ep, ok := s.byID[episodeID]
	if !ok {
		return nil, fmt.Errorf("episode %s: %w", episodeID, model.ErrNotFound)
	}
	out := cloneEpisode(ep)
	return &out, nil
}

// List returns episodes matching the filter, ordered by sealed_at ascending
// (episode ID as tiebreaker). The cursor is the last returned episode ID;
// listing is restartable from it.
func (s *Store) List(f Filter) []model.Episode {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.ordered))
	for _, id := range s.ordered {
		ep := s.byID[id]
		if !f.IncludeArchived && ep.State == model.StateArchived {
			continue
		}
		if f.DecisionType != "" && ep.DecisionType != f.DecisionType {
			continue
		}
		ids = append(ids, id)
	}
	sort.SliceStable(ids, func(i, j int) bool {
		a, b := s.byID[ids[i]], s.byID[ids[j]]
		if a.Seal.SealedAt != b.Seal.SealedAt {
			return a.Seal.SealedAt < b.Seal.SealedAt
		}
		return a.EpisodeID < b.EpisodeID
	})

	start := 0
	if f.Cursor != "" {
		for i, id := range ids {
			if id == f.Cursor {
				start = i + 1
				break
			}
		}
	}

	out := make([]model.Episode, 0)
	for _, id := range ids[start:] {
		out = append(out, cloneEpisode(s.byID[id]))
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

// Window returns up to n most recent active episodes for a decision type,
// oldest first. Used by the drift detector as its trailing window; the copy
// is taken under the read lock, so evaluation sees a consistent snapshot.
func (s *Store) Window(decisionType string, n int) []model.Episode {
	all := s.List(Filter{DecisionType: decisionType})
	if n > 0 && len(all) > n {
		all = all[len(all)-n:]
	}
	return all
}

// Archive marks an episode as archived, excluding it from default scans.
// The record is retained; archival never deletes.
func (s *Store) Archive(episodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, ok := s.byID[episodeID]
	if !ok {
		return fmt.Errorf("episode %s: %w", episodeID, model.ErrNotFound)
	}
	ep.State = model.StateArchived
	return nil
}

// ArchiveOlderThan archives every active episode sealed before the cutoff
// timestamp and returns their IDs. Timestamps in the record format compare
// lexicographically.
func (s *Store) ArchiveOlderThan(cutoff string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var archived []string
	for _, id := range s.ordered {
		ep := s.byID[id]
		if ep.State == model.StateArchived || ep.Seal.SealedAt >= cutoff {
			continue
		}
		ep.State = model.StateArchived
		archived = append(archived, id)
	}
	return archived
}

// ActiveCount returns the number of non-archived episodes.
func (s *Store) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, ep := range s.byID {
		if ep.State != model.StateArchived {
			n++
		}
	}
	return n
}

// Verify recomputes the hash chain for every stored episode and returns the
// first integrity error found, or nil.
func (s *Store) Verify() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.ordered {
		if err := VerifyChain(s.byID[id]); err != nil {
			return fmt.Errorf("episode %s: %w", id, err)
		}
	}
	return nil
}

// Restore loads already-sealed episodes during warm-up from persistence.
// Chains are verified, not recomputed; a bad chain aborts the restore.
func (s *Store) Restore(eps []model.Episode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range eps {
		ep := eps[i]
		if err := VerifyChain(&ep); err != nil {
			return fmt.Errorf("episode %s: %w", ep.EpisodeID, err)
		}
		if _, exists := s.byID[ep.EpisodeID]; exists {
			return fmt.Errorf("episode %s: %w", ep.EpisodeID, model.ErrDuplicate)
		}
		stored := cloneEpisode(&ep)
		s.byID[ep.EpisodeID] = &stored
		s.ordered = append(s.ordered, ep.EpisodeID)
	}
	return nil
}

func validateDraft(d *model.EpisodeDraft) error {
	if d.DecisionType == "" {
		return fmt.Errorf("decision_type is required: %w", model.ErrValidation)
	}
	if d.Actor.ID == "" {
		return fmt.Errorf("actor.id is required: %w", model.ErrValidation)
	}
	if len(d.Actions) == 0 {
		return fmt.Errorf("at least one action is required: %w", model.ErrValidation)
	}
	for i, a := range d.Actions {
		if a.IdempotencyKey == "" {
			return fmt.Errorf("action %d: idempotency_key is required: %w", i, model.ErrValidation)
		}
		switch a.BlastRadius {
		case model.BlastLow, model.BlastMedium, model.BlastHigh:
		default:
			return fmt.Errorf("action %d: unknown blast_radius %q: %w", i, a.BlastRadius, model.ErrValidation)
		}
	}
	if !model.ValidOutcome(d.Outcome.Code) {
		return fmt.Errorf("unknown outcome code %q: %w", d.Outcome.Code, model.ErrValidation)
	}
	switch d.Verification.Result {
	case model.VerifyPass, model.VerifyFail, model.VerifySkipped, model.VerifyNotApplicable:
	default:
		return fmt.Errorf("unknown verification result %q: %w", d.Verification.Result, model.ErrValidation)
	}
	return nil
}

// cloneEpisode returns a deep copy so callers can never reach the stored value.
func cloneEpisode(ep *model.Episode) model.Episode {
	out := *ep
	out.Actions = append([]model.Action{}, ep.Actions...)
	out.Context.Inputs = append([]model.ContextInput{}, ep.Context.Inputs...)
	out.Telemetry.DegradeSteps = append([]string{}, ep.Telemetry.DegradeSteps...)
	out.Seal.PatchLog = append([]model.PatchEntry{}, ep.Seal.PatchLog...)
	if ep.PolicyStamp != nil {
		ps := *ep.PolicyStamp
		out.PolicyStamp = &ps
	}
	return out
}
