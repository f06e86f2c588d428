// Package episode owns the canonical decision record envelope: validation,
// seal and patch-log hash chaining, and the in-memory store. The seal chain
// follows the same construction as a hash-chained audit log: each patch's
// new_hash covers the previous hash, so tampering with any entry invalidates
// every subsequent hash.
package episode

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/ppiankov/driftwatch/internal/model"
)

// sealedContent is the canonical form hashed into Seal.Hash. Field order is
// fixed by the struct; never add map fields here.
type sealedContent struct {
	EpisodeID    string               `json:"episode_id"`
	DecisionType string               `json:"decision_type"`
	Actor        model.Actor          `json:"actor"`
	Context      model.EpisodeContext `json:"context"`
	Actions      []model.Action       `json:"actions"`
	Verification model.Verification   `json:"verification"`
	Outcome      model.Outcome        `json:"outcome"`
	PolicyStamp  *model.PolicyStamp   `json:"policy_stamp,omitempty"`
}

// HashBytes returns "sha256:<hex>" of the given bytes.
func HashBytes(b []byte) string {
	h := sha256.Sum256(b)
	return "sha256:" + hex.EncodeToString(h[:])
}

// ContentHash computes the canonical content digest for an episode.
func ContentHash(ep *model.Episode) (string, error) {
	c := sealedContent{
		EpisodeID:    ep.EpisodeID,
		DecisionType: ep.DecisionType,
		Actor:        ep.Actor,
		Context:      ep.Context,
		Actions:      ep.Actions,
		Verification: ep.Verification,
		Outcome:      ep.Outcome,
		PolicyStamp:  ep.PolicyStamp,
	}
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal sealed content: %w", err)
	}
	return HashBytes(b), nil
}

// PatchHash computes the chained hash for one patch entry:
// H(previous_hash || canonical_serialization(corrections)).
// json.Marshal sorts map keys, so the serialization is deterministic.
func PatchHash(prevHash string, corrections map[string]string) (string, error) {
	b, err := json.Marshal(corrections)
	if err != nil {
		return "", fmt.Errorf("marshal corrections: %w", err)
	}
	return HashBytes(append([]byte(prevHash), b...)), nil
}

// chainTip returns the hash the next patch must chain from: the last patch
// entry's hash, or the content hash when the log is empty.
func chainTip(seal model.Seal) string {
	if n := len(seal.PatchLog); n > 0 {
		return seal.PatchLog[n-1].NewHash
	}
	return seal.Hash
}

// VerifyChain recomputes the full hash chain for an episode: the content
// hash, then every patch entry in order. It returns a wrapped
// model.ErrChainIntegrity naming the first bad link.
func VerifyChain(ep *model.Episode) error {
	want, err := ContentHash(ep)
	if err != nil {
		return err
	}
	if ep.Seal.Hash != want {
		return fmt.Errorf("%w: content hash mismatch: stored %s, recomputed %s",
			model.ErrChainIntegrity, ep.Seal.Hash, want)
	}

	prev := ep.Seal.Hash
	for i, entry := range ep.Seal.PatchLog {
		want, err := PatchHash(prev, entry.Corrections)
		if err != nil {
			return err
		}
		if entry.NewHash != want {
			return fmt.Errorf("%w: patch %d hash mismatch: stored %s, recomputed %s",
				model.ErrChainIntegrity, i, entry.NewHash, want)
		}
		prev = entry.NewHash
	}
	return nil
}
