// Package model defines the core record types shared across the episode
// store, drift detector, scorer, graph, and resolver. All hashed types are
// structs (no map[string]any) to guarantee deterministic json.Marshal field
// order for reproducible hashing.
package model

// TimestampFormat is the layout used for all record timestamps.
const TimestampFormat = "2006-01-02T15:04:05.000Z"

// OutcomeCode classifies how a decision ended.
type OutcomeCode string

const (
	OutcomeSuccess  OutcomeCode = "success"
	OutcomePartial  OutcomeCode = "partial"
	OutcomeFail     OutcomeCode = "fail"
	OutcomeAbstain  OutcomeCode = "abstain"
	OutcomeBypassed OutcomeCode = "bypassed"
)

// ValidOutcome reports whether s is a member of the closed outcome enum.
func ValidOutcome(s OutcomeCode) bool {
	switch s {
	case OutcomeSuccess, OutcomePartial, OutcomeFail, OutcomeAbstain, OutcomeBypassed:
		return true
	default:
		return false
	}
}

// VerificationResult is the outcome of the verification step, if any.
type VerificationResult string

const (
	VerifyPass          VerificationResult = "pass"
	VerifyFail          VerificationResult = "fail"
	VerifySkipped       VerificationResult = "skipped"
	VerifyNotApplicable VerificationResult = "not_applicable"
)

// BlastRadius rates how far an action's effects reach.
type BlastRadius string

const (
	BlastLow    BlastRadius = "low"
	BlastMedium BlastRadius = "medium"
	BlastHigh   BlastRadius = "high"
)

// BlastRank maps blast radius to a comparable integer.
var BlastRank = map[BlastRadius]int{
	BlastLow:    0,
	BlastMedium: 1,
	BlastHigh:   2,
}

// LifecycleState tracks an episode through seal and archival.
type LifecycleState string

const (
	StateCreated  LifecycleState = "created"
	StateSealed   LifecycleState = "sealed"
	StatePatched  LifecycleState = "patched"
	StateArchived LifecycleState = "archived"
)

// Actor identifies who or what made the decision.
type Actor struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// ContextInput is one input the decision considered, with freshness metadata.
type ContextInput struct {
	Ref        string `json:"ref"`
	ObservedAt string `json:"observed_at,omitempty"`
	TTLSeconds int    `json:"ttl_seconds,omitempty"`
}

// EpisodeContext captures the inputs a decision was based on.
type EpisodeContext struct {
	Inputs        []ContextInput `json:"inputs,omitempty"`
	Confidence    float64        `json:"confidence,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

// Action is one executed step of the decision.
type Action struct {
	Type           string      `json:"type"`
	IdempotencyKey string      `json:"idempotency_key"`
	BlastRadius    BlastRadius `json:"blast_radius"`
	Reversible     bool        `json:"reversible"`
	TargetRefs     []string    `json:"target_refs,omitempty"`
}

// Verification records whether the decision was checked and how that went.
type Verification struct {
	Required bool               `json:"required"`
	Result   VerificationResult `json:"result"`
}

// Outcome is the terminal result of the decision.
type Outcome struct {
	Code   OutcomeCode `json:"code"`
	Detail string      `json:"detail,omitempty"`
}

// PolicyStamp references the policy version that governed the decision.
type PolicyStamp struct {
	PolicyID string `json:"policy_id"`
	Version  string `json:"version,omitempty"`
	Hash     string `json:"hash,omitempty"`
}

// Telemetry holds timing and degradation metadata used by drift rules.
type Telemetry struct {
	StartedAt      string   `json:"started_at,omitempty"`
	EndedAt        string   `json:"ended_at,omitempty"`
	DurationMS     int64    `json:"duration_ms,omitempty"`
	TargetMS       int64    `json:"target_ms,omitempty"`
	DegradeSteps   []string `json:"degrade_steps,omitempty"`
	Retries        int      `json:"retries,omitempty"`
	FanoutExpected int      `json:"fanout_expected,omitempty"`
}

// PatchEntry is one append-only correction in the seal's patch log.
// NewHash incorporates the previous hash, forming a chain: tampering with
// any entry invalidates every subsequent hash.
type PatchEntry struct {
	Reason      string            `json:"reason"`
	Author      string            `json:"author"`
	PatchedAt   string            `json:"patched_at"`
	Corrections map[string]string `json:"corrections"`
	NewHash     string            `json:"new_hash"`
}

// Seal is the integrity wrapper around an episode's content. It is
// reconstructed as a value on each patch, never mutated in place.
type Seal struct {
	Hash     string       `json:"hash"`
	SealedAt string       `json:"sealed_at"`
	Version  int          `json:"version"`
	PatchLog []PatchEntry `json:"patch_log,omitempty"`
}

// Episode is one sealed decision record. Once Seal.Hash is set, Context,
// Actions, Outcome, and PolicyStamp are immutable; only the patch log grows.
type Episode struct {
	EpisodeID    string         `json:"episode_id"`
	DecisionType string         `json:"decision_type"`
	Actor        Actor          `json:"actor"`
	Context      EpisodeContext `json:"context"`
	Actions      []Action       `json:"actions"`
	Verification Verification   `json:"verification"`
	Outcome      Outcome        `json:"outcome"`
	PolicyStamp  *PolicyStamp   `json:"policy_stamp,omitempty"`
	Telemetry    Telemetry      `json:"telemetry"`
	State        LifecycleState `json:"state"`
	Seal         Seal           `json:"seal"`
}

// EpisodeDraft is the unsealed input to EpisodeStore.Submit.
type EpisodeDraft struct {
	EpisodeID    string         `json:"episode_id,omitempty"`
	DecisionType string         `json:"decision_type"`
	Actor        Actor          `json:"actor"`
	Context      EpisodeContext `json:"context"`
	Actions      []Action       `json:"actions"`
	Verification Verification   `json:"verification"`
	Outcome      Outcome        `json:"outcome"`
	PolicyStamp  *PolicyStamp   `json:"policy_stamp,omitempty"`
	Telemetry    Telemetry      `json:"telemetry"`
}
