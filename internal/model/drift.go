package model

// DriftType classifies a detected deviation.
type DriftType string

const (
	DriftTime       DriftType = "time"
	DriftFreshness  DriftType = "freshness"
	DriftFallback   DriftType = "fallback"
	DriftBypass     DriftType = "bypass"
	DriftVerify     DriftType = "verify"
	DriftOutcome    DriftType = "outcome"
	DriftFanout     DriftType = "fanout"
	DriftContention DriftType = "contention"
)

// DriftTypes lists all drift types in classifier evaluation order.
var DriftTypes = []DriftType{
	DriftTime, DriftFreshness, DriftFallback, DriftBypass,
	DriftVerify, DriftOutcome, DriftFanout, DriftContention,
}

// Severity grades a drift signal.
type Severity string

const (
	SeverityGreen  Severity = "green"
	SeverityYellow Severity = "yellow"
	SeverityRed    Severity = "red"
)

// SeverityRank maps severity to a comparable integer, highest most severe.
var SeverityRank = map[Severity]int{
	SeverityGreen:  0,
	SeverityYellow: 1,
	SeverityRed:    2,
}

// DriftSignal is one detected deviation. Signals are never mutated or
// retracted after creation; resolution is a later Patch plus a resolved_by
// edge in the memory graph.
type DriftSignal struct {
	DriftID              string    `json:"drift_id"`
	DriftType            DriftType `json:"drift_type"`
	Severity             Severity  `json:"severity"`
	Fingerprint          string    `json:"fingerprint"`
	Dimension            string    `json:"dimension,omitempty"`
	SourceEpisodeID      string    `json:"source_episode_id"`
	DecisionType         string    `json:"decision_type"`
	RecommendedPatchType PatchType `json:"recommended_patch_type"`
	Detail               string    `json:"detail,omitempty"`
	Recurring            bool      `json:"recurring,omitempty"`
	DetectedAt           string    `json:"detected_at"`
}

// PatchType classifies what a corrective patch changes.
type PatchType string

const (
	PatchPolicy  PatchType = "policy_correction"
	PatchTTL     PatchType = "ttl_correction"
	PatchRouting PatchType = "routing_correction"
	PatchVerify  PatchType = "verification_correction"
	PatchManual  PatchType = "manual_correction"
)

// Patch is an immutable corrective action targeting one drift signal.
type Patch struct {
	PatchID       string    `json:"patch_id"`
	PatchType     PatchType `json:"patch_type"`
	TargetDriftID string    `json:"target_drift_id"`
	Description   string    `json:"description"`
	AppliedAt     string    `json:"applied_at"`
	AppliedBy     string    `json:"applied_by"`
}
