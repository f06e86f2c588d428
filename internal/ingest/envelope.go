// Package ingest validates the canonical record envelope submitted by
// external connectors and converts it to an episode draft. The envelope is
// the one boundary where foreign data enters the core: schema failures,
// duplicates, and quality-rule failures each map to their own error kind so
// transports can answer 400, 409, and 422 precisely.
package ingest

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ppiankov/driftwatch/internal/model"
)

// EnvelopeVersion is the current record envelope schema version.
const EnvelopeVersion = "1.0"

// Error kinds for the ingestion boundary. model.ErrDuplicate covers 409.
var (
	// ErrSchema means a required field is missing or malformed.
	ErrSchema = errors.New("envelope schema violation")
	// ErrQuality means the envelope parses but fails a semantic rule.
	ErrQuality = errors.New("envelope quality violation")
)

// Source identifies the producing system and actor.
type Source struct {
	System string      `json:"system"`
	Actor  model.Actor `json:"actor"`
}

// Provenance is one upstream reference the record was derived from.
type Provenance struct {
	Ref        string `json:"ref"`
	ObservedAt string `json:"observed_at,omitempty"`
	TTLSeconds int    `json:"ttl_seconds,omitempty"`
}

// Confidence wraps the producer's self-assessed confidence score.
type Confidence struct {
	Score float64 `json:"score"`
}

// Link relates this record to another one, e.g. a derived_from ancestor.
type Link struct {
	Rel      string `json:"rel"`
	RecordID string `json:"record_id"`
}

// Content is the decision payload inside the envelope.
type Content struct {
	DecisionType string             `json:"decision_type"`
	Actions      []model.Action     `json:"actions"`
	Verification model.Verification `json:"verification"`
	Outcome      model.Outcome      `json:"outcome"`
	PolicyStamp  *model.PolicyStamp `json:"policy_stamp,omitempty"`
	Telemetry    model.Telemetry    `json:"telemetry"`
}

// Envelope is the canonical record envelope.
type Envelope struct {
	Version    string            `json:"envelope_version,omitempty"`
	RecordID   string            `json:"record_id"`
	RecordType string            `json:"record_type"`
	CreatedAt  string            `json:"created_at"`
	ObservedAt string            `json:"observed_at,omitempty"`
	Source     Source            `json:"source"`
	Provenance []Provenance      `json:"provenance,omitempty"`
	Confidence *Confidence       `json:"confidence,omitempty"`
	TTLSeconds int               `json:"ttl,omitempty"`
	Labels     map[string]string `json:"labels,omitempty"`
	Links      []Link            `json:"links,omitempty"`
	Content    Content           `json:"content"`
	Seal       string            `json:"seal,omitempty"`
}

// Result is a validated envelope converted for the write path. Warnings are
// quality notes that did not block ingestion; the caller logs them.
type Result struct {
	Draft       model.EpisodeDraft
	DerivedFrom []string
	Related     []Link // caused_by, part_of, verified_by links
	Warnings    []string
}

// Convert validates the envelope and produces the episode draft. Rejects are
// errors (schema first, then quality); warns accumulate on the result.
func Convert(env *Envelope) (*Result, error) {
	if err := checkSchema(env); err != nil {
		return nil, err
	}
	res := &Result{}
	if err := checkQuality(env, res); err != nil {
		return nil, err
	}

	inputs := make([]model.ContextInput, 0, len(env.Provenance))
	for _, p := range env.Provenance {
		ttl := p.TTLSeconds
		if ttl == 0 {
			ttl = env.TTLSeconds
		}
		inputs = append(inputs, model.ContextInput{
			Ref:        p.Ref,
			ObservedAt: p.ObservedAt,
			TTLSeconds: ttl,
		})
	}

	confidence := 0.0
	if env.Confidence != nil {
		confidence = env.Confidence.Score
	}

	res.Draft = model.EpisodeDraft{
		EpisodeID:    env.RecordID,
		DecisionType: env.Content.DecisionType,
		Actor:        env.Source.Actor,
		Context: model.EpisodeContext{
			Inputs:        inputs,
			Confidence:    confidence,
			CorrelationID: env.Labels["correlation_id"],
		},
		Actions:      env.Content.Actions,
		Verification: env.Content.Verification,
		Outcome:      env.Content.Outcome,
		PolicyStamp:  env.Content.PolicyStamp,
		Telemetry:    env.Content.Telemetry,
	}

	for _, l := range env.Links {
		if l.RecordID == "" {
			continue
		}
		switch l.Rel {
		case "derived_from":
			res.DerivedFrom = append(res.DerivedFrom, l.RecordID)
		case "caused_by", "part_of", "verified_by":
			res.Related = append(res.Related, l)
		default:
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("link rel %q is not recognized, skipped", l.Rel))
		}
	}
	return res, nil
}

// checkSchema enforces required fields and well-formed values.
func checkSchema(env *Envelope) error {
	if env.Version != "" && env.Version != EnvelopeVersion {
		return fmt.Errorf("unsupported envelope_version %q: %w", env.Version, ErrSchema)
	}
	if env.RecordID == "" {
		return fmt.Errorf("record_id is required: %w", ErrSchema)
	}
	if env.RecordType == "" {
		return fmt.Errorf("record_type is required: %w", ErrSchema)
	}
	if env.CreatedAt == "" {
		return fmt.Errorf("created_at is required: %w", ErrSchema)
	}
	if _, err := time.Parse(model.TimestampFormat, env.CreatedAt); err != nil {
		return fmt.Errorf("created_at %q is not a valid timestamp: %w", env.CreatedAt, ErrSchema)
	}
	if env.Source.System == "" {
		return fmt.Errorf("source.system is required: %w", ErrSchema)
	}
	if env.Source.Actor.ID == "" {
		return fmt.Errorf("source.actor.id is required: %w", ErrSchema)
	}
	if env.Content.DecisionType == "" {
		return fmt.Errorf("content.decision_type is required: %w", ErrSchema)
	}
	if len(env.Content.Actions) == 0 {
		return fmt.Errorf("content.actions must not be empty: %w", ErrSchema)
	}
	return nil
}

// checkQuality enforces semantic rules. REJECT rules return ErrQuality;
// WARN rules only append notes.
func checkQuality(env *Envelope, res *Result) error {
	if env.Confidence != nil && (env.Confidence.Score < 0 || env.Confidence.Score > 1) {
		return fmt.Errorf("confidence %.2f outside [0,1]: %w", env.Confidence.Score, ErrQuality)
	}
	if env.ObservedAt != "" {
		observed, err := time.Parse(model.TimestampFormat, env.ObservedAt)
		if err != nil {
			return fmt.Errorf("observed_at %q is not a valid timestamp: %w", env.ObservedAt, ErrQuality)
		}
		created, _ := time.Parse(model.TimestampFormat, env.CreatedAt)
		if observed.After(created) {
			return fmt.Errorf("observed_at after created_at: %w", ErrQuality)
		}
	}
	if env.Seal != "" && !strings.HasPrefix(env.Seal, "sha256:") {
		return fmt.Errorf("seal %q is not a sha256 digest: %w", env.Seal, ErrQuality)
	}
	if !model.ValidOutcome(env.Content.Outcome.Code) {
		return fmt.Errorf("unknown outcome code %q: %w", env.Content.Outcome.Code, ErrQuality)
	}

	for i, p := range env.Provenance {
		if p.Ref == "" {
			return fmt.Errorf("provenance %d has no ref: %w", i, ErrQuality)
		}
		if p.ObservedAt != "" && p.TTLSeconds == 0 && env.TTLSeconds == 0 {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("provenance %s has observed_at but no ttl, freshness rule cannot run", p.Ref))
		}
	}
	if env.Content.PolicyStamp == nil {
		res.Warnings = append(res.Warnings, "no policy_stamp, counts against policy adherence")
	}
	if env.Content.Telemetry.TargetMS == 0 && env.Content.Telemetry.DurationMS > 0 {
		res.Warnings = append(res.Warnings, "telemetry has duration_ms but no target_ms, time rule cannot run")
	}
	return nil
}

// StatusFor maps an ingestion error to its HTTP-equivalent status code.
// nil maps to 201.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusCreated
	case errors.Is(err, ErrSchema), errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, ErrQuality):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
