// Package drift evaluates sealed episodes against rule-based classifiers and
// tracks fingerprint recurrence. Detection is read-only over episodes: a
// signal never blocks or mutates the record that produced it.
package drift

import (
	"sort"
	"sync"
	"time"

	"github.com/ppiankov/driftwatch/internal/config"
	"github.com/ppiankov/driftwatch/internal/model"
)

// Detector runs the classifier registry over each new episode and keeps the
// signal history needed for recurrence escalation.
type Detector struct {
	mu          sync.Mutex
	cfg         *config.DriftConfig
	classifiers []Classifier

	// occurrences maps fingerprint to detection times, oldest first.
	occurrences map[string][]time.Time
	signals     []model.DriftSignal
}

// NewDetector creates a detector with the full classifier registry.
func NewDetector(cfg *config.DriftConfig) *Detector {
	return &Detector{
		cfg:         cfg,
		classifiers: Registry(),
		occurrences: make(map[string][]time.Time),
	}
}

// SetConfig swaps the detection thresholds, used on config hot reload.
// Recurrence history survives the swap.
func (d *Detector) SetConfig(cfg *config.DriftConfig) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cfg = cfg
}

// Detect evaluates one sealed episode against every classifier. It returns
// zero or more signals plus quality notes for rules that could not run on
// the telemetry present. An episode can trip several types at once.
func (d *Detector) Detect(v WindowView) ([]model.DriftSignal, []string) {
	if v.Now.IsZero() {
		v.Now = time.Now().UTC()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var signals []model.DriftSignal
	var notes []string
	for _, c := range d.classifiers {
		cand, note := c.Classify(v, d.cfg)
		if note != "" {
			notes = append(notes, note)
		}
		if cand == nil {
			continue
		}
		sig := d.record(c.Type, v, cand)
		signals = append(signals, sig)
	}
	return signals, notes
}

// record fingerprints a candidate, applies recurrence escalation, and appends
// the finished signal to history. Caller holds the lock.
func (d *Detector) record(t model.DriftType, v WindowView, cand *candidate) model.DriftSignal {
	fp := Fingerprint(t, v.Episode.DecisionType, cand.Dimension)

	cutoff := v.Now.Add(-d.cfg.RecurrenceWindow.Std())
	recent := prune(d.occurrences[fp], cutoff)
	prior := len(recent)

	sev := cand.Severity
	// Third occurrence of the same fingerprint inside the recurrence window
	// is red regardless of per-occurrence severity.
	if prior+1 >= 3 {
		sev = model.SeverityRed
	}

	sig := model.DriftSignal{
		DriftID:              model.NewDriftID(),
		DriftType:            t,
		Severity:             sev,
		Fingerprint:          fp,
		Dimension:            cand.Dimension,
		SourceEpisodeID:      v.Episode.EpisodeID,
		DecisionType:         v.Episode.DecisionType,
		RecommendedPatchType: cand.PatchType,
		Detail:               cand.Detail,
		Recurring:            prior >= 1,
		DetectedAt:           v.Now.Format(model.TimestampFormat),
	}

	d.occurrences[fp] = append(recent, v.Now)
	d.signals = append(d.signals, sig)
	return sig
}

// Signals returns a copy of all signals detected so far, in detection order.
func (d *Detector) Signals() []model.DriftSignal {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]model.DriftSignal{}, d.signals...)
}

// Restore reloads signal history, used when warming up from the database.
// Occurrence times come from each signal's DetectedAt.
func (d *Detector) Restore(signals []model.DriftSignal) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, sig := range signals {
		d.signals = append(d.signals, sig)
		at, err := time.Parse(model.TimestampFormat, sig.DetectedAt)
		if err != nil {
			continue
		}
		d.occurrences[sig.Fingerprint] = append(d.occurrences[sig.Fingerprint], at)
	}
}

// RecurringCount returns the number of distinct fingerprints seen more than
// once inside the recurrence window ending now. The scorer charges these as
// recurring patterns.
func (d *Detector) RecurringCount(now time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	cutoff := now.Add(-d.cfg.RecurrenceWindow.Std())
	n := 0
	for _, times := range d.occurrences {
		if len(prune(times, cutoff)) >= 2 {
			n++
		}
	}
	return n
}

// Summary is an aggregate view of detected drift.
type Summary struct {
	Total       int                     `json:"total"`
	BySeverity  map[model.Severity]int  `json:"by_severity"`
	ByType      map[model.DriftType]int `json:"by_type"`
	TopPatterns []PatternCount          `json:"top_patterns,omitempty"`
}

// PatternCount is one recurring fingerprint with its occurrence count and a
// representative detail line.
type PatternCount struct {
	Fingerprint string          `json:"fingerprint"`
	DriftType   model.DriftType `json:"drift_type"`
	Count       int             `json:"count"`
	Detail      string          `json:"detail"`
}

// Summarize aggregates all signals by type and severity and lists the most
// frequent fingerprints, most recurrent first.
func (d *Detector) Summarize() Summary {
	d.mu.Lock()
	defer d.mu.Unlock()

	sum := Summary{
		BySeverity: make(map[model.Severity]int),
		ByType:     make(map[model.DriftType]int),
	}
	byFP := make(map[string]*PatternCount)
	for _, sig := range d.signals {
		sum.Total++
		sum.BySeverity[sig.Severity]++
		sum.ByType[sig.DriftType]++
		pc, ok := byFP[sig.Fingerprint]
		if !ok {
			pc = &PatternCount{Fingerprint: sig.Fingerprint, DriftType: sig.DriftType}
			byFP[sig.Fingerprint] = pc
		}
		pc.Count++
		pc.Detail = sig.Detail
	}

	for _, pc := range byFP {
		if pc.Count >= 2 {
			sum.TopPatterns = append(sum.TopPatterns, *pc)
		}
	}
	sort.Slice(sum.TopPatterns, func(i, j int) bool {
		if sum.TopPatterns[i].Count != sum.TopPatterns[j].Count {
			return sum.TopPatterns[i].Count > sum.TopPatterns[j].Count
		}
		return sum.TopPatterns[i].Fingerprint < sum.TopPatterns[j].Fingerprint
	})
	if len(sum.TopPatterns) > 5 {
		sum.TopPatterns = sum.TopPatterns[:5]
	}
	return sum
}

// prune drops occurrence times at or before the cutoff.
func prune(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(times) && !times[i].After(cutoff) {
		i++
	}
	return times[i:]
}
