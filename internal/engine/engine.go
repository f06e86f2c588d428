// Package engine wires the episode store, drift detector, memory graph,
// scorer, and resolver behind one write path. Every mutation flows through
// the engine in a fixed order: validate, seal, journal, persist, detect,
// graph, rescore. Reads go straight to the components.
package engine

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ppiankov/driftwatch/internal/config"
	"github.com/ppiankov/driftwatch/internal/db"
	"github.com/ppiankov/driftwatch/internal/drift"
	"github.com/ppiankov/driftwatch/internal/episode"
	"github.com/ppiankov/driftwatch/internal/graph"
	"github.com/ppiankov/driftwatch/internal/ingest"
	"github.com/ppiankov/driftwatch/internal/iris"
	"github.com/ppiankov/driftwatch/internal/journal"
	"github.com/ppiankov/driftwatch/internal/model"
	"github.com/ppiankov/driftwatch/internal/score"
)

// Engine owns the write path and the latest coherence report.
type Engine struct {
	mu  sync.RWMutex // guards cfg and latest
	cfg *config.Config

	store    *episode.Store
	detector *drift.Detector
	graph    *graph.Graph
	resolver *iris.Resolver

	database *db.DB       // nil when running in memory only
	ops      *journal.Log // nil when journaling is disabled

	latest *score.Report
}

// SubmitResult is everything one submission produced.
type SubmitResult struct {
	Episode  *model.Episode      `json:"episode"`
	Signals  []model.DriftSignal `json:"signals,omitempty"`
	Warnings []string            `json:"warnings,omitempty"`
	Report   *score.Report       `json:"report"`
}

// New builds an engine from configuration, opening the database and journal
// when paths are configured and warming state back up from the database.
func New(cfg *config.Config) (*Engine, error) {
	e := &Engine{
		cfg:      cfg,
		store:    episode.NewStore(),
		detector: drift.NewDetector(&cfg.Detect),
		graph:    graph.New(),
	}
	e.resolver = iris.NewResolver(e.store, e.graph, e.detector, e.Latest)

	if cfg.JournalPath != "" {
		ops, err := journal.Open(cfg.JournalPath)
		if err != nil {
			return nil, err
		}
		e.ops = ops
	}
	if cfg.DBPath != "" {
		database, err := db.Open(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		e.database = database
		if err := e.warmUp(); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// warmUp reloads episodes, signals, patches, edges, and the latest report
// from the database into the in-memory components.
func (e *Engine) warmUp() error {
	eps, err := e.database.Episodes()
	if err != nil {
		return err
	}
	if err := e.store.Restore(eps); err != nil {
		return fmt.Errorf("warm-up: %w", err)
	}
	for i := range eps {
		e.graph.AddEpisode(&eps[i], nil)
	}

	sigs, err := e.database.Signals()
	if err != nil {
		return err
	}
	e.detector.Restore(sigs)
	for _, sig := range sigs {
		e.graph.AddDrift(sig)
	}

	patches, err := e.database.Patches()
	if err != nil {
		return err
	}
	for _, p := range patches {
		if err := e.graph.AddPatch(p); err != nil {
			fmt.Fprintf(os.Stderr, "warm-up: patch %s targets unknown drift, skipping: %v\n", p.PatchID, err)
		}
	}

	// The loops above already recreated triggered and resolved_by edges;
	// derived_from comes back from the edge table.
	edges, err := e.database.Edges()
	if err != nil {
		return err
	}
	e.restoreEdges(edges)

	rep, err := e.database.LatestReport()
	if err != nil {
		return err
	}
	e.latest = rep
	return nil
}

// Close releases the database and journal.
func (e *Engine) Close() error {
	var first error
	if e.ops != nil {
		if err := e.ops.Close(); err != nil {
			first = err
		}
	}
	if e.database != nil {
		if err := e.database.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Submit runs the full write path for one draft. derivedFrom lists episode
// IDs this decision consumed; warnings are ingest quality notes carried
// through to the result.
func (e *Engine) Submit(draft model.EpisodeDraft, derivedFrom []string, warnings []string) (*SubmitResult, error) {
	e.sweepRetention(time.Now().UTC())

	ep, err := e.store.Submit(draft)
	if err != nil {
		return nil, err
	}

	e.journalOp(journal.Entry{Op: journal.OpSubmit, RefID: ep.EpisodeID, Hash: ep.Seal.Hash})
	if e.database != nil {
		if err := e.database.SaveEpisode(ep); err != nil {
			return nil, err
		}
	}

	e.graph.AddEpisode(ep, derivedFrom)
	e.persistOutEdges(ep.EpisodeID)

	window := e.window(ep.DecisionType)
	prior := make([]model.Episode, 0, len(window))
	for _, p := range window {
		if p.EpisodeID != ep.EpisodeID {
			prior = append(prior, p)
		}
	}
	signals, notes := e.detector.Detect(drift.WindowView{
		Episode: *ep,
		Prior:   prior,
		Now:     time.Now().UTC(),
	})
	for _, note := range notes {
		fmt.Fprintf(os.Stderr, "drift quality: episode %s: %s\n", ep.EpisodeID, note)
	}
	for _, sig := range signals {
		e.graph.AddDrift(sig)
		e.journalOp(journal.Entry{
			Op: journal.OpDrift, RefID: sig.DriftID,
			Detail: fmt.Sprintf("%s %s on %s", sig.DriftType, sig.Severity, sig.SourceEpisodeID),
		})
		if e.database != nil {
			if err := e.database.SaveSignal(sig); err != nil {
				return nil, err
			}
		}
		e.persistOutEdges(sig.SourceEpisodeID)
	}

	rep := e.rescore()
	return &SubmitResult{Episode: ep, Signals: signals, Warnings: warnings, Report: rep}, nil
}

// relationKinds maps producer-asserted envelope link rels onto edge kinds.
// derived_from is handled separately by AddEpisode.
var relationKinds = map[string]graph.EdgeKind{
	"caused_by":   graph.EdgeCausedBy,
	"part_of":     graph.EdgePartOf,
	"verified_by": graph.EdgeVerifiedBy,
}

// Ingest converts a record envelope, submits it, and records any typed links
// the producer asserted. Links naming records not in the graph become
// warnings, never errors.
func (e *Engine) Ingest(env *ingest.Envelope) (*SubmitResult, error) {
	res, err := ingest.Convert(env)
	if err != nil {
		return nil, err
	}
	out, err := e.Submit(res.Draft, res.DerivedFrom, res.Warnings)
	if err != nil {
		return nil, err
	}
	for _, l := range res.Related {
		if err := e.graph.Relate(out.Episode.EpisodeID, l.RecordID, relationKinds[l.Rel]); err != nil {
			out.Warnings = append(out.Warnings,
				fmt.Sprintf("link %s %s skipped: record not in graph", l.Rel, l.RecordID))
		}
	}
	if len(res.Related) > 0 {
		e.persistOutEdges(out.Episode.EpisodeID)
	}
	return out, nil
}

// PatchEpisode appends a correction to an episode's patch log.
func (e *Engine) PatchEpisode(episodeID, reason, author string, corrections map[string]string, expectedVersion int) (*model.Episode, error) {
	ep, err := e.store.Patch(episodeID, reason, author, corrections, expectedVersion)
	if err != nil {
		return nil, err
	}
	e.journalOp(journal.Entry{
		Op: journal.OpPatch, RefID: episodeID,
		Detail: reason,
		Hash:   ep.Seal.PatchLog[len(ep.Seal.PatchLog)-1].NewHash,
	})
	if e.database != nil {
		if err := e.database.SaveEpisode(ep); err != nil {
			return nil, err
		}
	}
	return ep, nil
}

// ResolveDrift records a corrective patch against a drift signal: graph
// edge, persistence, journal, rescore.
func (e *Engine) ResolveDrift(p model.Patch) (*score.Report, error) {
	if p.PatchID == "" {
		p.PatchID = model.NewPatchID()
	}
	if p.AppliedAt == "" {
		p.AppliedAt = model.UTCNowISO()
	}
	if err := e.graph.AddPatch(p); err != nil {
		return nil, err
	}
	e.journalOp(journal.Entry{
		Op: journal.OpResolve, RefID: p.TargetDriftID, Detail: string(p.PatchType),
	})
	if e.database != nil {
		if err := e.database.SavePatch(p); err != nil {
			return nil, err
		}
	}
	e.persistOutEdges(p.TargetDriftID)
	e.persistOutEdges(p.PatchID)
	return e.rescore(), nil
}

// Archive flags an episode out of the active window.
func (e *Engine) Archive(episodeID string) error {
	if err := e.store.Archive(episodeID); err != nil {
		return err
	}
	e.journalOp(journal.Entry{Op: journal.OpArchive, RefID: episodeID})
	if e.database != nil {
		ep, err := e.store.Get(episodeID)
		if err != nil {
			return err
		}
		if err := e.database.SaveEpisode(ep); err != nil {
			return err
		}
	}
	e.rescore()
	return nil
}

// sweepRetention archives active episodes sealed before the retention
// window. Records are kept; only the active-window flag changes.
func (e *Engine) sweepRetention(now time.Time) {
	e.mu.RLock()
	retention := e.cfg.RetentionWindow.Std()
	e.mu.RUnlock()
	if retention <= 0 {
		return
	}
	cutoff := now.Add(-retention).Format(model.TimestampFormat)
	for _, id := range e.store.ArchiveOlderThan(cutoff) {
		e.journalOp(journal.Entry{Op: journal.OpArchive, RefID: id, Detail: "retention sweep"})
		if e.database != nil {
			if ep, err := e.store.Get(id); err == nil {
				if err := e.database.SaveEpisode(ep); err != nil {
					fmt.Fprintf(os.Stderr, "persist archive: %v\n", err)
				}
			}
		}
	}
}

// VerifyChains recomputes every stored episode's hash chain.
func (e *Engine) VerifyChains() error {
	return e.store.Verify()
}

// Latest returns the most recent coherence report, nil before the first
// write.
func (e *Engine) Latest() *score.Report {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.latest
}

// Store exposes the episode store for read paths.
func (e *Engine) Store() *episode.Store { return e.store }

// Graph exposes the memory graph for read paths.
func (e *Engine) Graph() *graph.Graph { return e.graph }

// Detector exposes the drift detector for read paths.
func (e *Engine) Detector() *drift.Detector { return e.detector }

// Resolver returns the IRIS resolver bound to this engine.
func (e *Engine) Resolver() *iris.Resolver { return e.resolver }

// Config returns the active configuration.
func (e *Engine) Config() *config.Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg
}

// Reload swaps the configuration under the write lock. Thresholds take
// effect for the next detection; recurrence history is kept.
func (e *Engine) Reload(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
	e.detector.SetConfig(&cfg.Detect)
	e.journalOp(journal.Entry{Op: journal.OpReload, RefID: "config"})
	return nil
}

// rescore recomputes the coherence report from a consistent snapshot and
// stores it as the latest.
func (e *Engine) rescore() *score.Report {
	var unresolved []model.DriftSignal
	for _, sig := range e.detector.Signals() {
		if !e.graph.Resolved(sig.DriftID) {
			unresolved = append(unresolved, sig)
		}
	}

	e.mu.RLock()
	weights := e.cfg.Weights
	e.mu.RUnlock()

	rep := score.Score(score.Input{
		Episodes:          e.store.List(episode.Filter{}),
		Unresolved:        unresolved,
		RecurringPatterns: e.detector.RecurringCount(time.Now().UTC()),
		EpisodeNodes:      e.graph.CountKind(graph.NodeEpisode),
		ExpectedEpisodes:  e.store.ActiveCount(),
	}, weights)

	e.mu.Lock()
	e.latest = &rep
	e.mu.Unlock()

	e.journalOp(journal.Entry{
		Op: journal.OpScore, RefID: "coherence",
		Detail: fmt.Sprintf("%.2f/100 (%s)", rep.Overall, rep.Grade),
	})
	if e.database != nil {
		if err := e.database.SaveReport(&rep); err != nil {
			fmt.Fprintf(os.Stderr, "persist report: %v\n", err)
		}
	}
	return &rep
}

// window returns the detector's trailing window for one decision type.
func (e *Engine) window(decisionType string) []model.Episode {
	e.mu.RLock()
	n := e.cfg.Detect.WindowSize
	e.mu.RUnlock()
	return e.store.Window(decisionType, n)
}

func (e *Engine) journalOp(entry journal.Entry) {
	if e.ops == nil {
		return
	}
	if err := e.ops.Record(entry); err != nil {
		fmt.Fprintf(os.Stderr, "journal: %v\n", err)
	}
}

// persistOutEdges mirrors a node's outgoing edges into the database.
func (e *Engine) persistOutEdges(id string) {
	if e.database == nil {
		return
	}
	for _, edge := range e.graph.Out(id) {
		if err := e.database.SaveEdge(edge); err != nil {
			fmt.Fprintf(os.Stderr, "persist edge: %v\n", err)
		}
	}
}

// restoreEdges re-inserts persisted edges the warm-up loops did not already
// recreate: derived_from and the producer-asserted relations.
func (e *Engine) restoreEdges(edges []graph.Edge) {
	for _, edge := range edges {
		switch edge.Kind {
		case graph.EdgeDerivedFrom, graph.EdgeCausedBy, graph.EdgePartOf, graph.EdgeVerifiedBy:
			if err := e.graph.Relate(edge.From, edge.To, edge.Kind); err != nil {
				fmt.Fprintf(os.Stderr, "warm-up: edge %s -> %s (%s) skipped: %v\n",
					edge.From, edge.To, edge.Kind, err)
			}
		}
	}
}
