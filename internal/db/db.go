// Package db persists episodes, drift signals, patches, graph edges, and
// report history in SQLite. Rows are append-only; the only in-place updates
// mirror the episode seal's version and lifecycle state. The store of record
// for reads is the in-memory layer; this package exists so a restart can
// warm it back up.
package db

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/ppiankov/driftwatch/internal/graph"
	"github.com/ppiankov/driftwatch/internal/model"
	"github.com/ppiankov/driftwatch/internal/score"
)

const schema = `
CREATE TABLE IF NOT EXISTS episodes (
    episode_id    TEXT PRIMARY KEY,
    decision_type TEXT NOT NULL,
    sealed_at     TEXT NOT NULL,
    state         TEXT NOT NULL,
    version       INTEGER NOT NULL,
    body          TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_episodes_decision
ON episodes(decision_type, sealed_at);

CREATE TABLE IF NOT EXISTS drift_signals (
    drift_id      TEXT PRIMARY KEY,
    drift_type    TEXT NOT NULL,
    severity      TEXT NOT NULL,
    fingerprint   TEXT NOT NULL,
    episode_id    TEXT NOT NULL,
    decision_type TEXT NOT NULL,
    detected_at   TEXT NOT NULL,
    body          TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_drift_fingerprint
ON drift_signals(fingerprint, detected_at);

CREATE TABLE IF NOT EXISTS patches (
    patch_id   TEXT PRIMARY KEY,
    drift_id   TEXT NOT NULL,
    applied_at TEXT NOT NULL,
    body       TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS graph_edges (
    from_id TEXT NOT NULL,
    to_id   TEXT NOT NULL,
    kind    TEXT NOT NULL,
    PRIMARY KEY (from_id, to_id, kind)
);

CREATE TABLE IF NOT EXISTS reports (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    generated_at TEXT NOT NULL,
    overall      REAL NOT NULL,
    grade        TEXT NOT NULL,
    body         TEXT NOT NULL
);
`

// DB wraps the SQLite handle.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the database and applies the schema. WAL mode so
// the MCP server's reads never block the write path.
func Open(path string) (*DB, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("db: open: %w", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("db: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying handle.
func (d *DB) Close() error { return d.conn.Close() }

// SaveEpisode upserts one episode row. Insert on first seal; later patches
// and archival rewrite version, state, and body for the same episode_id.
func (d *DB) SaveEpisode(ep *model.Episode) error {
	body, err := json.Marshal(ep)
	if err != nil {
		return fmt.Errorf("db: marshal episode: %w", err)
	}
	_, err = d.conn.Exec(`
		INSERT INTO episodes (episode_id, decision_type, sealed_at, state, version, body)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(episode_id) DO UPDATE SET
		    state = excluded.state, version = excluded.version, body = excluded.body`,
		ep.EpisodeID, ep.DecisionType, ep.Seal.SealedAt, string(ep.State), ep.Seal.Version, string(body),
	)
	if err != nil {
		return fmt.Errorf("db: save episode %s: %w", ep.EpisodeID, err)
	}
	return nil
}

// Episodes returns all episodes ordered by sealed_at then id.
func (d *DB) Episodes() ([]model.Episode, error) {
	rows, err := d.conn.Query(`SELECT body FROM episodes ORDER BY sealed_at, episode_id`)
	if err != nil {
		return nil, fmt.Errorf("db: query episodes: %w", err)
	}
	defer rows.Close()

	var out []model.Episode
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("db: scan episode: %w", err)
		}
		var ep model.Episode
		if err := json.Unmarshal([]byte(body), &ep); err != nil {
			return nil, fmt.Errorf("db: decode episode: %w", err)
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

// SaveSignal inserts one drift signal row.
func (d *DB) SaveSignal(sig model.DriftSignal) error {
	body, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("db: marshal signal: %w", err)
	}
	_, err = d.conn.Exec(`
		INSERT INTO drift_signals
		(drift_id, drift_type, severity, fingerprint, episode_id, decision_type, detected_at, body)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sig.DriftID, string(sig.DriftType), string(sig.Severity), sig.Fingerprint,
		sig.SourceEpisodeID, sig.DecisionType, sig.DetectedAt, string(body),
	)
	if err != nil {
		return fmt.Errorf("db: save signal %s: %w", sig.DriftID, err)
	}
	return nil
}

// Signals returns all drift signals in detection order.
func (d *DB) Signals() ([]model.DriftSignal, error) {
	rows, err := d.conn.Query(`SELECT body FROM drift_signals ORDER BY detected_at, drift_id`)
	if err != nil {
		return nil, fmt.Errorf("db: query signals: %w", err)
	}
	defer rows.Close()

	var out []model.DriftSignal
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("db: scan signal: %w", err)
		}
		var sig model.DriftSignal
		if err := json.Unmarshal([]byte(body), &sig); err != nil {
			return nil, fmt.Errorf("db: decode signal: %w", err)
		}
		out = append(out, sig)
	}
	return out, rows.Err()
}

// SavePatch inserts one patch row.
func (d *DB) SavePatch(p model.Patch) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("db: marshal patch: %w", err)
	}
	_, err = d.conn.Exec(`
		INSERT INTO patches (patch_id, drift_id, applied_at, body) VALUES (?, ?, ?, ?)`,
		p.PatchID, p.TargetDriftID, p.AppliedAt, string(body),
	)
	if err != nil {
		return fmt.Errorf("db: save patch %s: %w", p.PatchID, err)
	}
	return nil
}

// Patches returns all patches in application order.
func (d *DB) Patches() ([]model.Patch, error) {
	rows, err := d.conn.Query(`SELECT body FROM patches ORDER BY applied_at, patch_id`)
	if err != nil {
		return nil, fmt.Errorf("db: query patches: %w", err)
	}
	defer rows.Close()

	var out []model.Patch
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("db: scan patch: %w", err)
		}
		var p model.Patch
		if err := json.Unmarshal([]byte(body), &p); err != nil {
			return nil, fmt.Errorf("db: decode patch: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SaveEdge inserts one graph edge, ignoring duplicates.
func (d *DB) SaveEdge(e graph.Edge) error {
	_, err := d.conn.Exec(`
		INSERT OR IGNORE INTO graph_edges (from_id, to_id, kind) VALUES (?, ?, ?)`,
		e.From, e.To, string(e.Kind),
	)
	if err != nil {
		return fmt.Errorf("db: save edge: %w", err)
	}
	return nil
}

// Edges returns all stored graph edges.
func (d *DB) Edges() ([]graph.Edge, error) {
	rows, err := d.conn.Query(`SELECT from_id, to_id, kind FROM graph_edges`)
	if err != nil {
		return nil, fmt.Errorf("db: query edges: %w", err)
	}
	defer rows.Close()

	var out []graph.Edge
	for rows.Next() {
		var e graph.Edge
		var kind string
		if err := rows.Scan(&e.From, &e.To, &kind); err != nil {
			return nil, fmt.Errorf("db: scan edge: %w", err)
		}
		e.Kind = graph.EdgeKind(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}

// SaveReport appends one coherence report to the history.
func (d *DB) SaveReport(rep *score.Report) error {
	body, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("db: marshal report: %w", err)
	}
	_, err = d.conn.Exec(`
		INSERT INTO reports (generated_at, overall, grade, body) VALUES (?, ?, ?, ?)`,
		rep.GeneratedAt, rep.Overall, rep.Grade, string(body),
	)
	if err != nil {
		return fmt.Errorf("db: save report: %w", err)
	}
	return nil
}

// LatestReport returns the most recent report, or nil when none exist.
func (d *DB) LatestReport() (*score.Report, error) {
	var body string
	err := d.conn.QueryRow(`SELECT body FROM reports ORDER BY id DESC LIMIT 1`).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("db: latest report: %w", err)
	}
	var rep score.Report
	if err := json.Unmarshal([]byte(body), &rep); err != nil {
		return nil, fmt.Errorf("db: decode report: %w", err)
	}
	return &rep, nil
}
