// Package config loads driftwatch configuration from YAML, starting from
// built-in defaults so a partial file only overrides what it names.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML can carry values like "24h".
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration string form.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// DriftThresholds holds the soft (yellow) and hard (red) deviation ratios
// for one drift type. A rule emits no signal below the soft threshold.
type DriftThresholds struct {
	Soft float64 `yaml:"soft"`
	Hard float64 `yaml:"hard"`
}

// DriftConfig tunes the drift detector.
type DriftConfig struct {
	// WindowSize is the trailing window of prior episodes (same
	// decision_type) each new episode is evaluated against.
	WindowSize int `yaml:"window_size"`

	// RecurrenceWindow bounds fingerprint recurrence lookups. The same
	// window feeds the detector's red escalation (3rd occurrence) and the
	// scorer's recurring-pattern penalty.
	RecurrenceWindow Duration `yaml:"recurrence_window"`

	// SuccessFloor is the prior rolling success rate above which a fail
	// outcome counts as outcome drift.
	SuccessFloor float64 `yaml:"success_floor"`

	Time       DriftThresholds `yaml:"time"`
	Freshness  DriftThresholds `yaml:"freshness"`
	Fanout     DriftThresholds `yaml:"fanout"`
	Contention DriftThresholds `yaml:"contention"`
}

// ScoreWeights holds the four coherence dimension weights.
type ScoreWeights struct {
	PolicyAdherence    float64 `yaml:"policy_adherence"`
	OutcomeHealth      float64 `yaml:"outcome_health"`
	DriftControl       float64 `yaml:"drift_control"`
	MemoryCompleteness float64 `yaml:"memory_completeness"`
}

// Sum returns the total weight, which must be 1.0.
func (w ScoreWeights) Sum() float64 {
	return w.PolicyAdherence + w.OutcomeHealth + w.DriftControl + w.MemoryCompleteness
}

// Config holds all configurable parameters.
type Config struct {
	// DBPath is the sqlite database location. Empty keeps state in memory.
	DBPath string `yaml:"db_path"`

	// JournalPath is the hash-chained operations journal. Empty disables it.
	JournalPath string `yaml:"journal_path"`

	Detect  DriftConfig  `yaml:"drift"`
	Weights ScoreWeights `yaml:"score_weights"`

	// RetentionWindow is how long sealed episodes stay in the active window
	// before archival sweeps may exclude them from default scans.
	RetentionWindow Duration `yaml:"retention_window"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Detect: DriftConfig{
			WindowSize:       50,
			RecurrenceWindow: Duration(24 * time.Hour),
			SuccessFloor:     0.8,
			Time:             DriftThresholds{Soft: 1.0, Hard: 1.5},
			Freshness:        DriftThresholds{Soft: 1.0, Hard: 1.5},
			Fanout:           DriftThresholds{Soft: 1.0, Hard: 2.0},
			Contention:       DriftThresholds{Soft: 3, Hard: 6},
		},
		Weights: ScoreWeights{
			PolicyAdherence:    0.25,
			OutcomeHealth:      0.30,
			DriftControl:       0.25,
			MemoryCompleteness: 0.20,
		},
		RetentionWindow: Duration(90 * 24 * time.Hour),
	}
}

// Load reads configuration from a YAML file. Empty path falls back to
// ~/.driftwatch/config.yaml. Missing file returns defaults. Invalid YAML or
// invalid weights return an error.
func Load(path string) (*Config, error) {
	cfg, _, err := LoadWithHash(path)
	return cfg, err
}

// LoadWithHash loads configuration and returns the SHA-256 of the raw YAML
// bytes on disk. When no file exists, the hash is the SHA-256 of empty input.
func LoadWithHash(path string) (*Config, string, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Default(), emptyHash(), nil
		}
		path = filepath.Join(home, ".driftwatch", "config.yaml")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), emptyHash(), nil
		}
		return nil, "", fmt.Errorf("failed to read config: %w", err)
	}

	h := sha256.Sum256(data)
	hash := "sha256:" + hex.EncodeToString(h[:])

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, "", fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, hash, nil
}

// Validate checks invariants a bad config file could break.
func (c *Config) Validate() error {
	if d := c.Weights.Sum() - 1.0; d > 0.001 || d < -0.001 {
		return fmt.Errorf("score weights must sum to 1.0, got %.3f", c.Weights.Sum())
	}
	if c.Detect.WindowSize <= 0 {
		return fmt.Errorf("drift window_size must be positive, got %d", c.Detect.WindowSize)
	}
	if c.Detect.RecurrenceWindow <= 0 {
		return fmt.Errorf("drift recurrence_window must be positive, got %s", c.Detect.RecurrenceWindow.Std())
	}
	return nil
}

func emptyHash() string {
	h := sha256.Sum256(nil)
	return "sha256:" + hex.EncodeToString(h[:])
}

// DefaultYAML returns a commented YAML string for `driftwatch init`.
func DefaultYAML() string {
	return `# driftwatch configuration
# Generated by: driftwatch init

# Paths. Empty db_path keeps state in memory only.
db_path: ""
journal_path: ""

drift:
  # Trailing window of prior episodes (same decision_type) evaluated
  # against each new episode.
  window_size: 50

  # Recurrence window for fingerprint matching. The 3rd occurrence of the
  # same fingerprint inside this window escalates to red, and recurring
  # fingerprints feed the scorer's drift-control penalty.
  recurrence_window: 24h

  # Prior rolling success rate above which a fail outcome is outcome drift.
  success_floor: 0.8

  # Per-type deviation thresholds: below soft no signal, soft..hard yellow,
  # at or above hard red.
  time:       {soft: 1.0, hard: 1.5}   # duration_ms / target_ms
  freshness:  {soft: 1.0, hard: 1.5}   # input age / ttl
  fanout:     {soft: 1.0, hard: 2.0}   # actions / fanout_expected
  contention: {soft: 3, hard: 6}       # retries

# Coherence dimension weights. Must sum to 1.0.
score_weights:
  policy_adherence: 0.25
  outcome_health: 0.30
  drift_control: 0.25
  memory_completeness: 0.20

# Episodes older than this leave the active window on archival sweeps.
retention_window: 2160h
`
}
