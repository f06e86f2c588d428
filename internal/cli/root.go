// Package cli implements the driftwatch command tree. Commands are thin
// wrappers over the engine; all semantics live in the internal packages.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/driftwatch/internal/config"
	"github.com/ppiankov/driftwatch/internal/engine"
)

var (
	flagConfig  string
	flagDB      string
	flagJournal string
)

var rootCmd = &cobra.Command{
	Use:   "driftwatch",
	Short: "Decision memory and drift detection for agent systems",
	Long:  "Records agent decisions as hash-sealed episodes, detects behavioral drift against recent history, scores system coherence, and answers WHY, WHAT_CHANGED, STATUS, and SHOW queries over the provenance graph.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to config YAML (default ~/.driftwatch/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "Path to sqlite database (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagJournal, "journal", "", "Path to operations journal JSONL (overrides config)")
}

// loadConfig resolves the effective configuration from file and flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagDB != "" {
		cfg.DBPath = flagDB
	}
	if flagJournal != "" {
		cfg.JournalPath = flagJournal
	}
	return cfg, nil
}

// newEngine builds an engine from the effective configuration. The caller
// must Close it.
func newEngine() (*engine.Engine, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	eng, err := engine.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to start engine: %w", err)
	}
	return eng, nil
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
