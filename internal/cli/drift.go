package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/driftwatch/internal/model"
)

var (
	driftUnresolvedOnly bool
	resolveType         string
	resolveDescription  string
	resolveBy           string
)

func init() {
	rootCmd.AddCommand(driftCmd)
	driftCmd.AddCommand(driftListCmd)
	driftCmd.AddCommand(driftResolveCmd)
	driftListCmd.Flags().BoolVar(&driftUnresolvedOnly, "unresolved", false, "Show only unresolved signals")
	driftResolveCmd.Flags().StringVar(&resolveType, "type", string(model.PatchManual), "Patch type: policy_correction, ttl_correction, routing_correction, verification_correction, manual_correction")
	driftResolveCmd.Flags().StringVar(&resolveDescription, "description", "", "What the patch changed (required)")
	driftResolveCmd.Flags().StringVar(&resolveBy, "by", "", "Who applied the patch (required)")
}

var driftCmd = &cobra.Command{
	Use:   "drift",
	Short: "Drift signal operations",
}

var driftListCmd = &cobra.Command{
	Use:   "list",
	Short: "List drift signals and their resolution state",
	RunE:  runDriftList,
}

var driftResolveCmd = &cobra.Command{
	Use:   "resolve <drift-id>",
	Short: "Record a corrective patch against a drift signal",
	Args:  cobra.ExactArgs(1),
	RunE:  runDriftResolve,
}

type driftRow struct {
	model.DriftSignal
	Resolved bool `json:"resolved"`
}

func runDriftList(cmd *cobra.Command, args []string) error {
	eng, err := newEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	rows := make([]driftRow, 0)
	for _, sig := range eng.Detector().Signals() {
		resolved := eng.Graph().Resolved(sig.DriftID)
		if driftUnresolvedOnly && resolved {
			continue
		}
		rows = append(rows, driftRow{DriftSignal: sig, Resolved: resolved})
	}
	out, _ := json.MarshalIndent(rows, "", "  ")
	fmt.Println(string(out))
	return nil
}

func runDriftResolve(cmd *cobra.Command, args []string) error {
	if resolveDescription == "" || resolveBy == "" {
		return fmt.Errorf("--description and --by are required")
	}

	eng, err := newEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	rep, err := eng.ResolveDrift(model.Patch{
		PatchType:     model.PatchType(resolveType),
		TargetDriftID: args[0],
		Description:   resolveDescription,
		AppliedBy:     resolveBy,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Resolved %s. Coherence now %.2f/100 (%s).\n", args[0], rep.Overall, rep.Grade)
	return nil
}
