package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	patchReason  string
	patchAuthor  string
	patchSet     []string
	patchVersion int
)

func init() {
	rootCmd.AddCommand(patchEpisodeCmd)
	patchEpisodeCmd.Flags().StringVar(&patchReason, "reason", "", "Why the correction is needed (required)")
	patchEpisodeCmd.Flags().StringVar(&patchAuthor, "author", "", "Who is applying the correction (required)")
	patchEpisodeCmd.Flags().StringArrayVar(&patchSet, "set", nil, "Correction as field.path=value, repeatable")
	patchEpisodeCmd.Flags().IntVar(&patchVersion, "expect-version", 0, "Reject unless the episode is at this seal version (0 skips the check)")
}

var patchEpisodeCmd = &cobra.Command{
	Use:   "patch <episode-id>",
	Short: "Append a correction to an episode's patch log",
	Long: "Sealed content never changes in place. A patch records corrections in\n" +
		"the episode's append-only patch log and extends its hash chain.",
	Args: cobra.ExactArgs(1),
	RunE: runPatch,
}

func runPatch(cmd *cobra.Command, args []string) error {
	if patchReason == "" || patchAuthor == "" {
		return fmt.Errorf("--reason and --author are required")
	}
	corrections := make(map[string]string, len(patchSet))
	for _, kv := range patchSet {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return fmt.Errorf("invalid --set %q, want field.path=value", kv)
		}
		corrections[k] = v
	}
	if len(corrections) == 0 {
		return fmt.Errorf("at least one --set correction is required")
	}

	eng, err := newEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	ep, err := eng.PatchEpisode(args[0], patchReason, patchAuthor, corrections, patchVersion)
	if err != nil {
		return err
	}
	out, _ := json.MarshalIndent(ep.Seal, "", "  ")
	fmt.Println(string(out))
	return nil
}
