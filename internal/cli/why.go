package cli

import (
	"github.com/spf13/cobra"

	"github.com/ppiankov/driftwatch/internal/iris"
)

var (
	whyDepth int
	whyJSON  bool
)

func init() {
	rootCmd.AddCommand(whyCmd)
	whyCmd.Flags().IntVar(&whyDepth, "depth", 0, "Traversal depth bound (default 10)")
	whyCmd.Flags().BoolVar(&whyJSON, "json", false, "Print the structured response")
}

var whyCmd = &cobra.Command{
	Use:   "why <id>",
	Short: "Trace the causal chain behind an episode, drift signal, or patch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(iris.Query{
			Type:     iris.QueryWhy,
			TargetID: args[0],
			Depth:    whyDepth,
		}, whyJSON)
	},
}
