package cli

import (
	"github.com/spf13/cobra"

	"github.com/ppiankov/driftwatch/internal/iris"
)

var (
	changedSince string
	changedUntil string
	changedJSON  bool
)

func init() {
	rootCmd.AddCommand(whatChangedCmd)
	whatChangedCmd.Flags().StringVar(&changedSince, "since", "", "Inclusive lower bound, 2006-01-02T15:04:05.000Z")
	whatChangedCmd.Flags().StringVar(&changedUntil, "until", "", "Inclusive upper bound, 2006-01-02T15:04:05.000Z")
	whatChangedCmd.Flags().BoolVar(&changedJSON, "json", false, "Print the structured response")
}

var whatChangedCmd = &cobra.Command{
	Use:   "what-changed",
	Short: "List drift signals and patches in a time range, grouped by decision type",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(iris.Query{
			Type:  iris.QueryWhatChanged,
			Since: changedSince,
			Until: changedUntil,
		}, changedJSON)
	},
}
