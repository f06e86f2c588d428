package cli

import (
	"github.com/spf13/cobra"

	"github.com/ppiankov/driftwatch/internal/iris"
)

var (
	showDepth int
	showJSON  bool
)

func init() {
	rootCmd.AddCommand(showCmd)
	showCmd.Flags().IntVar(&showDepth, "depth", 0, "Subgraph radius (default 3)")
	showCmd.Flags().BoolVar(&showJSON, "json", false, "Print the structured response")
}

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show the memory subgraph around an episode, drift signal, or patch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(iris.Query{
			Type:     iris.QueryShow,
			TargetID: args[0],
			Depth:    showDepth,
		}, showJSON)
	},
}
