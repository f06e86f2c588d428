package cli

import (
	"github.com/spf13/cobra"

	"github.com/ppiankov/driftwatch/internal/iris"
)

var statusJSON bool

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the structured response")
}

var statusCmd = &cobra.Command{
	Use:     "status",
	Aliases: []string{"score"},
	Short:   "Report current coherence and unresolved drift",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runQuery(iris.Query{Type: iris.QueryStatus}, statusJSON)
	},
}
