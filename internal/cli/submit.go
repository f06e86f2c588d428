package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/driftwatch/internal/ingest"
)

func init() {
	rootCmd.AddCommand(submitCmd)
}

var submitCmd = &cobra.Command{
	Use:   "submit [envelope.json]",
	Short: "Submit a decision record envelope",
	Long: "Validates and seals one record envelope, runs drift detection against\n" +
		"the trailing window, and prints the sealed episode, any drift signals,\n" +
		"and the updated coherence report. Reads stdin when no file is given.",
	Args: cobra.MaximumNArgs(1),
	RunE: runSubmit,
}

func runSubmit(cmd *cobra.Command, args []string) error {
	var data []byte
	var err error
	if len(args) == 1 && args[0] != "-" {
		data, err = os.ReadFile(args[0])
	} else {
		data, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return fmt.Errorf("read envelope: %w", err)
	}

	var env ingest.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("envelope is not valid JSON: %w", err)
	}

	eng, err := newEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	res, err := eng.Ingest(&env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rejected (%d): %v\n", ingest.StatusFor(err), err)
		os.Exit(1)
	}

	for _, w := range res.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}
	out, _ := json.MarshalIndent(res, "", "  ")
	fmt.Println(string(out))
	return nil
}
