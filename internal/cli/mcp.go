package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	driftmcp "github.com/ppiankov/driftwatch/internal/mcp"
	"github.com/ppiankov/driftwatch/internal/server"
)

func init() {
	rootCmd.AddCommand(mcpCmd)
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP tool server for agent integration",
	Long: "Runs driftwatch as an MCP (Model Context Protocol) server over stdio.\n" +
		"Exposes tools: submit, why, what_changed, status, show.\n" +
		"Detection thresholds hot-reload when the config file changes.",
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	eng, err := newEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	reloader, err := server.NewReloader(eng, flagConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: hot-reload disabled: %v\n", err)
	} else {
		go reloader.Run(ctx)
	}

	fmt.Fprintln(os.Stderr, "driftwatch MCP server running on stdio")
	return driftmcp.New(eng).Run(ctx)
}
