// Package mcp exposes the engine over the Model Context Protocol so agent
// runtimes can submit decision records and query coherence state through
// stdio tools.
package mcp

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/driftwatch/internal/engine"
)

// Server wraps the MCP SDK server around a running engine.
type Server struct {
	mcpServer *mcpsdk.Server
	engine    *engine.Engine
}

// New creates an MCP server bound to the engine. The caller owns the engine
// lifecycle; closing the engine is not the server's job.
func New(eng *engine.Engine) *Server {
	s := &Server{engine: eng}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "driftwatch",
			Version: "0.1.0",
		},
		nil,
	)
	s.registerTools()
	return s
}

// Run starts the MCP server on stdio transport. Blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// registerTools adds all driftwatch tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "driftwatch_submit",
		Description: "Submit a decision record envelope. Returns the sealed episode, any drift signals it raised, and the updated coherence report. Rejected envelopes return an error with the rejection reason.",
	}, s.handleSubmit)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "driftwatch_why",
		Description: "Trace the causal chain behind an episode, drift signal, or patch: what triggered it, what resolved it, and which inputs and policy governed it.",
	}, s.handleWhy)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "driftwatch_what_changed",
		Description: "List drift signals and corrective patches in a time range, grouped by decision type.",
	}, s.handleWhatChanged)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "driftwatch_status",
		Description: "Report current coherence: the latest score, unresolved drift by severity, and memory graph stats.",
	}, s.handleStatus)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "driftwatch_show",
		Description: "Show the memory subgraph around an episode, drift signal, or patch.",
	}, s.handleShow)
}
