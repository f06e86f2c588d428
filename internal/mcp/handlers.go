package mcp

import (
	"context"
	"errors"
	"net/http"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/driftwatch/internal/ingest"
	"github.com/ppiankov/driftwatch/internal/iris"
	"github.com/ppiankov/driftwatch/internal/model"
)

// --- Input/Output types ---

// SubmitInput defines parameters for the driftwatch_submit tool.
type SubmitInput struct {
	Envelope ingest.Envelope `json:"envelope" jsonschema:"canonical record envelope, version 1.0"`
}

// SignalItem is one drift signal raised by a submission.
type SignalItem struct {
	DriftID   string `json:"drift_id"`
	Type      string `json:"type"`
	Severity  string `json:"severity"`
	Dimension string `json:"dimension"`
	Detail    string `json:"detail"`
	Recurring bool   `json:"recurring,omitempty"`
}

// SubmitOutput contains the sealed episode summary or rejection details.
type SubmitOutput struct {
	EpisodeID string       `json:"episode_id,omitempty"`
	Hash      string       `json:"hash,omitempty"`
	Version   int          `json:"version,omitempty"`
	Signals   []SignalItem `json:"signals,omitempty"`
	Warnings  []string     `json:"warnings,omitempty"`
	Overall   float64      `json:"overall,omitempty"`
	Grade     string       `json:"grade,omitempty"`

	Rejected bool   `json:"rejected,omitempty"`
	Status   int    `json:"status,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// WhyInput defines parameters for the driftwatch_why tool.
type WhyInput struct {
	TargetID string `json:"target_id" jsonschema:"episode, drift, or patch ID to trace"`
	Depth    int    `json:"depth,omitempty" jsonschema:"traversal depth bound, default 10"`
}

// WhatChangedInput defines parameters for the driftwatch_what_changed tool.
type WhatChangedInput struct {
	Since string `json:"since,omitempty" jsonschema:"inclusive lower bound, 2006-01-02T15:04:05.000Z"`
	Until string `json:"until,omitempty" jsonschema:"inclusive upper bound, 2006-01-02T15:04:05.000Z"`
}

// StatusInput is empty, no parameters needed.
type StatusInput struct{}

// ShowInput defines parameters for the driftwatch_show tool.
type ShowInput struct {
	TargetID string `json:"target_id" jsonschema:"episode, drift, or patch ID to center on"`
	Depth    int    `json:"depth,omitempty" jsonschema:"subgraph radius, default 3"`
}

// QueryOutput wraps a resolver response for the query tools. Text is the
// human-readable rendering; Response carries the structured answer.
type QueryOutput struct {
	Response *iris.Response `json:"response,omitempty"`
	Text     string         `json:"text,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// --- Handlers ---

func (s *Server) handleSubmit(ctx context.Context, req *mcpsdk.CallToolRequest, input SubmitInput) (*mcpsdk.CallToolResult, SubmitOutput, error) {
	res, err := s.engine.Ingest(&input.Envelope)
	if err != nil {
		status := ingest.StatusFor(err)
		if status == http.StatusInternalServerError {
			return nil, SubmitOutput{}, err
		}
		out := SubmitOutput{
			Rejected: true,
			Status:   status,
			Reason:   err.Error(),
		}
		return &mcpsdk.CallToolResult{IsError: true}, out, nil
	}

	out := SubmitOutput{
		EpisodeID: res.Episode.EpisodeID,
		Hash:      res.Episode.Seal.Hash,
		Version:   res.Episode.Seal.Version,
		Warnings:  res.Warnings,
		Overall:   res.Report.Overall,
		Grade:     res.Report.Grade,
	}
	for _, sig := range res.Signals {
		out.Signals = append(out.Signals, SignalItem{
			DriftID:   sig.DriftID,
			Type:      string(sig.DriftType),
			Severity:  string(sig.Severity),
			Dimension: sig.Dimension,
			Detail:    sig.Detail,
			Recurring: sig.Recurring,
		})
	}
	return nil, out, nil
}

func (s *Server) handleWhy(ctx context.Context, req *mcpsdk.CallToolRequest, input WhyInput) (*mcpsdk.CallToolResult, QueryOutput, error) {
	return s.resolve(iris.Query{Type: iris.QueryWhy, TargetID: input.TargetID, Depth: input.Depth})
}

func (s *Server) handleWhatChanged(ctx context.Context, req *mcpsdk.CallToolRequest, input WhatChangedInput) (*mcpsdk.CallToolResult, QueryOutput, error) {
	return s.resolve(iris.Query{Type: iris.QueryWhatChanged, Since: input.Since, Until: input.Until})
}

func (s *Server) handleStatus(ctx context.Context, req *mcpsdk.CallToolRequest, input StatusInput) (*mcpsdk.CallToolResult, QueryOutput, error) {
	return s.resolve(iris.Query{Type: iris.QueryStatus})
}

func (s *Server) handleShow(ctx context.Context, req *mcpsdk.CallToolRequest, input ShowInput) (*mcpsdk.CallToolResult, QueryOutput, error) {
	return s.resolve(iris.Query{Type: iris.QueryShow, TargetID: input.TargetID, Depth: input.Depth})
}

// resolve runs one query and maps resolver errors: bad input and missing
// targets become IsError tool results, everything else is a real failure.
func (s *Server) resolve(q iris.Query) (*mcpsdk.CallToolResult, QueryOutput, error) {
	resp, err := s.engine.Resolver().Resolve(q)
	if err != nil {
		if isQueryError(err) {
			return &mcpsdk.CallToolResult{IsError: true}, QueryOutput{Error: err.Error()}, nil
		}
		return nil, QueryOutput{}, err
	}
	return nil, QueryOutput{Response: resp, Text: iris.Format(resp)}, nil
}

func isQueryError(err error) bool {
	return errors.Is(err, model.ErrNotFound) || errors.Is(err, model.ErrValidation)
}
