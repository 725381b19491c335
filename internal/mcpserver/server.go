// Package mcpserver exposes the council as MCP tools so assistants can put
// a question to the council over stdio.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/johnayoung/llm-council/internal/consensus"
	"github.com/johnayoung/llm-council/internal/council"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const serverName = "llm-council"

// AskCouncilInput is the input of the ask_council tool.
type AskCouncilInput struct {
	Query string `json:"query" jsonschema:"the question to put to the council"`
}

// AskCouncilOutput is the chairman's answer plus how the council voted.
type AskCouncilOutput struct {
	FinalAnswer      string                     `json:"final_answer" jsonschema:"the chairman's synthesized answer"`
	Chairman         string                     `json:"chairman" jsonschema:"model that wrote the final answer"`
	AggregateRanking consensus.AggregateRanking `json:"aggregate_ranking" jsonschema:"council members by average peer rank, best first"`
	FailedModels     []string                   `json:"failed_models" jsonschema:"council members that did not answer"`
	RejectedRankings int                        `json:"rejected_rankings" jsonschema:"peer rankings that failed or did not parse"`
}

// CouncilConfigInput is the (empty) input of the council_config tool.
type CouncilConfigInput struct{}

// CouncilConfigOutput describes the council that ask_council would use.
type CouncilConfigOutput struct {
	CouncilModels []string `json:"council_models" jsonschema:"models that answer and rank"`
	ChairmanModel string   `json:"chairman_model" jsonschema:"model that synthesizes the final answer"`
	ShuffleLabels bool     `json:"shuffle_labels" jsonschema:"whether responses are shuffled before anonymizing"`
}

// Service handles council tool calls.
type Service struct {
	pipeline council.PipelineFactory
	logger   *slog.Logger
}

// NewService creates a Service that builds a fresh pipeline per call.
func NewService(pipeline council.PipelineFactory, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{pipeline: pipeline, logger: logger}
}

// NewServer creates an MCP server with ask_council and council_config
// registered.
func NewServer(svc *Service, version string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    serverName,
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ask_council",
		Description: "Ask the LLM council a question. Every council model answers, the answers are ranked anonymously by the council, and the chairman synthesizes a final answer.",
	}, svc.AskCouncil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "council_config",
		Description: "Show the council models and chairman that ask_council uses.",
	}, svc.CouncilConfig)

	return server
}

// RunStdio serves on stdin/stdout until the client disconnects or ctx is
// done.
func RunStdio(ctx context.Context, server *mcp.Server) error {
	return server.Run(ctx, &mcp.StdioTransport{})
}

// AskCouncil runs the full council for one query.
func (s *Service) AskCouncil(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input AskCouncilInput,
) (*mcp.CallToolResult, AskCouncilOutput, error) {
	query := strings.TrimSpace(input.Query)
	if query == "" {
		return nil, AskCouncilOutput{}, errors.New("query is required")
	}

	res, err := s.pipeline().Run(ctx, query, nil)
	if err != nil {
		s.logger.Warn("council run failed", "error", err)
		return nil, AskCouncilOutput{}, fmt.Errorf("ask council: %w", err)
	}

	out := AskCouncilOutput{
		FinalAnswer:      res.Stage3.Response,
		Chairman:         res.Stage3.Model,
		AggregateRanking: res.Stage2.Aggregate,
		FailedModels:     []string{},
		RejectedRankings: len(res.Stage2.Rejected),
	}
	if out.AggregateRanking == nil {
		out.AggregateRanking = consensus.AggregateRanking{}
	}
	for _, r := range res.Stage1 {
		if !r.Success {
			out.FailedModels = append(out.FailedModels, r.Model)
		}
	}
	return nil, out, nil
}

// CouncilConfig reports the current council composition.
func (s *Service) CouncilConfig(
	_ context.Context,
	_ *mcp.CallToolRequest,
	_ CouncilConfigInput,
) (*mcp.CallToolResult, CouncilConfigOutput, error) {
	settings := s.pipeline().Settings()
	return nil, CouncilConfigOutput{
		CouncilModels: settings.CouncilModels,
		ChairmanModel: settings.ChairmanModel,
		ShuffleLabels: settings.ShuffleLabels,
	}, nil
}
