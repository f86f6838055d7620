// Package subagent runs the specialist agents that sit between the live
// model and an MCP server. Each sub-agent is a request/response loop over
// Models.GenerateContent: the specialist model decides which MCP tools to
// call and the loop feeds results back until it produces a final answer.
package subagent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"google.golang.org/genai"
)

const defaultMaxTurns = 8

// Generator is the generate surface of the hosted model client.
// *genai.Models satisfies it.
type Generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// ToolBackend is the MCP client surface a sub-agent drives.
type ToolBackend interface {
	Tools() []mcp.Tool
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
}

// Config assembles one sub-agent.
type Config struct {
	Name        string
	Description string
	Model       string
	Instruction string
	Generator   Generator
	Backend     ToolBackend
	Logger      *slog.Logger
	MaxTurns    int

	now func() time.Time
}

type SubAgent struct {
	name        string
	description string
	model       string
	instruction string
	gen         Generator
	backend     ToolBackend
	logger      *slog.Logger
	maxTurns    int
	now         func() time.Time
}

func New(cfg Config) *SubAgent {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = defaultMaxTurns
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	return &SubAgent{
		name:        cfg.Name,
		description: cfg.Description,
		model:       cfg.Model,
		instruction: cfg.Instruction,
		gen:         cfg.Generator,
		backend:     cfg.Backend,
		logger:      cfg.Logger,
		maxTurns:    cfg.MaxTurns,
		now:         cfg.now,
	}
}

func (a *SubAgent) Name() string        { return a.name }
func (a *SubAgent) Description() string { return a.description }

// Run handles one delegated request and returns the specialist's final
// answer. Relative dates in the request resolve against the current time,
// which is injected into the instruction on every run.
func (a *SubAgent) Run(ctx context.Context, request string) (string, error) {
	if strings.TrimSpace(request) == "" {
		return "", fmt.Errorf("request is required")
	}

	instruction := fmt.Sprintf(
		"Current date and time: %s.\n\n%s\n\nResolve relative dates like \"today\" or \"next week\" against the current date and time above.",
		a.now().Format("Monday, January 2, 2006 at 3:04 PM"), a.instruction,
	)
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{genai.NewPartFromText(instruction)}},
		Tools:             declarations(a.backend.Tools()),
	}

	contents := []*genai.Content{
		{Role: "user", Parts: []*genai.Part{genai.NewPartFromText(request)}},
	}

	for turn := 0; turn < a.maxTurns; turn++ {
		resp, err := a.gen.GenerateContent(ctx, a.model, contents, cfg)
		if err != nil {
			return "", fmt.Errorf("%s: generate: %w", a.name, err)
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			return "", fmt.Errorf("%s: empty response", a.name)
		}
		content := resp.Candidates[0].Content

		var text strings.Builder
		var calls []*genai.FunctionCall
		for _, p := range content.Parts {
			if p.Text != "" {
				text.WriteString(p.Text)
			}
			if p.FunctionCall != nil {
				calls = append(calls, p.FunctionCall)
			}
		}

		if len(calls) == 0 {
			return text.String(), nil
		}

		contents = append(contents, content)
		parts := make([]*genai.Part, 0, len(calls))
		for _, call := range calls {
			parts = append(parts, genai.NewPartFromFunctionResponse(call.Name, a.callTool(ctx, call)))
		}
		contents = append(contents, &genai.Content{Role: "user", Parts: parts})
	}

	return "", fmt.Errorf("%s: no final answer after %d turns", a.name, a.maxTurns)
}

func (a *SubAgent) callTool(ctx context.Context, call *genai.FunctionCall) map[string]any {
	out, err := a.backend.CallTool(ctx, call.Name, call.Args)
	if err != nil {
		a.logger.Warn("sub-agent tool failed", "agent", a.name, "tool", call.Name, "error", err)
		return map[string]any{"error": err.Error()}
	}
	return map[string]any{"result": out}
}
