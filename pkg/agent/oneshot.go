package agent

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// oneShotMaxTurns bounds the tool-call loop for single-request turns.
const oneShotMaxTurns = 8

// RespondOnce answers one text request with a non-live agent turn: the
// same instruction and tool set a live session would carry, executed
// through Models.GenerateContent. Peer agents calling in over A2A land
// here.
func (f *Factory) RespondOnce(ctx context.Context, userID, message string) (string, error) {
	if f.Generate == nil {
		return "", fmt.Errorf("text generation is not configured")
	}
	if strings.TrimSpace(message) == "" {
		return "", fmt.Errorf("message is required")
	}

	assistant, err := f.Build(ctx, userID, false)
	if err != nil {
		return "", fmt.Errorf("build assistant: %w", err)
	}
	defer assistant.Close()

	// GenerateContent rejects hosted search next to function
	// declarations, so one-shot turns carry the declared tools only.
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{genai.NewPartFromText(assistant.config.Instruction)}},
	}
	if len(assistant.config.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(assistant.config.Tools))
		for _, t := range assistant.config.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			})
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	model := f.SubAgentModel
	if model == "" {
		model = DefaultSubAgentModel
	}
	tools := toolIndex(assistant.config.Tools)

	contents := []*genai.Content{
		{Role: "user", Parts: []*genai.Part{genai.NewPartFromText(message)}},
	}

	for turn := 0; turn < oneShotMaxTurns; turn++ {
		resp, err := f.Generate.GenerateContent(ctx, model, contents, cfg)
		if err != nil {
			return "", fmt.Errorf("generate: %w", err)
		}
		if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
			return "", fmt.Errorf("empty response")
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
			parts = append(parts, genai.NewPartFromFunctionResponse(call.Name, f.runOneShotTool(ctx, tools, call)))
		}
		contents = append(contents, &genai.Content{Role: "user", Parts: parts})
	}

	return "", fmt.Errorf("no final answer after %d turns", oneShotMaxTurns)
}

func (f *Factory) runOneShotTool(ctx context.Context, tools map[string]Tool, call *genai.FunctionCall) map[string]any {
	tool, ok := tools[call.Name]
	if !ok {
		f.log().Warn("model called unknown tool", "tool", call.Name)
		return map[string]any{"error": fmt.Sprintf("unknown tool %q", call.Name)}
	}
	out, err := tool.Run(ctx, call.Args)
	if err != nil {
		f.log().Warn("tool failed", "tool", call.Name, "error", err)
		return map[string]any{"error": err.Error()}
	}
	return out
}
