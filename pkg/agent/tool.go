package agent

import (
	"context"

	"google.golang.org/genai"
)

// Tool is one function the live model may call. Run receives the
// model's arguments and returns the structured result fed back to it.
type Tool struct {
	Name        string
	Description string
	Parameters  *genai.Schema
	Run         func(ctx context.Context, args map[string]any) (map[string]any, error)
}

func toolIndex(tools []Tool) map[string]Tool {
	idx := make(map[string]Tool, len(tools))
	for _, t := range tools {
		idx[t.Name] = t
	}
	return idx
}

// liveTools builds the tool block for a live session: the declared
// functions plus, when enabled, the hosted web search tool.
func liveTools(cfg Config) []*genai.Tool {
	var out []*genai.Tool
	if cfg.Search {
		out = append(out, &genai.Tool{GoogleSearch: &genai.GoogleSearch{}})
	}
	if len(cfg.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(cfg.Tools))
		for _, t := range cfg.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			})
		}
		out = append(out, &genai.Tool{FunctionDeclarations: decls})
	}
	return out
}
