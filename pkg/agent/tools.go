package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/lumenlabs/lumen/pkg/a2a"
	"github.com/lumenlabs/lumen/pkg/agent/subagent"
	"github.com/lumenlabs/lumen/pkg/artifacts"
	"github.com/lumenlabs/lumen/pkg/memory"
	"google.golang.org/genai"
)

// LoadMemoryTool searches the user's long-term graph memory.
func LoadMemoryTool(client *memory.Client, userID string) Tool {
	return Tool{
		Name:        "load_memory",
		Description: "Search the user's long-term memory for facts from earlier conversations.",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"query": {Type: genai.TypeString, Description: "What to look for, in a few words."},
			},
			Required: []string{"query"},
		},
		Run: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			query, _ := args["query"].(string)
			if strings.TrimSpace(query) == "" {
				return nil, fmt.Errorf("query is required")
			}
			edges, err := client.SearchEdges(ctx, userID, query, 0)
			if err != nil {
				return nil, err
			}
			return map[string]any{"memories": memory.FactLines(edges)}, nil
		},
	}
}

// RegisterUploadsTool moves the user's pending uploads into their
// artifact store so the conversation can reference them.
func RegisterUploadsTool(reg *artifacts.Registry, userID string) Tool {
	return Tool{
		Name:        "register_uploaded_files",
		Description: "Register files the user uploaded this session so they become available as saved artifacts. Run this before reading any newly uploaded file.",
		Run: func(ctx context.Context, _ map[string]any) (map[string]any, error) {
			regs, err := reg.RegisterUploads(ctx, userID)
			if err != nil {
				return nil, err
			}
			if len(regs) == 0 {
				return map[string]any{"registered_files": []any{}, "message": "No pending uploads."}, nil
			}
			return map[string]any{"registered_files": regs}, nil
		},
	}
}

// ListFilesTool lists the user's saved artifacts.
func ListFilesTool(reg *artifacts.Registry, userID string) Tool {
	return Tool{
		Name:        "list_user_files",
		Description: "List the files saved in the user's artifact store.",
		Run: func(ctx context.Context, _ map[string]any) (map[string]any, error) {
			names, err := reg.ListArtifacts(ctx, userID)
			if err != nil {
				return nil, err
			}
			return map[string]any{"files": names}, nil
		},
	}
}

// SubAgentTool exposes a specialist agent as a callable tool.
func SubAgentTool(sa *subagent.SubAgent) Tool {
	return Tool{
		Name:        sa.Name(),
		Description: sa.Description(),
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"request": {Type: genai.TypeString, Description: "The full request for the specialist, in natural language."},
			},
			Required: []string{"request"},
		},
		Run: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			request, _ := args["request"].(string)
			out, err := sa.Run(ctx, request)
			if err != nil {
				return nil, err
			}
			return map[string]any{"response": out}, nil
		},
	}
}

// ListAgentsTool lists the peer assistants discovered over A2A.
func ListAgentsTool(mgr *a2a.Manager) Tool {
	return Tool{
		Name:        "list_available_agents",
		Description: "List the other assistants reachable over the agent-to-agent protocol, with their skills.",
		Run: func(_ context.Context, _ map[string]any) (map[string]any, error) {
			cards := mgr.Agents()
			if len(cards) == 0 {
				return map[string]any{"agents": []any{}, "message": "No remote agents are currently available."}, nil
			}
			agents := make([]map[string]any, 0, len(cards))
			for _, card := range cards {
				skills := make([]string, 0, len(card.Skills))
				for _, s := range card.Skills {
					skills = append(skills, s.Name)
				}
				agents = append(agents, map[string]any{
					"name":        card.Name,
					"description": card.Description,
					"skills":      skills,
				})
			}
			return map[string]any{"agents": agents}, nil
		},
	}
}

// SendToAgentTool messages a peer assistant and returns its reply.
func SendToAgentTool(mgr *a2a.Manager) Tool {
	return Tool{
		Name:        "send_message_to_agent",
		Description: "Send a message to another assistant and return its reply. Use list_available_agents first to see who is reachable.",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"agent_name": {Type: genai.TypeString, Description: "Name of the agent, exactly as listed."},
				"message":    {Type: genai.TypeString, Description: "What to ask or tell the agent."},
			},
			Required: []string{"agent_name", "message"},
		},
		Run: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			agentName, _ := args["agent_name"].(string)
			message, _ := args["message"].(string)
			if strings.TrimSpace(agentName) == "" || strings.TrimSpace(message) == "" {
				return nil, fmt.Errorf("agent_name and message are required")
			}
			out, err := mgr.Send(ctx, agentName, message)
			if err != nil {
				return nil, err
			}
			if out == "" {
				return map[string]any{"response": "", "message": fmt.Sprintf("No response received from %s.", agentName)}, nil
			}
			return map[string]any{"response": out}, nil
		},
	}
}
