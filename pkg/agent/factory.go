// Package agent assembles the per-user assistant: the live model
// conversation, its callable tools, and the specialist sub-agents
// behind them.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lumenlabs/lumen/pkg/a2a"
	"github.com/lumenlabs/lumen/pkg/agent/mcp"
	"github.com/lumenlabs/lumen/pkg/agent/subagent"
	"github.com/lumenlabs/lumen/pkg/artifacts"
	"github.com/lumenlabs/lumen/pkg/memory"
	"github.com/lumenlabs/lumen/pkg/users"
)

type subAgentProfile struct {
	name        string
	description string
	instruction string
}

var subAgentProfiles = map[string]subAgentProfile{
	mcp.ServerCalendar: {
		name:        "calendar_agent",
		description: "Manages the user's Google Calendar: listing, creating, updating, and deleting events, and checking availability.",
		instruction: "You are a calendar specialist. Use the available tools to inspect and change the user's Google Calendar, then report the outcome.",
	},
	mcp.ServerTasks: {
		name:        "task_agent",
		description: "Manages the user's Todoist tasks and projects: creating, completing, updating, and listing tasks.",
		instruction: "You are a task management specialist. Use the available tools to work with the user's Todoist tasks, then report the outcome.",
	},
	mcp.ServerEmail: {
		name:        "email_agent",
		description: "Reads, searches, composes, and sends email through the user's Gmail.",
		instruction: "You are an email specialist. Use the available tools to work with the user's Gmail, then report the outcome.",
	},
}

func profileFor(server string) subAgentProfile {
	if p, ok := subAgentProfiles[server]; ok {
		return p
	}
	return subAgentProfile{
		name:        server + "_agent",
		description: fmt.Sprintf("Handles %s requests through its connected tools.", server),
		instruction: fmt.Sprintf("You are a %s specialist. Use the available tools to handle the request, then report the outcome.", server),
	}
}

// Factory builds per-user assistants from the shared service clients.
// Zero-value optional fields (Memory, Artifacts, Remotes) simply leave
// the matching tools out.
type Factory struct {
	Connect   Connector
	Generate  subagent.Generator
	MCP       *mcp.Manager
	Memory    *memory.Client
	Artifacts *artifacts.Registry
	Remotes   *a2a.Manager
	EnvFiles  *users.EnvDir
	Logger    *slog.Logger

	AppName       string
	LiveModel     string
	SubAgentModel string
	EmailModel    string
	Voice         string
}

// Assistant is one user's configured agent: a live conversation ready
// to start, backed by that user's sub-agent processes.
type Assistant struct {
	connect Connector
	config  Config
	mcp     *mcp.Manager
	clients []*mcp.Client
	logger  *slog.Logger
}

// Build spawns the user's sub-agents and assembles the tool set and
// instruction for a live conversation. Callers must Close the assistant
// to reap the sub-agent processes.
func (f *Factory) Build(ctx context.Context, userID string, audio bool) (*Assistant, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var tools []Tool
	if f.Memory != nil && f.Memory.Configured() {
		tools = append(tools, LoadMemoryTool(f.Memory, userID))
	}
	if f.Artifacts != nil {
		tools = append(tools, RegisterUploadsTool(f.Artifacts, userID), ListFilesTool(f.Artifacts, userID))
	}
	if f.Remotes != nil {
		tools = append(tools, ListAgentsTool(f.Remotes), SendToAgentTool(f.Remotes))
	}

	var clients []*mcp.Client
	if f.MCP != nil && f.Generate != nil {
		clients = f.MCP.ConnectAll(ctx, f.userEnv(userID))
		for _, cli := range clients {
			p := profileFor(cli.Server())
			sa := subagent.New(subagent.Config{
				Name:        p.name,
				Description: p.description,
				Model:       f.subAgentModel(cli.Server()),
				Instruction: p.instruction,
				Generator:   f.Generate,
				Backend:     cli,
				Logger:      logger,
			})
			tools = append(tools, SubAgentTool(sa))
		}
	}

	appName := f.AppName
	if appName == "" {
		appName = "Lumen"
	}
	instruction := Instruction(appName, userID, time.Now())
	if recalled := f.recall(ctx, userID); len(recalled) > 0 {
		instruction += "\n\n" + strings.Join(recalled, "\n")
	}
	return &Assistant{
		connect: f.Connect,
		config: Config{
			Model:       f.LiveModel,
			Voice:       f.Voice,
			Instruction: instruction,
			AudioOutput: audio,
			Search:      true,
			Tools:       tools,
		},
		mcp:     f.MCP,
		clients: clients,
		logger:  logger,
	}, nil
}

// recallQuery seeds the session-start memory lookup. Mid-conversation
// recall goes through the load_memory tool instead.
const recallQuery = "personal details, preferences, and ongoing plans"

// recall fetches remembered facts for the instruction preamble.
// Best effort: a memory outage must not block the session.
func (f *Factory) recall(ctx context.Context, userID string) []string {
	if f.Memory == nil || !f.Memory.Configured() {
		return nil
	}
	edges, err := f.Memory.SearchEdges(ctx, userID, recallQuery, 0)
	if err != nil {
		f.log().Warn("memory recall failed", "user_id", userID, "error", err)
		return nil
	}
	return memory.FactLines(edges)
}

// userEnv collects the user's stored credentials for sub-agent spawning.
// An unregistered user gets an empty set and sub-agents with no access.
func (f *Factory) userEnv(userID string) mcp.UserEnv {
	env := mcp.UserEnv{UserID: userID}
	if f.EnvFiles == nil {
		return env
	}
	env.DataDir = f.EnvFiles.Dir()
	vars, err := f.EnvFiles.Read(userID)
	if err != nil {
		if !errors.Is(err, users.ErrNotFound) {
			f.log().Warn("user env read failed", "user_id", userID, "error", err)
		}
		return env
	}
	env.Vars = vars
	return env
}

func (f *Factory) subAgentModel(server string) string {
	if server == mcp.ServerEmail {
		if f.EmailModel != "" {
			return f.EmailModel
		}
		return DefaultEmailModel
	}
	if f.SubAgentModel != "" {
		return f.SubAgentModel
	}
	return DefaultSubAgentModel
}

func (f *Factory) log() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}

// Start opens the live conversation in the mode the assistant was
// built with.
func (a *Assistant) Start(ctx context.Context) (*Conversation, error) {
	return a.StartMode(ctx, a.config.AudioOutput)
}

// StartMode opens the live conversation with an explicit response
// modality. Mode switches mid-session reconnect through here: the
// hosted API fixes the modality when the stream opens.
func (a *Assistant) StartMode(ctx context.Context, audio bool) (*Conversation, error) {
	cfg := a.config
	cfg.AudioOutput = audio
	return Start(ctx, a.connect, cfg, a.logger)
}

// ToolNames lists the tools the conversation will expose.
func (a *Assistant) ToolNames() []string {
	names := make([]string, 0, len(a.config.Tools))
	for _, t := range a.config.Tools {
		names = append(names, t.Name)
	}
	return names
}

// Close shuts down the user's sub-agent processes.
func (a *Assistant) Close() {
	if a.mcp != nil {
		a.mcp.CloseAll(a.clients)
	}
}
